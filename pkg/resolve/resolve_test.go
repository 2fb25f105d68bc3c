package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/registry"
)

func tokenDescriptor(id, module string) registry.Descriptor {
	return registry.Descriptor{
		ID:          id,
		Module:      module,
		Function:    "token",
		Kind:        registry.KindAnnotator,
		Description: "tokenizes text",
		Params: []registry.Param{
			{Name: "out", Role: registry.RoleAnnotationOutput, Default: "<token>", Cls: "token"},
		},
		Run: func(context.Context, string, map[string]any) error { return nil },
	}
}

func newTestPaths(t *testing.T) pathstore.Paths {
	t.Helper()
	p, err := pathstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExpandConfigPlaceholder(t *testing.T) {
	cfg := engineconfig.New(map[string]any{
		"wsd": map[string]any{"sense_model": "default"},
	})
	reg := registry.New(nil)
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	got, err := r.Expand("wsd.model:[wsd.sense_model]")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "wsd.model:default" {
		t.Errorf("Expand = %q", got)
	}
}

func TestExpandUndefinedConfigPlaceholderIsUnresolved(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	_, err := r.Expand("wsd.model:[wsd.sense_model]")
	if !errors.Is(err, engineerr.ErrReferenceUnresolved) {
		t.Fatalf("err = %v, want ErrReferenceUnresolved", err)
	}
}

func TestExpandClassSingleCandidate(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	if err := reg.Register(tokenDescriptor("segment:token", "segment")); err != nil {
		t.Fatal(err)
	}
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	got, err := r.Expand("<token>")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "<token>" {
		// candidateOutputRef returns the producer's own declared output,
		// which for this stub is itself "<token>" (unexpanded recursively).
		t.Errorf("Expand = %q", got)
	}
}

func TestExpandClassAmbiguousWithoutArbiterFails(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	if err := reg.Register(tokenDescriptor("segment:token", "segment")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(tokenDescriptor("stanza:token", "stanza")); err != nil {
		t.Fatal(err)
	}
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	_, err := r.Expand("<token>")
	if !errors.Is(err, engineerr.ErrClassAmbiguous) {
		t.Fatalf("err = %v, want ErrClassAmbiguous", err)
	}
}

type fakeArbiter struct{ pick string }

func (f fakeArbiter) ChooseClassProducer(class string, candidates []*registry.Descriptor) (string, error) {
	return f.pick, nil
}

type memStore struct {
	m map[string]string
}

func (s *memStore) ClassBinding(class string) (string, bool) {
	id, ok := s.m[class]
	return id, ok
}

func (s *memStore) RecordClassBinding(class, id string) error {
	if s.m == nil {
		s.m = map[string]string{}
	}
	s.m[class] = id
	return nil
}

func TestExpandClassAmbiguousResolvedByArbiterAndRemembered(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	if err := reg.Register(tokenDescriptor("segment:token", "segment")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(tokenDescriptor("stanza:token", "stanza")); err != nil {
		t.Fatal(err)
	}
	store := &memStore{}
	r := New(cfg, reg, newTestPaths(t), fakeArbiter{pick: "stanza:token"}, store)

	if _, err := r.Expand("<token>"); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if id, ok := store.ClassBinding("token"); !ok || id != "stanza:token" {
		t.Errorf("decision not recorded: %v %v", id, ok)
	}

	// A fresh resolver with no arbiter should honour the persisted decision.
	r2 := New(cfg, reg, newTestPaths(t), nil, store)
	if _, err := r2.Expand("<token>"); err != nil {
		t.Fatalf("Expand with persisted decision: %v", err)
	}
}

func TestFilePathSpanAndAttribute(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	span, err := r.FilePath("segment.token", "doc1.xml")
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	if span == "" {
		t.Error("expected non-empty span path")
	}

	attr, err := r.FilePath("segment.token:saldo.baseform", "doc1.xml")
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	if attr == span {
		t.Error("span and attribute paths must differ")
	}
}

func TestFilePathCorpusLevelHasNoSourceFile(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	got, err := r.FilePath("misc.wordlist", "")
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	if got == "" {
		t.Error("expected non-empty corpus-level path")
	}
}

func TestProducersForMatchesWildcardOutput(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	d := registry.Descriptor{
		ID:          "custom:annotate",
		Module:      "custom",
		Function:    "annotate",
		Kind:        registry.KindAnnotator,
		Description: "custom annotation by wildcard",
		Params: []registry.Param{
			{Name: "out", Role: registry.RoleAnnotationOutput, Default: "custom.{name}"},
		},
		Run: func(context.Context, string, map[string]any) error { return nil },
	}
	if err := reg.Register(d); err != nil {
		t.Fatal(err)
	}
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	matches, err := r.ProducersFor("custom.greeting")
	if err != nil {
		t.Fatalf("ProducersFor: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "custom:annotate" {
		t.Fatalf("ProducersFor = %v", matches)
	}

	none, err := r.ProducersFor("other.thing")
	if err != nil {
		t.Fatalf("ProducersFor: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("ProducersFor(other.thing) = %v, want none", none)
	}
}

func TestProducersForIsMemoized(t *testing.T) {
	cfg := engineconfig.New(map[string]any{})
	reg := registry.New(nil)
	if err := reg.Register(tokenDescriptor("segment:token", "segment")); err != nil {
		t.Fatal(err)
	}
	r := New(cfg, reg, newTestPaths(t), nil, nil)

	first, err := r.ProducersFor("<token>")
	if err != nil {
		t.Fatalf("ProducersFor: %v", err)
	}
	// Registering a new candidate after the first lookup must not change the
	// memoized answer, demonstrating the cache is actually consulted.
	if err := reg.Register(tokenDescriptor("stanza:token", "stanza")); err != nil {
		t.Fatal(err)
	}
	second, err := r.ProducersFor("<token>")
	if err != nil {
		t.Fatalf("ProducersFor: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected memoized result to be stable: first=%v second=%v", first, second)
	}
}
