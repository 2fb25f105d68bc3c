package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/rules"
)

func newFixture(t *testing.T) (*registry.Registry, *resolve.Resolver) {
	t.Helper()
	reg := registry.New(nil)
	paths, err := pathstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res := resolve.New(engineconfig.New(nil), reg, paths, nil, nil)
	return reg, res
}

func importer(id, output string) registry.Descriptor {
	return registry.Descriptor{
		ID:          id,
		Module:      "xml_import",
		Function:    "parse",
		Kind:        registry.KindImporter,
		Description: "imports source text",
		Params: []registry.Param{
			{Name: "out", Role: registry.RoleAnnotationOutput, Default: output},
			{Name: "file", Role: registry.RoleSourceFile},
		},
		Run: func(context.Context, string, map[string]any) error { return nil },
	}
}

func annotator(id, output, input string) registry.Descriptor {
	return registry.Descriptor{
		ID:          id,
		Module:      "segment",
		Function:    "token",
		Kind:        registry.KindAnnotator,
		Description: "splits text into tokens",
		Params: []registry.Param{
			{Name: "in", Role: registry.RoleAnnotationInput, Default: input},
			{Name: "out", Role: registry.RoleAnnotationOutput, Default: output},
			{Name: "file", Role: registry.RoleSourceFile},
		},
		Run: func(context.Context, string, map[string]any) error { return nil },
	}
}

func twoInputAnnotator(id, output, inputA, inputB string) registry.Descriptor {
	return registry.Descriptor{
		ID:          id,
		Module:      "combine",
		Function:    "merge",
		Kind:        registry.KindAnnotator,
		Description: "merges two annotations",
		Params: []registry.Param{
			{Name: "a", Role: registry.RoleAnnotationInput, Default: inputA},
			{Name: "b", Role: registry.RoleAnnotationInput, Default: inputB},
			{Name: "out", Role: registry.RoleAnnotationOutput, Default: output},
			{Name: "file", Role: registry.RoleSourceFile},
		},
		Run: func(context.Context, string, map[string]any) error { return nil },
	}
}

// recordingExecutor runs jobs by calling a caller-supplied function keyed by
// rule ID, recording execution order, and never reports staleness so every
// job actually executes.
type recordingExecutor struct {
	mu    sync.Mutex
	order []string
	fail  map[string]int // rule ID -> number of remaining failures before success
}

func (e *recordingExecutor) Execute(_ context.Context, job *Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append(e.order, job.Rule.ID)
	if n := e.fail[job.Rule.ID]; n > 0 {
		e.fail[job.Rule.ID] = n - 1
		return errors.New("simulated failure")
	}
	return nil
}

func (e *recordingExecutor) ContentKey(job *Job) (ContentKeyInputs, error) {
	return ContentKeyInputs{RuleID: job.Rule.ID}, nil
}

func (e *recordingExecutor) OutputFresh(*Job) (bool, error) { return false, nil }

func compile(t *testing.T, reg *registry.Registry, res *resolve.Resolver) []rules.ConflictGroup {
	t.Helper()
	c := rules.New(reg, res, "swe", "", nil, nil)
	_, groups, err := c.Compile(nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return groups
}

func TestBuildAndRunSimpleChain(t *testing.T) {
	reg, res := newFixture(t)
	if err := reg.Register(importer("xml_import:parse", "text")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(annotator("segment:token", "segment.token", "text")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "segment.token", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.Jobs) != 2 {
		t.Fatalf("Jobs = %v", jobIDs(g))
	}

	exec := &recordingExecutor{fail: map[string]int{}}
	s := New(g, exec, nil, 2, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(exec.order) != 2 || exec.order[0] != "xml_import:parse" || exec.order[1] != "segment:token" {
		t.Fatalf("execution order = %v, want importer before annotator", exec.order)
	}
	for _, j := range g.Jobs {
		if j.Status != StatusDone {
			t.Errorf("job %s status = %v, want done", j.ID, j.Status)
		}
	}
}

func TestRunFallsBackToBackoffProducerOnFailure(t *testing.T) {
	reg, res := newFixture(t)
	preferred := 1
	backoff := 2
	if err := reg.Register(func() registry.Descriptor {
		d := annotator("segment:token", "segment.token", "text")
		d.Order = &preferred
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(func() registry.Descriptor {
		d := annotator("stanza:token", "segment.token", "text")
		d.Order = &backoff
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("xml_import:parse", "text")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "segment.token", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := &recordingExecutor{fail: map[string]int{"segment:token": 1}}
	s := New(g, exec, nil, 1, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, r := range exec.order {
		if r == "stanza:token" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected backoff producer to run after preferred failure, order = %v", exec.order)
	}
}

func TestBuildFallsBackToBackoffProducerWhenPreferredInputMissing(t *testing.T) {
	reg, res := newFixture(t)
	preferred := 1
	backoff := 2
	if err := reg.Register(func() registry.Descriptor {
		// The preferred producer wants "text", which has no producer at all.
		d := annotator("segment:token", "segment.token", "text")
		d.Order = &preferred
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(func() registry.Descriptor {
		// The backoff producer wants "raw.text" instead, which does have a
		// producer, so this branch is the only satisfiable one.
		d := annotator("stanza:token", "segment.token", "raw.text")
		d.Order = &backoff
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("raw:import", "raw.text")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "segment.token", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v, want the backoff producer's inputs to satisfy the graph", err)
	}

	tokenJob := g.Jobs[jobID("segment.token", "doc1.xml")]
	if tokenJob == nil {
		t.Fatal("segment.token job not built")
	}
	if tokenJob.Rule.ID != "stanza:token" {
		t.Errorf("Rule = %s, want stanza:token (the only producer with a satisfiable input)", tokenJob.Rule.ID)
	}
	if _, ok := g.Jobs[jobID("text", "doc1.xml")]; ok {
		t.Error("did not expect a job for the unsatisfiable input \"text\"")
	}
	if _, ok := g.Jobs[jobID("raw.text", "doc1.xml")]; !ok {
		t.Error("expected the backoff producer's own input \"raw.text\" to be wired")
	}
}

func TestRunWiresBackoffProducersOwnInputsAtRuntime(t *testing.T) {
	reg, res := newFixture(t)
	preferred := 1
	backoff := 2
	if err := reg.Register(func() registry.Descriptor {
		d := annotator("segment:token", "segment.token", "a.out")
		d.Order = &preferred
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(func() registry.Descriptor {
		// The backoff producer depends on a wholly different input than the
		// preferred producer, which must be wired in at runtime once the
		// preferred producer fails.
		d := annotator("stanza:token", "segment.token", "b.out")
		d.Order = &backoff
		return d
	}()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("a:import", "a.out")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("b:import", "b.out")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "segment.token", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := g.Jobs[jobID("b.out", "doc1.xml")]; ok {
		t.Fatal("did not expect b.out to be wired up front; it belongs to the backoff producer only")
	}

	exec := &recordingExecutor{fail: map[string]int{"segment:token": 1}}
	s := New(g, exec, nil, 1, nil)
	s.Builder = b
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bJob := g.Jobs[jobID("b.out", "doc1.xml")]
	if bJob == nil {
		t.Fatal("expected the backoff producer's own input b.out to have been wired and run")
	}
	if bJob.Status != StatusDone {
		t.Errorf("b.out status = %v, want done", bJob.Status)
	}
	tokenJob := g.Jobs[jobID("segment.token", "doc1.xml")]
	if tokenJob.Rule.ID != "stanza:token" {
		t.Errorf("Rule = %s, want stanza:token", tokenJob.Rule.ID)
	}
	if tokenJob.Status != StatusDone {
		t.Errorf("segment.token status = %v, want done", tokenJob.Status)
	}
}

func TestRunTaintsDownstreamOnPermanentFailure(t *testing.T) {
	reg, res := newFixture(t)
	if err := reg.Register(importer("xml_import:parse", "text")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(annotator("segment:token", "segment.token", "text")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "segment.token", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exec := &recordingExecutor{fail: map[string]int{"xml_import:parse": 999}}
	s := New(g, exec, nil, 1, nil)
	err = s.Run(context.Background())
	if !errors.Is(err, engineerr.ErrRuleFailed) {
		t.Fatalf("err = %v, want ErrRuleFailed", err)
	}

	tokenJob := g.Jobs[jobID("segment.token", "doc1.xml")]
	if tokenJob.Status != StatusTainted {
		t.Errorf("dependent job status = %v, want tainted", tokenJob.Status)
	}
}

func TestRunTaintsSharedDependentExactlyOnceInDiamondFailure(t *testing.T) {
	reg, res := newFixture(t)
	if err := reg.Register(importer("a:import", "a.out")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("b:import", "b.out")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(twoInputAnnotator("combine:merge", "combined.out", "a.out", "b.out")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(importer("c:import", "c.out")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)

	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{
		{Ref: "combined.out", SourceFile: "doc1.xml"},
		{Ref: "c.out", SourceFile: "doc1.xml"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// a:import and b:import fail permanently and share one dependent
	// (combine:merge); c:import is an unrelated, independent branch that
	// must still run to completion rather than being starved by a
	// double-counted taint of the shared dependent.
	exec := &recordingExecutor{fail: map[string]int{"a:import": 999, "b:import": 999}}
	s := New(g, exec, nil, 2, nil)
	err = s.Run(context.Background())
	if !errors.Is(err, engineerr.ErrRuleFailed) {
		t.Fatalf("err = %v, want ErrRuleFailed", err)
	}

	combineJob := g.Jobs[jobID("combined.out", "doc1.xml")]
	if combineJob.Status != StatusTainted {
		t.Errorf("combine job status = %v, want tainted", combineJob.Status)
	}
	cJob := g.Jobs[jobID("c.out", "doc1.xml")]
	if cJob.Status != StatusDone {
		t.Errorf("independent job status = %v, want done", cJob.Status)
	}
	if s.remaining != 0 {
		t.Errorf("remaining = %d, want 0 (each dependent tainted exactly once)", s.remaining)
	}
}

func TestFreshJobIsSkipped(t *testing.T) {
	reg, res := newFixture(t)
	if err := reg.Register(importer("xml_import:parse", "text")); err != nil {
		t.Fatal(err)
	}
	groups := compile(t, reg, res)
	b := NewBuilder(res, groups)
	g, err := b.Build([]Target{{Ref: "text", SourceFile: "doc1.xml"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store, err := NewFileKeyStore(t.TempDir() + "/keys.json")
	if err != nil {
		t.Fatal(err)
	}
	job := g.Jobs[jobID("text", "doc1.xml")]
	key := ComputeContentKey(ContentKeyInputs{RuleID: job.Rule.ID})
	if err := store.Set(context.Background(), job.ID, key); err != nil {
		t.Fatal(err)
	}

	exec := &freshExecutor{key: key}
	s := New(g, exec, store, 1, nil)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusFresh {
		t.Errorf("status = %v, want fresh", job.Status)
	}
	if exec.executed {
		t.Error("expected fresh job not to be re-executed")
	}
}

type freshExecutor struct {
	key      string
	executed bool
}

func (e *freshExecutor) Execute(context.Context, *Job) error {
	e.executed = true
	return nil
}

func (e *freshExecutor) ContentKey(job *Job) (ContentKeyInputs, error) {
	return ContentKeyInputs{RuleID: job.Rule.ID}, nil
}

func (e *freshExecutor) OutputFresh(*Job) (bool, error) { return true, nil }

func jobIDs(g *Graph) []string {
	out := make([]string, 0, len(g.Jobs))
	for id := range g.Jobs {
		out = append(out, id)
	}
	return out
}
