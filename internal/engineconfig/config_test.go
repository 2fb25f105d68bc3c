package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetDottedPath(t *testing.T) {
	tree := New(map[string]any{
		"wsd": map[string]any{"sense_model": "default"},
	})
	v, ok := tree.Get("wsd.sense_model", nil)
	if !ok || v != "default" {
		t.Fatalf("Get = (%v, %v)", v, ok)
	}
	if _, ok := tree.Get("wsd.missing", nil); ok {
		t.Fatal("expected miss")
	}
}

func TestMergeOverridesAndDeepMerges(t *testing.T) {
	base := New(map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "base",
	})
	override := New(map[string]any{
		"a": map[string]any{"x": 99},
		"b": "override",
	})
	merged := Merge(base, override)
	if v, _ := merged.Get("a.x", nil); v != 99 {
		t.Errorf("a.x = %v, want 99", v)
	}
	if v, _ := merged.Get("a.y", nil); v != 2 {
		t.Errorf("a.y = %v, want 2 (should survive merge)", v)
	}
	if v, _ := merged.Get("b", nil); v != "override" {
		t.Errorf("b = %v, want override", v)
	}
}

func TestGetForModuleInheritsFromImportExport(t *testing.T) {
	tree := New(map[string]any{
		"import": map[string]any{"encoding": "utf-8"},
		"xml_import": map[string]any{
			"skip": true,
		},
	})
	if got := tree.GetForModule("xml_import", KindImporter, "encoding", "ascii"); got != "utf-8" {
		t.Errorf("GetForModule(encoding) = %v, want inherited utf-8", got)
	}
	if got := tree.GetForModule("xml_import", KindImporter, "skip", false); got != true {
		t.Errorf("GetForModule(skip) = %v, want module override true", got)
	}
	if got := tree.GetForModule("xml_import", KindImporter, "missing", "fallback"); got != "fallback" {
		t.Errorf("GetForModule(missing) = %v, want fallback", got)
	}
}

func TestLoadCorpusConfigParentChain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base", "config.yaml"), "metadata:\n  language: swe\nexport:\n  annotations: [a, b]\n")
	writeFile(t, filepath.Join(dir, "corpus", "config.yaml"), "parent: ../base\nexport:\n  annotations: [c]\n")

	tree, err := LoadCorpusConfig(filepath.Join(dir, "corpus"))
	if err != nil {
		t.Fatalf("LoadCorpusConfig: %v", err)
	}
	if v, _ := tree.Get("metadata.language", nil); v != "swe" {
		t.Errorf("metadata.language = %v, want swe (inherited from parent)", v)
	}
	anns := tree.GetStringSlice("export.annotations")
	if len(anns) != 1 || anns[0] != "c" {
		t.Errorf("export.annotations = %v, want [c] (corpus overrides parent)", anns)
	}
}

func TestLoadCorpusConfigCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "config.yaml"), "parent: ../b\n")
	writeFile(t, filepath.Join(dir, "b", "config.yaml"), "parent: ../a\n")

	if _, err := LoadCorpusConfig(filepath.Join(dir, "a")); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestLoadCorpusConfigDiamondInheritanceIsNotACycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "d", "config.yaml"), "metadata:\n  id: d\n")
	writeFile(t, filepath.Join(dir, "b", "config.yaml"), "parent: ../d\n")
	writeFile(t, filepath.Join(dir, "c", "config.yaml"), "parent: ../d\n")
	writeFile(t, filepath.Join(dir, "a", "config.yaml"), "parent: [../b, ../c]\n")

	tree, err := LoadCorpusConfig(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatalf("expected diamond-shaped parent graph to load without a cycle error, got %v", err)
	}
	if v, ok := tree.Get("metadata.id", nil); !ok || v != "d" {
		t.Fatalf("Get(metadata.id) = (%v, %v), want d inherited via both branches", v, ok)
	}
}

func TestLoadCorpusConfigMissingParent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "corpus", "config.yaml"), "parent: ../nowhere\n")

	if _, err := LoadCorpusConfig(filepath.Join(dir, "corpus")); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestApplyPresetsAndExclusions(t *testing.T) {
	lib := PresetLibrary{
		"SWE_DEFAULT.saldo": {"<token>:saldo.sense", "not <token>:saldo.baseform"},
		"SWE_DEFAULT.base":  {"<sentence>", "SWE_DEFAULT.saldo"},
	}
	got := ApplyPresets([]string{"SWE_DEFAULT.base", "<token>:saldo.baseform"}, lib)
	// baseform should be excluded by the "not" entry even though it also
	// appears explicitly in the caller's own list.
	for _, g := range got {
		if g == "<token>:saldo.baseform" {
			t.Fatalf("excluded annotation present in expansion: %v", got)
		}
	}
	found := map[string]bool{}
	for _, g := range got {
		found[g] = true
	}
	if !found["<sentence>"] || !found["<token>:saldo.sense"] {
		t.Fatalf("expansion missing expected members: %v", got)
	}
}

func TestExpandEllipsis(t *testing.T) {
	universe := []string{"a", "b", "c"}
	got := ExpandEllipsis([]string{"a", "..."}, universe)
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected member %q", g)
		}
	}
}

func TestValidateSchema(t *testing.T) {
	schema := Schema{
		"wsd.sense_model": {Type: "string", Choices: []string{"default", "alt"}},
	}
	ok := New(map[string]any{"wsd": map[string]any{"sense_model": "default"}})
	if err := Validate(ok, schema); err != nil {
		t.Errorf("Validate(ok) = %v", err)
	}
	bad := New(map[string]any{"wsd": map[string]any{"sense_model": "nope"}})
	if err := Validate(bad, schema); err == nil {
		t.Error("Validate(bad) = nil, want error")
	}
}
