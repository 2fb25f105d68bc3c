package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sparv-lang/engine/internal/pathstore"
)

func newTestPaths(t *testing.T) pathstore.Paths {
	t.Helper()
	p, err := pathstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPluginManifestRoundTrip(t *testing.T) {
	paths := newTestPaths(t)

	entries, err := loadPluginManifest(paths)
	if err != nil {
		t.Fatalf("loadPluginManifest on missing file: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for a missing manifest, got %v", entries)
	}

	want := []pluginEntry{{Name: "sbx_lexicon", Path: filepath.Join(paths.Data, "plugins", "sbx_lexicon")}}
	if err := savePluginManifest(paths, want); err != nil {
		t.Fatalf("savePluginManifest: %v", err)
	}

	got, err := loadPluginManifest(paths)
	if err != nil {
		t.Fatalf("loadPluginManifest: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("loadPluginManifest = %+v, want %+v", got, want)
	}
}

func TestFilterPluginsExcludesByName(t *testing.T) {
	entries := []pluginEntry{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got := filterPlugins(entries, "b")
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Fatalf("filterPlugins = %+v", got)
	}
}

func TestFilterPluginsDoesNotMutateInput(t *testing.T) {
	entries := []pluginEntry{{Name: "a"}, {Name: "b"}}
	_ = filterPlugins(entries, "a")
	if entries[0].Name != "a" || entries[1].Name != "b" {
		t.Fatalf("filterPlugins mutated its input: %+v", entries)
	}
}

func TestCopyTreeCopiesNestedFiles(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "top.py"), []byte("top"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.py"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copyTree: %v", err)
	}

	top, err := os.ReadFile(filepath.Join(dst, "top.py"))
	if err != nil || string(top) != "top" {
		t.Fatalf("top.py = %q, %v", top, err)
	}
	nested, err := os.ReadFile(filepath.Join(dst, "sub", "nested.py"))
	if err != nil || string(nested) != "nested" {
		t.Fatalf("sub/nested.py = %q, %v", nested, err)
	}
}
