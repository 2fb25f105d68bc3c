// Package engineconfig implements the path & config store described by the
// engine's design: a dotted-key configuration tree loaded from YAML (or TOML,
// as an alternative file format), merged across a parent: chain, with import/export
// section inheritance and preset expansion.
package engineconfig

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sparv-lang/engine/internal/engineerr"
)

// Tree is a dotted-path configuration tree. The zero value is an empty,
// usable tree.
type Tree struct {
	data map[string]any
}

// New wraps a raw nested map (as produced by yaml.Unmarshal into
// map[string]any) as a Tree.
func New(data map[string]any) Tree {
	if data == nil {
		data = map[string]any{}
	}
	return Tree{data: data}
}

// Raw returns the tree's backing map. Callers must not mutate it.
func (t Tree) Raw() map[string]any { return t.data }

// Get looks up a dotted key (e.g. "wsd.sense_model") and returns its value
// and true, or def and false if unset anywhere in the tree.
func (t Tree) Get(key string, def any) (any, bool) {
	v, ok := lookup(t.data, strings.Split(key, "."))
	if !ok {
		return def, false
	}
	return v, true
}

// GetString is Get specialised to a string result via fmt.Sprint.
func (t Tree) GetString(key, def string) string {
	v, ok := t.Get(key, nil)
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// GetBool is Get specialised to a boolean result.
func (t Tree) GetBool(key string, def bool) bool {
	v, ok := t.Get(key, nil)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetStringSlice is Get specialised to a []string result, accepting YAML
// sequences of scalars.
func (t Tree) GetStringSlice(key string) []string {
	v, ok := t.Get(key, nil)
	if !ok {
		return nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(seq))
	for _, e := range seq {
		out = append(out, fmt.Sprint(e))
	}
	return out
}

func lookup(m map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	v, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(sub, parts[1:])
}

// ModuleKind distinguishes importer/exporter module sections for the
// import./export. inheritance rule.
type ModuleKind int

const (
	// KindOther means neither import nor export inheritance applies.
	KindOther ModuleKind = iota
	// KindImporter inherits unset keys from the top-level import section.
	KindImporter
	// KindExporter inherits unset keys from the top-level export section.
	KindExporter
)

// GetForModule looks up "<module>.<key>", falling back to "import.<key>" or
// "export.<key>" (per kind) when the module hasn't overridden it, then to
// def. This implements the §4.A inheritance rule: "import and export
// sections additionally serve as inheritance roots: keys under those
// sections are inherited by every importer/exporter module's own section
// when not explicitly overridden."
func (t Tree) GetForModule(module string, kind ModuleKind, key string, def any) any {
	if v, ok := t.Get(module+"."+key, nil); ok {
		return v
	}
	switch kind {
	case KindImporter:
		if v, ok := t.Get("import."+key, nil); ok {
			return v
		}
	case KindExporter:
		if v, ok := t.Get("export."+key, nil); ok {
			return v
		}
	}
	return def
}

// Merge deep-merges override on top of base: for any dotted key present in
// both, override wins; nested maps are merged recursively rather than
// replaced wholesale. Neither argument is mutated.
func Merge(base, override Tree) Tree {
	return Tree{data: mergeMaps(base.data, override.data)}
}

func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	for k, ov := range override {
		if bv, ok := out[k]; ok {
			bm, bok := bv.(map[string]any)
			om, ook := ov.(map[string]any)
			if bok && ook {
				out[k] = mergeMaps(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}

// LoadFile parses a single YAML (or, for a .toml extension, TOML) config
// file into a Tree without following its parent chain.
func LoadFile(path string) (Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tree{}, fmt.Errorf("%w: read %s: %v", engineerr.ErrConfigNotFound, path, err)
	}
	data := map[string]any{}
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(raw, &data); err != nil {
			return Tree{}, fmt.Errorf("%w: parse %s: %v", engineerr.ErrConfigInvalid, path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return Tree{}, fmt.Errorf("%w: parse %s: %v", engineerr.ErrConfigInvalid, path, err)
		}
	}
	return normalizeYAMLMaps(data), nil
}

// normalizeYAMLMaps recursively converts map[any]any / map[string]interface{}
// nesting produced by yaml.v3 into map[string]any so dotted lookups work
// uniformly regardless of source format.
func normalizeYAMLMaps(v any) Tree {
	return Tree{data: normalizeMap(v)}
}

func normalizeMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return normalizeMap(x)
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// LoadCorpusConfig loads the config file at root/config.yaml (or config.toml)
// and walks its parent: chain depth-first, merging so later parents override
// earlier ones and the corpus's own config overrides everything. It fails
// with ErrConfigCycle if the parent graph cycles and ErrConfigNotFound if a
// referenced parent is missing.
func LoadCorpusConfig(root string) (Tree, error) {
	path, err := corpusConfigPath(root)
	if err != nil {
		return Tree{}, err
	}
	return loadChain(path, map[string]bool{})
}

func corpusConfigPath(root string) (string, error) {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no config.yaml in %s", engineerr.ErrConfigNotFound, root)
}

func loadChain(path string, visiting map[string]bool) (Tree, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Tree{}, err
	}
	if visiting[abs] {
		return Tree{}, fmt.Errorf("%w: %s", engineerr.ErrConfigCycle, abs)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	own, err := LoadFile(abs)
	if err != nil {
		return Tree{}, err
	}

	merged := Tree{data: map[string]any{}}
	for _, parentRef := range parentRefs(own) {
		parentPath := resolveParentPath(filepath.Dir(abs), parentRef)
		parentTree, err := loadChain(parentPath, visiting)
		if err != nil {
			return Tree{}, err
		}
		merged = Merge(merged, parentTree)
	}
	return Merge(merged, own), nil
}

func parentRefs(t Tree) []string {
	v, ok := t.Get("parent", nil)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return nil
	}
}

func resolveParentPath(dir, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	if filepath.Ext(ref) == "" {
		return filepath.Join(dir, ref, "config.yaml")
	}
	return filepath.Join(dir, ref)
}
