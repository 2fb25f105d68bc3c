package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/rules"
	"github.com/sparv-lang/engine/pkg/schedule"
)

// sourceFiles lists every regular file under the corpus's source/ directory,
// relative to that directory, matching the layout implied by spec §6's
// "source/doc.xml" example.
func sourceFiles(rt *runtime) ([]string, error) {
	root := filepath.Join(rt.Paths.Corpus, "source")
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// exportTargets reads the export.annotations config list, the default
// target set for a bare `run`/`install` with no TARGETS given.
func exportTargets(rt *runtime) []string {
	return rt.Config.GetStringSlice("export.annotations")
}

// buildTargets expands the requested annotation references against every
// source file (span/attribute references) and once at the corpus level
// (corpus-data references resolve to the same path regardless of file).
func buildTargets(res *resolve.Resolver, refs []string, files []string) ([]schedule.Target, error) {
	var targets []schedule.Target
	for _, raw := range refs {
		resolved, err := res.Expand(raw)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			targets = append(targets, schedule.Target{Ref: resolved, SourceFile: f})
		}
		targets = append(targets, schedule.Target{Ref: resolved, SourceFile: ""})
	}
	return targets, nil
}

// registryHash hashes every registered processor's ID together with its
// declared parameters (name, role, default) and config-key names, in ID
// order, so that adding, removing, renaming, or re-declaring a processor
// invalidates every content key (Open Question Decision: a registry change
// invalidates cached output).
func registryHash(reg *registry.Registry) string {
	descs := append([]*registry.Descriptor(nil), reg.All()...)
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	h := sha256.New()
	for _, d := range descs {
		h.Write([]byte(d.ID))
		h.Write([]byte{0})
		for _, p := range d.Params {
			h.Write([]byte("p:" + p.Name + "|" + p.Role.String() + "|" + p.Default))
			h.Write([]byte{0})
		}
		for _, c := range d.Config {
			h.Write([]byte("c:" + c.Name))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// customAnnotationsFromConfig parses the corpus config's custom_annotations
// list into rules.CustomAnnotation values.
func customAnnotationsFromConfig(rt *runtime) []rules.CustomAnnotation {
	raw, ok := rt.Config.Get("custom_annotations", nil)
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []rules.CustomAnnotation
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ca := rules.CustomAnnotation{}
		if v, ok := m["annotator"].(string); ok {
			ca.Annotator = v
		}
		if v, ok := m["suffix"].(string); ok {
			ca.Suffix = v
		}
		if params, ok := m["params"].(map[string]any); ok {
			ca.Params = params
		}
		out = append(out, ca)
	}
	return out
}
