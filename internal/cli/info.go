package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/rules"
)

// writeRuleGraph bootstraps a corpus, compiles its rule set, and writes the
// producer/dependency DAG as an SVG file at path.
func (a *App) writeRuleGraph(corpusDir, path string) error {
	rt, err := a.bootstrap(corpusDir)
	if err != nil {
		return err
	}
	_, _, allRules, _, err := a.pipeline(rt)
	if err != nil {
		return err
	}
	dot := rules.ToDOT(allRules)
	svg, err := rules.RenderSVG(dot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, svg, 0o644); err != nil {
		return err
	}
	printSuccess("wrote rule graph to %s", path)
	return nil
}

// configCommand implements `config [KEY]`: prints the full effective config
// tree, or one dotted key's value.
func (a *App) configCommand(corpusDir *string) *cobra.Command {
	return &cobra.Command{
		Use:               "config [KEY]",
		Short:             "print the corpus's effective configuration, or one key",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeConfigKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				out, err := yaml.Marshal(rt.Config.Raw())
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			}
			v, ok := rt.Config.Get(args[0], nil)
			if !ok {
				printWarning("%s is unset", args[0])
				return nil
			}
			out, err := yaml.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

// filesCommand implements `files`: lists source files under the corpus.
func (a *App) filesCommand(corpusDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "list the corpus's source files",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			files, err := sourceFiles(rt)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				printInfo("no source files under %s/source", rt.Paths.Corpus)
				return nil
			}
			for _, f := range files {
				printInfo("%s", f)
			}
			return nil
		},
	}
}

// modulesCommand implements `modules [--annotators|--importers|--exporters]
// [--graph PATH]`. The --graph form compiles the corpus's rule set (so it
// needs --dir to find a config) and renders the producer/dependency DAG to
// an SVG file instead of listing processors.
func (a *App) modulesCommand(corpusDir *string) *cobra.Command {
	var annotators, importers, exporters bool
	var graphPath string
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "list registered processors, grouped by module",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath != "" {
				return a.writeRuleGraph(*corpusDir, graphPath)
			}
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			want := func(k registry.Kind) bool {
				if !annotators && !importers && !exporters {
					return true
				}
				switch k {
				case registry.KindAnnotator:
					return annotators
				case registry.KindImporter:
					return importers
				case registry.KindExporter:
					return exporters
				default:
					return false
				}
			}
			all := reg.All()
			sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
			for _, d := range all {
				if !want(d.Kind) {
					continue
				}
				printInfo("%-30s %-12s %s", d.ID, d.Kind, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&annotators, "annotators", false, "list annotators only")
	cmd.Flags().BoolVar(&importers, "importers", false, "list importers only")
	cmd.Flags().BoolVar(&exporters, "exporters", false, "list exporters only")
	cmd.Flags().StringVar(&graphPath, "graph", "", "render the compiled rule DAG to this SVG path instead of listing processors")
	return cmd
}

// presetsCommand implements `presets`: lists preset identifiers declared
// under the corpus config's `presets` key, each mapping to a literal
// annotation reference list per pkg/engineconfig's PresetLibrary shape.
func (a *App) presetsCommand(corpusDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list configured annotation presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			lib := presetLibraryFromConfig(rt.Config)
			if len(lib) == 0 {
				printInfo("no presets declared")
				return nil
			}
			names := make([]string, 0, len(lib))
			for name := range lib {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				printInfo("%-30s %v", name, lib[name])
			}
			return nil
		},
	}
}

func presetLibraryFromConfig(cfg engineconfig.Tree) engineconfig.PresetLibrary {
	raw, ok := cfg.Get("presets", nil)
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	lib := engineconfig.PresetLibrary{}
	for name, v := range m {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		items := make([]string, 0, len(list))
		for _, item := range list {
			items = append(items, fmt.Sprint(item))
		}
		lib[name] = items
	}
	return lib
}

// classesCommand implements `classes`: lists every class tag registered
// processors declare as a canonical producer for, and its bound reference.
func (a *App) classesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "list registered annotation classes and their canonical producers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			classes := map[string][]string{}
			for _, d := range reg.All() {
				for _, out := range d.Outputs() {
					if out.Cls == "" {
						continue
					}
					classes[out.Cls] = append(classes[out.Cls], d.ID)
				}
			}
			names := make([]string, 0, len(classes))
			for c := range classes {
				names = append(names, c)
			}
			sort.Strings(names)
			for _, c := range names {
				printInfo("%-20s %v", c, classes[c])
			}
			return nil
		},
	}
}

// languagesCommand implements `languages`: lists every language code any
// registered processor declares support for.
func (a *App) languagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "list languages any registered processor supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			seen := map[string]bool{}
			for _, d := range reg.All() {
				for _, l := range d.Language {
					seen[l] = true
				}
			}
			langs := make([]string, 0, len(seen))
			for l := range seen {
				langs = append(langs, l)
			}
			sort.Strings(langs)
			if len(langs) == 0 {
				printInfo("no processor declares a language restriction (all support every language)")
				return nil
			}
			for _, l := range langs {
				printInfo("%s", l)
			}
			return nil
		},
	}
}

// schemaCommand implements `schema [--graph PATH]`: emits the merged
// configuration schema (every processor's config declarations) as JSON, or
// the compiled rule DAG as SVG.
func (a *App) schemaCommand(corpusDir *string) *cobra.Command {
	var graphPath string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "print the merged configuration key schema as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphPath != "" {
				return a.writeRuleGraph(*corpusDir, graphPath)
			}
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			doc := reg.ConfigKeys().GenerateDocument()
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "render the compiled rule DAG to this SVG path instead of printing the schema")
	return cmd
}
