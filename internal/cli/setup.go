package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/execute"
	"github.com/sparv-lang/engine/pkg/procio"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/schedule"
)

// runHealthCheck performs the startup sanity check original_source's
// health_check.py runs before a pipeline invocation: the data directory is
// writable, the socket directory is reachable, and every RoleBinary
// parameter any registered processor declares resolves on PATH.
func (a *App) runHealthCheck(paths pathstore.Paths) error {
	ok := true

	probe := filepath.Join(paths.Data, ".health-check-probe")
	if err := os.MkdirAll(paths.Data, 0o755); err != nil {
		printWarning("data directory %s: %v", paths.Data, err)
		ok = false
	} else if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		printWarning("data directory %s is not writable: %v", paths.Data, err)
		ok = false
	} else {
		os.Remove(probe)
		printSuccess("data directory %s is writable", paths.Data)
	}

	const defaultSocketDir = "/tmp"
	if _, err := os.Stat(defaultSocketDir); err != nil {
		printWarning("preloader socket directory %s is not reachable: %v", defaultSocketDir, err)
		ok = false
	} else {
		printSuccess("preloader socket directory %s is reachable", defaultSocketDir)
	}

	reg := registry.New(a.Logger)
	if err := reg.Discover(a.Providers...); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, d := range reg.All() {
		for _, p := range d.Params {
			if p.Role != registry.RoleBinary || p.Default == "" || seen[p.Default] {
				continue
			}
			seen[p.Default] = true
			if path, err := procio.LookupBinary(p.Default); err != nil {
				printWarning("%s: not found on PATH (required by %s)", p.Default, d.ID)
				ok = false
			} else {
				printSuccess("%s found at %s", p.Default, path)
			}
		}
	}

	if !ok {
		printWarning("health check found problems")
		return nil
	}
	printSuccess("health check passed")
	return nil
}

// setupCommand implements `setup [--dir PATH] [--reset] [--check]`:
// scaffolds a fresh corpus directory (source/, config.yaml, .sparv/),
// resets an existing one's persisted state, or runs a startup sanity check.
func (a *App) setupCommand() *cobra.Command {
	var dir string
	var reset bool
	var check bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "scaffold a corpus directory, reset its persisted state, or run a health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = "."
			}
			paths, err := pathstore.New(dir)
			if err != nil {
				return err
			}
			if check {
				return a.runHealthCheck(paths)
			}
			if reset {
				if err := os.RemoveAll(filepath.Join(paths.Corpus, ".sparv")); err != nil {
					return err
				}
				if err := os.RemoveAll(paths.Work); err != nil {
					return err
				}
				printSuccess("reset persisted state under %s", paths.Corpus)
				return nil
			}
			if err := os.MkdirAll(filepath.Join(paths.Corpus, "source"), 0o755); err != nil {
				return err
			}
			if err := paths.EnsureWorkDirs(); err != nil {
				return err
			}
			configPath := filepath.Join(paths.Corpus, "config.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				const scaffold = "metadata:\n  id: my-corpus\n  language: swe\n\nimport:\n  importer: xml_import:parse\n\nexport:\n  annotations:\n    - <sentence>\n    - <token>\n"
				if err := os.WriteFile(configPath, []byte(scaffold), 0o644); err != nil {
					return err
				}
				printSuccess("wrote %s", configPath)
			}
			printSuccess("corpus scaffolded at %s", paths.Corpus)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "corpus directory to scaffold (default: current directory)")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete persisted decisions and work state instead of scaffolding")
	cmd.Flags().BoolVar(&check, "check", false, "run a startup health check instead of scaffolding")
	return cmd
}

// buildModelsCommand implements `build-models [--all] [--language LANG]`:
// runs modelbuilder rules, optionally filtered to one language.
func (a *App) buildModelsCommand(corpusDir *string) *cobra.Command {
	var all bool
	var language string
	cmd := &cobra.Command{
		Use:   "build-models",
		Short: "run modelbuilder rules to fetch or build language models",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			if language != "" {
				rt.Language = language
			}
			res, _, allRules, groups, err := a.pipeline(rt)
			if err != nil {
				return err
			}

			var targets []schedule.Target
			for _, r := range allRules {
				if r.Processor.Kind != registry.KindModelbuilder {
					continue
				}
				if !all && !r.Active {
					continue
				}
				for _, out := range r.Outputs {
					targets = append(targets, schedule.Target{Ref: out})
				}
			}
			if len(targets) == 0 {
				printInfo("no modelbuilder rules to run")
				return nil
			}
			builder := schedule.NewBuilder(res, groups)
			graph, err := builder.Build(targets)
			if err != nil {
				return err
			}
			exec := &execute.Executor{Resolver: res}
			sched := schedule.New(graph, exec, nil, 2, a.Logger)
			sched.RegistryHash = registryHash(rt.Registry)
			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}
			printSuccess("build-models complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "build models for every language, not just the corpus's own")
	cmd.Flags().StringVar(&language, "language", "", "restrict to one language code")
	return cmd
}
