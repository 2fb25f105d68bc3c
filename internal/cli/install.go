package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/pkg/execute"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/schedule"
)

// installKind runs every installer (or uninstaller) rule matching targets,
// per §6's `install [TARGETS...]` / `uninstall [TARGETS...]` verbs. With no
// targets, every active (language-supported) rule of the given kind runs.
func (a *App) installKind(corpusDir *string, kind registry.Kind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:               use,
		Short:             short,
		ValidArgsFunction: completeProcessors,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			res, _, allRules, groups, err := a.pipeline(rt)
			if err != nil {
				return err
			}

			var targets []schedule.Target
			for _, r := range allRules {
				if !r.Active || r.Processor.Kind != kind {
					continue
				}
				if len(args) > 0 && !containsAny(args, r.Processor.ID) {
					continue
				}
				for _, out := range r.Outputs {
					targets = append(targets, schedule.Target{Ref: out})
				}
			}
			if len(targets) == 0 {
				printInfo("nothing to do")
				return nil
			}

			builder := schedule.NewBuilder(res, groups)
			graph, err := builder.Build(targets)
			if err != nil {
				return err
			}
			exec := &execute.Executor{Resolver: res}
			sched := schedule.New(graph, exec, nil, 1, a.Logger)
			sched.RegistryHash = registryHash(rt.Registry)
			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}
			printSuccess("%s complete", use)
			return nil
		},
	}
}

func (a *App) installCommand(corpusDir *string) *cobra.Command {
	return a.installKind(corpusDir, registry.KindInstaller, "install [TARGETS...]", "run installer rules, creating their marker files")
}

func (a *App) uninstallCommand(corpusDir *string) *cobra.Command {
	return a.installKind(corpusDir, registry.KindUninstaller, "uninstall [TARGETS...]", "run uninstaller rules, removing their marker files")
}

func containsAny(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func (a *App) cleanCommand(corpusDir *string) *cobra.Command {
	var all, exportOnly, logsOnly bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "delete work directory, export directory, and/or logs; always destructive, never confirms",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			removeAll := all || (!exportOnly && !logsOnly)
			if removeAll {
				if err := os.RemoveAll(rt.Paths.Work); err != nil {
					return err
				}
				printSuccess("removed %s", rt.Paths.Work)
			}
			if all || exportOnly {
				if err := os.RemoveAll(rt.Paths.Export); err != nil {
					return err
				}
				printSuccess("removed %s", rt.Paths.Export)
			}
			if all || logsOnly {
				logDir := filepath.Join(rt.Paths.Corpus, ".sparv", "logs")
				if err := os.RemoveAll(logDir); err != nil {
					return err
				}
				printSuccess("removed %s", logDir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove work, export, and logs")
	cmd.Flags().BoolVar(&exportOnly, "export", false, "remove the export directory only")
	cmd.Flags().BoolVar(&logsOnly, "logs", false, "remove logs only")
	return cmd
}
