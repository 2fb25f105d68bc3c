package cli

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/internal/tui"
	"github.com/sparv-lang/engine/pkg/execute"
	"github.com/sparv-lang/engine/pkg/preload"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/rules"
	"github.com/sparv-lang/engine/pkg/schedule"
)

// interactiveArbiter returns a terminal Arbiter when stdout is a TTY, or a
// nil *tui.Arbiter otherwise, which arbiterOrNil/ruleArbiterOrNil turn into
// nil interfaces so both pkg/resolve and pkg/rules take their
// non-interactive ClassAmbiguous/ProducerConflict failure path.
func interactiveArbiter() *tui.Arbiter {
	if fi, err := os.Stdout.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
		return tui.New()
	}
	return nil
}

// pipeline builds the resolver/compiler/scheduler stack shared by run,
// run-rule, and install/uninstall.
func (a *App) pipeline(rt *runtime) (*resolve.Resolver, *rules.Compiler, []*rules.Rule, []rules.ConflictGroup, error) {
	arb := interactiveArbiter()
	res := resolve.New(rt.Config, rt.Registry, rt.Paths, arbiterOrNil(arb), rt.Store)
	comp := rules.New(rt.Registry, res, rt.Language, rt.Variety, ruleArbiterOrNil(arb), rt.Store)
	allRules, groups, err := comp.Compile(customAnnotationsFromConfig(rt))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return res, comp, allRules, groups, nil
}

// arbiterOrNil / ruleArbiterOrNil box a possibly-nil *tui.Arbiter into the
// resolve.Arbiter / rules.Arbiter interfaces without ever boxing a non-nil
// interface value around a nil pointer's zero value.
func arbiterOrNil(a *tui.Arbiter) resolve.Arbiter {
	if a == nil {
		return nil
	}
	return a
}

func ruleArbiterOrNil(a *tui.Arbiter) rules.Arbiter {
	if a == nil {
		return nil
	}
	return a
}

func (a *App) runCommand(corpusDir *string) *cobra.Command {
	var workers int
	var socketPath string
	var forcePreloader bool
	var ignoreRegistryHash bool

	cmd := &cobra.Command{
		Use:               "run [TARGETS...]",
		Short:             "resolve, compile, and schedule TARGETS (or export.annotations) for every source file",
		ValidArgsFunction: completeProcessors,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.New().String()
			runLogger := a.Logger.With("run_id", runID)

			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			targetsRaw := args
			if len(targetsRaw) == 0 {
				targetsRaw = exportTargets(rt)
			}

			res, _, _, groups, err := a.pipeline(rt)
			if err != nil {
				return err
			}

			files, err := sourceFiles(rt)
			if err != nil {
				return err
			}
			targets, err := buildTargets(res, targetsRaw, files)
			if err != nil {
				return err
			}

			builder := schedule.NewBuilder(res, groups)
			graph, err := builder.Build(targets)
			if err != nil {
				return err
			}

			keys, err := schedule.NewFileKeyStore(rt.Paths.ContentKeyStorePath())
			if err != nil {
				return err
			}
			defer keys.Close()

			var client execute.PreloadClient
			if socketPath != "" {
				client = preload.NewClient(socketPath)
			}
			exec := &execute.Executor{
				Resolver:          res,
				Preload:           client,
				ForcePreloader:    forcePreloader,
				ConfigFingerprint: registryHash(rt.Registry),
			}

			sched := schedule.New(graph, exec, keys, workers, runLogger)
			sched.Builder = builder
			sched.RegistryHash = registryHash(rt.Registry)
			sched.IgnoreRegistryHash = ignoreRegistryHash

			runLogger.Info("run started", "targets", len(targetsRaw), "files", len(files))
			start := time.Now()
			runErr := sched.Run(cmd.Context())
			elapsed := time.Since(start)

			total := len(graph.Ordered())
			var failed, skipped, ran int
			for _, j := range graph.Ordered() {
				switch j.Status {
				case schedule.StatusDone:
					ran++
				case schedule.StatusFresh:
					skipped++
				case schedule.StatusFailed, schedule.StatusTainted:
					failed++
				}
			}
			printInfo("%d job(s): %d ran, %d skipped (fresh), %d failed (%s)", total, ran, skipped, failed, elapsed.Round(time.Millisecond))
			if runErr != nil {
				for _, j := range graph.Ordered() {
					if j.Status == schedule.StatusFailed && j.Err != nil {
						printWarning("%s: %v", j.ID, j.Err)
					}
				}
				return runErr
			}
			printSuccess("run complete")
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "jobs", "j", 4, "maximum concurrent jobs")
	cmd.Flags().StringVar(&socketPath, "socket", "", "preloader socket path")
	cmd.Flags().BoolVar(&forcePreloader, "force-preloader", false, "fail rather than fall back to local execution when the preloader refuses a job")
	cmd.Flags().BoolVar(&ignoreRegistryHash, "ignore-registry-hash", false, "don't invalidate cached output when the registry's processors or their declared parameters changed since it was produced")
	return cmd
}

func (a *App) runRuleCommand(corpusDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "run-rule TARGET...",
		Short:             "run exactly the given rule targets, bypassing export.annotations",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeProcessors,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			res, _, _, groups, err := a.pipeline(rt)
			if err != nil {
				return err
			}
			files, err := sourceFiles(rt)
			if err != nil {
				return err
			}
			targets, err := buildTargets(res, args, files)
			if err != nil {
				return err
			}
			builder := schedule.NewBuilder(res, groups)
			graph, err := builder.Build(targets)
			if err != nil {
				return err
			}
			keys, err := schedule.NewFileKeyStore(rt.Paths.ContentKeyStorePath())
			if err != nil {
				return err
			}
			defer keys.Close()
			exec := &execute.Executor{Resolver: res}
			sched := schedule.New(graph, exec, keys, 1, a.Logger)
			sched.Builder = builder
			sched.RegistryHash = registryHash(rt.Registry)
			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}
			printSuccess("run-rule complete")
			return nil
		},
	}
	return cmd
}
