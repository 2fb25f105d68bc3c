// Package cli implements the engine's command-line interface: every verb
// from spec.md §6, wired to the config/registry/resolve/rules/schedule
// stack via cobra, in the same App-struct-plus-command-factory shape the
// teacher's own internal/cli package uses.
package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/decisions"
	"github.com/sparv-lang/engine/pkg/registry"
)

// Log levels exported for main.go, mirroring the teacher's LogDebug/LogInfo
// constants so main doesn't need to import charmbracelet/log directly.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// version metadata, injected by main via SetVersion (ldflags at build time).
var (
	version string
	commit  string
	date    string
)

// SetVersion sets the version information displayed by --version.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
}

// App holds shared state for all commands: the logger, and any processor
// providers (compiled-in modules, plugins, custom.<file> scripts) the host
// binary wants registered. A bare `sparv` binary with no providers still
// exercises the full config/resolve/rules/schedule stack against an empty
// registry, since real annotation algorithms are out of this engine's scope.
type App struct {
	Logger    *log.Logger
	Providers []registry.Provider
}

// New creates an App with a default logger writing to w at level.
func New(w io.Writer, level log.Level) *App {
	return &App{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the app's logger level in place.
func (a *App) SetLogLevel(level log.Level) { a.Logger.SetLevel(level) }

// RootCommand builds the root cobra command with every verb registered.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "sparv",
		Short:        "sparv runs a corpus through a pipeline of annotation processors",
		Long:         `sparv resolves annotation references, compiles processors into rules, schedules them as a dependency graph, and runs them over a corpus.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("sparv %s\ncommit: %s\nbuilt: %s\n", version, commit, date))

	var corpusDir string
	root.PersistentFlags().StringVar(&corpusDir, "dir", ".", "corpus directory")

	root.AddCommand(a.runCommand(&corpusDir))
	root.AddCommand(a.runRuleCommand(&corpusDir))
	root.AddCommand(a.installCommand(&corpusDir))
	root.AddCommand(a.uninstallCommand(&corpusDir))
	root.AddCommand(a.cleanCommand(&corpusDir))
	root.AddCommand(a.configCommand(&corpusDir))
	root.AddCommand(a.filesCommand(&corpusDir))
	root.AddCommand(a.modulesCommand(&corpusDir))
	root.AddCommand(a.presetsCommand(&corpusDir))
	root.AddCommand(a.classesCommand())
	root.AddCommand(a.languagesCommand())
	root.AddCommand(a.schemaCommand(&corpusDir))
	root.AddCommand(a.setupCommand())
	root.AddCommand(a.buildModelsCommand(&corpusDir))
	root.AddCommand(a.pluginsCommand())
	root.AddCommand(a.createFileCommand(&corpusDir))
	root.AddCommand(a.preloadCommand())
	root.AddCommand(a.autocompleteCommand())

	return root
}

// runtime bundles the loaded config/paths/registry a corpus-scoped command
// needs, built once per invocation by bootstrap.
type runtime struct {
	Config   engineconfig.Tree
	Paths    pathstore.Paths
	Registry *registry.Registry
	Store    *decisions.FileStore
	Language string
	Variety  string
}

// bootstrap loads the corpus config, builds the work-directory path store,
// discovers every registered processor, and validates the config against
// the resulting schema, per §4.A-§4.B.
func (a *App) bootstrap(corpusDir string) (*runtime, error) {
	cfg, err := engineconfig.LoadCorpusConfig(corpusDir)
	if err != nil {
		return nil, err
	}
	paths, err := pathstore.New(corpusDir)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureWorkDirs(); err != nil {
		return nil, err
	}

	reg := registry.New(a.Logger)
	if err := reg.Discover(a.Providers...); err != nil {
		return nil, err
	}
	if err := engineconfig.Validate(cfg, reg.ConfigKeys()); err != nil {
		return nil, err
	}

	store, err := decisions.NewFileStore(paths.DecisionsPath())
	if err != nil {
		return nil, err
	}

	return &runtime{
		Config:   cfg,
		Paths:    paths,
		Registry: reg,
		Store:    store,
		Language: cfg.GetString("metadata.language", ""),
		Variety:  cfg.GetString("metadata.variety", ""),
	}, nil
}

// =============================================================================
// Print helpers, grounded on the teacher's internal/cli/ui.go convention of
// small format-string wrappers for consistent stdout/stderr framing.
// =============================================================================

func printSuccess(format string, args ...any) { fmt.Printf("✓ "+format+"\n", args...) }
func printInfo(format string, args ...any)    { fmt.Printf(format+"\n", args...) }
func printDetail(format string, args ...any)  { fmt.Printf("  "+format+"\n", args...) }
func printWarning(format string, args ...any) { fmt.Printf("! "+format+"\n", args...) }
