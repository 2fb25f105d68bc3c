package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
	preloadpkg "github.com/sparv-lang/engine/pkg/preload"
	"github.com/sparv-lang/engine/pkg/registry"
)

// preloadStateKey is the bindings key a preload dispatch stashes a
// processor's warm state under before calling its RunFunc, since RunFunc's
// signature (ctx, sourceFile, bindings) has no dedicated warm-state
// parameter.
const preloadStateKey = "_preload_state"

// defaultDispatcher runs a processor's RunFunc with its warm state injected
// into the bindings map under preloadStateKey.
func defaultDispatcher(ctx context.Context, d *registry.Descriptor, warm any, sourceFile string, bindings map[string]any) error {
	if d.Run == nil {
		return engineerr.ErrProcessorInvalid
	}
	merged := make(map[string]any, len(bindings)+1)
	for k, v := range bindings {
		merged[k] = v
	}
	merged[preloadStateKey] = warm
	return d.Run(ctx, sourceFile, merged)
}

func (a *App) preloadCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "preload",
		Short: "start or stop the preloader socket server",
	}

	var socketPath string
	var processes int

	start := &cobra.Command{
		Use:   "start",
		Short: "start the preloader, keeping declared processors' warm state resident",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			if err := reg.ValidatePreloaderGraph(); err != nil {
				return err
			}

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = "."
			}
			cfg, err := engineconfig.LoadCorpusConfig(dir)
			if err != nil {
				return err
			}

			srv := preloadpkg.New(socketPath, reg, cfg, defaultDispatcher, processes, a.Logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			printInfo("preloader listening on %s", socketPath)
			return srv.Serve(ctx)
		},
	}
	start.Flags().StringVar(&socketPath, "socket", "/tmp/sparv-preload.sock", "unix socket path")
	start.Flags().IntVar(&processes, "processes", 1, "worker slots per preloadable processor")

	var stopSocket string
	stop := &cobra.Command{
		Use:   "stop",
		Short: "ask a running preloader to drain and shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := preloadpkg.NewClient(stopSocket)
			if err := client.Stop(); err != nil {
				return err
			}
			printSuccess("preloader stopped")
			return nil
		},
	}
	stop.Flags().StringVar(&stopSocket, "socket", "/tmp/sparv-preload.sock", "unix socket path")

	root.AddCommand(start, stop)
	return root
}
