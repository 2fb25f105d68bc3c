package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/procio"
	"github.com/sparv-lang/engine/pkg/registry"
)

// autocompletionCachePath is where `autocomplete` persists the target/
// config-key universe it discovered, per spec §6's "autocompletion cache
// under the data directory".
func autocompletionCachePath(dataDir string) string {
	return filepath.Join(dataDir, "autocomplete-cache.json")
}

// loadCompletionCache reads back a previously written cache for cobra's
// dynamic ValidArgsFunction callbacks. A missing or unreadable cache just
// yields no suggestions rather than failing completion outright.
func loadCompletionCache() registry.CompletionCache {
	dir, err := pathstore.DataDir()
	if err != nil {
		return registry.CompletionCache{}
	}
	raw, err := os.ReadFile(autocompletionCachePath(dir))
	if err != nil {
		return registry.CompletionCache{}
	}
	var cache registry.CompletionCache
	if err := json.Unmarshal(raw, &cache); err != nil {
		return registry.CompletionCache{}
	}
	return cache
}

// completeProcessors is registered as the ValidArgsFunction for commands
// whose positional arguments are annotation/processor references, so
// `sparv run <TAB>` suggests the cached processor universe.
func completeProcessors(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return loadCompletionCache().Processors, cobra.ShellCompDirectiveNoFileComp
}

// completeConfigKeys is registered as the ValidArgsFunction for `config`.
func completeConfigKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return loadCompletionCache().ConfigKeys, cobra.ShellCompDirectiveNoFileComp
}

// autocompleteCommand implements `autocomplete`: it refreshes the on-disk
// cache of known processor IDs and config keys that completeProcessors/
// completeConfigKeys read from, then (given a shell name) emits a shell
// completion script the same way the teacher's completion command does,
// grounded on cobra's built-in generators.
func (a *App) autocompleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "autocomplete [bash|zsh|fish|powershell]",
		Short:                 "refresh the autocompletion cache and optionally emit a shell completion script",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(a.Logger)
			if err := reg.Discover(a.Providers...); err != nil {
				return err
			}
			cache := registry.BuildCompletionCache(reg)

			dataDir, err := pathstore.DataDir()
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(cache, "", "  ")
			if err != nil {
				return err
			}
			if err := procio.PublishAtomic(autocompletionCachePath(dataDir), raw); err != nil {
				return err
			}

			if len(args) == 0 {
				printSuccess("refreshed autocompletion cache: %d processors, %d config keys", len(cache.Processors), len(cache.ConfigKeys))
				return nil
			}
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
	return cmd
}
