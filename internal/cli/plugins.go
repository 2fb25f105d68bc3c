package cli

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/procio"
)

// pluginEntry records one installed plugin's metadata. A plugin contributes
// processor descriptors the way a corpus's custom.<file> script does, but
// since Go cannot dynamically load arbitrary code the way the original
// implementation's Python package plugins do, installation here manages the
// plugin's source tree and manifest only; wiring its descriptors into the
// registry requires recompiling the host binary with the plugin's provider
// linked in (see DESIGN.md).
type pluginEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

func pluginsManifestPath(data pathstore.Paths) string {
	return filepath.Join(data.Data, "plugins", "manifest.yaml")
}

func loadPluginManifest(data pathstore.Paths) ([]pluginEntry, error) {
	path := pluginsManifestPath(data)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []pluginEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func savePluginManifest(data pathstore.Paths, entries []pluginEntry) error {
	out, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return procio.PublishAtomic(pluginsManifestPath(data), out)
}

func (a *App) pluginsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "plugins",
		Short: "install, uninstall, and list plugin source trees",
	}
	root.AddCommand(&cobra.Command{
		Use:   "install SOURCE_DIR",
		Short: "copy a plugin's source tree into the data directory's plugins/ subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := pathstore.New(".")
			if err != nil {
				return err
			}
			name := filepath.Base(filepath.Clean(args[0]))
			dest := filepath.Join(paths.Data, "plugins", name)
			if err := copyTree(args[0], dest); err != nil {
				return err
			}
			entries, err := loadPluginManifest(paths)
			if err != nil {
				return err
			}
			entries = append(filterPlugins(entries, name), pluginEntry{Name: name, Path: dest})
			if err := savePluginManifest(paths, entries); err != nil {
				return err
			}
			printSuccess("installed plugin %q at %s", name, dest)
			printWarning("recompile the host binary with this plugin's provider linked in before its processors are usable")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "uninstall NAME",
		Short: "remove a plugin's source tree and manifest entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := pathstore.New(".")
			if err != nil {
				return err
			}
			entries, err := loadPluginManifest(paths)
			if err != nil {
				return err
			}
			var removed bool
			for _, e := range entries {
				if e.Name == args[0] {
					if err := os.RemoveAll(e.Path); err != nil {
						return err
					}
					removed = true
				}
			}
			if !removed {
				printWarning("no plugin named %q installed", args[0])
				return nil
			}
			if err := savePluginManifest(paths, filterPlugins(entries, args[0])); err != nil {
				return err
			}
			printSuccess("uninstalled plugin %q", args[0])
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := pathstore.New(".")
			if err != nil {
				return err
			}
			entries, err := loadPluginManifest(paths)
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
			if len(entries) == 0 {
				printInfo("no plugins installed")
				return nil
			}
			for _, e := range entries {
				printInfo("%-20s %s", e.Name, e.Path)
			}
			return nil
		},
	})
	return root
}

func filterPlugins(entries []pluginEntry, exclude string) []pluginEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Name != exclude {
			out = append(out, e)
		}
	}
	return out
}

// copyTree recursively copies src into dst, grounded on the atomic-publish
// discipline the rest of the engine uses for on-disk writes.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return procio.PublishAtomic(target, content)
	})
}
