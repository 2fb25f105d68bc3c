package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// createFileCommand implements `create-file FILE...`: creates empty source
// files under the corpus's source/ directory, for corpora built up
// incrementally rather than imported from an existing archive.
func (a *App) createFileCommand(corpusDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create-file FILE...",
		Short: "create empty source files under source/",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.bootstrap(*corpusDir)
			if err != nil {
				return err
			}
			root := filepath.Join(rt.Paths.Corpus, "source")
			for _, name := range args {
				path := filepath.Join(root, name)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
				if err != nil {
					if os.IsExist(err) {
						printWarning("%s already exists", name)
						continue
					}
					return err
				}
				f.Close()
				printSuccess("created %s", path)
			}
			return nil
		},
	}
}
