// Package pathstore owns the identities of the four directories the engine
// operates on: data, corpus, work, and export. It resolves them the way the
// teacher's CLI resolves its XDG cache directory, with an engine-specific
// environment override.
package pathstore

import (
	"os"
	"path/filepath"
)

// appName names the directory used under the user's data/cache home.
const appName = "sparv"

// EnvDataDir overrides the configured data directory when set.
const EnvDataDir = "ENGINE_DATADIR"

// Paths holds the four canonical directories for one engine invocation.
type Paths struct {
	Data   string // models, default configs
	Corpus string // current working corpus
	Work   string // intermediate artifacts
	Export string // export directory
}

// New resolves the four canonical directories for a corpus rooted at
// corpusRoot. Work and Export are always subdirectories of the corpus root;
// Data defaults to the XDG data directory unless ENGINE_DATADIR is set.
func New(corpusRoot string) (Paths, error) {
	abs, err := filepath.Abs(corpusRoot)
	if err != nil {
		return Paths{}, err
	}
	data, err := DataDir()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Data:   data,
		Corpus: abs,
		Work:   filepath.Join(abs, "sparv-workdir"),
		Export: filepath.Join(abs, "export"),
	}, nil
}

// DataDir returns the engine's data directory, honouring ENGINE_DATADIR
// first, then the XDG data home, then the user's home directory.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// CacheDir returns the engine's cache directory, honouring XDG_CACHE_HOME.
// The content-key store and the autocompletion cache are not kept here: they
// live under the work directory and the data directory respectively.
func CacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// BinPath returns the data directory's bin/ subtree, consulted after PATH
// when locating external language tools.
func (p Paths) BinPath() string { return filepath.Join(p.Data, "bin") }

// SpanPath returns the on-disk path for a span reference's offset file:
// work/<file>/<module.base>/_span.
func (p Paths) SpanPath(sourceFile, module, base string) string {
	return filepath.Join(p.Work, sourceFile, module+"."+base, "_span")
}

// AttrPath returns the on-disk path for an attribute reference's data file:
// work/<file>/<module.base>/<module2.attr>.
func (p Paths) AttrPath(sourceFile, module, base, attrModule, attr string) string {
	return filepath.Join(p.Work, sourceFile, module+"."+base, attrModule+"."+attr)
}

// CorpusDataPath returns the on-disk path for a corpus-level (no <file>
// segment) opaque reference: work/<corpus-data-ref>.
func (p Paths) CorpusDataPath(module, base string) string {
	return filepath.Join(p.Work, module+"."+base)
}

// ContentKeyStorePath returns the path to the persisted content-key map.
func (p Paths) ContentKeyStorePath() string {
	return filepath.Join(p.Work, ".content-keys")
}

// DecisionsPath returns the path to the persisted ambiguity/conflict
// decision file under the corpus directory.
func (p Paths) DecisionsPath() string {
	return filepath.Join(p.Corpus, ".sparv", "decisions.yaml")
}

// EnsureWorkDirs creates the work and export directories if they don't
// already exist.
func (p Paths) EnsureWorkDirs() error {
	if err := os.MkdirAll(p.Work, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(p.Export, 0o755)
}
