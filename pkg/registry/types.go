// Package registry discovers processors, validates their declared metadata,
// and indexes them by kind, module, and configuration usage.
//
// A processor's body (the importer/exporter/annotator/installer/uninstaller/
// modelbuilder function itself) is out of scope for this engine; only the
// metadata descriptor it presents to the core, and the function value the
// scheduler eventually calls, are modelled here. Per the design notes on
// "dynamic decoration", discovery populates a table of explicit metadata
// descriptors rather than introspecting decorated functions the way the
// original implementation does.
package registry

import (
	"context"
	"fmt"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
)

// Kind is one of the six processor kinds the engine understands.
type Kind int

const (
	KindImporter Kind = iota
	KindAnnotator
	KindExporter
	KindInstaller
	KindUninstaller
	KindModelbuilder
)

// String renders the kind's lowercase name, matching the CLI's
// --annotators/--importers/--exporters filters.
func (k Kind) String() string {
	switch k {
	case KindImporter:
		return "importer"
	case KindAnnotator:
		return "annotator"
	case KindExporter:
		return "exporter"
	case KindInstaller:
		return "installer"
	case KindUninstaller:
		return "uninstaller"
	case KindModelbuilder:
		return "modelbuilder"
	default:
		return "unknown"
	}
}

// Role tags a formal parameter with its purpose in the pipeline. Using a
// closed tagged variant here (rather than reflecting over Go struct tags)
// keeps every rule-compiler branch over roles statically exhaustive, per the
// design notes on parameter role polymorphism.
type Role int

const (
	// RoleScalar is a plain value with no special pipeline meaning.
	RoleScalar Role = iota
	// RoleAnnotationInput names an annotation reference the processor reads.
	RoleAnnotationInput
	// RoleAnnotationOutput names an annotation reference the processor writes.
	RoleAnnotationOutput
	// RoleConfig binds to a resolved configuration value.
	RoleConfig
	// RoleModel names a model file path under the data directory.
	RoleModel
	// RoleBinary names an external binary's resolved path.
	RoleBinary
	// RoleSourceFile is the source-file handle a rule is instantiated for.
	RoleSourceFile
	// RoleCorpusID is the corpus identifier string.
	RoleCorpusID
	// RoleExportOutput names the export directory path a rule writes to.
	RoleExportOutput
	// RoleMarker names a zero-length sentinel path for (un)installers.
	RoleMarker
)

// String renders the role's lowercase name for diagnostics.
func (r Role) String() string {
	switch r {
	case RoleAnnotationInput:
		return "annotation-input"
	case RoleAnnotationOutput:
		return "annotation-output"
	case RoleConfig:
		return "config"
	case RoleModel:
		return "model"
	case RoleBinary:
		return "binary"
	case RoleSourceFile:
		return "source-file"
	case RoleCorpusID:
		return "corpus-id"
	case RoleExportOutput:
		return "export-output"
	case RoleMarker:
		return "marker"
	default:
		return "scalar"
	}
}

func validRole(r Role) bool {
	return r >= RoleScalar && r <= RoleMarker
}

// Param is one formal parameter of a processor function: a role-tagged
// default expressing the processor's intent (e.g. an annotation-output
// parameter defaulting to "<token:word>"), plus its nominal Go type.
type Param struct {
	Name        string
	Role        Role
	Default     string // e.g. "<token:word>", "[wsd.sense_model]", a literal
	Type        string // nominal data type, e.g. "string", "[]string", "bool"
	Cls         string // set on annotation-output params that are canonical producers of a class
	Description string
}

// ConfigDecl declares one configuration key a processor consumes, along
// with its default and validation constraints.
type ConfigDecl struct {
	Name        string
	Default     any
	Description string
	Schema      engineconfig.KeySchema
}

// WildcardDecl declares one wildcard a processor's signature may carry.
type WildcardDecl struct {
	Name string
	Type string // e.g. "annotation", "attribute"
}

// PreloaderDecl declares a processor's preloader hooks and binding.
type PreloaderDecl struct {
	// Preload is the hook invoked once per worker (or once if Shared) to
	// build the warm state.
	Preload func(ctx context.Context, params map[string]any) (any, error)
	// Cleanup runs after each job with the current warm state and the job's
	// parameter bindings; its return value replaces the warm state.
	Cleanup func(ctx context.Context, state any, params map[string]any) (any, error)
	// Params lists the config keys drawn to build the preload call's params.
	Params []string
	// Shared, if true, means one warm state is shared across all workers of
	// this processor rather than one per worker.
	Shared bool
	// Target, if set, names another processor ID this preloader is bound to
	// (used to detect cyclic preloader target bindings at registration).
	Target string
}

// RunFunc is the function the scheduler invokes to execute one job for a
// processor: a source file (empty for corpus-level rules) and a map from
// parameter name to its resolved binding (a file path, config value, or
// scalar, depending on the parameter's Role).
type RunFunc func(ctx context.Context, sourceFile string, bindings map[string]any) error

// Descriptor is the full metadata record for one processor, keyed globally
// by ID ("<module>:<function>").
type Descriptor struct {
	ID              string
	Module          string
	Function        string
	Kind            Kind
	Description     string
	LongDescription string
	Language        []string // ISO 639-3 codes, optionally with a "-variety" suffix
	Order           *int     // lower wins on producer conflict; nil = infinity
	Priority        int      // scheduling hint, higher wins
	Params          []Param
	Config          []ConfigDecl
	Wildcards       []WildcardDecl
	Preloader       *PreloaderDecl
	MaxThreads      int // 0 = unbounded
	Run             RunFunc
}

// Outputs returns the descriptor's annotation-output parameters.
func (d Descriptor) Outputs() []Param { return paramsWithRole(d.Params, RoleAnnotationOutput) }

// Inputs returns the descriptor's annotation-input parameters.
func (d Descriptor) Inputs() []Param { return paramsWithRole(d.Params, RoleAnnotationInput) }

func paramsWithRole(params []Param, role Role) []Param {
	var out []Param
	for _, p := range params {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// SupportsLanguage reports whether the descriptor is active for the given
// (language, variety) pair. An empty Language list means "all languages".
// A variety-qualified declaration ("swe-1800") matches only that exact
// variety; a bare code ("swe") matches any variety of that language.
func (d Descriptor) SupportsLanguage(language, variety string) bool {
	if len(d.Language) == 0 {
		return true
	}
	full := language
	if variety != "" {
		full = language + "-" + variety
	}
	for _, l := range d.Language {
		if l == full || l == language {
			return true
		}
	}
	return false
}

// Provider is implemented by anything that can contribute processor
// descriptors to the registry: a compiled-in module package, a plugin, or a
// corpus-local custom.<file> script loader.
type Provider interface {
	// Describe returns the processor descriptors this provider contributes.
	// Describe must be pure with respect to configuration: it performs no
	// pipeline work, per the discovery-purity contract.
	Describe() ([]Descriptor, error)
}

// ProviderFunc adapts a plain function to a Provider.
type ProviderFunc func() ([]Descriptor, error)

// Describe implements Provider.
func (f ProviderFunc) Describe() ([]Descriptor, error) { return f() }

func validateDescriptor(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty processor ID", engineerr.ErrProcessorInvalid)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: %s: missing description", engineerr.ErrProcessorInvalid, d.ID)
	}
	if d.Run == nil {
		return fmt.Errorf("%w: %s: missing run function", engineerr.ErrProcessorInvalid, d.ID)
	}
	for _, p := range d.Params {
		if !validRole(p.Role) {
			return fmt.Errorf("%w: %s: parameter %q has unrecognised role", engineerr.ErrProcessorInvalid, d.ID, p.Name)
		}
		if p.Role == RoleAnnotationOutput && p.Default != "" {
			if err := validateOutputReference(p.Default); err != nil {
				return fmt.Errorf("%w: %s: parameter %q: %v", engineerr.ErrProcessorInvalid, d.ID, p.Name, err)
			}
		}
	}
	if d.Preloader != nil && d.Preloader.Target == d.ID {
		return fmt.Errorf("%w: %s: preloader target binds to itself", engineerr.ErrProcessorInvalid, d.ID)
	}
	return nil
}

// validateOutputReference performs a light well-formedness check: a valid
// output reference is non-empty and, once placeholders are stripped, would
// parse as module.base[:module2.attr]. Since class/wildcard/config
// placeholders are legal in a declared default, this only rejects obviously
// malformed text (unbalanced brackets, leading/trailing separators).
func validateOutputReference(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty output reference")
	}
	depth := 0
	for _, r := range ref {
		switch r {
		case '<', '{', '[':
			depth++
		case '>', '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced placeholder brackets in %q", ref)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced placeholder brackets in %q", ref)
	}
	return nil
}
