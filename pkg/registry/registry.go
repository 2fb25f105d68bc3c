package registry

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
)

// customNamespace is the module namespace corpus-local scripts register
// under, mirroring the original implementation's custom.<file> convention.
const customNamespace = "custom"

// Registry is the read-only-after-discovery table of processor descriptors.
// It is safe for concurrent reads once discovery has completed; Register
// itself takes a lock so a single Registry can be built incrementally from
// several providers.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Descriptor
	byKind     map[Kind][]*Descriptor
	byModule   map[string][]*Descriptor
	configKeys map[string]engineconfig.KeySchema
	classOwner map[string][]*Descriptor // class -> descriptors declaring cls= on an output
	logger     *log.Logger
}

// New creates an empty registry. logger may be nil, in which case
// discovery is silent.
func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Registry{
		byID:       map[string]*Descriptor{},
		byKind:     map[Kind][]*Descriptor{},
		byModule:   map[string][]*Descriptor{},
		configKeys: map[string]engineconfig.KeySchema{},
		classOwner: map[string][]*Descriptor{},
		logger:     logger,
	}
}

// Register validates and adds one descriptor. Processor IDs are global:
// registering a duplicate ID fails discovery, per the registry's contract.
func (r *Registry) Register(d Descriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("%w: duplicate processor ID %q", engineerr.ErrProcessorInvalid, d.ID)
	}
	if err := r.mergeConfigKeysLocked(d); err != nil {
		return err
	}

	stored := d
	r.byID[d.ID] = &stored
	r.byKind[d.Kind] = append(r.byKind[d.Kind], &stored)
	r.byModule[d.Module] = append(r.byModule[d.Module], &stored)
	for _, out := range d.Outputs() {
		if out.Cls != "" {
			r.classOwner[out.Cls] = append(r.classOwner[out.Cls], &stored)
		}
	}

	r.logger.Debug("registered processor", "id", d.ID, "kind", d.Kind.String())
	return nil
}

// mergeConfigKeysLocked adds d's declared config keys to the shared
// dictionary, failing if a key is redeclared with an incompatible type by a
// different module.
func (r *Registry) mergeConfigKeysLocked(d Descriptor) error {
	for _, c := range d.Config {
		existing, ok := r.configKeys[c.Name]
		if !ok {
			r.configKeys[c.Name] = c.Schema
			continue
		}
		if existing.Type != "" && c.Schema.Type != "" && existing.Type != c.Schema.Type {
			return fmt.Errorf("%w: %s: config key %q redeclared with incompatible type (%s vs %s)",
				engineerr.ErrProcessorInvalid, d.ID, c.Name, existing.Type, c.Schema.Type)
		}
	}
	return nil
}

// Discover runs each provider's Describe and registers every descriptor it
// returns, in order. It fails fast on the first error, per the "duplicate
// identifiers fail discovery" contract. Once every provider's descriptors
// are registered, it also validates that every ordered exporter has a
// conflict peer, a check that needs the full registered set and so cannot
// run at per-descriptor Register time.
func (r *Registry) Discover(providers ...Provider) error {
	for _, p := range providers {
		descs, err := p.Describe()
		if err != nil {
			return fmt.Errorf("%w: provider describe: %v", engineerr.ErrProcessorInvalid, err)
		}
		for _, d := range descs {
			if err := r.Register(d); err != nil {
				return err
			}
		}
	}
	return r.ValidateExporterOrderPeers()
}

// ByID returns the descriptor with the given processor ID.
func (r *Registry) ByID(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ByKind returns every descriptor of the given kind, in registration order.
func (r *Registry) ByKind(k Kind) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.byKind[k]...)
}

// All returns every registered descriptor, sorted by ID for determinism.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConfigKeys returns the merged configuration-key schema contributed by
// every registered processor.
func (r *Registry) ConfigKeys() engineconfig.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(engineconfig.Schema, len(r.configKeys))
	for k, v := range r.configKeys {
		out[k] = v
	}
	return out
}

// ClassCandidates returns the descriptors declaring themselves the
// canonical producer of the given class via a cls= tag on one of their
// outputs. Per §4.C, if this returns exactly one descriptor and the class
// is otherwise unbound, that descriptor's output becomes the implicit
// binding; more than one is a ClassAmbiguous condition.
func (r *Registry) ClassCandidates(class string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.classOwner[class]...)
}

// ValidatePreloaderGraph detects cyclic preloader target bindings across the
// whole registry (a per-descriptor self-cycle is already rejected at
// Register time).
func (r *Registry) ValidatePreloaderGraph() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		white = iota
		gray
		black
	)
	color := map[string]int{}
	var visit func(id string, chain []string) error
	visit = func(id string, chain []string) error {
		if color[id] == black {
			return nil
		}
		if color[id] == gray {
			return fmt.Errorf("%w: cyclic preloader target binding: %v", engineerr.ErrProcessorInvalid, append(chain, id))
		}
		color[id] = gray
		if d, ok := r.byID[id]; ok && d.Preloader != nil && d.Preloader.Target != "" {
			if err := visit(d.Preloader.Target, append(chain, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range r.byID {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateExporterOrderPeers rejects an exporter descriptor that declares an
// order without any other registered descriptor contending for at least one
// of its declared outputs. Order only means something when producers
// compete for the same output, so a lone ordered exporter signals a stray
// declaration rather than an intentional priority (§4.B InvalidProcessor).
func (r *Registry) ValidateExporterOrderPeers() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := map[string][]string{} // output reference -> descriptor IDs declaring it
	for _, d := range r.byID {
		for _, out := range outputRefs(d) {
			owners[out] = append(owners[out], d.ID)
		}
	}

	for _, d := range r.byID {
		if d.Kind != KindExporter || d.Order == nil {
			continue
		}
		hasPeer := false
		for _, out := range outputRefs(d) {
			if len(owners[out]) > 1 {
				hasPeer = true
				break
			}
		}
		if !hasPeer {
			return fmt.Errorf("%w: %s: declares order with no conflict peer for any output", engineerr.ErrProcessorInvalid, d.ID)
		}
	}
	return nil
}

// outputRefs returns the output references (annotation or export) a
// descriptor declares, the same identity a conflict group is keyed on.
func outputRefs(d *Descriptor) []string {
	var out []string
	for _, p := range d.Params {
		if (p.Role == RoleAnnotationOutput || p.Role == RoleExportOutput) && p.Default != "" {
			out = append(out, p.Default)
		}
	}
	return out
}

// CustomProvider wraps custom.<file> corpus-local processor descriptors
// (loaded from a corpus-local manifest, since Go cannot dynamically compile
// scripts) under the fixed "custom" module namespace.
type CustomProvider struct {
	Descriptors []Descriptor
}

// Describe implements Provider, rewriting each descriptor's Module/ID to
// live under the "custom" namespace if not already so scoped.
func (c CustomProvider) Describe() ([]Descriptor, error) {
	out := make([]Descriptor, len(c.Descriptors))
	for i, d := range c.Descriptors {
		if d.Module != customNamespace {
			d.Module = customNamespace
			d.ID = fmt.Sprintf("%s:%s", customNamespace, d.Function)
		}
		out[i] = d
	}
	return out, nil
}
