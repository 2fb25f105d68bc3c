// Package resolve turns annotation references into concrete file paths
// parameterised by a source file name, per the four resolution stages of
// the engine design: configuration placeholder substitution, class
// expansion, wildcard binding, and file-path mapping.
//
// Resolution answers to "who produces this reference?" are memoised for the
// lifetime of one engine run using an LRU cache, since the same reference is
// typically asked about many times while walking the dependency graph.
package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sparv-lang/engine/internal/engineconfig"
	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/internal/pathstore"
	"github.com/sparv-lang/engine/pkg/reference"
	"github.com/sparv-lang/engine/pkg/registry"
)

// producerCacheSize bounds the memoised "who produces this reference"
// lookup table so pathological corpora with huge reference spaces cannot
// grow it without bound (see DESIGN.md: grounded on golang-lru/v2).
const producerCacheSize = 4096

// Arbiter is the interactive-arbitration capability object referenced by
// the design notes: "ambiguous class bindings ... require a user choice ...
// behind an explicit capability object queried only when the UI front-end
// is available; non-interactive runs must fail rather than guess."
type Arbiter interface {
	// ChooseClassProducer asks the user to pick one of candidates as the
	// canonical producer of class. Returns the chosen processor ID.
	ChooseClassProducer(class string, candidates []*registry.Descriptor) (string, error)
}

// DecisionStore persists arbitration choices across runs (§6 "Persisted
// state": "Ambiguity-resolution decisions remembered under the corpus
// directory so interactive choices are not re-asked").
type DecisionStore interface {
	ClassBinding(class string) (processorID string, ok bool)
	RecordClassBinding(class, processorID string) error
}

// Resolver expands annotation references against a frozen configuration and
// registry snapshot. A Resolver is not safe for use before the config and
// registry it was built from are frozen (see design notes on global state).
type Resolver struct {
	Config   engineconfig.Tree
	Registry *registry.Registry
	Paths    pathstore.Paths
	Arbiter  Arbiter       // may be nil: non-interactive
	Store    DecisionStore // may be nil: no persistence

	classBindings map[string]string // class -> resolved reference (from config or inference)
	producerCache *lru.Cache[string, []*registry.Descriptor]
	mu            sync.Mutex
}

// New builds a Resolver from a frozen config and registry. The `classes`
// config section seeds explicit class bindings; inference (§4.C stage 2)
// fills in the rest lazily.
func New(cfg engineconfig.Tree, reg *registry.Registry, paths pathstore.Paths, arb Arbiter, store DecisionStore) *Resolver {
	cache, _ := lru.New[string, []*registry.Descriptor](producerCacheSize)
	bindings := map[string]string{}
	if raw, ok := cfg.Get("classes", nil); ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				bindings[k] = fmt.Sprint(v)
			}
		}
	}
	return &Resolver{
		Config:        cfg,
		Registry:      reg,
		Paths:         paths,
		Arbiter:       arb,
		Store:         store,
		classBindings: bindings,
		producerCache: cache,
	}
}

// Expand applies configuration placeholder substitution and class expansion
// (stages 1 and 2) to raw, leaving wildcard tokens untouched for the rule
// compiler / scheduler to bind against a concrete request. It returns
// ErrReferenceUnresolved (never a hard failure) when a placeholder cannot be
// expanded, per §4.C stage 1: "the whole rule becomes unresolvable and is
// suppressed".
func (r *Resolver) Expand(raw string) (string, error) {
	cfgExpanded, err := r.substituteConfig(raw)
	if err != nil {
		return "", err
	}
	return r.expandClasses(cfgExpanded)
}

func (r *Resolver) substituteConfig(raw string) (string, error) {
	out := raw
	for _, tok := range reference.ConfigPlaceholders(raw) {
		key := reference.ConfigKey(tok)
		v, ok := r.Config.Get(key, nil)
		if !ok {
			return "", fmt.Errorf("%w: config placeholder %q undefined", engineerr.ErrReferenceUnresolved, key)
		}
		out = reference.ReplaceToken(out, tok, fmt.Sprint(v))
	}
	return out, nil
}

func (r *Resolver) expandClasses(raw string) (string, error) {
	out := raw
	for _, tok := range reference.Classes(raw) {
		class, attr := reference.ClassName(tok)
		bound, err := r.bindClass(class)
		if err != nil {
			return "", err
		}
		replacement := bound
		if attr != "" {
			replacement = bound + ":" + attr
		}
		out = reference.ReplaceToken(out, tok, replacement)
	}
	return out, nil
}

// bindClass resolves a bare class identifier (e.g. "token") to its concrete
// reference, applying explicit config binding, then single-candidate
// inference, then remembered arbitration, then interactive arbitration.
func (r *Resolver) bindClass(class string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.classBindings[class]; ok {
		return bound, nil
	}

	candidates := r.Registry.ClassCandidates(class)
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: class %q has no bound or inferred producer", engineerr.ErrReferenceUnresolved, class)
	case 1:
		bound := candidateOutputRef(candidates[0], class)
		r.classBindings[class] = bound
		return bound, nil
	default:
		if r.Store != nil {
			if id, ok := r.Store.ClassBinding(class); ok {
				if d, ok := r.Registry.ByID(id); ok {
					bound := candidateOutputRef(d, class)
					r.classBindings[class] = bound
					return bound, nil
				}
			}
		}
		if r.Arbiter != nil {
			id, err := r.Arbiter.ChooseClassProducer(class, candidates)
			if err != nil {
				return "", err
			}
			d, ok := r.Registry.ByID(id)
			if !ok {
				return "", fmt.Errorf("%w: arbiter chose unknown processor %q", engineerr.ErrClassAmbiguous, id)
			}
			bound := candidateOutputRef(d, class)
			r.classBindings[class] = bound
			if r.Store != nil {
				_ = r.Store.RecordClassBinding(class, id)
			}
			return bound, nil
		}
		return "", fmt.Errorf("%w: class %q has %d candidate producers", engineerr.ErrClassAmbiguous, class, len(candidates))
	}
}

func candidateOutputRef(d *registry.Descriptor, class string) string {
	for _, out := range d.Outputs() {
		if out.Cls == class {
			return out.Default
		}
	}
	return ""
}

// ProducersFor returns every registered processor whose (config- and
// class-expanded) output reference matches resolvedRef, treating any
// remaining {wildcard} token in a candidate's declared output as matching
// any single path segment. Results are memoised per resolvedRef for the
// life of the Resolver.
func (r *Resolver) ProducersFor(resolvedRef string) ([]*registry.Descriptor, error) {
	if cached, ok := r.producerCache.Get(resolvedRef); ok {
		return cached, nil
	}

	var matches []*registry.Descriptor
	for _, d := range r.Registry.All() {
		for _, out := range d.Outputs() {
			expanded, err := r.Expand(out.Default)
			if err != nil {
				if errors.Is(err, engineerr.ErrReferenceUnresolved) {
					continue // suppressed rule, not a hard failure
				}
				return nil, err
			}
			if MatchesPattern(expanded, resolvedRef) {
				matches = append(matches, d)
				break
			}
		}
	}
	r.producerCache.Add(resolvedRef, matches)
	return matches, nil
}

// MatchesPattern reports whether concrete matches pattern, where pattern may
// still contain {wildcard} tokens that match any run of non-separator
// characters in concrete.
func MatchesPattern(pattern, concrete string) bool {
	if !strings.Contains(pattern, "{") {
		return pattern == concrete
	}
	var b strings.Builder
	b.WriteString("^")
	rest := pattern
	for _, tok := range reference.Wildcards(pattern) {
		idx := strings.Index(rest, tok)
		b.WriteString(regexp.QuoteMeta(rest[:idx]))
		b.WriteString("[^:]+")
		rest = rest[idx+len(tok):]
	}
	b.WriteString(regexp.QuoteMeta(rest))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(concrete)
}

// FilePath maps a fully-resolved (no placeholders, no wildcards) annotation
// reference to its on-disk path, per §4.C stage 4:
//
//	span reference M.base       -> work/<file>/<M.base>/_span
//	attribute M.base:M2.attr    -> work/<file>/<M.base>/<M2.attr>
//	corpus-level data have no <file> segment.
func (r *Resolver) FilePath(resolvedRef, sourceFile string) (string, error) {
	ref, err := reference.Parse(resolvedRef)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engineerr.ErrReferenceUnresolved, err)
	}
	if sourceFile == "" {
		return r.Paths.CorpusDataPath(ref.Module, ref.Base), nil
	}
	if !ref.IsAttribute() {
		return r.Paths.SpanPath(sourceFile, ref.Module, ref.Base), nil
	}
	return r.Paths.AttrPath(sourceFile, ref.Module, ref.Base, ref.AttrOf, ref.Attr), nil
}
