// Package rules compiles registered processors into concrete rules — the
// realisation of a processor against a resolved reference set — and groups
// rules that produce the same output into ordered conflict sets, per §4.D.
package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/pkg/reference"
	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/resolve"
)

// Rule is a compiled realisation of one processor: its owning descriptor,
// resolved input/output reference patterns (still symbolic in `{file}` and
// any unresolved wildcards), parameter bindings, and scheduling metadata.
type Rule struct {
	ID         string // processor ID, optionally suffixed for custom annotations
	Processor  *registry.Descriptor
	Inputs     []string
	Outputs    []string
	Bindings   map[string]any
	PerFile    bool
	Pattern    bool // true if any output still contains an unresolved {wildcard}
	Order      *int
	Priority   int
	Active     bool // false if excluded by the language filter
	ConfigDeps []string
}

// orderValue returns the rule's order for sorting purposes, treating an
// absent order as positive infinity so unordered rules always sort last.
func (r *Rule) orderValue() int {
	if r.Order == nil {
		return math.MaxInt
	}
	return *r.Order
}

// CustomAnnotation describes one entry of the corpus's custom_annotations
// configuration list: an existing annotator instantiated again with its own
// parameter bindings, its outputs suffixed so they cannot collide with the
// base rule.
type CustomAnnotation struct {
	Annotator string
	Suffix    string
	Params    map[string]any
}

// ConflictGroup is the set of rules that, once their outputs are resolved,
// all produce the same normalised output. Rules is sorted ascending by
// Order; Rules[0] is the preferred producer, the rest are backoff
// producers tried in order only once the preferred rule proves unsatisfiable
// or fails.
type ConflictGroup struct {
	Output string
	Rules  []*Rule
}

// Arbiter resolves an equal-order producer conflict the compiler cannot
// order on its own, mirroring resolve.Arbiter's interactive-capability
// pattern for class ambiguity.
type Arbiter interface {
	ChooseConflictWinner(output string, candidates []*Rule) (string, error)
}

// DecisionStore persists chosen conflict winners across runs, keyed by
// output and the (language, variety) pair the decision was made for.
type DecisionStore interface {
	ConflictWinner(output, language, variety string) (ruleID string, ok bool)
	RecordConflictWinner(output, language, variety, ruleID string) error
}

// Compiler compiles a registry's descriptors into rules against a frozen
// resolver, language filter, and conflict-resolution policy.
type Compiler struct {
	Registry          *registry.Registry
	Resolver          *resolve.Resolver
	Language, Variety string
	Arbiter           Arbiter       // may be nil: non-interactive
	Store             DecisionStore // may be nil: no persistence
}

// New builds a Compiler.
func New(reg *registry.Registry, res *resolve.Resolver, language, variety string, arb Arbiter, store DecisionStore) *Compiler {
	return &Compiler{Registry: reg, Resolver: res, Language: language, Variety: variety, Arbiter: arb, Store: store}
}

// Compile instantiates one rule per processor plus one per custom
// annotation entry, applies the language filter, and groups rules into
// ordered conflict sets. It returns the full rule set (including inactive
// rules, so callers can report them) and the conflict groups covering only
// active rules.
func (c *Compiler) Compile(customAnnotations []CustomAnnotation) ([]*Rule, []ConflictGroup, error) {
	var all []*Rule

	for _, d := range c.Registry.All() {
		rule, err := c.instantiate(d, "", nil)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, rule)
	}

	for _, ca := range customAnnotations {
		d, ok := c.Registry.ByID(ca.Annotator)
		if !ok {
			return nil, nil, fmt.Errorf("%w: custom_annotations: unknown processor %q", engineerr.ErrConfigInvalid, ca.Annotator)
		}
		rule, err := c.instantiate(d, ca.Suffix, ca.Params)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, rule)
	}

	groups, err := c.groupAndOrder(all)
	if err != nil {
		return nil, nil, err
	}
	return all, groups, nil
}

// instantiate builds one Rule from a descriptor. suffix, if non-empty, is
// appended to every output reference and to the rule's ID so a custom
// annotation instance never collides with the processor's base rule.
func (c *Compiler) instantiate(d *registry.Descriptor, suffix string, extraParams map[string]any) (*Rule, error) {
	rule := &Rule{
		ID:        d.ID,
		Processor: d,
		Bindings:  map[string]any{},
		Order:     d.Order,
		Priority:  d.Priority,
		Active:    d.SupportsLanguage(c.Language, c.Variety),
	}
	if suffix != "" {
		rule.ID = d.ID + "#" + suffix
	}

	for _, p := range d.Params {
		switch p.Role {
		case registry.RoleAnnotationOutput:
			expanded, err := c.expandParam(p.Default)
			if err != nil {
				continue // unresolvable output suppresses only this param, not the whole rule
			}
			if suffix != "" {
				expanded = suffixOutput(expanded, suffix)
			}
			rule.Outputs = append(rule.Outputs, expanded)
			if reference.HasPlaceholder(expanded) {
				rule.Pattern = true
			}
			rule.Bindings[p.Name] = expanded
		case registry.RoleAnnotationInput:
			expanded, err := c.expandParam(p.Default)
			if err != nil {
				return nil, err
			}
			rule.Inputs = append(rule.Inputs, expanded)
			rule.Bindings[p.Name] = expanded
		case registry.RoleSourceFile:
			rule.PerFile = true
			rule.Bindings[p.Name] = "{file}"
		case registry.RoleConfig:
			rule.ConfigDeps = append(rule.ConfigDeps, p.Default)
			if v, ok := c.Resolver.Config.Get(p.Default, nil); ok {
				rule.Bindings[p.Name] = v
			} else {
				rule.Bindings[p.Name] = p.Default
			}
		default:
			rule.Bindings[p.Name] = p.Default
		}
	}
	for k, v := range extraParams {
		rule.Bindings[k] = v
	}
	if len(rule.Outputs) == 0 {
		return nil, fmt.Errorf("%w: %s produces no resolvable output", engineerr.ErrReferenceUnresolved, rule.ID)
	}
	return rule, nil
}

// expandParam expands a declared parameter default through the resolver,
// returning it unexpanded (with any remaining {wildcard} intact) rather than
// failing when the only obstacle is an unresolved wildcard token.
func (c *Compiler) expandParam(raw string) (string, error) {
	if raw == "" {
		return raw, nil
	}
	return c.Resolver.Expand(raw)
}

// suffixOutput appends a custom-annotation suffix to an output reference so
// it cannot collide with the processor's base-rule output, e.g.
// "segment.token:sbx_sensaldo.emotion" -> "segment.token:sbx_sensaldo.emotion-mysuffix".
func suffixOutput(ref, suffix string) string {
	return ref + "-" + suffix
}

// groupAndOrder groups rules by normalised output set, sorts each group
// ascending by order, and resolves equal-order conflicts via the persisted
// decision store or the interactive arbiter, falling back to
// ErrProducerConflict when neither is available.
func (c *Compiler) groupAndOrder(all []*Rule) ([]ConflictGroup, error) {
	byOutput := map[string][]*Rule{}
	for _, r := range all {
		key := normalizedOutputKey(r.Outputs)
		byOutput[key] = append(byOutput[key], r)
	}

	keys := make([]string, 0, len(byOutput))
	for k := range byOutput {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var groups []ConflictGroup
	for _, key := range keys {
		rs := byOutput[key]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].orderValue() < rs[j].orderValue() })

		// Equal-order conflicts are checked over the full group, before
		// language filtering: two rules with the same order targeting the
		// same output still conflict even if their language filters happen
		// to be disjoint for the current corpus, since a corpus's language
		// can change across runs without other config changing.
		if len(rs) > 1 && rs[0].orderValue() == rs[1].orderValue() {
			winner, err := c.resolveEqualOrderConflict(key, equalOrderCandidates(rs))
			if err != nil {
				return nil, err
			}
			rs = reorderWinnerFirst(rs, winner)
		}

		groups = append(groups, ConflictGroup{Output: key, Rules: rs})
	}
	return groups, nil
}

// resolveEqualOrderConflict returns the winning rule's ID for an
// unresolvable same-order conflict, consulting the persisted decision store
// first, then the interactive arbiter, failing otherwise.
func (c *Compiler) resolveEqualOrderConflict(output string, candidates []*Rule) (string, error) {
	if c.Store != nil {
		if id, ok := c.Store.ConflictWinner(output, c.Language, c.Variety); ok {
			return id, nil
		}
	}
	if c.Arbiter != nil {
		id, err := c.Arbiter.ChooseConflictWinner(output, candidates)
		if err != nil {
			return "", err
		}
		if c.Store != nil {
			_ = c.Store.RecordConflictWinner(output, c.Language, c.Variety, id)
		}
		return id, nil
	}
	ids := make([]string, len(candidates))
	for i, r := range candidates {
		ids[i] = r.ID
	}
	return "", fmt.Errorf("%w: output %q has %d equal-order producers %v", engineerr.ErrProducerConflict, output, len(candidates), ids)
}

// equalOrderCandidates returns every rule in rs (already sorted ascending by
// order) sharing rs[0]'s order value, the full contending set a same-order
// conflict must be resolved over.
func equalOrderCandidates(rs []*Rule) []*Rule {
	order := rs[0].orderValue()
	var out []*Rule
	for _, r := range rs {
		if r.orderValue() != order {
			break
		}
		out = append(out, r)
	}
	return out
}

func reorderWinnerFirst(rs []*Rule, winnerID string) []*Rule {
	out := make([]*Rule, 0, len(rs))
	for _, r := range rs {
		if r.ID == winnerID {
			out = append([]*Rule{r}, out...)
		} else {
			out = append(out, r)
		}
	}
	return out
}

// normalizedOutputKey builds a stable grouping key from a rule's output set.
func normalizedOutputKey(outputs []string) string {
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// NoActiveProducer reports whether every rule in the group has been
// excluded by the language filter, the condition under which the scheduler
// must raise ErrNoProducer for a requested output (§4.D "language filter").
func (g ConflictGroup) NoActiveProducer() bool {
	for _, r := range g.Rules {
		if r.Active {
			return false
		}
	}
	return true
}
