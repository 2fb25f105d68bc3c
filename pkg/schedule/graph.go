package schedule

import (
	"errors"
	"fmt"

	"github.com/sparv-lang/engine/internal/engineerr"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/rules"
)

// ErrCyclicDependency is returned by Builder.Build when the compiled rule
// set implies a cyclic input/output dependency, detected the same way the
// teacher's pkg/dag detects layout cycles: depth-first search with
// white/gray/black coloring.
var ErrCyclicDependency = errors.New("schedule: cyclic rule dependency")

const (
	white = iota
	gray
	black
)

// Status is a job's position in its execution lifecycle.
type Status int

const (
	StatusPending Status = iota
	StatusFresh          // output already up to date; skipped
	StatusReady          // all dependencies satisfied, awaiting a worker
	StatusRunning
	StatusDone
	StatusFailed
	StatusTainted // a dependency failed; this job cannot run
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFresh:
		return "fresh"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusTainted:
		return "tainted"
	default:
		return "unknown"
	}
}

// Job is one node of the schedule graph: a rule instantiated against a
// concrete source file (or the corpus level, for SourceFile == "").
type Job struct {
	ID         string
	Rule       *rules.Rule
	SourceFile string
	Output     string
	Bindings   map[string]any

	// Backoff holds the remaining conflict-group producers to try, in
	// order, if Rule proves unsatisfiable or fails.
	Backoff []*rules.Rule

	Deps       []string // job IDs this job depends on
	Dependents []string // job IDs that depend on this job

	ContentKey string
	Status     Status
	Err        error
}

// Graph is the full job dependency graph for one engine run.
type Graph struct {
	Jobs  map[string]*Job
	order []string // insertion order, for deterministic iteration
}

func newGraph() *Graph {
	return &Graph{Jobs: map[string]*Job{}}
}

func (g *Graph) add(j *Job) {
	g.Jobs[j.ID] = j
	g.order = append(g.order, j.ID)
}

func (g *Graph) addEdge(from, to string) {
	g.Jobs[from].Dependents = append(g.Jobs[from].Dependents, to)
	g.Jobs[to].Deps = append(g.Jobs[to].Deps, from)
}

// Ordered returns every job in the graph in the order it was first
// discovered, for deterministic reporting and tests.
func (g *Graph) Ordered() []*Job {
	out := make([]*Job, len(g.order))
	for i, id := range g.order {
		out[i] = g.Jobs[id]
	}
	return out
}

// Target names one top-level output the caller wants produced: a
// (possibly still class/wildcard-bearing) reference and, for a per-file
// rule, the source file to produce it for.
type Target struct {
	Ref        string
	SourceFile string
}

// Builder turns the compiler's rule set into a job graph by seeding a
// frontier from a set of targets and traversing inputs recursively, per
// §4.E steps 1-2.
type Builder struct {
	Resolver *resolve.Resolver
	Groups   []rules.ConflictGroup
}

// NewBuilder builds a Builder from a compiled rule set.
func NewBuilder(res *resolve.Resolver, groups []rules.ConflictGroup) *Builder {
	return &Builder{Resolver: res, Groups: groups}
}

// Build seeds the job graph from targets and recursively traverses each
// selected rule's inputs, creating one job per (reference, source file)
// pair actually reached. If a candidate producer's own inputs turn out to
// be unsatisfiable, the next backoff producer in its conflict group is
// tried in its place before the whole output is given up as unsatisfiable,
// per §4.E step 5.
func (b *Builder) Build(targets []Target) (*Graph, error) {
	g := newGraph()
	color := map[string]int{}
	for _, t := range targets {
		if _, err := buildOne(g, color, t.Ref, t.SourceFile, b.candidateChain); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ExtendGraph builds (or reuses) the job nodes for candidate's own declared
// inputs directly into an already-built graph, and returns their job IDs in
// declaration order. It exists because a runtime backoff producer's inputs
// are not necessarily the ones already wired for the producer it replaces.
func (b *Builder) ExtendGraph(g *Graph, candidate *rules.Rule, file string) ([]string, error) {
	depFile := file
	if !candidate.PerFile {
		depFile = ""
	}
	color := map[string]int{}
	depIDs := make([]string, 0, len(candidate.Inputs))
	for _, in := range candidate.Inputs {
		depID, err := buildOne(g, color, in, depFile, b.candidateChain)
		if err != nil {
			return nil, err
		}
		depIDs = append(depIDs, depID)
	}
	return depIDs, nil
}

// buildOne builds (or reuses) the job for ref/file, trying each of ref's
// active candidate producers in order until one is found whose own inputs
// are all satisfiable, wiring only that producer's dependency edges into g.
// color is a per-Build-call cycle guard; ids already present in g are
// reused regardless of color, since they were already proven satisfiable.
func buildOne(g *Graph, color map[string]int, ref, file string, chainFor func(ref string) ([]*rules.Rule, error)) (string, error) {
	id := jobID(ref, file)
	if existing, ok := g.Jobs[id]; ok {
		return existing.ID, nil
	}
	if color[id] == gray {
		return "", fmt.Errorf("%w: %s", ErrCyclicDependency, id)
	}
	color[id] = gray

	chain, err := chainFor(ref)
	if err != nil {
		delete(color, id)
		return "", err
	}

	var lastErr error
	for i, candidate := range chain {
		depFile := file
		if !candidate.PerFile {
			depFile = ""
		}
		depIDs := make([]string, 0, len(candidate.Inputs))
		satisfiable := true
		for _, in := range candidate.Inputs {
			depID, err := buildOne(g, color, in, depFile, chainFor)
			if err != nil {
				lastErr = err
				satisfiable = false
				break
			}
			depIDs = append(depIDs, depID)
		}
		if !satisfiable {
			continue
		}

		job := &Job{
			ID:         id,
			Rule:       candidate,
			SourceFile: file,
			Output:     ref,
			Bindings:   candidate.Bindings,
			Backoff:    chain[i+1:],
		}
		g.add(job)
		for _, depID := range depIDs {
			g.addEdge(depID, id)
		}
		color[id] = black
		return id, nil
	}

	delete(color, id)
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", engineerr.ErrNoProducer, ref)
	}
	return "", lastErr
}

// candidateChain returns the group's full active producer chain, in
// producer-preference order, for the given concrete reference, matching
// against each group's (possibly still wildcard-bearing) output patterns.
func (b *Builder) candidateChain(ref string) ([]*rules.Rule, error) {
	for _, group := range b.Groups {
		for _, r := range group.Rules {
			for _, out := range r.Outputs {
				if resolve.MatchesPattern(out, ref) {
					if group.NoActiveProducer() {
						return nil, fmt.Errorf("%w: %s", engineerr.ErrNoProducer, ref)
					}
					return activeChain(group.Rules)
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", engineerr.ErrNoProducer, ref)
}

// activeChain returns every active rule in producer-preference order.
func activeChain(rs []*rules.Rule) ([]*rules.Rule, error) {
	var chain []*rules.Rule
	for _, r := range rs {
		if r.Active {
			chain = append(chain, r)
		}
	}
	if len(chain) == 0 {
		return nil, engineerr.ErrNoProducer
	}
	return chain, nil
}

func jobID(ref, file string) string {
	if file == "" {
		return ref
	}
	return ref + "@" + file
}
