package tui

import (
	"fmt"

	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/rules"
)

// Arbiter implements both pkg/resolve.Arbiter and pkg/rules.Arbiter with a
// terminal picklist, letting one capability object serve both resolution
// layers. Construct it only when stdout is a TTY; pass a nil *Arbiter (as an
// untyped nil, not a boxed one) everywhere else so both packages take their
// non-interactive failure path.
type Arbiter struct{}

// New returns an interactive Arbiter.
func New() *Arbiter { return &Arbiter{} }

// ChooseClassProducer implements pkg/resolve.Arbiter.
func (a *Arbiter) ChooseClassProducer(class string, candidates []*registry.Descriptor) (string, error) {
	items := make([]item, len(candidates))
	for i, d := range candidates {
		items[i] = item{ID: d.ID, Label: d.ID, Detail: d.Description}
	}
	title := fmt.Sprintf("Class %q has %d candidate producers", class, len(candidates))
	chosenID, err := pickOne(title, "Pick which processor produces this class.", items)
	if err != nil {
		return "", err
	}
	return chosenID, nil
}

// ChooseConflictWinner implements pkg/rules.Arbiter.
func (a *Arbiter) ChooseConflictWinner(output string, candidates []*rules.Rule) (string, error) {
	items := make([]item, len(candidates))
	for i, r := range candidates {
		orderLabel := "no declared order"
		if r.Order != nil {
			orderLabel = fmt.Sprintf("order %d", *r.Order)
		}
		items[i] = item{ID: r.ID, Label: r.ID, Detail: orderLabel}
	}
	title := fmt.Sprintf("Output %q has %d equally-ordered producers", output, len(candidates))
	return pickOne(title, "Pick which rule wins this run (and future runs, until changed).", items)
}

// outputRefFor finds the candidate's declared output reference matching
// class, mirroring pkg/resolve's candidateOutputRef lookup, and falls back
// to the processor ID when the candidate declares no output of that class.
func outputRefFor(processorID, class string, candidates []*registry.Descriptor) string {
	for _, d := range candidates {
		if d.ID != processorID {
			continue
		}
		for _, p := range d.Outputs() {
			if p.Cls == class {
				return p.Default
			}
		}
	}
	return processorID
}
