package rules

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-graphviz"
)

// ToDOT renders a compiled rule set as a Graphviz DOT graph: one node per
// rule, one edge per input reference a rule shares with another
// rule's output, grounded on the teacher's pkg/render/nodelink.ToDOT.
// Inactive rules (excluded by the language filter) render dashed and grey,
// mirroring that package's subdivider-node styling.
func ToDOT(all []*Rule) string {
	var buf bytes.Buffer
	buf.WriteString("digraph rules {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=11, margin=\"0.2,0.1\"];\n")
	buf.WriteString("\n")

	sorted := make([]*Rule, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	outputOwner := map[string]*Rule{}
	for _, r := range sorted {
		for _, out := range r.Outputs {
			outputOwner[out] = r
		}
	}

	for _, r := range sorted {
		attrs := []string{fmt.Sprintf("label=%q", r.ID)}
		if !r.Active {
			attrs = append(attrs, "style=\"rounded,filled,dashed\"", "fillcolor=lightgrey", "fontcolor=gray40")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", r.ID, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	seen := map[string]bool{}
	for _, r := range sorted {
		for _, in := range r.Inputs {
			producer, ok := outputOwner[in]
			if !ok || producer == r {
				continue
			}
			edge := producer.ID + "->" + r.ID
			if seen[edge] {
				continue
			}
			seen[edge] = true
			fmt.Fprintf(&buf, "  %q -> %q;\n", producer.ID, r.ID)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders a rule-graph DOT string to SVG, grounded on the
// teacher's pkg/render/nodelink.RenderSVG.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
