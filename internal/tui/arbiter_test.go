package tui

import (
	"testing"

	"github.com/sparv-lang/engine/pkg/registry"
	"github.com/sparv-lang/engine/pkg/resolve"
	"github.com/sparv-lang/engine/pkg/rules"
)

var (
	_ resolve.Arbiter = (*Arbiter)(nil)
	_ rules.Arbiter   = (*Arbiter)(nil)
)

func TestOutputRefForFindsMatchingClassParam(t *testing.T) {
	candidates := []*registry.Descriptor{
		{
			ID: "segment:token",
			Params: []registry.Param{
				{Name: "out", Role: registry.RoleAnnotationOutput, Default: "<token>", Cls: "token"},
			},
		},
		{
			ID: "stanza:token",
			Params: []registry.Param{
				{Name: "out", Role: registry.RoleAnnotationOutput, Default: "<stanza.token>", Cls: "token"},
			},
		},
	}

	got := outputRefFor("stanza:token", "token", candidates)
	if got != "<stanza.token>" {
		t.Fatalf("outputRefFor = %q, want <stanza.token>", got)
	}
}

func TestOutputRefForFallsBackToProcessorID(t *testing.T) {
	candidates := []*registry.Descriptor{
		{ID: "segment:token", Params: nil},
	}
	got := outputRefFor("segment:token", "token", candidates)
	if got != "segment:token" {
		t.Fatalf("outputRefFor = %q, want fallback to processor ID", got)
	}
}
