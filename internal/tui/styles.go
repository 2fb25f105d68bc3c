// Package tui implements the interactive arbitration capability object: a
// terminal picklist used to resolve a class-binding ambiguity or an
// equal-order producer conflict when a human is attached, per the design
// notes on "interactive arbitration behind a capability object". A
// non-interactive run never constructs one of these, and both
// pkg/resolve.Resolver and pkg/rules.Compiler already handle a nil Arbiter
// by failing with ErrClassAmbiguous/ErrProducerConflict.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorCyan  = lipgloss.Color("36")
	colorGreen = lipgloss.Color("35")
	colorWhite = lipgloss.Color("255")
	colorDim   = lipgloss.Color("240")
)

var (
	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleDim      = lipgloss.NewStyle().Foreground(colorDim)
	styleSelected = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	styleNormal   = lipgloss.NewStyle().Foreground(colorWhite)
)
