// Package engineerr defines the sentinel error taxonomy shared by every core
// subsystem of the pipeline engine.
//
// Call sites wrap one of these with fmt.Errorf("...: %w", ErrX) and callers
// match with errors.Is. The set mirrors the "surfaced kinds" table of the
// engine's design document rather than exposing one type per package.
package engineerr

import "errors"

var (
	// ErrConfigInvalid marks a schema or value-range failure in a corpus config.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrConfigMissing marks a required key with no value anywhere in the
	// config hierarchy.
	ErrConfigMissing = errors.New("config missing")

	// ErrConfigCycle marks a parent: chain that cycles back on itself.
	ErrConfigCycle = errors.New("config parent cycle")

	// ErrConfigNotFound marks a parent: chain referencing a config that does
	// not exist on disk.
	ErrConfigNotFound = errors.New("config parent not found")

	// ErrProcessorInvalid marks a discovery-time rejection of a processor.
	ErrProcessorInvalid = errors.New("processor invalid")

	// ErrReferenceUnresolved marks a class or config placeholder inside an
	// annotation reference that cannot be expanded.
	ErrReferenceUnresolved = errors.New("reference unresolved")

	// ErrClassAmbiguous marks a class with more than one candidate producer
	// and no recorded disambiguation.
	ErrClassAmbiguous = errors.New("class ambiguous")

	// ErrProducerConflict marks two rules with equal order targeting the
	// same output.
	ErrProducerConflict = errors.New("producer conflict")

	// ErrNoProducer marks a required file with no active producer rule.
	ErrNoProducer = errors.New("no producer")

	// ErrLanguageUnsupported marks a corpus language with no active rule.
	ErrLanguageUnsupported = errors.New("language unsupported")

	// ErrRuleFailed marks a rule whose job returned non-zero status or
	// produced no outputs.
	ErrRuleFailed = errors.New("rule failed")

	// ErrSocketError marks a preloader socket failure or malformed message.
	ErrSocketError = errors.New("socket error")

	// ErrUserError marks an intentional, user-facing message raised by a
	// processor. It never carries a stack trace to the log directory.
	ErrUserError = errors.New("user error")
)

// UserFacing reports whether err should be printed as a short message
// without a stack trace, per the engine's error propagation rules.
func UserFacing(err error) bool {
	switch {
	case errors.Is(err, ErrUserError),
		errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrConfigMissing),
		errors.Is(err, ErrConfigCycle),
		errors.Is(err, ErrConfigNotFound),
		errors.Is(err, ErrProcessorInvalid),
		errors.Is(err, ErrClassAmbiguous),
		errors.Is(err, ErrProducerConflict),
		errors.Is(err, ErrNoProducer),
		errors.Is(err, ErrLanguageUnsupported):
		return true
	default:
		return false
	}
}
