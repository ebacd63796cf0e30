package multiblock

import (
	"errors"
	"fmt"
)

// ErrContractViolation marks calls that break the engine's usage contract
// (deregistering a populated controller, adding a part twice, ...). The call
// is aborted without side effects and the error is logged.
var ErrContractViolation = errors.New("multiblock: contract violation")

type Rule string

const (
	RuleEmpty       Rule = "empty"
	RuleSize        Rule = "size"
	RuleShell       Rule = "shell"
	RuleInterior    Rule = "interior"
	RuleCardinality Rule = "cardinality"
)

// ValidationError is the expected, recoverable outcome of a failed
// validation pass. It never leaves the controller as a panic; callers read it
// from LastValidationError.
type ValidationError struct {
	Rule   Rule
	Reason string
	Pos    *Vec3i
	Count  int
}

func (e *ValidationError) Error() string { return e.Reason }

func Invalid(rule Rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

func InvalidAt(rule Rule, pos Vec3i, format string, args ...any) *ValidationError {
	p := pos
	return &ValidationError{Rule: rule, Reason: fmt.Sprintf(format, args...), Pos: &p}
}

func contractf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}
