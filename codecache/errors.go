package codecache

// errors.go implements the typed error model from spec.md §7: a closed set
// of error kinds, each tagged with a Location so callers can build
// diagnostics without string-matching messages.
//
// © codecache authors.

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds surfaced by the core, one per spec.md §7
// bullet.
type Code uint8

const (
	CodeMissingDependency Code = iota + 1
	CodeCyclicModuleDependency
	CodeMaxDependencyDepthReached
	CodeCodeDeserializationError
	CodeVerificationError
	CodeFunctionResolutionFailure
	CodeTypeResolutionFailure
	CodeNumberOfTypeArgumentsMismatch
	CodeConstraintNotSatisfied
	CodeTooManyTypeNodes
	CodeVMMaxValueDepthReached
	CodeUnknownInvariantViolation
)

func (c Code) String() string {
	switch c {
	case CodeMissingDependency:
		return "MissingDependency"
	case CodeCyclicModuleDependency:
		return "CyclicModuleDependency"
	case CodeMaxDependencyDepthReached:
		return "MaxDependencyDepthReached"
	case CodeCodeDeserializationError:
		return "CodeDeserializationError"
	case CodeVerificationError:
		return "VerificationError"
	case CodeFunctionResolutionFailure:
		return "FunctionResolutionFailure"
	case CodeTypeResolutionFailure:
		return "TypeResolutionFailure"
	case CodeNumberOfTypeArgumentsMismatch:
		return "NumberOfTypeArgumentsMismatch"
	case CodeConstraintNotSatisfied:
		return "ConstraintNotSatisfied"
	case CodeTooManyTypeNodes:
		return "TooManyTypeNodes"
	case CodeVMMaxValueDepthReached:
		return "VmMaxValueDepthReached"
	case CodeUnknownInvariantViolation:
		return "UnknownInvariantViolation"
	default:
		return "Unknown"
	}
}

// LocationKind tags which of the three Location shapes a LoaderError carries.
type LocationKind uint8

const (
	LocationUndefined LocationKind = iota
	LocationModule
	LocationScript
)

// Location is carried by every LoaderError (spec.md §7 "User-visible
// failure behavior").
type Location struct {
	Kind     LocationKind
	ModuleID ModuleId // valid when Kind == LocationModule
}

func (l Location) String() string {
	switch l.Kind {
	case LocationModule:
		return l.ModuleID.String()
	case LocationScript:
		return "<script>"
	default:
		return "<undefined>"
	}
}

// LoaderError is the concrete error type returned by every exported
// operation. Errors are never swallowed into defaults (spec.md §7).
type LoaderError struct {
	Code     Code
	Location Location
	Message  string
	Cause    error
}

func (e *LoaderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Code, e.Location, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Location, e.Message)
}

func (e *LoaderError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, codecache.ErrCyclicModuleDependency)-style checks
// against the Code alone, ignoring Location/Message/Cause.
func (e *LoaderError) Is(target error) bool {
	var other *LoaderError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func newErr(code Code, loc Location, msg string, cause error) *LoaderError {
	return &LoaderError{Code: code, Location: loc, Message: msg, Cause: cause}
}

func undefinedLoc() Location { return Location{Kind: LocationUndefined} }

func moduleLoc(id ModuleId) Location { return Location{Kind: LocationModule, ModuleID: id} }

func scriptLoc() Location { return Location{Kind: LocationScript} }

// Sentinel codes for errors.Is comparisons where callers only care about the
// kind, matching the pattern used by other components of the corpus (e.g.
// the teacher's pkg/config.go named sentinel errors), but expressed through
// the typed Code field rather than distinct package-level error values, so
// that Location/Cause are never lost in the comparison.
var (
	ErrMissingDependency           = &LoaderError{Code: CodeMissingDependency}
	ErrCyclicModuleDependency      = &LoaderError{Code: CodeCyclicModuleDependency}
	ErrMaxDependencyDepthReached   = &LoaderError{Code: CodeMaxDependencyDepthReached}
	ErrCodeDeserializationError    = &LoaderError{Code: CodeCodeDeserializationError}
	ErrVerificationError           = &LoaderError{Code: CodeVerificationError}
	ErrFunctionResolutionFailure   = &LoaderError{Code: CodeFunctionResolutionFailure}
	ErrTypeResolutionFailure       = &LoaderError{Code: CodeTypeResolutionFailure}
	ErrNumberOfTypeArgsMismatch    = &LoaderError{Code: CodeNumberOfTypeArgumentsMismatch}
	ErrConstraintNotSatisfied      = &LoaderError{Code: CodeConstraintNotSatisfied}
	ErrTooManyTypeNodes            = &LoaderError{Code: CodeTooManyTypeNodes}
	ErrVMMaxValueDepthReached      = &LoaderError{Code: CodeVMMaxValueDepthReached}
	ErrUnknownInvariantViolation   = &LoaderError{Code: CodeUnknownInvariantViolation}
)
