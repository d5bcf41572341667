// Package simerr defines the error kinds from the simulator's error-handling
// design: configuration, trace, invariant, domain, and resource-exhaustion
// errors, each propagated the way its kind demands (fatal at the entry
// point, recovered locally, or an assertion-style abort).
package simerr

import (
	"fmt"

	pingcaperrors "github.com/pingcap/errors"
	jujuerrors "github.com/juju/errors"
)

// Kind classifies why an operation failed, per the error-handling design.
type Kind int

const (
	// KindConfiguration: malformed parameter file, out-of-range value,
	// violated cross-field constraint. Fatal at startup.
	KindConfiguration Kind = iota
	// KindTrace: EOF mid-simulation when more requests were expected.
	// Not fatal; the caller converts it into a graceful STOP_SIM.
	KindTrace
	// KindInvariantViolation: page-version ordering broken, free-block
	// accounting diverges, cleaning selected an ineligible block. Fatal,
	// assertion-style; never recovered.
	KindInvariantViolation
	// KindDomain: a request's blkno+bcount exceeds device size, or an
	// unknown event type was scheduled. Fatal per-request abort.
	KindDomain
	// KindResourceExhaustion: no free block available for active-block
	// allocation in the requested plane. Fatal; watermarks/reserve were
	// misconfigured.
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTrace:
		return "trace"
	case KindInvariantViolation:
		return "invariant-violation"
	case KindDomain:
		return "domain"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind tag. Configuration and trace
// errors are built on juju/errors (Annotatef gives the "key: offending
// value" message shape callers at the entry point print); invariant,
// domain, and resource-exhaustion errors are built on pingcap/errors
// (Trace/AddStack keep the abort-site stack for the fatal log line).
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.cause) }
func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether this kind always terminates the run.
func (e *Error) Fatal() bool {
	return e.Kind != KindTrace
}

// NewConfigurationError reports a malformed parameter-file key/value with
// the offending key and value annotated onto the message.
func NewConfigurationError(key string, value interface{}, reason string) *Error {
	cause := jujuerrors.Annotatef(jujuerrors.New(reason), "parameter %q = %v", key, value)
	return &Error{Kind: KindConfiguration, cause: cause}
}

// NewTraceError wraps a trace-file I/O or format error encountered while
// more requests were still expected.
func NewTraceError(reason string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = jujuerrors.Annotate(cause, reason)
	} else {
		wrapped = jujuerrors.New(reason)
	}
	return &Error{Kind: KindTrace, cause: wrapped}
}

// NewInvariantViolation builds an assertion-style error carrying a stack
// trace from the detection site. Callers must treat this as fatal — it
// indicates a simulator bug, never a recoverable condition.
func NewInvariantViolation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvariantViolation, cause: pingcaperrors.Errorf(format, args...)}
}

// NewDomainError reports a per-request fatal condition (out-of-range
// block, unknown event type).
func NewDomainError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDomain, cause: pingcaperrors.Errorf(format, args...)}
}

// NewResourceExhaustion reports that no eligible free block could be
// found, indicating watermarks or reserve percentage were misconfigured.
func NewResourceExhaustion(format string, args ...interface{}) *Error {
	return &Error{Kind: KindResourceExhaustion, cause: pingcaperrors.Errorf(format, args...)}
}

// StackTrace returns the pingcap/errors-formatted stack for kinds built on
// that wrapper (invariant/domain/resource-exhaustion); empty for the
// juju-wrapped kinds, which carry a message annotation instead of a stack.
func (e *Error) StackTrace() string {
	switch e.Kind {
	case KindInvariantViolation, KindDomain, KindResourceExhaustion:
		return pingcaperrors.ErrorStack(e.cause)
	default:
		return ""
	}
}

// Is supports errors.Is matching purely on Kind, ignoring the cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}
