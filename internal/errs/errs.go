// Package errs holds the error taxonomy shared across every sandbox
// component (spec §7). It generalizes the teacher's internal/jsruntime
// ErrorCode/JsError pair, which only distinguished JS-engine failures, to
// the full cross-component set: validator, limiter, isolate and subprocess
// runner all report one of these Kinds so the Executor Facade and RPC
// Bridge can classify a failure without knowing which component raised it.
package errs

import "fmt"

// Kind is one of the seven error categories spec §7 defines.
type Kind string

const (
	SyntaxError        Kind = "SyntaxError"
	RuntimeError        Kind = "RuntimeError"
	TimeoutError        Kind = "TimeoutError"
	MemoryError         Kind = "MemoryError"
	PermissionError     Kind = "PermissionError"
	SecurityError       Kind = "SecurityError"
	ResourceLimitError  Kind = "ResourceLimitError"
)

// Classified is implemented by any component-local error type that maps
// onto the shared taxonomy, so callers can do a type-switch-free
// `errors.As(err, &classified)` at the Executor Facade boundary.
type Classified interface {
	error
	ExecKind() Kind
}

// Error is the concrete, wire-friendly error carried on ExecutionResult.
type Error struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	Stack   string `json:"stack,omitempty" yaml:"stack,omitempty"`
}

func (e *Error) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Kind, e.Message, e.Stack)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) ExecKind() Kind { return e.Kind }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithStack builds an Error carrying a stack trace.
func WithStack(kind Kind, message, stack string) *Error {
	return &Error{Kind: kind, Message: message, Stack: stack}
}

// FromClassified converts any component-local error into the shared Error
// shape, falling back to RuntimeError for plain errors that never opted
// into the Classified interface.
func FromClassified(err error) *Error {
	if err == nil {
		return nil
	}
	if c, ok := err.(Classified); ok {
		return &Error{Kind: c.ExecKind(), Message: c.Error()}
	}
	return &Error{Kind: RuntimeError, Message: err.Error()}
}
