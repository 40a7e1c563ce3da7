// Package exception defines the error taxonomy of the ETL engine.
// Every error raised by the engine is an *EtlError carrying a Kind, which decides
// whether the failure is absorbed per record or ends the execution.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind classifies an EtlError. A Kind is itself an error so that callers can write
// errors.Is(err, exception.CycleError).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ConfigError is a bad job or rule definition. Rejected before an execution starts.
	ConfigError Kind = "ConfigError"
	// ExtractionError is a source failure. Per-row it is skipped, whole-source it is fatal.
	ExtractionError Kind = "ExtractionError"
	// TransformError rejects a single record; the execution continues.
	TransformError Kind = "TransformError"
	// ValidationViolation is a failed quality rule, gated by severity.
	ValidationViolation Kind = "ValidationViolation"
	// MatchAmbiguityError is only surfaced as an audit relationship.
	MatchAmbiguityError Kind = "MatchAmbiguityError"
	// TransactionError fails a load batch; the batch is rolled back.
	TransactionError Kind = "TransactionError"
	// CycleError rejects a dependency edge that would close a cycle.
	CycleError Kind = "CycleError"
	// TimeLimitExceeded fails the execution, not the worker pool.
	TimeLimitExceeded Kind = "TimeLimitExceeded"
	// NotFoundError is an unknown job, execution, rule or error id.
	NotFoundError Kind = "NotFoundError"
	// StateError is an illegal state transition (e.g. leaving a terminal status).
	StateError Kind = "StateError"
)

var fatalKinds = map[Kind]bool{
	ConfigError:       true,
	TransactionError:  true,
	CycleError:        true,
	TimeLimitExceeded: true,
}

// EtlError is the error type raised throughout the engine.
type EtlError struct {
	// Kind is the taxonomy entry.
	Kind Kind
	// Module is where the error occurred (e.g. "graph", "engine.extract").
	Module string
	// Message is a concise description.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	// StackTrace is captured at construction for debugging.
	StackTrace string

	fatal bool
}

func newError(kind Kind, module, message string, cause error, fatal bool) *EtlError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return &EtlError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: cause,
		StackTrace:  string(buf[:n]),
		fatal:       fatal,
	}
}

// New creates an EtlError whose fatality follows the kind's default.
func New(kind Kind, module, message string, cause error) *EtlError {
	return newError(kind, module, message, cause, fatalKinds[kind])
}

// Newf creates an EtlError with a formatted message. A trailing error argument is
// taken as the cause.
func Newf(kind Kind, module, format string, a ...interface{}) *EtlError {
	var cause error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			cause = err
			a = a[:len(a)-1]
		}
	}
	return newError(kind, module, fmt.Sprintf(format, a...), cause, fatalKinds[kind])
}

// NewFatal creates an EtlError that always ends the execution, whatever its kind.
// Used for whole-source extraction failures.
func NewFatal(kind Kind, module, message string, cause error) *EtlError {
	return newError(kind, module, message, cause, true)
}

// Error implements the error interface.
func (e *EtlError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *EtlError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the error's Kind.
func (e *EtlError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// IsFatal reports whether the error ends the execution.
func (e *EtlError) IsFatal() bool {
	return e.fatal
}

// IsRecoverable reports whether the error is absorbed and counted.
func (e *EtlError) IsRecoverable() bool {
	return !e.fatal
}

// KindOf returns the Kind of the first EtlError in the chain, or "" if none.
func KindOf(err error) Kind {
	var ee *EtlError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsFatal determines whether err ends the execution. Errors outside the taxonomy
// are fatal, context cancellation included.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ee *EtlError
	if errors.As(err, &ee) {
		return ee.IsFatal()
	}
	return true
}

// ExtractErrorMessage returns the Message of an EtlError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ee *EtlError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}

// errorRegistry maps error names used in configuration (skip policies) to
// sentinel instances compared with errors.Is.
var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a named error prototype. It panics on an empty name
// or nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// IsErrorOfType checks err against a registered name, a message substring, or a
// Go type name, walking the wrap chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
		t := reflect.TypeOf(cur)
		if t != nil && (t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName)) {
			return true
		}
	}
	return false
}

func init() {
	for _, k := range []Kind{
		ConfigError, ExtractionError, TransformError, ValidationViolation,
		MatchAmbiguityError, TransactionError, CycleError, TimeLimitExceeded,
		NotFoundError, StateError,
	} {
		RegisterErrorType(string(k), k)
	}
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
