// Package errors defines the bridge client's error taxonomy.
//
// Every failure that crosses a package boundary is a *BridgeError carrying a
// Kind. Callers match on kind with errors.Is against the Err* sentinels, or
// pull the structured error out with GetBridgeError.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindTransientNetwork          Kind = "transient_network"
	KindSchemaMismatch            Kind = "schema_mismatch"
	KindUnknownType               Kind = "unknown_type"
	KindUnsupportedSelector       Kind = "unsupported_selector"
	KindSignatureRecoveryMismatch Kind = "signature_recovery_mismatch"
	KindCancelled                 Kind = "cancelled"
	KindTimeout                   Kind = "timeout"
	KindRemoteRejected            Kind = "remote_rejected"
	KindSourceInitialize          Kind = "source_initialize"
	KindNotFound                  Kind = "not_found"
	KindInvalidTransition         Kind = "invalid_transition"
	KindInvalidInput              Kind = "invalid_input"
	KindInternal                  Kind = "internal"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrTransientNetwork          = &BridgeError{Kind: KindTransientNetwork}
	ErrSchemaMismatch            = &BridgeError{Kind: KindSchemaMismatch}
	ErrUnknownType               = &BridgeError{Kind: KindUnknownType}
	ErrUnsupportedSelector       = &BridgeError{Kind: KindUnsupportedSelector}
	ErrSignatureRecoveryMismatch = &BridgeError{Kind: KindSignatureRecoveryMismatch}
	ErrCancelled                 = &BridgeError{Kind: KindCancelled}
	ErrTimeout                   = &BridgeError{Kind: KindTimeout}
	ErrRemoteRejected            = &BridgeError{Kind: KindRemoteRejected}
	ErrSourceInitialize          = &BridgeError{Kind: KindSourceInitialize}
	ErrNotFound                  = &BridgeError{Kind: KindNotFound}
	ErrInvalidTransition         = &BridgeError{Kind: KindInvalidTransition}
	ErrInvalidInput              = &BridgeError{Kind: KindInvalidInput}
)

// BridgeError is the structured error type returned by bridge packages.
type BridgeError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements error.
func (e *BridgeError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a kind sentinel matching e.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	if !ok {
		return false
	}
	if t.Op == "" && t.Message == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// WithOp sets the operation name and returns e.
func (e *BridgeError) WithOp(op string) *BridgeError {
	e.Op = op
	return e
}

// WithDetails attaches a detail key and returns e.
func (e *BridgeError) WithDetails(key string, value interface{}) *BridgeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// =============================================================================
// Constructors
// =============================================================================

func newError(kind Kind, msg string, err error) *BridgeError {
	return &BridgeError{Kind: kind, Message: msg, Err: err}
}

// TransientNetwork wraps a transport failure that is safe to retry.
func TransientNetwork(err error) *BridgeError {
	return newError(KindTransientNetwork, "", err)
}

// SchemaMismatch reports a value that does not fit its declared type.
// key names the offending struct field or element, if any.
func SchemaMismatch(key, msg string) *BridgeError {
	e := newError(KindSchemaMismatch, msg, nil)
	if key != "" {
		e.Message = fmt.Sprintf("%s (key %q)", msg, key)
		e.WithDetails("key", key)
	}
	return e
}

// UnknownType reports a type tag the codec does not recognise.
func UnknownType(preview string) *BridgeError {
	return newError(KindUnknownType, fmt.Sprintf("unknown type %s", preview), nil).
		WithDetails("preview", preview)
}

// UnsupportedSelector reports an operation the selector's protocol version cannot perform.
func UnsupportedSelector(selector, op string) *BridgeError {
	return newError(KindUnsupportedSelector, fmt.Sprintf("%s not supported for selector %s", op, selector), nil).
		WithDetails("selector", selector)
}

// SignatureRecoveryMismatch reports a signature recovering to neither candidate authority.
func SignatureRecoveryMismatch(expected string) *BridgeError {
	return newError(KindSignatureRecoveryMismatch, "signature does not recover to "+expected, nil).
		WithDetails("expected", expected)
}

// Cancelled reports a cooperatively cancelled wait.
func Cancelled(err error) *BridgeError {
	return newError(KindCancelled, "", err)
}

// Timeout reports a wait that exceeded its deadline.
func Timeout(after time.Duration) *BridgeError {
	return newError(KindTimeout, fmt.Sprintf("gave up after %s", after), nil)
}

// TimedOut reports an operation stopped by an expired context deadline.
func TimedOut(err error) *BridgeError {
	return newError(KindTimeout, "deadline exceeded", err)
}

// RemoteRejected reports the signer network reverting or refusing a request.
func RemoteRejected(reason string) *BridgeError {
	return newError(KindRemoteRejected, reason, nil)
}

// SourceInitialize reports a failure preparing the source chain side of a session.
func SourceInitialize(err error) *BridgeError {
	return newError(KindSourceInitialize, "", err)
}

// NotFound reports a missing entity.
func NotFound(what, id string) *BridgeError {
	return newError(KindNotFound, fmt.Sprintf("%s %s not found", what, id), nil)
}

// InvalidTransition reports an action that is not valid in the current state.
func InvalidTransition(from, action string) *BridgeError {
	return newError(KindInvalidTransition, fmt.Sprintf("%s not allowed in state %s", action, from), nil)
}

// InvalidInput reports a caller-supplied value that failed validation.
func InvalidInput(field, msg string) *BridgeError {
	return newError(KindInvalidInput, fmt.Sprintf("%s: %s", field, msg), nil).
		WithDetails("field", field)
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *BridgeError {
	return newError(KindInternal, msg, err)
}

// =============================================================================
// Inspection
// =============================================================================

// GetBridgeError returns the first *BridgeError in err's chain, or nil.
func GetBridgeError(err error) *BridgeError {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be
	}
	return nil
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if be := GetBridgeError(err); be != nil {
		return be.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is classified as a transient network failure.
func IsTransient(err error) bool {
	return Is(err, ErrTransientNetwork)
}

// Is is errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New is errors.New.
func New(text string) error { return stderrors.New(text) }

// Join is errors.Join.
func Join(errs ...error) error { return stderrors.Join(errs...) }
