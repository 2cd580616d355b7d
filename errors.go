package cqlstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Connection errors are terminal for the lifetime of a ConnectionManager
	// (until an explicit Reset)
	ErrConnection = errors.New("connection failed")
	ErrClosed     = errors.New("connection closed")
	ErrState      = errors.New("invalid connection state")

	// Per-call errors
	ErrProvisioning   = errors.New("collection provisioning failed")
	ErrQuery          = errors.New("query failed")
	ErrSerialization  = errors.New("payload serialization failed")
	ErrIO             = errors.New("staged file i/o failed")
	ErrStagingCleanup = fmt.Errorf("%w: staged file not removed after commit", ErrIO)

	// Data errors
	ErrNotFound = errors.New("record not found")

	// Configuration errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidCollection = errors.New("invalid collection name")
)

// ErrorWithContext adds additional context to errors for better debugging and logging.
// Err is the classifying sentinel, Cause the underlying failure (may be nil).
type ErrorWithContext struct {
	Err     error
	Cause   error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	msg := e.Err.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As
func (e *ErrorWithContext) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Wrap classifies cause under the sentinel kind and attaches context.
// Returns nil when cause is nil.
func Wrap(kind, cause error, context map[string]interface{}) error {
	if cause == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     kind,
		Cause:   cause,
		Context: context,
	}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConnectionError reports whether err comes from the shared connection gate
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrClosed)
}

// IsCommitted reports whether a media save error happened after the record
// was durably written. Callers must treat the record as stored.
func IsCommitted(err error) bool {
	return errors.Is(err, ErrStagingCleanup)
}

// IsPermanent checks if an error will not go away by repeating the call
// on the same instance
func IsPermanent(err error) bool {
	return IsConnectionError(err) ||
		errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrInvalidCollection) ||
		errors.Is(err, ErrInvalidConfig)
}
