package calibration

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse classification every pipeline failure carries.
type ErrorKind string

const (
	// KindUserAbort means a human cancelled at an interaction point.
	KindUserAbort ErrorKind = "UserAbort"
	// KindNoSupport means a required tool or capability is missing. It is
	// detected before any subprocess is spawned.
	KindNoSupport ErrorKind = "NoSupport"
	// KindNoData means an expected artifact or upstream input is absent.
	KindNoData ErrorKind = "NoData"
	// KindInternal covers non-zero tool exits and fatal tool errors.
	KindInternal ErrorKind = "Internal"
)

// Error is a pipeline failure with a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns an *Error of the given kind that keeps err as its cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// UserAbort is the error surfaced when the user cancels.
func UserAbort() *Error {
	return Errorf(KindUserAbort, "the calibration was cancelled by the user")
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for foreign errors. It returns "" for a nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err without the wrapped
// cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
