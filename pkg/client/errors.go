package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// StatusError is a non-2xx daemon response. Message is the error text the
// daemon sent.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) work for 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

func newStatusError(code int, body string) *StatusError {
	// Handlers answer with a JSON string.
	msg := body
	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		msg = s
	}
	return &StatusError{Code: code, Message: msg}
}

// IsConflict reports whether the daemon refused an action because of the
// session state (no session, wrong phase, already running).
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusConflict
}
