package api

import (
	"errors"
	"fmt"
)

// NetworkError marks a transport-level failure (connection refused,
// timeout, DNS). Items that hit one stay pending and are retried on the
// next sync pass.
type NetworkError struct {
	Err error
}

// Error implements error.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError marks a non-2xx server response. The sync layer leaves
// the rejected item pending indefinitely: it deliberately does not
// distinguish "will never succeed" from "transient", favoring eventual
// delivery over silent data loss.
type StatusError struct {
	Status int
	Body   string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server rejected request: %d (%s)", e.Status, e.Body)
	}
	return fmt.Sprintf("server rejected request: %d", e.Status)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejected reports whether err is a server rejection.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
