package hikvision

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned when an alert stream record cannot be parsed
var ErrMalformedRecord = errors.New("malformed alert record")

// StatusError is returned for non-2xx device responses
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsClientError reports whether the device answered with a 4xx status
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsClientError reports whether err wraps a 4xx *StatusError
func IsClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.IsClientError()
}
