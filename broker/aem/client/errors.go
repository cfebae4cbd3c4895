package client

import (
	"errors"
	"fmt"
)

// ServiceError is the single error kind surfaced by the broker integration.
// Status is set for HTTP responses outside the accepted range.
type ServiceError struct {
	Message string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError returns a ServiceError with a formatted message.
func NewServiceError(format string, args ...any) *ServiceError {
	return &ServiceError{Message: fmt.Sprintf(format, args...)}
}

// WrapServiceError attaches a message to err. An err that already is a
// ServiceError keeps its status.
func WrapServiceError(err error, format string, args ...any) *ServiceError {
	se := &ServiceError{Message: fmt.Sprintf(format, args...), Err: err}
	var inner *ServiceError
	if errors.As(err, &inner) {
		se.Status = inner.Status
	}
	return se
}

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
