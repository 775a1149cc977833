package api

import (
	"errors"
	"fmt"
)

// ErrResultNotReady indicates the backend has not finished writing the
// result yet (202 or 404 on the result endpoint).
var ErrResultNotReady = errors.New("result not ready")

// Error is a request-aware backend error with optional HTTP context.
type Error struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Error formats backend failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s: %s (status=%d)", e.Endpoint, e.Message, e.StatusCode)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Detail extracts the most specific human-readable message from an error.
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return "Unknown error occurred"
}
