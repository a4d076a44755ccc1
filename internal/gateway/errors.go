package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNoToken      = errors.New("access token is required")
	ErrInvalidQuery = errors.New("invalid list query")
)

// APIError is a well-formed gateway response carrying a non-zero error code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway http %d: %s", e.Status, e.Body)
}

func resultLabel(err error) string {
	var apiErr *APIError
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.As(err, &httpErr):
		return "http_error"
	default:
		return "transport_error"
	}
}
