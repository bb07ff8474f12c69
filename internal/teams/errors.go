package teams

import (
	"fmt"
	"net/http"
)

// RequestError reports a caller input problem. Reason is echoed verbatim.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &RequestError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports missing or unusable relay credentials.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// APIError is a failed call to the identity provider or Graph.
type APIError struct {
	Message string
	Status  int
	// RetryAfter is the upstream Retry-After hint in seconds, nil when absent.
	RetryAfter *int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// HTTPStatus is the status a transport should answer with for this error.
func (e *APIError) HTTPStatus() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return http.StatusBadGateway
}

// ErrorKind classifies a failed result for the transport layer.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidRequest
	KindConfiguration
	KindRemote
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConfiguration:
		return "configuration"
	case KindRemote:
		return "remote"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
