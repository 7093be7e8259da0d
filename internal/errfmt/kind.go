package errfmt

import "net/http"

// Kind is the machine-readable error taxonomy from the service's error
// handling design: every leaf error carries a Kind, and the service-method
// wrapper maps Kind to an HTTP status and response envelope.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindTenant         Kind = "tenant_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindConnection     Kind = "connection_error"
	KindOperation      Kind = "operation_error"
	KindSchemaConflict Kind = "schema_conflict"
	KindConfiguration  Kind = "configuration_error"
	KindSystem         Kind = "system_error"
	KindInternal       Kind = "internal_error"
)

// StatusFor returns the HTTP status code for a Kind, per the taxonomy.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation, KindTenant, KindOperation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindConnection:
		return http.StatusServiceUnavailable
	case KindSchemaConflict:
		return http.StatusConflict
	case KindConfiguration, KindSystem, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed error carrying a Kind, a human-readable message, and an
// optional cause chained for logging (never echoed verbatim to clients
// without sanitisation).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a typed Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a typed Error chaining cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AsError extracts a *Error from err, falling back to a generic
// KindInternal wrapping of err when it is not already typed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}
