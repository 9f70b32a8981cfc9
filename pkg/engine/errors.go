package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass represents the classification of a reconciliation failure.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a logical failure that is not tied to a
	// single HTTP call, e.g. a missing admin password or an invalid declaration.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassInconsistentWrite indicates the server acknowledged fewer
	// documents than were submitted.
	ErrorClassInconsistentWrite ErrorClass = "inconsistent_write"

	// ErrorClassUnhealthy indicates one or more server subsystems failed their ping.
	ErrorClassUnhealthy ErrorClass = "unhealthy"
)

// Common error codes.
const (
	ErrCodeNoAdminPassword = "NO_ADMIN_PASSWORD"
	ErrCodeUninitialized   = "UNINITIALIZED"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeBadResponse     = "BAD_RESPONSE"
	ErrCodeShortWrite      = "SHORT_WRITE"
	ErrCodeServiceDown     = "SERVICE_DOWN"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from transport errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource identity that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewInconsistentWriteError reports that fewer documents were written than submitted.
func NewInconsistentWriteError(submitted, written int) *EngineError {
	return (&EngineError{
		Class:   ErrorClassInconsistentWrite,
		Message: fmt.Sprintf("submitted %d documents to index, but wrote %d", submitted, written),
		Code:    ErrCodeShortWrite,
	}).WithDetail("submitted", submitted).WithDetail("written", written)
}

// NewUnhealthyError reports the subsystems whose ping failed.
func NewUnhealthyError(services []string) *EngineError {
	return (&EngineError{
		Class:   ErrorClassUnhealthy,
		Message: fmt.Sprintf("services %s are not working", strings.Join(services, ", ")),
		Code:    ErrCodeServiceDown,
	}).WithDetail("services", services)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// IsInconsistentWrite returns true if the error reports a short index write.
func IsInconsistentWrite(err error) bool {
	return hasClass(err, ErrorClassInconsistentWrite)
}

// IsUnhealthy returns true if the error reports failing server subsystems.
func IsUnhealthy(err error) bool {
	return hasClass(err, ErrorClassUnhealthy)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// TransportError is returned by a Requester when the server answers outside
// the 2xx range, when a response validator rejects the response, or when the
// server cannot be reached at all (Status == 0).
type TransportError struct {
	// Method is the HTTP method of the failed request.
	Method string `json:"method"`

	// URL is the fully resolved request URL.
	URL string `json:"url"`

	// Status is the HTTP status code, or 0 if no response was received.
	Status int `json:"status"`

	// Body is the raw response body.
	Body []byte `json:"body,omitempty"`

	// RequestBody is the encoded request body, kept for diagnostics.
	RequestBody []byte `json:"request_body,omitempty"`

	// Message is an optional explanation added by the caller.
	Message string `json:"message,omitempty"`

	// Err is the underlying network error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
		b.WriteString(": ")
	}
	if e.Status == 0 {
		fmt.Fprintf(&b, "%s %s failed", e.Method, e.URL)
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s returned status %d", e.Method, e.URL, e.Status)
	if len(e.Body) > 0 {
		fmt.Fprintf(&b, ": %s", truncate(e.Body, 512))
	}
	return b.String()
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the server answered 404.
func (e *TransportError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsNotFound returns true if err is a TransportError carrying a 404 status.
func IsNotFound(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.NotFound()
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
