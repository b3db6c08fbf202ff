package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RequestError is used when we want a specific error message and StatusCode.
// sane defaults are listed below. Routes return the message inside Err to the
// caller, so anything that should stay internal belongs in a joined error
// instead of inside the RequestError.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

// RateLimitedError carries the instant the current window resets
type RateLimitedError struct {
	ResetAt time.Time
}

func (r *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, window resets at %s", r.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter rounds up to whole seconds and is never below one.
func (r *RateLimitedError) RetryAfter(now time.Time) int {
	wait := r.ResetAt.Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInvalidKeyLen = &RequestError{Err: errors.New("invalid API key length"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrInvalidRequest      = &RequestError{Err: errors.New("invalid request body"), StatusCode: 400}
	ErrMissingFlowID       = &RequestError{Err: errors.New("flowId is required"), StatusCode: 400}
	ErrMissingQuestion     = &RequestError{Err: errors.New("question is required"), StatusCode: 400}
	ErrDuplicateRequest    = &RequestError{Err: errors.New("a request with this idempotency key was already received"), StatusCode: 409}
	ErrNoCredential        = &RequestError{Err: errors.New("no backend credential is configured: add an API key to your account or set the system backend key"), StatusCode: 503}
	ErrStoreUnavailable    = &RequestError{Err: errors.New("request tracking store unavailable, please retry"), StatusCode: 503}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}

	ErrFailedBackendReq         = &MetricsError{Msg: "failed to send http request to backend", Code: "backend_http_err"}
	ErrFailedBackendReqFromCode = &MetricsError{Msg: "backend responded with non-2xx", Code: "backend_http_status_err"}
	ErrFailedReadingResponse    = &MetricsError{Msg: "failed to read backend response", Code: "backend_response_err"}
	ErrBackendContext           = &MetricsError{Msg: "backend context canceled", Code: "backend_context_err"}
	ErrLineTooLong              = &MetricsError{Msg: "upstream sse line exceeds maximum length", Code: "sse_line_too_long"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// NewBodyTooLargeError names the configured bound in the message
func NewBodyTooLargeError(maxBytes int64) *RequestError {
	return &RequestError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Err:        fmt.Errorf("request body exceeds maximum size of %d bytes", maxBytes),
	}
}

// NewValidationError builds a 400 with the given message
func NewValidationError(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// ErrorType maps a status code onto the error taxonomy reported to callers
func ErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "ValidationError"
	case http.StatusUnauthorized:
		return "AuthError"
	case http.StatusTooManyRequests:
		return "RateLimited"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusServiceUnavailable:
		return "ConfigurationError"
	case http.StatusBadGateway:
		return "UpstreamError"
	default:
		return "InternalError"
	}
}
