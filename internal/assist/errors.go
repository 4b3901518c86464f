package assist

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure categories surfaced to callers of the Manager.
type ErrorKind string

const (
	KindInvalidInput         ErrorKind = "invalid_input"
	KindAlreadyInProgress    ErrorKind = "already_in_progress"
	KindNetworkError         ErrorKind = "network_error"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindRateLimited          ErrorKind = "rate_limited"
	KindServiceInternalError ErrorKind = "service_internal_error"
	KindServiceUnavailable   ErrorKind = "service_unavailable"
	KindUnknownAPIError      ErrorKind = "unknown_api_error"
	KindMalformedResponse    ErrorKind = "malformed_response"
)

var kindMessages = map[ErrorKind]string{
	KindInvalidInput:         "The alert is missing required details (vulnerability, package or severity).",
	KindAlreadyInProgress:    "An AI suggestion is already being generated. Wait for it to finish or cancel it.",
	KindNetworkError:         "Network error: the suggestion service could not be reached.",
	KindUnauthorized:         "Authentication failed. Check the configured credentials.",
	KindRateLimited:          "Rate limit exceeded. Please wait before requesting another suggestion.",
	KindServiceInternalError: "The AI service encountered an internal error.",
	KindServiceUnavailable:   "The AI service is temporarily unavailable.",
	KindUnknownAPIError:      "The suggestion service returned an unexpected error.",
	KindMalformedResponse:    "The suggestion service returned a response that could not be read.",
}

// Message returns the human-readable message for k.
func (k ErrorKind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindUnknownAPIError]
}

// Retryable reports whether starting a brand-new session could succeed.
// Usage errors are never retryable.
func (k ErrorKind) Retryable() bool {
	return k != KindInvalidInput && k != KindAlreadyInProgress
}

// Error is a classified assistance failure.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Timeout bool
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return "The suggestion request timed out."
	case e.Kind == KindUnknownAPIError && e.Detail != "":
		return fmt.Sprintf("%s (%s)", e.Kind.Message(), e.Detail)
	case e.Kind == KindInvalidInput && e.Detail != "":
		return e.Detail
	default:
		return e.Kind.Message()
	}
}

func errAlreadyInProgress() *Error {
	return &Error{Kind: KindAlreadyInProgress}
}

// IsAlreadyInProgress reports whether err was returned because another session holds
// the single-flight guard.
func IsAlreadyInProgress(err error) bool {
	var aerr *Error
	return errors.As(err, &aerr) && aerr.Kind == KindAlreadyInProgress
}

// Signal is the raw failure information a transport observed.
type Signal struct {
	StatusCode int
	NoResponse bool
	Malformed  bool
	Message    string
}

// Classify maps a transport signal to an ErrorKind. It is total and side-effect free.
func Classify(sig Signal) ErrorKind {
	switch {
	case sig.NoResponse || sig.StatusCode == 0:
		return KindNetworkError
	case sig.StatusCode == http.StatusUnauthorized:
		return KindUnauthorized
	case sig.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case sig.StatusCode == http.StatusInternalServerError:
		return KindServiceInternalError
	case sig.StatusCode == http.StatusServiceUnavailable:
		return KindServiceUnavailable
	case sig.StatusCode < 200 || sig.StatusCode > 299:
		return KindUnknownAPIError
	case sig.Malformed:
		return KindMalformedResponse
	default:
		return KindUnknownAPIError
	}
}

// TransportError is returned by transports when an exchange fails.
type TransportError struct {
	Signal
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.NoResponse:
		if e.Err != nil {
			return "no response from suggestion service: " + e.Err.Error()
		}
		return "no response from suggestion service"
	case e.Malformed:
		return "malformed suggestion response: " + e.Message
	default:
		return fmt.Sprintf("suggestion service returned status %d: %s", e.StatusCode, e.Message)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError builds a TransportError for a non-success status.
// An empty message falls back to the generic status text.
func StatusError(status int, message string) *TransportError {
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}
	return &TransportError{Signal: Signal{StatusCode: status, Message: message}}
}

// NetworkFailure builds a TransportError for an exchange that received no response.
func NetworkFailure(err error) *TransportError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &TransportError{Signal: Signal{NoResponse: true, Message: msg}, Err: err}
}

// MalformedBody builds a TransportError for a success response with an unusable body.
func MalformedBody(status int, message string) *TransportError {
	return &TransportError{Signal: Signal{StatusCode: status, Malformed: true, Message: message}}
}

// SignalFromError extracts the classifier input from a transport error.
// Errors that carry no status are treated as network failures.
func SignalFromError(err error) Signal {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Signal
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Signal{NoResponse: true, Message: msg}
}

// classifyError converts a transport error into a classified Error.
func classifyError(err error) *Error {
	sig := SignalFromError(err)
	kind := Classify(sig)
	out := &Error{Kind: kind}
	if kind == KindUnknownAPIError {
		if sig.StatusCode != 0 {
			out.Detail = fmt.Sprintf("status %d: %s", sig.StatusCode, sig.Message)
		} else {
			out.Detail = sig.Message
		}
	}
	return out
}
