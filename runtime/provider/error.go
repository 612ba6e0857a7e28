package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure for retry/UX decisions, mirrored
// from goa-ai's model.ProviderErrorKind (runtime/agent/model/provider_error.go)
// minus the kinds that engine component never needs to distinguish.
type ErrorKind string

const (
	ErrorKindAuth           ErrorKind = "auth"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindUnavailable    ErrorKind = "unavailable"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// Error describes a failure surfaced by a concrete Adapter, carrying enough
// structure for the orchestrator (§4.8 failed state) and RateLimitedAdapter
// to react without parsing provider-specific error strings. Grounded on
// goa-ai's model.ProviderError, narrowed to the fields this engine's callers
// actually branch on.
type Error struct {
	Provider  string
	Operation string
	HTTPCode  int
	Kind      ErrorKind
	Message   string
	cause     error
}

// NewError builds a provider Error. provider and kind are required.
func NewError(prov, operation string, kind ErrorKind, httpCode int, message string, cause error) *Error {
	return &Error{Provider: prov, Operation: operation, Kind: kind, HTTPCode: httpCode, Message: message, cause: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	op := e.Operation
	if op == "" {
		op = "request"
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Provider, e.Kind, op, msg)
}

func (e *Error) Unwrap() error { return e.cause }

// RateLimited implements the rateLimitError interface RateLimitedAdapter
// checks for.
func (e *Error) RateLimited() bool { return e.Kind == ErrorKindRateLimited }

// AsError returns the first provider *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
