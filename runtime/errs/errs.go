// Package errs defines the error taxonomy shared across the chat session
// engine. Every package in runtime/ wraps failures in a *Error so callers can
// branch on Kind without string matching, the way goa-ai's toolerrors chain
// wraps planner/tool failures.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on failure type
// without string matching (confirmation pauses, retryable timeouts, etc).
type Kind string

const (
	// BadRequest means a command was malformed (unknown type, missing arg).
	BadRequest Kind = "bad_request"
	// QueueFull means a command was rejected because the session's command
	// queue was already at MAX_QUEUE_SIZE.
	QueueFull Kind = "queue_full"
	// ModelUnknown means the model capability record could not be resolved.
	ModelUnknown Kind = "model_unknown"
	// BudgetImpossible means the last user message alone exceeds the context
	// budget; fatal for the turn.
	BudgetImpossible Kind = "budget_impossible"
	// ProviderError means the provider adapter terminated the stream
	// abnormally.
	ProviderError Kind = "provider_error"
	// Timeout means an idle or total stream timeout fired.
	Timeout Kind = "timeout"
	// ToolUnknown means a requested tool name is not registered.
	ToolUnknown Kind = "tool_unknown"
	// ToolArgsInvalid means a tool call's arguments failed schema validation.
	ToolArgsInvalid Kind = "tool_args_invalid"
	// ToolFailed means a tool executed but returned a failure.
	ToolFailed Kind = "tool_failed"
	// PatchInvalid means a diff batch was structurally invalid.
	PatchInvalid Kind = "patch_invalid"
	// PatchAmbiguous means a diff chunk's target file could not be resolved
	// to a single candidate.
	PatchAmbiguous Kind = "patch_ambiguous"
	// PatchIntroducesErrors means applying a diff batch would increase the
	// AST/lint error count, so it was rejected whole.
	PatchIntroducesErrors Kind = "patch_introduces_errors"
	// SessionClosed means a command was submitted to a closed session.
	SessionClosed Kind = "session_closed"
)

// Error is the taxonomy-tagged error returned by runtime packages.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New builds an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf formats a message according to a format specifier.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// Kind reports the taxonomy classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}
