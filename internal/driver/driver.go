// Package driver delivers a post to the destination's web surface.
//
// Delivery is best-effort UI automation against markup the engine does not
// control, so failures are ordinary values (Result), not Go errors: the
// orchestrator needs the code and the retry class, never a stack.
package driver

import "context"

// Error codes carried in Result and persisted on the post record.
const (
	CodeSendError        = "SEND_ERROR"
	CodeComposerNotFound = "COMPOSER_NOT_FOUND"
	CodeSubmitNotFound   = "SUBMIT_BUTTON_NOT_FOUND"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnknown          = "UNKNOWN"
)

// Kind classifies an attempt outcome for the retry state machine.
type Kind int

const (
	// KindSuccess: the post was submitted.
	KindSuccess Kind = iota
	// KindTransient: retrying later may succeed (markup drift, network).
	KindTransient
	// KindTerminal: retrying cannot succeed without operator action.
	KindTerminal
)

// Result is the single top-level outcome of a delivery attempt.
type Result struct {
	Kind    Kind
	Code    string
	Message string
}

func (r Result) Success() bool { return r.Kind == KindSuccess }

func OK() Result { return Result{Kind: KindSuccess} }

func Transient(code, message string) Result {
	if code == "" {
		code = CodeUnknown
	}
	return Result{Kind: KindTransient, Code: code, Message: message}
}

func Terminal(code, message string) Result {
	if code == "" {
		code = CodeUnknown
	}
	return Result{Kind: KindTerminal, Code: code, Message: message}
}

// Job is one delivery request. PostID is informational (synthetic for
// publish-now jobs); the driver never touches the store.
type Job struct {
	PostID          string
	DestinationSlug string
	Title           string
	Body            string
	MediaURL        string
}

// Driver publishes a post on the destination surface.
//
// WaitForComposer reports whether the destination page looks ready to
// accept input; Publish degrades gracefully when it never does.
type Driver interface {
	Publish(ctx context.Context, job Job) Result
	WaitForComposer(ctx context.Context, slug string) bool
}
