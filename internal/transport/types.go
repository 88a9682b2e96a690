package transport

import "context"

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is a one-way notification channel.
//
// The publishing engine never receives chat input; operator control goes
// through the JSON-RPC surface. Keeping the interface send-only keeps the
// telegram adapter from owning a poll loop.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Close() error
}
