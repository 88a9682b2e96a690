// Package notifier delivers publish outcomes to an operator chat.
//
// It subscribes to the engine's event bus and turns post.published and
// post.failed events into short Telegram messages. Delivery is
// asynchronous: a bounded queue feeds a small worker pool behind a rate
// limiter, with exponential-backoff retry per message and a dedup window
// so repeated identical outcomes don't spam the operator.
//
// The notifier is strictly best-effort. A full queue drops the message,
// and a failing Telegram API never blocks or fails the publishing engine.
package notifier
