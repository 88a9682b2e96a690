package notifier

import "time"

// Config controls the async outcome notification pipeline.
type Config struct {
	Enabled       bool
	ChatID        int64 // Telegram chat receiving outcome messages
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

type HistoryItem struct {
	At   time.Time
	Text string
}
