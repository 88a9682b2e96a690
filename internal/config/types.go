package config

// Config is the full daemon configuration. The decoder is strict:
// unknown keys are rejected so typos surface at load time instead of
// silently falling back to defaults.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2h").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Telegram  *TelegramConfig  `json:"telegram,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Publisher *PublisherConfig `json:"publisher,omitempty"`
	Driver    *DriverConfig    `json:"driver,omitempty"`
	Control   *ControlConfig   `json:"control,omitempty"`
	Notifier  *NotifierConfig  `json:"notifier,omitempty"`
}

// TelegramConfig holds the bot credentials for operator messaging.
// Omitting the section disables Telegram entirely (log sink and notifier).
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postpulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PublisherConfig tunes the scheduling engine.
type PublisherConfig struct {
	// DueTolerance widens the due check around a timer fire.
	DueTolerance string `json:"due_tolerance,omitempty"`
	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	// ResyncInterval is how often the wake timer is re-derived from the
	// store without a state change.
	ResyncInterval string `json:"resync_interval,omitempty"`
	// Timezone names the location for calendar-day constraint math.
	Timezone string `json:"timezone,omitempty"`
}

// DriverConfig tunes the web delivery driver. Selector and word lists
// override the built-in heuristics when the destination markup drifts.
type DriverConfig struct {
	BaseURL       string `json:"base_url"`
	SessionCookie string `json:"session_cookie,omitempty"` // do not log

	ComposerSelectors []string `json:"composer_selectors,omitempty"`
	SubmitWords       []string `json:"submit_words,omitempty"`
	ExcludeWords      []string `json:"exclude_words,omitempty"`

	SettleDelay     string `json:"settle_delay,omitempty"`
	ReadyDelay      string `json:"ready_delay,omitempty"`
	DegradedDelay   string `json:"degraded_delay,omitempty"`
	ComposerPoll    string `json:"composer_poll,omitempty"`
	ComposerTimeout string `json:"composer_timeout,omitempty"`

	RatePerMinute int `json:"rate_per_minute,omitempty"`
}

// ControlConfig controls the JSON-RPC endpoint.
//
// Security note:
//   - Prefer binding to localhost (the default, "127.0.0.1:7399").
//   - An empty token disables the endpoint regardless of Enabled.
type ControlConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // do not log
}

// NotifierConfig controls the async outcome notification pipeline.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}
