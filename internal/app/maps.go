package app

import (
	"fmt"
	"strings"
	"time"

	"postpulse/internal/config"
	"postpulse/internal/control"
	"postpulse/internal/driver"
	"postpulse/internal/notifier"
	"postpulse/internal/publisher"
	"postpulse/internal/storage"
)

// mapStorageConfig resolves the storage section. An omitted section means
// the default sqlite database next to the binary; the engine always
// persists its queue.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "sqlite", Path: "./postpulse.db"}, nil
	}
	driverName := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driverName {
	case "file":
		if path == "" {
			path = "./postpulse_queue.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./postpulse.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapPublisherConfig(cfg *config.Config) (publisher.Config, error) {
	out := publisher.Config{}
	pc := cfg.Publisher
	if pc == nil {
		return out, nil
	}
	var err error
	if out.DueTolerance, err = config.ParseDurationField("publisher.due_tolerance", pc.DueTolerance); err != nil {
		return publisher.Config{}, err
	}
	if out.AttemptTimeout, err = config.ParseDurationField("publisher.attempt_timeout", pc.AttemptTimeout); err != nil {
		return publisher.Config{}, err
	}
	if out.ResyncInterval, err = config.ParseDurationField("publisher.resync_interval", pc.ResyncInterval); err != nil {
		return publisher.Config{}, err
	}
	if tz := strings.TrimSpace(pc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return publisher.Config{}, fmt.Errorf("publisher.timezone: invalid %q: %w", tz, err)
		}
		out.Timezone = tz
	}
	return out, nil
}

func mapDriverConfig(cfg *config.Config) (driver.Config, error) {
	dc := cfg.Driver
	if dc == nil {
		return driver.Config{}, fmt.Errorf("driver section is required (driver.base_url)")
	}
	if strings.TrimSpace(dc.BaseURL) == "" {
		return driver.Config{}, fmt.Errorf("driver.base_url is required")
	}
	out := driver.Config{
		BaseURL:           strings.TrimRight(strings.TrimSpace(dc.BaseURL), "/"),
		SessionCookie:     dc.SessionCookie,
		ComposerSelectors: dc.ComposerSelectors,
		SubmitWords:       dc.SubmitWords,
		ExcludeWords:      dc.ExcludeWords,
		RatePerMinute:     dc.RatePerMinute,
	}
	var err error
	if out.SettleDelay, err = config.ParseDurationField("driver.settle_delay", dc.SettleDelay); err != nil {
		return driver.Config{}, err
	}
	if out.ReadyDelay, err = config.ParseDurationField("driver.ready_delay", dc.ReadyDelay); err != nil {
		return driver.Config{}, err
	}
	if out.DegradedDelay, err = config.ParseDurationField("driver.degraded_delay", dc.DegradedDelay); err != nil {
		return driver.Config{}, err
	}
	if out.ComposerPoll, err = config.ParseDurationField("driver.composer_poll", dc.ComposerPoll); err != nil {
		return driver.Config{}, err
	}
	if out.ComposerTimeout, err = config.ParseDurationField("driver.composer_timeout", dc.ComposerTimeout); err != nil {
		return driver.Config{}, err
	}
	return out, nil
}

func mapControlConfig(cfg *config.Config, version string) control.Config {
	cc := cfg.Control
	if cc == nil {
		return control.Config{Version: version}
	}
	return control.Config{
		Enabled: cc.Enabled,
		Addr:    strings.TrimSpace(cc.Addr),
		Token:   cc.Token,
		Version: version,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{}
	if cfg.Telegram != nil {
		out.ChatID = cfg.Telegram.ChatID
	}
	nc := cfg.Notifier
	if nc == nil {
		return out, nil
	}
	out.Enabled = nc.Enabled
	out.Workers = nc.Workers
	out.QueueSize = nc.QueueSize
	out.RatePerSec = nc.RatePerSec
	out.RetryMax = nc.RetryMax
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}
