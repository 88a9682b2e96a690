package config

import (
	"reflect"
	"sort"
	"strings"

	logx "postpulse/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections
// and (2) safe structured attrs for logging. Secrets (bot token, control
// token, session cookie) are never included; only their presence is.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Telegram (never log token)
	oT, nT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oT != nT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Bool("telegram.chat_set", nT.ChatID != 0),
		)
	}

	// Storage
	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// Publisher
	oP, nP := derefPublisher(oldCfg.Publisher), derefPublisher(newCfg.Publisher)
	if oP != nP {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.String("publisher.due_tolerance", strings.TrimSpace(nP.DueTolerance)),
			logx.String("publisher.attempt_timeout", strings.TrimSpace(nP.AttemptTimeout)),
			logx.String("publisher.resync_interval", strings.TrimSpace(nP.ResyncInterval)),
			logx.String("publisher.timezone", strings.TrimSpace(nP.Timezone)),
		)
	}

	// Driver (never log session cookie)
	oD, nD := derefDriver(oldCfg.Driver), derefDriver(newCfg.Driver)
	if !reflect.DeepEqual(oD, nD) {
		changed = append(changed, "driver")
		attrs = append(attrs,
			logx.String("driver.base_url", strings.TrimSpace(nD.BaseURL)),
			logx.Bool("driver.cookie_set", strings.TrimSpace(nD.SessionCookie) != ""),
			logx.Int("driver.composer_selectors", len(nD.ComposerSelectors)),
			logx.Int("driver.submit_words", len(nD.SubmitWords)),
			logx.Int("driver.rate_per_minute", nD.RatePerMinute),
		)
	}

	// Control (never log token)
	oC, nC := derefControl(oldCfg.Control), derefControl(newCfg.Control)
	if oC != nC {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", nC.Enabled),
			logx.String("control.addr", strings.TrimSpace(nC.Addr)),
			logx.Bool("control.token_set", strings.TrimSpace(nC.Token) != ""),
		)
	}

	// Notifier
	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(c *TelegramConfig) TelegramConfig {
	if c == nil {
		return TelegramConfig{}
	}
	return *c
}

func derefStorage(c *StorageConfig) StorageConfig {
	if c == nil {
		return StorageConfig{}
	}
	return *c
}

func derefPublisher(c *PublisherConfig) PublisherConfig {
	if c == nil {
		return PublisherConfig{}
	}
	return *c
}

func derefDriver(c *DriverConfig) DriverConfig {
	if c == nil {
		return DriverConfig{}
	}
	return *c
}

func derefControl(c *ControlConfig) ControlConfig {
	if c == nil {
		return ControlConfig{}
	}
	return *c
}

func derefNotifier(c *NotifierConfig) NotifierConfig {
	if c == nil {
		return NotifierConfig{}
	}
	return *c
}
