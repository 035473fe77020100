package config

import (
	"reflect"
	"sort"
	"strings"

	logx "meetsync/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.BaseURL) != strings.TrimSpace(newCfg.BaseURL) {
		changed = append(changed, "base_url")
		attrs = append(attrs, logx.String("base_url", strings.TrimSpace(newCfg.BaseURL)))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Float64("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.burst", newCfg.Notifier.Burst),
			logx.Int("notifier.max_attempts", newCfg.Notifier.MaxAttempts),
		)
	}
	if oldCfg.Inbox != newCfg.Inbox {
		changed = append(changed, "inbox")
		attrs = append(attrs,
			logx.String("inbox.interval", newCfg.Inbox.Interval),
			logx.Int("inbox.limit", newCfg.Inbox.Limit),
		)
	}
	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.schedule", newCfg.Reminder.Schedule),
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", newCfg.Transport.Driver),
			logx.Int("transport.telegram.chats", len(newCfg.Transport.Telegram.Chats)),
			logx.Bool("transport.telegram.token_set", strings.TrimSpace(newCfg.Transport.Telegram.Token) != ""),
		)
	}
	if oldCfg.Busy != newCfg.Busy {
		changed = append(changed, "busy")
		attrs = append(attrs,
			logx.String("busy.driver", newCfg.Busy.Driver),
			logx.Int("busy.cache_size", newCfg.Busy.CacheSize),
		)
	}
	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "http", "transport", "busy", "base_url":
			out = append(out, s)
		}
	}
	return out
}
