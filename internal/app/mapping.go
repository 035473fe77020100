package app

import (
	"fmt"
	"strings"
	"time"

	"meetsync/internal/busy"
	"meetsync/internal/config"
	"meetsync/internal/debugserver"
	"meetsync/internal/httpapi"
	"meetsync/internal/inbox"
	"meetsync/internal/notifier"
	"meetsync/internal/reminder"
	"meetsync/internal/retry"
	"meetsync/internal/storage"
	"meetsync/internal/transport"
	"meetsync/internal/transport/telegram"
	logx "meetsync/pkg/logx"
)

// Mapping functions turn validated config sections into component configs.
// They also run from the reload validator, so they must not have side
// effects.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		bt, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: bt}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	attempts := nc.MaxAttempts
	if attempts <= 0 {
		attempts = notifier.MaxAttempts
	}
	return notifier.Config{
		RatePerSec:  nc.RatePerSec,
		Burst:       nc.Burst,
		BaseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		SendTimeout: timeout,
		Retry:       retry.Immediate(attempts),
	}, nil
}

func mapInboxConfig(cfg *config.Config) (inbox.Config, int, error) {
	ic := cfg.Inbox
	interval, err := config.ParseDurationOrDefault("inbox.interval", ic.Interval, inbox.DefaultInterval)
	if err != nil {
		return inbox.Config{}, 0, err
	}
	base, err := config.ParseDurationOrDefault("inbox.retry_base", ic.RetryBase, inbox.DefaultRetry.Base)
	if err != nil {
		return inbox.Config{}, 0, err
	}
	maxDelay, err := config.ParseDurationOrDefault("inbox.retry_max", ic.RetryMax, inbox.DefaultRetry.Max)
	if err != nil {
		return inbox.Config{}, 0, err
	}
	attempts := ic.MaxAttempts
	if attempts <= 0 {
		attempts = inbox.DefaultRetry.MaxAttempts
	}
	recipients := ic.MaxRecipients
	if recipients <= 0 {
		recipients = 1000
	}
	return inbox.Config{
		Interval: interval,
		Limit:    ic.Limit,
		Retry:    retry.Exponential(attempts, base, maxDelay),
	}, recipients, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder
	if s := strings.TrimSpace(rc.Schedule); s != "" {
		if _, err := reminder.ParseSchedule(s); err != nil {
			return reminder.Config{}, fmt.Errorf("reminder.schedule: %w", err)
		}
	}
	return reminder.Config{
		Enabled:     rc.Enabled,
		Schedule:    rc.Schedule,
		Timezone:    rc.Timezone,
		Concurrency: rc.Concurrency,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", hc.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = ":8080"
	}
	return httpapi.Config{
		Addr:            addr,
		ReadTimeout:     read,
		WriteTimeout:    write,
		ShutdownTimeout: shutdown,
		Debug:           strings.EqualFold(cfg.Logging.Level, "debug"),
		CORSOrigins:     hc.CORSOrigins,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debugserver.Config, error) {
	dc := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	// Profiles may stream for 30s or more.
	write, err := config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	return debugserver.Config{
		Enabled:              dc.Enabled,
		Addr:                 dc.Addr,
		Prefix:               dc.Prefix,
		Token:                dc.Token,
		AllowInsecure:        dc.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: dc.MutexProfileFraction,
		BlockProfileRate:     dc.BlockProfileRate,
	}, nil
}

// buildTransport returns the delivery transport and, for the outbox driver,
// the outbox itself so callers can inspect sent messages.
func buildTransport(cfg *config.Config, log logx.Logger) (transport.Transport, *transport.Outbox, error) {
	tc := cfg.Transport
	switch strings.ToLower(strings.TrimSpace(tc.Driver)) {
	case "", "log":
		return transport.NewLog(log), nil, nil
	case "outbox":
		out := transport.NewOutbox(transport.NewLog(log), 0)
		return out, out, nil
	case "telegram":
		timeout, err := config.ParseDurationOrDefault("transport.telegram.timeout", tc.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		t, err := telegram.New(telegram.Config{
			Token:         tc.Telegram.Token,
			Chats:         tc.Telegram.Chats,
			DefaultChatID: tc.Telegram.DefaultChatID,
			Timeout:       timeout,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram transport: %w", err)
		}
		return t, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport.driver: %s", tc.Driver)
	}
}

// buildBusy returns nil when no busy source is configured.
func buildBusy(cfg *config.Config, log logx.Logger) (busy.Source, error) {
	bc := cfg.Busy
	switch strings.ToLower(strings.TrimSpace(bc.Driver)) {
	case "", "none":
		return nil, nil
	case "ics":
		loc := time.UTC
		if tz := strings.TrimSpace(bc.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("busy.timezone: %w", err)
			}
			loc = l
		}
		var src busy.Source = &busy.ICSDir{Dir: bc.Dir, Location: loc, Log: log}
		if bc.CacheSize > 0 {
			ttl, err := config.ParseDurationField("busy.cache_ttl", bc.CacheTTL)
			if err != nil {
				return nil, err
			}
			src = busy.NewCached(src, bc.CacheSize, ttl)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown busy.driver: %s", bc.Driver)
	}
}
