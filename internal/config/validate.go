package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Default returns a configuration that runs fully in memory and logs
// notifications instead of sending them.
func Default() *Config {
	return &Config{
		BaseURL:   "http://localhost:8080",
		Logging:   LoggingConfig{Level: "info", Console: true},
		Storage:   StorageConfig{Driver: "memory"},
		Notifier:  NotifierConfig{RatePerSec: 5, Burst: 1},
		Reminder:  ReminderConfig{Schedule: "@every 24h"},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Transport: TransportConfig{Driver: "log"},
		Busy:      BusyConfig{Driver: "none"},
	}
}

// Validate checks enums, bounds and every duration field. It collects all
// problems instead of stopping at the first one.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	tz := func(path, raw string) {
		if s := strings.TrimSpace(raw); s != "" {
			if _, err := time.LoadLocation(s); err != nil {
				add(fmt.Errorf("%s: invalid %q: %w", path, s, err))
			}
		}
	}

	if b := strings.TrimSpace(cfg.BaseURL); b != "" {
		if u, err := url.Parse(b); err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("base_url: must be an absolute URL, got %q", b))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if cfg.Notifier.RatePerSec < 0 {
		add(errors.New("notifier.rate_per_sec must be >= 0"))
	}
	if cfg.Notifier.Burst < 0 {
		add(errors.New("notifier.burst must be >= 0"))
	}
	if cfg.Notifier.MaxAttempts < 0 || cfg.Notifier.MaxAttempts > 2 {
		add(fmt.Errorf("notifier.max_attempts must be between 0 and 2, got %d", cfg.Notifier.MaxAttempts))
	}
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)

	if cfg.Inbox.Limit < 0 || cfg.Inbox.MaxAttempts < 0 || cfg.Inbox.MaxRecipients < 0 {
		add(errors.New("inbox.limit, inbox.max_attempts and inbox.max_recipients must be >= 0"))
	}
	dur("inbox.interval", cfg.Inbox.Interval)
	dur("inbox.retry_base", cfg.Inbox.RetryBase)
	dur("inbox.retry_max", cfg.Inbox.RetryMax)

	if cfg.Reminder.Concurrency < 0 {
		add(errors.New("reminder.concurrency must be >= 0"))
	}
	tz("reminder.timezone", cfg.Reminder.Timezone)

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	if cfg.Debug.Enabled {
		addr := strings.TrimSpace(cfg.Debug.Addr)
		if addr != "" && !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.Debug.Token) == "" && !cfg.Debug.AllowInsecure {
			add(fmt.Errorf("debug.addr %q is not loopback; set debug.token or debug.allow_insecure", addr))
		}
	}
	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.write_timeout", cfg.Debug.WriteTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "", "log", "outbox":
	case "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			add(errors.New("transport.telegram.token is required when transport.driver=telegram"))
		}
	default:
		add(fmt.Errorf("transport.driver: unknown %q", cfg.Transport.Driver))
	}
	dur("transport.telegram.timeout", cfg.Transport.Telegram.Timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Busy.Driver)) {
	case "", "none":
	case "ics":
		if strings.TrimSpace(cfg.Busy.Dir) == "" {
			add(errors.New("busy.dir is required when busy.driver=ics"))
		}
	default:
		add(fmt.Errorf("busy.driver: unknown %q", cfg.Busy.Driver))
	}
	tz("busy.timezone", cfg.Busy.Timezone)
	dur("busy.cache_ttl", cfg.Busy.CacheTTL)

	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
