package config

// Config is the on-disk service configuration. JSON and YAML are both
// accepted; unknown keys are rejected.
//
// All durations are Go duration strings ("500ms", "30s", "2h"). Fields
// tagged with env can be overridden from the environment, which keeps
// secrets out of the file.
type Config struct {
	// BaseURL prefixes invitation links, e.g. "https://meet.example.com".
	BaseURL string `json:"base_url" env:"MEETSYNC_BASE_URL"`

	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Inbox     InboxConfig     `json:"inbox"`
	Reminder  ReminderConfig  `json:"reminder"`
	HTTP      HTTPConfig      `json:"http"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Transport TransportConfig `json:"transport"`
	Busy      BusyConfig      `json:"busy"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"MEETSYNC_LOG_LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the repository driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./meetsync.db" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"MEETSYNC_STORAGE_DRIVER"` // memory | sqlite
	Path        string `json:"path,omitempty" env:"MEETSYNC_STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls delivery pacing and the per-recipient retry.
//
// Defaults: rate_per_sec 5, burst 1, send_timeout 15s, max_attempts 2
// (full template then an immediate fallback). max_attempts 1 disables the
// fallback.
type NotifierConfig struct {
	RatePerSec  float64 `json:"rate_per_sec"`
	Burst       int     `json:"burst"`
	SendTimeout string  `json:"send_timeout,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
}

// InboxConfig controls per-recipient polling.
//
// Defaults: interval 30s, limit 20, max_attempts 4, retry_base 2s,
// retry_max 30s, max_recipients 1000.
type InboxConfig struct {
	Interval      string `json:"interval,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMax      string `json:"retry_max,omitempty"`
	MaxRecipients int    `json:"max_recipients,omitempty"`
}

// ReminderConfig controls the periodic reminder sweep. Schedule accepts
// cron ("0 9 * * 1-5", "@daily"), HH:MM intervals ("24:00") or durations.
type ReminderConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

type HTTPConfig struct {
	Addr            string `json:"addr" env:"MEETSYNC_HTTP_ADDR"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// DebugConfig controls the optional pprof + /metrics server.
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty" env:"MEETSYNC_DEBUG_TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// TransportConfig selects how notifications leave the process.
type TransportConfig struct {
	Driver   string         `json:"driver"` // log | outbox | telegram
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token         string           `json:"token,omitempty" env:"MEETSYNC_TELEGRAM_TOKEN"`
	DefaultChatID int64            `json:"default_chat_id,omitempty"`
	Chats         map[string]int64 `json:"chats,omitempty"` // email -> chat id
	Timeout       string           `json:"timeout,omitempty"`
}

// BusyConfig selects the source of participants' busy intervals.
type BusyConfig struct {
	Driver   string `json:"driver"` // none | ics
	Dir      string `json:"dir,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// CacheSize <= 0 disables caching.
	CacheSize int    `json:"cache_size,omitempty"`
	CacheTTL  string `json:"cache_ttl,omitempty"`
}
