package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Drawer    DrawerConfig    `json:"drawer"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Persist   PersistConfig   `json:"persist"`
	Attention AttentionConfig `json:"attention"`
	Avatar    AvatarConfig    `json:"avatar"`
	Renderer  RendererConfig  `json:"renderer"`
	Ingest    IngestConfig    `json:"ingest"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DrawerConfig tunes the notification manager.
//
// Defaults:
//   - call_timeout: "5s"
//   - pulse_duration: "3s"
type DrawerConfig struct {
	SelfDisplayName string `json:"self_display_name,omitempty"`
	CallTimeout     string `json:"call_timeout,omitempty"`
	PulseDuration   string `json:"pulse_duration,omitempty"`
}

// StorageConfig controls where the pending set is snapshotted.
// Nil means persistence is disabled.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./notidrawer_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// PersistConfig controls when snapshots are written.
//
// Schedule is a cron spec (robfig/cron, with descriptors such as "@every 30s").
// Debounce delays the snapshot that follows a mutation; "0s" disables
// mutation-driven persistence and leaves only the schedule.
type PersistConfig struct {
	Schedule string `json:"schedule,omitempty"` // default "@every 30s"
	Debounce string `json:"debounce,omitempty"` // default "2s"
}

// AttentionConfig controls the screen-wake signal.
//
// When disabled, pulses are only logged.
type AttentionConfig struct {
	Enabled     bool     `json:"enabled"`
	Command     []string `json:"command,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`      // default "5s"
	MinInterval string   `json:"min_interval,omitempty"` // default "0s" (no throttle)
}

type AvatarConfig struct {
	CacheSize int   `json:"cache_size,omitempty"` // default 128
	MaxBytes  int64 `json:"max_bytes,omitempty"`  // default 4 MiB
	MaxPixels int64 `json:"max_pixels,omitempty"` // width*height, default 4096*4096
}

// RendererConfig selects where notifications are shown.
//
// Driver values:
//   - "log" (default): in-memory tray that logs every show/cancel
//   - "telegram": one chat message per notification
type RendererConfig struct {
	Driver   string         `json:"driver,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token      string        `json:"token,omitempty"` // do not log
	ChatID     int64         `json:"chat_id,omitempty"`
	ThreadID   int           `json:"thread_id,omitempty"`
	RatePerSec int           `json:"rate_per_sec,omitempty"` // default 1
	Timeout    string        `json:"timeout,omitempty"`      // HTTP client timeout, default "10s"
	Breaker    BreakerConfig `json:"breaker"`
}

// BreakerConfig configures the circuit breaker around the Telegram API.
type BreakerConfig struct {
	MaxFailures uint32 `json:"max_failures,omitempty"` // default 5
	OpenTimeout string `json:"open_timeout,omitempty"` // default "30s"
}

// IngestConfig controls the spool directory watcher.
type IngestConfig struct {
	Enabled  bool   `json:"enabled"`
	SpoolDir string `json:"spool_dir,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
