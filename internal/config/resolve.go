package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "notidrawer/pkg/logx"
)

const (
	DefaultCallTimeout      = 5 * time.Second
	DefaultPulseDuration    = 3 * time.Second
	DefaultPersistSchedule  = "@every 30s"
	DefaultPersistDebounce  = 2 * time.Second
	DefaultAttentionTimeout = 5 * time.Second
	DefaultAvatarCacheSize  = 128
	DefaultAvatarMaxBytes   = 4 << 20
	DefaultAvatarMaxPixels  = 4096 * 4096
	DefaultTelegramRate     = 1
	DefaultTelegramTimeout  = 10 * time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerOpen      = 30 * time.Second
	DefaultSpoolDir         = "./spool"
)

// CronParser accepts standard five-field specs and descriptors like "@every 30s".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Settings is a validated Config with defaults applied and durations parsed.
type Settings struct {
	Logging logx.Config

	SelfDisplayName string
	CallTimeout     time.Duration
	PulseDuration   time.Duration

	Storage StorageSettings

	PersistSchedule string
	PersistDebounce time.Duration

	Attention AttentionSettings

	AvatarCacheSize int
	AvatarMaxBytes  int64
	AvatarMaxPixels int64

	Renderer RendererSettings

	IngestEnabled  bool
	IngestSpoolDir string

	Pprof PprofConfig
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

type AttentionSettings struct {
	Enabled     bool
	Command     []string
	Timeout     time.Duration
	MinInterval time.Duration
}

type RendererSettings struct {
	Driver      string
	Token       string
	ChatID      int64
	ThreadID    int
	RatePerSec  int
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Resolve validates cfg and returns its effective settings. All problems are
// reported together.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	s := &Settings{
		Logging: logx.Config{
			Level:   strings.TrimSpace(cfg.Logging.Level),
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: strings.TrimSpace(cfg.Logging.File.Path)},
		},
		SelfDisplayName: strings.TrimSpace(cfg.Drawer.SelfDisplayName),
		CallTimeout:     dur("drawer.call_timeout", cfg.Drawer.CallTimeout, DefaultCallTimeout),
		PulseDuration:   dur("drawer.pulse_duration", cfg.Drawer.PulseDuration, DefaultPulseDuration),
		AvatarCacheSize: cfg.Avatar.CacheSize,
		AvatarMaxBytes:  cfg.Avatar.MaxBytes,
		AvatarMaxPixels: cfg.Avatar.MaxPixels,
		IngestEnabled:   cfg.Ingest.Enabled,
		IngestSpoolDir:  strings.TrimSpace(cfg.Ingest.SpoolDir),
		Pprof:           cfg.Pprof,
	}
	if s.Logging.Level != "" && !logx.ValidLevel(s.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", s.Logging.Level))
	}
	if s.Logging.File.Enabled && s.Logging.File.Path == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}

	if st := cfg.Storage; st != nil {
		s.Storage = StorageSettings{
			Driver:      strings.ToLower(strings.TrimSpace(st.Driver)),
			Path:        strings.TrimSpace(st.Path),
			BusyTimeout: dur("storage.busy_timeout", st.BusyTimeout, 0),
		}
		switch s.Storage.Driver {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if s.Storage.Path == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Storage.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Storage.Driver))
		}
	}

	s.PersistSchedule = strings.TrimSpace(cfg.Persist.Schedule)
	if s.PersistSchedule == "" {
		s.PersistSchedule = DefaultPersistSchedule
	}
	if _, err := CronParser.Parse(s.PersistSchedule); err != nil {
		errs = append(errs, fmt.Errorf("persist.schedule: %w", err))
	}
	if strings.TrimSpace(cfg.Persist.Debounce) == "" {
		s.PersistDebounce = DefaultPersistDebounce
	} else {
		s.PersistDebounce = dur("persist.debounce", cfg.Persist.Debounce, 0)
	}

	s.Attention = AttentionSettings{
		Enabled:     cfg.Attention.Enabled,
		Command:     append([]string(nil), cfg.Attention.Command...),
		Timeout:     dur("attention.timeout", cfg.Attention.Timeout, DefaultAttentionTimeout),
		MinInterval: dur("attention.min_interval", cfg.Attention.MinInterval, 0),
	}

	if s.AvatarCacheSize <= 0 {
		s.AvatarCacheSize = DefaultAvatarCacheSize
	}
	if s.AvatarMaxBytes <= 0 {
		s.AvatarMaxBytes = DefaultAvatarMaxBytes
	}
	if s.AvatarMaxPixels <= 0 {
		s.AvatarMaxPixels = DefaultAvatarMaxPixels
	}

	tg := cfg.Renderer.Telegram
	s.Renderer = RendererSettings{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Renderer.Driver)),
		Token:       strings.TrimSpace(tg.Token),
		ChatID:      tg.ChatID,
		ThreadID:    tg.ThreadID,
		RatePerSec:  tg.RatePerSec,
		Timeout:     dur("renderer.telegram.timeout", tg.Timeout, DefaultTelegramTimeout),
		MaxFailures: tg.Breaker.MaxFailures,
		OpenTimeout: dur("renderer.telegram.breaker.open_timeout", tg.Breaker.OpenTimeout, DefaultBreakerOpen),
	}
	if s.Renderer.Driver == "" {
		s.Renderer.Driver = "log"
	}
	if s.Renderer.RatePerSec <= 0 {
		s.Renderer.RatePerSec = DefaultTelegramRate
	}
	if s.Renderer.MaxFailures == 0 {
		s.Renderer.MaxFailures = DefaultBreakerFailures
	}
	switch s.Renderer.Driver {
	case "log":
	case "telegram":
		if s.Renderer.Token == "" {
			errs = append(errs, errors.New("renderer.telegram.token is required"))
		}
		if s.Renderer.ChatID == 0 {
			errs = append(errs, errors.New("renderer.telegram.chat_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("renderer.driver: unknown driver %q", s.Renderer.Driver))
	}

	if s.IngestEnabled && s.IngestSpoolDir == "" {
		s.IngestSpoolDir = DefaultSpoolDir
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// parseDuration reads a Go duration string. Blank and zero values select def.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return def, fmt.Errorf("%s: %q is not a duration (want e.g. 500ms, 2s, 1m)", path, raw)
	case d < 0:
		return def, fmt.Errorf("%s: %s is negative", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
