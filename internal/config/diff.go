package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notidrawer/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Drawer != newCfg.Drawer {
		changed = append(changed, "drawer")
		attrs = append(attrs,
			logx.Bool("drawer.self_name_set", strings.TrimSpace(newCfg.Drawer.SelfDisplayName) != ""),
			logx.String("drawer.call_timeout", strings.TrimSpace(newCfg.Drawer.CallTimeout)),
			logx.String("drawer.pulse_duration", strings.TrimSpace(newCfg.Drawer.PulseDuration)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.Persist != newCfg.Persist {
		changed = append(changed, "persist")
		attrs = append(attrs,
			logx.String("persist.schedule", strings.TrimSpace(newCfg.Persist.Schedule)),
			logx.String("persist.debounce", strings.TrimSpace(newCfg.Persist.Debounce)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Attention, newCfg.Attention) {
		changed = append(changed, "attention")
		attrs = append(attrs,
			logx.Bool("attention.enabled", newCfg.Attention.Enabled),
			logx.Bool("attention.command_set", len(newCfg.Attention.Command) > 0),
			logx.String("attention.min_interval", strings.TrimSpace(newCfg.Attention.MinInterval)),
		)
	}

	if oldCfg.Avatar != newCfg.Avatar {
		changed = append(changed, "avatar")
		attrs = append(attrs,
			logx.Int("avatar.cache_size", newCfg.Avatar.CacheSize),
			logx.Int64("avatar.max_bytes", newCfg.Avatar.MaxBytes),
			logx.Int64("avatar.max_pixels", newCfg.Avatar.MaxPixels),
		)
	}

	// Renderer (never log token)
	oR, nR := oldCfg.Renderer, newCfg.Renderer
	tokenChanged := strings.TrimSpace(oR.Telegram.Token) != strings.TrimSpace(nR.Telegram.Token)
	oR.Telegram.Token, nR.Telegram.Token = "", ""
	if tokenChanged || oR != nR {
		changed = append(changed, "renderer")
		attrs = append(attrs,
			logx.String("renderer.driver", strings.TrimSpace(nR.Driver)),
			logx.Bool("renderer.telegram.token_changed", tokenChanged),
			logx.Int64("renderer.telegram.chat_id", nR.Telegram.ChatID),
			logx.Int("renderer.telegram.rate_per_sec", nR.Telegram.RatePerSec),
		)
	}

	if oldCfg.Ingest != newCfg.Ingest {
		changed = append(changed, "ingest")
		attrs = append(attrs,
			logx.Bool("ingest.enabled", newCfg.Ingest.Enabled),
			logx.String("ingest.spool_dir", strings.TrimSpace(newCfg.Ingest.SpoolDir)),
		)
	}

	// Pprof (never log token)
	oP, nP := oldCfg.Pprof, newCfg.Pprof
	pTokenSet := strings.TrimSpace(nP.Token) != ""
	if (strings.TrimSpace(oP.Token) != "") != pTokenSet ||
		oP.Enabled != nP.Enabled ||
		strings.TrimSpace(oP.Addr) != strings.TrimSpace(nP.Addr) ||
		strings.TrimSpace(oP.Prefix) != strings.TrimSpace(nP.Prefix) ||
		oP.AllowInsecure != nP.AllowInsecure {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", nP.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(nP.Addr)),
			logx.Bool("pprof.token_set", pTokenSet),
			logx.Bool("pprof.allow_insecure", nP.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "drawer", "storage", "renderer", "ingest", "avatar", "pprof":
			out = append(out, s)
		}
	}
	return out
}
