package app

import (
	"context"
	"strings"

	"notidrawer/internal/attention"
	"notidrawer/internal/config"
	logx "notidrawer/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Bursts collapse to
// the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		if newCfg == nil {
			continue
		}
		a.applyConfig(ctx, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

// applyConfig hot-applies logging, attention and persistence settings. Other
// sections are only picked up on restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	s, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("config reload rejected; keeping previous", logx.Err(err))
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(s.Logging)

	for _, sec := range sections {
		switch sec {
		case "attention":
			sig, err := attention.Build(attentionSettings(s), a.logs.Logger().With(logx.String("comp", "attention")))
			if err != nil {
				a.log.Warn("invalid attention config; keeping previous", logx.Err(err))
				s.Attention = a.cur.Load().Attention
				continue
			}
			a.attn.Set(sig)
		case "persist":
			if err := a.persist.Schedule(ctx, s.PersistSchedule); err != nil {
				a.log.Warn("invalid persist schedule; keeping previous", logx.Err(err))
				s.PersistSchedule = a.cur.Load().PersistSchedule
			}
			a.persist.SetDebounce(s.PersistDebounce)
		}
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
		// Keep reporting what is actually running.
		prev := a.cur.Load()
		s.SelfDisplayName, s.CallTimeout, s.PulseDuration = prev.SelfDisplayName, prev.CallTimeout, prev.PulseDuration
		s.Storage, s.Renderer, s.Pprof = prev.Storage, prev.Renderer, prev.Pprof
		s.IngestEnabled, s.IngestSpoolDir = prev.IngestEnabled, prev.IngestSpoolDir
		s.AvatarCacheSize, s.AvatarMaxBytes, s.AvatarMaxPixels = prev.AvatarCacheSize, prev.AvatarMaxBytes, prev.AvatarMaxPixels
	}
	a.cur.Store(s)

	a.log.Info("config reloaded", fields...)
}
