package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"notidrawer/internal/attention"
	"notidrawer/internal/avatar"
	"notidrawer/internal/config"
	"notidrawer/internal/drawer"
	"notidrawer/internal/eventbus"
	"notidrawer/internal/ingest"
	"notidrawer/internal/observability/pprof"
	"notidrawer/internal/render/telegram"
	"notidrawer/internal/render/tray"
	"notidrawer/internal/runtime/supervisor"
	"notidrawer/internal/storage"
	logx "notidrawer/pkg/logx"
)

// App wires the notification manager to its storage, renderer and inputs.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	cur  atomic.Pointer[config.Settings]
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Snapshotter
	renderer drawer.Renderer
	avatars  *avatar.Resolver
	attn     *attention.Switch
	drawer   *drawer.Manager
	persist  *persister
	spool    *ingest.Spool
	pprof    *pprof.Service

	startedAt time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.NewService(s.Logging)
	log = log.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return logSvc.Logger().With(logx.String("comp", name)) }

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
	}
	a.cur.Store(s)

	// Anything opened before a failure is released here.
	ok := false
	defer func() {
		if !ok {
			a.closeStore()
			_ = logSvc.Close()
		}
	}()

	st, err := storage.Open(storage.Config{
		Driver:      s.Storage.Driver,
		Path:        s.Storage.Path,
		BusyTimeout: s.Storage.BusyTimeout,
	}, comp("storage"))
	if err != nil {
		return nil, err
	}
	if st != nil {
		a.store = st
		log.Info("storage enabled", logx.String("driver", s.Storage.Driver))
	} else {
		log.Info("storage disabled; pending notifications are not kept across restarts")
	}

	if a.renderer, err = buildRenderer(s.Renderer, comp("renderer")); err != nil {
		return nil, err
	}
	if a.avatars, err = avatar.NewResolver(s.AvatarCacheSize, s.AvatarMaxBytes, s.AvatarMaxPixels, comp("avatar")); err != nil {
		return nil, err
	}
	sig, err := attention.Build(attentionSettings(s), comp("attention"))
	if err != nil {
		return nil, err
	}
	a.attn = attention.NewSwitch(sig)

	opts := []drawer.Option{
		drawer.WithRenderer(a.renderer),
		drawer.WithImageResolver(a.avatars),
		drawer.WithAttention(a.attn),
		drawer.WithLogger(comp("drawer")),
		drawer.WithBus(a.bus),
		drawer.WithCallTimeout(s.CallTimeout),
		drawer.WithPulseDuration(s.PulseDuration),
		drawer.WithSelfName(s.SelfDisplayName),
	}
	if a.store != nil {
		opts = append(opts, drawer.WithSnapshotter(a.store))
	}
	a.drawer = drawer.NewManager(context.Background(), opts...)

	a.persist = newPersister(a.drawer, comp("persist"))
	a.persist.SetDebounce(s.PersistDebounce)

	if s.IngestEnabled {
		if a.spool, err = ingest.New(s.IngestSpoolDir, a.drawer, comp("ingest")); err != nil {
			return nil, err
		}
	}
	if s.Pprof.Enabled {
		a.pprof = pprof.New(pprof.Config{
			Addr:          s.Pprof.Addr,
			Prefix:        s.Pprof.Prefix,
			Token:         s.Pprof.Token,
			AllowInsecure: s.Pprof.AllowInsecure,
		}, a.Status, comp("pprof"))
	}

	ok = true
	return a, nil
}

func buildRenderer(s config.RendererSettings, log logx.Logger) (drawer.Renderer, error) {
	switch s.Driver {
	case "telegram":
		r, err := telegram.New(telegram.Config{
			Token:       s.Token,
			ChatID:      s.ChatID,
			ThreadID:    s.ThreadID,
			RatePerSec:  s.RatePerSec,
			Timeout:     s.Timeout,
			MaxFailures: s.MaxFailures,
			OpenTimeout: s.OpenTimeout,
		}, log.With(logx.String("driver", "telegram")))
		if err != nil {
			return nil, err
		}
		return r, nil
	case "", "log":
		return tray.New(log.With(logx.String("driver", "log"))), nil
	default:
		return nil, fmt.Errorf("unknown renderer driver %q", s.Driver)
	}
}

func attentionSettings(s *config.Settings) attention.Settings {
	return attention.Settings{
		Enabled:     s.Attention.Enabled,
		Command:     s.Attention.Command,
		Timeout:     s.Attention.Timeout,
		MinInterval: s.Attention.MinInterval,
	}
}

// Drawer returns the notification manager.
func (a *App) Drawer() *drawer.Manager { return a.drawer }

// Err returns the first error reported by a supervised goroutine.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.startedAt = time.Now()
	run := a.sup.Context()
	s := a.cur.Load()

	// Reject a reload before it is committed when it does not resolve.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.persist.Schedule(run, s.PersistSchedule); err != nil {
		return err
	}
	a.persist.Start()

	a.sup.Go("persist.debounce", func(c context.Context) error {
		return a.persist.Run(c, a.bus)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.spool != nil {
		a.sup.GoRestart("ingest.spool", time.Second, 30*time.Second, a.spool.Run)
	}
	if a.pprof != nil {
		a.sup.GoRestart("pprof", time.Second, time.Minute, a.pprof.Serve)
	}

	// Show whatever was restored from the snapshot.
	if !a.drawer.IsEmpty() {
		res := a.drawer.Refresh(run)
		a.log.Info("restored pending notifications",
			logx.Int("pending", a.drawer.Len()),
			logx.Int("groups", res.GroupsRendered),
			logx.Int("singles", res.SinglesRendered),
		)
	}

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("renderer", s.Renderer.Driver),
		logx.Bool("storage", a.store != nil),
		logx.Bool("ingest", a.spool != nil),
		logx.Bool("pprof", a.pprof != nil),
	)
	return nil
}

// Stop halts background work, writes a final snapshot and releases
// resources. Every step is bounded so one component cannot stall shutdown.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("supervisor", 3*time.Second, a.sup.Stop)
	step("persist.cron", 2*time.Second, a.persist.Stop)
	step("persist.final", 3*time.Second, func(c context.Context) error {
		a.drawer.Persist(c)
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		a.closeStore()
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.store = nil
}

// Status is the document served at /status.
type Status struct {
	StartedAt   time.Time          `json:"started_at"`
	Uptime      string             `json:"uptime"`
	Pending     int                `json:"pending"`
	FocusedRoom string             `json:"focused_room,omitempty"`
	Renderer    string             `json:"renderer"`
	Storage     string             `json:"storage"`
	Avatars     int                `json:"avatars_cached"`
	Shows       int                `json:"shows,omitempty"`
	Cancels     int                `json:"cancels,omitempty"`
	Goroutines  []supervisor.Stats `json:"goroutines,omitempty"`
}

func (a *App) Status() any {
	s := a.cur.Load()
	st := Status{
		StartedAt:   a.startedAt,
		Uptime:      time.Since(a.startedAt).Truncate(time.Second).String(),
		Pending:     a.drawer.Len(),
		FocusedRoom: a.drawer.FocusedRoom(),
		Renderer:    s.Renderer.Driver,
		Storage:     s.Storage.Driver,
		Avatars:     a.avatars.Len(),
	}
	if st.Storage == "" {
		st.Storage = "none"
	}
	if t, ok := a.renderer.(*tray.Tray); ok {
		st.Shows, st.Cancels = t.Stats()
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}
