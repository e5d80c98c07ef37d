package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"notidrawer/internal/config"
	"notidrawer/internal/drawer"
	"notidrawer/internal/eventbus"
	logx "notidrawer/pkg/logx"
)

// persister writes snapshots on a cron schedule and shortly after every
// change of the pending set.
type persister struct {
	m   *drawer.Manager
	log logx.Logger
	c   *cron.Cron

	mu    sync.Mutex
	entry cron.EntryID
	spec  string

	debounce atomic.Int64 // time.Duration; <= 0 disables change-driven snapshots
}

func newPersister(m *drawer.Manager, log logx.Logger) *persister {
	cl := cronLogger{log: log}
	return &persister{
		m:   m,
		log: log,
		c: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Schedule replaces the periodic snapshot job. The previous job stays in
// place when spec does not parse.
func (p *persister) Schedule(ctx context.Context, spec string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entry != 0 && spec == p.spec {
		return nil
	}
	id, err := p.c.AddFunc(spec, func() { p.m.Persist(ctx) })
	if err != nil {
		return fmt.Errorf("persist schedule %q: %w", spec, err)
	}
	if p.entry != 0 {
		p.c.Remove(p.entry)
	}
	p.entry, p.spec = id, spec
	p.log.Debug("persist scheduled", logx.String("schedule", spec))
	return nil
}

func (p *persister) SetDebounce(d time.Duration) { p.debounce.Store(int64(d)) }

func (p *persister) Start() { p.c.Start() }

// Stop halts the schedule and waits for a running snapshot.
func (p *persister) Stop(ctx context.Context) error {
	select {
	case <-p.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run snapshots once the pending set has been quiet for the debounce
// interval after a change, until ctx is done.
func (p *persister) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(64)
	defer unsub()

	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return errors.New("event bus closed")
			}
			if e.Type != eventbus.TypeChanged {
				continue
			}
			if d := time.Duration(p.debounce.Load()); d > 0 {
				t.Reset(d)
			}
		case <-t.C:
			p.m.Persist(ctx)
		}
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Warn("cron "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
