// Package attention provides ways to draw the user's attention when a noisy
// notification arrives, such as waking the screen.
package attention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "notidrawer/pkg/logx"
)

// ErrThrottled is returned by Throttle when a pulse comes too soon after the
// previous one.
var ErrThrottled = errors.New("attention pulse throttled")

// PulseEnv carries the pulse duration in milliseconds to Command.
const PulseEnv = "NOTIDRAWER_PULSE_MS"

// Signal matches drawer.AttentionSignal.
type Signal interface {
	Pulse(ctx context.Context, d time.Duration) error
}

// Log only records pulses.
type Log struct {
	Logger logx.Logger
}

func (l Log) Pulse(_ context.Context, d time.Duration) error {
	l.Logger.Info("attention pulse", logx.Duration("duration", d))
	return nil
}

// Command runs an external program for every pulse.
type Command struct {
	argv    []string
	timeout time.Duration
	log     logx.Logger
}

func NewCommand(argv []string, timeout time.Duration, log logx.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("attention command is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Command{argv: append([]string(nil), argv...), timeout: timeout, log: log}, nil
}

func (c *Command) Pulse(ctx context.Context, d time.Duration) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Env = append(os.Environ(), PulseEnv+"="+strconv.FormatInt(d.Milliseconds(), 10))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("attention command %s: %w: %s", c.argv[0], err, msg)
		}
		return fmt.Errorf("attention command %s: %w", c.argv[0], err)
	}
	c.log.Debug("attention command ran", logx.String("cmd", c.argv[0]), logx.Duration("took", time.Since(start)))
	return nil
}

// Throttle lets at most one pulse through per interval.
type Throttle struct {
	next    Signal
	limiter *rate.Limiter
}

// NewThrottle wraps next. An interval <= 0 disables throttling.
func NewThrottle(next Signal, interval time.Duration) *Throttle {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Throttle{next: next, limiter: lim}
}

func (t *Throttle) Pulse(ctx context.Context, d time.Duration) error {
	if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.next.Pulse(ctx, d)
}

// Switch forwards to a signal that can be replaced at runtime, e.g. after a
// config reload.
type Switch struct {
	cur atomic.Pointer[Signal]
}

func NewSwitch(s Signal) *Switch {
	sw := &Switch{}
	sw.Set(s)
	return sw
}

func (s *Switch) Set(sig Signal) { s.cur.Store(&sig) }

func (s *Switch) Pulse(ctx context.Context, d time.Duration) error {
	p := s.cur.Load()
	if p == nil || *p == nil {
		return nil
	}
	return (*p).Pulse(ctx, d)
}

// Settings selects and configures a signal.
type Settings struct {
	Enabled     bool
	Command     []string
	Timeout     time.Duration
	MinInterval time.Duration
}

// Build returns the signal described by s. A disabled or command-less
// configuration logs pulses instead.
func Build(s Settings, log logx.Logger) (Signal, error) {
	var sig Signal = Log{Logger: log}
	if s.Enabled && len(s.Command) > 0 {
		c, err := NewCommand(s.Command, s.Timeout, log)
		if err != nil {
			return nil, err
		}
		sig = c
	}
	if s.MinInterval > 0 {
		sig = NewThrottle(sig, s.MinInterval)
	}
	return sig, nil
}
