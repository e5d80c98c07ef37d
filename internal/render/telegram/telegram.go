// Package telegram shows drawer notifications as messages in a Telegram chat.
// Each (tag, slot) owns the messages it sent; showing again edits or
// replaces them and cancelling deletes them.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"notidrawer/internal/drawer"
	"notidrawer/internal/render"
	logx "notidrawer/pkg/logx"
)

// MaxMessageLen is Telegram's limit for a text message, in characters.
const MaxMessageLen = 4096

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	RatePerSec  int
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	// URL overrides the Bot API endpoint.
	URL string
}

// api is the part of *tele.Bot the renderer uses.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

type key struct {
	tag  string
	slot drawer.Slot
}

// Renderer implements drawer.Renderer.
type Renderer struct {
	render.Builder

	cfg     Config
	log     logx.Logger
	bot     api
	chat    *tele.Chat
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	sent map[key][]int
}

func New(cfg Config, log logx.Logger) (*Renderer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newRenderer(cfg, b, log), nil
}

func newRenderer(cfg Config, bot api, log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	r := &Renderer{
		cfg:     cfg,
		log:     log,
		bot:     bot,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		sent:    map[key][]int{},
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isBenign(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("telegram circuit breaker state changed",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
		},
	})
	return r
}

// call paces fn with the limiter and runs it through the breaker.
func (r *Renderer) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.breaker.Execute(fn)
}

// isBenign reports API errors about messages already in the wanted state.
// They do not count against the breaker.
func isBenign(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message is not modified") ||
		strings.Contains(s, "message to delete not found") ||
		strings.Contains(s, "message to edit not found")
}

func (r *Renderer) sendOptions(silent bool) *tele.SendOptions {
	return &tele.SendOptions{
		ThreadID:              r.cfg.ThreadID,
		DisableNotification:   silent,
		DisableWebPagePreview: true,
	}
}

// Show sends n, or edits the messages already sent for (tag, slot). A noisy
// notification is always sent anew so the chat client plays a sound.
func (r *Renderer) Show(ctx context.Context, tag string, slot drawer.Slot, h drawer.Handle) error {
	n, err := render.AsNotification(h)
	if err != nil {
		return err
	}
	chunks := SplitText(n.Text(), MaxMessageLen)

	k := key{tag, slot}
	r.mu.Lock()
	prev := r.sent[k]
	r.mu.Unlock()

	if len(prev) == len(chunks) && !n.Noisy {
		if err := r.edit(ctx, prev, chunks); err == nil {
			return nil
		}
	}
	if len(prev) > 0 {
		r.deleteAll(ctx, prev)
	}

	ids := make([]int, 0, len(chunks))
	for i, text := range chunks {
		// Only the first chunk may ring.
		silent := !n.Noisy || i > 0
		v, err := r.call(ctx, func() (any, error) {
			return r.bot.Send(r.chat, text, r.sendOptions(silent))
		})
		if err != nil {
			r.remember(k, ids)
			return fmt.Errorf("telegram send: %w", err)
		}
		if m, ok := v.(*tele.Message); ok && m != nil {
			ids = append(ids, m.ID)
		}
	}
	r.remember(k, ids)
	r.log.Debug("telegram notification sent",
		logx.String("tag", tag),
		logx.String("slot", slot.String()),
		logx.Int("messages", len(ids)),
		logx.Bool("noisy", n.Noisy),
	)
	return nil
}

func (r *Renderer) edit(ctx context.Context, ids []int, chunks []string) error {
	for i, id := range ids {
		msg := &tele.Message{ID: id, Chat: r.chat}
		text := chunks[i]
		_, err := r.call(ctx, func() (any, error) {
			return r.bot.Edit(msg, text, r.sendOptions(true))
		})
		if err != nil && !isBenign(err) {
			r.log.Debug("telegram edit failed; resending", logx.Int("message_id", id), logx.Err(err))
			return err
		}
	}
	return nil
}

// Cancel deletes the messages sent for (tag, slot).
func (r *Renderer) Cancel(ctx context.Context, tag string, slot drawer.Slot) error {
	k := key{tag, slot}
	r.mu.Lock()
	ids := r.sent[k]
	delete(r.sent, k)
	r.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	if failed := r.deleteAll(ctx, ids); failed > 0 {
		return fmt.Errorf("telegram delete: %d of %d messages not deleted", failed, len(ids))
	}
	return nil
}

func (r *Renderer) deleteAll(ctx context.Context, ids []int) (failed int) {
	for _, id := range ids {
		msg := &tele.Message{ID: id, Chat: r.chat}
		_, err := r.call(ctx, func() (any, error) { return nil, r.bot.Delete(msg) })
		if err != nil && !isBenign(err) {
			failed++
			r.log.Warn("telegram delete failed", logx.Int("message_id", id), logx.Err(err))
		}
	}
	return failed
}

func (r *Renderer) remember(k key, ids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		delete(r.sent, k)
		return
	}
	r.sent[k] = ids
}

// SplitText cuts s into chunks of at most max characters, preferring line
// boundaries.
func SplitText(s string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return []string{s}
	}
	var out []string
	for utf8.RuneCountInString(s) > max {
		cut := byteOffset(s, max)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			out = append(out, s[:nl])
			s = s[nl+1:]
			continue
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
