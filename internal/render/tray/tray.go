// Package tray is an in-memory notification shade. It keeps what is currently
// shown and logs every change.
package tray

import (
	"context"
	"sort"
	"sync"

	"notidrawer/internal/drawer"
	"notidrawer/internal/render"
	logx "notidrawer/pkg/logx"
)

type key struct {
	tag  string
	slot drawer.Slot
}

// Shown is one visible notification.
type Shown struct {
	Tag string
	render.Notification
}

// Tray implements drawer.Renderer. It is safe for concurrent use.
type Tray struct {
	render.Builder

	log logx.Logger

	mu      sync.Mutex
	visible map[key]render.Notification
	shows   int
	cancels int
}

func New(log logx.Logger) *Tray {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tray{log: log, visible: map[key]render.Notification{}}
}

func (t *Tray) Show(_ context.Context, tag string, slot drawer.Slot, h drawer.Handle) error {
	n, err := render.AsNotification(h)
	if err != nil {
		return err
	}
	t.mu.Lock()
	_, replaced := t.visible[key{tag, slot}]
	t.visible[key{tag, slot}] = n
	t.shows++
	t.mu.Unlock()

	t.log.Info("notification shown",
		logx.String("slot", slot.String()),
		logx.String("tag", tag),
		logx.String("title", n.Title),
		logx.Int("lines", len(n.Lines)),
		logx.Bool("noisy", n.Noisy),
		logx.Bool("replaced", replaced),
	)
	return nil
}

// Cancel removes the notification; cancelling an absent one is a no-op.
func (t *Tray) Cancel(_ context.Context, tag string, slot drawer.Slot) error {
	t.mu.Lock()
	_, ok := t.visible[key{tag, slot}]
	delete(t.visible, key{tag, slot})
	t.cancels++
	t.mu.Unlock()

	if ok {
		t.log.Info("notification cancelled", logx.String("slot", slot.String()), logx.String("tag", tag))
	}
	return nil
}

// Shown returns the visible notifications sorted by slot then tag.
func (t *Tray) Shown() []Shown {
	t.mu.Lock()
	out := make([]Shown, 0, len(t.visible))
	for k, n := range t.visible {
		out = append(out, Shown{Tag: k.tag, Notification: n})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Get returns the notification shown under (tag, slot).
func (t *Tray) Get(tag string, slot drawer.Slot) (render.Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.visible[key{tag, slot}]
	return n, ok
}

// Stats returns the number of show and cancel calls so far.
func (t *Tray) Stats() (shows, cancels int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shows, t.cancels
}
