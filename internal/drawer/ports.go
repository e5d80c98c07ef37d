package drawer

import (
	"context"
	"image"
	"time"
)

// Slot is one of the three logical notification channels the engine shows to.
type Slot int

const (
	SlotSummary      Slot = 0
	SlotRoomMessages Slot = 1
	SlotSingleEvent  Slot = 2
)

func (s Slot) String() string {
	switch s {
	case SlotSummary:
		return "summary"
	case SlotRoomMessages:
		return "room_messages"
	case SlotSingleEvent:
		return "single_event"
	default:
		return "unknown"
	}
}

// Handle is an opaque, renderer-specific built notification.
type Handle any

// Renderer turns render instructions into visible notifications.
//
// A Build* call returning (nil, nil) means there is nothing to show.
// The summary is always shown and cancelled with the empty tag.
type Renderer interface {
	BuildGroup(ctx context.Context, group GroupInfo, lines []Line, avatar image.Image, self string) (Handle, error)
	BuildSingle(ctx context.Context, ev Event, self string) (Handle, error)
	BuildSummary(ctx context.Context, title string, lines []string, noisy bool) (Handle, error)
	Show(ctx context.Context, tag string, slot Slot, h Handle) error
	Cancel(ctx context.Context, tag string, slot Slot) error
}

// ImageResolver loads an avatar. Decode failures are returned as errors, never
// panics.
type ImageResolver interface {
	LoadImage(ctx context.Context, path string) (image.Image, error)
}

// AttentionSignal is a best-effort screen-wake style pulse.
type AttentionSignal interface {
	Pulse(ctx context.Context, d time.Duration) error
}

// Snapshotter stores the persisted blob. storage.Snapshotter satisfies it.
type Snapshotter interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

type nopRenderer struct{}

func (nopRenderer) BuildGroup(context.Context, GroupInfo, []Line, image.Image, string) (Handle, error) {
	return nil, nil
}
func (nopRenderer) BuildSingle(context.Context, Event, string) (Handle, error) { return nil, nil }
func (nopRenderer) BuildSummary(context.Context, string, []string, bool) (Handle, error) {
	return nil, nil
}
func (nopRenderer) Show(context.Context, string, Slot, Handle) error { return nil }
func (nopRenderer) Cancel(context.Context, string, Slot) error       { return nil }

type nopImages struct{}

func (nopImages) LoadImage(context.Context, string) (image.Image, error) { return nil, nil }

type nopAttention struct{}

func (nopAttention) Pulse(context.Context, time.Duration) error { return nil }
