// Package render holds the renderer-neutral notification model shared by the
// drawer's concrete renderers.
package render

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"notidrawer/internal/drawer"
)

// Notification is a built, ready-to-show notification. It is the
// drawer.Handle produced by Builder.
type Notification struct {
	Slot drawer.Slot
	// Title is the conversation or summary title.
	Title string
	// Subtitle is set for named rooms whose name differs from the sender.
	Subtitle  string
	Lines     []string
	Noisy     bool
	Sound     string
	HasAvatar bool
	SendError bool
	Self      string
	BuiltAt   time.Time
}

// Text renders n as plain text, title first.
func (n Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Title)
	if n.Subtitle != "" && n.Subtitle != n.Title {
		b.WriteString(" (")
		b.WriteString(n.Subtitle)
		b.WriteString(")")
	}
	for _, l := range n.Lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	return b.String()
}

// Builder implements the Build half of drawer.Renderer.
type Builder struct {
	Now func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Builder) BuildGroup(_ context.Context, g drawer.GroupInfo, lines []drawer.Line, avatar image.Image, self string) (drawer.Handle, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	n := Notification{
		Slot:      drawer.SlotRoomMessages,
		Title:     g.DisplayName,
		Subtitle:  g.ConversationTitle,
		Lines:     make([]string, 0, len(lines)),
		Noisy:     g.ShouldAlert,
		Sound:     g.CustomSound,
		HasAvatar: avatar != nil,
		SendError: g.HasSendError,
		Self:      self,
		BuiltAt:   b.now(),
	}
	if n.Title == "" {
		n.Title = g.RoomID
	}
	for _, l := range lines {
		n.Lines = append(n.Lines, FormatLine(l))
	}
	return n, nil
}

func (b Builder) BuildSingle(_ context.Context, ev drawer.Event, self string) (drawer.Handle, error) {
	if ev.Description == "" {
		return nil, nil
	}
	return Notification{
		Slot:    drawer.SlotSingleEvent,
		Title:   ev.Description,
		Noisy:   ev.Noisy,
		Sound:   ev.Sound,
		Self:    self,
		BuiltAt: b.now(),
	}, nil
}

func (b Builder) BuildSummary(_ context.Context, title string, lines []string, noisy bool) (drawer.Handle, error) {
	return Notification{
		Slot:    drawer.SlotSummary,
		Title:   title,
		Lines:   append([]string(nil), lines...),
		Noisy:   noisy,
		BuiltAt: b.now(),
	}, nil
}

// FormatLine renders one conversation line as "Sender: body".
func FormatLine(l drawer.Line) string {
	if l.SenderName == "" {
		return l.Body
	}
	return fmt.Sprintf("%s: %s", l.SenderName, l.Body)
}

// AsNotification unwraps a handle built by Builder.
func AsNotification(h drawer.Handle) (Notification, error) {
	switch n := h.(type) {
	case Notification:
		return n, nil
	case *Notification:
		if n != nil {
			return *n, nil
		}
	}
	return Notification{}, fmt.Errorf("unexpected notification handle %T", h)
}
