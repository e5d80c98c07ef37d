package drawer

import (
	"errors"
	"time"
)

var ErrInvalidEvent = errors.New("invalid notifiable event")

// Kind distinguishes the two notifiable event variants.
type Kind uint8

const (
	KindSimple Kind = iota + 1
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// FailedToSendBody replaces the body of an outgoing message that failed to send.
const FailedToSendBody = "** Failed to send - please open room"

// Event is one pending notifiable occurrence.
//
// Message is set iff Kind == KindMessage. Optional string fields use "" for
// "absent".
type Event struct {
	ID        string
	Kind      Kind
	Displayed bool
	Noisy     bool
	Sound     string
	FromPush  bool
	Timestamp time.Time

	// Description is the text of a simple event.
	Description string

	Message *Message
}

// Message carries the room-scoped fields of a message event.
type Message struct {
	RoomID       string
	RoomName     string
	RoomAvatar   string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Body         string
	Outgoing     bool
	SendFailed   bool
}

func NewMessage(id string, m Message) Event {
	return Event{ID: id, Kind: KindMessage, Timestamp: time.Now(), Message: &m}
}

func NewSimple(id, description string) Event {
	return Event{ID: id, Kind: KindSimple, Timestamp: time.Now(), Description: description}
}

func (e Event) IsMessage() bool { return e.Kind == KindMessage && e.Message != nil }

// RoomID returns the grouping key, "" for simple events.
func (e Event) RoomID() string {
	if !e.IsMessage() {
		return ""
	}
	return e.Message.RoomID
}

// Valid reports whether e satisfies the notifiable event contract.
func (e Event) Valid() bool {
	if e.ID == "" {
		return false
	}
	switch e.Kind {
	case KindSimple:
		return e.Message == nil
	case KindMessage:
		return e.Message != nil && e.Message.RoomID != ""
	default:
		return false
	}
}

// clone returns a copy that shares no pointers with e.
func (e Event) clone() Event {
	if e.Message != nil {
		m := *e.Message
		e.Message = &m
	}
	return e
}

// GroupInfo describes one room group computed by a refresh pass. It is never
// persisted.
type GroupInfo struct {
	RoomID      string
	DisplayName string
	// ConversationTitle is set only when DisplayName differs from the first
	// sender's name, i.e. when the group is a named conversation.
	ConversationTitle string
	AvatarPath        string

	HasNewEvent  bool
	ShouldAlert  bool
	CustomSound  string
	HasSendError bool
}

// Line is one message inside a group render.
type Line struct {
	SenderName string
	Body       string
	Timestamp  time.Time
}
