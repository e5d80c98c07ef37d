package drawer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notidrawer/internal/eventbus"
	"notidrawer/internal/storage"
	logx "notidrawer/pkg/logx"
)

// SnapshotKey is the fixed name of the persisted pending-event blob.
const SnapshotKey = "notidrawer.notifications.cache"

const snapshotVersion = 1

type snapshotDoc struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Events  []json.RawMessage `json:"events"`
}

// Record is the flat JSON shape of one Event, shared by snapshots and spool
// files. Decoding ignores unknown fields and tolerates missing ones.
type Record struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Displayed   bool      `json:"displayed,omitempty"`
	Noisy       bool      `json:"noisy,omitempty"`
	Sound       string    `json:"sound,omitempty"`
	FromPush    bool      `json:"from_push,omitempty"`
	Timestamp   time.Time `json:"ts,omitzero"`
	Description string    `json:"description,omitempty"`

	RoomID       string `json:"room_id,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
	RoomAvatar   string `json:"room_avatar,omitempty"`
	SenderID     string `json:"sender_id,omitempty"`
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
	Body         string `json:"body,omitempty"`
	Outgoing     bool   `json:"outgoing,omitempty"`
	SendFailed   bool   `json:"send_failed,omitempty"`
}

// RecordOf flattens e.
func RecordOf(e Event) Record {
	r := Record{
		ID:          e.ID,
		Kind:        e.Kind.String(),
		Displayed:   e.Displayed,
		Noisy:       e.Noisy,
		Sound:       e.Sound,
		FromPush:    e.FromPush,
		Timestamp:   e.Timestamp,
		Description: e.Description,
	}
	if m := e.Message; m != nil {
		r.RoomID = m.RoomID
		r.RoomName = m.RoomName
		r.RoomAvatar = m.RoomAvatar
		r.SenderID = m.SenderID
		r.SenderName = m.SenderName
		r.SenderAvatar = m.SenderAvatar
		r.Body = m.Body
		r.Outgoing = m.Outgoing
		r.SendFailed = m.SendFailed
	}
	return r
}

// Event rebuilds the event. An unknown kind yields an event that is not
// Valid.
func (r Record) Event() Event {
	e := Event{
		ID:          r.ID,
		Displayed:   r.Displayed,
		Noisy:       r.Noisy,
		Sound:       r.Sound,
		FromPush:    r.FromPush,
		Timestamp:   r.Timestamp,
		Description: r.Description,
	}
	switch r.Kind {
	case "message":
		e.Kind = KindMessage
		e.Message = &Message{
			RoomID:       r.RoomID,
			RoomName:     r.RoomName,
			RoomAvatar:   r.RoomAvatar,
			SenderID:     r.SenderID,
			SenderName:   r.SenderName,
			SenderAvatar: r.SenderAvatar,
			Body:         r.Body,
			Outgoing:     r.Outgoing,
			SendFailed:   r.SendFailed,
		}
	case "simple":
		e.Kind = KindSimple
	}
	return e
}

// EncodeSnapshot serializes events in order.
func EncodeSnapshot(events []Event) ([]byte, error) {
	doc := snapshotDoc{Version: snapshotVersion, SavedAt: time.Now().UTC(), Events: make([]json.RawMessage, 0, len(events))}
	for _, e := range events {
		b, err := json.Marshal(RecordOf(e))
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		doc.Events = append(doc.Events, b)
	}
	return json.Marshal(doc)
}

// DecodeSnapshot parses a blob written by EncodeSnapshot. Records that fail to
// decode or are not valid events are skipped and counted in dropped. Only a
// blob that is not a snapshot document at all returns an error.
func DecodeSnapshot(data []byte) (events []Event, dropped int, err error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version <= 0 {
		return nil, 0, fmt.Errorf("decode snapshot: missing version")
	}
	events = make([]Event, 0, len(doc.Events))
	for _, raw := range doc.Events {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			dropped++
			continue
		}
		e := r.Event()
		if !e.Valid() {
			dropped++
			continue
		}
		events = append(events, e)
	}
	return events, dropped, nil
}

// load reads the snapshot. Any failure yields an empty set.
func (m *Manager) load(ctx context.Context) []Event {
	data, err := m.snap.Load(ctx, SnapshotKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		m.log.Error("failed to load cached notification info", logx.Err(err))
		return nil
	}
	events, dropped, err := DecodeSnapshot(data)
	if err != nil {
		m.log.Error("failed to load cached notification info", logx.Err(err))
		return nil
	}
	if dropped > 0 {
		m.log.Warn("dropped unreadable cached notifications", logx.Int("dropped", dropped))
	}
	m.log.Debug("cached notifications loaded", logx.Int("count", len(events)))
	return events
}

// Persist snapshots the pending set, or deletes the snapshot when it is empty.
// Failures are logged and swallowed.
func (m *Manager) Persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	events := m.store.snapshot()
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if len(events) == 0 {
		if err := m.snap.Delete(pctx, SnapshotKey); err != nil {
			m.log.Error("failed to delete cached notification info", logx.Err(err))
			return
		}
		m.bus.Publish(eventbus.Event{Type: eventbus.TypePersisted, Data: 0})
		return
	}

	data, err := EncodeSnapshot(events)
	if err != nil {
		m.log.Error("failed to save cached notification info", logx.Err(err))
		return
	}
	if err := m.snap.Save(pctx, SnapshotKey, data); err != nil {
		m.log.Error("failed to save cached notification info", logx.Err(err))
		return
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypePersisted, Data: len(events)})
}

type nopSnapshotter struct{}

func (nopSnapshotter) Load(context.Context, string) ([]byte, error) { return nil, storage.ErrNotFound }
func (nopSnapshotter) Save(context.Context, string, []byte) error   { return nil }
func (nopSnapshotter) Delete(context.Context, string) error         { return nil }
