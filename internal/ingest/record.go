package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"notidrawer/internal/drawer"
)

// Operation names accepted in spool files.
const (
	OpEvent     = "event"
	OpClearRoom = "clear_room"
	OpClearAll  = "clear_all"
	OpFocus     = "focus"
	OpResume    = "resume"
	OpRefresh   = "refresh"
)

var ErrUnknownOp = errors.New("unknown spool operation")

// Op is one line of a spool file.
type Op struct {
	Op              string         `json:"op"`
	RoomID          string         `json:"room_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	UserDisplayName string         `json:"user_display_name,omitempty"`
	Event           *drawer.Record `json:"event,omitempty"`
}

// ParseOp decodes and validates one spool line. An event without an id gets a
// random one, without a timestamp gets now, and without a kind is a message
// when it names a room.
func ParseOp(line []byte, now time.Time) (Op, drawer.Event, error) {
	var op Op
	if err := json.Unmarshal(line, &op); err != nil {
		return Op{}, drawer.Event{}, fmt.Errorf("decode op: %w", err)
	}
	op.Op = strings.ToLower(strings.TrimSpace(op.Op))
	switch op.Op {
	case OpEvent:
		if op.Event == nil {
			return op, drawer.Event{}, errors.New("event op without event")
		}
		if strings.TrimSpace(op.Event.ID) == "" {
			op.Event.ID = uuid.NewString()
		}
		if op.Event.Kind == "" {
			op.Event.Kind = drawer.KindSimple.String()
			if op.Event.RoomID != "" {
				op.Event.Kind = drawer.KindMessage.String()
			}
		}
		if op.Event.Timestamp.IsZero() {
			op.Event.Timestamp = now
		}
		ev := op.Event.Event()
		if !ev.Valid() {
			return op, drawer.Event{}, fmt.Errorf("%w: id=%q kind=%q", drawer.ErrInvalidEvent, op.Event.ID, op.Event.Kind)
		}
		return op, ev, nil
	case OpClearRoom:
		if strings.TrimSpace(op.RoomID) == "" {
			return op, drawer.Event{}, errors.New("clear_room without room_id")
		}
		return op, drawer.Event{}, nil
	case OpClearAll, OpFocus, OpResume, OpRefresh:
		return op, drawer.Event{}, nil
	default:
		return op, drawer.Event{}, fmt.Errorf("%w %q", ErrUnknownOp, op.Op)
	}
}
