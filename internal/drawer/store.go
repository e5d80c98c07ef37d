package drawer

type insertResult uint8

const (
	inserted insertResult = iota + 1
	replaced
	kept
)

func (r insertResult) String() string {
	switch r {
	case inserted:
		return "inserted"
	case replaced:
		return "replaced"
	case kept:
		return "kept"
	default:
		return "unknown"
	}
}

// store is the ordered set of pending events: an arena plus an id -> index
// map. It is not synchronized; Manager.mu guards every access.
type store struct {
	events []Event
	index  map[string]int
}

func newStore(events []Event) *store {
	s := &store{}
	s.reset(events)
	return s
}

func (s *store) reset(events []Event) {
	s.events = make([]Event, 0, len(events))
	s.index = make(map[string]int, len(events))
	for _, ev := range events {
		if _, dup := s.index[ev.ID]; dup {
			continue
		}
		s.index[ev.ID] = len(s.events)
		s.events = append(s.events, ev)
	}
}

// insert applies the dedup policy. A synced event replaces a push preview with
// the same id, but it has already alerted once, so it is re-shown silently.
// Any other duplicate keeps the existing entry.
func (s *store) insert(ev Event) insertResult {
	i, ok := s.index[ev.ID]
	if !ok {
		s.index[ev.ID] = len(s.events)
		s.events = append(s.events, ev)
		return inserted
	}
	if !s.events[i].FromPush || ev.FromPush {
		return kept
	}
	ev.Displayed = false
	ev.Noisy = false
	s.removeWhere(func(e Event) bool { return e.ID == ev.ID })
	s.index[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	return replaced
}

func (s *store) clearAll() {
	s.events = s.events[:0]
	clear(s.index)
}

// clearRoom removes every message event of roomID and reports how many went.
func (s *store) clearRoom(roomID string) int {
	if roomID == "" {
		return 0
	}
	return s.removeWhere(func(e Event) bool { return e.IsMessage() && e.Message.RoomID == roomID })
}

func (s *store) retainMessagesOnly() int {
	return s.removeWhere(func(e Event) bool { return !e.IsMessage() })
}

func (s *store) removeWhere(drop func(Event) bool) int {
	kept := s.events[:0]
	removed := 0
	for _, ev := range s.events {
		if drop(ev) {
			delete(s.index, ev.ID)
			removed++
			continue
		}
		s.index[ev.ID] = len(kept)
		kept = append(kept, ev)
	}
	// Drop references held by the tail of the backing array.
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = Event{}
	}
	s.events = kept
	return removed
}

func (s *store) markDisplayed(ids []string) {
	for _, id := range ids {
		if i, ok := s.index[id]; ok {
			s.events[i].Displayed = true
		}
	}
}

func (s *store) isEmpty() bool { return len(s.events) == 0 }

func (s *store) len() int { return len(s.events) }

// snapshot returns a deep copy in store order.
func (s *store) snapshot() []Event {
	out := make([]Event, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.clone()
	}
	return out
}
