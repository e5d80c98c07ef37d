package drawer

import "testing"

func msg(id, room, sender, body string) Event {
	return NewMessage(id, Message{RoomID: room, SenderName: sender, Body: body})
}

func TestStoreInsertReplacesPushPreview(t *testing.T) {
	s := newStore(nil)
	push := msg("e1", "R1", "Alice", "encrypted")
	push.FromPush = true
	push.Noisy = true
	push.Displayed = true
	s.insert(push)
	s.insert(msg("e0", "R1", "Alice", "earlier"))

	synced := msg("e1", "R1", "Alice", "hello in clear")
	synced.Noisy = true
	synced.Displayed = true
	if got := s.insert(synced); got != replaced {
		t.Fatalf("insert result = %v, want replaced", got)
	}
	if s.len() != 2 {
		t.Fatalf("len = %d, want 2", s.len())
	}
	last := s.events[len(s.events)-1]
	if last.ID != "e1" || last.Message.Body != "hello in clear" {
		t.Fatalf("replacement not moved to end: %+v", last)
	}
	if last.Displayed || last.Noisy {
		t.Fatalf("replacement must be reset: displayed=%v noisy=%v", last.Displayed, last.Noisy)
	}
	if s.index["e1"] != 1 || s.index["e0"] != 0 {
		t.Fatalf("index out of sync: %v", s.index)
	}
}

func TestStoreInsertKeepsExisting(t *testing.T) {
	tests := []struct {
		name         string
		existingPush bool
		newPush      bool
	}{
		{name: "both synced", existingPush: false, newPush: false},
		{name: "both push", existingPush: true, newPush: true},
		{name: "synced then push", existingPush: false, newPush: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newStore(nil)
			first := msg("e1", "R1", "Alice", "first")
			first.FromPush = tt.existingPush
			first.Displayed = true
			s.insert(first)

			second := msg("e1", "R1", "Alice", "second")
			second.FromPush = tt.newPush
			if got := s.insert(second); got != kept {
				t.Fatalf("insert result = %v, want kept", got)
			}
			if s.len() != 1 {
				t.Fatalf("len = %d, want 1", s.len())
			}
			if s.events[0].Message.Body != "first" || !s.events[0].Displayed {
				t.Fatalf("existing entry changed: %+v", s.events[0])
			}
		})
	}
}

func TestStoreClearRoom(t *testing.T) {
	s := newStore(nil)
	s.insert(msg("a1", "A", "Alice", "x"))
	s.insert(NewSimple("s1", "invite"))
	s.insert(msg("b1", "B", "Bob", "y"))
	s.insert(msg("a2", "A", "Alice", "z"))

	if n := s.clearRoom(""); n != 0 {
		t.Fatalf("clearRoom(\"\") removed %d", n)
	}
	if n := s.clearRoom("A"); n != 2 {
		t.Fatalf("clearRoom(A) removed %d, want 2", n)
	}
	var ids []string
	for _, e := range s.events {
		ids = append(ids, e.ID)
	}
	if len(ids) != 2 || ids[0] != "s1" || ids[1] != "b1" {
		t.Fatalf("remaining = %v, want [s1 b1]", ids)
	}
	if _, ok := s.index["a1"]; ok {
		t.Fatal("a1 still indexed")
	}
	if s.index["b1"] != 1 {
		t.Fatalf("b1 index = %d, want 1", s.index["b1"])
	}
}

func TestStoreRetainMessagesOnly(t *testing.T) {
	s := newStore(nil)
	s.insert(NewSimple("s1", "invite"))
	s.insert(msg("a1", "A", "Alice", "x"))
	s.insert(NewSimple("s2", "call"))

	if n := s.retainMessagesOnly(); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if s.len() != 1 || s.events[0].ID != "a1" {
		t.Fatalf("unexpected remaining events: %+v", s.events)
	}
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	s := newStore(nil)
	s.insert(msg("a1", "A", "Alice", "x"))
	snap := s.snapshot()
	snap[0].Message.Body = "mutated"
	snap[0].Displayed = true
	if s.events[0].Message.Body != "x" || s.events[0].Displayed {
		t.Fatal("snapshot aliases store contents")
	}
}

func TestNewStoreDropsDuplicateIDs(t *testing.T) {
	s := newStore([]Event{msg("a1", "A", "Alice", "x"), msg("a1", "A", "Alice", "y")})
	if s.len() != 1 || s.events[0].Message.Body != "x" {
		t.Fatalf("unexpected store: %+v", s.events)
	}
}
