package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeChanged, Data: Change{Op: "insert", Pending: 1}})
	b.Publish(Event{Type: TypeRefreshed})

	if got := len(a); got != 1 {
		t.Fatalf("small subscriber buffered %d, want 1", got)
	}
	if got := len(c); got != 2 {
		t.Fatalf("large subscriber buffered %d, want 2", got)
	}
	e := <-c
	if e.Type != TypeChanged || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
	if ch, ok := e.Data.(Change); !ok || ch.Op != "insert" || ch.Pending != 1 {
		t.Fatalf("data = %#v", e.Data)
	}

	unsubA()
	unsubA()
	<-a
	if _, ok := <-a; ok {
		t.Fatal("channel open after unsubscribe")
	}
	b.Publish(Event{Type: TypeAlerted})
}

func TestNopSubscribeIsClosed(t *testing.T) {
	t.Parallel()
	ch, unsub := Nop{}.Subscribe(1)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatal("nop channel delivered an event")
	}
}
