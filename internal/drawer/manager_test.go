package drawer

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

type shown struct {
	tag  string
	slot Slot
	h    Handle
}

type groupBuild struct {
	info   GroupInfo
	lines  []Line
	avatar image.Image
	self   string
}

type summaryBuild struct {
	title string
	lines []string
	noisy bool
}

// fakeRenderer records every call. Handles are the build arguments.
type fakeRenderer struct {
	mu        sync.Mutex
	groups    []groupBuild
	singles   []Event
	summaries []summaryBuild
	shows     []shown
	cancels   []shown
	nilSingle bool
}

func (r *fakeRenderer) BuildGroup(_ context.Context, g GroupInfo, lines []Line, avatar image.Image, self string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := groupBuild{info: g, lines: lines, avatar: avatar, self: self}
	r.groups = append(r.groups, b)
	return b, nil
}

func (r *fakeRenderer) BuildSingle(_ context.Context, ev Event, _ string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singles = append(r.singles, ev)
	if r.nilSingle {
		return nil, nil
	}
	return ev, nil
}

func (r *fakeRenderer) BuildSummary(_ context.Context, title string, lines []string, noisy bool) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := summaryBuild{title: title, lines: append([]string(nil), lines...), noisy: noisy}
	r.summaries = append(r.summaries, b)
	return b, nil
}

func (r *fakeRenderer) Show(_ context.Context, tag string, slot Slot, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shows = append(r.shows, shown{tag: tag, slot: slot, h: h})
	return nil
}

func (r *fakeRenderer) Cancel(_ context.Context, tag string, slot Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, shown{tag: tag, slot: slot})
	return nil
}

func (r *fakeRenderer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups, r.singles, r.summaries, r.shows, r.cancels = nil, nil, nil, nil, nil
}

func (r *fakeRenderer) showsIn(slot Slot) []shown {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shown
	for _, s := range r.shows {
		if s.slot == slot {
			out = append(out, s)
		}
	}
	return out
}

type fakeAttention struct {
	mu     sync.Mutex
	pulses []time.Duration
	err    error
}

func (a *fakeAttention) Pulse(_ context.Context, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pulses = append(a.pulses, d)
	return a.err
}

type fakeImages struct {
	paths []string
	err   error
}

func (f *fakeImages) LoadImage(_ context.Context, path string) (image.Image, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeRenderer, *fakeAttention) {
	t.Helper()
	r := &fakeRenderer{}
	a := &fakeAttention{}
	opts = append([]Option{WithRenderer(r), WithAttention(a), WithCallTimeout(time.Second)}, opts...)
	return NewManager(context.Background(), opts...), r, a
}

func TestRefreshGroupsRoomMessages(t *testing.T) {
	ctx := context.Background()
	m, r, a := newTestManager(t)

	e1 := msg("e1", "R1", "Alice", "hi")
	e1.Noisy = true
	if err := m.Insert(ctx, e1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	groups := r.showsIn(SlotRoomMessages)
	if len(groups) != 1 || groups[0].tag != "R1" {
		t.Fatalf("group shows = %+v, want one for R1", groups)
	}
	g := groups[0].h.(groupBuild)
	if !g.info.ShouldAlert || !g.info.HasNewEvent {
		t.Fatalf("group info = %+v, want alert and new event", g.info)
	}
	if g.info.DisplayName != "Alice" || g.info.ConversationTitle != "" {
		t.Fatalf("display name = %q title = %q", g.info.DisplayName, g.info.ConversationTitle)
	}
	last := r.summaries[len(r.summaries)-1]
	if last.title != "1 notifications" || !last.noisy {
		t.Fatalf("summary = %+v", last)
	}
	if len(last.lines) != 1 || last.lines[0] != "Alice: 1 notification(s)" {
		t.Fatalf("summary lines = %v", last.lines)
	}
	if len(a.pulses) != 1 || a.pulses[0] != defaultPulseDuration {
		t.Fatalf("pulses = %v, want one of %v", a.pulses, defaultPulseDuration)
	}

	r.reset()
	if err := m.Insert(ctx, msg("e2", "R1", "Alice", "there")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	groups = r.showsIn(SlotRoomMessages)
	if len(groups) != 1 {
		t.Fatalf("group shows = %d, want 1", len(groups))
	}
	g = groups[0].h.(groupBuild)
	if len(g.lines) != 2 || g.lines[0].Body != "hi" || g.lines[1].Body != "there" {
		t.Fatalf("lines = %+v", g.lines)
	}
	if g.info.ShouldAlert {
		t.Fatal("only the silent event is new; group must not alert")
	}
	last = r.summaries[len(r.summaries)-1]
	if last.title != "1 notifications" || last.lines[0] != "Alice: 2 notification(s)" || last.noisy {
		t.Fatalf("summary = %+v", last)
	}
	if len(a.pulses) != 1 {
		t.Fatalf("silent update pulsed: %v", a.pulses)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, r, a := newTestManager(t)

	e := msg("e1", "R1", "Alice", "hi")
	e.Noisy = true
	_ = m.OnEvent(ctx, e, "@me:example.org", "Me")
	_ = m.OnEvent(ctx, NewSimple("s1", "Bob invited you"), "@me:example.org", "Me")

	first := m.Refresh(ctx)
	if first.GroupsRendered != 1 || first.SinglesRendered != 1 || !first.Alerted {
		t.Fatalf("first refresh = %+v", first)
	}

	r.reset()
	second := m.Refresh(ctx)
	if second.GroupsRendered != 0 || second.SinglesRendered != 0 || second.Alerted {
		t.Fatalf("second refresh = %+v", second)
	}
	for _, g := range second.Groups {
		if g.HasNewEvent {
			t.Fatalf("group %s still has new events", g.RoomID)
		}
	}
	if len(r.showsIn(SlotRoomMessages)) != 0 || len(r.showsIn(SlotSingleEvent)) != 0 {
		t.Fatal("second refresh rendered groups or singles")
	}
	if second.SummaryTitle != "2 notifications" {
		t.Fatalf("summary title = %q", second.SummaryTitle)
	}
	if len(a.pulses) != 1 {
		t.Fatalf("pulses = %d, want 1", len(a.pulses))
	}
}

func TestRefreshSimpleEventSilent(t *testing.T) {
	ctx := context.Background()
	m, r, a := newTestManager(t)

	if err := m.Insert(ctx, NewSimple("s1", "Bob invited you to #room")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	singles := r.showsIn(SlotSingleEvent)
	if len(singles) != 1 || singles[0].tag != "s1" {
		t.Fatalf("single shows = %+v", singles)
	}
	last := r.summaries[len(r.summaries)-1]
	if last.title != "1 notifications" || last.noisy {
		t.Fatalf("summary = %+v", last)
	}
	if len(last.lines) != 1 || last.lines[0] != "Bob invited you to #room" {
		t.Fatalf("summary lines = %v", last.lines)
	}
	if len(a.pulses) != 0 {
		t.Fatal("silent simple event pulsed")
	}
}

func TestClearAllCancelsSummary(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	_ = m.Insert(ctx, msg("e1", "R1", "Alice", "hi"))
	_ = m.Insert(ctx, NewSimple("s1", "invite"))
	r.reset()

	res := m.ClearAll(ctx)
	if !m.IsEmpty() {
		t.Fatal("store not empty after ClearAll")
	}
	if !res.SummaryCancelled {
		t.Fatalf("result = %+v, want summary cancelled", res)
	}
	want := map[shown]bool{
		{tag: "R1", slot: SlotRoomMessages}: true,
		{tag: "s1", slot: SlotSingleEvent}:  true,
		{tag: "", slot: SlotSummary}:        true,
	}
	if len(r.cancels) != len(want) {
		t.Fatalf("cancels = %+v", r.cancels)
	}
	for _, c := range r.cancels {
		if !want[shown{tag: c.tag, slot: c.slot}] {
			t.Fatalf("unexpected cancel %+v", c)
		}
	}
}

func TestClearRoomOnlyTouchesThatRoom(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	_ = m.OnEvent(ctx, msg("a1", "A", "Alice", "x"), "", "")
	_ = m.OnEvent(ctx, msg("b1", "B", "Bob", "y"), "", "")
	_ = m.OnEvent(ctx, NewSimple("s1", "invite"), "", "")
	m.Refresh(ctx)
	r.reset()

	m.ClearRoom(ctx, "A")
	var ids []string
	for _, e := range m.Events() {
		ids = append(ids, e.ID)
	}
	if len(ids) != 2 || ids[0] != "b1" || ids[1] != "s1" {
		t.Fatalf("remaining = %v", ids)
	}
	if len(r.cancels) != 1 || r.cancels[0] != (shown{tag: "A", slot: SlotRoomMessages}) {
		t.Fatalf("cancels = %+v", r.cancels)
	}
}

func TestFocusSuppressesRoom(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)

	m.SetFocusedRoom(ctx, "R")
	_ = m.Insert(ctx, msg("r1", "R", "Alice", "while looking"))
	_ = m.Insert(ctx, msg("o1", "O", "Bob", "elsewhere"))

	for _, s := range r.showsIn(SlotRoomMessages) {
		if s.tag == "R" {
			t.Fatal("focused room was rendered")
		}
	}
	if m.Len() != 2 {
		t.Fatalf("focused events must stay pending, len = %d", m.Len())
	}

	// Leaving focus brings the residual events back.
	r.reset()
	m.SetFocusedRoom(ctx, "")
	if m.FocusedRoom() != "" {
		t.Fatalf("focus = %q", m.FocusedRoom())
	}
	got := r.showsIn(SlotRoomMessages)
	if len(got) != 1 || got[0].tag != "R" {
		t.Fatalf("group shows after leaving focus = %+v", got)
	}

	// Entering a room clears it.
	r.reset()
	m.SetFocusedRoom(ctx, "O")
	for _, e := range m.Events() {
		if e.RoomID() == "O" {
			t.Fatal("room O not cleared on focus")
		}
	}
	if len(r.cancels) != 1 || r.cancels[0].tag != "O" {
		t.Fatalf("cancels = %+v", r.cancels)
	}
}

func TestSetFocusedRoomSameRoomIsNoop(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	m.SetFocusedRoom(ctx, "R")
	r.reset()
	m.SetFocusedRoom(ctx, "R")
	if len(r.summaries) != 0 || len(r.cancels) != 0 {
		t.Fatal("unchanged focus triggered a refresh")
	}
}

func TestGroupInfoDerivation(t *testing.T) {
	ctx := context.Background()
	imgs := &fakeImages{}
	m, r, _ := newTestManager(t, WithImageResolver(imgs))

	first := NewMessage("m1", Message{RoomID: "R", RoomName: "Team", SenderName: "Alice", Body: "a", SenderAvatar: "/a.png"})
	first.Sound = "ding"
	first.Noisy = true
	failed := NewMessage("m2", Message{RoomID: "R", RoomName: "Team", SenderName: "Me", Body: "lost", Outgoing: true, SendFailed: true, SenderAvatar: "/me.png"})
	_ = m.OnEvent(ctx, first, "@me", "")
	_ = m.OnEvent(ctx, failed, "@me", "")
	m.Refresh(ctx)

	if len(r.groups) != 1 {
		t.Fatalf("group builds = %d", len(r.groups))
	}
	g := r.groups[0]
	if g.info.DisplayName != "Team" || g.info.ConversationTitle != "Team" {
		t.Fatalf("names = %q / %q", g.info.DisplayName, g.info.ConversationTitle)
	}
	if !g.info.HasSendError || g.lines[1].Body != FailedToSendBody {
		t.Fatalf("send error not reflected: %+v %+v", g.info, g.lines)
	}
	if g.info.CustomSound != "" {
		t.Fatalf("custom sound = %q, want the last new event's (none)", g.info.CustomSound)
	}
	if g.info.AvatarPath != "/me.png" || len(imgs.paths) != 1 || g.avatar == nil {
		t.Fatalf("avatar = %q loaded=%v", g.info.AvatarPath, imgs.paths)
	}
	if g.self != "@me" {
		t.Fatalf("self name = %q, want user id fallback", g.self)
	}
}

func TestAvatarAndAttentionFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	imgs := &fakeImages{err: errors.New("decode: out of memory")}
	m, r, a := newTestManager(t, WithImageResolver(imgs))
	a.err = errors.New("no power manager")

	e := NewMessage("m1", Message{RoomID: "R", SenderName: "Alice", Body: "a", RoomAvatar: "/room.png"})
	e.Noisy = true
	_ = m.Insert(ctx, e)

	if len(r.groups) != 1 || r.groups[0].avatar != nil {
		t.Fatalf("group still expected without avatar: %+v", r.groups)
	}
	if len(a.pulses) != 1 {
		t.Fatalf("pulses = %d", len(a.pulses))
	}
	if m.Refresh(ctx).Alerted {
		t.Fatal("refresh after failure alerted again")
	}
}

func TestRetainMessagesOnlyDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	_ = m.OnEvent(ctx, NewSimple("s1", "invite"), "", "")
	_ = m.OnEvent(ctx, msg("a1", "A", "Alice", "x"), "", "")

	if n := m.RetainMessagesOnly(); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if len(r.summaries) != 0 {
		t.Fatal("RetainMessagesOnly refreshed")
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestInsertRejectsInvalidEvent(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Insert(context.Background(), Event{ID: "x", Kind: KindMessage})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
	if !m.IsEmpty() {
		t.Fatal("invalid event stored")
	}
}

func TestFocusedRoomOnlyStillShowsSummary(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)
	m.SetFocusedRoom(ctx, "R")
	_ = m.Insert(ctx, msg("r1", "R", "Alice", "x"))

	last := r.summaries[len(r.summaries)-1]
	if last.title != "0 notifications" || last.noisy {
		t.Fatalf("summary = %+v", last)
	}
}

func TestConcurrentInsertsAreSerialized(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = m.Insert(ctx, msg(id, "R", "Alice", id))
		}(i)
	}
	wg.Wait()

	if m.Len() != 20 {
		t.Fatalf("len = %d", m.Len())
	}
	if m.Refresh(ctx).GroupsRendered != 0 {
		t.Fatal("events left undisplayed after concurrent inserts")
	}
	last := r.summaries[len(r.summaries)-1]
	if last.lines[0] != "Alice: 20 notification(s)" {
		t.Fatalf("summary line = %q", last.lines[0])
	}
}

// stuckRenderer never returns from showing the summary and ignores its
// context.
type stuckRenderer struct {
	fakeRenderer
	release chan struct{}
}

func (r *stuckRenderer) Show(ctx context.Context, tag string, slot Slot, h Handle) error {
	if slot == SlotSummary {
		<-r.release
	}
	return r.fakeRenderer.Show(ctx, tag, slot, h)
}

func TestSlowRendererDoesNotBlockState(t *testing.T) {
	r := &stuckRenderer{release: make(chan struct{})}
	defer close(r.release)
	m := NewManager(context.Background(), WithRenderer(r), WithCallTimeout(100*time.Millisecond))
	ctx := context.Background()
	if err := m.OnEvent(ctx, msg("e1", "R1", "Alice", "hi"), "", ""); err != nil {
		t.Fatal(err)
	}

	refreshed := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() { refreshed <- m.Refresh(ctx) }()
	}

	inspected := make(chan bool, 1)
	go func() {
		_ = m.OnEvent(ctx, msg("e2", "R1", "Alice", "again"), "", "")
		inspected <- m.IsEmpty()
	}()
	select {
	case empty := <-inspected:
		if empty {
			t.Fatal("manager reported empty")
		}
	case <-time.After(time.Second):
		t.Fatal("state operations blocked behind the renderer")
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-refreshed:
			if res.SummaryShown {
				t.Fatalf("summary reported shown after timeout: %+v", res)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("refresh did not give up on the stuck renderer")
		}
	}
}

func TestCallWithTimeoutRecoversPanics(t *testing.T) {
	t.Parallel()
	_, err := callWithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("boom")
	})
	if !errors.Is(err, errPortPanic) {
		t.Fatalf("err = %v", err)
	}
}
