package drawer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"notidrawer/internal/eventbus"
	logx "notidrawer/pkg/logx"
)

const (
	defaultCallTimeout   = 5 * time.Second
	defaultPulseDuration = 3 * time.Second
)

var errPortPanic = errors.New("port call panicked")

// Manager owns the pending notifiable events and decides what is shown.
//
// mu guards the store, focus, self name and the dispatch ticket counter. It
// is never held while waiting on dispatchMu or calling out. dispatchMu guards
// the visible set and the ticket being served; passes take a ticket under mu
// and render in ticket order, so rendering follows computation order.
//
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	store  *store
	focus  string
	selfNm string

	nextTicket uint64

	dispatchMu   sync.Mutex
	dispatchTurn *sync.Cond
	serving      uint64
	visible      map[visibleKey]struct{}

	persistMu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	renderer Renderer
	images   ImageResolver
	attn     AttentionSignal
	snap     Snapshotter

	callTimeout   time.Duration
	pulseDuration time.Duration
}

type visibleKey struct {
	tag  string
	slot Slot
}

type Option func(*Manager)

func WithRenderer(r Renderer) Option { return func(m *Manager) { m.renderer = r } }

func WithImageResolver(r ImageResolver) Option { return func(m *Manager) { m.images = r } }

func WithAttention(a AttentionSignal) Option { return func(m *Manager) { m.attn = a } }

func WithSnapshotter(s Snapshotter) Option { return func(m *Manager) { m.snap = s } }

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }

func WithBus(b eventbus.Bus) Option { return func(m *Manager) { m.bus = b } }

// WithCallTimeout bounds every renderer, image, attention and snapshot call.
func WithCallTimeout(d time.Duration) Option { return func(m *Manager) { m.callTimeout = d } }

func WithPulseDuration(d time.Duration) Option { return func(m *Manager) { m.pulseDuration = d } }

// WithSelfName sets the local user's display name passed to renderers.
func WithSelfName(name string) Option { return func(m *Manager) { m.selfNm = name } }

// NewManager builds a Manager and restores the persisted pending set. A
// missing or unreadable snapshot yields an empty manager.
func NewManager(ctx context.Context, opts ...Option) *Manager {
	m := &Manager{visible: map[visibleKey]struct{}{}}
	m.dispatchTurn = sync.NewCond(&m.dispatchMu)
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	if m.bus == nil {
		m.bus = eventbus.Nop{}
	}
	if m.renderer == nil {
		m.renderer = nopRenderer{}
	}
	if m.images == nil {
		m.images = nopImages{}
	}
	if m.attn == nil {
		m.attn = nopAttention{}
	}
	if m.snap == nil {
		m.snap = nopSnapshotter{}
	}
	if m.callTimeout <= 0 {
		m.callTimeout = defaultCallTimeout
	}
	if m.pulseDuration <= 0 {
		m.pulseDuration = defaultPulseDuration
	}

	lctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	m.store = newStore(m.load(lctx))
	cancel()
	return m
}

// OnEvent records ev without refreshing. The caller is expected to call
// Refresh once a batch has been received. userDisplayName falls back to userID
// for the self name handed to renderers.
func (m *Manager) OnEvent(_ context.Context, ev Event, userID, userDisplayName string) error {
	if !ev.Valid() {
		m.log.Warn("dropping invalid notifiable event", logx.String("event_id", ev.ID), logx.String("kind", ev.Kind.String()))
		return fmt.Errorf("%w: id=%q kind=%s", ErrInvalidEvent, ev.ID, ev.Kind)
	}
	ev = ev.clone()

	m.mu.Lock()
	if userDisplayName != "" {
		m.selfNm = userDisplayName
	} else if userID != "" {
		m.selfNm = userID
	}
	res := m.store.insert(ev)
	n := m.store.len()
	m.mu.Unlock()

	m.log.Debug("notifiable event received",
		logx.String("event_id", ev.ID),
		logx.String("kind", ev.Kind.String()),
		logx.String("room_id", ev.RoomID()),
		logx.Bool("push", ev.FromPush),
		logx.String("result", res.String()),
	)
	if res != kept {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeChanged, Data: eventbus.Change{Op: "insert", EventID: ev.ID, RoomID: ev.RoomID(), Pending: n}})
	}
	return nil
}

// Insert records ev and refreshes.
func (m *Manager) Insert(ctx context.Context, ev Event) error {
	if err := m.OnEvent(ctx, ev, "", ""); err != nil {
		return err
	}
	m.Refresh(ctx)
	return nil
}

// ClearAll forgets every pending event, withdraws everything shown and
// refreshes (which cancels the summary).
func (m *Manager) ClearAll(ctx context.Context) Result {
	m.mu.Lock()
	m.store.clearAll()
	p := m.computeLocked()
	p.cancelAll = true
	return m.commitAndDispatch(ctx, p, eventbus.Change{Op: "clear_all"})
}

// ClearRoom forgets the message events of roomID, withdraws that room's group
// notification and refreshes. An empty roomID only refreshes.
func (m *Manager) ClearRoom(ctx context.Context, roomID string) Result {
	m.mu.Lock()
	return m.clearRoomLocked(ctx, roomID, "clear_room")
}

func (m *Manager) clearRoomLocked(ctx context.Context, roomID, op string) Result {
	removed := m.store.clearRoom(roomID)
	p := m.computeLocked()
	if roomID != "" {
		p.cancelRooms = append(p.cancelRooms, roomID)
	}
	m.log.Debug("room cleared", logx.String("room_id", roomID), logx.Int("removed", removed), logx.String("op", op))
	return m.commitAndDispatch(ctx, p, eventbus.Change{Op: op, RoomID: roomID})
}

// SetFocusedRoom records the conversation currently in view ("" for none).
// Entering a different room clears that room, since the user is looking at it.
// The previously focused room is left untouched.
func (m *Manager) SetFocusedRoom(ctx context.Context, roomID string) {
	m.mu.Lock()
	if roomID == m.focus {
		m.mu.Unlock()
		return
	}
	prev := m.focus
	m.focus = roomID
	m.log.Debug("focus changed", logx.String("from", prev), logx.String("to", roomID))
	m.clearRoomLocked(ctx, roomID, "focus")
}

// FocusedRoom returns the current focus, "" when none.
func (m *Manager) FocusedRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus
}

// RetainMessagesOnly drops every non-message event. It does not refresh.
func (m *Manager) RetainMessagesOnly() int {
	m.mu.Lock()
	removed := m.store.retainMessagesOnly()
	n := m.store.len()
	m.mu.Unlock()
	if removed > 0 {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeChanged, Data: eventbus.Change{Op: "resume", Pending: n}})
	}
	return removed
}

func (m *Manager) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.isEmpty()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.len()
}

// Events returns a copy of the pending events in store order.
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.snapshot()
}

// SelfName returns the display name handed to renderers.
func (m *Manager) SelfName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfNm
}

// Refresh recomputes groups and summary and renders what changed. Calling it
// twice with no mutation in between renders nothing new and never alerts the
// second time.
func (m *Manager) Refresh(ctx context.Context) Result {
	m.mu.Lock()
	return m.commitAndDispatch(ctx, m.computeLocked(), eventbus.Change{})
}

func (m *Manager) computeLocked() *plan {
	return aggregate(m.store.events, m.focus)
}

// commitAndDispatch must be called with mu held; it releases it before
// waiting for its dispatch turn.
//
// The displayed flags are committed before rendering so a concurrent refresh
// never renders the same events as new twice.
func (m *Manager) commitAndDispatch(ctx context.Context, p *plan, change eventbus.Change) Result {
	m.store.markDisplayed(p.displayed)
	self := m.selfNm
	pending := m.store.len()
	ticket := m.nextTicket
	m.nextTicket++
	m.mu.Unlock()

	res := m.dispatchInTurn(ctx, ticket, p, self)

	if change.Op != "" {
		change.Pending = pending
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeChanged, Data: change})
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshed, Data: res})
	if res.Alerted {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeAlerted, Data: res})
	}
	return res
}

// Result summarizes what a refresh pass did.
type Result struct {
	Groups           []GroupInfo
	GroupsRendered   int
	SinglesRendered  int
	SummaryTitle     string
	SummaryLines     []string
	SummaryNoisy     bool
	SummaryShown     bool
	SummaryCancelled bool
	Alerted          bool
}

// dispatchInTurn waits until every earlier ticket was rendered, then renders p.
func (m *Manager) dispatchInTurn(ctx context.Context, ticket uint64, p *plan, self string) Result {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for m.serving != ticket {
		m.dispatchTurn.Wait()
	}
	defer func() {
		m.serving++
		m.dispatchTurn.Broadcast()
	}()
	return m.dispatch(ctx, p, self)
}

func (m *Manager) dispatch(ctx context.Context, p *plan, self string) Result {
	res := Result{
		Groups:       make([]GroupInfo, 0, len(p.groups)),
		SummaryTitle: p.summaryTitle,
		SummaryLines: p.summaryLines,
		SummaryNoisy: p.alert(),
	}

	if p.cancelAll {
		keys := make([]visibleKey, 0, len(m.visible))
		for k := range m.visible {
			if k.slot != SlotSummary {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].slot != keys[j].slot {
				return keys[i].slot < keys[j].slot
			}
			return keys[i].tag < keys[j].tag
		})
		for _, k := range keys {
			m.cancel(ctx, k.tag, k.slot)
		}
	}
	for _, room := range p.cancelRooms {
		m.cancel(ctx, room, SlotRoomMessages)
	}

	for _, g := range p.groups {
		res.Groups = append(res.Groups, g.info)
		if !g.info.HasNewEvent {
			m.log.Debug("room group is up to date", logx.String("room_id", g.info.RoomID))
			continue
		}
		avatar := m.loadAvatar(ctx, g.info.AvatarPath)
		h, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (Handle, error) {
			return m.renderer.BuildGroup(c, g.info, g.lines, avatar, self)
		})
		if err != nil {
			m.log.Warn("build group notification failed", logx.String("room_id", g.info.RoomID), logx.Err(err))
			continue
		}
		if m.show(ctx, g.info.RoomID, SlotRoomMessages, h) {
			res.GroupsRendered++
		}
	}

	for _, ev := range p.singles {
		h, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (Handle, error) {
			return m.renderer.BuildSingle(c, ev, self)
		})
		if err != nil {
			m.log.Warn("build event notification failed", logx.String("event_id", ev.ID), logx.Err(err))
			continue
		}
		if m.show(ctx, ev.ID, SlotSingleEvent, h) {
			res.SinglesRendered++
		}
	}

	if p.cancelSummary {
		m.cancel(ctx, "", SlotSummary)
		res.SummaryCancelled = true
	} else {
		h, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (Handle, error) {
			return m.renderer.BuildSummary(c, p.summaryTitle, p.summaryLines, p.alert())
		})
		if err != nil {
			m.log.Warn("build summary notification failed", logx.Err(err))
		} else {
			res.SummaryShown = m.show(ctx, "", SlotSummary, h)
		}

		if p.alert() {
			res.Alerted = true
			_, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (struct{}, error) {
				return struct{}{}, m.attn.Pulse(c, m.pulseDuration)
			})
			if err != nil {
				m.log.Error("failed to turn screen on", logx.Err(err))
			}
		}
	}

	m.log.Debug("notification drawer refreshed",
		logx.Int("groups", len(p.groups)),
		logx.Int("groups_rendered", res.GroupsRendered),
		logx.Int("singles_rendered", res.SinglesRendered),
		logx.Bool("alert", res.Alerted),
	)
	return res
}

func (m *Manager) show(ctx context.Context, tag string, slot Slot, h Handle) bool {
	if h == nil {
		return false
	}
	_, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, m.renderer.Show(c, tag, slot, h)
	})
	if err != nil {
		m.log.Warn("show notification failed", logx.String("tag", tag), logx.String("slot", slot.String()), logx.Err(err))
		return false
	}
	m.visible[visibleKey{tag: tag, slot: slot}] = struct{}{}
	return true
}

func (m *Manager) cancel(ctx context.Context, tag string, slot Slot) {
	_, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, m.renderer.Cancel(c, tag, slot)
	})
	if err != nil {
		m.log.Warn("cancel notification failed", logx.String("tag", tag), logx.String("slot", slot.String()), logx.Err(err))
		return
	}
	delete(m.visible, visibleKey{tag: tag, slot: slot})
}

func (m *Manager) loadAvatar(ctx context.Context, path string) image.Image {
	if path == "" {
		return nil
	}
	img, err := callWithTimeout(ctx, m.callTimeout, func(c context.Context) (image.Image, error) {
		return m.images.LoadImage(c, path)
	})
	if err != nil {
		m.log.Warn("avatar load failed", logx.String("path", path), logx.Err(err))
		return nil
	}
	return img
}

// callWithTimeout runs fn with a deadline and stops waiting once it passes,
// whether or not fn honours its context. An abandoned call finishes in the
// background and its result is discarded.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("%w: %v", errPortPanic, p)
			}
			done <- r
		}()
		r.v, r.err = fn(cctx)
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}
