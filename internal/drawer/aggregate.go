package drawer

import "fmt"

type groupRender struct {
	info  GroupInfo
	lines []Line
}

// plan is everything one refresh pass decided, computed under Manager.mu from
// the store and dispatched to the ports after the lock is released.
type plan struct {
	// groups holds every room group, rendered or not.
	groups  []groupRender
	singles []Event

	summaryTitle  string
	summaryLines  []string
	cancelSummary bool

	hasNewEvent  bool
	summaryNoisy bool

	// displayed lists the ids to flip to Displayed once the pass is committed.
	displayed []string

	// cancelRooms and cancelAll carry cancellations requested by the mutation
	// that triggered this pass.
	cancelRooms []string
	cancelAll   bool
}

func (p *plan) alert() bool { return p.hasNewEvent && p.summaryNoisy }

func summaryTitle(total int) string { return fmt.Sprintf("%d notifications", total) }

func roomSummaryLine(name string, count int) string {
	return fmt.Sprintf("%s: %d notification(s)", name, count)
}

// aggregate partitions events into room groups and ungrouped simple events and
// decides what must be rendered. It does not mutate events.
func aggregate(events []Event, focus string) *plan {
	p := &plan{}

	var (
		order  []string
		byRoom = map[string][]Event{}
		simple []Event
	)
	for _, ev := range events {
		if !ev.IsMessage() {
			simple = append(simple, ev)
			continue
		}
		room := ev.Message.RoomID
		if focus != "" && room == focus {
			continue
		}
		if _, ok := byRoom[room]; !ok {
			order = append(order, room)
		}
		byRoom[room] = append(byRoom[room], ev)
	}

	for _, room := range order {
		g := buildGroup(room, byRoom[room])
		p.summaryLines = append(p.summaryLines, roomSummaryLine(g.info.DisplayName, len(byRoom[room])))
		for _, ev := range byRoom[room] {
			p.displayed = append(p.displayed, ev.ID)
		}
		if g.info.HasNewEvent {
			p.hasNewEvent = true
			p.summaryNoisy = p.summaryNoisy || g.info.ShouldAlert
		}
		p.groups = append(p.groups, g)
	}

	for _, ev := range simple {
		if ev.Displayed {
			continue
		}
		p.singles = append(p.singles, ev)
		p.displayed = append(p.displayed, ev.ID)
		p.hasNewEvent = true
		p.summaryNoisy = p.summaryNoisy || ev.Noisy
		p.summaryLines = append(p.summaryLines, ev.Description)
	}

	if len(events) == 0 {
		p.cancelSummary = true
	} else {
		p.summaryTitle = summaryTitle(len(order) + len(simple))
	}
	return p
}

func buildGroup(room string, events []Event) groupRender {
	first := events[0].Message
	last := events[len(events)-1].Message

	info := GroupInfo{RoomID: room}
	info.DisplayName = first.RoomName
	if info.DisplayName == "" {
		info.DisplayName = first.SenderName
	}
	if info.DisplayName != first.SenderName {
		info.ConversationTitle = info.DisplayName
	}
	info.AvatarPath = last.RoomAvatar
	if info.AvatarPath == "" {
		info.AvatarPath = last.SenderAvatar
	}

	lines := make([]Line, 0, len(events))
	for _, ev := range events {
		if !ev.Displayed {
			info.ShouldAlert = info.ShouldAlert || ev.Noisy
			info.CustomSound = ev.Sound
			info.HasNewEvent = true
		}
		body := ev.Message.Body
		if ev.Message.Outgoing && ev.Message.SendFailed {
			body = FailedToSendBody
			info.HasSendError = true
		}
		lines = append(lines, Line{SenderName: ev.Message.SenderName, Body: body, Timestamp: ev.Timestamp})
	}
	return groupRender{info: info, lines: lines}
}
