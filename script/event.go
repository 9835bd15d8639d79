package script

import "fmt"

// EventData is the payload of an Event: either a trigger number or a message.
type EventData struct {
	Message   string `json:"message,omitempty"`
	Trigger   uint32 `json:"trigger,omitempty"`
	IsMessage bool   `json:"is_message,omitempty"`
}

// Trigger returns trigger event data.
func Trigger(n uint32) EventData {
	return EventData{Trigger: n}
}

// Message returns message event data.
func Message(s string) EventData {
	return EventData{Message: s, IsMessage: true}
}

func (d EventData) String() string {
	if d.IsMessage {
		return fmt.Sprintf("message(%q)", d.Message)
	}
	return fmt.Sprintf("trigger(%d)", d.Trigger)
}

// Event is broadcast to every live script. Events are frame-scoped.
type Event struct {
	Topic uint32    `json:"topic"`
	Data  EventData `json:"data"`
}

func (e Event) String() string {
	return fmt.Sprintf("topic %d %s", e.Topic, e.Data)
}

// EntityEvent is a world notification about the scripted entity itself.
type EntityEvent uint8

const (
	EntityKilled EntityEvent = iota
)

func (e EntityEvent) String() string {
	if e == EntityKilled {
		return "killed"
	}
	return fmt.Sprintf("entity-event(%d)", e)
}

// EventBus queues events in global emission order until they are flushed.
// It is not safe for concurrent use.
type EventBus struct {
	queue []Event
	head  int
}

// Publish appends ev.
func (b *EventBus) Publish(ev Event) {
	b.queue = append(b.queue, ev)
}

// Next removes and returns the oldest queued event.
func (b *EventBus) Next() (Event, bool) {
	if b.head >= len(b.queue) {
		b.Reset()
		return Event{}, false
	}
	ev := b.queue[b.head]
	b.head++
	return ev, true
}

// Len returns the number of queued events.
func (b *EventBus) Len() int {
	return len(b.queue) - b.head
}

// Reset drops every queued event and returns how many were dropped.
func (b *EventBus) Reset() int {
	n := b.Len()
	b.queue = b.queue[:0]
	b.head = 0
	return n
}
