package script

import (
	"fmt"
	"time"

	"github.com/wippyai/entity-scripting/world"
)

// TimerOwner separates script timers from timers the host arms for its own
// cleanup, so the two never replace each other.
type TimerOwner uint8

const (
	OwnerScript TimerOwner = iota
	OwnerHost
)

func (o TimerOwner) String() string {
	if o == OwnerHost {
		return "host"
	}
	return "script"
}

// TimerKey identifies a timer within one entity.
type TimerKey struct {
	Name  uint32     `json:"name"`
	Owner TimerOwner `json:"owner"`
}

func (k TimerKey) String() string {
	return fmt.Sprintf("%s:%d", k.Owner, k.Name)
}

// TimerActionKind selects the cleanup a TimerAction performs.
type TimerActionKind uint8

const (
	ActionRemoveComponent TimerActionKind = iota + 1
	ActionInsertComponent
)

// TimerAction is a cleanup step run when a timer fires.
type TimerAction struct {
	Kind      TimerActionKind `json:"kind"`
	Component string          `json:"component,omitempty"`
	Insert    world.Component `json:"insert,omitempty"`
}

// RemoveAfter returns an action removing the named component.
func RemoveAfter(component string) *TimerAction {
	return &TimerAction{Kind: ActionRemoveComponent, Component: component}
}

// InsertAfter returns an action inserting c.
func InsertAfter(c world.Component) *TimerAction {
	return &TimerAction{Kind: ActionInsertComponent, Insert: c}
}

// Timer is a pending countdown.
type Timer struct {
	Key       TimerKey      `json:"key"`
	Remaining time.Duration `json:"remaining"`
	Action    *TimerAction  `json:"action,omitempty"`
}

// TimerSet holds the named countdowns of one entity. It is not safe for
// concurrent use.
type TimerSet struct {
	timers []Timer
}

// Arm starts a timer. A running timer with the same key is replaced and the
// new one takes its place at the end of the arming order.
func (s *TimerSet) Arm(key TimerKey, delay time.Duration, action *TimerAction) {
	s.Cancel(key)
	if delay < 0 {
		delay = 0
	}
	s.timers = append(s.timers, Timer{Key: key, Remaining: delay, Action: action})
}

// Cancel stops the timer with key and reports whether one was running.
func (s *TimerSet) Cancel(key TimerKey) bool {
	for i, t := range s.timers {
		if t.Key == key {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Remaining returns the time left on the timer with key.
func (s *TimerSet) Remaining(key TimerKey) (time.Duration, bool) {
	for _, t := range s.timers {
		if t.Key == key {
			return t.Remaining, true
		}
	}
	return 0, false
}

// Advance counts every timer down by dt and removes and returns the expired
// ones in arming order.
func (s *TimerSet) Advance(dt time.Duration) []Timer {
	var expired []Timer
	kept := s.timers[:0]
	for _, t := range s.timers {
		t.Remaining -= dt
		if t.Remaining <= 0 {
			t.Remaining = 0
			expired = append(expired, t)
			continue
		}
		kept = append(kept, t)
	}
	s.timers = kept
	return expired
}

// Len returns the number of running timers.
func (s *TimerSet) Len() int {
	return len(s.timers)
}

// Timers returns a copy of the running timers in arming order.
func (s *TimerSet) Timers() []Timer {
	out := make([]Timer, len(s.timers))
	copy(out, s.timers)
	return out
}
