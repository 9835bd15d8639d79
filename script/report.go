package script

import (
	"github.com/google/uuid"

	"github.com/wippyai/entity-scripting/world"
)

// Entry names the external entry point that produced a Report.
type Entry string

const (
	EntryStep              Entry = "step"
	EntrySpawn             Entry = "spawn"
	EntryInteracted        Entry = "interacted"
	EntryAttacked          Entry = "attacked"
	EntryAnimationFinished Entry = "animation_finished"
	EntryEntityEvent       Entry = "entity_event"
	EntryDespawn           Entry = "despawn"
)

// AppliedCommand is a command that reached the world.
type AppliedCommand struct {
	Entity   world.EntityID `json:"entity"`
	Instance uuid.UUID      `json:"instance"`
	Command  Command        `json:"command"`
}

// Report summarizes one external entry point.
type Report struct {
	Frame     uint64           `json:"frame"`
	Entry     Entry            `json:"entry"`
	Commands  []AppliedCommand `json:"commands,omitempty"`
	Events    []Event          `json:"events,omitempty"`
	Spawned   []world.EntityID `json:"spawned,omitempty"`
	Despawned []world.EntityID `json:"despawned,omitempty"`
	// Unscripted lists entities whose script was torn down while the
	// entity stayed in the world, after a fault or on Close.
	Unscripted []world.EntityID `json:"unscripted,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

// Observer receives a Report after every external entry point. Observe is
// called with the runtime lock held and must not call back into the runtime.
type Observer interface {
	Observe(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) Observe(r Report) {
	f(r)
}
