package world

import "strings"

// Component is a piece of entity state scripts may insert or remove.
type Component interface {
	// ComponentName is the short type name used for removal by path.
	ComponentName() string
}

// RigidBodyType selects how physics treats a body.
type RigidBodyType uint8

const (
	StaticBody RigidBodyType = iota
	DynamicBody
)

func (t RigidBodyType) String() string {
	if t == DynamicBody {
		return "dynamic"
	}
	return "static"
}

type Interactable struct {
	Message string
	Range   float32
}

type Attackable struct{}

// Collider is an axis-aligned box. A physical collider also blocks movement.
type Collider struct {
	Width    float32
	Height   float32
	Physical bool
}

type RigidBody struct {
	Type RigidBodyType
}

type Enemy struct {
	MaxHP uint32
}

type Boss struct{}

type Health struct {
	Value uint32
}

// Rolling and Invulnerable are timed components inserted by a roll input.
type Rolling struct{}

type Invulnerable struct{}

func (Interactable) ComponentName() string { return "Interactable" }
func (Attackable) ComponentName() string   { return "Attackable" }
func (Collider) ComponentName() string     { return "Collider" }
func (RigidBody) ComponentName() string    { return "RigidBody" }
func (Enemy) ComponentName() string        { return "Enemy" }
func (Boss) ComponentName() string         { return "Boss" }
func (Health) ComponentName() string       { return "Health" }
func (Rolling) ComponentName() string      { return "Rolling" }
func (Invulnerable) ComponentName() string { return "Invulnerable" }

// ComponentPathName reduces a qualified type path such as
// "gamejam_bevy_components::Interactable" to its last segment.
func ComponentPathName(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// PowerupRoll and PowerupPogo are granted to the player.
type PowerupRoll struct{}

type PowerupPogo struct{}

func (PowerupRoll) ComponentName() string { return "PowerupRoll" }
func (PowerupPogo) ComponentName() string { return "PowerupPogo" }
