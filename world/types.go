package world

import (
	"fmt"
	"math"
	"time"
)

// EntityID identifies a live entity. Zero is never a valid id.
type EntityID uint64

// Vec2 is a 2D position or vector in world units.
type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Distance returns the euclidean distance between v and o.
func (v Vec2) Distance(o Vec2) float32 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	return float32(math.Hypot(dx, dy))
}

// Direction is a cardinal facing.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

var directionNames = [...]string{"north", "east", "south", "west"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("direction(%d)", d)
}

// Uniform is the per-frame snapshot of an entity visible to scripts.
type Uniform struct {
	Position   Vec2      `json:"position"`
	Facing     Direction `json:"facing"`
	Health     *uint32   `json:"health,omitempty"`
	IsParrying bool      `json:"is_parrying"`
}

// Animation is a sprite animation request.
type Animation struct {
	Sprite    string        `json:"sprite"`
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	Direction Direction     `json:"direction"`
	Repeat    bool          `json:"repeat"`
}

// Flipped reports whether the sprite is mirrored horizontally.
func (a Animation) Flipped() bool {
	return a.Direction == West
}

// InputKind selects the payload of an Input.
type InputKind uint8

const (
	InputMovement InputKind = iota
	InputJump
	InputRoll
)

func (k InputKind) String() string {
	switch k {
	case InputMovement:
		return "movement"
	case InputJump:
		return "jump"
	case InputRoll:
		return "roll"
	}
	return fmt.Sprintf("input(%d)", k)
}

// Input is a control input delivered to an entity's movement system.
type Input struct {
	Kind      InputKind `json:"kind"`
	Movement  Vec2      `json:"movement"`
	Direction Direction `json:"direction"`
}

// Attack is a delayed hit scheduled by an attacker.
type Attack struct {
	Attacker EntityID      `json:"attacker"`
	Delay    time.Duration `json:"delay"`
	Damage   uint32        `json:"damage"`
	Force    float32       `json:"force"`
	Origin   Vec2          `json:"origin"`
	Vector   Vec2          `json:"vector"`
}

// Spawn describes a new entity created from a prototype.
type Spawn struct {
	Prototype string
	Parent    EntityID
	Position  Vec2
	Velocity  Vec2
}
