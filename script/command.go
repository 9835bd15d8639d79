package script

import (
	"time"

	"github.com/wippyai/entity-scripting/world"
)

// CommandType enumerates the effects a script can request.
type CommandType string

const (
	CommandInsertComponents CommandType = "InsertComponents"
	CommandRemoveComponent  CommandType = "RemoveComponent"
	CommandPlayAnimation    CommandType = "PlayAnimation"
	CommandPublishEvent     CommandType = "PublishEvent"
	CommandSetTicking       CommandType = "SetTicking"
	CommandDespawnEntity    CommandType = "DespawnEntity"
	CommandLevelTransition  CommandType = "LevelTransition"
	CommandRequestTimer     CommandType = "RequestTimer"
	CommandFaceDirection    CommandType = "FaceDirection"
	CommandSendInput        CommandType = "SendInput"
	CommandScheduleAttack   CommandType = "ScheduleAttack"
	CommandPlayMusic        CommandType = "PlayMusic"
	CommandPlaySound        CommandType = "PlaySound"
	CommandGrantPower       CommandType = "GrantPower"
	CommandSpawnProjectile  CommandType = "SpawnProjectile"
)

// InsertComponentsCommand adds components to the scripted entity.
type InsertComponentsCommand struct {
	Components []world.Component `json:"components"`
}

// RemoveComponentCommand removes a component by type path.
type RemoveComponentCommand struct {
	Path string `json:"path"`
}

// SetTickingCommand toggles per-frame ticks. A non-nil Distance limits ticks
// to frames where the player is within that distance.
type SetTickingCommand struct {
	Enabled  bool     `json:"enabled"`
	Distance *float32 `json:"distance,omitempty"`
}

// DespawnEntityCommand removes any entity, including the caller.
type DespawnEntityCommand struct {
	Entity world.EntityID `json:"entity"`
}

// LevelTransitionCommand moves the player to a spawn point in another level.
type LevelTransitionCommand struct {
	Level uint32 `json:"level"`
	Spawn string `json:"spawn"`
}

// RequestTimerCommand arms a script-owned timer.
type RequestTimerCommand struct {
	Timer uint32        `json:"timer"`
	Delay time.Duration `json:"delay"`
}

// FaceDirectionCommand turns the entity.
type FaceDirectionCommand struct {
	Direction world.Direction `json:"direction"`
}

// AudioCommand names an audio file for PlayMusic and PlaySound.
type AudioCommand struct {
	File string `json:"file"`
}

// GrantPowerCommand grants a player power by name.
type GrantPowerCommand struct {
	Power string `json:"power"`
}

// SpawnProjectileCommand spawns a prototype relative to the caller. Params
// are appended to the prototype's own params.
type SpawnProjectileCommand struct {
	Velocity  world.Vec2 `json:"velocity"`
	Offset    world.Vec2 `json:"offset"`
	Prototype string     `json:"prototype"`
	Params    []string   `json:"params,omitempty"`
}

// Command is one deferred effect recorded by a host call. Exactly one
// payload matching Type is set. Commands hold data only.
type Command struct {
	Type       CommandType              `json:"type"`
	Insert     *InsertComponentsCommand `json:"insert,omitempty"`
	Remove     *RemoveComponentCommand  `json:"remove,omitempty"`
	Animation  *world.Animation         `json:"animation,omitempty"`
	Event      *Event                   `json:"event,omitempty"`
	Ticking    *SetTickingCommand       `json:"ticking,omitempty"`
	Despawn    *DespawnEntityCommand    `json:"despawn,omitempty"`
	Level      *LevelTransitionCommand  `json:"level,omitempty"`
	Timer      *RequestTimerCommand     `json:"timer,omitempty"`
	Face       *FaceDirectionCommand    `json:"face,omitempty"`
	Input      *world.Input             `json:"input,omitempty"`
	Attack     *world.Attack            `json:"attack,omitempty"`
	Audio      *AudioCommand            `json:"audio,omitempty"`
	Power      *GrantPowerCommand       `json:"power,omitempty"`
	Projectile *SpawnProjectileCommand  `json:"projectile,omitempty"`
}

// valid reports whether the payload matching Type is set.
func (c Command) valid() bool {
	switch c.Type {
	case CommandInsertComponents:
		return c.Insert != nil
	case CommandRemoveComponent:
		return c.Remove != nil
	case CommandPlayAnimation:
		return c.Animation != nil
	case CommandPublishEvent:
		return c.Event != nil
	case CommandSetTicking:
		return c.Ticking != nil
	case CommandDespawnEntity:
		return c.Despawn != nil
	case CommandLevelTransition:
		return c.Level != nil
	case CommandRequestTimer:
		return c.Timer != nil
	case CommandFaceDirection:
		return c.Face != nil
	case CommandSendInput:
		return c.Input != nil
	case CommandScheduleAttack:
		return c.Attack != nil
	case CommandPlayMusic, CommandPlaySound:
		return c.Audio != nil
	case CommandGrantPower:
		return c.Power != nil
	case CommandSpawnProjectile:
		return c.Projectile != nil
	}
	return false
}
