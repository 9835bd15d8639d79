package script

import (
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/entity-scripting/gamestate"
	"github.com/wippyai/entity-scripting/world"
)

// Host is the per-instance state behind the host functions. Getters read the
// frame-start snapshots and the shared game state; every other call appends
// exactly one command. Nothing here touches the world.
type Host struct {
	entity   world.EntityID
	instance uuid.UUID
	state    *gamestate.Store
	commands []Command
	self     world.Uniform
	player   world.Uniform
}

func newHost(entity world.EntityID, instance uuid.UUID, state *gamestate.Store) *Host {
	return &Host{entity: entity, instance: instance, state: state}
}

// Entity returns the entity the instance scripts.
func (h *Host) Entity() world.EntityID {
	return h.entity
}

// Instance returns the id of the owning instance.
func (h *Host) Instance() uuid.UUID {
	return h.instance
}

// Pending returns a copy of the commands not yet drained.
func (h *Host) Pending() []Command {
	out := make([]Command, len(h.commands))
	copy(out, h.commands)
	return out
}

func (h *Host) take() []Command {
	cmds := h.commands
	h.commands = nil
	return cmds
}

func (h *Host) discard() int {
	n := len(h.commands)
	h.commands = nil
	return n
}

func (h *Host) push(c Command) {
	h.commands = append(h.commands, c)
}

func (h *Host) setUniforms(self, player world.Uniform) {
	h.self = self
	h.player = player
}

// SelfUniform returns the frame-start snapshot of the scripted entity.
func (h *Host) SelfUniform() world.Uniform {
	return copyUniform(h.self)
}

// PlayerUniform returns the frame-start snapshot of the player, or the zero
// uniform when the level has no player.
func (h *Host) PlayerUniform() world.Uniform {
	return copyUniform(h.player)
}

func copyUniform(u world.Uniform) world.Uniform {
	if u.Health != nil {
		v := *u.Health
		u.Health = &v
	}
	return u
}

// GameData reads a string from the shared game state.
func (h *Host) GameData(key string) (string, bool) {
	return h.state.Get(key)
}

// GameDataInt reads an integer from the shared game state.
func (h *Host) GameDataInt(key string) (int32, bool) {
	return h.state.GetInt(key)
}

// SetGameData writes through to the shared store and returns the previous value.
func (h *Host) SetGameData(key, value string) (string, bool) {
	return h.state.Set(key, value)
}

// SetGameDataInt writes through to the shared store and returns the previous value.
func (h *Host) SetGameDataInt(key string, value int32) (int32, bool) {
	return h.state.SetInt(key, value)
}

// InsertComponents queues components for the scripted entity.
func (h *Host) InsertComponents(components []world.Component) {
	h.push(Command{Type: CommandInsertComponents, Insert: &InsertComponentsCommand{Components: components}})
}

// RemoveComponent queues removal of a component by type path.
func (h *Host) RemoveComponent(path string) {
	h.push(Command{Type: CommandRemoveComponent, Remove: &RemoveComponentCommand{Path: path}})
}

// PlayAnimation queues an animation on the scripted entity.
func (h *Host) PlayAnimation(a world.Animation) {
	h.push(Command{Type: CommandPlayAnimation, Animation: &a})
}

// PublishEvent queues ev for every live instance.
func (h *Host) PublishEvent(ev Event) {
	h.push(Command{Type: CommandPublishEvent, Event: &ev})
}

// SetTicking queues a change to per-frame ticks.
func (h *Host) SetTicking(enabled bool, distance *float32) {
	h.push(Command{Type: CommandSetTicking, Ticking: &SetTickingCommand{Enabled: enabled, Distance: distance}})
}

// DespawnEntity queues removal of any entity.
func (h *Host) DespawnEntity(id world.EntityID) {
	h.push(Command{Type: CommandDespawnEntity, Despawn: &DespawnEntityCommand{Entity: id}})
}

// LevelTransition queues a move of the player to spawn in level.
func (h *Host) LevelTransition(level uint32, spawn string) {
	h.push(Command{Type: CommandLevelTransition, Level: &LevelTransitionCommand{Level: level, Spawn: spawn}})
}

// RequestTimerCallback queues a script timer. Re-arming an id replaces it.
func (h *Host) RequestTimerCallback(timer uint32, delay time.Duration) {
	h.push(Command{Type: CommandRequestTimer, Timer: &RequestTimerCommand{Timer: timer, Delay: delay}})
}

// FaceDirection queues a facing change.
func (h *Host) FaceDirection(d world.Direction) {
	h.push(Command{Type: CommandFaceDirection, Face: &FaceDirectionCommand{Direction: d}})
}

// SendInput queues input as if the entity's controller produced it.
func (h *Host) SendInput(in world.Input) {
	h.push(Command{Type: CommandSendInput, Input: &in})
}

// ScheduleAttack records an attack. The attacker is set to the scripted
// entity when the command is applied.
func (h *Host) ScheduleAttack(a world.Attack) {
	h.push(Command{Type: CommandScheduleAttack, Attack: &a})
}

// PlayMusic queues looping background music.
func (h *Host) PlayMusic(file string) {
	h.push(Command{Type: CommandPlayMusic, Audio: &AudioCommand{File: file}})
}

// PlaySound queues a one-shot sound.
func (h *Host) PlaySound(file string) {
	h.push(Command{Type: CommandPlaySound, Audio: &AudioCommand{File: file}})
}

// GrantPlayerPower queues a power grant for the player.
func (h *Host) GrantPlayerPower(power string) {
	h.push(Command{Type: CommandGrantPower, Power: &GrantPowerCommand{Power: power}})
}

// SpawnProjectile queues a spawn relative to the scripted entity.
func (h *Host) SpawnProjectile(p SpawnProjectileCommand) {
	h.push(Command{Type: CommandSpawnProjectile, Projectile: &p})
}
