package script

import (
	"context"
	"strconv"
	"time"

	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/world"
)

// RollDuration is how long a scripted roll keeps the entity rolling and
// invulnerable.
var RollDuration = 500 * time.Millisecond

// Host-owned timer names.
const (
	timerRolling uint32 = iota + 1
	timerInvulnerable
)

// effects are the command consequences owned by the runtime rather than the
// world.
type effects interface {
	setTicking(inst *Instance, enabled bool, distance *float32)
	armTimer(inst *Instance, key TimerKey, delay time.Duration, action *TimerAction)
	publish(ev Event)
	despawn(ctx context.Context, id world.EntityID) error
	spawnProjectile(ctx context.Context, parent *Instance, p SpawnProjectileCommand) error
}

// Dispatcher applies drained commands. Every command is applied against the
// entity captured when its instance was created.
type Dispatcher struct {
	world world.World
	fx    effects
}

func newDispatcher(w world.World, fx effects) *Dispatcher {
	return &Dispatcher{world: w, fx: fx}
}

// Apply performs one command. A failed command leaves prior state in place
// and returns a host_call error.
func (d *Dispatcher) Apply(ctx context.Context, inst *Instance, cmd Command) error {
	if !cmd.valid() {
		return errors.InvalidInput(errors.PhaseDrain, "malformed command "+strconv.Quote(string(cmd.Type)))
	}
	id := inst.Entity

	var err error
	switch cmd.Type {
	case CommandInsertComponents:
		for _, c := range cmd.Insert.Components {
			if err = d.world.InsertComponent(id, c); err != nil {
				break
			}
		}
	case CommandRemoveComponent:
		err = d.world.RemoveComponent(id, cmd.Remove.Path)
	case CommandPlayAnimation:
		err = d.world.PlayAnimation(id, *cmd.Animation)
	case CommandPublishEvent:
		d.fx.publish(*cmd.Event)
	case CommandSetTicking:
		d.fx.setTicking(inst, cmd.Ticking.Enabled, cmd.Ticking.Distance)
	case CommandDespawnEntity:
		err = d.fx.despawn(ctx, cmd.Despawn.Entity)
	case CommandLevelTransition:
		err = d.world.LevelTransition(cmd.Level.Level, cmd.Level.Spawn)
	case CommandRequestTimer:
		d.fx.armTimer(inst, TimerKey{Name: cmd.Timer.Timer, Owner: OwnerScript}, cmd.Timer.Delay, nil)
	case CommandFaceDirection:
		err = d.world.Face(id, cmd.Face.Direction)
	case CommandSendInput:
		err = d.sendInput(inst, *cmd.Input)
	case CommandScheduleAttack:
		a := *cmd.Attack
		a.Attacker = id
		err = d.world.ScheduleAttack(a)
	case CommandPlayMusic:
		err = d.world.PlayMusic(cmd.Audio.File)
	case CommandPlaySound:
		err = d.world.PlaySound(cmd.Audio.File)
	case CommandGrantPower:
		err = d.world.GrantPower(cmd.Power.Power)
	case CommandSpawnProjectile:
		err = d.fx.spawnProjectile(ctx, inst, *cmd.Projectile)
	}
	if err != nil {
		if errors.IsKind(err, errors.KindHostCall) {
			return err
		}
		return errors.HostCall(uint64(id), string(cmd.Type), err)
	}
	return nil
}

// sendInput forwards in and, for a roll, adds the timed rolling and
// invulnerable components.
func (d *Dispatcher) sendInput(inst *Instance, in world.Input) error {
	if err := d.world.SendInput(inst.Entity, in); err != nil {
		return err
	}
	if in.Kind != world.InputRoll {
		return nil
	}
	if err := d.world.InsertComponent(inst.Entity, world.Rolling{}); err != nil {
		return err
	}
	if err := d.world.InsertComponent(inst.Entity, world.Invulnerable{}); err != nil {
		return err
	}
	d.fx.armTimer(inst, TimerKey{Name: timerRolling, Owner: OwnerHost}, RollDuration, RemoveAfter(world.Rolling{}.ComponentName()))
	d.fx.armTimer(inst, TimerKey{Name: timerInvulnerable, Owner: OwnerHost}, RollDuration, RemoveAfter(world.Invulnerable{}.ComponentName()))
	return nil
}

// runAction performs a timer's cleanup step.
func (d *Dispatcher) runAction(id world.EntityID, a *TimerAction) error {
	if a == nil {
		return nil
	}
	switch a.Kind {
	case ActionRemoveComponent:
		return d.world.RemoveComponent(id, a.Component)
	case ActionInsertComponent:
		if a.Insert == nil {
			return errors.InvalidInput(errors.PhaseTimer, "insert action without component")
		}
		return d.world.InsertComponent(id, a.Insert)
	}
	return errors.InvalidInput(errors.PhaseTimer, "unknown timer action "+strconv.Itoa(int(a.Kind)))
}
