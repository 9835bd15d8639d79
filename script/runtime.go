package script

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/config"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/gamestate"
	"github.com/wippyai/entity-scripting/world"
)

const (
	defaultMaxEventsPerFlush = 1024
	defaultMaxSpawnDepth     = 4
)

// Options configure a Runtime. World is required.
type Options struct {
	World world.World
	// Loader resolves script paths. Without one only Attach can create
	// instances.
	Loader GuestSource
	// State is shared by every instance. A fresh store is used when nil.
	State      *gamestate.Store
	Prototypes *config.Prototypes

	// MaxEventsPerFlush bounds event delivery in one flush. Zero means 1024.
	MaxEventsPerFlush int
	// MaxSpawnDepth bounds how deeply spawn_projectile calls may nest, a
	// constructor spawning from a constructor spawning and so on. Zero means 4.
	MaxSpawnDepth int

	Observer Observer
	// Distance measures tick gating distance. Defaults to euclidean.
	Distance func(a, b world.Vec2) float32
}

// GuestSource creates unconstructed guests for script paths. *Loader is the
// wasm implementation.
type GuestSource interface {
	Guest(ctx context.Context, path string) (Guest, error)
}

var _ GuestSource = (*Loader)(nil)

// Instance is the live script of one entity.
type Instance struct {
	ID        uuid.UUID
	Entity    world.EntityID
	Prototype string

	guest    Guest
	host     *Host
	ticking  bool
	distance *float32
	timers   TimerSet
	closed   bool
}

// InstanceInfo is a read-only view of an Instance.
type InstanceInfo struct {
	ID        uuid.UUID      `json:"id"`
	Entity    world.EntityID `json:"entity"`
	Prototype string         `json:"prototype,omitempty"`
	Ticking   bool           `json:"ticking"`
	Distance  *float32       `json:"distance,omitempty"`
	Timers    []Timer        `json:"timers,omitempty"`
}

func (inst *Instance) info() InstanceInfo {
	info := InstanceInfo{
		ID:        inst.ID,
		Entity:    inst.Entity,
		Prototype: inst.Prototype,
		Ticking:   inst.ticking,
		Timers:    inst.timers.Timers(),
	}
	if inst.distance != nil {
		d := *inst.distance
		info.Distance = &d
	}
	return info
}

// SpawnRequest creates a world entity and its script.
type SpawnRequest struct {
	// Prototype names a registered prototype. May be empty when Script is set.
	Prototype string
	// Script overrides the prototype's script path.
	Script   string
	Params   []string
	Position world.Vec2
	Velocity world.Vec2
	Parent   world.EntityID
}

// Runtime owns every script instance of a level and steps them against the
// world. Entry points are serialized: exactly one guest call runs at a time.
type Runtime struct {
	mu sync.Mutex

	world      world.World
	loader     GuestSource
	state      *gamestate.Store
	prototypes *config.Prototypes
	observer   Observer
	distance   func(a, b world.Vec2) float32
	maxEvents  int
	maxDepth   int
	// spawnDepth counts spawn_projectile calls currently on the stack.
	spawnDepth int

	dispatch  *Dispatcher
	instances map[world.EntityID]*Instance
	order     []world.EntityID
	bus       EventBus
	frame     uint64
	report    *Report
	closed    bool
}

// New creates a runtime.
func New(opts Options) (*Runtime, error) {
	if opts.World == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "runtime requires a world")
	}
	r := &Runtime{
		world:      opts.World,
		loader:     opts.Loader,
		state:      opts.State,
		prototypes: opts.Prototypes,
		observer:   opts.Observer,
		distance:   opts.Distance,
		maxEvents:  opts.MaxEventsPerFlush,
		maxDepth:   opts.MaxSpawnDepth,
		instances:  make(map[world.EntityID]*Instance),
	}
	if r.state == nil {
		r.state = gamestate.NewStore()
	}
	if r.distance == nil {
		r.distance = func(a, b world.Vec2) float32 { return a.Distance(b) }
	}
	if r.maxEvents <= 0 {
		r.maxEvents = defaultMaxEventsPerFlush
	}
	if r.maxDepth <= 0 {
		r.maxDepth = defaultMaxSpawnDepth
	}
	r.dispatch = newDispatcher(r.world, r)
	return r, nil
}

// World returns the world the runtime drives.
func (r *Runtime) World() world.World {
	return r.world
}

// State returns the shared game state.
func (r *Runtime) State() *gamestate.Store {
	return r.state
}

// Frame returns the number of completed steps.
func (r *Runtime) Frame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Instance returns the script bound to entity id.
func (r *Runtime) Instance(id world.EntityID) (InstanceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return InstanceInfo{}, false
	}
	return inst.info(), true
}

// Instances returns every live instance in creation order.
func (r *Runtime) Instances() []InstanceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InstanceInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.instances[id].info())
	}
	return out
}

func (r *Runtime) begin(ctx context.Context, entry Entry) error {
	if r.closed {
		return errors.Closed(errors.PhaseGuest, "runtime")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.report = &Report{Frame: r.frame, Entry: entry}
	return nil
}

// end flushes the event bus and publishes the report.
func (r *Runtime) end(ctx context.Context) {
	r.flush(ctx)
	rep := r.report
	r.report = nil
	if r.observer != nil && rep != nil {
		r.observer.Observe(*rep)
	}
}

func (r *Runtime) fail(err error) {
	if r.report != nil {
		r.report.Errors = append(r.report.Errors, err.Error())
	}
}

func (r *Runtime) live(id world.EntityID) *Instance {
	inst, ok := r.instances[id]
	if !ok || inst.closed {
		return nil
	}
	return inst
}

// Spawn creates an entity from req and instantiates its script. When the
// script fails to load the entity stays in the world unscripted and the
// script_load error is returned with its id.
func (r *Runtime) Spawn(ctx context.Context, req SpawnRequest) (world.EntityID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, EntrySpawn); err != nil {
		return 0, err
	}
	defer r.end(ctx)
	return r.spawn(ctx, req)
}

// Attach binds guest to an existing entity, constructs it with params and
// drains the constructor's commands.
func (r *Runtime) Attach(ctx context.Context, id world.EntityID, guest Guest, params []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, EntrySpawn); err != nil {
		return err
	}
	defer r.end(ctx)
	return r.attach(ctx, id, "", guest, params)
}

func (r *Runtime) spawn(ctx context.Context, req SpawnRequest) (world.EntityID, error) {
	script := req.Script
	var params []string
	if req.Prototype != "" {
		proto, ok := r.prototypes.Get(req.Prototype)
		if !ok {
			return 0, errors.NotFound(errors.PhaseLoad, "prototype", req.Prototype)
		}
		if script == "" {
			script = proto.Script
		}
		params = append(params, proto.Params...)
	}
	params = append(params, req.Params...)

	id, err := r.world.Spawn(world.Spawn{
		Prototype: req.Prototype,
		Parent:    req.Parent,
		Position:  req.Position,
		Velocity:  req.Velocity,
	})
	if err != nil {
		return 0, err
	}
	if r.report != nil {
		r.report.Spawned = append(r.report.Spawned, id)
	}
	if script == "" {
		return id, nil
	}
	if r.loader == nil {
		return id, errors.ScriptLoad(errors.PhaseLoad, "no loader for "+script, nil)
	}
	guest, err := r.loader.Guest(ctx, script)
	if err != nil {
		Logger().Warn("script load failed",
			zap.Uint64("entity", uint64(id)), zap.String("script", script), zap.Error(err))
		return id, err
	}
	return id, r.attach(ctx, id, req.Prototype, guest, params)
}

func (r *Runtime) attach(ctx context.Context, id world.EntityID, prototype string, guest Guest, params []string) error {
	if _, ok := r.instances[id]; ok {
		return errors.InvalidInput(errors.PhaseInstantiate, "entity "+strconv.FormatUint(uint64(id), 10)+" already scripted")
	}
	self, ok := r.world.Uniform(id)
	if !ok {
		return errors.NotFound(errors.PhaseInstantiate, "entity", strconv.FormatUint(uint64(id), 10))
	}

	inst := &Instance{ID: uuid.New(), Entity: id, Prototype: prototype, guest: guest}
	inst.host = newHost(id, inst.ID, r.state)
	inst.host.setUniforms(self, r.playerUniform())

	if err := ctx.Err(); err != nil {
		_ = guest.Close(context.WithoutCancel(ctx))
		return err
	}
	if err := guest.Construct(ctx, inst.host, StartupSettings{Params: params, Self: id}); err != nil {
		_ = guest.Close(context.WithoutCancel(ctx))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.IsKind(err, errors.KindScriptLoad) {
			err = errors.GuestTrap(uint64(id), "constructor", err)
		}
		Logger().Warn("script construction failed", zap.Uint64("entity", uint64(id)), zap.Error(err))
		return err
	}

	r.instances[id] = inst
	r.order = append(r.order, id)
	Logger().Debug("script attached",
		zap.Uint64("entity", uint64(id)), zap.String("instance", inst.ID.String()),
		zap.String("prototype", prototype), zap.Int("spawn_depth", r.spawnDepth))
	r.drain(ctx, inst)
	return nil
}

func (r *Runtime) playerUniform() world.Uniform {
	id, ok := r.world.Player()
	if !ok {
		return world.Uniform{}
	}
	u, _ := r.world.Uniform(id)
	return u
}

// Step runs one frame: uniform sync, timer pass, tick pass, event flush.
//
// When ctx is done the step stops before the next guest call and returns
// ctx.Err(). Instances are left intact and timers whose callback did not
// complete fire again on the next step.
func (r *Runtime) Step(ctx context.Context, dt time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, EntryStep); err != nil {
		return err
	}
	defer func() {
		r.end(ctx)
		r.frame++
	}()

	r.syncUniforms(ctx)
	if err := r.runTimers(ctx, dt); err != nil {
		return err
	}
	return r.tick(ctx, dt)
}

// syncUniforms stores frame-start snapshots in every host and tears down
// instances whose entity left the world.
func (r *Runtime) syncUniforms(ctx context.Context) {
	player := r.playerUniform()
	for _, id := range slices.Clone(r.order) {
		inst := r.live(id)
		if inst == nil {
			continue
		}
		self, ok := r.world.Uniform(id)
		if !ok {
			r.teardown(ctx, inst)
			continue
		}
		inst.host.setUniforms(self, player)
	}
}

type firedTimer struct {
	inst  *Instance
	timer Timer
}

// runTimers advances every timer first and fires the expired ones after, so
// timers armed by callbacks wait for the next pass.
func (r *Runtime) runTimers(ctx context.Context, dt time.Duration) error {
	var fired []firedTimer
	for _, id := range r.order {
		inst := r.instances[id]
		for _, t := range inst.timers.Advance(dt) {
			fired = append(fired, firedTimer{inst: inst, timer: t})
		}
	}

	for i, f := range fired {
		inst, t := f.inst, f.timer
		if inst.closed || !r.world.Exists(inst.Entity) {
			err := errors.StaleTimer(uint64(inst.Entity), t.Key.Name)
			Logger().Debug("skipping stale timer", zap.String("timer", t.Key.String()), zap.Error(err))
			continue
		}
		if t.Key.Owner == OwnerScript {
			if err := r.call(ctx, inst, "timer-callback", func(ctx context.Context) error {
				return inst.guest.TimerCallback(ctx, t.Key.Name)
			}); err != nil {
				rearm(fired[i:])
				return err
			}
		}
		if t.Action == nil || !r.world.Exists(inst.Entity) {
			continue
		}
		if err := r.dispatch.runAction(inst.Entity, t.Action); err != nil {
			err = errors.HostCall(uint64(inst.Entity), "timer action", err)
			Logger().Warn("timer action failed", zap.String("timer", t.Key.String()), zap.Error(err))
			r.fail(err)
		}
	}
	return nil
}

// rearm puts expired timers back at zero so they fire on the next pass.
// Timers re-armed in the meantime keep their new countdown.
func rearm(fired []firedTimer) {
	for _, f := range fired {
		if f.inst.closed {
			continue
		}
		if _, ok := f.inst.timers.Remaining(f.timer.Key); ok {
			continue
		}
		f.inst.timers.Arm(f.timer.Key, 0, f.timer.Action)
	}
}

func (r *Runtime) tick(ctx context.Context, dt time.Duration) error {
	_, hasPlayer := r.world.Player()
	secs := float32(dt.Seconds())
	for _, id := range slices.Clone(r.order) {
		inst := r.live(id)
		if inst == nil || !inst.ticking {
			continue
		}
		if inst.distance != nil {
			if !hasPlayer {
				continue
			}
			if r.distance(inst.host.self.Position, inst.host.player.Position) > *inst.distance {
				continue
			}
		}
		if err := r.call(ctx, inst, "tick", func(ctx context.Context) error {
			return inst.guest.Tick(ctx, secs)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Interacted notifies the script of entity id that the player interacted
// with it.
func (r *Runtime) Interacted(ctx context.Context, id world.EntityID) error {
	return r.enter(ctx, EntryInteracted, id, "interacted", func(ctx context.Context, g Guest) error {
		return g.Interacted(ctx)
	})
}

// Attacked notifies the script of entity id that it was hit.
func (r *Runtime) Attacked(ctx context.Context, id world.EntityID) error {
	return r.enter(ctx, EntryAttacked, id, "attacked", func(ctx context.Context, g Guest) error {
		return g.Attacked(ctx)
	})
}

// AnimationFinished reports that a non-repeating animation ended.
func (r *Runtime) AnimationFinished(ctx context.Context, id world.EntityID, name string) error {
	return r.enter(ctx, EntryAnimationFinished, id, "animation-finished", func(ctx context.Context, g Guest) error {
		return g.AnimationFinished(ctx, name)
	})
}

// EntityEvent delivers a world notification about entity id to its script.
func (r *Runtime) EntityEvent(ctx context.Context, id world.EntityID, ev EntityEvent) error {
	return r.enter(ctx, EntryEntityEvent, id, "receive-entity-event", func(ctx context.Context, g Guest) error {
		return g.ReceiveEntityEvent(ctx, ev)
	})
}

// enter runs one lifecycle call on the script of id as an external entry
// point. Guest faults are handled in isolation and not returned. A done ctx
// is returned as is.
func (r *Runtime) enter(ctx context.Context, entry Entry, id world.EntityID, name string, fn func(context.Context, Guest) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, entry); err != nil {
		return err
	}
	defer r.end(ctx)

	inst := r.live(id)
	if inst == nil {
		return errors.NotFound(errors.PhaseGuest, "script instance", strconv.FormatUint(uint64(id), 10))
	}
	return r.call(ctx, inst, name, func(ctx context.Context) error {
		return fn(ctx, inst.guest)
	})
}

// Despawn removes entity id from the world and tears down its script.
func (r *Runtime) Despawn(ctx context.Context, id world.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, EntryDespawn); err != nil {
		return err
	}
	defer r.end(ctx)
	return r.despawn(ctx, id)
}

// Close tears down every instance without flushing pending events. The
// runtime rejects further entry points.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, id := range slices.Clone(r.order) {
		if inst := r.live(id); inst != nil {
			r.teardown(ctx, inst)
		}
	}
	if n := r.bus.Reset(); n > 0 {
		Logger().Debug("dropped events on close", zap.Int("events", n))
	}
	return nil
}

// call runs one guest call and drains the instance. A failing call tears
// the instance down; siblings are unaffected. When ctx is done the call is
// skipped, or its failure blamed on the caller, and ctx.Err() is returned.
func (r *Runtime) call(ctx context.Context, inst *Instance, name string, fn func(context.Context) error) error {
	if inst.closed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			Logger().Debug("script call canceled",
				zap.Uint64("entity", uint64(inst.Entity)),
				zap.String("call", name),
				zap.Error(err))
			return ctxErr
		}
		if !errors.IsKind(err, errors.KindGuestTrap) || !hasEntity(err) {
			err = errors.GuestTrap(uint64(inst.Entity), name, err)
		}
		Logger().Error("script fault",
			zap.Uint64("entity", uint64(inst.Entity)),
			zap.String("instance", inst.ID.String()),
			zap.String("call", name),
			zap.Error(err))
		r.fail(err)
		r.teardown(ctx, inst)
		return nil
	}
	r.drain(ctx, inst)
	return nil
}

func hasEntity(err error) bool {
	var e *errors.Error
	return errors.As(err, &e) && e.Entity != 0
}

// drain applies the instance's commands in emission order. Once the entity
// is gone the remaining commands are discarded.
func (r *Runtime) drain(ctx context.Context, inst *Instance) {
	cmds := inst.host.take()
	for i, cmd := range cmds {
		if inst.closed || !r.world.Exists(inst.Entity) {
			Logger().Debug("discarding commands of despawned entity",
				zap.Uint64("entity", uint64(inst.Entity)), zap.Int("commands", len(cmds)-i))
			return
		}
		if err := r.dispatch.Apply(ctx, inst, cmd); err != nil {
			if ctx.Err() != nil {
				Logger().Debug("command canceled",
					zap.Uint64("entity", uint64(inst.Entity)),
					zap.String("command", string(cmd.Type)),
					zap.Error(err))
				continue
			}
			Logger().Warn("command dropped",
				zap.Uint64("entity", uint64(inst.Entity)),
				zap.String("instance", inst.ID.String()),
				zap.String("command", string(cmd.Type)),
				zap.Error(err))
			r.fail(err)
			continue
		}
		if r.report != nil {
			r.report.Commands = append(r.report.Commands, AppliedCommand{Entity: inst.Entity, Instance: inst.ID, Command: cmd})
		}
	}
}

// flush delivers queued events to every live instance, including events
// published during delivery, up to the per-flush limit. Events left when ctx
// is done stay queued for the next entry point.
func (r *Runtime) flush(ctx context.Context) {
	delivered := 0
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := r.bus.Next()
		if !ok {
			return
		}
		if delivered == r.maxEvents {
			dropped := r.bus.Reset() + 1
			Logger().Warn("event cascade limit reached", zap.Int("limit", r.maxEvents), zap.Int("dropped", dropped))
			r.fail(errors.New(errors.PhaseGuest, errors.KindOverflow).
				Detail("event cascade limit %d reached, %d dropped", r.maxEvents, dropped).Build())
			return
		}
		delivered++
		if r.report != nil {
			r.report.Events = append(r.report.Events, ev)
		}
		for _, id := range slices.Clone(r.order) {
			inst := r.live(id)
			if inst == nil {
				continue
			}
			if err := r.call(ctx, inst, "receive-event", func(ctx context.Context) error {
				return inst.guest.ReceiveEvent(ctx, ev)
			}); err != nil {
				return
			}
		}
	}
}

// teardown discards the instance's pending commands, runs the guest
// destructor and forgets the instance. An entity still in the world is
// reported as unscripted rather than despawned.
func (r *Runtime) teardown(ctx context.Context, inst *Instance) {
	if inst.closed {
		return
	}
	inst.closed = true
	delete(r.instances, inst.Entity)
	if i := slices.Index(r.order, inst.Entity); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	n := inst.host.discard()
	if err := inst.guest.Close(context.WithoutCancel(ctx)); err != nil {
		Logger().Debug("guest close failed", zap.Uint64("entity", uint64(inst.Entity)), zap.Error(err))
	}
	if r.report != nil {
		if r.world.Exists(inst.Entity) {
			r.report.Unscripted = append(r.report.Unscripted, inst.Entity)
		} else {
			r.report.Despawned = append(r.report.Despawned, inst.Entity)
		}
	}
	Logger().Debug("script torn down",
		zap.Uint64("entity", uint64(inst.Entity)),
		zap.String("instance", inst.ID.String()),
		zap.Int("discarded", n))
}

func (r *Runtime) setTicking(inst *Instance, enabled bool, distance *float32) {
	inst.ticking = enabled
	inst.distance = nil
	if distance != nil {
		d := *distance
		inst.distance = &d
	}
}

func (r *Runtime) armTimer(inst *Instance, key TimerKey, delay time.Duration, action *TimerAction) {
	inst.timers.Arm(key, delay, action)
}

func (r *Runtime) publish(ev Event) {
	r.bus.Publish(ev)
}

func (r *Runtime) despawn(ctx context.Context, id world.EntityID) error {
	if err := r.world.Despawn(id); err != nil {
		return err
	}
	if inst := r.live(id); inst != nil {
		r.teardown(ctx, inst)
	}
	return nil
}

// spawnProjectile spawns relative to parent. The spawned constructor's
// commands drain inside the call, so spawns nest; the nesting is bounded by
// maxDepth and unwinds when the call returns.
func (r *Runtime) spawnProjectile(ctx context.Context, parent *Instance, p SpawnProjectileCommand) error {
	depth := r.spawnDepth + 1
	if depth > r.maxDepth {
		return errors.HostCall(uint64(parent.Entity),
			"spawn depth "+strconv.Itoa(depth)+" exceeds limit "+strconv.Itoa(r.maxDepth), nil)
	}
	origin, ok := r.world.Uniform(parent.Entity)
	if !ok {
		return errors.NotFound(errors.PhaseDrain, "entity", strconv.FormatUint(uint64(parent.Entity), 10))
	}
	r.spawnDepth = depth
	defer func() { r.spawnDepth-- }()
	_, err := r.spawn(ctx, SpawnRequest{
		Prototype: p.Prototype,
		Params:    p.Params,
		Position:  origin.Position.Add(p.Offset),
		Velocity:  p.Velocity,
		Parent:    parent.Entity,
	})
	return err
}
