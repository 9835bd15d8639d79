package script

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/config"
	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/internal/guesttest"
	"github.com/wippyai/entity-scripting/wasm"
	"github.com/wippyai/entity-scripting/world"
)

func scriptFS() fstest.MapFS {
	return fstest.MapFS{
		"scripts/lever.wasm":   {Data: guesttest.Entity()},
		"scripts/minimal.wasm": {Data: guesttest.Minimal(guesttest.Constructor)},
		"scripts/boss.wasm":    {Data: guesttest.Boss()},
		"scripts/legacy.wasm":  {Data: guesttest.Minimal(guesttest.GetEntity)},
		"scripts/junk.wasm":    {Data: []byte("not wasm")},
	}
}

func newTestLoader(t *testing.T, cache *DiskCache) *Loader {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx, engine.Config{MemoryLimitPages: 16, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(ctx) })
	require.NoError(t, DefineHost(ctx, eng))
	return NewLoader(scriptFS(), eng, cache)
}

func newWasmRuntime(t *testing.T, opts Options) (*Runtime, *world.Memory) {
	t.Helper()
	opts.Loader = newTestLoader(t, nil)
	opts.Prototypes = &config.Prototypes{Entities: map[string]config.Prototype{
		"lever":   {Script: "scripts/lever.wasm"},
		"minimal": {Script: "scripts/minimal.wasm"},
		"boss":    {Script: "scripts/boss.wasm"},
		"bolt":    {Script: "scripts/minimal.wasm"},
		"legacy":  {Script: "scripts/legacy.wasm"},
		"junk":    {Script: "scripts/junk.wasm"},
	}}
	return newTestRuntime(t, opts)
}

func spawn(t *testing.T, rt *Runtime, prototype string, pos world.Vec2) world.EntityID {
	t.Helper()
	id, err := rt.Spawn(context.Background(), SpawnRequest{Prototype: prototype, Position: pos})
	require.NoError(t, err)
	return id
}

func effectDetails(w *world.Memory, id world.EntityID, op string) []string {
	var out []string
	for _, e := range w.Effects() {
		if e.Entity == id && e.Op == op {
			out = append(out, e.Detail)
		}
	}
	return out
}

func TestEncodeIsDeterministic(t *testing.T) {
	mod := guesttest.Entity()
	a, err := component.Encode(mod, World())
	require.NoError(t, err)
	b, err := component.Encode(mod, World())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, component.IsComponent(a))
}

func TestModuleEncodesOnce(t *testing.T) {
	m := NewModule("lever", guesttest.Entity(), nil)
	first, err := m.Component()
	require.NoError(t, err)
	second, err := m.Component()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Encodes())
}

func TestModuleRemembersEncodeFailure(t *testing.T) {
	m := NewModule("junk", []byte("junk"), nil)
	_, err := m.Component()
	require.Error(t, err)
	_, again := m.Component()
	assert.Equal(t, err, again)
	assert.Equal(t, 1, m.Encodes())
}

func TestDiskCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir)
	require.NoError(t, err)

	first := NewModule("lever", guesttest.Entity(), cache)
	want, err := first.Component()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Encodes())

	second := NewModule("lever", guesttest.Entity(), cache)
	got, err := second.Component()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, second.Encodes())

	require.NoError(t, os.WriteFile(cache.path(first.Key()), []byte("garbage"), 0o644))
	_, ok := cache.Get(first.Key())
	assert.False(t, ok)
}

func TestNilDiskCache(t *testing.T) {
	var cache *DiskCache
	_, ok := cache.Get(1)
	assert.False(t, ok)
	assert.NoError(t, cache.Put(1, []byte("x")))
}

func TestLoaderSharesModules(t *testing.T) {
	l := newTestLoader(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	mods := make([]*Module, 8)
	for i := range mods {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := l.Load(ctx, "scripts/lever.wasm")
			assert.NoError(t, err)
			mods[i] = m
		}()
	}
	wg.Wait()
	for _, m := range mods {
		assert.Same(t, mods[0], m)
	}

	_, err := l.Load(ctx, "scripts/missing.wasm")
	assert.True(t, errors.IsKind(err, errors.KindScriptLoad))
}

func TestLoaderPreload(t *testing.T) {
	l := newTestLoader(t, nil)
	ctx := context.Background()
	require.NoError(t, l.Preload(ctx, "scripts/lever.wasm", "scripts/minimal.wasm", "scripts/legacy.wasm", "scripts/boss.wasm"))

	m, err := l.Load(ctx, "scripts/lever.wasm")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Encodes())

	err = l.Preload(ctx, "scripts/lever.wasm", "scripts/junk.wasm")
	assert.True(t, errors.IsKind(err, errors.KindScriptLoad))
}

func TestWasmConstructorEntersTicking(t *testing.T) {
	rt, _ := newWasmRuntime(t, Options{})
	id := spawn(t, rt, "lever", world.Vec2{})

	info, ok := rt.Instance(id)
	require.True(t, ok)
	assert.True(t, info.Ticking)
	assert.Nil(t, info.Distance)
}

func TestWasmTickRoundTrip(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	ctx := context.Background()
	id := spawn(t, rt, "lever", world.Vec2{X: 3, Y: 4})

	require.NoError(t, rt.Step(ctx, frame))
	require.NoError(t, rt.Step(ctx, frame))

	assert.Equal(t, []string{"movement 3.00,4.00", "movement 6.00,8.00"}, effectDetails(w, id, "input"))
	hp, ok := rt.State().GetInt("hp")
	require.True(t, ok)
	assert.Equal(t, int32(2), hp)
}

func TestWasmLeverScenario(t *testing.T) {
	var obs reports
	rt, w := newWasmRuntime(t, Options{Observer: &obs})
	ctx := context.Background()
	id := spawn(t, rt, "lever", world.Vec2{})
	require.NoError(t, w.InsertComponent(id, world.Interactable{Message: "pull", Range: 1}))

	require.NoError(t, rt.Attacked(ctx, id))

	e, _ := w.Entity(id)
	assert.False(t, e.Has("Interactable"))
	require.NotNil(t, e.Animation)
	assert.Equal(t, world.Animation{
		Sprite:    "lever",
		Name:      "closing",
		Duration:  500 * time.Millisecond,
		Direction: world.West,
	}, *e.Animation)
	assert.True(t, e.Animation.Flipped())

	rep := obs.last()
	assert.Equal(t, []Event{{Topic: 5, Data: Trigger(5)}}, rep.Events)
	require.Len(t, rep.Commands, 4)
	assert.Equal(t, CommandRemoveComponent, rep.Commands[0].Command.Type)
	assert.Equal(t, CommandPlayAnimation, rep.Commands[1].Command.Type)
	assert.Equal(t, CommandPublishEvent, rep.Commands[2].Command.Type)
	assert.Equal(t, CommandRequestTimer, rep.Commands[3].Command.Type)

	info, _ := rt.Instance(id)
	require.Len(t, info.Timers, 1)
	assert.Equal(t, TimerKey{Name: 5, Owner: OwnerScript}, info.Timers[0].Key)

	require.NoError(t, rt.Step(ctx, frame))
	e, _ = w.Entity(id)
	assert.Equal(t, world.East, e.Facing)
}

func TestWasmTrapIsolation(t *testing.T) {
	var obs reports
	rt, w := newWasmRuntime(t, Options{Observer: &obs})
	ctx := context.Background()
	faulty := spawn(t, rt, "lever", world.Vec2{})
	healthy := spawn(t, rt, "lever", world.Vec2{X: 1})

	require.NoError(t, rt.Interacted(ctx, faulty))
	_, ok := rt.Instance(faulty)
	assert.False(t, ok)
	assert.True(t, w.Exists(faulty))
	rep := obs.last()
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, []world.EntityID{faulty}, rep.Unscripted)
	assert.Empty(t, rep.Despawned)

	require.NoError(t, rt.Step(ctx, frame))
	assert.Len(t, effectDetails(w, healthy, "input"), 1)
	assert.Empty(t, effectDetails(w, faulty, "input"))
}

func TestWasmCanceledStepKeepsInstances(t *testing.T) {
	var obs reports
	rt, w := newWasmRuntime(t, Options{Observer: &obs})
	a := spawn(t, rt, "lever", world.Vec2{X: 1})
	b := spawn(t, rt, "lever", world.Vec2{X: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rt.Step(ctx, frame)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsKind(err, errors.KindGuestTrap))
	assert.Len(t, rt.Instances(), 2)

	require.NoError(t, rt.Step(context.Background(), frame))
	assert.Empty(t, obs.last().Errors)
	assert.Len(t, effectDetails(w, a, "input"), 1)
	assert.Len(t, effectDetails(w, b, "input"), 1)
}

func TestWasmAnimationFinishedDespawns(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	ctx := context.Background()
	id := spawn(t, rt, "lever", world.Vec2{})

	require.NoError(t, rt.AnimationFinished(ctx, id, "death"))
	assert.False(t, w.Exists(id))
	assert.Empty(t, rt.Instances())

	err := rt.AnimationFinished(ctx, id, "death")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestWasmEntityEvent(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	id := spawn(t, rt, "lever", world.Vec2{})

	require.NoError(t, rt.EntityEvent(context.Background(), id, EntityKilled))
	assert.Equal(t, []string{"killed"}, effectDetails(w, 0, "sound"))
}

func TestWasmMissingMethodsAreNoops(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	ctx := context.Background()

	for _, proto := range []string{"minimal", "legacy"} {
		id := spawn(t, rt, proto, world.Vec2{})
		require.NoError(t, rt.Interacted(ctx, id), proto)
		require.NoError(t, rt.Attacked(ctx, id), proto)
		_, ok := rt.Instance(id)
		assert.True(t, ok, proto)
		info, _ := rt.Instance(id)
		assert.False(t, info.Ticking, proto)
	}
	require.NoError(t, rt.Step(ctx, frame))
	assert.Len(t, rt.Instances(), 2)
	assert.Len(t, w.Entities(), 2)
}

func TestWasmJunkModuleIsScriptLoadError(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	id, err := rt.Spawn(context.Background(), SpawnRequest{Prototype: "junk"})
	assert.True(t, errors.IsKind(err, errors.KindScriptLoad))
	assert.True(t, w.Exists(id))
}

func TestWasmGuestReadsHostState(t *testing.T) {
	rt, _ := newWasmRuntime(t, Options{})
	ctx := context.Background()
	rt.State().SetInt("hp", 40)
	spawn(t, rt, "lever", world.Vec2{})

	require.NoError(t, rt.Step(ctx, frame))
	hp, _ := rt.State().GetInt("hp")
	assert.Equal(t, int32(41), hp)
}

func TestWasmInsertComponents(t *testing.T) {
	var obs reports
	rt, w := newWasmRuntime(t, Options{Observer: &obs})
	id := spawn(t, rt, "boss", world.Vec2{})

	e, _ := w.Entity(id)
	assert.Equal(t, world.Interactable{Message: "pull", Range: 2.5}, e.Components["Interactable"])
	assert.Equal(t, world.Attackable{}, e.Components["Attackable"])
	assert.Equal(t, world.Collider{Width: 1, Height: 2, Physical: true}, e.Components["Collider"])
	assert.Equal(t, world.RigidBody{Type: world.DynamicBody}, e.Components["RigidBody"])
	assert.Equal(t, world.Enemy{MaxHP: 30}, e.Components["Enemy"])
	assert.True(t, e.Has("Boss"))
	require.NotNil(t, e.Health)
	assert.Equal(t, uint32(25), *e.Health)

	cmds := obs.last().Commands
	require.NotEmpty(t, cmds)
	assert.Equal(t, CommandInsertComponents, cmds[0].Command.Type)
	assert.Len(t, cmds[0].Command.Insert.Components, 7)

	info, _ := rt.Instance(id)
	assert.True(t, info.Ticking)
}

func TestWasmInteractedReachesPlayer(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	player := w.Add(world.Entity{Player: true})
	id := spawn(t, rt, "boss", world.Vec2{})
	w.ResetEffects()

	require.NoError(t, rt.Interacted(context.Background(), id))
	assert.Equal(t, "boss.ogg", w.Music())
	assert.Equal(t, []string{"boss.ogg"}, effectDetails(w, 0, "music"))
	assert.Equal(t, uint32(2), w.Level())
	assert.Equal(t, []string{"2 spawn=gate"}, effectDetails(w, player, "level"))
	p, _ := w.Entity(player)
	assert.True(t, p.Has("PowerupRoll"))
}

func TestWasmAttackedSchedulesAndSpawns(t *testing.T) {
	var obs reports
	rt, w := newWasmRuntime(t, Options{Observer: &obs})
	id := spawn(t, rt, "boss", world.Vec2{X: 2, Y: 2})

	require.NoError(t, rt.Attacked(context.Background(), id))
	rep := obs.last()
	require.Empty(t, rep.Errors)
	require.Len(t, rep.Commands, 2)

	attack := rep.Commands[0].Command
	assert.Equal(t, CommandScheduleAttack, attack.Type)
	assert.Equal(t, &world.Attack{
		Delay:  250 * time.Millisecond,
		Damage: 3,
		Force:  1.5,
		Origin: world.Vec2{X: 1},
		Vector: world.Vec2{Y: -1},
	}, attack.Attack)
	assert.Equal(t, []string{"damage=3 delay=250ms"}, effectDetails(w, id, "attack"))

	projectile := rep.Commands[1].Command
	assert.Equal(t, CommandSpawnProjectile, projectile.Type)
	assert.Equal(t, &SpawnProjectileCommand{
		Velocity:  world.Vec2{X: 4},
		Offset:    world.Vec2{X: 1, Y: 0.5},
		Prototype: "bolt",
		Params:    []string{"damage=2", "speed=4"},
	}, projectile.Projectile)

	require.Len(t, rep.Spawned, 1)
	bolt, ok := w.Entity(rep.Spawned[0])
	require.True(t, ok)
	assert.Equal(t, "bolt", bolt.Prototype)
	assert.Equal(t, world.Vec2{X: 3, Y: 2.5}, bolt.Position)
	assert.Equal(t, world.Vec2{X: 4}, bolt.Velocity)
	_, ok = rt.Instance(bolt.ID)
	assert.True(t, ok)
}

func TestWasmGameDataStrings(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	ctx := context.Background()
	w.Add(world.Entity{Player: true, Position: world.Vec2{X: 2, Y: 3}})
	rt.State().Set("phase", "one")
	id := spawn(t, rt, "boss", world.Vec2{})

	require.NoError(t, rt.Step(ctx, frame))
	assert.Equal(t, []string{"movement 2.00,3.00"}, effectDetails(w, id, "input"))
	assert.Equal(t, []string{"one", "two"}, effectDetails(w, 0, "sound"))
	v, ok := rt.State().Get("phase")
	require.True(t, ok)
	assert.Equal(t, "two", v)

	require.NoError(t, rt.Step(ctx, frame))
	assert.Equal(t, []string{"one", "two", "two", "two"}, effectDetails(w, 0, "sound"))
}

func TestWasmGameDataMissingKey(t *testing.T) {
	rt, w := newWasmRuntime(t, Options{})
	w.Add(world.Entity{Player: true})
	spawn(t, rt, "boss", world.Vec2{})

	require.NoError(t, rt.Step(context.Background(), frame))
	assert.Equal(t, []string{"two"}, effectDetails(w, 0, "sound"))
}

func TestWorldWITMatchesBindings(t *testing.T) {
	for _, b := range hostBindings {
		assert.True(t, bytes.Contains(worldWIT, []byte(b.name+": func(")), b.name)
	}
}

func TestGuestsImportEveryHostFunction(t *testing.T) {
	imported := map[string]bool{}
	for _, guest := range [][]byte{guesttest.Entity(), guesttest.Boss()} {
		mod, err := wasm.ParseModule(guest)
		require.NoError(t, err)
		for _, imp := range mod.Imports {
			if imp.Module == HostNamespace {
				imported[imp.Name] = true
			}
		}
		require.NoError(t, component.Validate(mod, World()))
	}
	for _, b := range hostBindings {
		assert.True(t, imported[b.name], b.name)
	}
}
