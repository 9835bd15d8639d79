// Package guesttest assembles small guest modules for tests. The modules are
// built with the wasm package so tests run real wazero instances without an
// external toolchain.
package guesttest

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/entity-scripting/wasm"
)

// Names of the entity world's core imports and exports.
const (
	HostModule     = "gamejam:game/game-host"
	ResourceModule = "[export]gamejam:game/entity-resource"

	Constructor   = "gamejam:game/entity-resource#[constructor]game-entity"
	GetEntity     = "gamejam:game/entity-resource#get-entity"
	methodPrefix  = "gamejam:game/entity-resource#[method]game-entity."
	ResourceNew   = "[resource-new]game-entity"
	HeapStart     = 8192
	defaultPages  = 2
	scratchOffset = 2048
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
)

func sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func vals(v ...wasm.ValType) []wasm.ValType { return v }

// Method returns the export name of an entity method.
func Method(name string) string {
	return methodPrefix + name
}

// AddMemory declares an exported memory of the given page count.
func AddMemory(m *wasm.Module, pages uint64) {
	idx := m.AddMemory(pages, nil)
	m.AddExport("memory", wasm.KindMemory, idx)
}

// AddRealloc adds a bump allocator exported as cabi_realloc. Memory is never
// freed or grown. It must be called after all imports are declared.
func AddRealloc(m *wasm.Module, heapStart int32) uint32 {
	heap := m.AddGlobal(true, heapStart)
	// (old_ptr, old_size, align, new_size) -> ptr
	code := wasm.NewCode().
		GlobalGet(heap).
		LocalGet(2).Op(wasm.OpI32Add).
		I32Const(1).Op(wasm.OpI32Sub).
		I32Const(0).LocalGet(2).Op(wasm.OpI32Sub).
		Op(wasm.OpI32And).
		LocalTee(4).
		LocalGet(3).Op(wasm.OpI32Add).
		GlobalSet(heap).
		LocalGet(4)
	idx := m.AddFunc(sig(vals(i32, i32, i32, i32), i32),
		[]wasm.LocalEntry{{Count: 1, ValType: i32}}, code.Bytes())
	m.AddExport("cabi_realloc", wasm.KindFunc, idx)
	return idx
}

// Data places s at offset and returns (offset, len) for use as a string argument.
func Data(m *wasm.Module, offset uint32, s string) (int32, int32) {
	m.Data = append(m.Data, wasm.DataSegment{Offset: offset, Init: []byte(s)})
	return int32(offset), int32(len(s))
}

// Bytes places b at offset and returns offset.
func Bytes(m *wasm.Module, offset uint32, b []byte) int32 {
	m.Data = append(m.Data, wasm.DataSegment{Offset: offset, Init: b})
	return int32(offset)
}

// layout builds little-endian guest memory images.
type layout []byte

func (l layout) u8(off int, v uint8) {
	l[off] = v
}

func (l layout) u32(off int, v uint32) {
	binary.LittleEndian.PutUint32(l[off:], v)
}

func (l layout) f32(off int, v float32) {
	l.u32(off, math.Float32bits(v))
}

// Minimal returns a guest whose constructor only creates its resource handle.
// constructorName selects the constructor export.
func Minimal(constructorName string) []byte {
	m := &wasm.Module{}
	resNew := m.AddFuncImport(ResourceModule, ResourceNew, sig(vals(i32), i32))
	AddMemory(m, defaultPages)
	AddRealloc(m, HeapStart)
	ctor := m.AddFunc(sig(vals(i32, i32, i64), i32), nil,
		wasm.NewCode().I32Const(1).Call(resNew).Bytes())
	m.AddExport(constructorName, wasm.KindFunc, ctor)
	return m.Encode()
}

// Entity returns the behavior guest used by runtime tests:
//
//   - constructor: records its entity id and calls set-ticking(true, none)
//   - tick: reads get-self-uniform and sends movement(x, y) with the position,
//     then increments the game data integer "hp"
//   - interacted: traps
//   - attacked: removes "Interactable", plays lever/closing west and
//     publishes trigger(5) on topic 5
//   - animation-finished: despawns itself
//   - receive-event: requests timer callback topic with zero delay
//   - timer-callback: faces direction (timer id & 3)
//   - receive-entity-event: plays sound "killed"
func Entity() []byte {
	m := &wasm.Module{}

	removeComponent := m.AddFuncImport(HostModule, "remove-component", sig(vals(i32, i32)))
	playAnimation := m.AddFuncImport(HostModule, "play-animation", sig(vals(i32, i32, i32, i32, i32, i32, i32)))
	publishEvent := m.AddFuncImport(HostModule, "publish-event", sig(vals(i32, i32, i32, i32)))
	setTicking := m.AddFuncImport(HostModule, "set-ticking", sig(vals(i32, i32, f32)))
	despawn := m.AddFuncImport(HostModule, "despawn-entity", sig(vals(i64)))
	requestTimer := m.AddFuncImport(HostModule, "request-timer-callback", sig(vals(i32, i32)))
	faceDirection := m.AddFuncImport(HostModule, "face-direction", sig(vals(i32)))
	sendInput := m.AddFuncImport(HostModule, "send-input", sig(vals(i32, i32, f32)))
	playSound := m.AddFuncImport(HostModule, "play-sound-once", sig(vals(i32, i32)))
	selfUniform := m.AddFuncImport(HostModule, "get-self-uniform", sig(vals(i32)))
	getInt := m.AddFuncImport(HostModule, "get-game-data-kv-int", sig(vals(i32, i32, i32)))
	setInt := m.AddFuncImport(HostModule, "set-game-data-kv-int", sig(vals(i32, i32, i32, i32)))
	resNew := m.AddFuncImport(ResourceModule, ResourceNew, sig(vals(i32), i32))

	AddMemory(m, defaultPages)
	AddRealloc(m, HeapStart)
	selfID := len(m.Globals)
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: i64, Mutable: true},
		Init: []byte{wasm.OpI64Const, 0},
	})

	interactable, interactableLen := Data(m, 100, "Interactable")
	lever, leverLen := Data(m, 120, "lever")
	closing, closingLen := Data(m, 130, "closing")
	hp, hpLen := Data(m, 140, "hp")
	killed, killedLen := Data(m, 150, "killed")

	const (
		uniformPtr = scratchOffset + 16
		getIntPtr  = scratchOffset
		setIntPtr  = scratchOffset + 8
	)

	ctor := m.AddFunc(sig(vals(i32, i32, i64), i32), nil, wasm.NewCode().
		LocalGet(2).GlobalSet(uint32(selfID)).
		I32Const(1).I32Const(0).F32Const(0).Call(setTicking).
		I32Const(1).Call(resNew).
		Bytes())
	m.AddExport(Constructor, wasm.KindFunc, ctor)

	tick := m.AddFunc(sig(vals(i32, f32)), nil, wasm.NewCode().
		I32Const(uniformPtr).Call(selfUniform).
		I32Const(0).
		I32Const(0).Load(wasm.OpI32Load, 2, uniformPtr).
		I32Const(0).Load(wasm.OpF32Load, 2, uniformPtr+4).
		Call(sendInput).
		I32Const(hp).I32Const(hpLen).I32Const(getIntPtr).Call(getInt).
		I32Const(hp).I32Const(hpLen).
		I32Const(0).Load(wasm.OpI32Load8U, 0, getIntPtr).
		I32Const(0).Load(wasm.OpI32Load, 2, getIntPtr+4).
		Op(wasm.OpI32Mul).
		I32Const(1).Op(wasm.OpI32Add).
		I32Const(setIntPtr).
		Call(setInt).
		Bytes())
	m.AddExport(Method("tick"), wasm.KindFunc, tick)

	interacted := m.AddFunc(sig(vals(i32)), nil, wasm.NewCode().Unreachable().Bytes())
	m.AddExport(Method("interacted"), wasm.KindFunc, interacted)

	attacked := m.AddFunc(sig(vals(i32)), nil, wasm.NewCode().
		I32Const(interactable).I32Const(interactableLen).Call(removeComponent).
		I32Const(lever).I32Const(leverLen).
		I32Const(closing).I32Const(closingLen).
		I32Const(500).I32Const(3).I32Const(0).
		Call(playAnimation).
		I32Const(5).I32Const(0).I32Const(5).I32Const(0).Call(publishEvent).
		Bytes())
	m.AddExport(Method("attacked"), wasm.KindFunc, attacked)

	finished := m.AddFunc(sig(vals(i32, i32, i32)), nil, wasm.NewCode().
		GlobalGet(uint32(selfID)).Call(despawn).
		Bytes())
	m.AddExport(Method("animation-finished"), wasm.KindFunc, finished)

	receiveEvent := m.AddFunc(sig(vals(i32, i32, i32, i32, i32)), nil, wasm.NewCode().
		LocalGet(1).I32Const(0).Call(requestTimer).
		Bytes())
	m.AddExport(Method("receive-event"), wasm.KindFunc, receiveEvent)

	timerCallback := m.AddFunc(sig(vals(i32, i32)), nil, wasm.NewCode().
		LocalGet(1).I32Const(3).Op(wasm.OpI32And).Call(faceDirection).
		Bytes())
	m.AddExport(Method("timer-callback"), wasm.KindFunc, timerCallback)

	entityEvent := m.AddFunc(sig(vals(i32, i32)), nil, wasm.NewCode().
		I32Const(killed).I32Const(killedLen).Call(playSound).
		Bytes())
	m.AddExport(Method("receive-entity-event"), wasm.KindFunc, entityEvent)

	return m.Encode()
}


// Boss returns a guest that drives the host functions Entity leaves alone:
//
//   - constructor: inserts interactable("pull", 2.5), attackable,
//     collider(1, 2, physical), rigid-body(dynamic), enemy(30), boss and
//     health(25) in one insert-components call, then set-ticking(true, none)
//   - interacted: play-music "boss.ogg", grant-player-power "roll" and
//     level-transition(2, "gate")
//   - attacked: schedule-attack(250ms, 3, 1.5, (1, 0), (0, -1)) and
//     spawn-projectile((4, 0), (1, 0.5), "bolt", ["damage=2", "speed=4"])
//   - tick: sends movement(x, y) with the player's position from
//     get-player-uniform, sets game data "phase" to "two" and plays the
//     previous value as a sound, then reads "phase" back and plays it too
func Boss() []byte {
	m := &wasm.Module{}

	insert := m.AddFuncImport(HostModule, "insert-components", sig(vals(i32, i32)))
	setTicking := m.AddFuncImport(HostModule, "set-ticking", sig(vals(i32, i32, f32)))
	playMusic := m.AddFuncImport(HostModule, "play-music", sig(vals(i32, i32)))
	grantPower := m.AddFuncImport(HostModule, "grant-player-power", sig(vals(i32, i32)))
	levelTransition := m.AddFuncImport(HostModule, "level-transition", sig(vals(i32, i32, i32)))
	scheduleAttack := m.AddFuncImport(HostModule, "schedule-attack", sig(vals(i32, i32, f32, f32, f32, f32, f32)))
	spawnProjectile := m.AddFuncImport(HostModule, "spawn-projectile", sig(vals(f32, f32, f32, f32, i32, i32, i32, i32)))
	playerUniform := m.AddFuncImport(HostModule, "get-player-uniform", sig(vals(i32)))
	sendInput := m.AddFuncImport(HostModule, "send-input", sig(vals(i32, i32, f32)))
	getData := m.AddFuncImport(HostModule, "get-game-data-kv", sig(vals(i32, i32, i32)))
	setData := m.AddFuncImport(HostModule, "set-game-data-kv", sig(vals(i32, i32, i32, i32, i32)))
	playSound := m.AddFuncImport(HostModule, "play-sound-once", sig(vals(i32, i32)))
	resNew := m.AddFuncImport(ResourceModule, ResourceNew, sig(vals(i32), i32))

	AddMemory(m, defaultPages)
	AddRealloc(m, HeapStart)

	pull, pullLen := Data(m, 100, "pull")
	music, musicLen := Data(m, 110, "boss.ogg")
	roll, rollLen := Data(m, 120, "roll")
	gate, gateLen := Data(m, 130, "gate")
	bolt, boltLen := Data(m, 140, "bolt")
	damage, damageLen := Data(m, 150, "damage=2")
	speed, speedLen := Data(m, 160, "speed=4")
	phase, phaseLen := Data(m, 170, "phase")
	two, twoLen := Data(m, 180, "two")

	// list<insertable-components>: 16-byte elements, tag at 0, payload at 4.
	const components = 7
	comps := make(layout, components*16)
	comps.u8(0, 0)
	comps.u32(4, uint32(pull))
	comps.u32(8, uint32(pullLen))
	comps.f32(12, 2.5)
	comps.u8(16, 1)
	comps.u8(32, 2)
	comps.f32(36, 1)
	comps.f32(40, 2)
	comps.u8(44, 1)
	comps.u8(48, 3)
	comps.u8(52, 1)
	comps.u8(64, 4)
	comps.u32(68, 30)
	comps.u8(80, 5)
	comps.u8(96, 6)
	comps.u32(100, 25)
	compsPtr := Bytes(m, 512, comps)

	// list<string>: (ptr, len) pairs.
	params := make(layout, 16)
	params.u32(0, uint32(damage))
	params.u32(4, uint32(damageLen))
	params.u32(8, uint32(speed))
	params.u32(12, uint32(speedLen))
	paramsPtr := Bytes(m, 640, params)

	const (
		uniformPtr = scratchOffset
		prevPtr    = scratchOffset + 32
		readPtr    = scratchOffset + 48
	)

	ctor := m.AddFunc(sig(vals(i32, i32, i64), i32), nil, wasm.NewCode().
		I32Const(compsPtr).I32Const(components).Call(insert).
		I32Const(1).I32Const(0).F32Const(0).Call(setTicking).
		I32Const(1).Call(resNew).
		Bytes())
	m.AddExport(Constructor, wasm.KindFunc, ctor)

	interacted := m.AddFunc(sig(vals(i32)), nil, wasm.NewCode().
		I32Const(music).I32Const(musicLen).Call(playMusic).
		I32Const(roll).I32Const(rollLen).Call(grantPower).
		I32Const(2).I32Const(gate).I32Const(gateLen).Call(levelTransition).
		Bytes())
	m.AddExport(Method("interacted"), wasm.KindFunc, interacted)

	attacked := m.AddFunc(sig(vals(i32)), nil, wasm.NewCode().
		I32Const(250).I32Const(3).F32Const(1.5).
		F32Const(1).F32Const(0).
		F32Const(0).F32Const(-1).
		Call(scheduleAttack).
		F32Const(4).F32Const(0).
		F32Const(1).F32Const(0.5).
		I32Const(bolt).I32Const(boltLen).
		I32Const(paramsPtr).I32Const(2).
		Call(spawnProjectile).
		Bytes())
	m.AddExport(Method("attacked"), wasm.KindFunc, attacked)

	tick := m.AddFunc(sig(vals(i32, f32)), nil, wasm.NewCode().
		I32Const(uniformPtr).Call(playerUniform).
		I32Const(0).
		I32Const(0).Load(wasm.OpI32Load, 2, uniformPtr).
		I32Const(0).Load(wasm.OpF32Load, 2, uniformPtr+4).
		Call(sendInput).
		// option<string> results: tag at 0, string at 4.
		I32Const(phase).I32Const(phaseLen).I32Const(two).I32Const(twoLen).I32Const(prevPtr).Call(setData).
		I32Const(0).Load(wasm.OpI32Load8U, 0, prevPtr).
		If().
		I32Const(0).Load(wasm.OpI32Load, 2, prevPtr+4).
		I32Const(0).Load(wasm.OpI32Load, 2, prevPtr+8).
		Call(playSound).
		End().
		I32Const(phase).I32Const(phaseLen).I32Const(readPtr).Call(getData).
		I32Const(0).Load(wasm.OpI32Load8U, 0, readPtr).
		If().
		I32Const(0).Load(wasm.OpI32Load, 2, readPtr+4).
		I32Const(0).Load(wasm.OpI32Load, 2, readPtr+8).
		Call(playSound).
		End().
		Bytes())
	m.AddExport(Method("tick"), wasm.KindFunc, tick)

	return m.Encode()
}
