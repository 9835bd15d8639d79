// Package engine runs guest modules on wazero.
//
// An Engine owns one wazero runtime, the host modules guests import and a
// cache of compiled modules keyed by content hash:
//
//	e, _ := engine.New(ctx, engine.Config{MemoryLimitPages: 256, CallTimeout: time.Second})
//	_ = e.DefineHostModule(ctx, engine.HostModule{
//	    Namespace: "gamejam:game/game-host",
//	    Funcs:     []engine.HostFunc{{Name: "play-sound-once", Params: []wit.Type{wit.String{}}, Handler: h}},
//	})
//	mod, _ := e.Compile(ctx, componentBytes)
//	inst, _ := mod.Instantiate(ctx, store)
//	out, err := inst.Call(ctx, name, paramTypes, args, resultTypes)
//
// # Canonical ABI
//
// Host functions and guest exports exchange WIT values through the canonical
// ABI. More than 16 flat parameters are passed through guest memory and more
// than one flat result is returned through memory: imported functions get a
// trailing return pointer, exported functions return one.
//
//	WIT Type        Core Representation    Flat Count
//	─────────────────────────────────────────────────
//	bool, u8-u32    i32                    1
//	u64, s64        i64                    1
//	f32             f32                    1
//	string, list    (ptr, len) as i32×2    2
//	record, tuple   flattened fields       sum of fields
//	variant         (disc, joined payload) 1 + max(cases)
//
// # Resources
//
// HostModule.Resources provides the [resource-new], [resource-rep] and
// [resource-drop] intrinsics for a guest-exported resource. Each Instance has
// its own resource.Table, so handles never cross instances.
//
// # Failure model
//
// A host handler error panics inside the wazero call, which traps the calling
// guest. Traps, host errors and expired call deadlines surface from
// Instance.Call as errors of kind guest_trap. Other instances are unaffected.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use.
// Instance is NOT thread-safe and should be used by a single goroutine.
package engine
