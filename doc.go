// Package entityscript runs per-entity WebAssembly scripts for a 2D game simulation.
//
// Every scripted entity (lever, door, enemy, projectile, power-up) owns one sandboxed
// guest instance. Guests never touch simulation state: host calls only describe
// effects as commands, and the runtime applies them against the world after each
// guest call returns.
//
// # Architecture Overview
//
//	entityscript/        Root package with the guest Memory and Allocator interfaces
//	├── script/          Runtime: loader, instances, host bindings, drain, timers, events
//	├── engine/          wazero integration, host modules, canonical ABI calls
//	├── component/       Component envelope encode/decode and ABI flattening
//	├── transcoder/      Canonical ABI lift/lower between WIT values and guest memory
//	├── resource/        Guest resource handle tables
//	├── wasm/            Core WASM binary codec (validation and test guests)
//	├── world/           Simulation collaborator contract and in-memory reference world
//	├── gamestate/       Shared key/value game state, snapshots and save slots
//	├── config/          YAML runtime config and entity prototypes
//	├── observer/        Websocket feed of per-frame reports
//	├── errors/          Structured error types
//	└── cmd/run/         CLI and interactive TUI
//
// # Frame Model
//
// A frame runs, in order: uniform sync, timer pass, tick pass, event flush.
// Each guest call is immediately followed by a drain of that instance's commands:
//
//	rt, _ := script.New(script.Options{World: w, State: state, Loader: loader, Prototypes: protos})
//	id, _ := rt.Spawn(ctx, script.SpawnRequest{Prototype: "lever", Position: world.Vec2{X: 10}})
//	_ = rt.Step(ctx, time.Second/60)
//	_ = rt.Attacked(ctx, id)
//
// # Errors
//
// Script load failures are returned to the spawning caller. Guest traps tear down the
// faulting instance only. Unknown asset references in commands are logged and dropped.
package entityscript
