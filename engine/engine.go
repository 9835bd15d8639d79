package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/transcoder"
	"github.com/wippyai/entity-scripting/wasm"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages caps linear memory per instance in 64KiB pages.
	// 0 means the wazero default (65536 pages = 4GiB).
	MemoryLimitPages uint32

	// CallTimeout bounds every guest export call. A guest still running at the
	// deadline is terminated and the call fails. 0 disables the deadline and
	// leaves the caller's context as the only bound.
	CallTimeout time.Duration
}

// Engine owns a wazero runtime, the host modules guests link against and a
// cache of compiled modules.
type Engine struct {
	runtime wazero.Runtime
	cfg     Config

	layout  *transcoder.Calculator
	encoder *transcoder.Encoder
	decoder *transcoder.Decoder

	compiled sync.Map // uint64 content hash -> *Module
	group    singleflight.Group

	instances sync.Map // wazero module name -> *Instance

	hostMu        sync.Mutex
	hostModules   map[string]struct{}
	resourceTypes map[string]uint32

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// New creates an engine. Guest calls are interrupted when their context is
// done, which is how CallTimeout is enforced.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	layout := transcoder.NewCalculator()
	return &Engine{
		runtime:       wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:           cfg,
		layout:        layout,
		encoder:       transcoder.NewEncoderWithLayout(layout),
		decoder:       transcoder.NewDecoderWithLayout(layout),
		hostModules:   make(map[string]struct{}),
		resourceTypes: make(map[string]uint32),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close closes the runtime and every instance created from it.
func (e *Engine) Close(ctx context.Context) error {
	e.instances.Range(func(k, v any) bool {
		v.(*Instance).resources.Close()
		e.instances.Delete(k)
		return true
	})
	return e.runtime.Close(ctx)
}

// InitWASI instantiates WASI preview1 for this engine's runtime.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(component.WASIPreview1) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindScriptLoad, err, "instantiate WASI")
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Module is a compiled guest module. It is shared by every instance created
// from the same component bytes.
type Module struct {
	engine     *Engine
	compiled   wazero.CompiledModule
	world      string
	hash       uint64
	exports    map[string]struct{}
	importWASI bool
}

// Hash returns the xxhash of the embedded core module.
func (m *Module) Hash() uint64 {
	return m.hash
}

// World returns the world name recorded in the component envelope.
func (m *Module) World() string {
	return m.world
}

// Has reports whether the module exports a function named name.
func (m *Module) Has(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// Compile decodes a component envelope and compiles its core module. Modules
// are cached by content hash; concurrent compiles of the same bytes share one
// compilation.
func (e *Engine) Compile(ctx context.Context, componentBytes []byte) (*Module, error) {
	comp, err := component.Decode(componentBytes)
	if err != nil {
		return nil, err
	}

	hash := xxhash.Sum64(comp.Core)
	if m, ok := e.compiled.Load(hash); ok {
		return m.(*Module), nil
	}

	v, err, _ := e.group.Do(strconv.FormatUint(hash, 16), func() (any, error) {
		if m, ok := e.compiled.Load(hash); ok {
			return m, nil
		}
		m, err := e.compile(ctx, comp, hash)
		if err != nil {
			return nil, err
		}
		e.compiled.Store(hash, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

func (e *Engine) compile(ctx context.Context, comp *component.Component, hash uint64) (*Module, error) {
	parsed, err := wasm.ParseModule(comp.Core)
	if err != nil {
		return nil, errors.ScriptLoad(errors.PhaseCompile, "parse core module", err)
	}

	m := &Module{
		engine:  e,
		world:   comp.World,
		hash:    hash,
		exports: make(map[string]struct{}, len(parsed.Exports)),
	}
	for _, exp := range parsed.Exports {
		if exp.Kind == wasm.KindFunc {
			m.exports[exp.Name] = struct{}{}
		}
	}
	for _, imp := range parsed.Imports {
		if imp.Module == component.WASIPreview1 {
			m.importWASI = true
			break
		}
	}

	if m.importWASI {
		if err := e.InitWASI(ctx); err != nil {
			return nil, err
		}
	}

	m.compiled, err = e.runtime.CompileModule(ctx, comp.Core)
	if err != nil {
		return nil, errors.ScriptLoad(errors.PhaseCompile, "compile failed", err)
	}

	Logger().Debug("compiled module",
		zap.String("world", m.world),
		zap.String("hash", strconv.FormatUint(hash, 16)),
		zap.Int("exports", len(m.exports)))
	return m, nil
}

// resourceType returns a stable engine-wide type id for a resource name.
// Must be called with e.hostMu held.
func (e *Engine) resourceType(module, res string) uint32 {
	key := module + "/" + res
	if id, ok := e.resourceTypes[key]; ok {
		return id
	}
	id := uint32(len(e.resourceTypes) + 1)
	e.resourceTypes[key] = id
	return id
}
