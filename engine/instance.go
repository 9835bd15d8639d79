package engine

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/resource"
)

// Instance is a live, isolated guest instance. It is not safe for concurrent
// calls; callers serialize access.
type Instance struct {
	id        uuid.UUID
	module    *Module
	mod       api.Module
	memory    *Memory
	realloc   api.Function
	resources *resource.Table
	store     any
	closed    atomic.Bool
	released  atomic.Bool
}

// Instantiate creates a fresh instance with its own memory and resource
// table. store is opaque host state reachable from host functions through
// InstanceFromContext.
func (m *Module) Instantiate(ctx context.Context, store any) (*Instance, error) {
	e := m.engine
	inst := &Instance{
		id:        uuid.New(),
		module:    m,
		resources: resource.NewTable(),
		store:     store,
	}
	name := inst.id.String()

	// Registered before instantiation so start functions can reach host imports.
	e.instances.Store(name, inst)

	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")

	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		e.instances.Delete(name)
		inst.resources.Close()
		return nil, errors.ScriptLoad(errors.PhaseInstantiate, "instantiate "+m.world, err)
	}

	inst.mod = mod
	if mem := mod.Memory(); mem != nil {
		inst.memory = NewMemory(mem)
	}
	inst.realloc = mod.ExportedFunction(component.CabiRealloc)
	if inst.memory == nil || inst.realloc == nil {
		_ = inst.Close(ctx)
		return nil, errors.ScriptLoad(errors.PhaseInstantiate, "instance lacks memory or cabi_realloc", nil)
	}

	Logger().Debug("instantiated", zap.String("instance", name), zap.String("world", m.world))
	return inst, nil
}

// ID returns the instance id, also used as the wazero module name.
func (i *Instance) ID() uuid.UUID {
	return i.id
}

// Module returns the compiled module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Store returns the host state passed to Instantiate.
func (i *Instance) Store() any {
	return i.store
}

// Resources returns the instance's resource table.
func (i *Instance) Resources() *resource.Table {
	return i.resources
}

// Memory returns the guest's linear memory.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Has reports whether the guest exports a function named name.
func (i *Instance) Has(name string) bool {
	return i.module.Has(name)
}

// Closed reports whether the instance has been closed, including by a
// timed-out call.
func (i *Instance) Closed() bool {
	return i.closed.Load()
}

// Call invokes an exported function. Arguments are lowered according to
// params and results are lifted according to results. After a successful call
// the matching cabi_post_ export, if any, runs with the raw results.
//
// A guest fault, a host function error and an expired CallTimeout all return
// an error of kind guest_trap. The instance must not be called again after a
// timeout.
//
// A ctx that is already done returns ctx.Err() without entering the guest.
// With a CallTimeout set, canceling ctx does not interrupt a running call;
// only the deadline does. Without one, ctx is the only bound and canceling it
// closes the instance.
func (i *Instance) Call(ctx context.Context, name string, params []wit.Type, args []any, results []wit.Type) ([]any, error) {
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseGuest, "instance "+i.id.String())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(name)
	}

	e := i.module.engine
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
		defer cancel()
	}

	alloc := &reallocAllocator{ctx: ctx, fn: i.realloc}

	var flat []uint64
	if component.ParamsSpill(params) {
		l := e.layout.Sequence(params)
		ptr, err := alloc.Alloc(l.Size, l.Align)
		if err != nil {
			return nil, i.trap(name, err)
		}
		if err := e.encoder.StoreValues(params, args, ptr, i.memory, alloc); err != nil {
			return nil, err
		}
		flat = []uint64{uint64(ptr)}
	} else {
		var err error
		flat, err = e.encoder.LowerValues(params, args, i.memory, alloc)
		if err != nil {
			return nil, err
		}
	}

	raw, err := fn.Call(ctx, flat...)
	if err != nil {
		return nil, i.trap(name, err)
	}

	var out []any
	if component.UsesRetptr(results) {
		if len(raw) != 1 {
			return nil, errors.InvalidData(errors.PhaseDecode, []string{name}, "missing return pointer")
		}
		out, err = e.decoder.LoadValues(results, uint32(raw[0]), i.memory)
	} else {
		out, err = e.decoder.LiftValues(results, raw, i.memory)
	}
	if err != nil {
		return nil, err
	}

	if post := i.mod.ExportedFunction(component.CabiPostPrefix + name); post != nil {
		if _, err := post.Call(ctx, raw...); err != nil {
			return nil, i.trap(component.CabiPostPrefix+name, err)
		}
	}
	return out, nil
}

func (i *Instance) trap(call string, cause error) error {
	if i.mod.IsClosed() {
		i.closed.Store(true)
	}
	return errors.New(errors.PhaseGuest, errors.KindGuestTrap).
		Detail("call %q trapped", call).
		Cause(cause).
		Build()
}

// Close releases the instance, its resource table and its wazero module.
// Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	if i.released.Swap(true) {
		return nil
	}
	i.closed.Store(true)
	i.module.engine.instances.Delete(i.id.String())
	i.resources.Close()
	if i.mod == nil {
		return nil
	}
	return i.mod.Close(ctx)
}
