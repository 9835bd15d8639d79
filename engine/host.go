package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/resource"
)

// HostHandler implements a host function. Arguments arrive lifted according to
// HostFunc.Params and results are lowered according to HostFunc.Results.
// The calling instance is available through InstanceFromContext.
// A returned error traps the calling guest.
type HostHandler func(ctx context.Context, args []any) ([]any, error)

// HostFunc is a single function exported by a host module.
type HostFunc struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
	Handler HostHandler
}

// HostModule is a core import module guests link against.
type HostModule struct {
	Namespace string
	Funcs     []HostFunc
	// Resources lists guest-exported resource types whose intrinsics
	// ([resource-new], [resource-rep], [resource-drop]) this module provides.
	// The intrinsics operate on the calling instance's resource table.
	Resources []string
}

// DefineHostModule instantiates a host module in the engine's runtime.
// It must be called before compiling modules that import it. Defining the
// same namespace twice is an error.
func (e *Engine) DefineHostModule(ctx context.Context, hm HostModule) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if _, ok := e.hostModules[hm.Namespace]; ok {
		return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
			Detail("host module %q already defined", hm.Namespace).
			Build()
	}

	builder := e.runtime.NewHostModuleBuilder(hm.Namespace)
	for _, f := range hm.Funcs {
		if f.Handler == nil {
			return errors.InvalidInput(errors.PhaseInstantiate, "host function "+f.Name+" has no handler")
		}
		params, results := component.Signature(f.Params, f.Results, component.Lower)
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(e.lowerHostFunc(hm.Namespace, f), params, results).
			WithName(f.Name).
			Export(f.Name)
	}
	for _, res := range hm.Resources {
		builder = e.exportResourceIntrinsics(builder, hm.Namespace, res)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Wrap(errors.PhaseInstantiate, errors.KindScriptLoad, err, "instantiate host module "+hm.Namespace)
	}
	e.hostModules[hm.Namespace] = struct{}{}

	Logger().Debug("host module defined",
		zap.String("namespace", hm.Namespace),
		zap.Int("funcs", len(hm.Funcs)),
		zap.Strings("resources", hm.Resources))
	return nil
}

// lowerHostFunc adapts a HostHandler to a raw wazero function. Arguments are
// lifted from the stack (or from guest memory when they spill) and results are
// lowered to the stack or written through the trailing return pointer.
func (e *Engine) lowerHostFunc(namespace string, f HostFunc) api.GoModuleFunc {
	flatParams, _ := component.Signature(f.Params, nil, component.Lower)
	paramCount := len(flatParams)
	spill := component.ParamsSpill(f.Params)
	retptr := component.UsesRetptr(f.Results)
	qualified := namespace + "#" + f.Name

	return func(ctx context.Context, mod api.Module, stack []uint64) {
		inst, ok := e.instanceFor(mod)
		if !ok {
			panic(errors.NotFound(errors.PhaseHost, "instance", mod.Name()))
		}
		mem := inst.memory
		if mem == nil {
			panic(errors.Unsupported(errors.PhaseHost, "host call from module without memory"))
		}

		var args []any
		var err error
		if spill {
			args, err = e.decoder.LoadValues(f.Params, uint32(stack[0]), mem)
		} else {
			args, err = e.decoder.LiftValues(f.Params, stack[:paramCount], mem)
		}
		if err != nil {
			panic(errors.Wrap(errors.PhaseHost, errors.KindHostCall, err, "lift arguments of "+qualified))
		}

		out, err := f.Handler(WithInstance(ctx, inst), args)
		if err != nil {
			panic(errors.Wrap(errors.PhaseHost, errors.KindHostCall, err, qualified))
		}
		if len(f.Results) == 0 {
			return
		}
		if len(out) != len(f.Results) {
			panic(errors.New(errors.PhaseHost, errors.KindHostCall).
				Detail("%s returned %d values, want %d", qualified, len(out), len(f.Results)).
				Build())
		}

		alloc := &reallocAllocator{ctx: ctx, fn: inst.realloc}
		if retptr {
			err = e.encoder.StoreValues(f.Results, out, uint32(stack[paramCount]), mem, alloc)
		} else {
			var flat []uint64
			flat, err = e.encoder.LowerValues(f.Results, out, mem, alloc)
			copy(stack, flat)
		}
		if err != nil {
			panic(errors.Wrap(errors.PhaseHost, errors.KindHostCall, err, "lower results of "+qualified))
		}
	}
}

func (e *Engine) exportResourceIntrinsics(b wazero.HostModuleBuilder, namespace, res string) wazero.HostModuleBuilder {
	typeID := e.resourceType(namespace, res)
	newName, repName, dropName := ResourceIntrinsicNames(res)
	i32 := []api.ValueType{api.ValueTypeI32}

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			inst := e.mustInstance(mod)
			h := inst.resources.New(typeID, uint32(stack[0]))
			if h == 0 {
				panic(errors.Closed(errors.PhaseHost, "resource table"))
			}
			stack[0] = uint64(h)
		}), i32, i32).
		Export(newName)

	b = b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			inst := e.mustInstance(mod)
			h := resource.Handle(stack[0])
			if id, ok := inst.resources.TypeID(h); !ok || id != typeID {
				panic(fmt.Errorf("%s: unknown handle %d", repName, h))
			}
			rep, _ := inst.resources.Rep(h)
			stack[0] = uint64(rep)
		}), i32, i32).
		Export(repName)

	return b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			inst := e.mustInstance(mod)
			if _, ok := inst.resources.Drop(resource.Handle(stack[0])); !ok {
				panic(fmt.Errorf("%s: unknown handle %d", dropName, stack[0]))
			}
		}), i32, nil).
		Export(dropName)
}

func (e *Engine) instanceFor(mod api.Module) (*Instance, bool) {
	if mod == nil {
		return nil, false
	}
	v, ok := e.instances.Load(mod.Name())
	if !ok {
		return nil, false
	}
	return v.(*Instance), true
}

func (e *Engine) mustInstance(mod api.Module) *Instance {
	inst, ok := e.instanceFor(mod)
	if !ok {
		panic(errors.NotFound(errors.PhaseHost, "instance", mod.Name()))
	}
	return inst
}

type instanceKey struct{}

// WithInstance returns a context carrying inst.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

// InstanceFromContext returns the instance whose guest invoked the current
// host function.
func InstanceFromContext(ctx context.Context) (*Instance, bool) {
	inst, ok := ctx.Value(instanceKey{}).(*Instance)
	return inst, ok
}
