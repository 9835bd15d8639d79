package script

import (
	"context"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/resource"
	"github.com/wippyai/entity-scripting/world"
)

// StartupSettings are passed to a script's constructor.
type StartupSettings struct {
	Params []string
	Self   world.EntityID
}

// Guest is the behavior behind one scripted entity. Construct is called once
// with the Host the guest records commands into. Every other method is a
// synchronous lifecycle call. A returned error of kind guest_trap tears the
// instance down.
type Guest interface {
	Construct(ctx context.Context, h *Host, s StartupSettings) error
	Tick(ctx context.Context, dt float32) error
	Interacted(ctx context.Context) error
	Attacked(ctx context.Context) error
	AnimationFinished(ctx context.Context, name string) error
	TimerCallback(ctx context.Context, timer uint32) error
	ReceiveEvent(ctx context.Context, ev Event) error
	ReceiveEntityEvent(ctx context.Context, ev EntityEvent) error
	Close(ctx context.Context) error
}

// wasmGuest runs a compiled component in its own engine instance.
type wasmGuest struct {
	module *engine.Module
	inst   *engine.Instance
	handle resource.Handle
	rep    uint32
}

// NewWasmGuest returns a guest backed by a compiled component. The instance
// is created by Construct.
func NewWasmGuest(m *engine.Module) Guest {
	return &wasmGuest{module: m}
}

func (g *wasmGuest) Construct(ctx context.Context, h *Host, s StartupSettings) error {
	inst, err := g.module.Instantiate(ctx, h)
	if err != nil {
		return err
	}
	name := exportConstructor.Name
	if !inst.Has(name) {
		name = exportConstructor.Aliases[0]
	}
	out, err := inst.Call(ctx, name, exportConstructor.Params,
		[]any{settingsToWIT(s.Params, s.Self)}, exportConstructor.Results)
	if err != nil {
		_ = inst.Close(ctx)
		return err
	}
	handle := resource.Handle(out[0].(uint32))
	rep, ok := inst.Resources().Rep(handle)
	if !ok {
		_ = inst.Close(ctx)
		return errors.ScriptLoad(errors.PhaseInstantiate, "constructor returned unknown handle", nil)
	}
	g.inst, g.handle, g.rep = inst, handle, rep
	return nil
}

func (g *wasmGuest) call(ctx context.Context, f component.Func, args ...any) error {
	if g.inst == nil {
		return errors.Closed(errors.PhaseGuest, "guest not constructed")
	}
	if !g.inst.Has(f.Name) {
		return nil
	}
	_, err := g.inst.Call(ctx, f.Name, f.Params, append([]any{g.rep}, args...), nil)
	return err
}

func (g *wasmGuest) Tick(ctx context.Context, dt float32) error {
	return g.call(ctx, methodTick, dt)
}

func (g *wasmGuest) Interacted(ctx context.Context) error {
	return g.call(ctx, methodInteracted)
}

func (g *wasmGuest) Attacked(ctx context.Context) error {
	return g.call(ctx, methodAttacked)
}

func (g *wasmGuest) AnimationFinished(ctx context.Context, name string) error {
	return g.call(ctx, methodAnimationFinished, name)
}

func (g *wasmGuest) TimerCallback(ctx context.Context, timer uint32) error {
	return g.call(ctx, methodTimerCallback, timer)
}

func (g *wasmGuest) ReceiveEvent(ctx context.Context, ev Event) error {
	return g.call(ctx, methodReceiveEvent, eventToWIT(ev))
}

func (g *wasmGuest) ReceiveEntityEvent(ctx context.Context, ev EntityEvent) error {
	return g.call(ctx, methodReceiveEntityEvent, uint32(ev))
}

// Close runs the resource destructor when the guest exports one, drops the
// entity handle and closes the instance.
func (g *wasmGuest) Close(ctx context.Context) error {
	if g.inst == nil {
		return nil
	}
	inst := g.inst
	g.inst = nil

	var dtorErr error
	if !inst.Closed() && inst.Has(exportDtor.Name) {
		_, dtorErr = inst.Call(ctx, exportDtor.Name, exportDtor.Params, []any{g.rep}, nil)
	}
	inst.Resources().Drop(g.handle)
	if err := inst.Close(ctx); err != nil {
		return err
	}
	return dtorErr
}

// Instance returns the underlying engine instance, or nil before Construct.
func (g *wasmGuest) Instance() *engine.Instance {
	return g.inst
}

// Stub is a Guest implemented by Go functions. Nil hooks are no-ops. Each
// hook receives the Host bound at construction.
type Stub struct {
	OnConstruct          func(h *Host, s StartupSettings) error
	OnTick               func(h *Host, dt float32) error
	OnInteracted         func(h *Host) error
	OnAttacked           func(h *Host) error
	OnAnimationFinished  func(h *Host, name string) error
	OnTimerCallback      func(h *Host, timer uint32) error
	OnReceiveEvent       func(h *Host, ev Event) error
	OnReceiveEntityEvent func(h *Host, ev EntityEvent) error
	OnClose              func(h *Host)

	host   *Host
	closed bool
}

var _ Guest = (*Stub)(nil)

// Host returns the host bound by Construct.
func (s *Stub) Host() *Host {
	return s.host
}

func (s *Stub) live() error {
	if s.host == nil || s.closed {
		return errors.Closed(errors.PhaseGuest, "stub guest")
	}
	return nil
}

func (s *Stub) Construct(_ context.Context, h *Host, settings StartupSettings) error {
	s.host = h
	if s.OnConstruct != nil {
		return s.OnConstruct(h, settings)
	}
	return nil
}

func (s *Stub) Tick(_ context.Context, dt float32) error {
	if err := s.live(); err != nil || s.OnTick == nil {
		return err
	}
	return s.OnTick(s.host, dt)
}

func (s *Stub) Interacted(context.Context) error {
	if err := s.live(); err != nil || s.OnInteracted == nil {
		return err
	}
	return s.OnInteracted(s.host)
}

func (s *Stub) Attacked(context.Context) error {
	if err := s.live(); err != nil || s.OnAttacked == nil {
		return err
	}
	return s.OnAttacked(s.host)
}

func (s *Stub) AnimationFinished(_ context.Context, name string) error {
	if err := s.live(); err != nil || s.OnAnimationFinished == nil {
		return err
	}
	return s.OnAnimationFinished(s.host, name)
}

func (s *Stub) TimerCallback(_ context.Context, timer uint32) error {
	if err := s.live(); err != nil || s.OnTimerCallback == nil {
		return err
	}
	return s.OnTimerCallback(s.host, timer)
}

func (s *Stub) ReceiveEvent(_ context.Context, ev Event) error {
	if err := s.live(); err != nil || s.OnReceiveEvent == nil {
		return err
	}
	return s.OnReceiveEvent(s.host, ev)
}

func (s *Stub) ReceiveEntityEvent(_ context.Context, ev EntityEvent) error {
	if err := s.live(); err != nil || s.OnReceiveEntityEvent == nil {
		return err
	}
	return s.OnReceiveEntityEvent(s.host, ev)
}

func (s *Stub) Close(context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.OnClose != nil && s.host != nil {
		s.OnClose(s.host)
	}
	return nil
}
