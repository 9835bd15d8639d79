package engine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/internal/guesttest"
	"github.com/wippyai/entity-scripting/resource"
	"github.com/wippyai/entity-scripting/wasm"
)

const (
	testHostNS = "test:host/api"
	testIface  = "test:guest/res"
)

type testStore struct {
	logs []string
}

var pairType = &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U32{}, wit.String{}}}}

func u32s(n int) []wit.Type {
	out := make([]wit.Type, n)
	for i := range out {
		out[i] = wit.U32{}
	}
	return out
}

func testWorld() *component.World {
	newName, _, _ := ResourceIntrinsicNames("thing")
	return &component.World{
		Name: "test-world",
		WIT:  []byte("package test:guest;"),
		Imports: []component.Func{
			{Module: testHostNS, Name: "log", Params: []wit.Type{wit.String{}}},
			{Module: testHostNS, Name: "double", Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.U32{}}},
			{Module: testHostNS, Name: "pair", Results: []wit.Type{pairType}},
			{Module: testHostNS, Name: "fail"},
			{Module: ResourceModule(testIface), Name: newName, Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.U32{}}},
		},
		Exports: []component.Func{
			{Name: "run", Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.U32{}}},
			{Name: "pair-len", Results: []wit.Type{wit.U32{}}},
			{Name: "make", Results: []wit.Type{wit.U32{}}},
			{Name: "echo", Params: []wit.Type{wit.String{}}, Results: []wit.Type{wit.String{}}},
			{Name: "posted", Results: []wit.Type{wit.U32{}}},
			{Name: "big", Params: u32s(17), Results: []wit.Type{wit.U32{}}},
			{Name: "spin"},
			{Name: "trap"},
			{Name: "call-fail"},
		},
	}
}

func testGuest() []byte {
	i32 := wasm.ValI32
	sig := func(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
		return wasm.FuncType{Params: params, Results: results}
	}
	newName, _, _ := ResourceIntrinsicNames("thing")

	m := &wasm.Module{}
	log := m.AddFuncImport(testHostNS, "log", sig([]wasm.ValType{i32, i32}))
	double := m.AddFuncImport(testHostNS, "double", sig([]wasm.ValType{i32}, i32))
	pair := m.AddFuncImport(testHostNS, "pair", sig([]wasm.ValType{i32}))
	fail := m.AddFuncImport(testHostNS, "fail", sig(nil))
	resNew := m.AddFuncImport(ResourceModule(testIface), newName, sig([]wasm.ValType{i32}, i32))

	guesttest.AddMemory(m, 1)
	guesttest.AddRealloc(m, 4096)
	posted := m.AddGlobal(true, 0)
	hi, hiLen := guesttest.Data(m, 100, "hi")

	export := func(name string, ft wasm.FuncType, code *wasm.Code) {
		m.AddExport(name, wasm.KindFunc, m.AddFunc(ft, nil, code.Bytes()))
	}

	export("run", sig([]wasm.ValType{i32}, i32), wasm.NewCode().
		I32Const(hi).I32Const(hiLen).Call(log).
		LocalGet(0).Call(double).I32Const(1).Op(wasm.OpI32Add))
	export("pair-len", sig(nil, i32), wasm.NewCode().
		I32Const(3000).Call(pair).
		I32Const(0).Load(wasm.OpI32Load, 2, 3000).
		I32Const(0).Load(wasm.OpI32Load, 2, 3008).
		Op(wasm.OpI32Add))
	export("make", sig(nil, i32), wasm.NewCode().I32Const(42).Call(resNew))
	export("echo", sig([]wasm.ValType{i32, i32}, i32), wasm.NewCode().
		I32Const(3100).LocalGet(0).Store(wasm.OpI32Store, 2, 0).
		I32Const(3104).LocalGet(1).Store(wasm.OpI32Store, 2, 0).
		I32Const(3100))
	export("cabi_post_echo", sig([]wasm.ValType{i32}), wasm.NewCode().I32Const(1).GlobalSet(posted))
	export("posted", sig(nil, i32), wasm.NewCode().GlobalGet(posted))
	export("big", sig([]wasm.ValType{i32}, i32), wasm.NewCode().LocalGet(0).Load(wasm.OpI32Load, 2, 64))
	export("spin", sig(nil), wasm.NewCode().Loop().Br(0).End())
	export("trap", sig(nil), wasm.NewCode().Unreachable())
	export("call-fail", sig(nil), wasm.NewCode().Call(fail))

	return m.Encode()
}

func testHost() HostModule {
	return HostModule{
		Namespace: testHostNS,
		Funcs: []HostFunc{
			{Name: "log", Params: []wit.Type{wit.String{}}, Handler: func(ctx context.Context, args []any) ([]any, error) {
				inst, ok := InstanceFromContext(ctx)
				if !ok {
					return nil, stderrors.New("no instance in context")
				}
				s := inst.Store().(*testStore)
				s.logs = append(s.logs, args[0].(string))
				return nil, nil
			}},
			{Name: "double", Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.U32{}}, Handler: func(_ context.Context, args []any) ([]any, error) {
				return []any{args[0].(uint32) * 2}, nil
			}},
			{Name: "pair", Results: []wit.Type{pairType}, Handler: func(context.Context, []any) ([]any, error) {
				return []any{[]any{uint32(7), "seven"}}, nil
			}},
			{Name: "fail", Handler: func(context.Context, []any) ([]any, error) {
				return nil, stderrors.New("host refused")
			}},
		},
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })

	if err := e.DefineHostModule(ctx, testHost()); err != nil {
		t.Fatalf("DefineHostModule: %v", err)
	}
	if err := e.DefineHostModule(ctx, HostModule{Namespace: ResourceModule(testIface), Resources: []string{"thing"}}); err != nil {
		t.Fatalf("DefineHostModule resources: %v", err)
	}
	return e
}

func compileTestGuest(t *testing.T, e *Engine) *Module {
	t.Helper()
	bytes, err := component.Encode(testGuest(), testWorld())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mod, err := e.Compile(context.Background(), bytes)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return mod
}

func newTestInstance(t *testing.T, mod *Module) (*Instance, *testStore) {
	t.Helper()
	store := &testStore{}
	inst, err := mod.Instantiate(context.Background(), store)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { inst.Close(context.Background()) })
	return inst, store
}

func TestCompileCachesByHash(t *testing.T) {
	e := newTestEngine(t, Config{})
	m1 := compileTestGuest(t, e)
	m2 := compileTestGuest(t, e)
	if m1 != m2 {
		t.Fatal("expected the same compiled module for identical bytes")
	}
	if m1.World() != "test-world" {
		t.Errorf("World = %q", m1.World())
	}
	if !m1.Has("run") || m1.Has("nope") {
		t.Error("Has reports wrong exports")
	}
}

func TestCompileRejectsRawModule(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Compile(context.Background(), testGuest())
	if !errors.IsKind(err, errors.KindScriptLoad) {
		t.Fatalf("got %v, want script load error", err)
	}
}

func TestCallLowersAndLifts(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, store := newTestInstance(t, compileTestGuest(t, e))

	out, err := inst.Call(context.Background(), "run", []wit.Type{wit.U32{}}, []any{uint32(20)}, []wit.Type{wit.U32{}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out[0] != uint32(41) {
		t.Errorf("run(20) = %v, want 41", out[0])
	}
	if len(store.logs) != 1 || store.logs[0] != "hi" {
		t.Errorf("logs = %v", store.logs)
	}
}

func TestImportReturnPointer(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	out, err := inst.Call(context.Background(), "pair-len", nil, nil, []wit.Type{wit.U32{}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out[0] != uint32(12) {
		t.Errorf("pair-len = %v, want 12", out[0])
	}
}

func TestExportReturnPointerAndPostReturn(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))
	ctx := context.Background()

	out, err := inst.Call(ctx, "echo", []wit.Type{wit.String{}}, []any{"hello"}, []wit.Type{wit.String{}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out[0] != "hello" {
		t.Errorf("echo = %v", out[0])
	}

	out, err = inst.Call(ctx, "posted", nil, nil, []wit.Type{wit.U32{}})
	if err != nil {
		t.Fatalf("Call posted: %v", err)
	}
	if out[0] != uint32(1) {
		t.Error("cabi_post_echo did not run")
	}
}

func TestSpilledParams(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	args := make([]any, 17)
	for i := range args {
		args[i] = uint32(i + 1)
	}
	out, err := inst.Call(context.Background(), "big", u32s(17), args, []wit.Type{wit.U32{}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out[0] != uint32(17) {
		t.Errorf("big = %v, want 17", out[0])
	}
}

func TestResourceTablePerInstance(t *testing.T) {
	e := newTestEngine(t, Config{})
	mod := compileTestGuest(t, e)
	a, _ := newTestInstance(t, mod)
	b, _ := newTestInstance(t, mod)
	ctx := context.Background()

	for _, inst := range []*Instance{a, b} {
		out, err := inst.Call(ctx, "make", nil, nil, []wit.Type{wit.U32{}})
		if err != nil {
			t.Fatalf("Call make: %v", err)
		}
		h := out[0].(uint32)
		if h != 1 {
			t.Errorf("first handle = %d, want 1", h)
		}
		rep, ok := inst.Resources().Rep(resourceHandle(h))
		if !ok || rep != 42 {
			t.Errorf("rep = %d, %v", rep, ok)
		}
	}
	if a.ID() == b.ID() {
		t.Error("instances share an id")
	}
}

func TestTrapIsolation(t *testing.T) {
	e := newTestEngine(t, Config{})
	mod := compileTestGuest(t, e)
	bad, _ := newTestInstance(t, mod)
	good, _ := newTestInstance(t, mod)
	ctx := context.Background()

	_, err := bad.Call(ctx, "trap", nil, nil, nil)
	if !errors.IsKind(err, errors.KindGuestTrap) {
		t.Fatalf("got %v, want guest trap", err)
	}

	out, err := good.Call(ctx, "run", []wit.Type{wit.U32{}}, []any{uint32(1)}, []wit.Type{wit.U32{}})
	if err != nil || out[0] != uint32(3) {
		t.Fatalf("sibling call = %v, %v", out, err)
	}
}

func TestHostErrorTrapsGuest(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	_, err := inst.Call(context.Background(), "call-fail", nil, nil, nil)
	if !errors.IsKind(err, errors.KindGuestTrap) {
		t.Fatalf("got %v, want guest trap", err)
	}
}

func TestCallTimeout(t *testing.T) {
	e := newTestEngine(t, Config{CallTimeout: 50 * time.Millisecond})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	start := time.Now()
	_, err := inst.Call(context.Background(), "spin", nil, nil, nil)
	if !errors.IsKind(err, errors.KindGuestTrap) {
		t.Fatalf("got %v, want guest trap", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not interrupt the guest")
	}
	if !inst.Closed() {
		t.Error("instance should be closed after a timeout")
	}
	if _, err := inst.Call(context.Background(), "run", nil, nil, nil); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("call after timeout: %v", err)
	}
}

func TestCallCanceledContext(t *testing.T) {
	e := newTestEngine(t, Config{CallTimeout: time.Second})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inst.Call(ctx, "run", []wit.Type{wit.U32{}}, []any{uint32(1)}, []wit.Type{wit.U32{}}); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if inst.Closed() {
		t.Fatal("canceled caller closed the instance")
	}
	out, err := inst.Call(context.Background(), "run", []wit.Type{wit.U32{}}, []any{uint32(1)}, []wit.Type{wit.U32{}})
	if err != nil || out[0] != uint32(3) {
		t.Fatalf("call after cancel = %v, %v", out, err)
	}
}

func TestMissingExport(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))

	_, err := inst.Call(context.Background(), "nope", nil, nil, nil)
	if !errors.IsKind(err, errors.KindMissingExport) {
		t.Fatalf("got %v, want missing export", err)
	}
}

func TestDefineHostModuleTwice(t *testing.T) {
	e := newTestEngine(t, Config{})
	if err := e.DefineHostModule(context.Background(), testHost()); err == nil {
		t.Fatal("expected error for duplicate namespace")
	}
}

func TestCloseIdempotent(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst, _ := newTestInstance(t, compileTestGuest(t, e))
	ctx := context.Background()

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := e.instances.Load(inst.ID().String()); ok {
		t.Error("closed instance still registered")
	}
	if inst.Resources().Len() != 0 {
		t.Error("resource table not released")
	}
}

func TestCompileWithWASI(t *testing.T) {
	e := newTestEngine(t, Config{})
	i32 := wasm.ValI32

	m := &wasm.Module{}
	m.AddFuncImport(component.WASIPreview1, "proc_exit", wasm.FuncType{Params: []wasm.ValType{i32}})
	guesttest.AddMemory(m, 1)
	guesttest.AddRealloc(m, 1024)

	bytes, err := component.Encode(m.Encode(), &component.World{Name: "wasi"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mod, err := e.Compile(context.Background(), bytes)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	newTestInstance(t, mod)
}

func resourceHandle(h uint32) resource.Handle {
	return resource.Handle(h)
}
