package component

import (
	"bytes"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/wasm"
)

var (
	i32 = wasm.ValI32
	f32 = wasm.ValF32
)

func testWorld() *World {
	point := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.F32{}},
		{Name: "y", Type: wit.F32{}},
	}}}
	return &World{
		Name: "test-world",
		WIT:  []byte("package test:host;\n"),
		Imports: []Func{
			{Module: "test:host/api", Name: "log", Params: []wit.Type{wit.String{}}},
			{Module: "test:host/api", Name: "name", Results: []wit.Type{wit.String{}}},
		},
		Exports: []Func{
			{Name: "start", Aliases: []string{"init"}, Params: []wit.Type{point}, Results: []wit.Type{wit.U32{}}},
			{Name: "stop", Optional: true},
		},
	}
}

// buildModule assembles a module satisfying testWorld, with optional tweaks.
func buildModule(tweak func(m *wasm.Module)) []byte {
	m := &wasm.Module{}
	m.AddFuncImport("test:host/api", "log", wasm.FuncType{Params: []wasm.ValType{i32, i32}})
	if tweak != nil {
		tweak(m)
	}
	mem := m.AddMemory(1, nil)
	realloc := m.AddFunc(reallocType, nil, wasm.NewCode().I32Const(64).Bytes())
	start := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{f32, f32}, Results: []wasm.ValType{i32}}, nil,
		wasm.NewCode().I32Const(0).Bytes())
	m.AddExport(ExportMemory, wasm.KindMemory, mem)
	m.AddExport(CabiRealloc, wasm.KindFunc, realloc)
	m.AddExport("start", wasm.KindFunc, start)
	return m.Encode()
}

func TestFlattenType_Primitives(t *testing.T) {
	tests := []struct {
		name     string
		typ      wit.Type
		expected []CoreValType
	}{
		{"bool", wit.Bool{}, []CoreValType{api.ValueTypeI32}},
		{"u32", wit.U32{}, []CoreValType{api.ValueTypeI32}},
		{"s32", wit.S32{}, []CoreValType{api.ValueTypeI32}},
		{"u64", wit.U64{}, []CoreValType{api.ValueTypeI64}},
		{"f32", wit.F32{}, []CoreValType{api.ValueTypeF32}},
		{"f64", wit.F64{}, []CoreValType{api.ValueTypeF64}},
		{"string", wit.String{}, []CoreValType{api.ValueTypeI32, api.ValueTypeI32}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertFlat(t, FlattenType(tc.typ), tc.expected)
		})
	}
}

func TestFlattenType_Nil(t *testing.T) {
	if result := FlattenType(nil); result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestFlattenType_Compound(t *testing.T) {
	variant := &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "movement", Type: &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.F32{}, wit.F32{}}}}},
		{Name: "jump"},
		{Name: "roll", Type: &wit.TypeDef{Kind: &wit.Enum{Cases: []wit.EnumCase{{Name: "north"}, {Name: "south"}}}}},
	}}}
	mixed := &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "a", Type: wit.F32{}},
		{Name: "b", Type: wit.U64{}},
	}}}

	tests := []struct {
		name     string
		typ      wit.Type
		expected []CoreValType
	}{
		{"option<f32>", &wit.TypeDef{Kind: &wit.Option{Type: wit.F32{}}},
			[]CoreValType{api.ValueTypeI32, api.ValueTypeF32}},
		{"list<string>", &wit.TypeDef{Kind: &wit.List{Type: wit.String{}}},
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI32}},
		{"variant joins f32 with i32", variant,
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeF32}},
		{"variant joins f32 with i64", mixed,
			[]CoreValType{api.ValueTypeI32, api.ValueTypeI64}},
		{"own handle", &wit.TypeDef{Kind: &wit.Own{}}, []CoreValType{api.ValueTypeI32}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertFlat(t, FlattenType(tc.typ), tc.expected)
		})
	}
}

func TestSignature_Retptr(t *testing.T) {
	uniform := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.F32{}},
		{Name: "y", Type: wit.F32{}},
	}}}

	params, results := Signature(nil, []wit.Type{uniform}, Lower)
	assertFlat(t, params, []CoreValType{api.ValueTypeI32})
	if len(results) != 0 {
		t.Errorf("lowered results = %v, want none", results)
	}

	params, results = Signature(nil, []wit.Type{uniform}, Lift)
	if len(params) != 0 {
		t.Errorf("lifted params = %v, want none", params)
	}
	assertFlat(t, results, []CoreValType{api.ValueTypeI32})

	if !UsesRetptr([]wit.Type{wit.String{}}) {
		t.Error("string result should spill")
	}
	if UsesRetptr([]wit.Type{wit.U32{}}) {
		t.Error("u32 result should not spill")
	}
}

func TestSignature_ParamSpill(t *testing.T) {
	var params []wit.Type
	for i := 0; i < 17; i++ {
		params = append(params, wit.U32{})
	}
	flat, _ := Signature(params, nil, Lift)
	assertFlat(t, flat, []CoreValType{api.ValueTypeI32})
	if !ParamsSpill(params) {
		t.Error("ParamsSpill should report true for 17 flat params")
	}
}

func TestEncode_Deterministic(t *testing.T) {
	module := buildModule(nil)
	w := testWorld()

	a, err := Encode(module, w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(module, w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoding is not deterministic")
	}
	if !IsComponent(a) {
		t.Fatal("encoded output lacks component preamble")
	}
	if IsComponent(module) {
		t.Fatal("core module reported as component")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	module := buildModule(nil)
	w := testWorld()

	encoded, err := Encode(module, w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(c.Core, module) {
		t.Error("decoded core module differs from input")
	}
	if c.World != "test-world" {
		t.Errorf("world = %q", c.World)
	}
	if string(c.WIT) != string(w.WIT) {
		t.Errorf("WIT = %q", c.WIT)
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name     string
		module   []byte
		wantKind errors.Kind
	}{
		{
			name:     "garbage",
			module:   []byte("not wasm"),
			wantKind: errors.KindScriptLoad,
		},
		{
			name: "undeclared import",
			module: buildModule(func(m *wasm.Module) {
				m.AddFuncImport("test:host/api", "explode", wasm.FuncType{})
			}),
			wantKind: errors.KindUnknownImport,
		},
		{
			name: "missing start export",
			module: func() []byte {
				m := &wasm.Module{}
				mem := m.AddMemory(1, nil)
				realloc := m.AddFunc(reallocType, nil, wasm.NewCode().I32Const(0).Bytes())
				m.AddExport(ExportMemory, wasm.KindMemory, mem)
				m.AddExport(CabiRealloc, wasm.KindFunc, realloc)
				return m.Encode()
			}(),
			wantKind: errors.KindMissingExport,
		},
		{
			name: "missing memory",
			module: func() []byte {
				m := &wasm.Module{}
				m.AddFunc(wasm.FuncType{}, nil, wasm.NewCode().Bytes())
				return m.Encode()
			}(),
			wantKind: errors.KindMissingExport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.module, testWorld())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsKind(err, errors.KindScriptLoad) {
				t.Errorf("error %v is not a script load error", err)
			}
			if tt.wantKind == errors.KindUnknownImport {
				var uie *errors.UnknownImportsError
				if !errors.As(err, &uie) {
					t.Fatalf("expected UnknownImportsError in chain, got %v", err)
				}
				if len(uie.Imports) != 1 || uie.Imports[0].Name != "explode" {
					t.Errorf("unknown imports = %+v", uie.Imports)
				}
				return
			}
			if !errors.IsKind(err, tt.wantKind) {
				t.Errorf("error %v is not %s", err, tt.wantKind)
			}
		})
	}
}

func TestEncode_ImportSignatureMismatch(t *testing.T) {
	m := &wasm.Module{}
	m.AddFuncImport("test:host/api", "log", wasm.FuncType{Params: []wasm.ValType{i32}})
	mem := m.AddMemory(1, nil)
	realloc := m.AddFunc(reallocType, nil, wasm.NewCode().I32Const(0).Bytes())
	start := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{f32, f32}, Results: []wasm.ValType{i32}}, nil,
		wasm.NewCode().I32Const(0).Bytes())
	m.AddExport(ExportMemory, wasm.KindMemory, mem)
	m.AddExport(CabiRealloc, wasm.KindFunc, realloc)
	m.AddExport("start", wasm.KindFunc, start)

	_, err := Encode(m.Encode(), testWorld())
	var uie *errors.UnknownImportsError
	if !errors.As(err, &uie) {
		t.Fatalf("expected UnknownImportsError, got %v", err)
	}
}

func TestEncode_AliasAndWASI(t *testing.T) {
	m := &wasm.Module{}
	m.AddFuncImport(WASIPreview1, "fd_write", wasm.FuncType{
		Params:  []wasm.ValType{i32, i32, i32, i32},
		Results: []wasm.ValType{i32},
	})
	mem := m.AddMemory(1, nil)
	realloc := m.AddFunc(reallocType, nil, wasm.NewCode().I32Const(0).Bytes())
	start := m.AddFunc(wasm.FuncType{Params: []wasm.ValType{f32, f32}, Results: []wasm.ValType{i32}}, nil,
		wasm.NewCode().I32Const(0).Bytes())
	m.AddExport(ExportMemory, wasm.KindMemory, mem)
	m.AddExport(CabiRealloc, wasm.KindFunc, realloc)
	m.AddExport("init", wasm.KindFunc, start)

	if _, err := Encode(m.Encode(), testWorld()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(buildModule(nil)); err == nil {
		t.Error("core module should not decode as component")
	}
	if _, err := Decode(append(append([]byte{}, preamble...), 0x00, 0x05)); err == nil {
		t.Error("truncated section should fail")
	}
	if _, err := Decode(preamble); err == nil {
		t.Error("component without core module should fail")
	}
}

func assertFlat(t *testing.T, got, want []CoreValType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d types, got %d (%v)", len(want), len(got), got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
