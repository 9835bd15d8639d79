package wasm

// Module represents a parsed WebAssembly core module.
// Only the sections the runtime inspects are decoded structurally; globals, code
// and data are populated when building modules for encoding.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // Type indices for declared functions
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures have identical params and results.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	s := "("
	for i, p := range f.Params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	s += ") -> ("
	for i, r := range f.Results {
		if i > 0 {
			s += ", "
		}
		s += r.String()
	}
	return s + ")"
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, global, or tag.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, KindGlobal, or KindTag constants.
type ImportDesc struct {
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Export represents an exported item
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Limits describes min/max bounds of a memory or table
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// MemoryType describes a linear memory
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with its constant init expression
// (without the trailing end opcode).
type Global struct {
	Init []byte
	Type GlobalType
}

// FuncBody is a function body: locals plus instruction bytes ending with OpEnd.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of one type
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is an active data segment for memory 0 at a constant i32 offset.
type DataSegment struct {
	Init   []byte
	Offset uint32
}

// CustomSection is a named custom section
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of function imports, which precede
// module-defined functions in the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// FuncImports returns only the function imports in declaration order.
func (m *Module) FuncImports() []Import {
	var out []Import
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			out = append(out, imp)
		}
	}
	return out
}

// ImportType returns the signature of a function import.
func (m *Module) ImportType(imp Import) (FuncType, bool) {
	if imp.Desc.Kind != KindFunc || int(imp.Desc.TypeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[imp.Desc.TypeIdx], true
}

// FuncTypeAt returns the signature of the function at idx in the function index space.
func (m *Module) FuncTypeAt(idx uint32) (FuncType, bool) {
	imported := uint32(m.NumImportedFuncs())
	if idx < imported {
		n := uint32(0)
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if n == idx {
				return m.ImportType(imp)
			}
			n++
		}
		return FuncType{}, false
	}
	local := idx - imported
	if int(local) >= len(m.Funcs) {
		return FuncType{}, false
	}
	typeIdx := m.Funcs[local]
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// Export looks up an export by name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// ExportedFuncType returns the signature of an exported function.
func (m *Module) ExportedFuncType(name string) (FuncType, bool) {
	e, ok := m.Export(name)
	if !ok || e.Kind != KindFunc {
		return FuncType{}, false
	}
	return m.FuncTypeAt(e.Index)
}

// CustomSection returns the data of the first custom section with the given name.
func (m *Module) CustomSection(name string) ([]byte, bool) {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}
