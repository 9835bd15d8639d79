package wasm

// AddType returns the index of ft in the type section, appending it if absent.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, existing := range m.Types {
		if existing.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// AddFuncImport declares a function import and returns its function index.
// All function imports must be added before any AddFunc call.
func (m *Module) AddFuncImport(module, name string, ft FuncType) uint32 {
	idx := uint32(m.NumImportedFuncs())
	m.Imports = append(m.Imports, Import{
		Module: module,
		Name:   name,
		Desc:   ImportDesc{Kind: KindFunc, TypeIdx: m.AddType(ft)},
	})
	return idx
}

// AddFunc declares a module-defined function and returns its function index.
func (m *Module) AddFunc(ft FuncType, locals []LocalEntry, code []byte) uint32 {
	m.Funcs = append(m.Funcs, m.AddType(ft))
	m.Code = append(m.Code, FuncBody{Locals: locals, Code: code})
	return uint32(m.NumImportedFuncs() + len(m.Funcs) - 1)
}

// AddGlobal declares a mutable or immutable i32 global and returns its index.
func (m *Module) AddGlobal(mutable bool, init int32) uint32 {
	m.Globals = append(m.Globals, Global{
		Type: GlobalType{ValType: ValI32, Mutable: mutable},
		Init: ConstExpr(init),
	})
	return uint32(len(m.Globals) - 1)
}

// AddMemory declares a linear memory with the given page bounds and returns its index.
func (m *Module) AddMemory(minPages uint64, maxPages *uint64) uint32 {
	m.Memories = append(m.Memories, MemoryType{Limits: Limits{Min: minPages, Max: maxPages}})
	return uint32(len(m.Memories) - 1)
}

// AddExport exports an item under name.
func (m *Module) AddExport(name string, kind byte, idx uint32) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
}
