// Package wasm provides a minimal WebAssembly core module codec.
//
// ParseModule decodes the parts of a module the runtime inspects when validating
// a script: the type, import, function, memory and export sections, plus custom
// sections. Code, data and the other known sections are framed and skipped.
//
// Module.Encode writes a module back to binary form. Together with the Code
// builder it is used to assemble small guest modules without an external toolchain:
//
//	m := &wasm.Module{}
//	add := m.AddFunc(wasm.FuncType{
//		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
//		Results: []wasm.ValType{wasm.ValI32},
//	}, nil, wasm.NewCode().LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).Bytes())
//	m.AddExport("add", wasm.KindFunc, add)
//	bin := m.Encode()
package wasm
