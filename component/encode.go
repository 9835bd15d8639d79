package component

import (
	"fmt"

	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/internal/binary"
	"github.com/wippyai/entity-scripting/wasm"
)

// Component binary preamble: magic, version 0x0d, layer 1.
var preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}

const sectionCoreModule byte = 0x01

// Encode validates a core module against w and wraps it in a component envelope.
// The output depends only on the inputs.
func Encode(module []byte, w *World) ([]byte, error) {
	if w == nil {
		return nil, errors.InvalidInput(errors.PhaseEncode, "world is nil")
	}
	if IsComponent(module) {
		return nil, errors.ScriptLoad(errors.PhaseEncode, "input is already a component", nil)
	}

	mod, err := wasm.ParseModule(module)
	if err != nil {
		return nil, errors.ScriptLoad(errors.PhaseEncode, "parse core module", err)
	}
	if err := Validate(mod, w); err != nil {
		return nil, err
	}

	out := binary.NewWriter()
	out.WriteBytes(preamble)
	out.WriteSection(sectionCoreModule, module)

	custom := binary.NewWriter()
	custom.WriteName(w.CustomSectionName())
	custom.WriteBytes(w.WIT)
	out.WriteSection(wasm.SectionCustom, custom.Bytes())

	return out.Bytes(), nil
}

// Validate checks that mod satisfies the core conventions of w.
func Validate(mod *wasm.Module, w *World) error {
	if exp, ok := mod.Export(ExportMemory); !ok || exp.Kind != wasm.KindMemory {
		return errors.ScriptLoad(errors.PhaseEncode, "linear memory not exported", errors.MissingExport(ExportMemory))
	}

	realloc, ok := mod.ExportedFuncType(CabiRealloc)
	if !ok {
		return errors.ScriptLoad(errors.PhaseEncode, "allocator not exported", errors.MissingExport(CabiRealloc))
	}
	if !realloc.Equal(reallocType) {
		return errors.ScriptLoad(errors.PhaseEncode,
			fmt.Sprintf("%s has signature %s, want %s", CabiRealloc, realloc, reallocType), nil)
	}

	if err := validateImports(mod, w); err != nil {
		return errors.ScriptLoad(errors.PhaseEncode, "unresolved imports", err)
	}

	for _, f := range w.Exports {
		name, found := resolveExport(mod, f)
		if !found {
			if f.Optional {
				continue
			}
			return errors.ScriptLoad(errors.PhaseEncode, "required export missing", errors.MissingExport(f.Name))
		}
		got, _ := mod.ExportedFuncType(name)
		want := CoreFuncType(f.Signature(Lift))
		if !got.Equal(want) {
			return errors.ScriptLoad(errors.PhaseEncode,
				fmt.Sprintf("export %q has signature %s, want %s", name, got, want), nil)
		}
	}
	return nil
}

var reallocType = wasm.FuncType{
	Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
	Results: []wasm.ValType{wasm.ValI32},
}

func validateImports(mod *wasm.Module, w *World) error {
	var unknown []errors.UnknownImport
	for _, imp := range mod.Imports {
		if imp.Module == WASIPreview1 {
			continue
		}
		if imp.Desc.Kind != wasm.KindFunc {
			unknown = append(unknown, errors.UnknownImport{
				Module: imp.Module,
				Name:   imp.Name,
				Reason: "only function imports are supported",
			})
			continue
		}
		f, ok := w.Import(imp.Module, imp.Name)
		if !ok {
			unknown = append(unknown, errors.UnknownImport{
				Module: imp.Module,
				Name:   imp.Name,
				Reason: "not declared by world " + w.Name,
			})
			continue
		}
		got, _ := mod.ImportType(imp)
		want := CoreFuncType(f.Signature(Lower))
		if !got.Equal(want) {
			unknown = append(unknown, errors.UnknownImport{
				Module: imp.Module,
				Name:   imp.Name,
				Reason: fmt.Sprintf("signature %s, want %s", got, want),
			})
		}
	}
	if len(unknown) > 0 {
		return &errors.UnknownImportsError{Imports: unknown}
	}
	return nil
}

// resolveExport returns the first name of f exported as a function by mod.
func resolveExport(mod *wasm.Module, f Func) (string, bool) {
	for _, name := range f.Names() {
		if exp, ok := mod.Export(name); ok && exp.Kind == wasm.KindFunc {
			return name, true
		}
	}
	return "", false
}
