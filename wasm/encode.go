package wasm

import (
	"github.com/wippyai/entity-scripting/internal/binary"
)

// Encode serializes the module to WebAssembly binary format.
// Sections are written in canonical order; empty sections are omitted.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sw.Byte(FuncTypeByte)
			writeValTypes(sw, ft.Params)
			writeValTypes(sw, ft.Results)
		}
		w.WriteSection(SectionType, sw.Bytes())
	}

	if len(m.Imports) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sw.WriteName(imp.Module)
			sw.WriteName(imp.Name)
			sw.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sw.WriteU32(imp.Desc.TypeIdx)
			case KindMemory:
				var mt MemoryType
				if imp.Desc.Memory != nil {
					mt = *imp.Desc.Memory
				}
				writeLimits(sw, mt.Limits)
			case KindGlobal:
				var gt GlobalType
				if imp.Desc.Global != nil {
					gt = *imp.Desc.Global
				}
				writeGlobalType(sw, gt)
			}
		}
		w.WriteSection(SectionImport, sw.Bytes())
	}

	if len(m.Funcs) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sw.WriteU32(idx)
		}
		w.WriteSection(SectionFunction, sw.Bytes())
	}

	if len(m.Memories) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sw, mem.Limits)
		}
		w.WriteSection(SectionMemory, sw.Bytes())
	}

	if len(m.Globals) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sw, g.Type)
			sw.WriteBytes(g.Init)
			sw.Byte(OpEnd)
		}
		w.WriteSection(SectionGlobal, sw.Bytes())
	}

	if len(m.Exports) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sw.WriteName(exp.Name)
			sw.Byte(exp.Kind)
			sw.WriteU32(exp.Index)
		}
		w.WriteSection(SectionExport, sw.Bytes())
	}

	if len(m.Code) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			bw := binary.NewWriter()
			bw.WriteU32(uint32(len(body.Locals)))
			for _, local := range body.Locals {
				bw.WriteU32(local.Count)
				bw.Byte(byte(local.ValType))
			}
			bw.WriteBytes(body.Code)
			sw.WriteU32(uint32(bw.Len()))
			sw.WriteBytes(bw.Bytes())
		}
		w.WriteSection(SectionCode, sw.Bytes())
	}

	if len(m.Data) > 0 {
		sw := binary.NewWriter()
		sw.WriteU32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			sw.WriteU32(0) // active, memory 0
			sw.Byte(OpI32Const)
			sw.WriteS64(int64(int32(seg.Offset)))
			sw.Byte(OpEnd)
			sw.WriteU32(uint32(len(seg.Init)))
			sw.WriteBytes(seg.Init)
		}
		w.WriteSection(SectionData, sw.Bytes())
	}

	for _, cs := range m.CustomSections {
		sw := binary.NewWriter()
		sw.WriteName(cs.Name)
		sw.WriteBytes(cs.Data)
		w.WriteSection(SectionCustom, sw.Bytes())
	}

	return w.Bytes()
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= limitsHasMax
	}
	if l.Shared {
		flags |= limitsShared
	}
	if l.Memory64 {
		flags |= limitsMemory64
	}
	w.Byte(flags)
	w.WriteU64(l.Min)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
