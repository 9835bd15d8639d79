package component

import (
	"go.bytecodealliance.org/wit"
)

// WASIPreview1 is the core import module always accepted alongside the world.
const WASIPreview1 = "wasi_snapshot_preview1"

// Core exports required by every script module.
const (
	ExportMemory = "memory"
	CabiRealloc  = "cabi_realloc"
	// CabiPostPrefix prefixes optional post-return cleanup exports.
	CabiPostPrefix = "cabi_post_"
)

// Func is a function that crosses the component boundary.
type Func struct {
	Params  []wit.Type
	Results []wit.Type
	// Module is the core import module for imports; empty for exports.
	Module string
	Name   string
	// Aliases are alternative export names accepted in place of Name.
	Aliases  []string
	Optional bool
}

// Signature returns the core signature of f for dir.
func (f Func) Signature(dir Direction) (params, results []CoreValType) {
	return Signature(f.Params, f.Results, dir)
}

// Names returns Name followed by its aliases.
func (f Func) Names() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// World describes the imports a script may use and the exports it provides.
type World struct {
	Name    string
	WIT     []byte
	Imports []Func
	Exports []Func
}

// Import returns the declared import for a core module and name.
func (w *World) Import(module, name string) (Func, bool) {
	for _, f := range w.Imports {
		if f.Module == module && f.Name == name {
			return f, true
		}
	}
	return Func{}, false
}

// Export returns the declared export matching name or one of its aliases.
func (w *World) Export(name string) (Func, bool) {
	for _, f := range w.Exports {
		for _, n := range f.Names() {
			if n == name {
				return f, true
			}
		}
	}
	return Func{}, false
}

// CustomSectionName is the name of the custom section carrying the WIT text.
func (w *World) CustomSectionName() string {
	return "component-type:" + w.Name
}
