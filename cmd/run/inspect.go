package main

import (
	"fmt"
	"io"
	"os"

	"github.com/wippyai/entity-scripting/component"
	"github.com/wippyai/entity-scripting/script"
	"github.com/wippyai/entity-scripting/wasm"
)

// inspect prints the imports and exports of a script module and whether it
// satisfies the entity world.
func inspect(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if component.IsComponent(data) {
		c, err := component.Decode(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s (world %s)\n\n", titleStyle.Render("Component"), path, c.World)
		data = c.Core
	} else {
		fmt.Fprintf(w, "%s %s\n\n", titleStyle.Render("Module"), path)
	}

	mod, err := wasm.ParseModule(data)
	if err != nil {
		return err
	}
	world := script.World()

	fmt.Fprintln(w, "Imports:")
	for _, imp := range mod.Imports {
		line := fmt.Sprintf("  %s.%s %s", imp.Module, imp.Name, kindName(imp.Desc.Kind))
		if imp.Desc.Kind == wasm.KindFunc {
			ft, _ := mod.ImportType(imp)
			line += " " + typeStyle.Render(ft.String())
		}
		if _, ok := world.Import(imp.Module, imp.Name); !ok && imp.Desc.Kind == wasm.KindFunc {
			line += " " + errorStyle.Render("unknown")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "\nExports:")
	for _, exp := range mod.Exports {
		line := fmt.Sprintf("  %s %s", funcStyle.Render(exp.Name), kindName(exp.Kind))
		if exp.Kind == wasm.KindFunc {
			ft, _ := mod.FuncTypeAt(exp.Index)
			line += " " + typeStyle.Render(ft.String())
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	if err := component.Validate(mod, world); err != nil {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("Not a valid %s script: %v", world.Name, err)))
		return nil
	}
	fmt.Fprintln(w, resultStyle.Render(fmt.Sprintf("Valid %s script", world.Name)))
	return nil
}

func kindName(kind byte) string {
	switch kind {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	case wasm.KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(%d)", kind)
	}
}
