package component

import (
	"bytes"
	"strings"

	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/internal/binary"
	"github.com/wippyai/entity-scripting/wasm"
)

// Component is a decoded single-module component envelope.
type Component struct {
	// Core holds the embedded core module bytes (aliasing the input).
	Core []byte
	// World is the world name taken from the component-type section.
	World string
	WIT   []byte
}

// IsComponent reports whether data starts with the component preamble.
func IsComponent(data []byte) bool {
	return len(data) >= len(preamble) && bytes.Equal(data[:len(preamble)], preamble)
}

// Decode parses a component envelope produced by Encode.
func Decode(data []byte) (*Component, error) {
	if !IsComponent(data) {
		return nil, errors.ScriptLoad(errors.PhaseDecode, "not a component binary", nil)
	}

	r := binary.NewReader(data[len(preamble):])
	c := &Component{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, errors.ScriptLoad(errors.PhaseDecode, "section header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, errors.ScriptLoad(errors.PhaseDecode, "section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, errors.ScriptLoad(errors.PhaseDecode, "section data", err)
		}

		switch id {
		case sectionCoreModule:
			if c.Core != nil {
				return nil, errors.ScriptLoad(errors.PhaseDecode, "multiple core modules are not supported", nil)
			}
			c.Core = payload
		case wasm.SectionCustom:
			sr := binary.NewReader(payload)
			name, err := sr.ReadName()
			if err != nil {
				return nil, errors.ScriptLoad(errors.PhaseDecode, "custom section name", err)
			}
			if world, ok := strings.CutPrefix(name, "component-type:"); ok {
				c.World = world
				c.WIT = sr.ReadRemaining()
			}
		default:
			return nil, errors.ScriptLoad(errors.PhaseDecode, "unsupported component section", nil)
		}
	}

	if c.Core == nil {
		return nil, errors.ScriptLoad(errors.PhaseDecode, "component has no core module", nil)
	}
	return c, nil
}
