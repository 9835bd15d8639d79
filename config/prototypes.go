package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/entity-scripting/errors"
)

//go:embed prototypes.schema.json
var prototypesSchema []byte

const prototypesSchemaURL = "prototypes.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(prototypesSchemaURL, bytes.NewReader(prototypesSchema)); err != nil {
		return nil, err
	}
	return c.Compile(prototypesSchemaURL)
})

// Prototype describes how to build a scripted entity.
type Prototype struct {
	// Script is the module path inside the script root.
	Script string `yaml:"script" json:"script"`
	// Params are key=value startup parameters passed before any
	// spawn-specific parameters.
	Params []string `yaml:"params,omitempty" json:"params,omitempty"`
	Tags   []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Z      float32  `yaml:"z,omitempty" json:"z,omitempty"`
}

// HasTag reports whether the prototype carries tag.
func (p Prototype) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Prototypes is a named set of entity prototypes.
type Prototypes struct {
	Entities map[string]Prototype `yaml:"entities" json:"entities"`
}

// Get returns the prototype registered under name.
func (p *Prototypes) Get(name string) (Prototype, bool) {
	if p == nil {
		return Prototype{}, false
	}
	proto, ok := p.Entities[name]
	return proto, ok
}

// Names returns the prototype names in sorted order.
func (p *Prototypes) Names() []string {
	names := make([]string, 0, len(p.Entities))
	for n := range p.Entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Scripts returns the distinct script paths referenced by the prototypes,
// sorted.
func (p *Prototypes) Scripts() []string {
	seen := make(map[string]struct{}, len(p.Entities))
	var out []string
	for _, proto := range p.Entities {
		if _, ok := seen[proto.Script]; ok {
			continue
		}
		seen[proto.Script] = struct{}{}
		out = append(out, proto.Script)
	}
	sort.Strings(out)
	return out
}

// ParsePrototypes validates and decodes a YAML prototype document.
func ParsePrototypes(data []byte) (*Prototypes, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse prototypes")
	}
	// Round trip through JSON so the validator sees JSON value types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "convert prototypes")
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "convert prototypes")
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindUnsupported, err, "compile prototype schema")
	}
	if err := schema.Validate(instance); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate prototypes")
	}

	var p Prototypes
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode prototypes")
	}
	return &p, nil
}

// LoadPrototypes reads and validates a prototype file.
func LoadPrototypes(path string) (*Prototypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read prototypes")
	}
	p, err := ParsePrototypes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
