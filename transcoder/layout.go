package transcoder

import (
	"sync"

	"go.bytecodealliance.org/wit"
)

// Layout is the memory size, alignment and sub-element offsets of a WIT type.
type Layout struct {
	// Offsets holds field offsets for records and element offsets for tuples.
	Offsets []uint32
	Size    uint32
	Align   uint32
	// PayloadOffset is the payload position for variants, options and results.
	PayloadOffset uint32
	// DiscSize is the discriminant width for variants, enums, options and results.
	DiscSize uint32
}

// Calculator computes and caches canonical ABI layouts.
type Calculator struct {
	cache map[*wit.TypeDef]Layout
	mu    sync.RWMutex
}

func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[*wit.TypeDef]Layout)}
}

// Calculate returns the layout of t.
func (c *Calculator) Calculate(t wit.Type) Layout {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Layout{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Layout{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Layout{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Layout{Size: 8, Align: 8}
	case wit.String:
		return Layout{Size: 8, Align: 4}
	case *wit.TypeDef:
		return c.typeDef(typ)
	default:
		return Layout{Size: 0, Align: 1}
	}
}

func (c *Calculator) typeDef(t *wit.TypeDef) Layout {
	c.mu.RLock()
	cached, ok := c.cache[t]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	var l Layout
	switch kind := t.Kind.(type) {
	case *wit.Record:
		types := make([]wit.Type, len(kind.Fields))
		for i, f := range kind.Fields {
			types[i] = f.Type
		}
		l = c.sequence(types)
	case *wit.Tuple:
		l = c.sequence(kind.Types)
	case *wit.List:
		l = Layout{Size: 8, Align: 4}
	case *wit.Enum:
		size := discriminantSize(len(kind.Cases))
		l = Layout{Size: size, Align: size, DiscSize: size}
	case *wit.Flags:
		l = flagsLayout(len(kind.Flags))
	case *wit.Own, *wit.Borrow:
		l = Layout{Size: 4, Align: 4}
	case *wit.Option:
		l = c.tagged(1, []wit.Type{kind.Type})
	case *wit.Result:
		l = c.tagged(1, []wit.Type{kind.OK, kind.Err})
	case *wit.Variant:
		cases := make([]wit.Type, len(kind.Cases))
		for i, cs := range kind.Cases {
			cases[i] = cs.Type
		}
		l = c.tagged(discriminantSize(len(kind.Cases)), cases)
	case wit.Type:
		l = c.Calculate(kind)
	default:
		l = Layout{Size: 0, Align: 1}
	}

	c.mu.Lock()
	c.cache[t] = l
	c.mu.Unlock()
	return l
}

// Sequence returns the layout of types stored one after another like a tuple.
// Used for spilled parameter lists and return areas.
func (c *Calculator) Sequence(types []wit.Type) Layout {
	return c.sequence(types)
}

// sequence lays out records and tuples: each element aligned in order.
func (c *Calculator) sequence(types []wit.Type) Layout {
	if len(types) == 0 {
		return Layout{Size: 0, Align: 1}
	}
	offsets := make([]uint32, len(types))
	maxAlign := uint32(1)
	offset := uint32(0)
	for i, t := range types {
		el := c.Calculate(t)
		offset = alignTo(offset, el.Align)
		offsets[i] = offset
		maxAlign = max(maxAlign, el.Align)
		offset += el.Size
	}
	return Layout{
		Size:    alignTo(offset, maxAlign),
		Align:   maxAlign,
		Offsets: offsets,
	}
}

// tagged lays out a discriminant followed by the largest case payload.
func (c *Calculator) tagged(discSize uint32, cases []wit.Type) Layout {
	maxAlign := discSize
	maxSize := uint32(0)
	for _, t := range cases {
		if t == nil {
			continue
		}
		cl := c.Calculate(t)
		maxAlign = max(maxAlign, cl.Align)
		maxSize = max(maxSize, cl.Size)
	}
	payload := alignTo(discSize, maxAlign)
	return Layout{
		Size:          alignTo(payload+maxSize, maxAlign),
		Align:         maxAlign,
		PayloadOffset: payload,
		DiscSize:      discSize,
	}
}

func flagsLayout(n int) Layout {
	switch {
	case n == 0:
		return Layout{Size: 0, Align: 1}
	case n <= 8:
		return Layout{Size: 1, Align: 1}
	case n <= 16:
		return Layout{Size: 2, Align: 2}
	case n <= 32:
		return Layout{Size: 4, Align: 4}
	default:
		return Layout{Size: 8, Align: 8}
	}
}
