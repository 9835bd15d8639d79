package transcoder

import (
	"math"
	"strconv"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/errors"
)

// Decoder lifts WIT values out of flat core values and guest memory.
type Decoder struct {
	layout *Calculator
}

func NewDecoder() *Decoder {
	return &Decoder{layout: NewCalculator()}
}

// NewDecoderWithLayout shares a layout cache with an Encoder.
func NewDecoderWithLayout(c *Calculator) *Decoder {
	return &Decoder{layout: c}
}

// LiftValues lifts one value per type from consecutive flat values.
func (d *Decoder) LiftValues(types []wit.Type, flat []uint64, mem Memory) ([]any, error) {
	values := make([]any, 0, len(types))
	offset := 0
	for i, t := range types {
		if offset > len(flat) {
			return nil, errors.InvalidData(errors.PhaseDecode, nil, "insufficient flat values")
		}
		v, consumed, err := d.liftValue(t, flat[offset:], mem, []string{"[" + strconv.Itoa(i) + "]"})
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		offset += consumed
	}
	return values, nil
}

// LoadValue reads a value of type t stored at addr.
func (d *Decoder) LoadValue(t wit.Type, addr uint32, mem Memory) (any, error) {
	return d.loadValue(t, addr, mem, nil)
}

// LoadValues reads consecutive values laid out like a tuple of types at addr.
func (d *Decoder) LoadValues(types []wit.Type, addr uint32, mem Memory) ([]any, error) {
	l := d.layout.sequence(types)
	values := make([]any, len(types))
	for i, t := range types {
		v, err := d.loadValue(t, addr+l.Offsets[i], mem, []string{"[" + strconv.Itoa(i) + "]"})
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (d *Decoder) liftValue(witType wit.Type, flat []uint64, mem Memory, path []string) (any, int, error) {
	if len(flat) < 1 {
		return nil, 0, errors.InvalidData(errors.PhaseDecode, path, "insufficient flat values")
	}

	switch t := witType.(type) {
	case wit.Bool:
		return flat[0] != 0, 1, nil
	case wit.U8:
		return uint8(flat[0]), 1, nil
	case wit.S8:
		return int8(flat[0]), 1, nil
	case wit.U16:
		return uint16(flat[0]), 1, nil
	case wit.S16:
		return int16(flat[0]), 1, nil
	case wit.U32:
		return uint32(flat[0]), 1, nil
	case wit.S32:
		return int32(flat[0]), 1, nil
	case wit.U64:
		return flat[0], 1, nil
	case wit.S64:
		return int64(flat[0]), 1, nil
	case wit.F32:
		return math.Float32frombits(canonicalizeF32(uint32(flat[0]))), 1, nil
	case wit.F64:
		return math.Float64frombits(canonicalizeF64(flat[0])), 1, nil
	case wit.Char:
		r := rune(uint32(flat[0]))
		if !validChar(r) {
			return nil, 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(path...).
				Detail("invalid Unicode scalar value: 0x%X", flat[0]).
				Build()
		}
		return r, 1, nil
	case wit.String:
		if len(flat) < 2 {
			return nil, 0, errors.InvalidData(errors.PhaseDecode, path, "insufficient flat values for string")
		}
		s, err := d.readString(uint32(flat[0]), uint32(flat[1]), mem, path)
		return s, 2, err
	case *wit.TypeDef:
		return d.liftTypeDef(t, flat, mem, path)
	default:
		return nil, 0, errors.Unsupported(errors.PhaseDecode, "WIT type "+typeName(witType))
	}
}

func (d *Decoder) liftTypeDef(t *wit.TypeDef, flat []uint64, mem Memory, path []string) (any, int, error) {
	need := FlatCount(t)
	if len(flat) < need {
		return nil, 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(path...).
			Detail("insufficient flat values: need %d, have %d", need, len(flat)).
			Build()
	}

	switch kind := t.Kind.(type) {
	case *wit.Record:
		result := make(map[string]any, len(kind.Fields))
		offset := 0
		for _, field := range kind.Fields {
			v, consumed, err := d.liftValue(field.Type, flat[offset:], mem, appendPath(path, field.Name))
			if err != nil {
				return nil, 0, err
			}
			result[field.Name] = v
			offset += consumed
		}
		return result, offset, nil

	case *wit.Tuple:
		result := make([]any, len(kind.Types))
		offset := 0
		for i, elem := range kind.Types {
			v, consumed, err := d.liftValue(elem, flat[offset:], mem, appendPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, 0, err
			}
			result[i] = v
			offset += consumed
		}
		return result, offset, nil

	case *wit.List:
		v, err := d.readList(kind, uint32(flat[0]), uint32(flat[1]), mem, path)
		return v, 2, err

	case *wit.Enum:
		disc := uint32(flat[0])
		if disc >= uint32(len(kind.Cases)) {
			return nil, 0, errors.InvalidDiscriminant(errors.PhaseDecode, path, disc, uint32(len(kind.Cases)-1))
		}
		return disc, 1, nil

	case *wit.Flags:
		return flat[0], 1, nil

	case *wit.Own, *wit.Borrow:
		return uint32(flat[0]), 1, nil

	case *wit.Option:
		switch flat[0] {
		case 0:
			return nil, need, nil
		case 1:
			v, _, err := d.liftValue(kind.Type, flat[1:], mem, appendPath(path, "[some]"))
			if err != nil {
				return nil, 0, err
			}
			return v, need, nil
		default:
			return nil, 0, errors.InvalidDiscriminant(errors.PhaseDecode, path, uint32(flat[0]), 1)
		}

	case *wit.Result:
		if flat[0] > 1 {
			return nil, 0, errors.InvalidDiscriminant(errors.PhaseDecode, path, uint32(flat[0]), 1)
		}
		name, payload := "ok", kind.OK
		if flat[0] == 1 {
			name, payload = "err", kind.Err
		}
		result := map[string]any{name: nil}
		if payload != nil {
			v, _, err := d.liftValue(payload, flat[1:], mem, appendPath(path, "["+name+"]"))
			if err != nil {
				return nil, 0, err
			}
			result[name] = v
		}
		return result, need, nil

	case *wit.Variant:
		disc := flat[0]
		if disc >= uint64(len(kind.Cases)) {
			return nil, 0, errors.InvalidDiscriminant(errors.PhaseDecode, path, uint32(disc), uint32(len(kind.Cases)-1))
		}
		c := kind.Cases[disc]
		result := map[string]any{c.Name: nil}
		if c.Type != nil {
			v, _, err := d.liftValue(c.Type, flat[1:], mem, appendPath(path, c.Name))
			if err != nil {
				return nil, 0, err
			}
			result[c.Name] = v
		}
		return result, need, nil

	case wit.Type:
		return d.liftValue(kind, flat, mem, path)

	default:
		return nil, 0, errors.Unsupported(errors.PhaseDecode, "TypeDef kind "+typeName(t.Kind))
	}
}

func (d *Decoder) readString(addr, length uint32, mem Memory, path []string) (string, error) {
	if length == 0 {
		return "", nil
	}
	if length > MaxStringSize {
		return "", errors.Overflow(errors.PhaseDecode, path, length, MaxStringSize)
	}
	data, err := mem.Read(addr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, path, data)
	}
	return string(data), nil
}

func (d *Decoder) readList(l *wit.List, addr, length uint32, mem Memory, path []string) (any, error) {
	if length > MaxListLength {
		return nil, errors.Overflow(errors.PhaseDecode, path, length, MaxListLength)
	}
	elem := d.layout.Calculate(l.Type)
	if length > 0 && elem.Size > 0 && uint64(addr)+uint64(length)*uint64(elem.Size) > math.MaxUint32 {
		return nil, errors.OutOfBounds(errors.PhaseDecode, addr, length*elem.Size)
	}

	if _, ok := l.Type.(wit.String); ok {
		out := make([]string, length)
		for i := uint32(0); i < length; i++ {
			v, err := d.loadValue(wit.String{}, addr+i*elem.Size, mem, appendPath(path, "["+strconv.Itoa(int(i))+"]"))
			if err != nil {
				return nil, err
			}
			out[i] = v.(string)
		}
		return out, nil
	}

	out := make([]any, length)
	for i := uint32(0); i < length; i++ {
		v, err := d.loadValue(l.Type, addr+i*elem.Size, mem, appendPath(path, "["+strconv.Itoa(int(i))+"]"))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *Decoder) loadValue(witType wit.Type, addr uint32, mem Memory, path []string) (any, error) {
	switch t := witType.(type) {
	case wit.Bool:
		v, err := mem.ReadU8(addr)
		return v != 0, err
	case wit.U8:
		return mem.ReadU8(addr)
	case wit.S8:
		v, err := mem.ReadU8(addr)
		return int8(v), err
	case wit.U16:
		return mem.ReadU16(addr)
	case wit.S16:
		v, err := mem.ReadU16(addr)
		return int16(v), err
	case wit.U32:
		return mem.ReadU32(addr)
	case wit.S32:
		v, err := mem.ReadU32(addr)
		return int32(v), err
	case wit.U64:
		return mem.ReadU64(addr)
	case wit.S64:
		v, err := mem.ReadU64(addr)
		return int64(v), err
	case wit.F32:
		bits, err := mem.ReadU32(addr)
		return math.Float32frombits(canonicalizeF32(bits)), err
	case wit.F64:
		bits, err := mem.ReadU64(addr)
		return math.Float64frombits(canonicalizeF64(bits)), err
	case wit.Char:
		v, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		if !validChar(rune(v)) {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(path...).
				Detail("invalid Unicode scalar value: 0x%X", v).
				Build()
		}
		return rune(v), nil
	case wit.String:
		ptr, length, err := readPair(addr, mem)
		if err != nil {
			return nil, err
		}
		return d.readString(ptr, length, mem, path)
	case *wit.TypeDef:
		return d.loadTypeDef(t, addr, mem, path)
	default:
		return nil, errors.Unsupported(errors.PhaseDecode, "WIT type "+typeName(witType))
	}
}

func (d *Decoder) loadTypeDef(t *wit.TypeDef, addr uint32, mem Memory, path []string) (any, error) {
	l := d.layout.Calculate(t)

	switch kind := t.Kind.(type) {
	case *wit.Record:
		result := make(map[string]any, len(kind.Fields))
		for i, field := range kind.Fields {
			v, err := d.loadValue(field.Type, addr+l.Offsets[i], mem, appendPath(path, field.Name))
			if err != nil {
				return nil, err
			}
			result[field.Name] = v
		}
		return result, nil

	case *wit.Tuple:
		result := make([]any, len(kind.Types))
		for i, elem := range kind.Types {
			v, err := d.loadValue(elem, addr+l.Offsets[i], mem, appendPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			result[i] = v
		}
		return result, nil

	case *wit.List:
		ptr, length, err := readPair(addr, mem)
		if err != nil {
			return nil, err
		}
		return d.readList(kind, ptr, length, mem, path)

	case *wit.Enum:
		disc, err := readDisc(addr, l.DiscSize, mem)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, path, disc, uint32(len(kind.Cases)-1))
		}
		return disc, nil

	case *wit.Flags:
		switch l.Size {
		case 1:
			v, err := mem.ReadU8(addr)
			return uint64(v), err
		case 2:
			v, err := mem.ReadU16(addr)
			return uint64(v), err
		case 4:
			v, err := mem.ReadU32(addr)
			return uint64(v), err
		default:
			return mem.ReadU64(addr)
		}

	case *wit.Own, *wit.Borrow:
		return mem.ReadU32(addr)

	case *wit.Option:
		disc, err := mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		switch disc {
		case 0:
			return nil, nil
		case 1:
			return d.loadValue(kind.Type, addr+l.PayloadOffset, mem, appendPath(path, "[some]"))
		default:
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, path, uint32(disc), 1)
		}

	case *wit.Result:
		disc, err := mem.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		if disc > 1 {
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, path, uint32(disc), 1)
		}
		name, payload := "ok", kind.OK
		if disc == 1 {
			name, payload = "err", kind.Err
		}
		result := map[string]any{name: nil}
		if payload != nil {
			v, err := d.loadValue(payload, addr+l.PayloadOffset, mem, appendPath(path, "["+name+"]"))
			if err != nil {
				return nil, err
			}
			result[name] = v
		}
		return result, nil

	case *wit.Variant:
		disc, err := readDisc(addr, l.DiscSize, mem)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(kind.Cases)) {
			return nil, errors.InvalidDiscriminant(errors.PhaseDecode, path, disc, uint32(len(kind.Cases)-1))
		}
		c := kind.Cases[disc]
		result := map[string]any{c.Name: nil}
		if c.Type != nil {
			v, err := d.loadValue(c.Type, addr+l.PayloadOffset, mem, appendPath(path, c.Name))
			if err != nil {
				return nil, err
			}
			result[c.Name] = v
		}
		return result, nil

	case wit.Type:
		return d.loadValue(kind, addr, mem, path)

	default:
		return nil, errors.Unsupported(errors.PhaseDecode, "TypeDef kind "+typeName(t.Kind))
	}
}

func readPair(addr uint32, mem Memory) (uint32, uint32, error) {
	ptr, err := mem.ReadU32(addr)
	if err != nil {
		return 0, 0, err
	}
	length, err := mem.ReadU32(addr + 4)
	if err != nil {
		return 0, 0, err
	}
	return ptr, length, nil
}

func readDisc(addr, size uint32, mem Memory) (uint32, error) {
	switch size {
	case 1:
		v, err := mem.ReadU8(addr)
		return uint32(v), err
	case 2:
		v, err := mem.ReadU16(addr)
		return uint32(v), err
	default:
		return mem.ReadU32(addr)
	}
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}
