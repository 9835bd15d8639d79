package transcoder

import (
	"math"
	"strconv"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/errors"
)

// Encoder lowers Go values to flat core values and guest memory.
type Encoder struct {
	layout *Calculator
}

func NewEncoder() *Encoder {
	return &Encoder{layout: NewCalculator()}
}

// NewEncoderWithLayout shares a layout cache with a Decoder.
func NewEncoderWithLayout(c *Calculator) *Encoder {
	return &Encoder{layout: c}
}

// Layout returns the encoder's layout calculator.
func (e *Encoder) Layout() *Calculator {
	return e.layout
}

// LowerValues flattens values of the given types. Strings and lists are copied
// into guest memory through alloc.
func (e *Encoder) LowerValues(types []wit.Type, values []any, mem Memory, alloc Allocator) ([]uint64, error) {
	if len(types) != len(values) {
		return nil, errors.InvalidInput(errors.PhaseEncode, "got "+strconv.Itoa(len(values))+" values for "+strconv.Itoa(len(types))+" types")
	}
	flat := make([]uint64, 0, FlatCountAll(types))
	for i, t := range types {
		if err := e.lowerValue(t, values[i], mem, alloc, &flat, []string{"[" + strconv.Itoa(i) + "]"}); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// StoreValue writes value of type t at addr.
func (e *Encoder) StoreValue(t wit.Type, value any, addr uint32, mem Memory, alloc Allocator) error {
	return e.storeValue(t, value, addr, mem, alloc, nil)
}

// StoreValues writes values laid out like a tuple of types at addr.
func (e *Encoder) StoreValues(types []wit.Type, values []any, addr uint32, mem Memory, alloc Allocator) error {
	if len(types) != len(values) {
		return errors.InvalidInput(errors.PhaseEncode, "value count does not match type count")
	}
	l := e.layout.sequence(types)
	for i, t := range types {
		if err := e.storeValue(t, values[i], addr+l.Offsets[i], mem, alloc, []string{"[" + strconv.Itoa(i) + "]"}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) lowerValue(witType wit.Type, value any, mem Memory, alloc Allocator, flat *[]uint64, path []string) error {
	switch t := witType.(type) {
	case wit.Bool:
		b, ok := value.(bool)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "bool")
		}
		if b {
			*flat = append(*flat, 1)
		} else {
			*flat = append(*flat, 0)
		}
		return nil
	case wit.U8, wit.U16, wit.U32, wit.U64:
		v, ok := toUint(value)
		if !ok || v > maxUnsigned(witType) {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, typeName(witType))
		}
		*flat = append(*flat, v)
		return nil
	case wit.S8, wit.S16, wit.S32:
		v, ok := toInt(value)
		if !ok || !fitsSigned(witType, v) {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, typeName(witType))
		}
		*flat = append(*flat, uint64(uint32(int32(v))))
		return nil
	case wit.S64:
		v, ok := toInt(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "s64")
		}
		*flat = append(*flat, uint64(v))
		return nil
	case wit.F32:
		f, ok := toFloat(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "f32")
		}
		*flat = append(*flat, uint64(canonicalizeF32(math.Float32bits(float32(f)))))
		return nil
	case wit.F64:
		f, ok := toFloat(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "f64")
		}
		*flat = append(*flat, canonicalizeF64(math.Float64bits(f)))
		return nil
	case wit.Char:
		r, ok := value.(rune)
		if !ok || !validChar(r) {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "char")
		}
		*flat = append(*flat, uint64(r))
		return nil
	case wit.String:
		s, ok := value.(string)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "string")
		}
		ptr, length, err := e.writeString(s, mem, alloc)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(ptr), uint64(length))
		return nil
	case *wit.TypeDef:
		return e.lowerTypeDef(t, value, mem, alloc, flat, path)
	default:
		return errors.Unsupported(errors.PhaseEncode, "WIT type "+typeName(witType))
	}
}

func (e *Encoder) lowerTypeDef(t *wit.TypeDef, value any, mem Memory, alloc Allocator, flat *[]uint64, path []string) error {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		fields, ok := value.(map[string]any)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "record")
		}
		for _, f := range kind.Fields {
			if err := e.lowerValue(f.Type, fields[f.Name], mem, alloc, flat, appendPath(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case *wit.Tuple:
		elems, ok := value.([]any)
		if !ok || len(elems) != len(kind.Types) {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "tuple")
		}
		for i, typ := range kind.Types {
			if err := e.lowerValue(typ, elems[i], mem, alloc, flat, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
		return nil

	case *wit.List:
		ptr, length, err := e.writeList(kind, value, mem, alloc, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(ptr), uint64(length))
		return nil

	case *wit.Enum:
		disc, err := enumIndex(kind, value, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(disc))
		return nil

	case *wit.Flags:
		v, ok := toUint(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "flags")
		}
		*flat = append(*flat, v)
		return nil

	case *wit.Own, *wit.Borrow:
		v, ok := toUint(value)
		if !ok || v > math.MaxUint32 {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "handle")
		}
		*flat = append(*flat, v)
		return nil

	case *wit.Option:
		start := len(*flat)
		if value == nil {
			*flat = append(*flat, 0)
		} else {
			*flat = append(*flat, 1)
			if err := e.lowerValue(kind.Type, value, mem, alloc, flat, appendPath(path, "[some]")); err != nil {
				return err
			}
		}
		padFlat(flat, start+FlatCount(t))
		return nil

	case *wit.Result:
		start := len(*flat)
		name, disc, payload, err := resultCase(kind, value, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(disc))
		if payload != nil {
			if err := e.lowerValue(payload, value.(map[string]any)[name], mem, alloc, flat, appendPath(path, "["+name+"]")); err != nil {
				return err
			}
		}
		padFlat(flat, start+FlatCount(t))
		return nil

	case *wit.Variant:
		start := len(*flat)
		disc, payload, err := variantCase(kind, value, path)
		if err != nil {
			return err
		}
		*flat = append(*flat, uint64(disc))
		if c := kind.Cases[disc]; c.Type != nil {
			if err := e.lowerValue(c.Type, payload, mem, alloc, flat, appendPath(path, c.Name)); err != nil {
				return err
			}
		}
		padFlat(flat, start+FlatCount(t))
		return nil

	case wit.Type:
		return e.lowerValue(kind, value, mem, alloc, flat, path)

	default:
		return errors.Unsupported(errors.PhaseEncode, "TypeDef kind "+typeName(t.Kind))
	}
}

func (e *Encoder) storeValue(witType wit.Type, value any, addr uint32, mem Memory, alloc Allocator, path []string) error {
	switch t := witType.(type) {
	case wit.Bool:
		b, ok := value.(bool)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "bool")
		}
		var v uint8
		if b {
			v = 1
		}
		return mem.WriteU8(addr, v)
	case wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64, wit.F32, wit.F64, wit.Char:
		var flat []uint64
		if err := e.lowerValue(witType, value, mem, alloc, &flat, path); err != nil {
			return err
		}
		return writeScalar(witType, flat[0], addr, mem)
	case wit.String:
		s, ok := value.(string)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "string")
		}
		ptr, length, err := e.writeString(s, mem, alloc)
		if err != nil {
			return err
		}
		return writePair(addr, ptr, length, mem)
	case *wit.TypeDef:
		return e.storeTypeDef(t, value, addr, mem, alloc, path)
	default:
		return errors.Unsupported(errors.PhaseEncode, "WIT type "+typeName(witType))
	}
}

func (e *Encoder) storeTypeDef(t *wit.TypeDef, value any, addr uint32, mem Memory, alloc Allocator, path []string) error {
	l := e.layout.Calculate(t)

	switch kind := t.Kind.(type) {
	case *wit.Record:
		fields, ok := value.(map[string]any)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "record")
		}
		for i, f := range kind.Fields {
			if err := e.storeValue(f.Type, fields[f.Name], addr+l.Offsets[i], mem, alloc, appendPath(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case *wit.Tuple:
		elems, ok := value.([]any)
		if !ok || len(elems) != len(kind.Types) {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "tuple")
		}
		for i, typ := range kind.Types {
			if err := e.storeValue(typ, elems[i], addr+l.Offsets[i], mem, alloc, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
		return nil

	case *wit.List:
		ptr, length, err := e.writeList(kind, value, mem, alloc, path)
		if err != nil {
			return err
		}
		return writePair(addr, ptr, length, mem)

	case *wit.Enum:
		disc, err := enumIndex(kind, value, path)
		if err != nil {
			return err
		}
		return writeDisc(addr, l.DiscSize, disc, mem)

	case *wit.Flags:
		v, ok := toUint(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "flags")
		}
		switch l.Size {
		case 1:
			return mem.WriteU8(addr, uint8(v))
		case 2:
			return mem.WriteU16(addr, uint16(v))
		case 4:
			return mem.WriteU32(addr, uint32(v))
		default:
			return mem.WriteU64(addr, v)
		}

	case *wit.Own, *wit.Borrow:
		v, ok := toUint(value)
		if !ok || v > math.MaxUint32 {
			return errors.TypeMismatch(errors.PhaseEncode, path, value, "handle")
		}
		return mem.WriteU32(addr, uint32(v))

	case *wit.Option:
		if value == nil {
			return mem.WriteU8(addr, 0)
		}
		if err := mem.WriteU8(addr, 1); err != nil {
			return err
		}
		return e.storeValue(kind.Type, value, addr+l.PayloadOffset, mem, alloc, appendPath(path, "[some]"))

	case *wit.Result:
		name, disc, payload, err := resultCase(kind, value, path)
		if err != nil {
			return err
		}
		if err := mem.WriteU8(addr, uint8(disc)); err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		return e.storeValue(payload, value.(map[string]any)[name], addr+l.PayloadOffset, mem, alloc, appendPath(path, "["+name+"]"))

	case *wit.Variant:
		disc, payload, err := variantCase(kind, value, path)
		if err != nil {
			return err
		}
		if err := writeDisc(addr, l.DiscSize, disc, mem); err != nil {
			return err
		}
		c := kind.Cases[disc]
		if c.Type == nil {
			return nil
		}
		return e.storeValue(c.Type, payload, addr+l.PayloadOffset, mem, alloc, appendPath(path, c.Name))

	case wit.Type:
		return e.storeValue(kind, value, addr, mem, alloc, path)

	default:
		return errors.Unsupported(errors.PhaseEncode, "TypeDef kind "+typeName(t.Kind))
	}
}

func (e *Encoder) writeString(s string, mem Memory, alloc Allocator) (uint32, uint32, error) {
	if len(s) == 0 {
		return 0, 0, nil
	}
	if len(s) > MaxStringSize {
		return 0, 0, errors.Overflow(errors.PhaseEncode, nil, len(s), MaxStringSize)
	}
	if alloc == nil {
		return 0, 0, errors.AllocationFailed(errors.PhaseEncode, uint32(len(s)), 1)
	}
	ptr, err := alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, errors.Wrap(errors.PhaseEncode, errors.KindAllocation, err, "allocate string")
	}
	if err := mem.Write(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

func (e *Encoder) writeList(l *wit.List, value any, mem Memory, alloc Allocator, path []string) (uint32, uint32, error) {
	var elems []any
	switch v := value.(type) {
	case nil:
	case []any:
		elems = v
	case []string:
		elems = make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
	default:
		return 0, 0, errors.TypeMismatch(errors.PhaseEncode, path, value, "list")
	}
	if len(elems) == 0 {
		return 0, 0, nil
	}
	if len(elems) > MaxListLength {
		return 0, 0, errors.Overflow(errors.PhaseEncode, path, len(elems), MaxListLength)
	}
	if alloc == nil {
		return 0, 0, errors.AllocationFailed(errors.PhaseEncode, 0, 0)
	}

	el := e.layout.Calculate(l.Type)
	size := el.Size * uint32(len(elems))
	ptr, err := alloc.Alloc(size, el.Align)
	if err != nil {
		return 0, 0, errors.Wrap(errors.PhaseEncode, errors.KindAllocation, err, "allocate list")
	}
	for i, elem := range elems {
		if err := e.storeValue(l.Type, elem, ptr+uint32(i)*el.Size, mem, alloc, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
			return 0, 0, err
		}
	}
	return ptr, uint32(len(elems)), nil
}

func writeScalar(t wit.Type, v uint64, addr uint32, mem Memory) error {
	switch t.(type) {
	case wit.U8, wit.S8:
		return mem.WriteU8(addr, uint8(v))
	case wit.U16, wit.S16:
		return mem.WriteU16(addr, uint16(v))
	case wit.U64, wit.S64, wit.F64:
		return mem.WriteU64(addr, v)
	default:
		return mem.WriteU32(addr, uint32(v))
	}
}

func writePair(addr, ptr, length uint32, mem Memory) error {
	if err := mem.WriteU32(addr, ptr); err != nil {
		return err
	}
	return mem.WriteU32(addr+4, length)
}

func writeDisc(addr, size, disc uint32, mem Memory) error {
	switch size {
	case 1:
		return mem.WriteU8(addr, uint8(disc))
	case 2:
		return mem.WriteU16(addr, uint16(disc))
	default:
		return mem.WriteU32(addr, disc)
	}
}

func padFlat(flat *[]uint64, n int) {
	for len(*flat) < n {
		*flat = append(*flat, 0)
	}
}

func enumIndex(e *wit.Enum, value any, path []string) (uint32, error) {
	if name, ok := value.(string); ok {
		for i, c := range e.Cases {
			if c.Name == name {
				return uint32(i), nil
			}
		}
		return 0, errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
			Path(path...).
			Detail("unknown enum case %q", name).
			Build()
	}
	v, ok := toUint(value)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseEncode, path, value, "enum")
	}
	if v >= uint64(len(e.Cases)) {
		return 0, errors.InvalidDiscriminant(errors.PhaseEncode, path, uint32(v), uint32(len(e.Cases)-1))
	}
	return uint32(v), nil
}

// variantCase resolves a variant value to its case index and payload.
func variantCase(v *wit.Variant, value any, path []string) (uint32, any, error) {
	var name string
	var payload any
	switch val := value.(type) {
	case string:
		name = val
	case map[string]any:
		if len(val) != 1 {
			return 0, nil, errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
				Path(path...).
				Detail("variant value must have exactly one case, got %d", len(val)).
				Build()
		}
		for k, p := range val {
			name, payload = k, p
		}
	default:
		return 0, nil, errors.TypeMismatch(errors.PhaseEncode, path, value, "variant")
	}
	for i, c := range v.Cases {
		if c.Name == name {
			return uint32(i), payload, nil
		}
	}
	return 0, nil, errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
		Path(path...).
		Detail("unknown variant case %q", name).
		Build()
}

func resultCase(r *wit.Result, value any, path []string) (string, uint32, wit.Type, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", 0, nil, errors.TypeMismatch(errors.PhaseEncode, path, value, "result")
	}
	if _, ok := m["ok"]; ok {
		return "ok", 0, r.OK, nil
	}
	if _, ok := m["err"]; ok {
		return "err", 1, r.Err, nil
	}
	return "", 0, nil, errors.InvalidData(errors.PhaseEncode, path, `result value needs an "ok" or "err" key`)
}

func toUint(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case int:
		return uint64(v), v >= 0
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func maxUnsigned(t wit.Type) uint64 {
	switch t.(type) {
	case wit.U8:
		return math.MaxUint8
	case wit.U16:
		return math.MaxUint16
	case wit.U32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func fitsSigned(t wit.Type, v int64) bool {
	switch t.(type) {
	case wit.S8:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case wit.S16:
		return v >= math.MinInt16 && v <= math.MaxInt16
	default:
		return v >= math.MinInt32 && v <= math.MaxInt32
	}
}
