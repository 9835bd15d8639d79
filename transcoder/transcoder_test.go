package transcoder

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/errors"
)

// sliceMem is a bounds-checked little-endian Memory over a byte slice.
type sliceMem struct {
	data []byte
}

func newSliceMem(size int) *sliceMem {
	return &sliceMem{data: make([]byte, size)}
}

func (m *sliceMem) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return errors.OutOfBounds(errors.PhaseDecode, offset, length)
	}
	return nil
}

func (m *sliceMem) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length], nil
}

func (m *sliceMem) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *sliceMem) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *sliceMem) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *sliceMem) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *sliceMem) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *sliceMem) WriteU8(offset uint32, v uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = v
	return nil
}

func (m *sliceMem) WriteU16(offset uint32, v uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], v)
	return nil
}

func (m *sliceMem) WriteU32(offset uint32, v uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], v)
	return nil
}

func (m *sliceMem) WriteU64(offset uint32, v uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], v)
	return nil
}

// bumpAlloc hands out aligned addresses and never frees.
type bumpAlloc struct {
	next  uint32
	calls int
}

func (a *bumpAlloc) Alloc(size, align uint32) (uint32, error) {
	a.calls++
	a.next = alignTo(a.next, align)
	addr := a.next
	a.next += size
	return addr, nil
}

var (
	vec2Type = &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.F32{}},
		{Name: "y", Type: wit.F32{}},
	}}}
	directionType = &wit.TypeDef{Kind: &wit.Enum{Cases: []wit.EnumCase{
		{Name: "up"}, {Name: "down"}, {Name: "left"}, {Name: "right"},
	}}}
	stringListType = &wit.TypeDef{Kind: &wit.List{Type: wit.String{}}}
	optionU32Type  = &wit.TypeDef{Kind: &wit.Option{Type: wit.U32{}}}
	eventType      = &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "idle"},
		{Name: "moved", Type: vec2Type},
		{Name: "said", Type: wit.String{}},
	}}}
	resultType = &wit.TypeDef{Kind: &wit.Result{OK: wit.U64{}, Err: wit.String{}}}
)

func TestLayoutRecordAndVariant(t *testing.T) {
	c := NewCalculator()

	l := c.Calculate(vec2Type)
	if l.Size != 8 || l.Align != 4 || !reflect.DeepEqual(l.Offsets, []uint32{0, 4}) {
		t.Errorf("vec2 layout = %+v", l)
	}

	l = c.Calculate(eventType)
	if l.DiscSize != 1 || l.PayloadOffset != 4 || l.Size != 12 {
		t.Errorf("event layout = %+v", l)
	}

	mixed := &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "a", Type: wit.U8{}},
		{Name: "b", Type: wit.U64{}},
		{Name: "c", Type: wit.U16{}},
	}}}
	l = c.Calculate(mixed)
	if l.Size != 24 || l.Align != 8 || !reflect.DeepEqual(l.Offsets, []uint32{0, 8, 16}) {
		t.Errorf("mixed layout = %+v", l)
	}
}

func TestFlatCount(t *testing.T) {
	tests := []struct {
		typ  wit.Type
		want int
	}{
		{wit.U32{}, 1},
		{wit.String{}, 2},
		{vec2Type, 2},
		{optionU32Type, 2},
		{eventType, 3},
		{resultType, 3},
		{directionType, 1},
	}
	for _, tt := range tests {
		if got := FlatCount(tt.typ); got != tt.want {
			t.Errorf("FlatCount(%T) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestLowerLiftRoundTrip(t *testing.T) {
	c := NewCalculator()
	enc := NewEncoderWithLayout(c)
	dec := NewDecoderWithLayout(c)
	mem := newSliceMem(4096)
	alloc := &bumpAlloc{next: 64}

	types := []wit.Type{wit.U32{}, vec2Type, wit.String{}, directionType, optionU32Type, eventType, stringListType, wit.Bool{}}
	values := []any{
		uint32(7),
		map[string]any{"x": float32(1.5), "y": float32(-2)},
		"goblin",
		uint32(2),
		uint32(99),
		map[string]any{"said": "hello"},
		[]string{"attack", "flee"},
		true,
	}

	flat, err := enc.LowerValues(types, values, mem, alloc)
	if err != nil {
		t.Fatalf("LowerValues: %v", err)
	}
	if len(flat) != FlatCountAll(types) {
		t.Fatalf("flat length = %d, want %d", len(flat), FlatCountAll(types))
	}

	got, err := dec.LiftValues(types, flat, mem)
	if err != nil {
		t.Fatalf("LiftValues: %v", err)
	}
	if !reflect.DeepEqual(got, values) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, values)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	c := NewCalculator()
	enc := NewEncoderWithLayout(c)
	dec := NewDecoderWithLayout(c)
	mem := newSliceMem(4096)
	alloc := &bumpAlloc{next: 512}

	tests := []struct {
		name  string
		typ   wit.Type
		value any
	}{
		{"u16", wit.U16{}, uint16(65000)},
		{"s32", wit.S32{}, int32(-12)},
		{"f64", wit.F64{}, 3.25},
		{"char", wit.Char{}, 'λ'},
		{"record", vec2Type, map[string]any{"x": float32(3), "y": float32(4)}},
		{"variant with record", eventType, map[string]any{"moved": map[string]any{"x": float32(1), "y": float32(0)}}},
		{"variant without payload", eventType, map[string]any{"idle": nil}},
		{"option none", optionU32Type, nil},
		{"result ok", resultType, map[string]any{"ok": uint64(1 << 40)}},
		{"result err", resultType, map[string]any{"err": "nope"}},
		{"string list", stringListType, []string{"a", "bc", ""}},
		{"record list", &wit.TypeDef{Kind: &wit.List{Type: vec2Type}}, []any{
			map[string]any{"x": float32(1), "y": float32(2)},
			map[string]any{"x": float32(3), "y": float32(4)},
		}},
		{"tuple", &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U8{}, wit.String{}}}}, []any{uint8(1), "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := enc.StoreValue(tt.typ, tt.value, 0, mem, alloc); err != nil {
				t.Fatalf("StoreValue: %v", err)
			}
			got, err := dec.LoadValue(tt.typ, 0, mem)
			if err != nil {
				t.Fatalf("LoadValue: %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("got %#v, want %#v", got, tt.value)
			}
		})
	}
}

func TestLowerAcceptsNamesAndInts(t *testing.T) {
	enc := NewEncoder()
	mem := newSliceMem(256)
	alloc := &bumpAlloc{}

	flat, err := enc.LowerValues(
		[]wit.Type{directionType, eventType, wit.U8{}, wit.F32{}},
		[]any{"left", "idle", 200, 2},
		mem, alloc)
	if err != nil {
		t.Fatalf("LowerValues: %v", err)
	}
	want := []uint64{2, 0, 0, 0, 200, uint64(math.Float32bits(2))}
	if !reflect.DeepEqual(flat, want) {
		t.Errorf("flat = %v, want %v", flat, want)
	}
	if alloc.calls != 0 {
		t.Errorf("allocator called %d times for scalar values", alloc.calls)
	}
}

func TestLowerVariantPadsToWidestCase(t *testing.T) {
	enc := NewEncoder()
	flat, err := enc.LowerValues([]wit.Type{eventType, wit.U32{}}, []any{map[string]any{"idle": nil}, uint32(5)}, newSliceMem(16), &bumpAlloc{})
	if err != nil {
		t.Fatalf("LowerValues: %v", err)
	}
	if len(flat) != 4 || flat[3] != 5 {
		t.Errorf("flat = %v, want idle padded to 3 slots then 5", flat)
	}
}

func TestEmptyStringSkipsAllocation(t *testing.T) {
	enc := NewEncoder()
	alloc := &bumpAlloc{}
	flat, err := enc.LowerValues([]wit.Type{wit.String{}}, []any{""}, newSliceMem(16), alloc)
	if err != nil {
		t.Fatalf("LowerValues: %v", err)
	}
	if flat[0] != 0 || flat[1] != 0 || alloc.calls != 0 {
		t.Errorf("flat = %v, calls = %d", flat, alloc.calls)
	}
}

func TestEncodeErrors(t *testing.T) {
	enc := NewEncoder()
	mem := newSliceMem(64)

	tests := []struct {
		name  string
		typ   wit.Type
		value any
		kind  errors.Kind
	}{
		{"bool from int", wit.Bool{}, 1, errors.KindTypeMismatch},
		{"u8 overflow", wit.U8{}, 300, errors.KindTypeMismatch},
		{"negative unsigned", wit.U32{}, -1, errors.KindTypeMismatch},
		{"s8 overflow", wit.S8{}, 200, errors.KindTypeMismatch},
		{"surrogate char", wit.Char{}, rune(0xD800), errors.KindTypeMismatch},
		{"unknown enum name", directionType, "north", errors.KindInvalidVariant},
		{"enum out of range", directionType, uint32(4), errors.KindInvalidVariant},
		{"unknown variant case", eventType, "jumped", errors.KindInvalidVariant},
		{"two variant cases", eventType, map[string]any{"idle": nil, "said": "x"}, errors.KindInvalidVariant},
		{"result without key", resultType, map[string]any{}, errors.KindInvalidData},
		{"record from slice", vec2Type, []any{1, 2}, errors.KindTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.LowerValues([]wit.Type{tt.typ}, []any{tt.value}, mem, &bumpAlloc{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("error %v is not of kind %s", err, tt.kind)
			}
		})
	}
}

func TestEncodeCountMismatch(t *testing.T) {
	_, err := NewEncoder().LowerValues([]wit.Type{wit.U32{}}, nil, newSliceMem(8), nil)
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	dec := NewDecoder()
	mem := newSliceMem(64)
	copy(mem.data[16:], []byte{0xff, 0xfe})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := dec.LiftValues([]wit.Type{wit.String{}}, []uint64{16, 2}, mem)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("string out of bounds", func(t *testing.T) {
		_, err := dec.LiftValues([]wit.Type{wit.String{}}, []uint64{60, 10}, mem)
		if !errors.IsKind(err, errors.KindOutOfBounds) {
			t.Errorf("got %v, want out of bounds", err)
		}
	})

	t.Run("enum discriminant", func(t *testing.T) {
		_, err := dec.LiftValues([]wit.Type{directionType}, []uint64{9}, mem)
		if !errors.IsKind(err, errors.KindInvalidVariant) {
			t.Errorf("got %v, want invalid discriminant", err)
		}
	})

	t.Run("option discriminant", func(t *testing.T) {
		_, err := dec.LiftValues([]wit.Type{optionU32Type}, []uint64{2, 0}, mem)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("short flat", func(t *testing.T) {
		_, err := dec.LiftValues([]wit.Type{vec2Type}, []uint64{1}, mem)
		if !errors.IsKind(err, errors.KindInvalidData) {
			t.Errorf("got %v, want invalid data", err)
		}
	})
}

func TestNaNCanonicalized(t *testing.T) {
	dec := NewDecoder()
	odd := uint64(0x7fa00001)
	got, err := dec.LiftValues([]wit.Type{wit.F32{}}, []uint64{odd}, newSliceMem(8))
	if err != nil {
		t.Fatal(err)
	}
	if bits := math.Float32bits(got[0].(float32)); bits != canonicalNaN32 {
		t.Errorf("bits = %#x, want canonical NaN", bits)
	}
}
