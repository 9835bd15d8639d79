package transcoder

import (
	"math"
	"reflect"

	"go.bytecodealliance.org/wit"
)

const (
	canonicalNaN32 = 0x7fc00000
	canonicalNaN64 = 0x7ff8000000000000
)

func alignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// discriminantSize is 1 byte up to 256 cases, 2 up to 65536, else 4.
func discriminantSize(numCases int) uint32 {
	switch {
	case numCases <= 1<<8:
		return 1
	case numCases <= 1<<16:
		return 2
	default:
		return 4
	}
}

func canonicalizeF32(bits uint32) uint32 {
	if f := math.Float32frombits(bits); f != f {
		return canonicalNaN32
	}
	return bits
}

func canonicalizeF64(bits uint64) uint64 {
	if f := math.Float64frombits(bits); f != f {
		return canonicalNaN64
	}
	return bits
}

// validChar rejects surrogates and values beyond the Unicode range.
func validChar(r rune) bool {
	if r >= 0xD800 && r <= 0xDFFF {
		return false
	}
	return r >= 0 && r < 0x110000
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}

// FlatCount returns the number of core values t flattens to.
func FlatCount(t wit.Type) int {
	switch t := t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64, wit.F32, wit.F64, wit.Char:
		return 1
	case wit.String:
		return 2
	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			n := 0
			for _, f := range kind.Fields {
				n += FlatCount(f.Type)
			}
			return n
		case *wit.Tuple:
			n := 0
			for _, elem := range kind.Types {
				n += FlatCount(elem)
			}
			return n
		case *wit.List:
			return 2
		case *wit.Option:
			return 1 + FlatCount(kind.Type)
		case *wit.Result:
			return 1 + max(optionalFlatCount(kind.OK), optionalFlatCount(kind.Err))
		case *wit.Variant:
			payload := 0
			for _, c := range kind.Cases {
				payload = max(payload, optionalFlatCount(c.Type))
			}
			return 1 + payload
		case wit.Type:
			return FlatCount(kind)
		}
	}
	return 1
}

func optionalFlatCount(t wit.Type) int {
	if t == nil {
		return 0
	}
	return FlatCount(t)
}

// FlatCountAll sums FlatCount over types.
func FlatCountAll(types []wit.Type) int {
	n := 0
	for _, t := range types {
		n += FlatCount(t)
	}
	return n
}
