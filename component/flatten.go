package component

import (
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/entity-scripting/wasm"
)

// Canonical ABI flattening limits
const (
	MaxFlatParams  = 16
	MaxFlatResults = 1
)

// CoreValType is a core wasm value type
type CoreValType = api.ValueType

// Direction selects how a function crosses the boundary.
type Direction int

const (
	// Lower is a host function imported by the guest.
	Lower Direction = iota
	// Lift is a guest function exported to the host.
	Lift
)

// FlattenTypes flattens WIT types to core wasm types
func FlattenTypes(types []wit.Type) []CoreValType {
	var result []CoreValType
	for _, t := range types {
		result = append(result, FlattenType(t)...)
	}
	return result
}

// FlattenType flattens a WIT type to core wasm types
func FlattenType(t wit.Type) []CoreValType {
	if t == nil {
		return nil
	}

	switch v := t.(type) {
	case wit.Bool, wit.U8, wit.U16, wit.U32, wit.S8, wit.S16, wit.S32, wit.Char:
		return []CoreValType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []CoreValType{api.ValueTypeI64}
	case wit.F32:
		return []CoreValType{api.ValueTypeF32}
	case wit.F64:
		return []CoreValType{api.ValueTypeF64}
	case wit.String:
		return []CoreValType{api.ValueTypeI32, api.ValueTypeI32} // ptr, len
	case *wit.TypeDef:
		return flattenTypeDef(v)
	default:
		return []CoreValType{api.ValueTypeI32}
	}
}

func flattenTypeDef(td *wit.TypeDef) []CoreValType {
	if td == nil || td.Kind == nil {
		return []CoreValType{api.ValueTypeI32}
	}

	switch kind := td.Kind.(type) {
	case *wit.Record:
		var flat []CoreValType
		for _, field := range kind.Fields {
			flat = append(flat, FlattenType(field.Type)...)
		}
		return flat
	case *wit.Tuple:
		return FlattenTypes(kind.Types)
	case *wit.List:
		return []CoreValType{api.ValueTypeI32, api.ValueTypeI32}
	case *wit.Variant:
		var payload []CoreValType
		for _, c := range kind.Cases {
			if c.Type != nil {
				payload = joinPayload(payload, FlattenType(c.Type))
			}
		}
		return append([]CoreValType{api.ValueTypeI32}, payload...)
	case *wit.Enum:
		return []CoreValType{api.ValueTypeI32}
	case *wit.Option:
		return append([]CoreValType{api.ValueTypeI32}, FlattenType(kind.Type)...)
	case *wit.Result:
		var payload []CoreValType
		if kind.OK != nil {
			payload = FlattenType(kind.OK)
		}
		if kind.Err != nil {
			payload = joinPayload(payload, FlattenType(kind.Err))
		}
		return append([]CoreValType{api.ValueTypeI32}, payload...)
	case *wit.Flags:
		if len(kind.Flags) > 32 {
			return []CoreValType{api.ValueTypeI64}
		}
		return []CoreValType{api.ValueTypeI32}
	case *wit.Own, *wit.Borrow:
		return []CoreValType{api.ValueTypeI32} // handle or rep
	case wit.Type:
		return FlattenType(kind)
	default:
		return []CoreValType{api.ValueTypeI32}
	}
}

// joinPayload merges a case payload into the shared variant payload slots.
func joinPayload(payload, caseFlat []CoreValType) []CoreValType {
	for i, ft := range caseFlat {
		if i < len(payload) {
			payload[i] = joinTypes(payload[i], ft)
		} else {
			payload = append(payload, ft)
		}
	}
	return payload
}

// joinTypes unions two core types for variant payloads
func joinTypes(a, b CoreValType) CoreValType {
	if a == b {
		return a
	}
	// 32-bit types can share storage
	if (a == api.ValueTypeI32 && b == api.ValueTypeF32) ||
		(a == api.ValueTypeF32 && b == api.ValueTypeI32) {
		return api.ValueTypeI32
	}
	return api.ValueTypeI64
}

// Signature returns the core signature of a function with the given WIT params
// and results, applying the flat limits for the direction.
func Signature(params, results []wit.Type, dir Direction) (flatParams, flatResults []CoreValType) {
	flatParams = FlattenTypes(params)
	flatResults = FlattenTypes(results)

	if len(flatParams) > MaxFlatParams {
		flatParams = []CoreValType{api.ValueTypeI32}
	}
	if len(flatResults) > MaxFlatResults {
		switch dir {
		case Lift:
			flatResults = []CoreValType{api.ValueTypeI32}
		case Lower:
			flatParams = append(flatParams, api.ValueTypeI32)
			flatResults = nil
		}
	}
	return flatParams, flatResults
}

// UsesRetptr reports whether results are passed through memory.
func UsesRetptr(results []wit.Type) bool {
	return len(FlattenTypes(results)) > MaxFlatResults
}

// ParamsSpill reports whether params are passed through memory.
func ParamsSpill(params []wit.Type) bool {
	return len(FlattenTypes(params)) > MaxFlatParams
}

// CoreFuncType converts a flattened signature to a wasm.FuncType.
func CoreFuncType(params, results []CoreValType) wasm.FuncType {
	ft := wasm.FuncType{
		Params:  make([]wasm.ValType, len(params)),
		Results: make([]wasm.ValType, len(results)),
	}
	for i, p := range params {
		ft.Params[i] = wasm.ValType(p)
	}
	for i, r := range results {
		ft.Results[i] = wasm.ValType(r)
	}
	return ft
}
