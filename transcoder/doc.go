// Package transcoder provides Canonical ABI lifting and lowering of WIT values.
//
// Values cross the boundary in two shapes: flattened core values ([]uint64 holding
// raw i32/i64/f32/f64 bit patterns) and linear memory laid out per the canonical ABI.
//
// # Go Representation
//
//	WIT type        Go value
//	──────────────────────────────────────────────
//	bool            bool
//	u8..u64         uint8..uint64
//	s8..s64         int8..int64
//	f32/f64         float32/float64
//	char            rune
//	string          string (always copied out of guest memory)
//	record          map[string]any keyed by field name
//	tuple           []any
//	list<string>    []string
//	list<T>         []any
//	enum            uint32 case index (lowering also accepts the case name)
//	option<T>       nil or the payload value
//	variant         map[string]any{case: payload}; a bare case name lowers too
//	result          map[string]any{"ok"|"err": payload}
//	own/borrow      uint32 handle or rep
//
// # Memory Layout
//
//	Type            Size    Alignment
//	──────────────────────────────────
//	bool/u8/s8      1       1
//	u16/s16         2       2
//	u32/s32/f32     4       4
//	u64/s64/f64     8       8
//	char            4       4
//	string/list     8       4 (ptr + len)
//	record/tuple    sum     max field align
//	variant         disc + payload aligned to max case align
//	option<T>       1 + T   max(1, T align)
//
// Encoder allocates guest memory for strings and lists through an Allocator,
// normally the guest's cabi_realloc. Decoder and Encoder are stateless apart from
// a layout cache and may be shared by one goroutine at a time.
package transcoder
