// Package component wraps core WebAssembly modules into component binaries for a
// fixed WIT world and computes canonical ABI core signatures.
//
// A World declares the functions a script may import and must (or may) export,
// with their WIT parameter and result types. Encode validates a raw core module
// against the world and emits a single-module component envelope:
//
//	\0asm 0d 00 01 00
//	section 1: core module
//	section 0: "component-type:<world>" custom section carrying the WIT text
//
// Encoding is deterministic, so identical modules always produce identical bytes.
// Decode reverses the envelope for the engine.
//
// Signature flattens WIT parameter and result lists to core value types following
// the canonical ABI limits (16 flat params, 1 flat result). Lowered functions
// (host imports) receive an extra return pointer when the result spills; lifted
// functions (guest exports) return a pointer instead.
package component
