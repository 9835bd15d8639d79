package wasm

import (
	"github.com/wippyai/entity-scripting/internal/binary"
)

// Opcodes used by the Code builder and the encoder.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI64Load     byte = 0x29
	OpF32Load     byte = 0x2A
	OpI32Load8U   byte = 0x2D
	OpI32Store    byte = 0x36
	OpI64Store    byte = 0x37
	OpF32Store    byte = 0x38
	OpI32Store8   byte = 0x3A
	OpMemorySize  byte = 0x3F
	OpMemoryGrow  byte = 0x40
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpI32Eqz      byte = 0x45
	OpI32Eq       byte = 0x46
	OpI32Ne       byte = 0x47
	OpI32LtU      byte = 0x49
	OpI32GtU      byte = 0x4B
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI32And      byte = 0x71
	OpI32WrapI64  byte = 0xA7
	OpI64ExtendU  byte = 0xAD
	OpF32Add      byte = 0x92

	// BlockEmpty is the block type of a block with no results.
	BlockEmpty byte = 0x40
)

// Code assembles a function body instruction by instruction.
// Methods return the receiver so bodies can be written as one chain.
type Code struct {
	w binary.Writer
}

// NewCode returns an empty instruction sequence.
func NewCode() *Code {
	return &Code{}
}

// Bytes returns the assembled instructions followed by the final end opcode.
func (c *Code) Bytes() []byte {
	out := make([]byte, 0, c.w.Len()+1)
	out = append(out, c.w.Bytes()...)
	return append(out, OpEnd)
}

// Op emits a single opcode without immediates.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

func (c *Code) Unreachable() *Code { return c.Op(OpUnreachable) }
func (c *Code) Return() *Code      { return c.Op(OpReturn) }
func (c *Code) Drop() *Code        { return c.Op(OpDrop) }
func (c *Code) End() *Code         { return c.Op(OpEnd) }
func (c *Code) Else() *Code        { return c.Op(OpElse) }

// If opens an if block with an empty block type.
func (c *Code) If() *Code {
	c.w.Byte(OpIf)
	c.w.Byte(BlockEmpty)
	return c
}

// Block opens a block with an empty block type.
func (c *Code) Block() *Code {
	c.w.Byte(OpBlock)
	c.w.Byte(BlockEmpty)
	return c
}

// Loop opens a loop with an empty block type.
func (c *Code) Loop() *Code {
	c.w.Byte(OpLoop)
	c.w.Byte(BlockEmpty)
	return c
}

// Br branches unconditionally to the given label depth.
func (c *Code) Br(depth uint32) *Code {
	c.w.Byte(OpBr)
	c.w.WriteU32(depth)
	return c
}

// BrIf branches to the given label depth when the top of stack is non-zero.
func (c *Code) BrIf(depth uint32) *Code {
	c.w.Byte(OpBrIf)
	c.w.WriteU32(depth)
	return c
}

func (c *Code) Call(funcIdx uint32) *Code {
	c.w.Byte(OpCall)
	c.w.WriteU32(funcIdx)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code {
	c.w.Byte(OpLocalGet)
	c.w.WriteU32(idx)
	return c
}

func (c *Code) LocalSet(idx uint32) *Code {
	c.w.Byte(OpLocalSet)
	c.w.WriteU32(idx)
	return c
}

func (c *Code) LocalTee(idx uint32) *Code {
	c.w.Byte(OpLocalTee)
	c.w.WriteU32(idx)
	return c
}

func (c *Code) GlobalGet(idx uint32) *Code {
	c.w.Byte(OpGlobalGet)
	c.w.WriteU32(idx)
	return c
}

func (c *Code) GlobalSet(idx uint32) *Code {
	c.w.Byte(OpGlobalSet)
	c.w.WriteU32(idx)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS64(int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.w.Byte(OpF32Const)
	c.w.WriteF32(v)
	return c
}

// Load emits a memory load with natural alignment exponent align and a static offset.
func (c *Code) Load(op byte, align, offset uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(align)
	c.w.WriteU32(offset)
	return c
}

// Store emits a memory store with alignment exponent align and a static offset.
func (c *Code) Store(op byte, align, offset uint32) *Code {
	return c.Load(op, align, offset)
}

func (c *Code) MemorySize() *Code {
	c.w.Byte(OpMemorySize)
	c.w.Byte(0)
	return c
}

func (c *Code) MemoryGrow() *Code {
	c.w.Byte(OpMemoryGrow)
	c.w.Byte(0)
	return c
}

// ConstExpr returns a constant init expression (without end) for globals.
func ConstExpr(v int32) []byte {
	return NewCode().I32Const(v).w.Bytes()
}
