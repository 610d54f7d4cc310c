// Package bytecode describes the JVM instruction set: opcode names, operand
// widths, and decoding of single instructions out of a method's code array.
package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcode is a single-byte instruction selector.
type Opcode uint8

// Variable marks opcodes whose operand length depends on the code
// (tableswitch, lookupswitch, wide).
const Variable = -1

var (
	ErrTruncated     = errors.New("truncated instruction")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrBadSwitch     = errors.New("malformed switch")
)

func (op Opcode) String() string {
	if name := opcodeInfo[op].name; name != "" {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", uint8(op))
}

// Known reports whether op is a defined instruction.
func (op Opcode) Known() bool { return opcodeInfo[op].name != "" }

// OperandWidth is the number of immediate operand bytes, or Variable.
func (op Opcode) OperandWidth() int { return opcodeInfo[op].width }

// Instruction is one decoded instruction. Operands aliases the code array
// and, for switches, includes the alignment padding.
type Instruction struct {
	PC       int
	Op       Opcode
	Operands []byte
	Len      int
}

// Decode reads the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w: pc %d outside code of length %d", ErrTruncated, pc, len(code))
	}
	op := Opcode(code[pc])
	if !op.Known() {
		return Instruction{}, fmt.Errorf("%w 0x%02x at pc %d", ErrUnknownOpcode, uint8(op), pc)
	}

	n := op.OperandWidth()
	if n == Variable {
		var err error
		if n, err = variableWidth(code, pc, op); err != nil {
			return Instruction{}, err
		}
	}
	if pc+1+n > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at pc %d needs %d operand bytes", ErrTruncated, op, pc, n)
	}
	return Instruction{PC: pc, Op: op, Operands: code[pc+1 : pc+1+n], Len: 1 + n}, nil
}

func variableWidth(code []byte, pc int, op Opcode) (int, error) {
	pad := (4 - (pc+1)%4) % 4
	need := func(n int) error {
		if pc+1+n > len(code) {
			return fmt.Errorf("%w: %s at pc %d", ErrTruncated, op, pc)
		}
		return nil
	}
	i32 := func(off int) int32 {
		return int32(binary.BigEndian.Uint32(code[pc+1+off:]))
	}

	switch op {
	case OpTableswitch:
		if err := need(pad + 12); err != nil {
			return 0, err
		}
		low, high := i32(pad+4), i32(pad+8)
		if high < low {
			return 0, fmt.Errorf("%w: tableswitch at pc %d has low %d > high %d", ErrBadSwitch, pc, low, high)
		}
		return pad + 12 + int(int64(high)-int64(low)+1)*4, nil
	case OpLookupswitch:
		if err := need(pad + 8); err != nil {
			return 0, err
		}
		npairs := i32(pad + 4)
		if npairs < 0 {
			return 0, fmt.Errorf("%w: lookupswitch at pc %d has %d pairs", ErrBadSwitch, pc, npairs)
		}
		return pad + 8 + int(npairs)*8, nil
	case OpWide:
		if err := need(1); err != nil {
			return 0, err
		}
		switch Opcode(code[pc+1]) {
		case OpIinc:
			return 5, nil
		case OpIload, OpLload, OpFload, OpDload, OpAload,
			OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
			return 3, nil
		default:
			return 0, fmt.Errorf("%w: wide cannot modify %s at pc %d", ErrUnknownOpcode, Opcode(code[pc+1]), pc)
		}
	}
	return 0, fmt.Errorf("%w: %s has no variable form", ErrUnknownOpcode, op)
}

func (ins Instruction) U8(off int) uint8 { return ins.Operands[off] }

func (ins Instruction) I8(off int) int8 { return int8(ins.Operands[off]) }

func (ins Instruction) U16(off int) uint16 {
	return binary.BigEndian.Uint16(ins.Operands[off:])
}

func (ins Instruction) I16(off int) int16 { return int16(ins.U16(off)) }

func (ins Instruction) I32(off int) int32 {
	return int32(binary.BigEndian.Uint32(ins.Operands[off:]))
}

func (ins Instruction) pad() int { return (4 - (ins.PC+1)%4) % 4 }

// TableSwitch returns the default offset, the low key, and one jump offset
// per key in [low, high].
func (ins Instruction) TableSwitch() (def, low int32, offsets []int32) {
	p := ins.pad()
	def, low = ins.I32(p), ins.I32(p+4)
	high := ins.I32(p + 8)
	offsets = make([]int32, int(int64(high)-int64(low)+1))
	for i := range offsets {
		offsets[i] = ins.I32(p + 12 + i*4)
	}
	return def, low, offsets
}

// LookupSwitch returns the default offset and the match/offset pairs.
func (ins Instruction) LookupSwitch() (def int32, keys, offsets []int32) {
	p := ins.pad()
	def = ins.I32(p)
	n := int(ins.I32(p + 4))
	keys, offsets = make([]int32, n), make([]int32, n)
	for i := 0; i < n; i++ {
		keys[i] = ins.I32(p + 8 + i*8)
		offsets[i] = ins.I32(p + 12 + i*8)
	}
	return def, keys, offsets
}

// Wide returns the modified opcode, its 16-bit local index, and for iinc
// the 16-bit increment.
func (ins Instruction) Wide() (op Opcode, index uint16, delta int16) {
	op = Opcode(ins.Operands[0])
	index = ins.U16(1)
	if op == OpIinc {
		delta = ins.I16(3)
	}
	return op, index, delta
}
