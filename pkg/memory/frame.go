// Package memory implements per-thread call stacks and the frames on them.
// Every operand stack and local variable slot holds a 32-bit Word; long
// and double values take two words, high word first.
package memory

import (
	"fmt"
	"math"

	"github.com/daimatz/minijvm/pkg/classfile"
)

// Word is one operand stack or local variable slot.
type Word uint32

// SplitLong returns the high and low words of v.
func SplitLong(v int64) (hi, lo Word) {
	return Word(uint64(v) >> 32), Word(uint64(v))
}

// JoinLong reassembles a value split by SplitLong.
func JoinLong(hi, lo Word) int64 {
	return int64(uint64(hi)<<32 | uint64(lo))
}

// Frame is the activation record of one method invocation.
type Frame struct {
	ClassName string
	Class     *classfile.ClassFile
	Method    *classfile.MethodInfo
	PC        int

	// Initializer marks a <clinit> frame pushed by class initialization;
	// returning from it re-executes the caller's current instruction.
	Initializer bool

	stack  []Word
	sp     int
	locals []Word
}

// NewFrame allocates a frame sized from the method's Code attribute.
func NewFrame(className string, class *classfile.ClassFile, method *classfile.MethodInfo) (*Frame, error) {
	if method.Code == nil {
		return nil, fmt.Errorf("%s.%s%s: %w", className, method.Name, method.Descriptor, ErrNoCode)
	}
	return &Frame{
		ClassName: className,
		Class:     class,
		Method:    method,
		stack:     make([]Word, method.Code.MaxStack),
		locals:    make([]Word, method.Code.MaxLocals),
	}, nil
}

// Code returns the bytecode being executed.
func (f *Frame) Code() []byte { return f.Method.Code.Code }

func (f *Frame) MaxStack() int  { return len(f.stack) }
func (f *Frame) MaxLocals() int { return len(f.locals) }

// Depth is the number of words on the operand stack.
func (f *Frame) Depth() int { return f.sp }

// Push pushes a value onto the operand stack.
func (f *Frame) Push(w Word) error {
	if f.sp >= len(f.stack) {
		return fmt.Errorf("%w: depth %d, max %d", ErrOperandStackOverflow, f.sp, len(f.stack))
	}
	f.stack[f.sp] = w
	f.sp++
	return nil
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() (Word, error) {
	if f.sp <= 0 {
		return 0, ErrOperandStackUnderflow
	}
	f.sp--
	return f.stack[f.sp], nil
}

// Peek returns the word n positions below the top without popping.
func (f *Frame) Peek(n int) (Word, error) {
	if n < 0 || n >= f.sp {
		return 0, fmt.Errorf("%w: peek %d with depth %d", ErrOperandStackUnderflow, n, f.sp)
	}
	return f.stack[f.sp-1-n], nil
}

// PushN pushes ws in order, or nothing if they do not all fit.
func (f *Frame) PushN(ws ...Word) error {
	if f.sp+len(ws) > len(f.stack) {
		return fmt.Errorf("%w: depth %d + %d, max %d", ErrOperandStackOverflow, f.sp, len(ws), len(f.stack))
	}
	copy(f.stack[f.sp:], ws)
	f.sp += len(ws)
	return nil
}

// PopN pops n words, or nothing if fewer are present. The result is in
// push order (bottom first).
func (f *Frame) PopN(n int) ([]Word, error) {
	if n > f.sp {
		return nil, fmt.Errorf("%w: pop %d with depth %d", ErrOperandStackUnderflow, n, f.sp)
	}
	out := make([]Word, n)
	copy(out, f.stack[f.sp-n:f.sp])
	f.sp -= n
	return out, nil
}

// Clear discards every operand.
func (f *Frame) Clear() { f.sp = 0 }

// Operands returns a copy of the operand stack, bottom first.
func (f *Frame) Operands() []Word {
	return append([]Word(nil), f.stack[:f.sp]...)
}

func (f *Frame) PushInt(v int32) error { return f.Push(Word(uint32(v))) }

func (f *Frame) PopInt() (int32, error) {
	w, err := f.Pop()
	return int32(w), err
}

func (f *Frame) PushFloat(v float32) error { return f.Push(Word(math.Float32bits(v))) }

func (f *Frame) PopFloat() (float32, error) {
	w, err := f.Pop()
	return math.Float32frombits(uint32(w)), err
}

func (f *Frame) PushLong(v int64) error {
	hi, lo := SplitLong(v)
	return f.PushN(hi, lo)
}

func (f *Frame) PopLong() (int64, error) {
	ws, err := f.PopN(2)
	if err != nil {
		return 0, err
	}
	return JoinLong(ws[0], ws[1]), nil
}

func (f *Frame) PushDouble(v float64) error { return f.PushLong(int64(math.Float64bits(v))) }

func (f *Frame) PopDouble() (float64, error) {
	v, err := f.PopLong()
	return math.Float64frombits(uint64(v)), err
}

func (f *Frame) checkLocal(index, width int) error {
	if index < 0 || index+width > len(f.locals) {
		return fmt.Errorf("%w: index %d, max %d", ErrLocalVariableIndexOutOfRange, index, len(f.locals))
	}
	return nil
}

// Local returns the value at the given local variable index.
func (f *Frame) Local(index int) (Word, error) {
	if err := f.checkLocal(index, 1); err != nil {
		return 0, err
	}
	return f.locals[index], nil
}

// SetLocal sets the value at the given local variable index.
func (f *Frame) SetLocal(index int, w Word) error {
	if err := f.checkLocal(index, 1); err != nil {
		return err
	}
	f.locals[index] = w
	return nil
}

// LocalLong reads a two-word value from index and index+1.
func (f *Frame) LocalLong(index int) (int64, error) {
	if err := f.checkLocal(index, 2); err != nil {
		return 0, err
	}
	return JoinLong(f.locals[index], f.locals[index+1]), nil
}

func (f *Frame) SetLocalLong(index int, v int64) error {
	if err := f.checkLocal(index, 2); err != nil {
		return err
	}
	f.locals[index], f.locals[index+1] = SplitLong(v)
	return nil
}

// Locals returns a copy of the local variable array.
func (f *Frame) Locals() []Word {
	return append([]Word(nil), f.locals...)
}

// SetArgs copies invocation arguments into locals starting at slot 0.
func (f *Frame) SetArgs(args []Word) error {
	if len(args) > len(f.locals) {
		return fmt.Errorf("%w: %d argument words, max_locals %d", ErrLocalVariableIndexOutOfRange, len(args), len(f.locals))
	}
	copy(f.locals, args)
	return nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s.%s%s pc=%d", f.ClassName, f.Method.Name, f.Method.Descriptor, f.PC)
}
