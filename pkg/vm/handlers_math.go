package vm

import (
	"math"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/memory"
)

func init() {
	register(intOp(func(a, b int32) int32 { return a + b }), bytecode.OpIadd)
	register(intOp(func(a, b int32) int32 { return a - b }), bytecode.OpIsub)
	register(intOp(func(a, b int32) int32 { return a * b }), bytecode.OpImul)
	register(intOp(func(a, b int32) int32 { return a & b }), bytecode.OpIand)
	register(intOp(func(a, b int32) int32 { return a | b }), bytecode.OpIor)
	register(intOp(func(a, b int32) int32 { return a ^ b }), bytecode.OpIxor)
	register(intOp(func(a, b int32) int32 { return a << (b & 0x1f) }), bytecode.OpIshl)
	register(intOp(func(a, b int32) int32 { return a >> (b & 0x1f) }), bytecode.OpIshr)
	register(intOp(func(a, b int32) int32 { return int32(uint32(a) >> (b & 0x1f)) }), bytecode.OpIushr)
	register(intDivOp(func(a, b int32) int32 { return a / b }), bytecode.OpIdiv)
	register(intDivOp(func(a, b int32) int32 { return a % b }), bytecode.OpIrem)

	register(longOp(func(a, b int64) int64 { return a + b }), bytecode.OpLadd)
	register(longOp(func(a, b int64) int64 { return a - b }), bytecode.OpLsub)
	register(longOp(func(a, b int64) int64 { return a * b }), bytecode.OpLmul)
	register(longOp(func(a, b int64) int64 { return a & b }), bytecode.OpLand)
	register(longOp(func(a, b int64) int64 { return a | b }), bytecode.OpLor)
	register(longOp(func(a, b int64) int64 { return a ^ b }), bytecode.OpLxor)
	register(longDivOp(func(a, b int64) int64 { return a / b }), bytecode.OpLdiv)
	register(longDivOp(func(a, b int64) int64 { return a % b }), bytecode.OpLrem)
	register(longShift(func(a int64, s uint) int64 { return a << s }), bytecode.OpLshl)
	register(longShift(func(a int64, s uint) int64 { return a >> s }), bytecode.OpLshr)
	register(longShift(func(a int64, s uint) int64 { return int64(uint64(a) >> s) }), bytecode.OpLushr)

	register(floatOp(func(a, b float32) float32 { return a + b }), bytecode.OpFadd)
	register(floatOp(func(a, b float32) float32 { return a - b }), bytecode.OpFsub)
	register(floatOp(func(a, b float32) float32 { return a * b }), bytecode.OpFmul)
	register(floatOp(func(a, b float32) float32 { return a / b }), bytecode.OpFdiv)
	register(floatOp(func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }), bytecode.OpFrem)

	register(doubleOp(func(a, b float64) float64 { return a + b }), bytecode.OpDadd)
	register(doubleOp(func(a, b float64) float64 { return a - b }), bytecode.OpDsub)
	register(doubleOp(func(a, b float64) float64 { return a * b }), bytecode.OpDmul)
	register(doubleOp(func(a, b float64) float64 { return a / b }), bytecode.OpDdiv)
	register(doubleOp(math.Mod), bytecode.OpDrem)

	register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		v, err := f.PopInt()
		if err != nil {
			return err
		}
		return f.PushInt(-v)
	}), bytecode.OpIneg)
	register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		v, err := f.PopLong()
		if err != nil {
			return err
		}
		return f.PushLong(-v)
	}), bytecode.OpLneg)
	register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		v, err := f.PopFloat()
		if err != nil {
			return err
		}
		return f.PushFloat(-v)
	}), bytecode.OpFneg)
	register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		v, err := f.PopDouble()
		if err != nil {
			return err
		}
		return f.PushDouble(-v)
	}), bytecode.OpDneg)

	registerConversions()
	registerComparisons()
}

func intOp(fn func(a, b int32) int32) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() < 2 {
			return memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopInt()
		a, _ := f.PopInt()
		return f.PushInt(fn(a, b))
	})
}

// intDivOp throws ArithmeticException on a zero divisor. Go defines
// MinInt32 / -1 as MinInt32, matching the JVM.
func intDivOp(fn func(a, b int32) int32) handler {
	return func(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
		if f.Depth() < 2 {
			return false, memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopInt()
		a, _ := f.PopInt()
		if b == 0 {
			return false, vm.NewJavaException(ClassArithmeticException, "/ by zero", nil)
		}
		return false, f.PushInt(fn(a, b))
	}
}

func longOp(fn func(a, b int64) int64) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() < 4 {
			return memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopLong()
		a, _ := f.PopLong()
		return f.PushLong(fn(a, b))
	})
}

func longDivOp(fn func(a, b int64) int64) handler {
	return func(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
		if f.Depth() < 4 {
			return false, memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopLong()
		a, _ := f.PopLong()
		if b == 0 {
			return false, vm.NewJavaException(ClassArithmeticException, "/ by zero", nil)
		}
		return false, f.PushLong(fn(a, b))
	}
}

// longShift takes an int shift count above a long value.
func longShift(fn func(a int64, s uint) int64) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() < 3 {
			return memory.ErrOperandStackUnderflow
		}
		s, _ := f.PopInt()
		a, _ := f.PopLong()
		return f.PushLong(fn(a, uint(s&0x3f)))
	})
}

func floatOp(fn func(a, b float32) float32) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() < 2 {
			return memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopFloat()
		a, _ := f.PopFloat()
		return f.PushFloat(fn(a, b))
	})
}

func doubleOp(fn func(a, b float64) float64) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() < 4 {
			return memory.ErrOperandStackUnderflow
		}
		b, _ := f.PopDouble()
		a, _ := f.PopDouble()
		return f.PushDouble(fn(a, b))
	})
}

// convert pops in words and pushes the words produced by fn.
func convert(in int, fn func(ws []memory.Word) []memory.Word) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		ws, err := f.PopN(in)
		if err != nil {
			return err
		}
		return f.PushN(fn(ws)...)
	})
}

func intWords(v int32) []memory.Word { return []memory.Word{memory.Word(uint32(v))} }

func longWords(v int64) []memory.Word {
	hi, lo := memory.SplitLong(v)
	return []memory.Word{hi, lo}
}

func floatWords(v float32) []memory.Word { return []memory.Word{floatWord(v)} }

func doubleWordsOf(v float64) []memory.Word {
	hi, lo := doubleWords(v)
	return []memory.Word{hi, lo}
}

func wordsInt(ws []memory.Word) int32     { return int32(ws[0]) }
func wordsLong(ws []memory.Word) int64    { return memory.JoinLong(ws[0], ws[1]) }
func wordsFloat(ws []memory.Word) float32 { return math.Float32frombits(uint32(ws[0])) }
func wordsDouble(ws []memory.Word) float64 {
	return math.Float64frombits(uint64(memory.JoinLong(ws[0], ws[1])))
}

// toInt32 and toInt64 convert with the JVM's saturating rules: NaN is 0
// and out-of-range values clamp.
func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

func registerConversions() {
	register(convert(1, func(ws []memory.Word) []memory.Word { return longWords(int64(wordsInt(ws))) }), bytecode.OpI2l)
	register(convert(1, func(ws []memory.Word) []memory.Word { return floatWords(float32(wordsInt(ws))) }), bytecode.OpI2f)
	register(convert(1, func(ws []memory.Word) []memory.Word { return doubleWordsOf(float64(wordsInt(ws))) }), bytecode.OpI2d)
	register(convert(2, func(ws []memory.Word) []memory.Word { return intWords(int32(wordsLong(ws))) }), bytecode.OpL2i)
	register(convert(2, func(ws []memory.Word) []memory.Word { return floatWords(float32(wordsLong(ws))) }), bytecode.OpL2f)
	register(convert(2, func(ws []memory.Word) []memory.Word { return doubleWordsOf(float64(wordsLong(ws))) }), bytecode.OpL2d)
	register(convert(1, func(ws []memory.Word) []memory.Word { return intWords(toInt32(float64(wordsFloat(ws)))) }), bytecode.OpF2i)
	register(convert(1, func(ws []memory.Word) []memory.Word { return longWords(toInt64(float64(wordsFloat(ws)))) }), bytecode.OpF2l)
	register(convert(1, func(ws []memory.Word) []memory.Word { return doubleWordsOf(float64(wordsFloat(ws))) }), bytecode.OpF2d)
	register(convert(2, func(ws []memory.Word) []memory.Word { return intWords(toInt32(wordsDouble(ws))) }), bytecode.OpD2i)
	register(convert(2, func(ws []memory.Word) []memory.Word { return longWords(toInt64(wordsDouble(ws))) }), bytecode.OpD2l)
	register(convert(2, func(ws []memory.Word) []memory.Word { return floatWords(float32(wordsDouble(ws))) }), bytecode.OpD2f)
	register(convert(1, func(ws []memory.Word) []memory.Word { return intWords(int32(int8(wordsInt(ws)))) }), bytecode.OpI2b)
	register(convert(1, func(ws []memory.Word) []memory.Word { return intWords(int32(uint16(wordsInt(ws)))) }), bytecode.OpI2c)
	register(convert(1, func(ws []memory.Word) []memory.Word { return intWords(int32(int16(wordsInt(ws)))) }), bytecode.OpI2s)
}

func cmp[T int64 | float64](a, b T) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// fcmp compares with nan as the result for unordered operands.
func fcmp(a, b float64, nan int32) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return nan
	}
	return cmp(a, b)
}

func registerComparisons() {
	register(convert(4, func(ws []memory.Word) []memory.Word {
		return intWords(cmp(wordsLong(ws[:2]), wordsLong(ws[2:])))
	}), bytecode.OpLcmp)
	for op, nan := range map[bytecode.Opcode]int32{bytecode.OpFcmpl: -1, bytecode.OpFcmpg: 1} {
		nan := nan
		register(convert(2, func(ws []memory.Word) []memory.Word {
			return intWords(fcmp(float64(wordsFloat(ws[:1])), float64(wordsFloat(ws[1:])), nan))
		}), op)
	}
	for op, nan := range map[bytecode.Opcode]int32{bytecode.OpDcmpl: -1, bytecode.OpDcmpg: 1} {
		nan := nan
		register(convert(4, func(ws []memory.Word) []memory.Word {
			return intWords(fcmp(wordsDouble(ws[:2]), wordsDouble(ws[2:]), nan))
		}), op)
	}
}
