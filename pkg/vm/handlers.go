package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/memory"
)

// handler executes one decoded instruction in frame f, the current frame
// of t. It reports jumped when it set the pc itself (branches, invokes,
// returns, retries); otherwise Step advances past the instruction. A
// *JavaException error is thrown into the thread; any other error faults it.
type handler func(vm *VM, t *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (jumped bool, err error)

var handlers [256]handler

func register(h handler, ops ...bytecode.Opcode) {
	for _, op := range ops {
		if handlers[op] != nil {
			panic(fmt.Sprintf("vm: duplicate handler for %s", op))
		}
		handlers[op] = h
	}
}

// simple adapts a handler body that never changes the pc.
func simple(fn func(f *memory.Frame, ins bytecode.Instruction) error) handler {
	return func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		return false, fn(f, ins)
	}
}

// jumpTo moves the pc to target after checking it lies within the code.
func jumpTo(f *memory.Frame, target int) (bool, error) {
	if target < 0 || target >= len(f.Code()) {
		return false, fmt.Errorf("%w: branch target %d not in [0, %d)", ErrPCOutOfRange, target, len(f.Code()))
	}
	f.PC = target
	return true, nil
}

func floatWord(v float32) memory.Word { return memory.Word(math.Float32bits(v)) }

func doubleWords(v float64) (hi, lo memory.Word) {
	return memory.SplitLong(int64(math.Float64bits(v)))
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
