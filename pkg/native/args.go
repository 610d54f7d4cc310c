package native

import (
	"math"

	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

func intResult(v int32) []memory.Word { return []memory.Word{memory.Word(uint32(v))} }

func boolResult(b bool) []memory.Word {
	if b {
		return intResult(1)
	}
	return intResult(0)
}

func longResult(v int64) []memory.Word {
	hi, lo := memory.SplitLong(v)
	return []memory.Word{hi, lo}
}

func floatResult(v float32) []memory.Word { return []memory.Word{memory.Word(math.Float32bits(v))} }

func doubleResult(v float64) []memory.Word { return longResult(int64(math.Float64bits(v))) }

func refResult(r vm.Ref) []memory.Word { return []memory.Word{r} }

func argLong(args []memory.Word, i int) int64 { return memory.JoinLong(args[i], args[i+1]) }

func argFloat(args []memory.Word, i int) float32 { return math.Float32frombits(uint32(args[i])) }

func argDouble(args []memory.Word, i int) float64 {
	return math.Float64frombits(uint64(argLong(args, i)))
}

// object returns the receiver or argument at ref, throwing
// NullPointerException for null.
func object(env *vm.Env, ref vm.Ref) (*vm.Object, error) {
	if ref == vm.Null {
		return nil, env.Throw(vm.ClassNullPointerException, "")
	}
	return env.Heap.Object(ref)
}

// text returns the contents of a String argument.
func text(env *vm.Env, ref vm.Ref) (string, error) {
	if ref == vm.Null {
		return "", env.Throw(vm.ClassNullPointerException, "")
	}
	return env.Heap.String(ref)
}
