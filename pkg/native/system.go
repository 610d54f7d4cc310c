package native

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

const (
	classSystem      = "java/lang/System"
	classPrintStream = "java/io/PrintStream"
)

// PrintStream is the payload of a java/io/PrintStream object.
type PrintStream struct {
	Writer io.Writer
}

func (ps *PrintStream) print(s string, newline bool) error {
	if newline {
		s += "\n"
	}
	_, err := io.WriteString(ps.Writer, s)
	return err
}

func printStream(env *vm.Env, ref vm.Ref) (*PrintStream, error) {
	obj, err := object(env, ref)
	if err != nil {
		return nil, err
	}
	ps, ok := obj.Native.(*PrintStream)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a bound PrintStream", vm.ErrBadReference, obj.Class)
	}
	return ps, nil
}

// printer renders the argument after the receiver for one print overload.
type printer func(env *vm.Env, args []memory.Word) (string, error)

var printers = map[string]printer{
	"Z": func(_ *vm.Env, args []memory.Word) (string, error) {
		return strconv.FormatBool(args[1] != 0), nil
	},
	"C": func(_ *vm.Env, args []memory.Word) (string, error) {
		return formatChar(uint16(args[1])), nil
	},
	"I": func(_ *vm.Env, args []memory.Word) (string, error) {
		return strconv.Itoa(int(int32(args[1]))), nil
	},
	"J": func(_ *vm.Env, args []memory.Word) (string, error) {
		return strconv.FormatInt(argLong(args, 1), 10), nil
	},
	"F": func(_ *vm.Env, args []memory.Word) (string, error) {
		return formatFloating(float64(argFloat(args, 1)), 32), nil
	},
	"D": func(_ *vm.Env, args []memory.Word) (string, error) {
		return formatFloating(argDouble(args, 1), 64), nil
	},
	"Ljava/lang/String;": func(env *vm.Env, args []memory.Word) (string, error) {
		if args[1] == vm.Null {
			return "null", nil
		}
		return env.Heap.String(args[1])
	},
	"Ljava/lang/Object;": func(env *vm.Env, args []memory.Word) (string, error) {
		return stringOf(env, args[1])
	},
	"[C": func(env *vm.Env, args []memory.Word) (string, error) {
		arr, err := env.Heap.Array(args[1])
		if err != nil {
			return "", err
		}
		runes := make([]rune, arr.Len())
		for i, c := range arr.Elems {
			runes[i] = rune(uint16(c))
		}
		return string(runes), nil
	},
}

func init() {
	for desc, p := range printers {
		for name, newline := range map[string]bool{"print": false, "println": true} {
			builtin(classPrintStream, name, "("+desc+")V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
				ps, err := printStream(env, args[0])
				if err != nil {
					return nil, err
				}
				s, err := p(env, args)
				if err != nil {
					return nil, err
				}
				return nil, ps.print(s, newline)
			})
		}
	}
	builtin(classPrintStream, "println", "()V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		ps, err := printStream(env, args[0])
		if err != nil {
			return nil, err
		}
		return nil, ps.print("", true)
	})
	builtin(classPrintStream, "flush", "()V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		_, err := printStream(env, args[0])
		return nil, err
	})

	builtin(classSystem, "currentTimeMillis", "()J", func(*Runtime, *vm.Env, []memory.Word) ([]memory.Word, error) {
		return longResult(time.Now().UnixMilli()), nil
	})
	builtin(classSystem, "nanoTime", "()J", func(*Runtime, *vm.Env, []memory.Word) ([]memory.Word, error) {
		return longResult(time.Now().UnixNano()), nil
	})
	builtin(classSystem, "identityHashCode", "(Ljava/lang/Object;)I", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		if args[0] == vm.Null {
			return intResult(0), nil
		}
		return intResult(identityHash(args[0])), nil
	})
	builtin(classSystem, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", arraycopy)
}

func arraycopy(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
	if args[0] == vm.Null || args[2] == vm.Null {
		return nil, env.Throw(vm.ClassNullPointerException, "arraycopy: null array")
	}
	src, err := env.Heap.Array(args[0])
	if err != nil {
		return nil, env.Throw(vm.ClassArrayStoreException, "arraycopy: source type is not an array")
	}
	dst, err := env.Heap.Array(args[2])
	if err != nil {
		return nil, env.Throw(vm.ClassArrayStoreException, "arraycopy: destination type is not an array")
	}
	srcPos, dstPos, n := int32(args[1]), int32(args[3]), int32(args[4])
	if src.Component != dst.Component && !(isRefComponent(src.Component) && isRefComponent(dst.Component)) {
		return nil, env.Throw(vm.ClassArrayStoreException, "arraycopy: type mismatch: [%s and [%s", src.Component, dst.Component)
	}
	if srcPos < 0 || dstPos < 0 || n < 0 || int(srcPos)+int(n) > src.Len() || int(dstPos)+int(n) > dst.Len() {
		return nil, env.Throw(vm.ClassArrayIndexOutOfBounds, "arraycopy: last source index %d out of bounds for length %d", int(srcPos)+int(n), src.Len())
	}
	copy(dst.Elems[dstPos:dstPos+n], src.Elems[srcPos:srcPos+n])
	return nil, nil
}

func isRefComponent(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}
