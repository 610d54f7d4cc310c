package native

import (
	"strconv"

	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

const classInteger = "java/lang/Integer"

// boxCacheLow and boxCacheHigh bound the values Integer.valueOf returns
// canonical instances for.
const (
	boxCacheLow  = -128
	boxCacheHigh = 127
)

// IntegerValueOf boxes v. Values in [-128, 127] share one instance per
// heap, as Integer.valueOf guarantees.
func (rt *Runtime) IntegerValueOf(h *vm.Heap, v int32) vm.Ref {
	if v < boxCacheLow || v > boxCacheHigh {
		return h.NewNative(classInteger, v)
	}
	return rt.shared(h, "Integer:"+strconv.Itoa(int(v)), func() vm.Ref {
		return h.NewNative(classInteger, v)
	})
}

// IntegerIntValue unboxes ref.
func IntegerIntValue(env *vm.Env, ref vm.Ref) (int32, error) {
	obj, err := object(env, ref)
	if err != nil {
		return 0, err
	}
	v, ok := obj.Native.(int32)
	if !ok {
		return 0, env.Throw(vm.ClassClassCastException, "class %s cannot be cast to class java.lang.Integer", dotted(obj.Class))
	}
	return v, nil
}

func init() {
	builtin(classInteger, "<init>", "(I)V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		obj.Native = int32(args[1])
		return nil, nil
	})
	builtin(classInteger, "valueOf", "(I)Ljava/lang/Integer;", func(rt *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return refResult(rt.IntegerValueOf(env.Heap, int32(args[0]))), nil
	})
	builtin(classInteger, "intValue", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v, err := IntegerIntValue(env, args[0])
		if err != nil {
			return nil, err
		}
		return intResult(v), nil
	})
	builtin(classInteger, "hashCode", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v, err := IntegerIntValue(env, args[0])
		if err != nil {
			return nil, err
		}
		return intResult(v), nil
	})
	builtin(classInteger, "equals", "(Ljava/lang/Object;)Z", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v, err := IntegerIntValue(env, args[0])
		if err != nil {
			return nil, err
		}
		if args[1] == vm.Null {
			return boolResult(false), nil
		}
		other, err := env.Heap.Object(args[1])
		if err != nil {
			return nil, err
		}
		w, ok := other.Native.(int32)
		return boolResult(ok && other.Class == classInteger && w == v), nil
	})
	builtin(classInteger, "parseInt", "(Ljava/lang/String;)I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		if args[0] == vm.Null {
			return nil, env.Throw("java/lang/NumberFormatException", "Cannot parse null string: null")
		}
		s, err := env.Heap.String(args[0])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, env.Throw("java/lang/NumberFormatException", "For input string: %q", s)
		}
		return intResult(int32(v)), nil
	})
	builtin(classInteger, "toString", "(I)Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return refResult(env.Heap.NewString(strconv.Itoa(int(int32(args[0]))))), nil
	})
	builtin(classInteger, "toString", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v, err := IntegerIntValue(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(strconv.Itoa(int(v)))), nil
	})
}
