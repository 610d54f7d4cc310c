package native

import (
	"math"
	"strconv"
	"strings"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

const (
	classObject    = "java/lang/Object"
	classClass     = "java/lang/Class"
	classString    = "java/lang/String"
	classThrowable = "java/lang/Throwable"
	classMath      = "java/lang/Math"
)

func init() {
	builtin(classObject, "<init>", "()V", func(*Runtime, *vm.Env, []memory.Word) ([]memory.Word, error) {
		return nil, nil
	})
	builtin(classObject, "hashCode", "()I", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return intResult(identityHash(args[0])), nil
	})
	builtin(classObject, "equals", "(Ljava/lang/Object;)Z", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return boolResult(args[0] == args[1]), nil
	})
	builtin(classObject, "toString", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := stringOf(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(s)), nil
	})
	builtin(classObject, "getClass", "()Ljava/lang/Class;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		cls, err := env.Heap.ClassOf(args[0])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.ClassObject(cls)), nil
	})
	builtin(classClass, "getName", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		name, _ := obj.Native.(string)
		return refResult(env.Heap.Intern(dotted(name))), nil
	})

	registerThrowable()
	registerString()
	registerMath()
}

func registerThrowable() {
	builtin(classThrowable, "<init>", "()V", func(*Runtime, *vm.Env, []memory.Word) ([]memory.Word, error) {
		return nil, nil
	})
	builtin(classThrowable, "<init>", "(Ljava/lang/String;)V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		obj.SetField(vm.MessageField, args[1:2])
		return nil, nil
	})
	builtin(classThrowable, "getMessage", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		return obj.Field(vm.MessageField, "Ljava/lang/String;"), nil
	})
	builtin(classThrowable, "toString", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		s, err := throwableString(env, obj)
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(s)), nil
	})
	builtin(classThrowable, "printStackTrace", "()V", func(rt *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		obj, err := object(env, args[0])
		if err != nil {
			return nil, err
		}
		s, err := throwableString(env, obj)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		b.WriteString(s + "\n")
		if env.Thread != nil {
			for _, line := range env.Thread.StackTrace() {
				b.WriteString("\tat " + line + "\n")
			}
		}
		_, err = rt.Stderr.Write([]byte(b.String()))
		return nil, err
	})
}

// throwableString is Throwable.toString: the class name, then ": message"
// when a message is set.
func throwableString(env *vm.Env, obj *vm.Object) (string, error) {
	msg := obj.Field(vm.MessageField, "Ljava/lang/String;")[0]
	if msg == vm.Null {
		return dotted(obj.Class), nil
	}
	s, err := env.Heap.String(msg)
	if err != nil {
		return "", err
	}
	return dotted(obj.Class) + ": " + s, nil
}

// utf16Of returns the UTF-16 code units Java indexes strings by. Lone
// surrogates from string constants count as one unit each.
func utf16Of(s string) []uint16 {
	return classfile.UTF16(s)
}

func registerString() {
	builtin(classString, "length", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		return intResult(int32(len(utf16Of(s)))), nil
	})
	builtin(classString, "isEmpty", "()Z", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		return boolResult(s == ""), nil
	})
	builtin(classString, "charAt", "(I)C", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		units := utf16Of(s)
		i := int32(args[1])
		if i < 0 || int(i) >= len(units) {
			return nil, env.Throw("java/lang/StringIndexOutOfBoundsException", "Index %d out of bounds for length %d", i, len(units))
		}
		return intResult(int32(units[i])), nil
	})
	builtin(classString, "equals", "(Ljava/lang/Object;)Z", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		if args[1] == vm.Null {
			return boolResult(false), nil
		}
		other, err := env.Heap.String(args[1])
		return boolResult(err == nil && other == s), nil
	})
	builtin(classString, "hashCode", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		var h int32
		for _, c := range utf16Of(s) {
			h = 31*h + int32(c)
		}
		return intResult(h), nil
	})
	builtin(classString, "concat", "(Ljava/lang/String;)Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := text(env, args[0])
		if err != nil {
			return nil, err
		}
		t, err := text(env, args[1])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(s + t)), nil
	})
	builtin(classString, "toString", "()Ljava/lang/String;", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return args[:1], nil
	})
	builtin(classString, "valueOf", "(I)Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return refResult(env.Heap.NewString(strconv.Itoa(int(int32(args[0]))))), nil
	})
	builtin(classString, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		s, err := stringOf(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(s)), nil
	})
}

func registerMath() {
	builtin(classMath, "abs", "(I)I", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v := int32(args[0])
		if v < 0 {
			v = -v
		}
		return intResult(v), nil
	})
	builtin(classMath, "abs", "(J)J", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		v := argLong(args, 0)
		if v < 0 {
			v = -v
		}
		return longResult(v), nil
	})
	builtin(classMath, "abs", "(F)F", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return floatResult(float32(math.Abs(float64(argFloat(args, 0))))), nil
	})
	builtin(classMath, "abs", "(D)D", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return doubleResult(math.Abs(argDouble(args, 0))), nil
	})
	builtin(classMath, "max", "(II)I", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return intResult(max(int32(args[0]), int32(args[1]))), nil
	})
	builtin(classMath, "min", "(II)I", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return intResult(min(int32(args[0]), int32(args[1]))), nil
	})
	builtin(classMath, "max", "(JJ)J", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return longResult(max(argLong(args, 0), argLong(args, 2))), nil
	})
	builtin(classMath, "min", "(JJ)J", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return longResult(min(argLong(args, 0), argLong(args, 2))), nil
	})
	builtin(classMath, "sqrt", "(D)D", func(_ *Runtime, _ *vm.Env, args []memory.Word) ([]memory.Word, error) {
		return doubleResult(math.Sqrt(argDouble(args, 0))), nil
	})
}
