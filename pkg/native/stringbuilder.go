package native

import (
	"strings"

	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

const classStringBuilder = "java/lang/StringBuilder"

// StringBuilder is the payload of a java/lang/StringBuilder.
type StringBuilder struct {
	strings.Builder
}

func stringBuilder(env *vm.Env, ref vm.Ref) (*StringBuilder, error) {
	obj, err := object(env, ref)
	if err != nil {
		return nil, err
	}
	if obj.Native == nil {
		obj.Native = &StringBuilder{}
	}
	sb, ok := obj.Native.(*StringBuilder)
	if !ok {
		return nil, env.Throw(vm.ClassClassCastException, "class %s cannot be cast to class java.lang.StringBuilder", dotted(obj.Class))
	}
	return sb, nil
}

func init() {
	builtin(classStringBuilder, "<init>", "()V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		_, err := stringBuilder(env, args[0])
		return nil, err
	})
	builtin(classStringBuilder, "<init>", "(Ljava/lang/String;)V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		sb, err := stringBuilder(env, args[0])
		if err != nil {
			return nil, err
		}
		s, err := text(env, args[1])
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
		return nil, nil
	})

	// append renders its argument like PrintStream.print and returns the
	// receiver.
	for desc, p := range printers {
		builtin(classStringBuilder, "append", "("+desc+")Ljava/lang/StringBuilder;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
			sb, err := stringBuilder(env, args[0])
			if err != nil {
				return nil, err
			}
			s, err := p(env, args)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
			return args[:1], nil
		})
	}

	builtin(classStringBuilder, "length", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		sb, err := stringBuilder(env, args[0])
		if err != nil {
			return nil, err
		}
		return intResult(int32(len(utf16Of(sb.String())))), nil
	})
	builtin(classStringBuilder, "toString", "()Ljava/lang/String;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		sb, err := stringBuilder(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(env.Heap.NewString(sb.String())), nil
	})
	builtin(classStringBuilder, "reverse", "()Ljava/lang/StringBuilder;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		sb, err := stringBuilder(env, args[0])
		if err != nil {
			return nil, err
		}
		runes := []rune(sb.String())
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		sb.Reset()
		sb.WriteString(string(runes))
		return args[:1], nil
	})
}
