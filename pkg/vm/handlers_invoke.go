package vm

import (
	"errors"
	"fmt"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

type invokeKind int

const (
	invokeVirtual invokeKind = iota
	invokeSpecial
	invokeStatic
	invokeInterface
)

func init() {
	register(invoker(invokeVirtual), bytecode.OpInvokevirtual)
	register(invoker(invokeSpecial), bytecode.OpInvokespecial)
	register(invoker(invokeStatic), bytecode.OpInvokestatic)
	register(invoker(invokeInterface), bytecode.OpInvokeinterface)
	register(func(*VM, *memory.Thread, *memory.Frame, bytecode.Instruction) (bool, error) {
		return false, fmt.Errorf("%w: invokedynamic", ErrUnsupportedOpcode)
	}, bytecode.OpInvokedynamic)
}

func invoker(kind invokeKind) handler {
	return func(vm *VM, t *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		return vm.invoke(t, f, ins, kind)
	}
}

func (vm *VM) env(t *memory.Thread) *Env {
	return &Env{VM: vm, Heap: vm.Heap, Thread: t}
}

func (vm *VM) methodError(msg string, err error) error {
	return vm.NewJavaException(ClassNoSuchMethodError, msg, fmt.Errorf("%w: %w", memory.ErrMethodNotFound, err))
}

// nativeError classifies an error returned by a native binding: thrown
// exceptions pass through, an unbound member becomes a catchable
// className error whose cause wraps sentinel, anything else faults.
func (vm *VM) nativeError(err error, className, msg string, sentinel error) error {
	var jex *JavaException
	if errors.As(err, &jex) {
		return jex
	}
	if errors.Is(err, ErrNativeNotFound) {
		return vm.NewJavaException(className, msg, fmt.Errorf("%w: %w", sentinel, err))
	}
	return err
}

// invoke pops the arguments of a call and either pushes the callee's frame
// or runs a native binding in place. The caller's pc stays on the invoke
// until the callee returns.
func (vm *VM) invoke(t *memory.Thread, f *memory.Frame, ins bytecode.Instruction, kind invokeKind) (bool, error) {
	pool := f.Class.ConstantPool
	var ref *classfile.MemberRef
	var err error
	switch kind {
	case invokeVirtual:
		ref, err = pool.Methodref(ins.U16(0))
	case invokeInterface:
		ref, err = pool.InterfaceMethodref(ins.U16(0))
	default:
		ref, err = pool.AnyMethodref(ins.U16(0))
	}
	if err != nil {
		return false, vm.methodError(err.Error(), err)
	}
	md, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return false, err
	}

	if kind == invokeStatic {
		if retry, err := vm.ensureInitialized(t, ref.ClassName); err != nil || retry {
			return retry, err
		}
	}

	n := md.ArgSlots()
	if kind != invokeStatic {
		n++
	}
	args, err := f.PopN(n)
	if err != nil {
		return false, err
	}

	lookup := ref.ClassName
	if kind != invokeStatic {
		if args[0] == Null {
			return false, vm.nullPointer("cannot invoke %s.%s on null", ref.ClassName, ref.Name)
		}
		if kind == invokeVirtual || kind == invokeInterface {
			cls, err := vm.Heap.ClassOf(args[0])
			if err != nil {
				return false, err
			}
			if cls[0] == '[' {
				cls = "java/lang/Object"
			}
			lookup = cls
		}
	}

	target, err := vm.Registry.ResolveMethod(lookup, ref.Name, ref.Descriptor)
	if err != nil {
		if errors.Is(err, memory.ErrMethodNotFound) {
			return false, vm.NewJavaException(ClassNoSuchMethodError, ref.String(), err)
		}
		return false, err
	}
	if m := target.Method; m != nil {
		if m.IsAbstract() {
			return false, vm.NewJavaException(ClassAbstractMethodError, ref.String(), nil)
		}
		if m.IsStatic() != (kind == invokeStatic) {
			return false, vm.NewJavaException(ClassIncompatibleClassChangeError, ref.String(), nil)
		}
	}
	if target.Native() {
		return false, vm.callNative(t, f, target.ClassName, ref, md, args)
	}

	callee, err := t.PushFrame(target.ClassName, ref.Name, ref.Descriptor)
	if err != nil {
		return false, err
	}
	vm.metrics.FramesPushed.Inc()
	if err := callee.SetArgs(args); err != nil {
		return true, err
	}
	return true, nil
}

// callNative runs a binding and pushes its result onto f.
func (vm *VM) callNative(t *memory.Thread, f *memory.Frame, className string, ref *classfile.MemberRef, md *classfile.MethodDescriptor, args []memory.Word) error {
	if vm.natives == nil {
		return vm.methodError(ref.String(), ErrNativeNotFound)
	}
	vm.metrics.NativeCalls.WithLabelValues(className).Inc()
	ret, err := vm.natives.InvokeNative(vm.env(t), className, ref.Name, ref.Descriptor, args)
	if err != nil {
		return vm.nativeError(err, ClassNoSuchMethodError, className+"."+ref.Name+":"+ref.Descriptor, memory.ErrMethodNotFound)
	}
	if len(ret) != md.ReturnSlots() {
		return fmt.Errorf("native %s.%s%s returned %d words, want %d", className, ref.Name, ref.Descriptor, len(ret), md.ReturnSlots())
	}
	return f.PushN(ret...)
}
