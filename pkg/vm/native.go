package vm

import (
	"fmt"

	"github.com/daimatz/minijvm/pkg/memory"
)

// Env is what a native binding may touch while it runs: the heap, the
// registry and the calling thread.
type Env struct {
	VM     *VM
	Heap   *Heap
	Thread *memory.Thread
}

// Throw returns a Java exception of className for a native method to
// return as its error.
func (e *Env) Throw(className, format string, args ...any) error {
	return e.VM.NewJavaException(className, fmt.Sprintf(format, args...), nil)
}

// SuperclassOf exposes the registry's hierarchy so bindings can fall back
// to inherited methods.
func (e *Env) SuperclassOf(name string) string {
	return e.VM.Registry.SuperclassOf(name)
}

// NativeInvoker executes methods of library classes and methods without
// Code. An unbound method is reported with an error wrapping
// ErrNativeNotFound. args holds the receiver first for instance methods;
// the result has as many words as the descriptor's return type.
type NativeInvoker interface {
	InvokeNative(env *Env, className, methodName, descriptor string, args []memory.Word) ([]memory.Word, error)
}

// NativeFieldProvider serves static fields of library classes, such as
// java/lang/System.out.
type NativeFieldProvider interface {
	GetStatic(env *Env, className, fieldName, descriptor string) ([]memory.Word, error)
}
