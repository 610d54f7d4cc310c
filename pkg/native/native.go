// Package native binds the small part of the Java class library that
// interpreted programs reach: printing, strings, boxing, a few math and
// collection helpers, and the Object and Throwable constructors.
package native

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

var log = commonlog.GetLogger("minijvm.native")

// Method implements one library method. args holds the receiver first for
// instance methods.
type Method func(rt *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error)

// builtins is filled by the init functions of this package.
var builtins = map[string]Method{}

func key(className, name, descriptor string) string {
	return className + "." + name + descriptor
}

func builtin(className, name, descriptor string, m Method) {
	k := key(className, name, descriptor)
	if _, dup := builtins[k]; dup {
		panic("native: duplicate binding " + k)
	}
	builtins[k] = m
}

// Runtime implements vm.NativeInvoker and vm.NativeFieldProvider.
type Runtime struct {
	Stdout io.Writer
	Stderr io.Writer

	methods map[string]Method

	mu        sync.Mutex
	canonical map[*vm.Heap]map[string]vm.Ref
}

// New returns a Runtime printing to stdout and stderr. Nil writers default
// to the process streams.
func New(stdout, stderr io.Writer) *Runtime {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	rt := &Runtime{
		Stdout:    stdout,
		Stderr:    stderr,
		methods:   make(map[string]Method, len(builtins)),
		canonical: make(map[*vm.Heap]map[string]vm.Ref),
	}
	for k, m := range builtins {
		rt.methods[k] = m
	}
	return rt
}

// Register binds or replaces a method.
func (rt *Runtime) Register(className, name, descriptor string, m Method) {
	rt.methods[key(className, name, descriptor)] = m
}

// Find looks a method up on className and then on its superclasses, so
// that a binding on java/lang/Throwable serves every exception class.
func (rt *Runtime) Find(env *vm.Env, className, name, descriptor string) (Method, bool) {
	for c := className; c != ""; c = env.SuperclassOf(c) {
		if m, ok := rt.methods[key(c, name, descriptor)]; ok {
			return m, true
		}
	}
	return nil, false
}

func (rt *Runtime) InvokeNative(env *vm.Env, className, methodName, descriptor string, args []memory.Word) ([]memory.Word, error) {
	m, ok := rt.Find(env, className, methodName, descriptor)
	if !ok {
		log.Debugf("no binding for %s.%s%s", className, methodName, descriptor)
		return nil, fmt.Errorf("%w: %s.%s%s", vm.ErrNativeNotFound, className, methodName, descriptor)
	}
	return m(rt, env, args)
}

func (rt *Runtime) GetStatic(env *vm.Env, className, fieldName, descriptor string) ([]memory.Word, error) {
	switch key(className, fieldName, descriptor) {
	case key("java/lang/System", "out", "Ljava/io/PrintStream;"):
		return refResult(rt.stream(env.Heap, "out", rt.Stdout)), nil
	case key("java/lang/System", "err", "Ljava/io/PrintStream;"):
		return refResult(rt.stream(env.Heap, "err", rt.Stderr)), nil
	case key("java/lang/Integer", "MAX_VALUE", "I"):
		return intResult(1<<31 - 1), nil
	case key("java/lang/Integer", "MIN_VALUE", "I"):
		return intResult(-1 << 31), nil
	case key("java/lang/Long", "MAX_VALUE", "J"):
		return longResult(1<<63 - 1), nil
	case key("java/lang/Long", "MIN_VALUE", "J"):
		return longResult(-1 << 63), nil
	}
	return nil, fmt.Errorf("%w: %s.%s:%s", vm.ErrNativeNotFound, className, fieldName, descriptor)
}

// shared returns the object allocated under k in heap h, allocating it
// with alloc on first use. System.out and boxed small integers live here.
func (rt *Runtime) shared(h *vm.Heap, k string, alloc func() vm.Ref) vm.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	byKey, ok := rt.canonical[h]
	if !ok {
		byKey = make(map[string]vm.Ref)
		rt.canonical[h] = byKey
	}
	ref, ok := byKey[k]
	if !ok {
		ref = alloc()
		byKey[k] = ref
	}
	return ref
}

func (rt *Runtime) stream(h *vm.Heap, name string, w io.Writer) vm.Ref {
	return rt.shared(h, "System."+name, func() vm.Ref {
		return h.NewNative(classPrintStream, &PrintStream{Writer: w})
	})
}
