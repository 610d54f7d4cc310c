package vm

import (
	"fmt"

	"github.com/daimatz/minijvm/pkg/memory"
)

// JavaException is a thrown value in flight. Only errors of this type take
// part in exception table dispatch; Cause lets callers match the engine
// condition that raised it with errors.Is.
type JavaException struct {
	Ref     Ref
	Class   string
	Message string
	Cause   error
}

func (e *JavaException) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func (e *JavaException) Unwrap() error { return e.Cause }

// Throwable classes the engine raises itself.
const (
	ClassArithmeticException          = "java/lang/ArithmeticException"
	ClassNullPointerException         = "java/lang/NullPointerException"
	ClassArrayIndexOutOfBounds        = "java/lang/ArrayIndexOutOfBoundsException"
	ClassNegativeArraySizeException   = "java/lang/NegativeArraySizeException"
	ClassClassCastException           = "java/lang/ClassCastException"
	ClassArrayStoreException          = "java/lang/ArrayStoreException"
	ClassNoSuchFieldError             = "java/lang/NoSuchFieldError"
	ClassNoSuchMethodError            = "java/lang/NoSuchMethodError"
	ClassAbstractMethodError          = "java/lang/AbstractMethodError"
	ClassIncompatibleClassChangeError = "java/lang/IncompatibleClassChangeError"
	ClassInstantiationError           = "java/lang/InstantiationError"
	ClassNoClassDefFoundError         = "java/lang/NoClassDefFoundError"
	ClassExceptionInInitializerError  = "java/lang/ExceptionInInitializerError"
	ClassOutOfMemoryError             = "java/lang/OutOfMemoryError"
)

// MessageField holds the detail message of throwables created by the engine
// or by native constructors.
const MessageField = "detailMessage"

// NewJavaException allocates a throwable of className on the heap.
func (vm *VM) NewJavaException(className, message string, cause error) *JavaException {
	ref := vm.Heap.NewObject(className)
	if message != "" {
		obj, _ := vm.Heap.Object(ref)
		obj.SetField(MessageField, []memory.Word{vm.Heap.Intern(message)})
	}
	return &JavaException{Ref: ref, Class: className, Message: message, Cause: cause}
}

func (vm *VM) nullPointer(format string, args ...any) *JavaException {
	msg := fmt.Sprintf(format, args...)
	return vm.NewJavaException(ClassNullPointerException, msg, fmt.Errorf("%w: %s", ErrNullReference, msg))
}

// exceptionFromRef wraps an object thrown by athrow.
func (vm *VM) exceptionFromRef(ref Ref) (*JavaException, error) {
	obj, err := vm.Heap.Object(ref)
	if err != nil {
		return nil, err
	}
	ex := &JavaException{Ref: ref, Class: obj.Class}
	if msg := obj.Field(MessageField, "Ljava/lang/String;"); len(msg) == 1 && msg[0] != Null {
		ex.Message, _ = vm.Heap.String(msg[0])
	}
	return ex, nil
}

// findHandler searches f's exception table in declaration order for the
// first entry covering f.PC whose catch type is 0 or a supertype of class.
func (vm *VM) findHandler(f *memory.Frame, class string) (int, bool, error) {
	for _, e := range f.Method.Code.ExceptionTable {
		if !e.Covers(f.PC) {
			continue
		}
		if e.CatchType == 0 {
			return int(e.HandlerPC), true, nil
		}
		catchName, err := f.Class.ConstantPool.ClassName(e.CatchType)
		if err != nil {
			return 0, false, fmt.Errorf("resolving catch type: %w", err)
		}
		if vm.Registry.IsAssignable(class, catchName) {
			return int(e.HandlerPC), true, nil
		}
	}
	return 0, false, nil
}

// initializerFailed marks class erroneous after ex escaped its <clinit>.
// Exceptions that are not Errors are wrapped in
// ExceptionInInitializerError.
func (vm *VM) initializerFailed(class string, ex *JavaException) *JavaException {
	vm.Registry.failInit(class)
	vm.log.Debugf("initialization of %s failed: %s", class, ex)
	if vm.Registry.IsAssignable(ex.Class, "java/lang/Error") {
		return ex
	}
	return vm.NewJavaException(ClassExceptionInInitializerError, "", ex)
}

// dispatch unwinds t until a handler for ex is found. When the call stack
// empties the thread terminates with an *UncaughtError.
func (vm *VM) dispatch(t *memory.Thread, ex *JavaException) error {
	vm.metrics.Exceptions.WithLabelValues(ex.Class).Inc()
	trace := t.StackTrace()

	for {
		f, err := t.CurrentFrame()
		if err != nil {
			break
		}
		handlerPC, found, err := vm.findHandler(f, ex.Class)
		if err != nil {
			return vm.fault(t, f, 0, err)
		}
		if found {
			if handlerPC >= len(f.Code()) {
				return vm.fault(t, f, 0, fmt.Errorf("%w: handler pc %d", ErrPCOutOfRange, handlerPC))
			}
			f.Clear()
			if err := f.Push(ex.Ref); err != nil {
				return vm.fault(t, f, 0, err)
			}
			f.PC = handlerPC
			vm.log.Debugf("%s caught in %s", ex.Class, f)
			return nil
		}
		if t.Depth() == 1 {
			break
		}
		if _, err := t.PopFrame(); err != nil {
			return vm.fault(t, nil, 0, err)
		}
		if f.Initializer {
			ex = vm.initializerFailed(f.ClassName, ex)
		}
	}

	uerr := &UncaughtError{Thread: t.Name, Exception: ex, Trace: trace}
	vm.terminate(t, memory.StatusUncaughtException, nil, uerr)
	return uerr
}

// builtinSupers is the superclass table for library throwables and value
// classes that have no class file on the class path.
var builtinSupers = map[string]string{
	"java/lang/Throwable":                       "java/lang/Object",
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	"java/lang/ArithmeticException":             "java/lang/RuntimeException",
	"java/lang/NullPointerException":            "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"java/lang/StringIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/NegativeArraySizeException":      "java/lang/RuntimeException",
	"java/lang/ClassCastException":              "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":             "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":        "java/lang/RuntimeException",
	"java/lang/NumberFormatException":           "java/lang/IllegalArgumentException",
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":   "java/lang/RuntimeException",
	"java/lang/LinkageError":                    "java/lang/Error",
	"java/lang/NoClassDefFoundError":            "java/lang/LinkageError",
	"java/lang/IncompatibleClassChangeError":    "java/lang/LinkageError",
	"java/lang/NoSuchFieldError":                "java/lang/IncompatibleClassChangeError",
	"java/lang/NoSuchMethodError":               "java/lang/IncompatibleClassChangeError",
	"java/lang/AbstractMethodError":             "java/lang/IncompatibleClassChangeError",
	"java/lang/InstantiationError":              "java/lang/IncompatibleClassChangeError",
	"java/lang/VirtualMachineError":             "java/lang/Error",
	"java/lang/StackOverflowError":              "java/lang/VirtualMachineError",
	"java/lang/OutOfMemoryError":                "java/lang/VirtualMachineError",
	"java/lang/ExceptionInInitializerError":     "java/lang/LinkageError",
	"java/lang/Integer":                         "java/lang/Number",
	"java/lang/Long":                            "java/lang/Number",
	"java/lang/Number":                          "java/lang/Object",
}
