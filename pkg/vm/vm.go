// Package vm interprets class file bytecode on top of the memory unit.
// A VM owns a heap, a class registry and a table of threads; each thread
// is advanced one instruction at a time by Step, or to completion by Run.
package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

var log = commonlog.GetLogger("minijvm.vm")

// DefaultMaxFrameDepth is the maximum number of nested method calls.
const DefaultMaxFrameDepth = memory.DefaultMaxDepth

// MainDescriptor is the descriptor Execute invokes.
const MainDescriptor = "([Ljava/lang/String;)V"

// VM is the virtual machine that executes Java bytecode.
type VM struct {
	Registry *Registry
	Heap     *Heap

	natives       NativeInvoker
	staticFields  NativeFieldProvider
	maxFrameDepth int
	maxHeap       int64
	registerer    prometheus.Registerer
	metrics       *Metrics
	log           commonlog.Logger
	trace         bool
	threads       cmap.ConcurrentMap
}

type Option func(*VM)

// WithNatives binds library methods. When n also implements
// NativeFieldProvider it serves library statics too, unless
// WithStaticFields says otherwise.
func WithNatives(n NativeInvoker) Option {
	return func(vm *VM) { vm.natives = n }
}

func WithStaticFields(p NativeFieldProvider) Option {
	return func(vm *VM) { vm.staticFields = p }
}

func WithMaxFrameDepth(n int) Option {
	return func(vm *VM) { vm.maxFrameDepth = n }
}

// WithMaxHeap limits the array elements bytecode may allocate. Past the
// limit newarray, anewarray and multianewarray throw
// java/lang/OutOfMemoryError. n <= 0 removes the limit.
func WithMaxHeap(n int64) Option {
	return func(vm *VM) { vm.maxHeap = n }
}

// WithRegisterer registers the VM's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(vm *VM) { vm.registerer = reg }
}

func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// NewVM creates a VM that resolves classes through registry.
func NewVM(registry *Registry, opts ...Option) *VM {
	vm := &VM{
		Registry:      registry,
		Heap:          NewHeap(),
		maxFrameDepth: DefaultMaxFrameDepth,
		maxHeap:       DefaultMaxHeap,
		log:           log,
		threads:       cmap.New(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.staticFields == nil {
		if p, ok := vm.natives.(NativeFieldProvider); ok {
			vm.staticFields = p
		}
	}
	vm.Heap.SetLimit(vm.maxHeap)
	vm.metrics = NewMetrics(vm.registerer)
	return vm
}

func (vm *VM) Metrics() *Metrics { return vm.metrics }

// Result is the outcome of a finished thread. Value holds the words
// returned by the outermost frame; Exception is set for an uncaught throw.
type Result struct {
	Status    memory.Status
	Value     []memory.Word
	Exception *JavaException
}

// NewThread creates a thread whose first frame invokes
// className.methodName with args in its leading locals, and registers it
// in the VM's thread table. If the class needs initialization its
// initializers run before the method's first instruction.
func (vm *VM) NewThread(name, className, methodName, descriptor string, args []memory.Word) (*memory.Thread, error) {
	t := memory.NewThread(name, vm.Registry, vm.maxFrameDepth)
	f, err := t.PushFrame(className, methodName, descriptor)
	if err != nil {
		return nil, err
	}
	if err := f.SetArgs(args); err != nil {
		return nil, err
	}
	vm.metrics.FramesPushed.Inc()
	if _, err := vm.ensureInitialized(t, className); err != nil {
		return nil, err
	}
	vm.threads.Set(t.ID, t)
	vm.log.Debugf("thread %s (%s) starts at %s", t.Name, t.ID, f)
	return t, nil
}

// RestoreThread rebuilds a thread from a snapshot and registers it.
func (vm *VM) RestoreThread(s *memory.ThreadSnapshot) (*memory.Thread, error) {
	t, err := memory.RestoreThread(s, vm.Registry, vm.maxFrameDepth)
	if err != nil {
		return nil, err
	}
	vm.threads.Set(t.ID, t)
	return t, nil
}

// Thread returns a registered thread by ID.
func (vm *VM) Thread(id string) (*memory.Thread, bool) {
	v, ok := vm.threads.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*memory.Thread), true
}

// Threads returns every registered thread.
func (vm *VM) Threads() []*memory.Thread {
	items := vm.threads.Items()
	ts := make([]*memory.Thread, 0, len(items))
	for _, v := range items {
		ts = append(ts, v.(*memory.Thread))
	}
	return ts
}

// Reap unregisters terminated threads and returns how many were removed.
func (vm *VM) Reap() int {
	n := 0
	for id, v := range vm.threads.Items() {
		if v.(*memory.Thread).Status().Terminal() {
			vm.threads.Remove(id)
			n++
		}
	}
	return n
}

// Execute runs className.main with args as a String[].
func (vm *VM) Execute(ctx context.Context, className string, args []string) (*Result, error) {
	arr := vm.Heap.NewArray("Ljava/lang/String;", len(args))
	a, _ := vm.Heap.Array(arr)
	for i, s := range args {
		a.Elems[i] = uint64(vm.Heap.NewString(s))
	}
	t, err := vm.NewThread("main", className, "main", MainDescriptor, []memory.Word{arr})
	if err != nil {
		return nil, err
	}
	return vm.Run(ctx, t)
}

// Run steps t until it terminates or ctx is done. Cancellation is observed
// between instructions and leaves the thread resumable. The returned error
// is the thread's terminal error: nil, *UncaughtError or *FaultError.
func (vm *VM) Run(ctx context.Context, t *memory.Thread) (*Result, error) {
	done := ctx.Done()
	for !t.Status().Terminal() {
		select {
		case <-done:
			return nil, ctx.Err()
		default:
		}
		if err := vm.Step(t); err != nil && !t.Status().Terminal() {
			return nil, err
		}
	}
	res := &Result{Status: t.Status(), Value: t.Result()}
	var uerr *UncaughtError
	if errors.As(t.Err(), &uerr) {
		res.Exception = uerr.Exception
	}
	return res, t.Err()
}

// Step executes the instruction at the current frame's pc.
func (vm *VM) Step(t *memory.Thread) error {
	if t.Status().Terminal() {
		return fmt.Errorf("%w: %s", memory.ErrThreadTerminated, t.Status())
	}
	f, err := t.CurrentFrame()
	if err != nil {
		return vm.fault(t, nil, 0, err)
	}
	code := f.Code()
	if f.PC < 0 || f.PC >= len(code) {
		return vm.fault(t, f, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrPCOutOfRange, f.PC, len(code)))
	}
	ins, err := bytecode.Decode(code, f.PC)
	if err != nil {
		return vm.fault(t, f, bytecode.Opcode(code[f.PC]), err)
	}
	h := handlers[ins.Op]
	if h == nil {
		return vm.fault(t, f, ins.Op, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, ins.Op))
	}
	if vm.trace {
		vm.log.Debugf("[%s] %s %s stack=%v", t.Name, f, ins.Op, f.Operands())
	}
	vm.metrics.Instructions.Inc()

	jumped, err := h(vm, t, f, ins)
	if err != nil {
		var jex *JavaException
		if errors.As(err, &jex) {
			return vm.dispatch(t, jex)
		}
		return vm.fault(t, f, ins.Op, err)
	}
	if !jumped {
		f.PC += ins.Len
		if f.PC >= len(code) {
			return vm.fault(t, f, ins.Op, fmt.Errorf("%w: fell off the end of the code", ErrPCOutOfRange))
		}
	}
	return nil
}

func (vm *VM) terminate(t *memory.Thread, status memory.Status, result []memory.Word, err error) {
	if terr := t.Terminate(status, result, err); terr != nil {
		vm.log.Warningf("%s", terr)
		return
	}
	vm.metrics.Threads.WithLabelValues(status.String()).Inc()
	vm.log.Debugf("thread %s finished: %s", t.Name, status)
}

// fault terminates t for an integrity failure and returns the *FaultError.
func (vm *VM) fault(t *memory.Thread, f *memory.Frame, op bytecode.Opcode, err error) error {
	fe := &FaultError{Thread: t.Name, Err: err}
	if f != nil {
		fe.Location = f.ClassName + "." + f.Method.Name + f.Method.Descriptor
		fe.PC = f.PC
		fe.Op = op
	}
	vm.log.Errorf("%s", fe)
	vm.terminate(t, memory.StatusFaulted, nil, fe)
	return fe
}

// ensureInitialized starts initialization of className and its
// uninitialized superclasses. It reports true when initializer frames were
// pushed, in which case the current instruction must run again once they
// return. A class whose initializer threw earlier raises
// NoClassDefFoundError.
func (vm *VM) ensureInitialized(t *memory.Thread, className string) (bool, error) {
	var chain []string
	for c := className; c != ""; c = vm.Registry.SuperclassOf(c) {
		if vm.Registry.InitFailed(c) {
			return false, vm.NewJavaException(ClassNoClassDefFoundError,
				"Could not initialize class "+strings.ReplaceAll(className, "/", "."), nil)
		}
		if !vm.Registry.beginInit(c) {
			break
		}
		chain = append(chain, c)
	}

	pushed := false
	for _, c := range chain {
		cf, err := vm.Registry.LookupClass(c)
		if err != nil {
			return pushed, err
		}
		if err := vm.initStatics(c, cf); err != nil {
			return pushed, err
		}
		clinit := cf.FindMethod("<clinit>", "()V")
		if clinit == nil || clinit.Code == nil {
			continue
		}
		f, err := t.PushFrame(c, "<clinit>", "()V")
		if err != nil {
			return pushed, err
		}
		f.Initializer = true
		vm.metrics.FramesPushed.Inc()
		pushed = true
		vm.log.Debugf("initializing %s", c)
	}
	return pushed, nil
}

// initStatics stores ConstantValue literals into static storage.
func (vm *VM) initStatics(name string, cf *classfile.ClassFile) error {
	for i := range cf.Fields {
		fi := &cf.Fields[i]
		if !fi.IsStatic() || fi.ConstantValue == nil {
			continue
		}
		var ws []memory.Word
		lit := fi.ConstantValue
		switch lit.Kind {
		case classfile.LiteralInt:
			ws = []memory.Word{memory.Word(uint32(lit.Int))}
		case classfile.LiteralFloat:
			ws = []memory.Word{floatWord(lit.Float)}
		case classfile.LiteralLong:
			hi, lo := memory.SplitLong(lit.Long)
			ws = []memory.Word{hi, lo}
		case classfile.LiteralDouble:
			hi, lo := doubleWords(lit.Double)
			ws = []memory.Word{hi, lo}
		case classfile.LiteralString:
			ws = []memory.Word{vm.Heap.Intern(lit.String)}
		}
		if err := vm.Registry.SetStatic(name, fi.Name, ws); err != nil {
			return err
		}
	}
	return nil
}
