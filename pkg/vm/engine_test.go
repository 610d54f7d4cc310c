package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

func newBuilder(name, super string) *classfile.Builder {
	return classfile.NewBuilder(name, super)
}

func TestStepUnderflowFaults(t *testing.T) {
	b := newBuilder(testClass, "java/lang/Object")
	b.Method(classfile.AccStatic, "run", "()V", codeAttr(1, 0, 0x57, 0xB1)) // pop, return
	vm := newTestVM(t, nil, b.Build())
	th, err := vm.NewThread("main", testClass, "run", "()V", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = vm.Step(th)
	if !errors.Is(err, memory.ErrOperandStackUnderflow) {
		t.Fatalf("got %v, want operand stack underflow", err)
	}
	var fe *FaultError
	if !errors.As(err, &fe) || fe.PC != 0 {
		t.Errorf("got %#v, want *FaultError at pc 0", err)
	}
	if th.Status() != memory.StatusFaulted {
		t.Errorf("status: got %s, want faulted", th.Status())
	}
	if err := vm.Step(th); !errors.Is(err, memory.ErrThreadTerminated) {
		t.Errorf("step after fault: got %v", err)
	}
}

func TestPutstaticOnUtf8Index(t *testing.T) {
	b := newBuilder(testClass, "java/lang/Object")
	b.Field(classfile.AccStatic, "x", "I")
	idx := b.Utf8("x")
	b.Method(classfile.AccStatic, "run", "()V", codeAttr(1, 0, 0x04, 0xB3, hi(idx), lo(idx), 0xB1))
	vm := newTestVM(t, nil, b.Build())
	th, err := vm.NewThread("main", testClass, "run", "()V", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := vm.Step(th); err != nil {
		t.Fatalf("iconst_1: %v", err)
	}
	err = vm.Step(th)
	if !errors.Is(err, ErrFieldResolution) {
		t.Fatalf("got %v, want field resolution error", err)
	}
	if !errors.Is(err, classfile.ErrTagMismatch) {
		t.Errorf("cause should name the tag mismatch: %v", err)
	}
	ws, err := vm.Registry.GetStatic(testClass, "x")
	if err != nil || len(ws) != 1 || ws[0] != 0 {
		t.Errorf("static x: got %v, %v; want unchanged 0", ws, err)
	}
}

// divClass builds Test.div(II)I:
//
//	0: iload_0  1: iload_1  2: idiv  3: ireturn
//	4: pop  5: iconst_1  6: ireturn
//	7: pop  8: iconst_2  9: ireturn
//	10: pop  11: iconst_3  12: ireturn
func divClass(entries func(b *classfile.Builder) []classfile.ExceptionTableEntry) *classfile.Builder {
	b := newBuilder(testClass, "java/lang/Object")
	c := codeAttr(2, 2, 0x1A, 0x1B, 0x6C, 0xAC, 0x57, 0x04, 0xAC, 0x57, 0x05, 0xAC, 0x57, 0x06, 0xAC)
	c.ExceptionTable = entries(b)
	b.Method(classfile.AccStatic, "div", "(II)I", c)
	return b
}

func runDiv(t *testing.T, b *classfile.Builder, x, y int32) (*Result, error) {
	t.Helper()
	vm := newTestVM(t, nil, b.Build())
	th, err := vm.NewThread("main", testClass, "div", "(II)I", intArgs(x, y))
	if err != nil {
		t.Fatal(err)
	}
	return vm.Run(context.Background(), th)
}

func TestExceptionDispatch(t *testing.T) {
	tests := []struct {
		name    string
		entries func(b *classfile.Builder) []classfile.ExceptionTableEntry
		want    int32
	}{
		{"ancestor type matches", func(b *classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{
				{StartPC: 0, EndPC: 4, HandlerPC: 10, CatchType: b.Class("java/lang/IllegalStateException")},
				{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: b.Class("java/lang/Exception")},
				{StartPC: 0, EndPC: 4, HandlerPC: 7},
			}
		}, 1},
		{"first match wins", func(b *classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{
				{StartPC: 0, EndPC: 4, HandlerPC: 7},
				{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: b.Class("java/lang/ArithmeticException")},
			}
		}, 2},
		{"exact type", func(b *classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{
				{StartPC: 2, EndPC: 3, HandlerPC: 10, CatchType: b.Class("java/lang/ArithmeticException")},
			}
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runDiv(t, divClass(tt.entries), 1, 0)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := int32(res.Value[0]); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("no exception", func(t *testing.T) {
		res, err := runDiv(t, divClass(func(*classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 4, HandlerPC: 7}}
		}), 6, 3)
		if err != nil || int32(res.Value[0]) != 2 {
			t.Errorf("got %+v, %v", res, err)
		}
	})

	t.Run("pc outside range", func(t *testing.T) {
		res, err := runDiv(t, divClass(func(*classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 2, HandlerPC: 7}}
		}), 1, 0)
		var uerr *UncaughtError
		if !errors.As(err, &uerr) {
			t.Fatalf("got %v, want *UncaughtError", err)
		}
		if res.Exception.Class != ClassArithmeticException {
			t.Errorf("exception: got %s", res.Exception.Class)
		}
	})

	t.Run("unrelated type", func(t *testing.T) {
		_, err := runDiv(t, divClass(func(b *classfile.Builder) []classfile.ExceptionTableEntry {
			return []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 4, HandlerPC: 7, CatchType: b.Class("java/lang/Error")}}
		}), 1, 0)
		if !errors.As(err, new(*UncaughtError)) {
			t.Errorf("got %v, want *UncaughtError", err)
		}
	})
}

func TestExceptionPropagatesToCaller(t *testing.T) {
	b := newBuilder(testClass, "java/lang/Object")
	boom := b.Methodref(testClass, "boom", "()I")
	b.Method(classfile.AccStatic, "boom", "()I", codeAttr(2, 0, 0x04, 0x03, 0x6C, 0xAC))
	c := codeAttr(2, 0, 0xB8, hi(boom), lo(boom), 0xAC, 0x57, 0x10, 42, 0xAC)
	c.ExceptionTable = []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 3, HandlerPC: 4}}

	_, res, err := runStatic(t, b, "()I", c, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := int32(res.Value[0]); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestUncaughtTrace(t *testing.T) {
	b := newBuilder(testClass, "java/lang/Object")
	boom := b.Methodref(testClass, "boom", "()I")
	b.Method(classfile.AccStatic, "boom", "()I", codeAttr(2, 0, 0x04, 0x03, 0x6C, 0xAC))

	vm, res, err := runStatic(t, b, "()I", codeAttr(2, 0, 0xB8, hi(boom), lo(boom), 0xAC), nil)
	var uerr *UncaughtError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *UncaughtError", err)
	}
	if len(uerr.Trace) != 2 || !strings.HasPrefix(uerr.Trace[0], "Test.boom()I") || !strings.HasPrefix(uerr.Trace[1], "Test.run()I") {
		t.Errorf("trace: %q", uerr.Trace)
	}
	if res.Status != memory.StatusUncaughtException || res.Exception != uerr.Exception {
		t.Errorf("result: %+v", res)
	}
	if got := testutil.ToFloat64(vm.Metrics().Exceptions.WithLabelValues(ClassArithmeticException)); got != 1 {
		t.Errorf("exceptions metric: got %v", got)
	}
}

func TestAthrow(t *testing.T) {
	ex := newBuilder("MyError", "java/lang/RuntimeException").Build()

	t.Run("caught by ancestor", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("MyError")
		c := codeAttr(2, 0, 0xBB, hi(cls), lo(cls), 0xBF, 0x57, 0x08, 0xAC)
		c.ExceptionTable = []classfile.ExceptionTableEntry{
			{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: b.Class("java/lang/RuntimeException")},
		}
		_, res, err := runStatic(t, b, "()I", c, nil, ex)
		if err != nil || int32(res.Value[0]) != 5 {
			t.Errorf("got %+v, %v", res, err)
		}
	})

	t.Run("handler sees the thrown reference", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("MyError")
		// new MyError, astore_0, aload_0, athrow, [handler] aload_0, if_acmpeq +5, iconst_0, ireturn, iconst_1, ireturn
		c := codeAttr(2, 1, 0xBB, hi(cls), lo(cls), 0x4B, 0x2A, 0xBF, 0x2A, 0xA5, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC)
		c.ExceptionTable = []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 6, HandlerPC: 6}}
		_, res, err := runStatic(t, b, "()I", c, nil, ex)
		if err != nil || int32(res.Value[0]) != 1 {
			t.Errorf("got %+v, %v", res, err)
		}
	})

	t.Run("null", func(t *testing.T) {
		_, res, err := runStatic(t, nil, "()V", codeAttr(1, 0, 0x01, 0xBF), nil)
		if !errors.Is(err, ErrNullReference) {
			t.Fatalf("got %v, want null reference", err)
		}
		if res.Exception.Class != ClassNullPointerException {
			t.Errorf("exception: %s", res.Exception.Class)
		}
	})
}

func TestClassInitialization(t *testing.T) {
	super := newBuilder("Super", "java/lang/Object")
	super.Field(classfile.AccStatic, "log", "I")
	logRef := super.Fieldref("Super", "log", "I")
	super.Method(classfile.AccStatic, "<clinit>", "()V", codeAttr(1, 0, 0x04, 0xB3, hi(logRef), lo(logRef), 0xB1))

	sub := newBuilder("Sub", "Super")
	sub.Field(classfile.AccStatic, "v", "I")
	subLog := sub.Fieldref("Super", "log", "I")
	vRef := sub.Fieldref("Sub", "v", "I")
	sub.Method(classfile.AccStatic, "<clinit>", "()V", codeAttr(2, 0,
		0xB2, hi(subLog), lo(subLog), 0x10, 10, 0x68, 0xB3, hi(vRef), lo(vRef), 0xB1))
	sub.Method(classfile.AccStatic, "get", "()I", codeAttr(1, 0, 0xB2, hi(vRef), lo(vRef), 0xAC))

	b := newBuilder(testClass, "java/lang/Object")
	get := b.Methodref("Sub", "get", "()I")
	vm, res, err := runStatic(t, b, "()I", codeAttr(1, 0, 0xB8, hi(get), lo(get), 0xAC), nil, super.Build(), sub.Build())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := int32(res.Value[0]); got != 10 {
		t.Errorf("got %d, want 10 (superclass initialized first)", got)
	}
	for _, c := range []string{"Super", "Sub", testClass} {
		if !vm.Registry.Initialized(c) {
			t.Errorf("%s not initialized", c)
		}
	}
	if got := testutil.ToFloat64(vm.Metrics().FramesPushed); got != 4 {
		t.Errorf("frames pushed: got %v, want 4", got)
	}
}

func TestFailedInitialization(t *testing.T) {
	bad := newBuilder("Bad", "java/lang/Object")
	bad.Field(classfile.AccStatic, "v", "I")
	vRef := bad.Fieldref("Bad", "v", "I")
	// iconst_1, putstatic v, iconst_1, iconst_0, idiv, putstatic v, return
	bad.Method(classfile.AccStatic, "<clinit>", "()V", codeAttr(2, 0,
		0x04, 0xB3, hi(vRef), lo(vRef), 0x04, 0x03, 0x6C, 0xB3, hi(vRef), lo(vRef), 0xB1))
	bad.Method(classfile.AccStatic, "get", "()I", codeAttr(1, 0, 0xB2, hi(vRef), lo(vRef), 0xAC))

	b := newBuilder(testClass, "java/lang/Object")
	get := b.Methodref("Bad", "get", "()I")
	wrapped := b.Class(ClassExceptionInInitializerError)
	// invokestatic get, ireturn; handler: astore_0, invokestatic get, ireturn
	c := codeAttr(1, 1, 0xB8, hi(get), lo(get), 0xAC, 0x4B, 0xB8, hi(get), lo(get), 0xAC)
	c.ExceptionTable = []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 3, HandlerPC: 4, CatchType: wrapped}}

	vm, res, err := runStatic(t, b, "()I", c, nil, bad.Build())
	if !errors.As(err, new(*UncaughtError)) {
		t.Fatalf("got %v, want *UncaughtError", err)
	}
	if res.Exception.Class != ClassNoClassDefFoundError || res.Exception.Message != "Could not initialize class Bad" {
		t.Errorf("second use: got %v", res.Exception)
	}
	if !vm.Registry.InitFailed("Bad") {
		t.Error("Bad not marked erroneous")
	}
	if got := testutil.ToFloat64(vm.Metrics().Exceptions.WithLabelValues(ClassArithmeticException)); got != 1 {
		t.Errorf("ArithmeticException count = %v, want 1", got)
	}
}

func TestConstantValueStatics(t *testing.T) {
	consts := newBuilder("Const", "java/lang/Object")
	consts.ConstantField(classfile.AccStatic|classfile.AccFinal, "ANSWER", "I", int32(42))
	consts.ConstantField(classfile.AccStatic|classfile.AccFinal, "BIG", "J", int64(1)<<40)
	consts.ConstantField(classfile.AccStatic|classfile.AccFinal, "GREETING", "Ljava/lang/String;", "hi")

	t.Run("int", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		f := b.Fieldref("Const", "ANSWER", "I")
		_, res, err := runStatic(t, b, "()I", codeAttr(1, 0, 0xB2, hi(f), lo(f), 0xAC), nil, consts.Build())
		if err != nil || int32(res.Value[0]) != 42 {
			t.Errorf("got %+v, %v", res, err)
		}
	})

	t.Run("long", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		f := b.Fieldref("Const", "BIG", "J")
		if got := runLongWith(t, b, []*classfile.ClassFile{consts.Build()}, 0xB2, hi(f), lo(f), 0xAD); got != 1<<40 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("string is interned", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		f := b.Fieldref("Const", "GREETING", "Ljava/lang/String;")
		s := b.String("hi")
		c := codeAttr(2, 0, 0xB2, hi(f), lo(f), 0x12, byte(s), 0xA5, 0x00, 0x05, 0x03, 0xAC, 0x04, 0xAC)
		_, res, err := runStatic(t, b, "()I", c, nil, consts.Build())
		if err != nil || int32(res.Value[0]) != 1 {
			t.Errorf("got %+v, %v", res, err)
		}
	})
}

func runLongWith(t *testing.T, b *classfile.Builder, extra []*classfile.ClassFile, bc ...byte) int64 {
	t.Helper()
	_, res, err := runStatic(t, b, "()J", codeAttr(4, 2, bc...), nil, extra...)
	if err != nil {
		t.Fatalf("execution error: %v", err)
	}
	return memory.JoinLong(res.Value[0], res.Value[1])
}

func pointClass() *classfile.ClassFile {
	b := newBuilder("Point", "java/lang/Object")
	b.Field(0, "x", "I")
	b.Field(0, "y", "J")
	return b.Build()
}

func TestFields(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("Point")
		x := b.Fieldref("Point", "x", "I")
		// new Point, dup, astore_0, bipush 7, putfield x, aload_0, getfield x, ireturn
		c := codeAttr(3, 1, 0xBB, hi(cls), lo(cls), 0x59, 0x4B, 0x10, 7, 0xB5, hi(x), lo(x), 0x2A, 0xB4, hi(x), lo(x), 0xAC)
		_, res, err := runStatic(t, b, "()I", c, nil, pointClass())
		if err != nil || int32(res.Value[0]) != 7 {
			t.Errorf("got %+v, %v", res, err)
		}
	})

	t.Run("long field defaults to zero", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("Point")
		y := b.Fieldref("Point", "y", "J")
		if got := runLongWith(t, b, []*classfile.ClassFile{pointClass()}, 0xBB, hi(cls), lo(cls), 0xB4, hi(y), lo(y), 0xAD); got != 0 {
			t.Errorf("got %d", got)
		}
	})

	resolutionErrors := map[string]func(b *classfile.Builder) []byte{
		"unknown field": func(b *classfile.Builder) []byte {
			cls, z := b.Class("Point"), b.Fieldref("Point", "z", "I")
			return []byte{0xBB, hi(cls), lo(cls), 0xB4, hi(z), lo(z), 0xAC}
		},
		"instance field read as static": func(b *classfile.Builder) []byte {
			x := b.Fieldref("Point", "x", "I")
			return []byte{0xB2, hi(x), lo(x), 0xAC}
		},
		"wrong descriptor": func(b *classfile.Builder) []byte {
			cls, x := b.Class("Point"), b.Fieldref("Point", "x", "J")
			return []byte{0xBB, hi(cls), lo(cls), 0xB4, hi(x), lo(x), 0xAD}
		},
	}
	for name, build := range resolutionErrors {
		t.Run(name, func(t *testing.T) {
			b := newBuilder(testClass, "java/lang/Object")
			_, res, err := runStatic(t, b, "()I", codeAttr(2, 0, build(b)...), nil, pointClass())
			if !errors.Is(err, ErrFieldResolution) {
				t.Fatalf("got %v, want field resolution error", err)
			}
			if res.Exception.Class != ClassNoSuchFieldError {
				t.Errorf("exception: %s", res.Exception.Class)
			}
		})
	}

	t.Run("null receiver is catchable", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		x := b.Fieldref("Point", "x", "I")
		c := codeAttr(1, 0, 0x01, 0xB4, hi(x), lo(x), 0xAC, 0x57, 0x02, 0xAC)
		c.ExceptionTable = []classfile.ExceptionTableEntry{
			{StartPC: 0, EndPC: 5, HandlerPC: 5, CatchType: b.Class("java/lang/NullPointerException")},
		}
		_, res, err := runStatic(t, b, "()I", c, nil, pointClass())
		if err != nil || int32(res.Value[0]) != -1 {
			t.Errorf("got %+v, %v", res, err)
		}
	})
}

// hierarchy returns Base with v()I = 1, Sub overriding v()I = 2, and
// Plain inheriting v from Base.
func hierarchy() []*classfile.ClassFile {
	base := newBuilder("Base", "java/lang/Object")
	base.Method(classfile.AccPublic, "v", "()I", codeAttr(1, 1, 0x04, 0xAC))
	sub := newBuilder("Sub", "Base")
	sub.Method(classfile.AccPublic, "v", "()I", codeAttr(1, 1, 0x05, 0xAC))
	plain := newBuilder("Plain", "Base")
	return []*classfile.ClassFile{base.Build(), sub.Build(), plain.Build()}
}

func TestInvokeVirtual(t *testing.T) {
	tests := []struct {
		class   string
		special bool
		want    int32
	}{
		{"Base", false, 1},
		{"Sub", false, 2},
		{"Plain", false, 1},
		{"Sub", true, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s special=%v", tt.class, tt.special), func(t *testing.T) {
			b := newBuilder(testClass, "java/lang/Object")
			cls := b.Class(tt.class)
			m := b.Methodref("Base", "v", "()I")
			op := byte(0xB6)
			if tt.special {
				op = 0xB7
			}
			_, res, err := runStatic(t, b, "()I", codeAttr(1, 0, 0xBB, hi(cls), lo(cls), op, hi(m), lo(m), 0xAC), nil, hierarchy()...)
			if err != nil || int32(res.Value[0]) != tt.want {
				t.Errorf("got %+v, %v; want %d", res, err, tt.want)
			}
		})
	}

	t.Run("null receiver", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		m := b.Methodref("Base", "v", "()I")
		_, _, err := runStatic(t, b, "()I", codeAttr(1, 0, 0x01, 0xB6, hi(m), lo(m), 0xAC), nil, hierarchy()...)
		if !errors.Is(err, ErrNullReference) {
			t.Errorf("got %v, want null reference", err)
		}
	})
}

func TestInvokeInterfaceDefault(t *testing.T) {
	iface := newBuilder("Shape", "java/lang/Object").Flags(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	iface.Method(classfile.AccPublic, "sides", "()I", codeAttr(1, 1, 0x10, 9, 0xAC))
	iface.Method(classfile.AccPublic|classfile.AccAbstract, "area", "()I", nil)
	impl := newBuilder("Square", "java/lang/Object").Interface("Shape")
	impl.Method(classfile.AccPublic, "area", "()I", codeAttr(1, 1, 0x07, 0xAC))

	for name, want := range map[string]int32{"sides": 9, "area": 4} {
		t.Run(name, func(t *testing.T) {
			b := newBuilder(testClass, "java/lang/Object")
			cls := b.Class("Square")
			m := b.InterfaceMethodref("Shape", name, "()I")
			c := codeAttr(1, 0, 0xBB, hi(cls), lo(cls), 0xB9, hi(m), lo(m), 1, 0, 0xAC)
			_, res, err := runStatic(t, b, "()I", c, nil, iface.Build(), impl.Build())
			if err != nil || int32(res.Value[0]) != want {
				t.Errorf("got %+v, %v; want %d", res, err, want)
			}
		})
	}
}

func TestInvokeStatic(t *testing.T) {
	t.Run("int args", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		add := b.Methodref(testClass, "add", "(II)I")
		b.Method(classfile.AccStatic, "add", "(II)I", codeAttr(2, 2, 0x1A, 0x1B, 0x60, 0xAC))
		if got := executeWith(t, b, []byte{0x05, 0x06, 0xB8, hi(add), lo(add), 0xAC}); got != 5 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("long args", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		add := b.Methodref(testClass, "add", "(JJ)J")
		b.Method(classfile.AccStatic, "add", "(JJ)J", codeAttr(4, 4, 0x1E, 0x20, 0x65, 0xAD))
		big := b.Long(100)
		// ldc2_w 100, lconst_1, invokestatic add, lreturn -> 100 - 1
		if got := runLongWith(t, b, nil, 0x14, hi(big), lo(big), 0x0A, 0xB8, hi(add), lo(add), 0xAD); got != 99 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("recursion", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		fact := b.Methodref(testClass, "fact", "(I)I")
		b.Method(classfile.AccStatic, "fact", "(I)I", codeAttr(3, 1,
			0x1A, 0x04, 0xA3, 0x00, 0x05, 0x04, 0xAC,
			0x1A, 0x1A, 0x04, 0x64, 0xB8, hi(fact), lo(fact), 0x68, 0xAC))
		if got := executeWith(t, b, []byte{0x10, 10, 0xB8, hi(fact), lo(fact), 0xAC}); got != 3628800 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("call stack overflow faults", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		rec := b.Methodref(testClass, "rec", "()V")
		b.Method(classfile.AccStatic, "rec", "()V", codeAttr(0, 0, 0xB8, hi(rec), lo(rec), 0xB1))
		vm := newTestVM(t, []Option{WithMaxFrameDepth(16)}, b.Build())
		th, err := vm.NewThread("main", testClass, "rec", "()V", nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = vm.Run(context.Background(), th)
		if !errors.Is(err, memory.ErrCallStackOverflow) {
			t.Fatalf("got %v, want call stack overflow", err)
		}
		if th.Status() != memory.StatusFaulted {
			t.Errorf("status: %s", th.Status())
		}
	})

	t.Run("missing method", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		m := b.Methodref(testClass, "nope", "()V")
		_, res, err := runStatic(t, b, "()V", codeAttr(0, 0, 0xB8, hi(m), lo(m), 0xB1), nil)
		if !errors.Is(err, memory.ErrMethodNotFound) || res.Exception.Class != ClassNoSuchMethodError {
			t.Errorf("got %v", err)
		}
	})
}

func TestArrays(t *testing.T) {
	t.Run("int array", func(t *testing.T) {
		// iconst_3, newarray int, astore_0, aload_0, iconst_1, bipush 9, iastore,
		// aload_0, iconst_1, iaload, aload_0, arraylength, iadd, ireturn
		code := []byte{0x06, 0xBC, 10, 0x4B, 0x2A, 0x04, 0x10, 9, 0x4F, 0x2A, 0x04, 0x2E, 0x2A, 0xBE, 0x60, 0xAC}
		if got := executeAndGetInt(t, code); got != 12 {
			t.Errorf("got %d, want 12", got)
		}
	})

	narrow := []struct {
		name  string
		atype byte
		store byte
		load  byte
		want  int32
	}{
		{"byte sign-extends", 8, 0x54, 0x33, -1},
		{"char zero-extends", 5, 0x55, 0x34, 65535},
		{"short sign-extends", 9, 0x56, 0x35, -1},
		{"boolean keeps low bit", 4, 0x54, 0x33, 1},
	}
	for _, tt := range narrow {
		t.Run(tt.name, func(t *testing.T) {
			// iconst_1, newarray, astore_0, aload_0, iconst_0, sipush 0xFFFF... store, aload_0, iconst_0, load, ireturn
			code := []byte{0x04, 0xBC, tt.atype, 0x4B, 0x2A, 0x03, 0x11, 0xFF, 0xFF, tt.store, 0x2A, 0x03, tt.load, 0xAC}
			if got := executeAndGetInt(t, code); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("long array", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		big := b.Long(-1 << 40)
		code := []byte{0x05, 0xBC, 11, 0x4B, 0x2A, 0x04, 0x14, hi(big), lo(big), 0x50, 0x2A, 0x04, 0x2F, 0xAD}
		_, res, err := runStatic(t, b, "()J", codeAttr(5, 1, code...), nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := memory.JoinLong(res.Value[0], res.Value[1]); got != -1<<40 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("multianewarray", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("[[I")
		// iconst_2, iconst_3, multianewarray [[I 2, iconst_1, aaload, arraylength, ireturn
		if got := executeWith(t, b, []byte{0x05, 0x06, 0xC5, hi(cls), lo(cls), 2, 0x04, 0x32, 0xBE, 0xAC}); got != 3 {
			t.Errorf("got %d", got)
		}
	})

	thrown := []struct {
		name string
		code []byte
		want string
	}{
		{"index past end", []byte{0x05, 0xBC, 10, 0x05, 0x2E, 0xAC}, ClassArrayIndexOutOfBounds},
		{"negative index", []byte{0x05, 0xBC, 10, 0x02, 0x2E, 0xAC}, ClassArrayIndexOutOfBounds},
		{"negative size", []byte{0x02, 0xBC, 10, 0xAC}, ClassNegativeArraySizeException},
		{"null array load", []byte{0x01, 0x03, 0x2E, 0xAC}, ClassNullPointerException},
		{"null arraylength", []byte{0x01, 0xBE, 0xAC}, ClassNullPointerException},
	}
	for _, tt := range thrown {
		t.Run(tt.name, func(t *testing.T) {
			_, res, err := runStatic(t, nil, "()I", codeAttr(4, 0, tt.code...), nil)
			if !errors.As(err, new(*UncaughtError)) {
				t.Fatalf("got %v, want *UncaughtError", err)
			}
			if res.Exception.Class != tt.want {
				t.Errorf("got %s, want %s", res.Exception.Class, tt.want)
			}
		})
	}

	t.Run("aastore checks the component type", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		sub, base := b.Class("Sub"), b.Class("Base")
		// iconst_1, anewarray Sub, iconst_0, new Base, aastore, iconst_0, ireturn
		c := codeAttr(4, 0, 0x04, 0xBD, hi(sub), lo(sub), 0x03, 0xBB, hi(base), lo(base), 0x53, 0x03, 0xAC)
		_, res, _ := runStatic(t, b, "()I", c, nil, hierarchy()...)
		if res.Exception == nil || res.Exception.Class != ClassArrayStoreException {
			t.Errorf("got %+v", res)
		}
	})
}

func TestArrayAllocationLimit(t *testing.T) {
	t.Run("huge newarray is catchable", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		vmError := b.Class("java/lang/Error")
		// iload_0, newarray long, arraylength, ireturn; handler: pop, iconst_m1, ireturn
		c := codeAttr(2, 1, 0x1A, 0xBC, 11, 0xBE, 0xAC, 0x57, 0x02, 0xAC)
		c.ExceptionTable = []classfile.ExceptionTableEntry{{StartPC: 0, EndPC: 5, HandlerPC: 5, CatchType: vmError}}
		vm, res, err := runStatic(t, b, "(I)I", c, intArgs(math.MaxInt32))
		if err != nil {
			t.Fatal(err)
		}
		if got := int32(res.Value[0]); got != -1 {
			t.Errorf("got %d, want the handler's -1", got)
		}
		if used := vm.Heap.Used(); used != 0 {
			t.Errorf("heap used %d elements after a refused allocation", used)
		}
	})

	t.Run("multianewarray counts every level", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls := b.Class("[[J")
		// sipush 0x7FFF, sipush 0x7FFF, multianewarray [[J 2, areturn
		c := codeAttr(2, 0, 0x11, 0x7F, 0xFF, 0x11, 0x7F, 0xFF, 0xC5, hi(cls), lo(cls), 2, 0xB0)
		_, res, err := runStatic(t, b, "()Ljava/lang/Object;", c, nil)
		if !errors.As(err, new(*UncaughtError)) {
			t.Fatalf("got %v, want *UncaughtError", err)
		}
		if res.Exception.Class != ClassOutOfMemoryError || !errors.Is(res.Exception, ErrHeapExhausted) {
			t.Errorf("got %+v", res.Exception)
		}
	})

	t.Run("configured limit", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		// bipush 8, newarray int, pop, iload_0, newarray int, arraylength, ireturn
		b.Method(classfile.AccPublic|classfile.AccStatic, "run", "(I)I",
			codeAttr(2, 1, 0x10, 8, 0xBC, 10, 0x57, 0x1A, 0xBC, 10, 0xBE, 0xAC))
		for _, tt := range []struct {
			n       int32
			wantOOM bool
		}{{2, false}, {3, true}} {
			vm := newTestVM(t, []Option{WithMaxHeap(10)}, b.Build())
			th, err := vm.NewThread("test", testClass, "run", "(I)I", intArgs(tt.n))
			if err != nil {
				t.Fatal(err)
			}
			res, err := vm.Run(context.Background(), th)
			if gotOOM := res != nil && res.Exception != nil && res.Exception.Class == ClassOutOfMemoryError; gotOOM != tt.wantOOM {
				t.Errorf("n=%d: result %+v, %v", tt.n, res, err)
			}
		}
	})
}

func TestMultiArrayElems(t *testing.T) {
	tests := []struct {
		dims []int
		want int64
	}{
		{[]int{5}, 5},
		{[]int{2, 3}, 8},
		{[]int{0, 1 << 30}, 0},
		{[]int{1 << 31, 1 << 31, 1 << 31}, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := MultiArrayElems(tt.dims); got != tt.want {
			t.Errorf("MultiArrayElems(%v) = %d, want %d", tt.dims, got, tt.want)
		}
	}
}

func TestCheckcastInstanceof(t *testing.T) {
	tests := []struct {
		name   string
		op     byte
		class  string
		target string
		want   int32
	}{
		{"instanceof subclass", 0xC1, "Sub", "Base", 1},
		{"instanceof superclass", 0xC1, "Base", "Sub", 0},
		{"instanceof Object", 0xC1, "Plain", "java/lang/Object", 1},
		{"checkcast up", 0xC0, "Sub", "Base", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(testClass, "java/lang/Object")
			cls, target := b.Class(tt.class), b.Class(tt.target)
			bc := []byte{0xBB, hi(cls), lo(cls), tt.op, hi(target), lo(target)}
			if tt.op == 0xC0 {
				bc = append(bc, 0x57, 0x10, 7)
			}
			bc = append(bc, 0xAC)
			_, res, err := runStatic(t, b, "()I", codeAttr(2, 0, bc...), nil, hierarchy()...)
			if err != nil || int32(res.Value[0]) != tt.want {
				t.Errorf("got %+v, %v; want %d", res, err, tt.want)
			}
		})
	}

	t.Run("checkcast failure", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		cls, target := b.Class("Base"), b.Class("Sub")
		_, res, _ := runStatic(t, b, "()V", codeAttr(1, 0, 0xBB, hi(cls), lo(cls), 0xC0, hi(target), lo(target), 0xB1), nil, hierarchy()...)
		if res.Exception == nil || res.Exception.Class != ClassClassCastException {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("null", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		target := b.Class("Base")
		// aconst_null, checkcast Base, instanceof Base, ireturn
		if got := executeWith(t, b, []byte{0x01, 0xC0, hi(target), lo(target), 0xC1, hi(target), lo(target), 0xAC}); got != 0 {
			t.Errorf("got %d", got)
		}
	})

	t.Run("arrays", func(t *testing.T) {
		b := newBuilder(testClass, "java/lang/Object")
		obj, ints := b.Class("java/lang/Object"), b.Class("[I")
		// iconst_1, newarray int, dup, instanceof Object, swap, instanceof [I, iadd, ireturn
		code := []byte{0x04, 0xBC, 10, 0x59, 0xC1, hi(obj), lo(obj), 0x5F, 0xC1, hi(ints), lo(ints), 0x60, 0xAC}
		if got := executeWith(t, b, code); got != 2 {
			t.Errorf("got %d", got)
		}
	})
}

func TestMonitors(t *testing.T) {
	b := newBuilder(testClass, "java/lang/Object")
	cls := b.Class("java/lang/Object")
	if got := executeWith(t, b, []byte{0xBB, hi(cls), lo(cls), 0x59, 0xC2, 0xC3, 0x04, 0xAC}); got != 1 {
		t.Errorf("got %d", got)
	}
	_, res, _ := runStatic(t, nil, "()V", codeAttr(1, 0, 0x01, 0xC2, 0xB1), nil)
	if res.Exception == nil || res.Exception.Class != ClassNullPointerException {
		t.Errorf("monitorenter null: got %+v", res)
	}
}
