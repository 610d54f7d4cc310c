package native_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/native"
	"github.com/daimatz/minijvm/pkg/vm"
)

func hi(idx uint16) byte { return byte(idx >> 8) }
func lo(idx uint16) byte { return byte(idx) }

// program collects the constant pool indices a main method needs.
type program struct {
	*classfile.Builder
	out     uint16
	println uint16
}

func newProgram(name string) *program {
	b := classfile.NewBuilder(name, "java/lang/Object")
	return &program{
		Builder: b,
		out:     b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;"),
		println: b.Methodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V"),
	}
}

func (p *program) main(maxStack, maxLocals uint16, code ...byte) *classfile.ClassFile {
	p.Method(classfile.AccPublic|classfile.AccStatic, "main", vm.MainDescriptor,
		&classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code})
	return p.Build()
}

func run(t *testing.T, classes ...*classfile.ClassFile) (string, *vm.Result, error) {
	t.Helper()
	reg := vm.NewRegistry(nil)
	for _, cf := range classes {
		if err := reg.Define(cf); err != nil {
			t.Fatal(err)
		}
	}
	var out bytes.Buffer
	machine := vm.NewVM(reg, vm.WithNatives(native.New(&out, &out)))
	name, _ := classes[0].ClassName()
	res, err := machine.Execute(context.Background(), name, nil)
	return out.String(), res, err
}

func TestHelloWorld(t *testing.T) {
	p := newProgram("Hello")
	s := p.String("Hello, World!")
	cf := p.main(2, 1,
		0xB2, hi(p.out), lo(p.out), // getstatic System.out
		0x12, byte(s), // ldc
		0xB6, hi(p.println), lo(p.println), // invokevirtual println(String)
		0xB1, // return
	)
	out, _, err := run(t, cf)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello, World!\n" {
		t.Errorf("got %q", out)
	}
}

func TestStringConcatenation(t *testing.T) {
	p := newProgram("Concat")
	sb := p.Class("java/lang/StringBuilder")
	ctor := p.Methodref("java/lang/StringBuilder", "<init>", "()V")
	appendStr := p.Methodref("java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;")
	appendInt := p.Methodref("java/lang/StringBuilder", "append", "(I)Ljava/lang/StringBuilder;")
	toString := p.Methodref("java/lang/StringBuilder", "toString", "()Ljava/lang/String;")
	prefix := p.String("6*7=")
	cf := p.main(3, 2,
		0xBB, hi(sb), lo(sb), // new StringBuilder
		0x59,                     // dup
		0xB7, hi(ctor), lo(ctor), // invokespecial <init>
		0x12, byte(prefix),
		0xB6, hi(appendStr), lo(appendStr),
		0x10, 6, 0x10, 7, 0x68, // bipush 6, bipush 7, imul
		0xB6, hi(appendInt), lo(appendInt),
		0xB6, hi(toString), lo(toString),
		0x4C, // astore_1
		0xB2, hi(p.out), lo(p.out),
		0x2B, // aload_1
		0xB6, hi(p.println), lo(p.println),
		0xB1,
	)
	out, _, err := run(t, cf)
	if err != nil {
		t.Fatal(err)
	}
	if out != "6*7=42\n" {
		t.Errorf("got %q", out)
	}
}

// oopsClass extends RuntimeException with a message constructor.
func oopsClass() *classfile.ClassFile {
	b := classfile.NewBuilder("Oops", "java/lang/RuntimeException")
	super := b.Methodref("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
	b.Method(classfile.AccPublic, "<init>", "(Ljava/lang/String;)V", &classfile.CodeAttribute{
		MaxStack: 2, MaxLocals: 2,
		Code: []byte{0x2A, 0x2B, 0xB7, hi(super), lo(super), 0xB1},
	})
	return b.Build()
}

func throwOops(p *program) []byte {
	oops := p.Class("Oops")
	ctor := p.Methodref("Oops", "<init>", "(Ljava/lang/String;)V")
	msg := p.String("boom")
	return []byte{
		0xBB, hi(oops), lo(oops), 0x59,
		0x12, byte(msg),
		0xB7, hi(ctor), lo(ctor),
		0xBF, // athrow
	}
}

func TestUncaughtUserException(t *testing.T) {
	p := newProgram("Thrower")
	cf := p.main(3, 1, throwOops(p)...)
	_, res, err := run(t, cf, oopsClass())

	var uerr *vm.UncaughtError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want *vm.UncaughtError", err)
	}
	if res.Exception.Class != "Oops" || res.Exception.Message != "boom" {
		t.Errorf("exception: %+v", res.Exception)
	}
	if got := uerr.Error(); got != "Exception in thread \"main\" Oops: boom\n\tat Thrower.main([Ljava/lang/String;)V pc=9" {
		t.Errorf("message: %q", got)
	}
}

func TestCatchAndPrintMessage(t *testing.T) {
	p := newProgram("Catcher")
	getMessage := p.Methodref("java/lang/RuntimeException", "getMessage", "()Ljava/lang/String;")
	code := throwOops(p) // pc 0..9
	code = append(code,
		0x4C, // 10: astore_1
		0xB2, hi(p.out), lo(p.out),
		0x2B,
		0xB6, hi(getMessage), lo(getMessage),
		0xB6, hi(p.println), lo(p.println),
		0xB1,
	)
	p.Method(classfile.AccPublic|classfile.AccStatic, "main", vm.MainDescriptor, &classfile.CodeAttribute{
		MaxStack: 3, MaxLocals: 2, Code: code,
		ExceptionTable: []classfile.ExceptionTableEntry{
			{StartPC: 0, EndPC: 10, HandlerPC: 10, CatchType: p.Class("java/lang/RuntimeException")},
		},
	})
	out, _, err := run(t, p.Build(), oopsClass())
	if err != nil {
		t.Fatal(err)
	}
	if out != "boom\n" {
		t.Errorf("got %q", out)
	}
}

func TestEngineExceptionMessage(t *testing.T) {
	p := newProgram("Divider")
	getMessage := p.Methodref("java/lang/Throwable", "getMessage", "()Ljava/lang/String;")
	p.Method(classfile.AccPublic|classfile.AccStatic, "main", vm.MainDescriptor, &classfile.CodeAttribute{
		MaxStack: 2, MaxLocals: 2,
		Code: []byte{
			0x04, 0x03, 0x6C, 0x57, 0xB1, // iconst_1, iconst_0, idiv, pop, return
			0x4C, // 5: astore_1
			0xB2, hi(p.out), lo(p.out),
			0x2B,
			0xB6, hi(getMessage), lo(getMessage),
			0xB6, hi(p.println), lo(p.println),
			0xB1,
		},
		ExceptionTable: []classfile.ExceptionTableEntry{
			{StartPC: 0, EndPC: 5, HandlerPC: 5, CatchType: p.Class("java/lang/ArithmeticException")},
		},
	})
	out, _, err := run(t, p.Build())
	if err != nil {
		t.Fatal(err)
	}
	if out != "/ by zero\n" {
		t.Errorf("got %q", out)
	}
}

func TestPrintPrimitives(t *testing.T) {
	p := newProgram("Numbers")
	printD := p.Methodref("java/io/PrintStream", "println", "(D)V")
	printF := p.Methodref("java/io/PrintStream", "println", "(F)V")
	printJ := p.Methodref("java/io/PrintStream", "println", "(J)V")
	pi := p.Double(3.14)
	big := p.Long(1 << 40)
	cf := p.main(4, 1,
		0xB2, hi(p.out), lo(p.out),
		0x14, hi(pi), lo(pi),
		0xB6, hi(printD), lo(printD),
		0xB2, hi(p.out), lo(p.out),
		0x0C, 0x10, 3, 0x86, 0x6E, // fconst_1, bipush 3, i2f, fdiv
		0xB6, hi(printF), lo(printF),
		0xB2, hi(p.out), lo(p.out),
		0x14, hi(big), lo(big),
		0xB6, hi(printJ), lo(printJ),
		0xB1,
	)
	out, _, err := run(t, cf)
	if err != nil {
		t.Fatal(err)
	}
	if out != "3.14\n0.33333334\n1099511627776\n" {
		t.Errorf("got %q", out)
	}
}

func TestLoneSurrogateConstant(t *testing.T) {
	p := newProgram("Surrogate")
	s := p.String("a\xed\xa0\x80")
	length := p.Methodref("java/lang/String", "length", "()I")
	charAt := p.Methodref("java/lang/String", "charAt", "(I)C")
	printInt := p.Methodref("java/io/PrintStream", "println", "(I)V")
	cf := p.main(3, 1,
		0xB2, hi(p.out), lo(p.out),
		0x12, byte(s),
		0xB6, hi(length), lo(length),
		0xB6, hi(printInt), lo(printInt),
		0xB2, hi(p.out), lo(p.out),
		0x12, byte(s),
		0x04, // iconst_1
		0xB6, hi(charAt), lo(charAt),
		0xB6, hi(printInt), lo(printInt),
		0xB1,
	)
	data, err := classfile.Encode(cf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte{0x01, 0x00, 0x04, 'a', 0xED, 0xA0, 0x80}) {
		t.Fatal("constant not written as a lone surrogate")
	}
	decoded, err := classfile.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if out != "2\n55296\n" {
		t.Errorf("got %q", out)
	}
}
