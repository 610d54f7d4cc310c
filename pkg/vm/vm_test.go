package vm

import (
	"context"
	"strings"
	"testing"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

const testClass = "Test"

// newTestVM defines classes in a fresh registry without a loader.
func newTestVM(t *testing.T, opts []Option, classes ...*classfile.ClassFile) *VM {
	t.Helper()
	reg := NewRegistry(nil)
	for _, cf := range classes {
		if err := reg.Define(cf); err != nil {
			t.Fatalf("defining class: %v", err)
		}
	}
	return NewVM(reg, opts...)
}

func codeAttr(maxStack, maxLocals uint16, bc ...byte) *classfile.CodeAttribute {
	return &classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: bc}
}

func hi(idx uint16) byte { return byte(idx >> 8) }
func lo(idx uint16) byte { return byte(idx) }

// runStatic adds Test.run with descriptor desc to b (a fresh Test class
// when nil), defines it together with extra, and runs it to completion.
func runStatic(t *testing.T, b *classfile.Builder, desc string, body *classfile.CodeAttribute, args []memory.Word, extra ...*classfile.ClassFile) (*VM, *Result, error) {
	t.Helper()
	if b == nil {
		b = classfile.NewBuilder(testClass, "java/lang/Object")
	}
	b.Method(classfile.AccPublic|classfile.AccStatic, "run", desc, body)
	vm := newTestVM(t, nil, append([]*classfile.ClassFile{b.Build()}, extra...)...)
	th, err := vm.NewThread("test", testClass, "run", desc, args)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	res, err := vm.Run(context.Background(), th)
	return vm, res, err
}

func intArgs(vals ...int32) []memory.Word {
	ws := make([]memory.Word, len(vals))
	for i, v := range vals {
		ws[i] = memory.Word(uint32(v))
	}
	return ws
}

// executeAndGetInt runs bytecodes ending in ireturn as a static method
// taking locals as int parameters, and returns the int result.
func executeAndGetInt(t *testing.T, bc []byte, locals ...int32) int32 {
	t.Helper()
	return executeWith(t, nil, bc, locals...)
}

func executeWith(t *testing.T, b *classfile.Builder, bc []byte, locals ...int32) int32 {
	t.Helper()
	maxLocals := uint16(len(locals))
	if maxLocals < 4 {
		maxLocals = 4
	}
	desc := "(" + strings.Repeat("I", len(locals)) + ")I"
	_, res, err := runStatic(t, b, desc, codeAttr(10, maxLocals, bc...), intArgs(locals...))
	if err != nil {
		t.Fatalf("execution error: %v", err)
	}
	if len(res.Value) != 1 {
		t.Fatalf("returned %d words, want 1", len(res.Value))
	}
	return int32(res.Value[0])
}
