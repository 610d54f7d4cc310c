package vm

import (
	"fmt"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

func init() {
	register(simple(func(*memory.Frame, bytecode.Instruction) error { return nil }), bytecode.OpNop)
	register(simple(func(f *memory.Frame, _ bytecode.Instruction) error { return f.Push(Null) }), bytecode.OpAconstNull)
	for v := int32(-1); v <= 5; v++ {
		register(pushInt(v), bytecode.OpIconstM1+bytecode.Opcode(v+1))
	}
	register(pushLong(0), bytecode.OpLconst0)
	register(pushLong(1), bytecode.OpLconst1)
	for v := 0; v <= 2; v++ {
		register(pushFloat(float32(v)), bytecode.OpFconst0+bytecode.Opcode(v))
	}
	register(pushDouble(0), bytecode.OpDconst0)
	register(pushDouble(1), bytecode.OpDconst1)
	register(simple(func(f *memory.Frame, ins bytecode.Instruction) error {
		return f.PushInt(int32(ins.I8(0)))
	}), bytecode.OpBipush)
	register(simple(func(f *memory.Frame, ins bytecode.Instruction) error {
		return f.PushInt(int32(ins.I16(0)))
	}), bytecode.OpSipush)

	register(executeLdc, bytecode.OpLdc, bytecode.OpLdcW, bytecode.OpLdc2W)

	// Loads and stores come in groups of five (i, l, f, d, a), each with
	// an indexed form and four short forms.
	widths := []int{1, 2, 1, 2, 1}
	for k, w := range widths {
		w := w
		register(simple(func(f *memory.Frame, ins bytecode.Instruction) error {
			return loadLocal(f, int(ins.U8(0)), w)
		}), bytecode.OpIload+bytecode.Opcode(k))
		register(simple(func(f *memory.Frame, ins bytecode.Instruction) error {
			return storeLocal(f, int(ins.U8(0)), w)
		}), bytecode.OpIstore+bytecode.Opcode(k))
		for n := 0; n < 4; n++ {
			n := n
			register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
				return loadLocal(f, n, w)
			}), bytecode.OpIload0+bytecode.Opcode(4*k+n))
			register(simple(func(f *memory.Frame, _ bytecode.Instruction) error {
				return storeLocal(f, n, w)
			}), bytecode.OpIstore0+bytecode.Opcode(4*k+n))
		}
	}

	register(simple(func(f *memory.Frame, ins bytecode.Instruction) error {
		return incLocal(f, int(ins.U8(0)), int32(ins.I8(1)))
	}), bytecode.OpIinc)
	register(executeWide, bytecode.OpWide)
}

func pushInt(v int32) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error { return f.PushInt(v) })
}

func pushLong(v int64) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error { return f.PushLong(v) })
}

func pushFloat(v float32) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error { return f.PushFloat(v) })
}

func pushDouble(v float64) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error { return f.PushDouble(v) })
}

// loadLocal pushes width words starting at local index.
func loadLocal(f *memory.Frame, index, width int) error {
	ws := make([]memory.Word, width)
	for i := range ws {
		w, err := f.Local(index + i)
		if err != nil {
			return err
		}
		ws[i] = w
	}
	return f.PushN(ws...)
}

// storeLocal pops width words into locals starting at index. Nothing
// changes if the index is out of range.
func storeLocal(f *memory.Frame, index, width int) error {
	if _, err := f.Local(index + width - 1); err != nil {
		return err
	}
	ws, err := f.PopN(width)
	if err != nil {
		return err
	}
	for i, w := range ws {
		if err := f.SetLocal(index+i, w); err != nil {
			return err
		}
	}
	return nil
}

func incLocal(f *memory.Frame, index int, delta int32) error {
	w, err := f.Local(index)
	if err != nil {
		return err
	}
	return f.SetLocal(index, memory.Word(uint32(int32(w)+delta)))
}

func executeLdc(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	var index uint16
	if ins.Op == bytecode.OpLdc {
		index = uint16(ins.U8(0))
	} else {
		index = ins.U16(0)
	}
	c, err := f.Class.ConstantPool.Loadable(index)
	if err != nil {
		return false, fmt.Errorf("%s: %w", ins.Op, err)
	}
	wide := c.Tag == classfile.TagLong || c.Tag == classfile.TagDouble
	if wide != (ins.Op == bytecode.OpLdc2W) {
		return false, fmt.Errorf("%s: %w: index %d holds %s", ins.Op, classfile.ErrTagMismatch, index, c.Tag)
	}
	switch c.Tag {
	case classfile.TagInteger:
		return false, f.PushInt(c.Int)
	case classfile.TagFloat:
		return false, f.PushFloat(c.Float)
	case classfile.TagLong:
		return false, f.PushLong(c.Long)
	case classfile.TagDouble:
		return false, f.PushDouble(c.Double)
	case classfile.TagString:
		return false, f.Push(vm.Heap.Intern(c.Text))
	case classfile.TagClass:
		return false, f.Push(vm.Heap.ClassObject(c.Text))
	}
	return false, fmt.Errorf("%s: unsupported constant %s", ins.Op, c.Tag)
}

func executeWide(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	op, index, delta := ins.Wide()
	switch op {
	case bytecode.OpIload, bytecode.OpFload, bytecode.OpAload:
		return false, loadLocal(f, int(index), 1)
	case bytecode.OpLload, bytecode.OpDload:
		return false, loadLocal(f, int(index), 2)
	case bytecode.OpIstore, bytecode.OpFstore, bytecode.OpAstore:
		return false, storeLocal(f, int(index), 1)
	case bytecode.OpLstore, bytecode.OpDstore:
		return false, storeLocal(f, int(index), 2)
	case bytecode.OpIinc:
		return false, incLocal(f, int(index), int32(delta))
	case bytecode.OpRet:
		w, err := f.Local(int(index))
		if err != nil {
			return false, err
		}
		return jumpTo(f, int(w))
	}
	return false, fmt.Errorf("%w: wide %s", ErrUnsupportedOpcode, op)
}
