package vm

import (
	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/memory"
)

func init() {
	unary := map[bytecode.Opcode]func(v int32) bool{
		bytecode.OpIfeq: func(v int32) bool { return v == 0 },
		bytecode.OpIfne: func(v int32) bool { return v != 0 },
		bytecode.OpIflt: func(v int32) bool { return v < 0 },
		bytecode.OpIfge: func(v int32) bool { return v >= 0 },
		bytecode.OpIfgt: func(v int32) bool { return v > 0 },
		bytecode.OpIfle: func(v int32) bool { return v <= 0 },
		// References compare against Null, which is word 0.
		bytecode.OpIfnull:    func(v int32) bool { return v == 0 },
		bytecode.OpIfnonnull: func(v int32) bool { return v != 0 },
	}
	for op, cond := range unary {
		register(branchUnary(cond), op)
	}

	binary := map[bytecode.Opcode]func(a, b int32) bool{
		bytecode.OpIfIcmpeq: func(a, b int32) bool { return a == b },
		bytecode.OpIfIcmpne: func(a, b int32) bool { return a != b },
		bytecode.OpIfIcmplt: func(a, b int32) bool { return a < b },
		bytecode.OpIfIcmpge: func(a, b int32) bool { return a >= b },
		bytecode.OpIfIcmpgt: func(a, b int32) bool { return a > b },
		bytecode.OpIfIcmple: func(a, b int32) bool { return a <= b },
		bytecode.OpIfAcmpeq: func(a, b int32) bool { return a == b },
		bytecode.OpIfAcmpne: func(a, b int32) bool { return a != b },
	}
	for op, cond := range binary {
		register(branchBinary(cond), op)
	}

	register(func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		return jumpTo(f, ins.PC+int(ins.I16(0)))
	}, bytecode.OpGoto)
	register(func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		return jumpTo(f, ins.PC+int(ins.I32(0)))
	}, bytecode.OpGotoW)

	// jsr pushes the address of the following instruction; ret reads it
	// back from a local.
	register(func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		if err := f.Push(memory.Word(ins.PC + ins.Len)); err != nil {
			return false, err
		}
		return jumpTo(f, ins.PC+int(ins.I16(0)))
	}, bytecode.OpJsr)
	register(func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		if err := f.Push(memory.Word(ins.PC + ins.Len)); err != nil {
			return false, err
		}
		return jumpTo(f, ins.PC+int(ins.I32(0)))
	}, bytecode.OpJsrW)
	register(func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		w, err := f.Local(int(ins.U8(0)))
		if err != nil {
			return false, err
		}
		return jumpTo(f, int(w))
	}, bytecode.OpRet)

	register(executeTableswitch, bytecode.OpTableswitch)
	register(executeLookupswitch, bytecode.OpLookupswitch)

	register(returnWords(1), bytecode.OpIreturn, bytecode.OpFreturn, bytecode.OpAreturn)
	register(returnWords(2), bytecode.OpLreturn, bytecode.OpDreturn)
	register(returnWords(0), bytecode.OpReturn)
}

func branchUnary(cond func(v int32) bool) handler {
	return func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		v, err := f.PopInt()
		if err != nil {
			return false, err
		}
		if !cond(v) {
			return false, nil
		}
		return jumpTo(f, ins.PC+int(ins.I16(0)))
	}
}

func branchBinary(cond func(a, b int32) bool) handler {
	return func(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
		ws, err := f.PopN(2)
		if err != nil {
			return false, err
		}
		if !cond(int32(ws[0]), int32(ws[1])) {
			return false, nil
		}
		return jumpTo(f, ins.PC+int(ins.I16(0)))
	}
}

func executeTableswitch(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	key, err := f.PopInt()
	if err != nil {
		return false, err
	}
	def, low, offsets := ins.TableSwitch()
	off := def
	if i := int64(key) - int64(low); i >= 0 && i < int64(len(offsets)) {
		off = offsets[i]
	}
	return jumpTo(f, ins.PC+int(off))
}

func executeLookupswitch(_ *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	key, err := f.PopInt()
	if err != nil {
		return false, err
	}
	def, keys, offsets := ins.LookupSwitch()
	off := def
	for i, k := range keys {
		if k == key {
			off = offsets[i]
			break
		}
	}
	return jumpTo(f, ins.PC+int(off))
}

func returnWords(n int) handler {
	return func(vm *VM, t *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
		return vm.doReturn(t, f, n)
	}
}

// doReturn pops the current frame and hands its n result words to the
// caller, advancing the caller past its invoke. A returning initializer
// leaves the caller's pc alone so the instruction that triggered
// initialization runs again. Returning from the outermost frame finishes
// the thread.
func (vm *VM) doReturn(t *memory.Thread, f *memory.Frame, n int) (bool, error) {
	vals, err := f.PopN(n)
	if err != nil {
		return false, err
	}
	if t.Depth() == 1 {
		vm.terminate(t, memory.StatusReturned, vals, nil)
		return true, nil
	}
	if _, err := t.PopFrame(); err != nil {
		return false, err
	}
	caller, err := t.CurrentFrame()
	if err != nil {
		return true, err
	}
	if f.Initializer {
		return true, nil
	}
	if err := caller.PushN(vals...); err != nil {
		return true, err
	}
	ins, err := bytecode.Decode(caller.Code(), caller.PC)
	if err != nil {
		return true, err
	}
	caller.PC += ins.Len
	return true, nil
}
