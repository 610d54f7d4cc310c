package vm

import (
	"fmt"
	"strings"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

func init() {
	register(executeGetstatic, bytecode.OpGetstatic)
	register(executePutstatic, bytecode.OpPutstatic)
	register(executeGetfield, bytecode.OpGetfield)
	register(executePutfield, bytecode.OpPutfield)

	register(executeNew, bytecode.OpNew)
	register(executeNewarray, bytecode.OpNewarray)
	register(executeAnewarray, bytecode.OpAnewarray)
	register(executeMultianewarray, bytecode.OpMultianewarray)
	register(executeArraylength, bytecode.OpArraylength)

	loads := map[bytecode.Opcode]elemKind{
		bytecode.OpIaload: elemInt, bytecode.OpLaload: elemLong, bytecode.OpFaload: elemInt,
		bytecode.OpDaload: elemLong, bytecode.OpAaload: elemInt, bytecode.OpBaload: elemByte,
		bytecode.OpCaload: elemChar, bytecode.OpSaload: elemShort,
	}
	for op, k := range loads {
		register(arrayLoad(k), op)
	}
	stores := map[bytecode.Opcode]elemKind{
		bytecode.OpIastore: elemInt, bytecode.OpLastore: elemLong, bytecode.OpFastore: elemInt,
		bytecode.OpDastore: elemLong, bytecode.OpAastore: elemRef, bytecode.OpBastore: elemByte,
		bytecode.OpCastore: elemChar, bytecode.OpSastore: elemShort,
	}
	for op, k := range stores {
		register(arrayStore(k), op)
	}

	register(executeCheckcast, bytecode.OpCheckcast)
	register(executeInstanceof, bytecode.OpInstanceof)
	register(executeAthrow, bytecode.OpAthrow)
	register(executeMonitor, bytecode.OpMonitorenter, bytecode.OpMonitorexit)
}

// fieldError turns a resolution failure into a catchable NoSuchFieldError.
func (vm *VM) fieldError(err error) error {
	return vm.NewJavaException(ClassNoSuchFieldError, err.Error(), fmt.Errorf("%w: %w", ErrFieldResolution, err))
}

// resolveField resolves the Fieldref operand of ins. Nothing is popped or
// stored before it succeeds.
func (vm *VM) resolveField(f *memory.Frame, ins bytecode.Instruction, static bool) (*classfile.MemberRef, string, bool, error) {
	ref, err := f.Class.ConstantPool.Fieldref(ins.U16(0))
	if err != nil {
		return nil, "", false, vm.fieldError(err)
	}
	owner, library, err := vm.Registry.ResolveField(ref.ClassName, ref.Name, ref.Descriptor, static)
	if err != nil {
		return nil, "", false, vm.NewJavaException(ClassNoSuchFieldError, ref.String(), err)
	}
	return ref, owner, library, nil
}

func executeGetstatic(vm *VM, t *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	ref, owner, library, err := vm.resolveField(f, ins, true)
	if err != nil {
		return false, err
	}
	if library {
		if vm.staticFields == nil {
			return false, vm.NewJavaException(ClassNoSuchFieldError, ref.String(), fmt.Errorf("%w: %s", ErrFieldResolution, ErrNativeNotFound))
		}
		ws, err := vm.staticFields.GetStatic(vm.env(t), owner, ref.Name, ref.Descriptor)
		if err != nil {
			return false, vm.nativeError(err, ClassNoSuchFieldError, ref.String(), ErrFieldResolution)
		}
		return false, f.PushN(ws...)
	}
	if retry, err := vm.ensureInitialized(t, owner); err != nil || retry {
		return retry, err
	}
	ws, err := vm.Registry.GetStatic(owner, ref.Name)
	if err != nil {
		return false, vm.fieldError(err)
	}
	return false, f.PushN(ws...)
}

func executePutstatic(vm *VM, t *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	ref, owner, library, err := vm.resolveField(f, ins, true)
	if err != nil {
		return false, err
	}
	if library {
		return false, vm.NewJavaException(ClassNoSuchFieldError, ref.String(), fmt.Errorf("%w: %s is read-only", ErrFieldResolution, ref))
	}
	if retry, err := vm.ensureInitialized(t, owner); err != nil || retry {
		return retry, err
	}
	ws, err := f.PopN(classfile.FieldSlots(ref.Descriptor))
	if err != nil {
		return false, err
	}
	if err := vm.Registry.SetStatic(owner, ref.Name, ws); err != nil {
		return false, vm.fieldError(err)
	}
	return false, nil
}

func executeGetfield(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	ref, _, _, err := vm.resolveField(f, ins, false)
	if err != nil {
		return false, err
	}
	objRef, err := f.Pop()
	if err != nil {
		return false, err
	}
	if objRef == Null {
		return false, vm.nullPointer("cannot read field %q of null", ref.Name)
	}
	obj, err := vm.Heap.Object(objRef)
	if err != nil {
		return false, err
	}
	return false, f.PushN(obj.Field(ref.Name, ref.Descriptor)...)
}

func executePutfield(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	ref, _, _, err := vm.resolveField(f, ins, false)
	if err != nil {
		return false, err
	}
	width := classfile.FieldSlots(ref.Descriptor)
	if f.Depth() < width+1 {
		return false, fmt.Errorf("%w: putfield needs %d words", memory.ErrOperandStackUnderflow, width+1)
	}
	ws, _ := f.PopN(width)
	objRef, _ := f.Pop()
	if objRef == Null {
		return false, vm.nullPointer("cannot assign field %q of null", ref.Name)
	}
	obj, err := vm.Heap.Object(objRef)
	if err != nil {
		return false, err
	}
	obj.SetField(ref.Name, ws)
	return false, nil
}

func executeNew(vm *VM, t *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	name, err := f.Class.ConstantPool.ClassName(ins.U16(0))
	if err != nil {
		return false, vm.NewJavaException(ClassNoClassDefFoundError, err.Error(), err)
	}
	if retry, err := vm.ensureInitialized(t, name); err != nil || retry {
		return retry, err
	}
	if cf, err := vm.Registry.LookupClass(name); err == nil && (cf.IsAbstract() || cf.IsInterface()) {
		return false, vm.NewJavaException(ClassInstantiationError, name, nil)
	}
	return false, f.Push(vm.Heap.NewObject(name))
}

// newarray atype codes.
var arrayTypes = map[uint8]string{
	4: "Z", 5: "C", 6: "F", 7: "D", 8: "B", 9: "S", 10: "I", 11: "J",
}

func (vm *VM) popCount(f *memory.Frame) (int, error) {
	n, err := f.PopInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, vm.NewJavaException(ClassNegativeArraySizeException, fmt.Sprint(n), nil)
	}
	return int(n), nil
}

// reserve claims n array elements or throws OutOfMemoryError.
func (vm *VM) reserve(n int64) error {
	if err := vm.Heap.Reserve(n); err != nil {
		return vm.NewJavaException(ClassOutOfMemoryError, "Java heap space", err)
	}
	return nil
}

func executeNewarray(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	component, ok := arrayTypes[ins.U8(0)]
	if !ok {
		return false, fmt.Errorf("newarray: invalid atype %d", ins.U8(0))
	}
	n, err := vm.popCount(f)
	if err != nil {
		return false, err
	}
	if err := vm.reserve(int64(n)); err != nil {
		return false, err
	}
	return false, f.Push(vm.Heap.NewArray(component, n))
}

// descriptorOf converts a Class constant name to a field descriptor.
func descriptorOf(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

func executeAnewarray(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	name, err := f.Class.ConstantPool.ClassName(ins.U16(0))
	if err != nil {
		return false, vm.NewJavaException(ClassNoClassDefFoundError, err.Error(), err)
	}
	n, err := vm.popCount(f)
	if err != nil {
		return false, err
	}
	if err := vm.reserve(int64(n)); err != nil {
		return false, err
	}
	return false, f.Push(vm.Heap.NewArray(descriptorOf(name), n))
}

func executeMultianewarray(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	name, err := f.Class.ConstantPool.ClassName(ins.U16(0))
	if err != nil {
		return false, vm.NewJavaException(ClassNoClassDefFoundError, err.Error(), err)
	}
	dims := int(ins.U8(2))
	if dims < 1 || dims > len(name)-len(strings.TrimLeft(name, "[")) {
		return false, fmt.Errorf("multianewarray: %d dimensions for %s", dims, name)
	}
	ws, err := f.PopN(dims)
	if err != nil {
		return false, err
	}
	counts := make([]int, dims)
	for i, w := range ws {
		if int32(w) < 0 {
			return false, vm.NewJavaException(ClassNegativeArraySizeException, fmt.Sprint(int32(w)), nil)
		}
		counts[i] = int(int32(w))
	}
	if err := vm.reserve(MultiArrayElems(counts)); err != nil {
		return false, err
	}
	return false, f.Push(vm.Heap.NewMultiArray(name, counts))
}

func executeArraylength(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
	ref, err := f.Pop()
	if err != nil {
		return false, err
	}
	if ref == Null {
		return false, vm.nullPointer("cannot read the array length of null")
	}
	arr, err := vm.Heap.Array(ref)
	if err != nil {
		return false, err
	}
	return false, f.PushInt(int32(arr.Len()))
}

// elemKind selects how an array cell is narrowed and widened.
type elemKind int

const (
	elemInt  elemKind = iota // int, float and references: one word as is
	elemLong                 // long and double: two words
	elemByte
	elemChar
	elemShort
	elemRef // aastore: one word, checked against the component type
)

func (k elemKind) width() int {
	if k == elemLong {
		return 2
	}
	return 1
}

// element looks up arr[index] after null and bounds checks.
func (vm *VM) element(ref Ref, index int32) (*Array, error) {
	if ref == Null {
		return nil, vm.nullPointer("cannot access an element of a null array")
	}
	arr, err := vm.Heap.Array(ref)
	if err != nil {
		return nil, err
	}
	if index < 0 || int(index) >= arr.Len() {
		return nil, vm.NewJavaException(ClassArrayIndexOutOfBounds,
			fmt.Sprintf("Index %d out of bounds for length %d", index, arr.Len()), nil)
	}
	return arr, nil
}

func arrayLoad(k elemKind) handler {
	return func(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
		ws, err := f.PopN(2)
		if err != nil {
			return false, err
		}
		index := int32(ws[1])
		arr, err := vm.element(ws[0], index)
		if err != nil {
			return false, err
		}
		cell := arr.Elems[index]
		switch k {
		case elemLong:
			return false, f.PushN(longWords(int64(cell))...)
		case elemByte:
			return false, f.PushInt(int32(int8(cell)))
		case elemChar:
			return false, f.PushInt(int32(uint16(cell)))
		case elemShort:
			return false, f.PushInt(int32(int16(cell)))
		}
		return false, f.Push(memory.Word(uint32(cell)))
	}
}

func arrayStore(k elemKind) handler {
	return func(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
		ws, err := f.PopN(2 + k.width())
		if err != nil {
			return false, err
		}
		index := int32(ws[1])
		arr, err := vm.element(ws[0], index)
		if err != nil {
			return false, err
		}
		v := ws[2:]
		var cell uint64
		switch k {
		case elemLong:
			cell = uint64(memory.JoinLong(v[0], v[1]))
		case elemByte:
			if arr.Component == "Z" {
				cell = uint64(v[0] & 1)
			} else {
				cell = uint64(uint8(v[0]))
			}
		case elemChar, elemShort:
			cell = uint64(uint16(v[0]))
		case elemRef:
			if v[0] != Null && classfile.IsReference(arr.Component) {
				cls, err := vm.Heap.ClassOf(v[0])
				if err != nil {
					return false, err
				}
				if !vm.Registry.IsAssignable(cls, refName(arr.Component)) {
					return false, vm.NewJavaException(ClassArrayStoreException, cls, nil)
				}
			}
			cell = uint64(v[0])
		default:
			cell = uint64(v[0])
		}
		arr.Elems[index] = cell
		return false, nil
	}
}

func (vm *VM) isInstance(ref Ref, target string) (bool, error) {
	cls, err := vm.Heap.ClassOf(ref)
	if err != nil {
		return false, err
	}
	return vm.Registry.IsAssignable(cls, target), nil
}

func executeCheckcast(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	target, err := f.Class.ConstantPool.ClassName(ins.U16(0))
	if err != nil {
		return false, vm.NewJavaException(ClassNoClassDefFoundError, err.Error(), err)
	}
	ref, err := f.Peek(0)
	if err != nil || ref == Null {
		return false, err
	}
	ok, err := vm.isInstance(ref, target)
	if err != nil {
		return false, err
	}
	if !ok {
		cls, _ := vm.Heap.ClassOf(ref)
		return false, vm.NewJavaException(ClassClassCastException,
			fmt.Sprintf("class %s cannot be cast to class %s", cls, target), nil)
	}
	return false, nil
}

func executeInstanceof(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	target, err := f.Class.ConstantPool.ClassName(ins.U16(0))
	if err != nil {
		return false, vm.NewJavaException(ClassNoClassDefFoundError, err.Error(), err)
	}
	ref, err := f.Pop()
	if err != nil {
		return false, err
	}
	if ref == Null {
		return false, f.PushInt(0)
	}
	ok, err := vm.isInstance(ref, target)
	if err != nil {
		return false, err
	}
	return false, f.PushInt(boolInt(ok))
}

func executeAthrow(vm *VM, _ *memory.Thread, f *memory.Frame, _ bytecode.Instruction) (bool, error) {
	ref, err := f.Pop()
	if err != nil {
		return false, err
	}
	if ref == Null {
		return false, vm.nullPointer("cannot throw null")
	}
	ex, err := vm.exceptionFromRef(ref)
	if err != nil {
		return false, err
	}
	return false, ex
}

// Monitors are only null-checked; threads never contend inside one run
// loop.
func executeMonitor(vm *VM, _ *memory.Thread, f *memory.Frame, ins bytecode.Instruction) (bool, error) {
	ref, err := f.Pop()
	if err != nil {
		return false, err
	}
	if ref == Null {
		return false, vm.nullPointer("cannot %s on null", ins.Op)
	}
	return false, nil
}
