package vm

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

// Ref is a heap handle stored in an operand word. Null is the zero handle.
type Ref = memory.Word

const Null Ref = 0

// Object is a class instance. Native carries the payload of library
// classes whose state is kept outside Java fields, such as the text of a
// java/lang/String.
type Object struct {
	Class  string
	Fields map[string][]memory.Word
	Native any
}

// Field returns the words stored for name, or zero words sized by the
// field descriptor when it was never assigned.
func (o *Object) Field(name, descriptor string) []memory.Word {
	if ws, ok := o.Fields[name]; ok {
		return ws
	}
	return make([]memory.Word, classfile.FieldSlots(descriptor))
}

func (o *Object) SetField(name string, ws []memory.Word) {
	o.Fields[name] = append([]memory.Word(nil), ws...)
}

// Array holds elements of one component type. Every element fits a uint64
// cell; narrower types are stored zero-extended.
type Array struct {
	Component string
	Elems     []uint64
}

func (a *Array) Len() int { return len(a.Elems) }

// DefaultMaxHeap is the default budget of array elements a heap may
// allocate over its lifetime.
const DefaultMaxHeap = 1 << 25

// Heap owns every object and array reachable from operand stacks, locals
// and static fields. Handles are never reused.
type Heap struct {
	mu       sync.RWMutex
	cells    []any
	interned map[string]Ref
	classes  map[string]Ref

	limit int64 // array elements; 0 is unlimited
	used  int64
}

func NewHeap() *Heap {
	return &Heap{
		cells:    []any{nil},
		interned: make(map[string]Ref),
		classes:  make(map[string]Ref),
	}
}

// SetLimit caps the array elements the heap hands out. n <= 0 removes
// the cap.
func (h *Heap) SetLimit(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = max(n, 0)
}

// Used is the number of array elements allocated so far.
func (h *Heap) Used() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.used
}

// Reserve claims n array elements against the limit. NewArray does not
// count elements itself.
func (h *Heap) Reserve(n int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && (n > h.limit || h.used > h.limit-n) {
		return fmt.Errorf("%w: %d requested, %d of %d in use", ErrHeapExhausted, n, h.used, h.limit)
	}
	h.used += n
	return nil
}

func (h *Heap) alloc(v any) Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cells = append(h.cells, v)
	return Ref(len(h.cells) - 1)
}

// Len is the number of live handles.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cells) - 1
}

func (h *Heap) NewObject(class string) Ref {
	return h.alloc(&Object{Class: class, Fields: make(map[string][]memory.Word)})
}

// NewNative allocates an instance of a library class carrying payload.
func (h *Heap) NewNative(class string, payload any) Ref {
	return h.alloc(&Object{Class: class, Fields: make(map[string][]memory.Word), Native: payload})
}

// NewArray allocates a zeroed array without checking the limit; callers
// that take lengths from bytecode call Reserve first. component is a
// field descriptor.
func (h *Heap) NewArray(component string, length int) Ref {
	return h.alloc(&Array{Component: component, Elems: make([]uint64, length)})
}

func (h *Heap) NewString(s string) Ref {
	return h.NewNative("java/lang/String", s)
}

// Intern returns the canonical String for s, as ldc of a string literal
// and ConstantValue initialization require.
func (h *Heap) Intern(s string) Ref {
	h.mu.RLock()
	ref, ok := h.interned[s]
	h.mu.RUnlock()
	if ok {
		return ref
	}
	ref = h.NewString(s)
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.interned[s]; ok {
		return prev
	}
	h.interned[s] = ref
	return ref
}

// ClassObject returns the java/lang/Class instance for an internal name.
func (h *Heap) ClassObject(name string) Ref {
	h.mu.RLock()
	ref, ok := h.classes[name]
	h.mu.RUnlock()
	if ok {
		return ref
	}
	ref = h.NewNative("java/lang/Class", name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.classes[name]; ok {
		return prev
	}
	h.classes[name] = ref
	return ref
}

func (h *Heap) cell(r Ref) (any, error) {
	if r == Null {
		return nil, ErrNullReference
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if int(r) >= len(h.cells) {
		return nil, fmt.Errorf("%w: %d", ErrBadReference, r)
	}
	return h.cells[r], nil
}

func (h *Heap) Object(r Ref) (*Object, error) {
	c, err := h.cell(r)
	if err != nil {
		return nil, err
	}
	obj, ok := c.(*Object)
	if !ok {
		return nil, fmt.Errorf("%w: %d is not an object", ErrBadReference, r)
	}
	return obj, nil
}

func (h *Heap) Array(r Ref) (*Array, error) {
	c, err := h.cell(r)
	if err != nil {
		return nil, err
	}
	arr, ok := c.(*Array)
	if !ok {
		return nil, fmt.Errorf("%w: %d is not an array", ErrBadReference, r)
	}
	return arr, nil
}

// String returns the text of a java/lang/String.
func (h *Heap) String(r Ref) (string, error) {
	obj, err := h.Object(r)
	if err != nil {
		return "", err
	}
	s, ok := obj.Native.(string)
	if !ok || obj.Class != "java/lang/String" {
		return "", fmt.Errorf("%w: %d is a %s, not a String", ErrBadReference, r, obj.Class)
	}
	return s, nil
}

// ClassOf returns the runtime class of r. Arrays report their descriptor,
// e.g. "[I" or "[Ljava/lang/String;".
func (h *Heap) ClassOf(r Ref) (string, error) {
	c, err := h.cell(r)
	if err != nil {
		return "", err
	}
	switch v := c.(type) {
	case *Object:
		return v.Class, nil
	case *Array:
		return "[" + v.Component, nil
	}
	return "", fmt.Errorf("%w: %d", ErrBadReference, r)
}

// MultiArrayElems is the number of elements NewMultiArray allocates for
// dims, saturating at math.MaxInt64.
func MultiArrayElems(dims []int) int64 {
	var total int64
	level := int64(1)
	for _, d := range dims {
		if d != 0 && level > math.MaxInt64/int64(d) {
			return math.MaxInt64
		}
		level *= int64(d)
		if total > math.MaxInt64-level {
			return math.MaxInt64
		}
		total += level
	}
	return total
}

// NewMultiArray allocates nested arrays for descriptor (e.g. "[[I") with
// the given leading dimension lengths.
func (h *Heap) NewMultiArray(descriptor string, dims []int) Ref {
	component := strings.TrimPrefix(descriptor, "[")
	ref := h.NewArray(component, dims[0])
	if len(dims) > 1 {
		arr, _ := h.Array(ref)
		for i := range arr.Elems {
			arr.Elems[i] = uint64(h.NewMultiArray(component, dims[1:]))
		}
	}
	return ref
}
