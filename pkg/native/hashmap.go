package native

import (
	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/vm"
)

const classHashMap = "java/util/HashMap"

// HashMap is the payload of a java/util/HashMap. Strings and boxed
// integers are keyed by value; other objects by identity.
type HashMap struct {
	Data map[any]vm.Ref
}

func NewHashMap() *HashMap {
	return &HashMap{Data: make(map[any]vm.Ref)}
}

// mapKey returns the Go map key for a Java key object.
func mapKey(env *vm.Env, ref vm.Ref) any {
	if ref == vm.Null {
		return vm.Null
	}
	obj, err := env.Heap.Object(ref)
	if err != nil {
		return ref
	}
	switch v := obj.Native.(type) {
	case string:
		if obj.Class == classString {
			return v
		}
	case int32:
		if obj.Class == classInteger {
			return v
		}
	}
	return ref
}

// Get returns the value for key, or Null.
func (m *HashMap) Get(env *vm.Env, key vm.Ref) vm.Ref {
	return m.Data[mapKey(env, key)]
}

// Put stores a key-value pair and returns the previous value.
func (m *HashMap) Put(env *vm.Env, key, value vm.Ref) vm.Ref {
	k := mapKey(env, key)
	old := m.Data[k]
	m.Data[k] = value
	return old
}

func (m *HashMap) Contains(env *vm.Env, key vm.Ref) bool {
	_, ok := m.Data[mapKey(env, key)]
	return ok
}

func hashMap(env *vm.Env, ref vm.Ref) (*HashMap, error) {
	obj, err := object(env, ref)
	if err != nil {
		return nil, err
	}
	if obj.Native == nil {
		obj.Native = NewHashMap()
	}
	m, ok := obj.Native.(*HashMap)
	if !ok {
		return nil, env.Throw(vm.ClassClassCastException, "class %s cannot be cast to class java.util.HashMap", dotted(obj.Class))
	}
	return m, nil
}

func init() {
	builtin(classHashMap, "<init>", "()V", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		_, err := hashMap(env, args[0])
		return nil, err
	})
	builtin(classHashMap, "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		m, err := hashMap(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(m.Put(env, args[1], args[2])), nil
	})
	builtin(classHashMap, "get", "(Ljava/lang/Object;)Ljava/lang/Object;", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		m, err := hashMap(env, args[0])
		if err != nil {
			return nil, err
		}
		return refResult(m.Get(env, args[1])), nil
	})
	builtin(classHashMap, "containsKey", "(Ljava/lang/Object;)Z", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		m, err := hashMap(env, args[0])
		if err != nil {
			return nil, err
		}
		return boolResult(m.Contains(env, args[1])), nil
	})
	builtin(classHashMap, "size", "()I", func(_ *Runtime, env *vm.Env, args []memory.Word) ([]memory.Word, error) {
		m, err := hashMap(env, args[0])
		if err != nil {
			return nil, err
		}
		return intResult(int32(len(m.Data))), nil
	})
}
