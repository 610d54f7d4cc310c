package vm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/memory"
)

// DefaultLibraryPrefixes name the packages whose classes are served by
// native bindings instead of being interpreted.
var DefaultLibraryPrefixes = []string{"java/", "javax/", "jdk/", "sun/"}

// Registry is the shared class registry: loaded classes, their static
// storage and initialization state. It implements memory.ClassRegistry.
type Registry struct {
	loader          ClassLoader
	LibraryPrefixes []string

	mu          sync.RWMutex
	classes     map[string]*classfile.ClassFile
	missing     map[string]error
	libraries   map[string]*classfile.ClassFile
	statics     map[string]map[string][]memory.Word
	initialized map[string]bool
	failed      map[string]bool
}

// NewRegistry returns a registry backed by loader, which may be nil when
// every class is supplied with Define.
func NewRegistry(loader ClassLoader) *Registry {
	return &Registry{
		loader:          loader,
		LibraryPrefixes: DefaultLibraryPrefixes,
		classes:         make(map[string]*classfile.ClassFile),
		missing:         make(map[string]error),
		libraries:       make(map[string]*classfile.ClassFile),
		statics:         make(map[string]map[string][]memory.Word),
		initialized:     make(map[string]bool),
		failed:          make(map[string]bool),
	}
}

// IsLibrary reports whether name belongs to a natively served package.
func (r *Registry) IsLibrary(name string) bool {
	for _, p := range r.LibraryPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Define registers a class built in memory, replacing any previous
// definition under the same name.
func (r *Registry) Define(cf *classfile.ClassFile) error {
	name, err := cf.ClassName()
	if err != nil {
		return fmt.Errorf("defining class: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.install(name, cf)
	delete(r.missing, name)
	delete(r.initialized, name)
	delete(r.failed, name)
	return nil
}

// install prepares zeroed static storage. Callers hold r.mu.
func (r *Registry) install(name string, cf *classfile.ClassFile) {
	statics := make(map[string][]memory.Word)
	for i := range cf.Fields {
		f := &cf.Fields[i]
		if f.IsStatic() {
			statics[f.Name] = make([]memory.Word, classfile.FieldSlots(f.Descriptor))
		}
	}
	r.classes[name] = cf
	r.statics[name] = statics
}

// LookupClass returns the decoded class, loading it on first use. Library
// classes and classes the loader cannot find fail with ErrClassNotFound.
func (r *Registry) LookupClass(name string) (*classfile.ClassFile, error) {
	r.mu.RLock()
	cf, ok := r.classes[name]
	miss := r.missing[name]
	r.mu.RUnlock()
	if ok {
		return cf, nil
	}
	if miss != nil {
		return nil, miss
	}

	if r.IsLibrary(name) {
		return nil, r.remember(name, fmt.Errorf("%w: %s is a library class", ErrClassNotFound, name))
	}
	if r.loader == nil {
		return nil, r.remember(name, fmt.Errorf("%w: %s", ErrClassNotFound, name))
	}
	cf, err := r.loader.LoadClass(name)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			return nil, r.remember(name, err)
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.classes[name]; ok {
		return prev, nil
	}
	r.install(name, cf)
	log.Debugf("loaded class %s", name)
	return cf, nil
}

func (r *Registry) remember(name string, err error) error {
	r.mu.Lock()
	r.missing[name] = err
	r.mu.Unlock()
	return err
}

// IsLoaded reports whether name is an interpreted class.
func (r *Registry) IsLoaded(name string) bool {
	_, err := r.LookupClass(name)
	return err == nil
}

// describe returns class metadata for hierarchy questions. Unlike
// LookupClass it consults the loader for library classes too; the result
// is never executed.
func (r *Registry) describe(name string) *classfile.ClassFile {
	if cf, err := r.LookupClass(name); err == nil {
		return cf
	}
	if !r.IsLibrary(name) || r.loader == nil {
		return nil
	}
	r.mu.RLock()
	cf, ok := r.libraries[name]
	r.mu.RUnlock()
	if ok {
		return cf
	}
	cf, err := r.loader.LoadClass(name)
	if err != nil && !errors.Is(err, ErrClassNotFound) {
		log.Warningf("reading library class %s: %s", name, err)
		return nil
	}
	r.mu.Lock()
	r.libraries[name] = cf
	r.mu.Unlock()
	return cf
}

// SuperclassOf returns the superclass of name, or "" for java/lang/Object.
// Classes without any metadata are assumed to extend java/lang/Object.
func (r *Registry) SuperclassOf(name string) string {
	if name == "java/lang/Object" || name == "" {
		return ""
	}
	if cf := r.describe(name); cf != nil {
		return cf.SuperClassName()
	}
	if s, ok := builtinSupers[name]; ok {
		return s
	}
	return "java/lang/Object"
}

func (r *Registry) interfacesOf(name string) []string {
	cf := r.describe(name)
	if cf == nil {
		return nil
	}
	names, _ := cf.InterfaceNames()
	return names
}

// IsAssignable reports whether a value of runtime type sub can be stored
// where super is expected. Both are internal names or array descriptors.
func (r *Registry) IsAssignable(sub, super string) bool {
	if sub == super || super == "java/lang/Object" {
		return true
	}
	if strings.HasPrefix(sub, "[") {
		switch super {
		case "java/lang/Cloneable", "java/io/Serializable":
			return true
		}
		if !strings.HasPrefix(super, "[") {
			return false
		}
		sc, pc := sub[1:], super[1:]
		if classfile.IsReference(sc) && classfile.IsReference(pc) {
			return r.IsAssignable(refName(sc), refName(pc))
		}
		return sc == pc
	}
	for c := sub; c != ""; c = r.SuperclassOf(c) {
		if c == super || r.implements(c, super, 0) {
			return true
		}
	}
	return false
}

func (r *Registry) implements(class, iface string, depth int) bool {
	if depth > 64 {
		return false
	}
	for _, i := range r.interfacesOf(class) {
		if i == iface || r.implements(i, iface, depth+1) {
			return true
		}
	}
	return false
}

// refName converts a reference field descriptor to the name IsAssignable
// compares: "Lfoo/Bar;" becomes "foo/Bar", arrays are kept as is.
func refName(desc string) string {
	if strings.HasPrefix(desc, "L") {
		return strings.TrimSuffix(desc[1:], ";")
	}
	return desc
}

// MethodTarget is the result of method resolution. A nil Method means the
// search reached library class ClassName, whose methods are native.
type MethodTarget struct {
	ClassName string
	Class     *classfile.ClassFile
	Method    *classfile.MethodInfo
}

func (t *MethodTarget) Native() bool { return t.Method == nil || t.Method.Code == nil }

// ResolveMethod finds name/descriptor starting at className and walking
// the superclass chain, then superinterfaces for default methods.
func (r *Registry) ResolveMethod(className, name, descriptor string) (*MethodTarget, error) {
	var library string
	var visited []*classfile.ClassFile
	for c := className; c != ""; {
		cf, err := r.LookupClass(c)
		if errors.Is(err, ErrClassNotFound) {
			library = c
			break
		}
		if err != nil {
			return nil, err
		}
		if m := cf.FindMethod(name, descriptor); m != nil {
			return &MethodTarget{ClassName: c, Class: cf, Method: m}, nil
		}
		visited = append(visited, cf)
		c = cf.SuperClassName()
	}
	for _, cf := range visited {
		names, _ := cf.InterfaceNames()
		for _, i := range names {
			if t := r.defaultMethod(i, name, descriptor, 0); t != nil {
				return t, nil
			}
		}
	}
	if library != "" {
		return &MethodTarget{ClassName: library}, nil
	}
	return nil, fmt.Errorf("%w: %s.%s%s", memory.ErrMethodNotFound, className, name, descriptor)
}

func (r *Registry) defaultMethod(iface, name, descriptor string, depth int) *MethodTarget {
	if depth > 64 {
		return nil
	}
	cf, err := r.LookupClass(iface)
	if err != nil {
		return nil
	}
	if m := cf.FindMethod(name, descriptor); m != nil && !m.IsAbstract() && !m.IsStatic() {
		return &MethodTarget{ClassName: iface, Class: cf, Method: m}
	}
	names, _ := cf.InterfaceNames()
	for _, i := range names {
		if t := r.defaultMethod(i, name, descriptor, depth+1); t != nil {
			return t
		}
	}
	return nil
}

// ResolveField finds the class declaring a field, walking superclasses and
// superinterfaces. library is true when className itself is served
// natively and the field is static; owner is then className. Instance
// fields never resolve into library classes.
func (r *Registry) ResolveField(className, name, descriptor string, static bool) (owner string, library bool, err error) {
	for c := className; c != ""; {
		cf, err := r.LookupClass(c)
		if errors.Is(err, ErrClassNotFound) {
			if static && c == className {
				return c, true, nil
			}
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrFieldResolution, err)
		}
		if f := cf.FindField(name, descriptor); f != nil {
			if f.IsStatic() != static {
				return "", false, fmt.Errorf("%w: %s.%s is %s", ErrFieldResolution, c, name, staticWord(f.IsStatic()))
			}
			return c, false, nil
		}
		if static {
			if owner := r.interfaceField(cf, name, descriptor, 0); owner != "" {
				return owner, false, nil
			}
		}
		c = cf.SuperClassName()
	}
	return "", false, fmt.Errorf("%w: no field %s:%s in %s", ErrFieldResolution, name, descriptor, className)
}

func (r *Registry) interfaceField(cf *classfile.ClassFile, name, descriptor string, depth int) string {
	if depth > 64 {
		return ""
	}
	names, _ := cf.InterfaceNames()
	for _, i := range names {
		icf, err := r.LookupClass(i)
		if err != nil {
			continue
		}
		if f := icf.FindField(name, descriptor); f != nil && f.IsStatic() {
			return i
		}
		if owner := r.interfaceField(icf, name, descriptor, depth+1); owner != "" {
			return owner
		}
	}
	return ""
}

func staticWord(static bool) string {
	if static {
		return "static"
	}
	return "an instance field"
}

// GetStatic returns a copy of a static field's words.
func (r *Registry) GetStatic(class, field string) ([]memory.Word, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.statics[class][field]
	if !ok {
		return nil, fmt.Errorf("%w: no static %s.%s", ErrFieldResolution, class, field)
	}
	return append([]memory.Word(nil), ws...), nil
}

// SetStatic replaces a static field's words. The width must match the
// field's declared type.
func (r *Registry) SetStatic(class, field string, ws []memory.Word) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.statics[class][field]
	if !ok {
		return fmt.Errorf("%w: no static %s.%s", ErrFieldResolution, class, field)
	}
	if len(cur) != len(ws) {
		return fmt.Errorf("%w: %s.%s holds %d words, got %d", ErrFieldResolution, class, field, len(cur), len(ws))
	}
	copy(cur, ws)
	return nil
}

// beginInit marks class as initialized and reports whether the caller must
// run its initialization. Classes already initialized, being initialized,
// or not interpreted report false.
func (r *Registry) beginInit(class string) bool {
	if !r.IsLoaded(class) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized[class] {
		return false
	}
	r.initialized[class] = true
	return true
}

func (r *Registry) Initialized(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized[class]
}

// failInit records that the initializer of class completed abruptly.
// Subclasses whose initialization started with it are erroneous too.
func (r *Registry) failInit(class string) {
	r.mu.RLock()
	started := make([]string, 0, len(r.initialized))
	for c := range r.initialized {
		started = append(started, c)
	}
	r.mu.RUnlock()

	failed := []string{class}
	for _, c := range started {
		if c != class && r.isSubclass(c, class) {
			failed = append(failed, c)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range failed {
		r.failed[c] = true
	}
}

// InitFailed reports whether class is in the erroneous state: its
// initialization was attempted and threw.
func (r *Registry) InitFailed(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failed[class]
}

func (r *Registry) isSubclass(sub, super string) bool {
	for c := r.SuperclassOf(sub); c != ""; c = r.SuperclassOf(c) {
		if c == super {
			return true
		}
	}
	return false
}

// Classes lists the interpreted classes loaded so far.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	return names
}
