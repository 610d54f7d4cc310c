package classfile

import (
	"errors"
	"fmt"
	"math"
)

// Tag identifies the variant of a constant pool entry.
type Tag uint8

// Constant pool tags
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

var (
	// ErrInvalidIndex is returned when an index is 0, past the pool, or
	// names the reserved slot after a Long or Double.
	ErrInvalidIndex = errors.New("invalid constant pool index")
	// ErrTagMismatch is returned when an entry is not of the requested variant.
	ErrTagMismatch = errors.New("constant pool tag mismatch")
)

// ConstantPoolEntry is one entry of the constant pool. The concrete types
// below are the only implementations.
type ConstantPoolEntry interface {
	Tag() Tag
}

type ConstantUtf8 struct {
	Value string
}

type ConstantInteger struct {
	Value int32
}

type ConstantFloat struct {
	Value float32
}

type ConstantLong struct {
	Value int64
}

type ConstantDouble struct {
	Value float64
}

type ConstantClass struct {
	NameIndex uint16
}

type ConstantString struct {
	StringIndex uint16
}

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

type ConstantMethodType struct {
	DescriptorIndex uint16
}

// ConstantDynamic covers both CONSTANT_Dynamic and CONSTANT_InvokeDynamic.
type ConstantDynamic struct {
	Invoke                   bool
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

// ConstantModule covers both CONSTANT_Module and CONSTANT_Package.
type ConstantModule struct {
	Package   bool
	NameIndex uint16
}

func (*ConstantUtf8) Tag() Tag               { return TagUtf8 }
func (*ConstantInteger) Tag() Tag            { return TagInteger }
func (*ConstantFloat) Tag() Tag              { return TagFloat }
func (*ConstantLong) Tag() Tag               { return TagLong }
func (*ConstantDouble) Tag() Tag             { return TagDouble }
func (*ConstantClass) Tag() Tag              { return TagClass }
func (*ConstantString) Tag() Tag             { return TagString }
func (*ConstantFieldref) Tag() Tag           { return TagFieldref }
func (*ConstantMethodref) Tag() Tag          { return TagMethodref }
func (*ConstantInterfaceMethodref) Tag() Tag { return TagInterfaceMethodref }
func (*ConstantNameAndType) Tag() Tag        { return TagNameAndType }
func (*ConstantMethodHandle) Tag() Tag       { return TagMethodHandle }
func (*ConstantMethodType) Tag() Tag         { return TagMethodType }

func (c *ConstantDynamic) Tag() Tag {
	if c.Invoke {
		return TagInvokeDynamic
	}
	return TagDynamic
}

func (c *ConstantModule) Tag() Tag {
	if c.Package {
		return TagPackage
	}
	return TagModule
}

// ConstantPool is 1-indexed: element 0 and the slot following each Long or
// Double are nil.
type ConstantPool []ConstantPoolEntry

// Count is the constant_pool_count written in the class file.
func (p ConstantPool) Count() int { return len(p) }

// Entry returns the entry at index or ErrInvalidIndex.
func (p ConstantPool) Entry(index uint16) (ConstantPoolEntry, error) {
	if index == 0 || int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("%w: %d (pool size %d)", ErrInvalidIndex, index, len(p))
	}
	return p[index], nil
}

func mismatch(index uint16, want Tag, got ConstantPoolEntry) error {
	return fmt.Errorf("%w: index %d is %s, want %s", ErrTagMismatch, index, got.Tag(), want)
}

// Utf8 returns the string stored in a CONSTANT_Utf8 entry.
func (p ConstantPool) Utf8(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	switch c := e.(type) {
	case *ConstantUtf8:
		return c.Value, nil
	default:
		return "", mismatch(index, TagUtf8, e)
	}
}

// ClassName returns the name referenced by a CONSTANT_Class entry.
func (p ConstantPool) ClassName(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	switch c := e.(type) {
	case *ConstantClass:
		return p.Utf8(c.NameIndex)
	default:
		return "", mismatch(index, TagClass, e)
	}
}

// StringValue returns the text referenced by a CONSTANT_String entry.
func (p ConstantPool) StringValue(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	switch c := e.(type) {
	case *ConstantString:
		return p.Utf8(c.StringIndex)
	default:
		return "", mismatch(index, TagString, e)
	}
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", mismatch(index, TagNameAndType, e)
	}
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	if descriptor, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
	Interface  bool
}

func (r *MemberRef) String() string {
	return r.ClassName + "." + r.Name + ":" + r.Descriptor
}

func (p ConstantPool) memberRef(index uint16, classIndex, natIndex uint16) (*MemberRef, error) {
	className, err := p.ClassName(classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving class of member ref %d: %w", index, err)
	}
	name, desc, err := p.NameAndType(natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member ref %d: %w", index, err)
	}
	return &MemberRef{ClassName: className, Name: name, Descriptor: desc}, nil
}

// Fieldref resolves a CONSTANT_Fieldref entry.
func (p ConstantPool) Fieldref(index uint16) (*MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return nil, err
	}
	switch c := e.(type) {
	case *ConstantFieldref:
		return p.memberRef(index, c.ClassIndex, c.NameAndTypeIndex)
	default:
		return nil, mismatch(index, TagFieldref, e)
	}
}

// Methodref resolves a CONSTANT_Methodref entry.
func (p ConstantPool) Methodref(index uint16) (*MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return nil, err
	}
	switch c := e.(type) {
	case *ConstantMethodref:
		return p.memberRef(index, c.ClassIndex, c.NameAndTypeIndex)
	default:
		return nil, mismatch(index, TagMethodref, e)
	}
}

// InterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func (p ConstantPool) InterfaceMethodref(index uint16) (*MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return nil, err
	}
	switch c := e.(type) {
	case *ConstantInterfaceMethodref:
		ref, err := p.memberRef(index, c.ClassIndex, c.NameAndTypeIndex)
		if err != nil {
			return nil, err
		}
		ref.Interface = true
		return ref, nil
	default:
		return nil, mismatch(index, TagInterfaceMethodref, e)
	}
}

// AnyMethodref accepts either method reference variant. invokestatic and
// invokespecial may name interface methods since class version 52.
func (p ConstantPool) AnyMethodref(index uint16) (*MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return nil, err
	}
	switch e.(type) {
	case *ConstantMethodref:
		return p.Methodref(index)
	case *ConstantInterfaceMethodref:
		return p.InterfaceMethodref(index)
	default:
		return nil, mismatch(index, TagMethodref, e)
	}
}

// Loadable is the result of resolving an ldc operand.
type Loadable struct {
	Tag    Tag
	Int    int32
	Float  float32
	Long   int64
	Double float64
	Text   string // String value or Class name
}

// Loadable resolves an entry usable by ldc, ldc_w or ldc2_w.
func (p ConstantPool) Loadable(index uint16) (Loadable, error) {
	e, err := p.Entry(index)
	if err != nil {
		return Loadable{}, err
	}
	switch c := e.(type) {
	case *ConstantInteger:
		return Loadable{Tag: TagInteger, Int: c.Value}, nil
	case *ConstantFloat:
		return Loadable{Tag: TagFloat, Float: c.Value}, nil
	case *ConstantLong:
		return Loadable{Tag: TagLong, Long: c.Value}, nil
	case *ConstantDouble:
		return Loadable{Tag: TagDouble, Double: c.Value}, nil
	case *ConstantString:
		s, err := p.Utf8(c.StringIndex)
		if err != nil {
			return Loadable{}, err
		}
		return Loadable{Tag: TagString, Text: s}, nil
	case *ConstantClass:
		s, err := p.Utf8(c.NameIndex)
		if err != nil {
			return Loadable{}, err
		}
		return Loadable{Tag: TagClass, Text: s}, nil
	default:
		return Loadable{}, fmt.Errorf("%w: index %d is %s, not loadable", ErrTagMismatch, index, e.Tag())
	}
}

// parseConstantPool reads constant_pool_count-1 entries.
func parseConstantPool(r *reader, count uint16) (ConstantPool, error) {
	pool := make(ConstantPool, count)

	for i := uint16(1); i < count; i++ {
		tagOffset := r.offset()
		t, err := r.u1("constant pool tag")
		if err != nil {
			return nil, err
		}

		switch Tag(t) {
		case TagUtf8:
			n, err := r.u2("Utf8 length")
			if err != nil {
				return nil, err
			}
			start := r.offset()
			raw, err := r.bytes(int(n), "Utf8 bytes")
			if err != nil {
				return nil, err
			}
			s, err := decodeModifiedUTF8(raw)
			if err != nil {
				return nil, r.errorAt(start, fmt.Sprintf("Utf8 at index %d", i), err)
			}
			pool[i] = &ConstantUtf8{Value: s}

		case TagInteger:
			v, err := r.u4("Integer")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantInteger{Value: int32(v)}

		case TagFloat:
			v, err := r.u4("Float")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(v)}

		case TagLong, TagDouble:
			v, err := r.u8(Tag(t).String())
			if err != nil {
				return nil, err
			}
			if i+1 >= count {
				return nil, r.errorAt(tagOffset, fmt.Sprintf("%s at index %d has no second slot", Tag(t), i), nil)
			}
			if Tag(t) == TagLong {
				pool[i] = &ConstantLong{Value: int64(v)}
			} else {
				pool[i] = &ConstantDouble{Value: math.Float64frombits(v)}
			}
			i++ // the next slot is unusable

		case TagClass:
			v, err := r.u2("Class name_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantClass{NameIndex: v}

		case TagString:
			v, err := r.u2("String string_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantString{StringIndex: v}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIndex, err := r.u2("class_index")
			if err != nil {
				return nil, err
			}
			natIndex, err := r.u2("name_and_type_index")
			if err != nil {
				return nil, err
			}
			switch Tag(t) {
			case TagFieldref:
				pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			case TagMethodref:
				pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			default:
				pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			}

		case TagNameAndType:
			nameIndex, err := r.u2("NameAndType name_index")
			if err != nil {
				return nil, err
			}
			descIndex, err := r.u2("NameAndType descriptor_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			kind, err := r.u1("MethodHandle reference_kind")
			if err != nil {
				return nil, err
			}
			ref, err := r.u2("MethodHandle reference_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref}

		case TagMethodType:
			v, err := r.u2("MethodType descriptor_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: v}

		case TagDynamic, TagInvokeDynamic:
			bsm, err := r.u2("bootstrap_method_attr_index")
			if err != nil {
				return nil, err
			}
			nat, err := r.u2("name_and_type_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantDynamic{Invoke: Tag(t) == TagInvokeDynamic, BootstrapMethodAttrIndex: bsm, NameAndTypeIndex: nat}

		case TagModule, TagPackage:
			v, err := r.u2("name_index")
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantModule{Package: Tag(t) == TagPackage, NameIndex: v}

		default:
			return nil, r.errorAt(tagOffset, fmt.Sprintf("unknown constant pool tag %d at index %d", t, i), nil)
		}
	}

	return pool, nil
}

// checkReferences verifies that every index stored inside an entry points
// at a usable slot of the pool. Variant checks happen at resolution time.
func (p ConstantPool) checkReferences() error {
	check := func(at int, ref uint16, what string) error {
		if ref == 0 || int(ref) >= len(p) || p[ref] == nil {
			return fmt.Errorf("entry %d: %s %d out of range (pool size %d)", at, what, ref, len(p))
		}
		return nil
	}
	for i, e := range p {
		var err error
		switch c := e.(type) {
		case nil:
		case *ConstantUtf8, *ConstantInteger, *ConstantFloat, *ConstantLong, *ConstantDouble:
		case *ConstantClass:
			err = check(i, c.NameIndex, "name_index")
		case *ConstantString:
			err = check(i, c.StringIndex, "string_index")
		case *ConstantFieldref:
			err = errors.Join(check(i, c.ClassIndex, "class_index"), check(i, c.NameAndTypeIndex, "name_and_type_index"))
		case *ConstantMethodref:
			err = errors.Join(check(i, c.ClassIndex, "class_index"), check(i, c.NameAndTypeIndex, "name_and_type_index"))
		case *ConstantInterfaceMethodref:
			err = errors.Join(check(i, c.ClassIndex, "class_index"), check(i, c.NameAndTypeIndex, "name_and_type_index"))
		case *ConstantNameAndType:
			err = errors.Join(check(i, c.NameIndex, "name_index"), check(i, c.DescriptorIndex, "descriptor_index"))
		case *ConstantMethodHandle:
			err = check(i, c.ReferenceIndex, "reference_index")
		case *ConstantMethodType:
			err = check(i, c.DescriptorIndex, "descriptor_index")
		case *ConstantDynamic:
			err = check(i, c.NameAndTypeIndex, "name_and_type_index")
		case *ConstantModule:
			err = check(i, c.NameIndex, "name_index")
		}
		if err != nil {
			return err
		}
	}
	return nil
}
