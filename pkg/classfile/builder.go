package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder assembles a ClassFile in memory, interning constant pool entries.
// The result has the same shape Decode would produce for its encoding.
type Builder struct {
	cf       *ClassFile
	interned map[string]uint16
}

// NewBuilder starts a public class. An empty super leaves super_class 0,
// which only java/lang/Object may do.
func NewBuilder(name, super string) *Builder {
	b := &Builder{
		cf: &ClassFile{
			MajorVersion: 52,
			ConstantPool: ConstantPool{nil},
			AccessFlags:  AccPublic | AccSuper,
			Interfaces:   []uint16{},
			Fields:       []FieldInfo{},
			Methods:      []MethodInfo{},
			Attributes:   []AttributeInfo{},
		},
		interned: make(map[string]uint16),
	}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	return b
}

func (b *Builder) intern(key string, wide bool, mk func() ConstantPoolEntry) uint16 {
	if idx, ok := b.interned[key]; ok {
		return idx
	}
	idx := uint16(len(b.cf.ConstantPool))
	b.cf.ConstantPool = append(b.cf.ConstantPool, mk())
	if wide {
		b.cf.ConstantPool = append(b.cf.ConstantPool, nil)
	}
	b.interned[key] = idx
	return idx
}

func (b *Builder) Utf8(s string) uint16 {
	return b.intern("Utf8:"+s, false, func() ConstantPoolEntry { return &ConstantUtf8{Value: s} })
}

func (b *Builder) Class(name string) uint16 {
	n := b.Utf8(name)
	return b.intern("Class:"+name, false, func() ConstantPoolEntry { return &ConstantClass{NameIndex: n} })
}

func (b *Builder) String(s string) uint16 {
	n := b.Utf8(s)
	return b.intern("String:"+s, false, func() ConstantPoolEntry { return &ConstantString{StringIndex: n} })
}

func (b *Builder) Integer(v int32) uint16 {
	return b.intern(fmt.Sprintf("Integer:%d", v), false, func() ConstantPoolEntry { return &ConstantInteger{Value: v} })
}

func (b *Builder) Float(v float32) uint16 {
	return b.intern(fmt.Sprintf("Float:%x", math.Float32bits(v)), false, func() ConstantPoolEntry { return &ConstantFloat{Value: v} })
}

func (b *Builder) Long(v int64) uint16 {
	return b.intern(fmt.Sprintf("Long:%d", v), true, func() ConstantPoolEntry { return &ConstantLong{Value: v} })
}

func (b *Builder) Double(v float64) uint16 {
	return b.intern(fmt.Sprintf("Double:%x", math.Float64bits(v)), true, func() ConstantPoolEntry { return &ConstantDouble{Value: v} })
}

func (b *Builder) NameAndType(name, descriptor string) uint16 {
	n, d := b.Utf8(name), b.Utf8(descriptor)
	return b.intern("NameAndType:"+name+":"+descriptor, false, func() ConstantPoolEntry {
		return &ConstantNameAndType{NameIndex: n, DescriptorIndex: d}
	})
}

func (b *Builder) Fieldref(class, name, descriptor string) uint16 {
	c, nat := b.Class(class), b.NameAndType(name, descriptor)
	return b.intern("Fieldref:"+class+"."+name+":"+descriptor, false, func() ConstantPoolEntry {
		return &ConstantFieldref{ClassIndex: c, NameAndTypeIndex: nat}
	})
}

func (b *Builder) Methodref(class, name, descriptor string) uint16 {
	c, nat := b.Class(class), b.NameAndType(name, descriptor)
	return b.intern("Methodref:"+class+"."+name+":"+descriptor, false, func() ConstantPoolEntry {
		return &ConstantMethodref{ClassIndex: c, NameAndTypeIndex: nat}
	})
}

func (b *Builder) InterfaceMethodref(class, name, descriptor string) uint16 {
	c, nat := b.Class(class), b.NameAndType(name, descriptor)
	return b.intern("InterfaceMethodref:"+class+"."+name+":"+descriptor, false, func() ConstantPoolEntry {
		return &ConstantInterfaceMethodref{ClassIndex: c, NameAndTypeIndex: nat}
	})
}

// Flags replaces the class access flags.
func (b *Builder) Flags(flags uint16) *Builder {
	b.cf.AccessFlags = flags
	return b
}

func (b *Builder) Interface(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

func (b *Builder) Field(flags uint16, name, descriptor string) *Builder {
	b.cf.Fields = append(b.cf.Fields, FieldInfo{
		AccessFlags:     flags,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(descriptor),
		Name:            name,
		Descriptor:      descriptor,
		Attributes:      []AttributeInfo{},
	})
	return b
}

// ConstantField adds a field with a ConstantValue attribute. value must be
// an int32, int64, float32, float64 or string matching descriptor.
func (b *Builder) ConstantField(flags uint16, name, descriptor string, value any) *Builder {
	lit := &Literal{}
	switch v := value.(type) {
	case int32:
		lit.Kind, lit.Int, lit.Index = LiteralInt, v, b.Integer(v)
	case int64:
		lit.Kind, lit.Long, lit.Index = LiteralLong, v, b.Long(v)
	case float32:
		lit.Kind, lit.Float, lit.Index = LiteralFloat, v, b.Float(v)
	case float64:
		lit.Kind, lit.Double, lit.Index = LiteralDouble, v, b.Double(v)
	case string:
		lit.Kind, lit.String, lit.Index = LiteralString, v, b.String(v)
	default:
		panic(fmt.Sprintf("classfile: unsupported constant %T", value))
	}
	b.Field(flags, name, descriptor)
	f := &b.cf.Fields[len(b.cf.Fields)-1]
	f.ConstantValue = lit
	f.Attributes = append(f.Attributes, AttributeInfo{
		NameIndex: b.Utf8(AttrConstantValue),
		Name:      AttrConstantValue,
		Data:      binary.BigEndian.AppendUint16(nil, lit.Index),
	})
	return b
}

// Method adds a method. code is nil for native or abstract methods.
func (b *Builder) Method(flags uint16, name, descriptor string, code *CodeAttribute) *Builder {
	m := MethodInfo{
		AccessFlags:     flags,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(descriptor),
		Name:            name,
		Descriptor:      descriptor,
		Attributes:      []AttributeInfo{},
		Code:            code,
	}
	if code != nil {
		if code.ExceptionTable == nil {
			code.ExceptionTable = []ExceptionTableEntry{}
		}
		if code.Attributes == nil {
			code.Attributes = []AttributeInfo{}
		}
		m.Attributes = append(m.Attributes, AttributeInfo{
			NameIndex: b.Utf8(AttrCode),
			Name:      AttrCode,
			Data:      EncodeCode(code),
		})
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return b
}

// Build returns the assembled class. The Builder must not be used after.
func (b *Builder) Build() *ClassFile {
	return b.cf
}

// Bytes encodes the assembled class.
func (b *Builder) Bytes() ([]byte, error) {
	return Encode(b.cf)
}
