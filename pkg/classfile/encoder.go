package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u8(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Encode re-derives the byte layout of cf. Code and ConstantValue
// attributes are rebuilt from their parsed form; other attributes are
// written back verbatim, so Encode(Decode(b)) reproduces b.
func Encode(cf *ClassFile) ([]byte, error) {
	w := &writer{}
	w.u4(classMagic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	if len(cf.ConstantPool) == 0 || len(cf.ConstantPool) > math.MaxUint16 {
		return nil, fmt.Errorf("constant pool size %d out of range", len(cf.ConstantPool))
	}
	w.u2(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		if err := encodeEntry(w, cf.ConstantPool[i]); err != nil {
			return nil, fmt.Errorf("encoding constant %d: %w", i, err)
		}
		switch cf.ConstantPool[i].(type) {
		case *ConstantLong, *ConstantDouble:
			i++
		}
	}

	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, idx := range cf.Interfaces {
		w.u2(idx)
	}

	w.u2(uint16(len(cf.Fields)))
	for i := range cf.Fields {
		f := &cf.Fields[i]
		w.u2(f.AccessFlags)
		w.u2(f.NameIndex)
		w.u2(f.DescriptorIndex)
		w.u2(uint16(len(f.Attributes)))
		for _, a := range f.Attributes {
			data := a.Data
			if a.Name == AttrConstantValue && f.ConstantValue != nil {
				data = binary.BigEndian.AppendUint16(nil, f.ConstantValue.Index)
			}
			encodeAttribute(w, a.NameIndex, data)
		}
	}

	w.u2(uint16(len(cf.Methods)))
	for i := range cf.Methods {
		m := &cf.Methods[i]
		w.u2(m.AccessFlags)
		w.u2(m.NameIndex)
		w.u2(m.DescriptorIndex)
		w.u2(uint16(len(m.Attributes)))
		for _, a := range m.Attributes {
			data := a.Data
			if a.Name == AttrCode && m.Code != nil {
				data = EncodeCode(m.Code)
			}
			encodeAttribute(w, a.NameIndex, data)
		}
	}

	w.u2(uint16(len(cf.Attributes)))
	for _, a := range cf.Attributes {
		encodeAttribute(w, a.NameIndex, a.Data)
	}
	return w.buf, nil
}

// EncodeCode serializes the body of a Code attribute.
func EncodeCode(code *CodeAttribute) []byte {
	w := &writer{}
	w.u2(code.MaxStack)
	w.u2(code.MaxLocals)
	w.u4(uint32(len(code.Code)))
	w.raw(code.Code)
	w.u2(uint16(len(code.ExceptionTable)))
	for _, e := range code.ExceptionTable {
		w.u2(e.StartPC)
		w.u2(e.EndPC)
		w.u2(e.HandlerPC)
		w.u2(e.CatchType)
	}
	w.u2(uint16(len(code.Attributes)))
	for _, a := range code.Attributes {
		encodeAttribute(w, a.NameIndex, a.Data)
	}
	return w.buf
}

func encodeAttribute(w *writer, nameIndex uint16, data []byte) {
	w.u2(nameIndex)
	w.u4(uint32(len(data)))
	w.raw(data)
}

func encodeEntry(w *writer, e ConstantPoolEntry) error {
	if e == nil {
		return fmt.Errorf("unexpected empty slot")
	}
	w.u1(uint8(e.Tag()))
	switch c := e.(type) {
	case *ConstantUtf8:
		b := encodeModifiedUTF8(c.Value)
		if len(b) > math.MaxUint16 {
			return fmt.Errorf("Utf8 constant too long (%d bytes)", len(b))
		}
		w.u2(uint16(len(b)))
		w.raw(b)
	case *ConstantInteger:
		w.u4(uint32(c.Value))
	case *ConstantFloat:
		w.u4(math.Float32bits(c.Value))
	case *ConstantLong:
		w.u8(uint64(c.Value))
	case *ConstantDouble:
		w.u8(math.Float64bits(c.Value))
	case *ConstantClass:
		w.u2(c.NameIndex)
	case *ConstantString:
		w.u2(c.StringIndex)
	case *ConstantFieldref:
		w.u2(c.ClassIndex)
		w.u2(c.NameAndTypeIndex)
	case *ConstantMethodref:
		w.u2(c.ClassIndex)
		w.u2(c.NameAndTypeIndex)
	case *ConstantInterfaceMethodref:
		w.u2(c.ClassIndex)
		w.u2(c.NameAndTypeIndex)
	case *ConstantNameAndType:
		w.u2(c.NameIndex)
		w.u2(c.DescriptorIndex)
	case *ConstantMethodHandle:
		w.u1(c.ReferenceKind)
		w.u2(c.ReferenceIndex)
	case *ConstantMethodType:
		w.u2(c.DescriptorIndex)
	case *ConstantDynamic:
		w.u2(c.BootstrapMethodAttrIndex)
		w.u2(c.NameAndTypeIndex)
	case *ConstantModule:
		w.u2(c.NameIndex)
	default:
		return fmt.Errorf("unknown constant type %T", e)
	}
	return nil
}
