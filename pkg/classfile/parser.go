package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// Decoder decodes class files whose major version lies within
// [MinMajorVersion, MaxMajorVersion].
type Decoder struct {
	MinMajorVersion uint16
	MaxMajorVersion uint16
}

// DefaultDecoder accepts JDK 1.1 (45) through Java 25 (69).
var DefaultDecoder = &Decoder{MinMajorVersion: 45, MaxMajorVersion: 69}

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DefaultDecoder.Decode(data)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class data: %w", err)
	}
	return DefaultDecoder.Decode(data)
}

// Decode decodes data with DefaultDecoder.
func Decode(data []byte) (*ClassFile, error) {
	return DefaultDecoder.Decode(data)
}

// Decode decodes a complete class file. On failure it returns a nil
// ClassFile and a *FormatError.
func (d *Decoder) Decode(data []byte) (*ClassFile, error) {
	r := newReader(data)
	cf := &ClassFile{}

	// Magic number
	magic, err := r.u4("magic")
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, r.errorAt(0, fmt.Sprintf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic), nil)
	}

	// Version
	if cf.MinorVersion, err = r.u2("minor version"); err != nil {
		return nil, err
	}
	versionOffset := r.offset()
	if cf.MajorVersion, err = r.u2("major version"); err != nil {
		return nil, err
	}
	if cf.MajorVersion < d.MinMajorVersion || cf.MajorVersion > d.MaxMajorVersion {
		return nil, r.errorAt(versionOffset, fmt.Sprintf("unsupported class version %d.%d (accepted major %d..%d)",
			cf.MajorVersion, cf.MinorVersion, d.MinMajorVersion, d.MaxMajorVersion), nil)
	}

	// Constant pool
	poolOffset := r.offset()
	cpCount, err := r.u2("constant pool count")
	if err != nil {
		return nil, err
	}
	if cpCount == 0 {
		return nil, r.errorAt(poolOffset, "constant pool count is 0", nil)
	}
	if cf.ConstantPool, err = parseConstantPool(r, cpCount); err != nil {
		return nil, err
	}
	if err := cf.ConstantPool.checkReferences(); err != nil {
		return nil, r.errorAt(poolOffset, "constant pool", err)
	}

	// Access flags, this_class, super_class
	if cf.AccessFlags, err = r.u2("access flags"); err != nil {
		return nil, err
	}
	thisOffset := r.offset()
	if cf.ThisClass, err = r.u2("this_class"); err != nil {
		return nil, err
	}
	if _, err := cf.ConstantPool.ClassName(cf.ThisClass); err != nil {
		return nil, r.errorAt(thisOffset, "this_class", err)
	}
	superOffset := r.offset()
	if cf.SuperClass, err = r.u2("super_class"); err != nil {
		return nil, err
	}
	if cf.SuperClass != 0 {
		if _, err := cf.ConstantPool.ClassName(cf.SuperClass); err != nil {
			return nil, r.errorAt(superOffset, "super_class", err)
		}
	}

	// Interfaces
	interfacesCount, err := r.u2("interfaces count")
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		at := r.offset()
		if cf.Interfaces[i], err = r.u2("interface index"); err != nil {
			return nil, err
		}
		if _, err := cf.ConstantPool.ClassName(cf.Interfaces[i]); err != nil {
			return nil, r.errorAt(at, fmt.Sprintf("interface %d", i), err)
		}
	}

	// Fields
	if cf.Fields, err = parseFields(r, cf.ConstantPool); err != nil {
		return nil, err
	}

	// Methods
	if cf.Methods, err = parseMethods(r, cf.ConstantPool); err != nil {
		return nil, err
	}

	// Class-level attributes
	if cf.Attributes, err = parseAttributes(r, cf.ConstantPool); err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, r.errorAt(r.offset(), fmt.Sprintf("%d trailing bytes after class attributes", r.remaining()), nil)
	}
	return cf, nil
}

// member is the shared header of field_info and method_info.
type member struct {
	accessFlags uint16
	nameIndex   uint16
	descIndex   uint16
	name        string
	desc        string
	attrs       []rawAttribute
}

func parseMember(r *reader, pool ConstantPool, kind string, i int) (*member, error) {
	m := &member{}
	var err error
	if m.accessFlags, err = r.u2(kind + " access flags"); err != nil {
		return nil, err
	}
	at := r.offset()
	if m.nameIndex, err = r.u2(kind + " name index"); err != nil {
		return nil, err
	}
	if m.name, err = pool.Utf8(m.nameIndex); err != nil {
		return nil, r.errorAt(at, fmt.Sprintf("resolving %s %d name", kind, i), err)
	}
	at = r.offset()
	if m.descIndex, err = r.u2(kind + " descriptor index"); err != nil {
		return nil, err
	}
	if m.desc, err = pool.Utf8(m.descIndex); err != nil {
		return nil, r.errorAt(at, fmt.Sprintf("resolving %s %d descriptor", kind, i), err)
	}
	if m.attrs, err = parseRawAttributes(r, pool); err != nil {
		return nil, err
	}
	return m, nil
}

func parseFields(r *reader, pool ConstantPool) ([]FieldInfo, error) {
	count, err := r.u2("fields count")
	if err != nil {
		return nil, err
	}
	fields := make([]FieldInfo, count)
	for i := range fields {
		m, err := parseMember(r, pool, "field", i)
		if err != nil {
			return nil, err
		}
		f := FieldInfo{
			AccessFlags:     m.accessFlags,
			NameIndex:       m.nameIndex,
			DescriptorIndex: m.descIndex,
			Name:            m.name,
			Descriptor:      m.desc,
			Attributes:      attributeInfos(m.attrs),
		}
		for _, attr := range m.attrs {
			if attr.Name != AttrConstantValue {
				continue
			}
			lit, err := decodeConstantValue(attr.Data, pool, f.Descriptor)
			if err != nil {
				return nil, r.errorAt(attr.offset, fmt.Sprintf("ConstantValue of field %s", f.Name), err)
			}
			f.ConstantValue = lit
			break
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(r *reader, pool ConstantPool) ([]MethodInfo, error) {
	count, err := r.u2("methods count")
	if err != nil {
		return nil, err
	}
	methods := make([]MethodInfo, count)
	for i := range methods {
		m, err := parseMember(r, pool, "method", i)
		if err != nil {
			return nil, err
		}
		mi := MethodInfo{
			AccessFlags:     m.accessFlags,
			NameIndex:       m.nameIndex,
			DescriptorIndex: m.descIndex,
			Name:            m.name,
			Descriptor:      m.desc,
			Attributes:      attributeInfos(m.attrs),
		}

		// Extract Code attribute
		for _, attr := range m.attrs {
			if attr.Name == AttrCode {
				code, err := parseCodeAttribute(subReader(attr.Data, attr.offset), pool)
				if err != nil {
					return nil, err
				}
				mi.Code = code
				break
			}
		}

		methods[i] = mi
	}
	return methods, nil
}

// rawAttribute pairs an attribute with the absolute offset of its body so
// that nested decoders report absolute offsets.
type rawAttribute struct {
	AttributeInfo
	offset int
}

func parseAttributes(r *reader, pool ConstantPool) ([]AttributeInfo, error) {
	raws, err := parseRawAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	return attributeInfos(raws), nil
}

func attributeInfos(raws []rawAttribute) []AttributeInfo {
	attrs := make([]AttributeInfo, len(raws))
	for i, a := range raws {
		attrs[i] = a.AttributeInfo
	}
	return attrs
}

func parseRawAttributes(r *reader, pool ConstantPool) ([]rawAttribute, error) {
	count, err := r.u2("attributes count")
	if err != nil {
		return nil, err
	}
	attrs := make([]rawAttribute, count)
	for i := range attrs {
		at := r.offset()
		nameIndex, err := r.u2("attribute name index")
		if err != nil {
			return nil, err
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			return nil, r.errorAt(at, fmt.Sprintf("resolving attribute %d name", i), err)
		}
		length, err := r.u4("attribute length")
		if err != nil {
			return nil, err
		}
		body := r.offset()
		data, err := r.bytes(int(length), name+" attribute")
		if err != nil {
			return nil, err
		}
		attrs[i] = rawAttribute{AttributeInfo: AttributeInfo{NameIndex: nameIndex, Name: name, Data: data}, offset: body}
	}
	return attrs, nil
}

func parseCodeAttribute(r *reader, pool ConstantPool) (*CodeAttribute, error) {
	code := &CodeAttribute{}
	var err error
	if code.MaxStack, err = r.u2("Code max_stack"); err != nil {
		return nil, err
	}
	if code.MaxLocals, err = r.u2("Code max_locals"); err != nil {
		return nil, err
	}
	codeLength, err := r.u4("Code code_length")
	if err != nil {
		return nil, err
	}
	if code.Code, err = r.bytes(int(codeLength), "bytecode"); err != nil {
		return nil, err
	}

	// Exception table
	exTableLen, err := r.u2("exception table length")
	if err != nil {
		return nil, err
	}
	code.ExceptionTable = make([]ExceptionTableEntry, exTableLen)
	for i := range code.ExceptionTable {
		e := &code.ExceptionTable[i]
		if e.StartPC, err = r.u2("exception start_pc"); err != nil {
			return nil, err
		}
		if e.EndPC, err = r.u2("exception end_pc"); err != nil {
			return nil, err
		}
		if e.HandlerPC, err = r.u2("exception handler_pc"); err != nil {
			return nil, err
		}
		if e.CatchType, err = r.u2("exception catch_type"); err != nil {
			return nil, err
		}
	}

	if code.Attributes, err = parseAttributes(r, pool); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, r.errorAt(r.offset(), fmt.Sprintf("%d trailing bytes in Code attribute", r.remaining()), nil)
	}
	return code, nil
}
