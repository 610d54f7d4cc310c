// Package disasm renders decoded class files as a javap-style listing: the
// class header, the constant pool, fields, and each method's code with
// resolved operands and exception tables.
package disasm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/classfile"
)

type flagName struct {
	bit  uint16
	name string
}

var (
	classFlags = []flagName{
		{classfile.AccPublic, "ACC_PUBLIC"},
		{classfile.AccFinal, "ACC_FINAL"},
		{classfile.AccSuper, "ACC_SUPER"},
		{classfile.AccInterface, "ACC_INTERFACE"},
		{classfile.AccAbstract, "ACC_ABSTRACT"},
		{classfile.AccSynthetic, "ACC_SYNTHETIC"},
		{classfile.AccAnnotation, "ACC_ANNOTATION"},
		{classfile.AccEnum, "ACC_ENUM"},
	}
	fieldFlags = []flagName{
		{classfile.AccPublic, "ACC_PUBLIC"},
		{classfile.AccPrivate, "ACC_PRIVATE"},
		{classfile.AccProtected, "ACC_PROTECTED"},
		{classfile.AccStatic, "ACC_STATIC"},
		{classfile.AccFinal, "ACC_FINAL"},
		{classfile.AccVolatile, "ACC_VOLATILE"},
		{classfile.AccTransient, "ACC_TRANSIENT"},
		{classfile.AccSynthetic, "ACC_SYNTHETIC"},
		{classfile.AccEnum, "ACC_ENUM"},
	}
	methodFlags = []flagName{
		{classfile.AccPublic, "ACC_PUBLIC"},
		{classfile.AccPrivate, "ACC_PRIVATE"},
		{classfile.AccProtected, "ACC_PROTECTED"},
		{classfile.AccStatic, "ACC_STATIC"},
		{classfile.AccFinal, "ACC_FINAL"},
		{classfile.AccSynchronized, "ACC_SYNCHRONIZED"},
		{classfile.AccBridge, "ACC_BRIDGE"},
		{classfile.AccVarargs, "ACC_VARARGS"},
		{classfile.AccNative, "ACC_NATIVE"},
		{classfile.AccAbstract, "ACC_ABSTRACT"},
		{classfile.AccStrict, "ACC_STRICT"},
		{classfile.AccSynthetic, "ACC_SYNTHETIC"},
	}
)

func flagString(flags uint16, names []flagName) string {
	var parts []string
	for _, f := range names {
		if flags&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.TrimSpace(fmt.Sprintf("(0x%04x) %s", flags, strings.Join(parts, ", ")))
}

// printer keeps the first write error so the listing code can stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// WriteClass writes the full listing of cf to w.
func WriteClass(w io.Writer, cf *classfile.ClassFile) error {
	p := &printer{w: w}

	name, err := cf.ClassName()
	if err != nil {
		return fmt.Errorf("class name: %w", err)
	}
	kind := "class"
	if cf.IsInterface() {
		kind = "interface"
	}
	p.printf("%s %s", kind, name)
	if super := cf.SuperClassName(); super != "" {
		p.printf(" extends %s", super)
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return fmt.Errorf("interfaces of %s: %w", name, err)
	}
	if len(ifaces) > 0 {
		p.printf(" implements %s", strings.Join(ifaces, ", "))
	}
	p.printf("\n  minor version: %d\n  major version: %d\n", cf.MinorVersion, cf.MajorVersion)
	p.printf("  flags: %s\n", flagString(cf.AccessFlags, classFlags))

	p.printf("Constant pool:\n")
	for i := 1; i < len(cf.ConstantPool); i++ {
		e := cf.ConstantPool[i]
		if e == nil {
			continue
		}
		value, comment := describeEntry(cf.ConstantPool, e)
		line := fmt.Sprintf("%5s = %-18s %s", "#"+strconv.Itoa(i), e.Tag(), value)
		if comment != "" {
			line = fmt.Sprintf("%-42s // %s", line, comment)
		}
		p.printf("%s\n", strings.TrimRight(line, " "))
	}

	p.printf("{\n")
	for i := range cf.Fields {
		f := &cf.Fields[i]
		p.printf("  %s %s;\n", f.Name, f.Descriptor)
		p.printf("    descriptor: %s\n", f.Descriptor)
		p.printf("    flags: %s\n", flagString(f.AccessFlags, fieldFlags))
		if lit := f.ConstantValue; lit != nil {
			p.printf("    ConstantValue: %s\n", literal(lit))
		}
		p.printf("\n")
	}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		p.printf("  %s%s;\n", m.Name, m.Descriptor)
		p.printf("    descriptor: %s\n", m.Descriptor)
		p.printf("    flags: %s\n", flagString(m.AccessFlags, methodFlags))
		if m.Code != nil {
			if p.err != nil {
				return p.err
			}
			if err := WriteCode(w, cf.ConstantPool, m.Code); err != nil {
				return fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
			}
		}
		if i < len(cf.Methods)-1 {
			p.printf("\n")
		}
	}
	p.printf("}\n")
	return p.err
}

// WriteCode writes the body of one Code attribute: limits, one line per
// instruction and the exception table. Operands that index the constant
// pool are resolved into a trailing comment.
func WriteCode(w io.Writer, pool classfile.ConstantPool, code *classfile.CodeAttribute) error {
	p := &printer{w: w}
	p.printf("    Code:\n")
	p.printf("      stack=%d, locals=%d\n", code.MaxStack, code.MaxLocals)

	for pc := 0; pc < len(code.Code); {
		ins, err := bytecode.Decode(code.Code, pc)
		if err != nil {
			return err
		}
		p.printf("%10d: %s\n", ins.PC, Instruction(pool, ins))
		pc += ins.Len
	}

	if len(code.ExceptionTable) > 0 {
		p.printf("      Exception table:\n")
		p.printf("         from    to  target type\n")
		for _, e := range code.ExceptionTable {
			catch := "any"
			if e.CatchType != 0 {
				name, err := pool.ClassName(e.CatchType)
				if err != nil {
					return fmt.Errorf("catch type: %w", err)
				}
				catch = "Class " + name
			}
			p.printf("        %5d %5d %5d   %s\n", e.StartPC, e.EndPC, e.HandlerPC, catch)
		}
	}
	return p.err
}

var arrayTypes = map[uint8]string{
	4: "boolean", 5: "char", 6: "float", 7: "double",
	8: "byte", 9: "short", 10: "int", 11: "long",
}

// Instruction renders one decoded instruction with its operands.
func Instruction(pool classfile.ConstantPool, ins bytecode.Instruction) string {
	op := ins.Op.String()
	ref := func(index uint16, extra string) string {
		s := fmt.Sprintf("%-14s #%d%s", op, index, extra)
		if c := describeIndex(pool, index); c != "" {
			s = fmt.Sprintf("%-28s // %s", s, c)
		}
		return s
	}

	switch ins.Op {
	case bytecode.OpBipush:
		return fmt.Sprintf("%-14s %d", op, ins.I8(0))
	case bytecode.OpSipush:
		return fmt.Sprintf("%-14s %d", op, ins.I16(0))
	case bytecode.OpLdc:
		return ref(uint16(ins.U8(0)), "")
	case bytecode.OpLdcW, bytecode.OpLdc2W,
		bytecode.OpGetstatic, bytecode.OpPutstatic, bytecode.OpGetfield, bytecode.OpPutfield,
		bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic,
		bytecode.OpInvokedynamic, bytecode.OpNew, bytecode.OpAnewarray,
		bytecode.OpCheckcast, bytecode.OpInstanceof:
		return ref(ins.U16(0), "")
	case bytecode.OpInvokeinterface:
		return ref(ins.U16(0), fmt.Sprintf(",  %d", ins.U8(2)))
	case bytecode.OpMultianewarray:
		return ref(ins.U16(0), fmt.Sprintf(",  %d", ins.U8(2)))
	case bytecode.OpIload, bytecode.OpLload, bytecode.OpFload, bytecode.OpDload, bytecode.OpAload,
		bytecode.OpIstore, bytecode.OpLstore, bytecode.OpFstore, bytecode.OpDstore, bytecode.OpAstore,
		bytecode.OpRet:
		return fmt.Sprintf("%-14s %d", op, ins.U8(0))
	case bytecode.OpIinc:
		return fmt.Sprintf("%-14s %d, %d", op, ins.U8(0), ins.I8(1))
	case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle,
		bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt, bytecode.OpIfIcmpge,
		bytecode.OpIfIcmpgt, bytecode.OpIfIcmple, bytecode.OpIfAcmpeq, bytecode.OpIfAcmpne,
		bytecode.OpGoto, bytecode.OpJsr, bytecode.OpIfnull, bytecode.OpIfnonnull:
		return fmt.Sprintf("%-14s %d", op, ins.PC+int(ins.I16(0)))
	case bytecode.OpGotoW, bytecode.OpJsrW:
		return fmt.Sprintf("%-14s %d", op, ins.PC+int(ins.I32(0)))
	case bytecode.OpNewarray:
		t, ok := arrayTypes[ins.U8(0)]
		if !ok {
			t = fmt.Sprintf("type(%d)", ins.U8(0))
		}
		return fmt.Sprintf("%-14s %s", op, t)
	case bytecode.OpWide:
		wop, index, delta := ins.Wide()
		if wop == bytecode.OpIinc {
			return fmt.Sprintf("%s %s %d, %d", op, wop, index, delta)
		}
		return fmt.Sprintf("%s %s %d", op, wop, index)
	case bytecode.OpTableswitch:
		def, low, offsets := ins.TableSwitch()
		var b strings.Builder
		fmt.Fprintf(&b, "%-14s { // %d to %d\n", op, low, int64(low)+int64(len(offsets))-1)
		for i, off := range offsets {
			fmt.Fprintf(&b, "%24d: %d\n", int64(low)+int64(i), ins.PC+int(off))
		}
		fmt.Fprintf(&b, "%24s: %d\n%12s}", "default", ins.PC+int(def), "")
		return b.String()
	case bytecode.OpLookupswitch:
		def, keys, offsets := ins.LookupSwitch()
		var b strings.Builder
		fmt.Fprintf(&b, "%-14s { // %d\n", op, len(keys))
		for i, k := range keys {
			fmt.Fprintf(&b, "%24d: %d\n", k, ins.PC+int(offsets[i]))
		}
		fmt.Fprintf(&b, "%24s: %d\n%12s}", "default", ins.PC+int(def), "")
		return b.String()
	}
	return op
}

// describeIndex is the comment for an instruction operand. Broken indices
// are shown rather than failing the listing.
func describeIndex(pool classfile.ConstantPool, index uint16) string {
	e, err := pool.Entry(index)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	value, comment := describeEntry(pool, e)
	switch e.(type) {
	case *classfile.ConstantInteger, *classfile.ConstantFloat, *classfile.ConstantLong, *classfile.ConstantDouble:
		return strings.ToLower(e.Tag().String()) + " " + value
	case *classfile.ConstantUtf8:
		return "Utf8 " + value
	}
	if comment == "" {
		return e.Tag().String()
	}
	kind := e.Tag().String()
	switch e.(type) {
	case *classfile.ConstantFieldref:
		kind = "Field"
	case *classfile.ConstantMethodref:
		kind = "Method"
	case *classfile.ConstantInterfaceMethodref:
		kind = "InterfaceMethod"
	}
	return kind + " " + comment
}

// describeEntry returns the raw operand column of a pool entry and the
// resolved comment, if any.
func describeEntry(pool classfile.ConstantPool, e classfile.ConstantPoolEntry) (value, comment string) {
	resolved := func(s string, err error) string {
		if err != nil {
			return "<" + err.Error() + ">"
		}
		return s
	}
	switch c := e.(type) {
	case *classfile.ConstantUtf8:
		return c.Value, ""
	case *classfile.ConstantInteger:
		return strconv.FormatInt(int64(c.Value), 10), ""
	case *classfile.ConstantFloat:
		return strconv.FormatFloat(float64(c.Value), 'g', -1, 32) + "f", ""
	case *classfile.ConstantLong:
		return strconv.FormatInt(c.Value, 10) + "l", ""
	case *classfile.ConstantDouble:
		return strconv.FormatFloat(c.Value, 'g', -1, 64) + "d", ""
	case *classfile.ConstantClass:
		return fmt.Sprintf("#%d", c.NameIndex), resolved(pool.Utf8(c.NameIndex))
	case *classfile.ConstantString:
		return fmt.Sprintf("#%d", c.StringIndex), resolved(pool.Utf8(c.StringIndex))
	case *classfile.ConstantFieldref:
		return member(pool, c.ClassIndex, c.NameAndTypeIndex)
	case *classfile.ConstantMethodref:
		return member(pool, c.ClassIndex, c.NameAndTypeIndex)
	case *classfile.ConstantInterfaceMethodref:
		return member(pool, c.ClassIndex, c.NameAndTypeIndex)
	case *classfile.ConstantNameAndType:
		name, err := pool.Utf8(c.NameIndex)
		if err != nil {
			return fmt.Sprintf("#%d:#%d", c.NameIndex, c.DescriptorIndex), "<" + err.Error() + ">"
		}
		return fmt.Sprintf("#%d:#%d", c.NameIndex, c.DescriptorIndex), quoteSpecial(name) + ":" + resolved(pool.Utf8(c.DescriptorIndex))
	case *classfile.ConstantMethodHandle:
		return fmt.Sprintf("%d:#%d", c.ReferenceKind, c.ReferenceIndex), ""
	case *classfile.ConstantMethodType:
		return fmt.Sprintf("#%d", c.DescriptorIndex), resolved(pool.Utf8(c.DescriptorIndex))
	case *classfile.ConstantDynamic:
		return fmt.Sprintf("#%d:#%d", c.BootstrapMethodAttrIndex, c.NameAndTypeIndex), nameAndType(pool, c.NameAndTypeIndex)
	case *classfile.ConstantModule:
		return fmt.Sprintf("#%d", c.NameIndex), resolved(pool.Utf8(c.NameIndex))
	}
	return "", ""
}

func member(pool classfile.ConstantPool, classIndex, natIndex uint16) (value, comment string) {
	value = fmt.Sprintf("#%d.#%d", classIndex, natIndex)
	class, err := pool.ClassName(classIndex)
	if err != nil {
		return value, "<" + err.Error() + ">"
	}
	return value, class + "." + nameAndType(pool, natIndex)
}

func nameAndType(pool classfile.ConstantPool, index uint16) string {
	name, desc, err := pool.NameAndType(index)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return quoteSpecial(name) + ":" + desc
}

func quoteSpecial(name string) string {
	if name == "<init>" || name == "<clinit>" {
		return strconv.Quote(name)
	}
	return name
}

func literal(lit *classfile.Literal) string {
	switch lit.Kind {
	case classfile.LiteralInt:
		return fmt.Sprintf("int %d", lit.Int)
	case classfile.LiteralLong:
		return fmt.Sprintf("long %dl", lit.Long)
	case classfile.LiteralFloat:
		return "float " + strconv.FormatFloat(float64(lit.Float), 'g', -1, 32) + "f"
	case classfile.LiteralDouble:
		return "double " + strconv.FormatFloat(lit.Double, 'g', -1, 64) + "d"
	case classfile.LiteralString:
		return "String " + lit.String
	}
	return lit.Kind.String()
}
