package classfile

import (
	"encoding/binary"
	"fmt"
)

// LiteralKind is the type of a ConstantValue literal.
type LiteralKind int

const (
	LiteralInt LiteralKind = iota
	LiteralLong
	LiteralFloat
	LiteralDouble
	LiteralString
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralInt:
		return "int"
	case LiteralLong:
		return "long"
	case LiteralFloat:
		return "float"
	case LiteralDouble:
		return "double"
	case LiteralString:
		return "String"
	}
	return fmt.Sprintf("LiteralKind(%d)", int(k))
}

// Literal is a field's ConstantValue, typed by the field descriptor.
// Index is the constant pool entry it was read from.
type Literal struct {
	Kind   LiteralKind
	Index  uint16
	Int    int32
	Long   int64
	Float  float32
	Double float64
	String string
}

func decodeConstantValue(data []byte, pool ConstantPool, descriptor string) (*Literal, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("ConstantValue attribute has length %d, want 2", len(data))
	}
	index := binary.BigEndian.Uint16(data)
	e, err := pool.Entry(index)
	if err != nil {
		return nil, err
	}
	lit := &Literal{Index: index}
	switch descriptor {
	case "I", "S", "C", "B", "Z":
		c, ok := e.(*ConstantInteger)
		if !ok {
			return nil, mismatch(index, TagInteger, e)
		}
		lit.Kind, lit.Int = LiteralInt, c.Value
	case "J":
		c, ok := e.(*ConstantLong)
		if !ok {
			return nil, mismatch(index, TagLong, e)
		}
		lit.Kind, lit.Long = LiteralLong, c.Value
	case "F":
		c, ok := e.(*ConstantFloat)
		if !ok {
			return nil, mismatch(index, TagFloat, e)
		}
		lit.Kind, lit.Float = LiteralFloat, c.Value
	case "D":
		c, ok := e.(*ConstantDouble)
		if !ok {
			return nil, mismatch(index, TagDouble, e)
		}
		lit.Kind, lit.Double = LiteralDouble, c.Value
	case "Ljava/lang/String;":
		s, err := pool.StringValue(index)
		if err != nil {
			return nil, err
		}
		lit.Kind, lit.String = LiteralString, s
	default:
		return nil, fmt.Errorf("field descriptor %q cannot carry a ConstantValue", descriptor)
	}
	return lit, nil
}
