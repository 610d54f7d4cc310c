package classfile

import (
	"fmt"
	"strings"
)

// MethodDescriptor is a parsed method descriptor such as "(IJ[Ljava/lang/String;)V".
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits a method descriptor into field types.
func ParseMethodDescriptor(descriptor string) (*MethodDescriptor, error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	d := &MethodDescriptor{}
	i := 1
	for i < len(descriptor) && descriptor[i] != ')' {
		t, next, err := fieldType(descriptor, i)
		if err != nil {
			return nil, err
		}
		d.Params = append(d.Params, t)
		i = next
	}
	if i >= len(descriptor) {
		return nil, fmt.Errorf("invalid method descriptor: %s (missing ')')", descriptor)
	}
	i++
	if i < len(descriptor) && descriptor[i] == 'V' && i+1 == len(descriptor) {
		d.Return = "V"
		return d, nil
	}
	t, next, err := fieldType(descriptor, i)
	if err != nil {
		return nil, err
	}
	if next != len(descriptor) {
		return nil, fmt.Errorf("invalid method descriptor: %s (trailing characters)", descriptor)
	}
	d.Return = t
	return d, nil
}

// ArgSlots is the number of operand stack words the parameters occupy,
// not counting the receiver.
func (d *MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += FieldSlots(p)
	}
	return n
}

// ReturnSlots is 0 for void, 2 for long and double, 1 otherwise.
func (d *MethodDescriptor) ReturnSlots() int {
	if d.Return == "V" {
		return 0
	}
	return FieldSlots(d.Return)
}

// FieldSlots returns the number of 32-bit words a value of the given field
// type occupies.
func FieldSlots(descriptor string) int {
	if descriptor == "J" || descriptor == "D" {
		return 2
	}
	return 1
}

// IsReference reports whether a field type is a class or array type.
func IsReference(descriptor string) bool {
	return strings.HasPrefix(descriptor, "L") || strings.HasPrefix(descriptor, "[")
}

func fieldType(s string, i int) (string, int, error) {
	start := i
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return "", 0, fmt.Errorf("invalid type descriptor in %s", s)
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return s[start : i+1], i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return "", 0, fmt.Errorf("unterminated class type in %s", s)
		}
		return s[start : i+end+1], i + end + 1, nil
	default:
		return "", 0, fmt.Errorf("invalid type descriptor char '%c' in %s", s[i], s)
	}
}
