package native

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/daimatz/minijvm/pkg/vm"
)

// formatFloating renders a float or double the way Float.toString and
// Double.toString do. bits is 32 or 64.
func formatFloating(d float64, bits int) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	case d == 0:
		if math.Signbit(d) {
			return "-0.0"
		}
		return "0.0"
	}
	if a := math.Abs(d); a >= 1e-3 && a < 1e7 {
		s := strconv.FormatFloat(d, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(d, 'E', -1, bits), "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	sign := ""
	if exp[0] == '-' {
		sign = "-"
	}
	return mant + "E" + sign + strings.TrimLeft(exp[1:], "0")
}

func formatChar(c uint16) string {
	return string(rune(c))
}

// dotted converts an internal name to the binary name Java prints.
func dotted(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// identityHash is the hash Object.hashCode reports. Handles are never
// reused, so it is stable for the life of the heap.
func identityHash(ref vm.Ref) int32 {
	return int32(uint32(ref) * 0x9E3779B1)
}

// stringOf is String.valueOf(Object) for objects whose state the runtime
// knows; any other object prints as Class@hash.
func stringOf(env *vm.Env, ref vm.Ref) (string, error) {
	if ref == vm.Null {
		return "null", nil
	}
	cls, err := env.Heap.ClassOf(ref)
	if err != nil {
		return "", err
	}
	if obj, err := env.Heap.Object(ref); err == nil {
		switch v := obj.Native.(type) {
		case string:
			if cls == classClass {
				return "class " + dotted(v), nil
			}
			return v, nil
		case int32:
			return strconv.Itoa(int(v)), nil
		case *StringBuilder:
			return v.String(), nil
		}
		if env.VM.Registry.IsAssignable(cls, classThrowable) {
			return throwableString(env, obj)
		}
	}
	return fmt.Sprintf("%s@%x", dotted(cls), uint32(identityHash(ref))), nil
}
