package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daimatz/minijvm/pkg/bytecode"
)

var (
	ErrClassNotFound     = errors.New("class not found")
	ErrFieldResolution   = errors.New("field resolution error")
	ErrNullReference     = errors.New("null reference")
	ErrBadReference      = errors.New("invalid heap reference")
	ErrPCOutOfRange      = errors.New("program counter out of range")
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrNativeNotFound    = errors.New("native method not bound")
	ErrHeapExhausted     = errors.New("array element budget exhausted")
)

// FaultError terminates a thread in the faulted state. It wraps the
// integrity failure that caused it.
type FaultError struct {
	Thread   string
	Location string // Class.method(desc), empty when no frame was current
	PC       int
	Op       bytecode.Opcode
	Err      error
}

func (e *FaultError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("thread %q faulted: %v", e.Thread, e.Err)
	}
	return fmt.Sprintf("thread %q faulted in %s at pc %d (%s): %v", e.Thread, e.Location, e.PC, e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// UncaughtError terminates a thread whose exception found no handler.
// Trace lists the frames active when it was thrown, innermost first.
type UncaughtError struct {
	Thread    string
	Exception *JavaException
	Trace     []string
}

func (e *UncaughtError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Exception in thread %q %s", e.Thread, e.Exception.Error())
	for _, line := range e.Trace {
		sb.WriteString("\n\tat ")
		sb.WriteString(line)
	}
	return sb.String()
}

func (e *UncaughtError) Unwrap() error { return e.Exception }
