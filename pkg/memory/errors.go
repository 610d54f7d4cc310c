package memory

import "errors"

var (
	ErrMethodNotFound               = errors.New("method not found")
	ErrNoCode                       = errors.New("method has no Code attribute")
	ErrCallStackOverflow            = errors.New("call stack overflow")
	ErrEmptyCallStack               = errors.New("empty call stack")
	ErrOperandStackOverflow         = errors.New("operand stack overflow")
	ErrOperandStackUnderflow        = errors.New("operand stack underflow")
	ErrLocalVariableIndexOutOfRange = errors.New("local variable index out of range")
	ErrThreadTerminated             = errors.New("thread terminated")
)
