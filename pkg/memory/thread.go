package memory

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/daimatz/minijvm/pkg/classfile"
)

// DefaultMaxDepth bounds the call stack when NewThread is given 0.
const DefaultMaxDepth = 1024

// ClassRegistry looks up decoded classes by internal name.
type ClassRegistry interface {
	LookupClass(name string) (*classfile.ClassFile, error)
}

// Status is the lifecycle state of a Thread. Every status other than
// StatusRunning is final.
type Status int

const (
	StatusRunning Status = iota
	StatusReturned
	StatusUncaughtException
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusReturned:
		return "returned"
	case StatusUncaughtException:
		return "uncaught-exception"
	case StatusFaulted:
		return "faulted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) Terminal() bool { return s != StatusRunning }

// Thread is an independent execution context. Its frames form an arena in
// which the last element is the current frame. A Thread is driven by one
// run loop at a time.
type Thread struct {
	ID   string
	Name string

	registry ClassRegistry
	frames   []*Frame
	maxDepth int

	status Status
	result []Word
	err    error
}

// NewThread creates an empty running thread.
func NewThread(name string, registry ClassRegistry, maxDepth int) *Thread {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Thread{
		ID:       uuid.NewString(),
		Name:     name,
		registry: registry,
		frames:   make([]*Frame, 0, min(maxDepth, 64)),
		maxDepth: maxDepth,
	}
}

func (t *Thread) Registry() ClassRegistry { return t.registry }

func (t *Thread) MaxDepth() int { return t.maxDepth }

// Depth is the number of frames on the call stack.
func (t *Thread) Depth() int { return len(t.frames) }

// PushFrame resolves methodName/descriptor declared in className, allocates
// its frame and makes it current. On error the call stack is unchanged.
func (t *Thread) PushFrame(className, methodName, descriptor string) (*Frame, error) {
	if t.status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrThreadTerminated, t.status)
	}
	if len(t.frames) >= t.maxDepth {
		return nil, fmt.Errorf("%w (max depth: %d) calling %s.%s%s",
			ErrCallStackOverflow, t.maxDepth, className, methodName, descriptor)
	}
	class, err := t.registry.LookupClass(className)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s%s: %w", ErrMethodNotFound, className, methodName, descriptor, err)
	}
	method := class.FindMethod(methodName, descriptor)
	if method == nil {
		return nil, fmt.Errorf("%w: %s.%s%s", ErrMethodNotFound, className, methodName, descriptor)
	}
	frame, err := NewFrame(className, class, method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMethodNotFound, err)
	}
	t.frames = append(t.frames, frame)
	return frame, nil
}

// PopFrame removes and returns the current frame. Popping the last frame
// leaves the thread frame-less in StatusReturned with no result; callers
// with a return value or an exception use Terminate instead.
func (t *Thread) PopFrame() (*Frame, error) {
	n := len(t.frames)
	if n == 0 {
		return nil, ErrEmptyCallStack
	}
	f := t.frames[n-1]
	t.frames[n-1] = nil
	t.frames = t.frames[:n-1]
	if n == 1 && !t.status.Terminal() {
		t.status = StatusReturned
	}
	return f, nil
}

// CurrentFrame returns the top of the call stack.
func (t *Thread) CurrentFrame() (*Frame, error) {
	if len(t.frames) == 0 {
		return nil, ErrEmptyCallStack
	}
	return t.frames[len(t.frames)-1], nil
}

// Frames returns the active frames, outermost first.
func (t *Thread) Frames() []*Frame {
	return append([]*Frame(nil), t.frames...)
}

// PushOperand pushes onto the current frame's operand stack. It behaves
// exactly like Frame.Push on the current frame.
func (t *Thread) PushOperand(w Word) error {
	f, err := t.CurrentFrame()
	if err != nil {
		return err
	}
	return f.Push(w)
}

// PopOperand pops from the current frame's operand stack.
func (t *Thread) PopOperand() (Word, error) {
	f, err := t.CurrentFrame()
	if err != nil {
		return 0, err
	}
	return f.Pop()
}

func (t *Thread) Status() Status { return t.status }

// Result is the return value of the outermost frame once the thread has
// returned.
func (t *Thread) Result() []Word { return t.result }

// Err is the error recorded at termination, if any.
func (t *Thread) Err() error { return t.err }

// Terminate moves the thread into a final status and discards its frames.
func (t *Thread) Terminate(status Status, result []Word, err error) error {
	if t.status.Terminal() {
		return fmt.Errorf("%w: already %s", ErrThreadTerminated, t.status)
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot terminate with status %s", status)
	}
	for i := range t.frames {
		t.frames[i] = nil
	}
	t.frames = t.frames[:0]
	t.status, t.result, t.err = status, result, err
	return nil
}

// StackTrace renders the active frames, innermost first.
func (t *Thread) StackTrace() []string {
	trace := make([]string, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		trace = append(trace, t.frames[i].String())
	}
	return trace
}
