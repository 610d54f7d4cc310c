package memory

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("memory: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FrameSnapshot is the serializable state of one frame.
type FrameSnapshot struct {
	Class       string `cbor:"class"`
	Method      string `cbor:"method"`
	Descriptor  string `cbor:"desc"`
	PC          int    `cbor:"pc"`
	Initializer bool   `cbor:"init,omitempty"`
	Operands    []Word `cbor:"stack"`
	Locals      []Word `cbor:"locals"`
}

// ThreadSnapshot captures a suspended running thread between two
// instructions. Reference words are heap handles of the VM that took it.
type ThreadSnapshot struct {
	ID     string          `cbor:"id"`
	Name   string          `cbor:"name"`
	Frames []FrameSnapshot `cbor:"frames"`
}

// Snapshot records the thread's call stack, outermost frame first.
func (t *Thread) Snapshot() (*ThreadSnapshot, error) {
	if t.status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrThreadTerminated, t.status)
	}
	s := &ThreadSnapshot{ID: t.ID, Name: t.Name, Frames: make([]FrameSnapshot, 0, len(t.frames))}
	for _, f := range t.frames {
		s.Frames = append(s.Frames, FrameSnapshot{
			Class:       f.ClassName,
			Method:      f.Method.Name,
			Descriptor:  f.Method.Descriptor,
			PC:          f.PC,
			Initializer: f.Initializer,
			Operands:    f.Operands(),
			Locals:      f.Locals(),
		})
	}
	return s, nil
}

// RestoreThread rebuilds a thread from a snapshot, resolving every method
// again through registry.
func RestoreThread(s *ThreadSnapshot, registry ClassRegistry, maxDepth int) (*Thread, error) {
	t := NewThread(s.Name, registry, maxDepth)
	if s.ID != "" {
		t.ID = s.ID
	}
	for i, fs := range s.Frames {
		f, err := t.PushFrame(fs.Class, fs.Method, fs.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("restoring frame %d: %w", i, err)
		}
		if fs.PC < 0 || fs.PC >= len(f.Code()) {
			return nil, fmt.Errorf("restoring frame %d: pc %d outside code of length %d", i, fs.PC, len(f.Code()))
		}
		if err := f.PushN(fs.Operands...); err != nil {
			return nil, fmt.Errorf("restoring frame %d: %w", i, err)
		}
		if err := f.SetArgs(fs.Locals); err != nil {
			return nil, fmt.Errorf("restoring frame %d: %w", i, err)
		}
		f.PC = fs.PC
		f.Initializer = fs.Initializer
	}
	return t, nil
}

// MarshalSnapshot serializes a ThreadSnapshot to CBOR bytes.
func MarshalSnapshot(s *ThreadSnapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a ThreadSnapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*ThreadSnapshot, error) {
	var s ThreadSnapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("memory: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
