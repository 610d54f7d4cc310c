package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrClassFormat matches every *FormatError.
var ErrClassFormat = errors.New("class format error")

// FormatError reports malformed or truncated class data. Offset is an
// absolute byte offset into the decoded buffer; for truncation it is the
// offset at which the input ran out.
type FormatError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("class format error at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("class format error at offset %d: %s", e.Offset, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrClassFormat }

// reader is a big-endian cursor over a byte slice. base is the absolute
// offset of data[0], so nested readers over attribute bodies report offsets
// relative to the whole class file.
type reader struct {
	data []byte
	off  int
	base int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) offset() int { return r.base + r.off }

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) errorAt(offset int, msg string, err error) *FormatError {
	return &FormatError{Offset: offset, Msg: msg, Err: err}
}

func (r *reader) truncated(what string, n int) *FormatError {
	return &FormatError{
		Offset: r.base + len(r.data),
		Msg:    fmt.Sprintf("reading %s (%d bytes at offset %d)", what, n, r.offset()),
		Err:    io.ErrUnexpectedEOF,
	}
}

func (r *reader) need(n int, what string) error {
	if n < 0 || r.remaining() < n {
		return r.truncated(what, n)
	}
	return nil
}

func (r *reader) u1(what string) (uint8, error) {
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *reader) u2(what string) (uint16, error) {
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u4(what string) (uint32, error) {
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u8(what string) (uint64, error) {
	if err := r.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int, what string) ([]byte, error) {
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b, nil
}

// sub returns a reader over data that sits at absolute offset base.
func subReader(data []byte, base int) *reader {
	return &reader{data: data, base: base}
}
