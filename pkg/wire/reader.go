package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aretw0/tickvm/pkg/domain"
)

// reader is a sticky-error cursor: after the first failure every accessor
// returns zero values and finish reports that failure.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &domain.ProtocolError{Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.fail("truncated message: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) str() string {
	n := r.u32()
	if n > MaxString {
		r.fail("string length %d exceeds limit", n)
		return ""
	}
	s := string(r.take(int(n)))
	if r.err == nil && !validUTF8(s) {
		r.fail("string is not valid UTF-8")
		return ""
	}
	return s
}

func (r *reader) transform() domain.Transform {
	var t domain.Transform
	for i := range t.Position {
		t.Position[i] = r.f32()
	}
	for i := range t.Scale {
		t.Scale[i] = r.f32()
	}
	for i := range t.Rotation {
		t.Rotation[i] = r.f32()
	}
	return t
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return &domain.ProtocolError{Reason: fmt.Sprintf("%d trailing bytes", len(r.buf)-r.off)}
	}
	return nil
}
