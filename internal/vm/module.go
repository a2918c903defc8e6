package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
)

const (
	// PageSize is the unit of linear memory.
	PageSize = 64 << 10
	// MaxPages caps linear memory at 16 MiB.
	MaxPages = 256
	// MaxGlobals caps the global table.
	MaxGlobals = 1 << 16
	// Version is the module format revision this package reads and writes.
	Version = 1
)

var magic = [4]byte{'T', 'K', 'V', 'M'}

// Segment is a slice of bytes copied into linear memory at Offset before
// init code runs.
type Segment struct {
	Offset uint32
	Bytes  []byte
}

// Module is a decoded, validated program. It is immutable once built and
// may be shared between machines.
type Module struct {
	MemoryPages uint16
	Globals     uint32
	Consts      []int64
	Data        []Segment
	Code        []uint32
}

// MarshalBinary encodes m in the module format:
//
//	magic "TKVM" | u16 version | u16 pages | u32 globals
//	u32 nconsts | i64 * nconsts
//	u32 nsegs   | (u32 offset | u32 len | bytes) * nsegs
//	u32 ncode   | u32 * ncode
func (m *Module) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.Write(magic[:])
	buf.Write(le.AppendUint16(nil, Version))
	buf.Write(le.AppendUint16(nil, m.MemoryPages))
	buf.Write(le.AppendUint32(nil, m.Globals))
	buf.Write(le.AppendUint32(nil, uint32(len(m.Consts))))
	for _, c := range m.Consts {
		buf.Write(le.AppendUint64(nil, uint64(c)))
	}
	buf.Write(le.AppendUint32(nil, uint32(len(m.Data))))
	for _, seg := range m.Data {
		buf.Write(le.AppendUint32(nil, seg.Offset))
		buf.Write(le.AppendUint32(nil, uint32(len(seg.Bytes))))
		buf.Write(seg.Bytes)
	}
	buf.Write(le.AppendUint32(nil, uint32(len(m.Code))))
	for _, w := range m.Code {
		buf.Write(le.AppendUint32(nil, w))
	}
	return buf.Bytes(), nil
}

// Decode parses and validates a module. Every failure is a *domain.LoadError.
func Decode(b []byte) (*Module, error) {
	d := decoder{buf: b}
	if !bytes.Equal(d.take(4), magic[:]) {
		return nil, loadErr("bad magic", nil)
	}
	if v := d.u16(); v != Version {
		return nil, loadErr(fmt.Sprintf("unsupported module version %d", v), nil)
	}
	m := &Module{MemoryPages: d.u16(), Globals: d.u32()}

	n := d.count(8)
	m.Consts = make([]int64, 0, n)
	for range n {
		m.Consts = append(m.Consts, int64(d.u64()))
	}
	n = d.count(8)
	for range n {
		seg := Segment{Offset: d.u32()}
		seg.Bytes = append([]byte(nil), d.take(int(d.u32()))...)
		m.Data = append(m.Data, seg)
	}
	n = d.count(4)
	m.Code = make([]uint32, 0, n)
	for range n {
		m.Code = append(m.Code, d.u32())
	}
	if d.err != nil {
		return nil, loadErr("truncated module", d.err)
	}
	if d.off != len(b) {
		return nil, loadErr(fmt.Sprintf("%d trailing bytes", len(b)-d.off), nil)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks every static property the machine relies on, so that the
// run loop only has to guard dynamic ones (stack depth, memory addresses).
func (m *Module) Validate() error {
	if m.MemoryPages > MaxPages {
		return loadErr(fmt.Sprintf("memory of %d pages exceeds %d", m.MemoryPages, MaxPages), nil)
	}
	if m.Globals > MaxGlobals {
		return loadErr(fmt.Sprintf("%d globals exceeds %d", m.Globals, MaxGlobals), nil)
	}
	if len(m.Code) == 0 {
		return loadErr("module has no code", nil)
	}
	memSize := uint64(m.MemoryPages) * PageSize
	for i, seg := range m.Data {
		if uint64(seg.Offset)+uint64(len(seg.Bytes)) > memSize {
			return loadErr(fmt.Sprintf("data segment %d out of memory bounds", i), nil)
		}
	}
	for pc, w := range m.Code {
		op, imm := uop(w), uimm(w)
		if op >= opCount {
			return loadErr(fmt.Sprintf("pc %d: unknown opcode %#x", pc, uint8(op)), nil)
		}
		switch op.operand() {
		case argNone:
			if imm != 0 {
				return loadErr(fmt.Sprintf("pc %d: %s takes no operand", pc, op), nil)
			}
		case argConst:
			if int(imm) >= len(m.Consts) {
				return loadErr(fmt.Sprintf("pc %d: const %d out of range", pc, imm), nil)
			}
		case argCode:
			if int(imm) >= len(m.Code) {
				return loadErr(fmt.Sprintf("pc %d: %s target %d out of range", pc, op, imm), nil)
			}
		case argGlobal:
			if imm >= m.Globals {
				return loadErr(fmt.Sprintf("pc %d: global %d out of range", pc, imm), nil)
			}
		}
	}
	return nil
}

// MemorySize is the byte size of linear memory.
func (m *Module) MemorySize() int { return int(m.MemoryPages) * PageSize }

func loadErr(reason string, err error) error {
	return &domain.LoadError{Reason: reason, Err: err}
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = fmt.Errorf("need %d bytes at offset %d", n, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// count reads a length prefix and rejects values that cannot fit in the
// remaining input, given each element takes at least size bytes.
func (d *decoder) count(size int) int {
	n := d.u32()
	if d.err == nil && uint64(n)*uint64(size) > uint64(len(d.buf)-d.off) {
		d.err = fmt.Errorf("count %d exceeds remaining input", n)
		return 0
	}
	return int(n)
}
