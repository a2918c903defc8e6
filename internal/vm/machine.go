package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// MaxStack is the operand stack depth limit.
	MaxStack = 1024
	// MaxFrames is the call depth limit.
	MaxFrames = 256

	canonicalNaN = 0x7FF8000000000000
)

// EventKind is the reason Run handed control back to the host.
type EventKind int

const (
	// EventYield: the task suspended; Value holds the raw wait reason.
	EventYield EventKind = iota
	// EventSubmit: the task posted a request at Memory[Ptr:Ptr+Len]. The
	// host must Push the response length before the next Run.
	EventSubmit
	// EventRetrieve: the task wants the pending response copied to Ptr.
	EventRetrieve
	// EventHalt: init code finished, or the task executed halt.
	EventHalt
	// EventReturn: the outermost function returned.
	EventReturn
)

// Event is one suspension of the machine.
type Event struct {
	Kind  EventKind
	Value int64
	Ptr   uint32
	Len   uint32
}

// FaultKind classifies a machine fault.
type FaultKind int

const (
	FaultTrap FaultKind = iota
	FaultExhausted
)

// Fault is returned by Run when the guest cannot continue.
type Fault struct {
	Kind   FaultKind
	PC     int
	Reason string
}

func (f *Fault) Error() string { return fmt.Sprintf("pc %d: %s", f.PC, f.Reason) }

// State is the complete mutable state of a machine. It holds only plain
// data so it can be gob-encoded and deep-copied.
type State struct {
	PC      int
	Stack   []int64
	Frames  []int
	Globals []int64
	Memory  []byte
	// Entry is the registered entry address, or -1.
	Entry   int
	Fuel    int64
	Started bool
}

// Clone deep-copies s.
func (s State) Clone() State {
	c := s
	c.Stack = append([]int64(nil), s.Stack...)
	c.Frames = append([]int(nil), s.Frames...)
	c.Globals = append([]int64(nil), s.Globals...)
	c.Memory = append([]byte(nil), s.Memory...)
	return c
}

// Machine executes one module as a single cooperative task.
// It is not safe for concurrent use.
type Machine struct {
	mod *Module
	st  State
}

// New builds a machine with fresh memory and data segments applied.
func New(mod *Module) *Machine {
	st := State{
		Globals: make([]int64, mod.Globals),
		Memory:  make([]byte, mod.MemorySize()),
		Entry:   -1,
	}
	for _, seg := range mod.Data {
		copy(st.Memory[seg.Offset:], seg.Bytes)
	}
	return &Machine{mod: mod, st: st}
}

// Restore rebuilds a machine from a captured state. The state must have
// been produced by a machine running the same module.
func Restore(mod *Module, st State) (*Machine, error) {
	if len(st.Memory) != mod.MemorySize() || len(st.Globals) != int(mod.Globals) {
		return nil, fmt.Errorf("state does not match module layout")
	}
	if st.PC < 0 || st.PC > len(mod.Code) || len(st.Stack) > MaxStack || len(st.Frames) > MaxFrames {
		return nil, fmt.Errorf("state registers out of range")
	}
	if st.Entry < -1 || st.Entry >= len(mod.Code) {
		return nil, fmt.Errorf("entry %d out of range", st.Entry)
	}
	for _, ret := range st.Frames {
		if ret < 0 || ret > len(mod.Code) {
			return nil, fmt.Errorf("return address %d out of range", ret)
		}
	}
	return &Machine{mod: mod, st: st.Clone()}, nil
}

// Module returns the program the machine runs.
func (m *Machine) Module() *Module { return m.mod }

// State returns a deep copy of the machine state.
func (m *Machine) State() State { return m.st.Clone() }

// Clone returns an independent machine sharing the immutable module.
func (m *Machine) Clone() *Machine { return &Machine{mod: m.mod, st: m.st.Clone()} }

// Memory exposes linear memory to the host side of the dispatch channel.
func (m *Machine) Memory() []byte { return m.st.Memory }

// Entry is the registered entry address, or -1.
func (m *Machine) Entry() int { return m.st.Entry }

// PC is the address of the next instruction.
func (m *Machine) PC() int { return m.st.PC }

// Refuel sets the instruction budget for subsequent Run calls.
func (m *Machine) Refuel(n int64) { m.st.Fuel = n }

// Fuel is the remaining instruction budget.
func (m *Machine) Fuel() int64 { return m.st.Fuel }

// Push places a host-produced value on the stack, used to complete submit.
func (m *Machine) Push(v int64) error {
	if len(m.st.Stack) >= MaxStack {
		return &Fault{Kind: FaultTrap, PC: m.st.PC, Reason: "stack overflow"}
	}
	m.st.Stack = append(m.st.Stack, v)
	return nil
}

// Start moves the task to the registered entry with an empty call stack.
// It may only be called once.
func (m *Machine) Start() error {
	if m.st.Started {
		return fmt.Errorf("entry already started")
	}
	if m.st.Entry < 0 {
		return fmt.Errorf("no entry registered")
	}
	m.st.Started = true
	m.st.PC = m.st.Entry
	m.st.Stack = m.st.Stack[:0]
	m.st.Frames = m.st.Frames[:0]
	return nil
}

func (m *Machine) trap(format string, args ...any) *Fault {
	return &Fault{Kind: FaultTrap, PC: m.st.PC - 1, Reason: fmt.Sprintf(format, args...)}
}

// mem bounds-checks an access of n bytes at addr+off. The comparisons are
// arranged so that no intermediate sum can overflow.
func (m *Machine) mem(addr int64, off uint32, n int64) ([]byte, *Fault) {
	size := int64(len(m.st.Memory))
	if addr < 0 || n < 0 || addr > size || int64(off) > size-addr || n > size-addr-int64(off) {
		return nil, m.trap("memory access out of bounds: %d+%d (%d bytes)", addr, off, n)
	}
	ea := addr + int64(off)
	return m.st.Memory[ea : ea+n], nil
}

func canon(f float64) int64 {
	if f != f {
		return canonicalNaN
	}
	return int64(math.Float64bits(f))
}

func bits(v int64) float64 { return math.Float64frombits(uint64(v)) }

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Run executes until the task suspends, halts or faults. Each instruction
// costs one unit of fuel; running out is a FaultExhausted that leaves the
// machine positioned at the unexecuted instruction.
func (m *Machine) Run() (Event, error) {
	code := m.mod.Code
	consts := m.mod.Consts
	st := &m.st
	le := binary.LittleEndian

	for {
		if st.PC >= len(code) {
			return Event{}, &Fault{Kind: FaultTrap, PC: st.PC, Reason: "fell off the end of code"}
		}
		if st.Fuel <= 0 {
			return Event{}, &Fault{Kind: FaultExhausted, PC: st.PC, Reason: "out of fuel"}
		}
		st.Fuel--

		raw := code[st.PC]
		st.PC++
		op, imm := uop(raw), uimm(raw)

		if need := op.pops(); len(st.Stack) < need {
			return Event{}, m.trap("stack underflow in %s", op)
		}
		if op.pushes() && len(st.Stack) >= MaxStack {
			return Event{}, m.trap("stack overflow")
		}
		sp := len(st.Stack)
		s := st.Stack

		switch op {
		case OpNop:

		// ---- constants & stack ----
		case OpConst:
			st.Stack = append(s, consts[imm])
		case OpPush:
			st.Stack = append(s, simm(imm))
		case OpPop:
			st.Stack = s[:sp-1]
		case OpDup:
			st.Stack = append(s, s[sp-1])
		case OpSwap:
			s[sp-1], s[sp-2] = s[sp-2], s[sp-1]
		case OpOver:
			st.Stack = append(s, s[sp-2])

		// ---- integer arithmetic ----
		case OpAdd, OpSub, OpMul, OpDiv, OpMod,
			OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
			OpAnd, OpOr, OpXor, OpShl, OpShr:
			a, b := s[sp-2], s[sp-1]
			var r int64
			switch op {
			case OpAdd:
				r = a + b
			case OpSub:
				r = a - b
			case OpMul:
				r = a * b
			case OpDiv, OpMod:
				if b == 0 {
					return Event{}, m.trap("integer division by zero")
				}
				if op == OpDiv {
					r = a / b
				} else {
					r = a % b
				}
			case OpEq:
				r = b2i(a == b)
			case OpNe:
				r = b2i(a != b)
			case OpLt:
				r = b2i(a < b)
			case OpLe:
				r = b2i(a <= b)
			case OpGt:
				r = b2i(a > b)
			case OpGe:
				r = b2i(a >= b)
			case OpAnd:
				r = a & b
			case OpOr:
				r = a | b
			case OpXor:
				r = a ^ b
			case OpShl:
				r = a << (uint64(b) & 63)
			case OpShr:
				r = a >> (uint64(b) & 63)
			}
			s[sp-2] = r
			st.Stack = s[:sp-1]
		case OpNeg:
			s[sp-1] = -s[sp-1]
		case OpNot:
			s[sp-1] = b2i(s[sp-1] == 0)

		// ---- float ----
		case OpFAdd, OpFSub, OpFMul, OpFDiv, OpFLt, OpFEq:
			a, b := bits(s[sp-2]), bits(s[sp-1])
			var r int64
			switch op {
			// explicit float64 conversions keep the compiler from fusing
			// operations across instructions
			case OpFAdd:
				r = canon(float64(a + b))
			case OpFSub:
				r = canon(float64(a - b))
			case OpFMul:
				r = canon(float64(a * b))
			case OpFDiv:
				r = canon(float64(a / b))
			case OpFLt:
				r = b2i(a < b)
			case OpFEq:
				r = b2i(a == b)
			}
			s[sp-2] = r
			st.Stack = s[:sp-1]
		case OpFNeg:
			s[sp-1] = canon(-bits(s[sp-1]))
		case OpIToF:
			s[sp-1] = canon(float64(s[sp-1]))
		case OpFToI:
			f := bits(s[sp-1])
			if f != f || f >= 9.223372036854775807e18 || f < -9.223372036854775808e18 {
				return Event{}, m.trap("float %v not representable as integer", f)
			}
			s[sp-1] = int64(f)
		case OpF32:
			s[sp-1] = canon(float64(float32(bits(s[sp-1]))))

		// ---- control flow ----
		case OpJump:
			st.PC = int(imm)
		case OpJz, OpJnz:
			v := s[sp-1]
			st.Stack = s[:sp-1]
			if (v == 0) == (op == OpJz) {
				st.PC = int(imm)
			}
		case OpCall:
			if len(st.Frames) >= MaxFrames {
				return Event{}, m.trap("call stack overflow")
			}
			st.Frames = append(st.Frames, st.PC)
			st.PC = int(imm)
		case OpReturn:
			n := len(st.Frames)
			if n == 0 {
				return Event{Kind: EventReturn}, nil
			}
			st.PC = st.Frames[n-1]
			st.Frames = st.Frames[:n-1]

		// ---- globals ----
		case OpGLoad:
			st.Stack = append(s, st.Globals[imm])
		case OpGStore:
			st.Globals[imm] = s[sp-1]
			st.Stack = s[:sp-1]

		// ---- memory ----
		case OpLoad8, OpLoad32, OpLoad64, OpLoadF32:
			b, f := m.mem(s[sp-1], imm, int64(op.width()))
			if f != nil {
				return Event{}, f
			}
			switch op {
			case OpLoad8:
				s[sp-1] = int64(b[0])
			case OpLoad32:
				s[sp-1] = int64(le.Uint32(b))
			case OpLoad64:
				s[sp-1] = int64(le.Uint64(b))
			case OpLoadF32:
				s[sp-1] = canon(float64(math.Float32frombits(le.Uint32(b))))
			}
		case OpStore8, OpStore32, OpStore64, OpStoreF32:
			addr, v := s[sp-2], s[sp-1]
			b, f := m.mem(addr, imm, int64(op.width()))
			if f != nil {
				return Event{}, f
			}
			switch op {
			case OpStore8:
				b[0] = byte(v)
			case OpStore32:
				le.PutUint32(b, uint32(v))
			case OpStore64:
				le.PutUint64(b, uint64(v))
			case OpStoreF32:
				le.PutUint32(b, math.Float32bits(float32(bits(v))))
			}
			st.Stack = s[:sp-2]
		case OpCopy:
			dst, src, n := s[sp-3], s[sp-2], s[sp-1]
			if n < 0 {
				return Event{}, m.trap("negative copy length %d", n)
			}
			to, f := m.mem(dst, 0, n)
			if f != nil {
				return Event{}, f
			}
			from, f := m.mem(src, 0, n)
			if f != nil {
				return Event{}, f
			}
			copy(to, from)
			st.Stack = s[:sp-3]

		// ---- host interface ----
		case OpRegister:
			if st.Started {
				return Event{}, m.trap("register after start")
			}
			if st.Entry >= 0 {
				return Event{}, m.trap("entry registered twice")
			}
			st.Entry = int(imm)
		case OpYield:
			v := s[sp-1]
			st.Stack = s[:sp-1]
			return Event{Kind: EventYield, Value: v}, nil
		case OpSubmit:
			ptr, n := s[sp-2], s[sp-1]
			if _, f := m.mem(ptr, 0, n); f != nil {
				return Event{}, m.trap("submit buffer out of bounds: %d+%d", ptr, n)
			}
			st.Stack = s[:sp-2]
			return Event{Kind: EventSubmit, Ptr: uint32(ptr), Len: uint32(n)}, nil
		case OpRetrieve:
			ptr := s[sp-1]
			if ptr < 0 || ptr > int64(len(st.Memory)) {
				return Event{}, m.trap("retrieve pointer out of bounds: %d", ptr)
			}
			st.Stack = s[:sp-1]
			return Event{Kind: EventRetrieve, Ptr: uint32(ptr)}, nil
		case OpHalt:
			return Event{Kind: EventHalt}, nil
		case OpTrap:
			return Event{}, m.trap("guest trap %d", simm(imm))

		default:
			return Event{}, m.trap("unknown opcode %#x", uint8(op))
		}
	}
}

// pops is the minimum stack depth an instruction needs.
func (op Opcode) pops() int {
	switch op {
	case OpPop, OpDup, OpNeg, OpNot, OpFNeg, OpIToF, OpFToI, OpF32,
		OpJz, OpJnz, OpGStore, OpLoad8, OpLoad32, OpLoad64, OpLoadF32,
		OpYield, OpRetrieve:
		return 1
	case OpSwap, OpOver,
		OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe,
		OpAnd, OpOr, OpXor, OpShl, OpShr,
		OpFAdd, OpFSub, OpFMul, OpFDiv, OpFLt, OpFEq,
		OpStore8, OpStore32, OpStore64, OpStoreF32, OpSubmit:
		return 2
	case OpCopy:
		return 3
	}
	return 0
}

// pushes reports whether an instruction grows the stack.
func (op Opcode) pushes() bool {
	switch op {
	case OpConst, OpPush, OpDup, OpOver, OpGLoad:
		return true
	}
	return false
}

func (op Opcode) width() int {
	switch op {
	case OpLoad8, OpStore8:
		return 1
	case OpLoad64, OpStore64:
		return 8
	}
	return 4
}
