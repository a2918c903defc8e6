package vm

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Assemble translates assembly text into a validated Module.
//
// One instruction or directive per line, ';' starts a comment, and
// "name:" defines a label at the next instruction. Directives:
//
//	.memory PAGES          linear memory size in 64 KiB pages
//	.global NAME...        declare globals, indexed in declaration order
//	.equ NAME INT          symbolic integer for push/offset/trap operands
//	.const NAME INT        named entry in the constant pool
//	.data OFFSET "TEXT"    Go-quoted string copied into memory
//	.hex OFFSET HEX        hex bytes copied into memory
//
// The pseudo-instruction "fconst F" loads a float64 constant.
func Assemble(src string) (*Module, error) {
	a := &assembler{
		mod:     &Module{},
		labels:  map[string]int{},
		globals: map[string]uint32{},
		equs:    map[string]int64{},
		consts:  map[string]uint32{},
		pool:    map[int64]uint32{},
	}
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		a.line++
		if err := a.parseLine(sc.Text()); err != nil {
			return nil, fmt.Errorf("asm line %d: %w", a.line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for _, f := range a.fixups {
		addr, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("asm line %d: undefined label %q", f.line, f.label)
		}
		a.mod.Code[f.pc] = Encode(uop(a.mod.Code[f.pc]), uint32(addr))
	}
	if err := a.mod.Validate(); err != nil {
		return nil, err
	}
	return a.mod, nil
}

// MustAssemble is Assemble for programs known to be valid, such as test fixtures.
func MustAssemble(src string) *Module {
	m, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return m
}

type fixup struct {
	pc    int
	label string
	line  int
}

type assembler struct {
	mod     *Module
	line    int
	labels  map[string]int
	globals map[string]uint32
	equs    map[string]int64
	consts  map[string]uint32
	pool    map[int64]uint32
	fixups  []fixup
}

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, opCount)
	for op := Opcode(0); op < opCount; op++ {
		m[opNames[op]] = op
	}
	return m
}()

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func (a *assembler) parseLine(line string) error {
	line = strings.TrimSpace(stripComment(line))
	for {
		i := strings.IndexByte(line, ':')
		if i < 0 || strings.ContainsAny(line[:i], " \t\"") {
			break
		}
		name := line[:i]
		if _, dup := a.labels[name]; dup {
			return fmt.Errorf("label %q redefined", name)
		}
		a.labels[name] = len(a.mod.Code)
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return nil
	}
	if line[0] == '.' {
		return a.directive(line)
	}
	fields := strings.Fields(line)
	return a.instruction(strings.ToLower(fields[0]), fields[1:])
}

func (a *assembler) directive(line string) error {
	fields := strings.Fields(line)
	args := fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d arguments", fields[0], n)
		}
		return nil
	}
	switch fields[0] {
	case ".memory":
		if err := need(1); err != nil {
			return err
		}
		n, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		a.mod.MemoryPages = uint16(n)
	case ".global":
		for _, name := range args {
			if _, dup := a.globals[name]; dup {
				return fmt.Errorf("global %q redefined", name)
			}
			a.globals[name] = a.mod.Globals
			a.mod.Globals++
		}
	case ".equ":
		if err := need(2); err != nil {
			return err
		}
		v, err := a.integer(args[1])
		if err != nil {
			return err
		}
		a.equs[args[0]] = v
	case ".const":
		if err := need(2); err != nil {
			return err
		}
		v, err := a.integer(args[1])
		if err != nil {
			return err
		}
		a.consts[args[0]] = a.intern(v)
	case ".data":
		if err := need(2); err != nil {
			return err
		}
		off, err := a.integer(args[0])
		if err != nil {
			return err
		}
		rest := strings.TrimSpace(line[strings.Index(line, args[0])+len(args[0]):])
		text, err := strconv.Unquote(rest)
		if err != nil {
			return fmt.Errorf(".data: %w", err)
		}
		a.mod.Data = append(a.mod.Data, Segment{Offset: uint32(off), Bytes: []byte(text)})
	case ".hex":
		if err := need(2); err != nil {
			return err
		}
		off, err := a.integer(args[0])
		if err != nil {
			return err
		}
		b, err := hex.DecodeString(strings.Join(args[1:], ""))
		if err != nil {
			return fmt.Errorf(".hex: %w", err)
		}
		a.mod.Data = append(a.mod.Data, Segment{Offset: uint32(off), Bytes: b})
	default:
		return fmt.Errorf("unknown directive %s", fields[0])
	}
	return nil
}

func (a *assembler) intern(v int64) uint32 {
	if idx, ok := a.pool[v]; ok {
		return idx
	}
	idx := uint32(len(a.mod.Consts))
	a.mod.Consts = append(a.mod.Consts, v)
	a.pool[v] = idx
	return idx
}

func (a *assembler) integer(s string) (int64, error) {
	if v, ok := a.equs[s]; ok {
		return v, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", s)
	}
	return v, nil
}

func (a *assembler) instruction(name string, args []string) error {
	if name == "fconst" {
		if len(args) != 1 {
			return fmt.Errorf("fconst takes one operand")
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		a.emit(OpConst, a.intern(int64(math.Float64bits(f))))
		return nil
	}
	op, ok := mnemonics[name]
	if !ok {
		return fmt.Errorf("unknown instruction %q", name)
	}
	kind := op.operand()
	if kind == argNone {
		if len(args) != 0 {
			return fmt.Errorf("%s takes no operand", name)
		}
		a.emit(op, 0)
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("%s takes one operand", name)
	}
	arg := args[0]
	switch kind {
	case argConst:
		if idx, ok := a.consts[arg]; ok {
			a.emit(op, idx)
			return nil
		}
		v, err := a.integer(arg)
		if err != nil {
			return err
		}
		a.emit(op, a.intern(v))
	case argInt:
		v, err := a.integer(arg)
		if err != nil {
			return err
		}
		if v < -(1<<23) || v >= 1<<23 {
			return fmt.Errorf("%s operand %d does not fit 24 bits; use const", name, v)
		}
		a.emit(op, uint32(v))
	case argOffset:
		v, err := a.integer(arg)
		if err != nil {
			return err
		}
		if v < 0 || v > MaxImm {
			return fmt.Errorf("%s offset %d out of range", name, v)
		}
		a.emit(op, uint32(v))
	case argCode:
		a.fixups = append(a.fixups, fixup{pc: len(a.mod.Code), label: arg, line: a.line})
		a.emit(op, 0)
	case argGlobal:
		idx, ok := a.globals[arg]
		if !ok {
			v, err := strconv.ParseUint(arg, 0, 24)
			if err != nil {
				return fmt.Errorf("unknown global %q", arg)
			}
			idx = uint32(v)
		}
		a.emit(op, idx)
	}
	return nil
}

func (a *assembler) emit(op Opcode, imm uint32) {
	a.mod.Code = append(a.mod.Code, Encode(op, imm))
}
