package dsl

import (
	"fmt"
	"strings"

	"github.com/aretw0/tickvm/internal/vm"
)

// Memory layout shared by every program built here.
const (
	respBuf    = 0    // response buffer
	respSize   = 64   // larger than any encoded response
	scratchBuf = 64   // dynamic request assembly
	scratchMax = 512  // largest dynamic request
	dataStart  = 1024 // static request templates
	// MaxAsset bounds asset names so any request fits the scratch buffer.
	MaxAsset = 256
)

// Builder manages the program construction.
type Builder struct {
	globals []string
	known   map[string]Global
	data    []segment
	dataEnd int
	entry   *Func
	labels  int
	err     error
}

type segment struct {
	off   int
	bytes []byte
}

// New creates a new program builder.
func New() *Builder {
	return &Builder{
		known:   make(map[string]Global),
		dataEnd: dataStart,
	}
}

// Global declares a 64-bit global variable, zero at start.
// Declaring the same name twice returns the existing global.
func (b *Builder) Global(name string) Global {
	if g, ok := b.known[name]; ok {
		return g
	}
	if name == "" || strings.ContainsAny(name, " \t\n:;\"") {
		b.fail(fmt.Errorf("invalid global name %q", name))
	}
	g := Global{name: "g_" + name}
	b.known[name] = g
	b.globals = append(b.globals, g.name)
	return g
}

// Entry defines the body of the guest's entry function. Returning from the
// body ends the task, which the runtime reports as an exit fault, so game
// loops should run inside Loop.
func (b *Builder) Entry(body func(f *Func)) {
	if b.entry != nil {
		b.fail(fmt.Errorf("entry defined twice"))
		return
	}
	f := &Func{b: b}
	body(f)
	f.op("ret")
	for _, e := range f.pending {
		if !e.done {
			b.fail(fmt.Errorf("%s was never committed", e.where))
		}
	}
	b.entry = f
}

// Source renders the program as assembly.
func (b *Builder) Source() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if b.entry == nil {
		return "", fmt.Errorf("dsl: no entry defined")
	}
	var sb strings.Builder
	pages := (b.dataEnd + vm.PageSize - 1) / vm.PageSize
	fmt.Fprintf(&sb, ".memory %d\n", pages)
	if len(b.globals) > 0 {
		fmt.Fprintf(&sb, ".global %s\n", strings.Join(b.globals, " "))
	}
	for _, seg := range b.data {
		fmt.Fprintf(&sb, ".hex %d %x\n", seg.off, seg.bytes)
	}
	sb.WriteString("\tregister entry\n\thalt\nentry:\n")
	sb.WriteString(b.entry.body.String())
	return sb.String(), nil
}

// Build assembles the program and returns the encoded module.
func (b *Builder) Build() ([]byte, error) {
	src, err := b.Source()
	if err != nil {
		return nil, err
	}
	mod, err := vm.Assemble(src)
	if err != nil {
		return nil, fmt.Errorf("dsl: assemble: %w", err)
	}
	return mod.MarshalBinary()
}

// MustBuild is Build for programs known to be valid, such as test fixtures.
func (b *Builder) MustBuild() []byte {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = fmt.Errorf("dsl: %w", err)
	}
}

func (b *Builder) label(kind string) string {
	b.labels++
	return fmt.Sprintf("%s_%d", kind, b.labels)
}

// static places bytes in memory and returns their offset.
func (b *Builder) static(bs []byte) int {
	off := b.dataEnd
	b.data = append(b.data, segment{off: off, bytes: bs})
	b.dataEnd += len(bs)
	return off
}
