package dsl

import (
	"fmt"
	"strings"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
)

// Func accumulates the instructions of the entry function.
type Func struct {
	b       *Builder
	body    strings.Builder
	pending []*Effect
}

func (f *Func) op(format string, args ...any) {
	f.body.WriteByte('\t')
	fmt.Fprintf(&f.body, format, args...)
	f.body.WriteByte('\n')
}

func (f *Func) mark(label string) {
	f.body.WriteString(label)
	f.body.WriteString(":\n")
}

// WaitStartup suspends until the host starts ticking.
func (f *Func) WaitStartup() {
	f.op("push %d", domain.WaitStartup.Raw())
	f.op("yield")
}

// Present ends the current tick.
func (f *Func) Present() {
	f.op("push %d", domain.WaitPresent.Raw())
	f.op("yield")
}

// Loop repeats body forever.
func (f *Func) Loop(body func(f *Func)) {
	top := f.b.label("loop")
	f.mark(top)
	body(f)
	f.op("jump %s", top)
}

// Times runs body n times, using counter as the loop variable.
func (f *Func) Times(n int, counter Global, body func(f *Func)) {
	top, done := f.b.label("times"), f.b.label("done")
	f.op("push 0")
	f.op("gstore %s", counter.name)
	f.mark(top)
	f.op("gload %s", counter.name)
	f.op("const %d", n)
	f.op("lt")
	f.op("jz %s", done)
	body(f)
	f.Add(counter, 1)
	f.op("jump %s", top)
	f.mark(done)
}

// If runs body when g is non-zero.
func (f *Func) If(g Global, body func(f *Func)) {
	skip := f.b.label("endif")
	f.op("gload %s", g.name)
	f.op("jz %s", skip)
	body(f)
	f.mark(skip)
}

// Scope runs body and commits, in creation order, every effect created
// inside it that body did not commit itself. This holds on every exit path
// out of body, including a panic.
func (f *Func) Scope(body func(f *Func)) {
	outer := f.pending
	f.pending = nil
	defer func() {
		for _, e := range f.pending {
			e.Commit()
		}
		f.pending = outer
	}()
	body(f)
}

// Set stores v into g.
func (f *Func) Set(g Global, v Value) {
	v.emit(f)
	f.op("gstore %s", g.name)
}

// Add adds an integer delta to g.
func (f *Func) Add(g Global, delta int64) {
	f.op("gload %s", g.name)
	f.op("const %d", delta)
	f.op("add")
	f.op("gstore %s", g.name)
}

// FAdd adds a float delta to g, which must hold a float.
func (f *Func) FAdd(g Global, delta float64) {
	f.op("gload %s", g.name)
	f.op("fconst %v", delta)
	f.op("fadd")
	f.op("gstore %s", g.name)
}

// Trap aborts the guest with a fault.
func (f *Func) Trap(code int) {
	f.op("trap %d", code)
}

// Log writes msg to the host log immediately.
func (f *Func) Log(msg string) {
	f.request(encodeStatic(domain.LogRequest{Message: msg}, f.b))
}

// Time stores the running tick index into tick.
func (f *Func) Time(tick Global) {
	f.request(encodeStatic(domain.TimeRequest{}, f.b))
	f.op("push %d", respBuf)
	f.op("load64 1")
	f.op("gstore %s", tick.name)
}

// PollMoves drains the host's queued events. For every move event the
// pointer position is stored into x and y as floats; other events are
// skipped.
func (f *Func) PollMoves(x, y Global) {
	top, done := f.b.label("poll"), f.b.label("polled")
	poll := encodeStatic(domain.PollRequest{}, f.b)
	f.mark(top)
	f.request(poll)
	// an empty response means the queue is drained
	f.op("push %d", respBuf)
	f.op("load8 0")
	f.op("push %d", wire.TagEvent)
	f.op("ne")
	f.op("jnz %s", done)
	// event layout: tag, player u32, kind u8, code u32, x f32, y f32
	f.op("push %d", respBuf)
	f.op("load8 5")
	f.op("push %d", int(domain.EventMove))
	f.op("ne")
	f.op("jnz %s", top)
	f.op("push %d", respBuf)
	f.op("loadf32 10")
	f.op("gstore %s", x.name)
	f.op("push %d", respBuf)
	f.op("loadf32 14")
	f.op("gstore %s", y.name)
	f.op("jump %s", top)
	f.mark(done)
}

// request submits the request at [ptr, ptr+n) and retrieves the response
// into the response buffer.
func (f *Func) request(r staticRequest) {
	if r.n == 0 {
		return
	}
	f.op("push %d", r.ptr)
	f.op("push %d", r.n)
	f.op("submit")
	f.op("pop")
	f.op("push %d", respBuf)
	f.op("retrieve")
}
