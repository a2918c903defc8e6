package dsl

// Global is a 64-bit guest variable. It holds either an integer or the
// bits of a float64, depending on how the program uses it.
type Global struct {
	name string
}

// Float reads g as a float.
func (g Global) Float() Value { return valueFunc(func(f *Func) { f.op("gload %s", g.name) }) }

// IntAsFloat reads g as an integer converted to float.
func (g Global) IntAsFloat() Value {
	return valueFunc(func(f *Func) {
		f.op("gload %s", g.name)
		f.op("itof")
	})
}

// Word reads g's raw 64-bit value, for copying between globals.
func (g Global) Word() Value { return g.Float() }

// Value is something that pushes one 64-bit word.
type Value interface {
	emit(f *Func)
}

type valueFunc func(f *Func)

func (v valueFunc) emit(f *Func) { v(f) }

// constant is a compile-time float, so static transforms can be encoded
// into data segments instead of code.
type constant float64

func (c constant) emit(f *Func) { f.op("fconst %v", float64(c)) }

// Float is a float constant.
func Float(v float64) Value { return constant(v) }

// Int is an integer constant.
func Int(v int64) Value { return valueFunc(func(f *Func) { f.op("const %d", v) }) }
