/*
Package dsl provides a Go DSL (Domain Specific Language) for programmatically constructing tickvm guest programs.

It emits assembly for the internal stack machine, lays out the request and
response buffers the dispatch channel needs, and returns an encoded module
ready for sandbox.Load. It is meant for tests, examples and small games;
anything larger should target the assembler directly.

Effects (Draw, Play, Exit) are values that reach the host only once they are
committed. Commit them explicitly, or create them inside Scope, which commits
whatever is left uncommitted when the scope function returns.

Example usage:

	b := dsl.New()
	x := b.Global("x")

	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.PollMoves(x, b.Global("y"))
			f.Draw("ship").At(x.Float(), dsl.Float(0), dsl.Float(0)).Commit()
			f.Present()
		})
	})

	code, err := b.Build()
	// ... pass code to sandbox.Load(code)
*/
package dsl
