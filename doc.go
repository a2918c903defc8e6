/*
Package tickvm runs sandboxed, deterministic game logic one tick at a time.

A guest program is a compiled bytecode module. The host loads it into a
Runtime, feeds it player input with Send and advances it with RunTick, which
returns the host calls (draw, play, exit) the guest emitted during that tick.
Between ticks a Runtime can be serialized to bytes, restored on another
machine, or duplicated in memory; the copies evolve independently and replay
identically given identical input.

# Usage

	package main

	import (
		"context"
		"log"
		"os"
		"time"

		"github.com/aretw0/tickvm"
	)

	func main() {
		code, err := tickvm.Assemble(source)
		if err != nil {
			log.Fatal(err)
		}
		rt, err := tickvm.Load(code)
		if err != nil {
			log.Fatal(err)
		}

		r := tickvm.NewRunner(os.Stdout)
		r.MaxTicks = 60
		if _, err := r.Run(context.Background(), rt); err != nil {
			log.Fatal(err)
		}

		snap, err := rt.Serialize()
		if err != nil {
			log.Fatal(err)
		}
		_ = os.WriteFile("game.snap", snap, 0o644)
	}

Guest programs are usually written with package dsl rather than by hand.
Rollback, persistence and the HTTP server live under pkg/.
*/
package tickvm
