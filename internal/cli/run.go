package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/tickvm"
	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/internal/presentation/tui"
	"github.com/aretw0/tickvm/pkg/rollback"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// RunOptions configures RunProgram.
type RunOptions struct {
	// Path is a compiled module or a snapshot to resume.
	Path string
	// ScriptPath is an optional NDJSON input script.
	ScriptPath string
	Ticks      uint64
	Delta      time.Duration
	Realtime   bool
	JSON       bool
	Fuel       int64
	// SaveTo receives a snapshot of the final state.
	SaveTo string
	// Verify replays the run through a rollback timeline and checks that the
	// result is byte-identical.
	Verify        bool
	SnapshotEvery uint64
	Banner        bool

	Output io.Writer
	Status io.Writer
	Logger *slog.Logger
}

// RunProgram loads a module or snapshot and ticks it, printing calls.
func RunProgram(ctx context.Context, opts RunOptions) error {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Status == nil {
		opts.Status = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Banner && !opts.JSON {
		tui.PrintBanner(opts.Status, tickvm.Version)
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return err
	}
	rtOpts := []tickvm.Option{sandbox.WithLogger(opts.Logger)}
	if opts.Fuel > 0 {
		rtOpts = append(rtOpts, sandbox.WithFuel(opts.Fuel))
	}
	rt, err := open(data, rtOpts)
	if err != nil {
		return err
	}
	opts.Logger.Debug("program loaded", "path", opts.Path, "tick", rt.Tick(), "memory_bytes", rt.MemorySize())

	var script tickvm.Script
	if opts.ScriptPath != "" {
		f, err := os.Open(opts.ScriptPath)
		if err != nil {
			return err
		}
		script, err = tickvm.ParseScript(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	var start *tickvm.Runtime
	if opts.Verify {
		if start, err = rt.Duplicate(); err != nil {
			return err
		}
	}

	r := tickvm.NewRunner(opts.Output)
	r.MaxTicks = opts.Ticks
	r.Realtime = opts.Realtime
	r.Script = script
	if opts.Delta > 0 {
		r.Delta = opts.Delta
	}
	switch {
	case opts.JSON:
		r.Renderer = tickvm.JSONRenderer
	case IsTerminal(opts.Output):
		r.Renderer = tui.CallRenderer(opts.Output)
	}

	ran, err := r.Run(ctx, rt)
	if err != nil {
		return fmt.Errorf("after %d ticks: %w", ran, err)
	}
	if !opts.JSON {
		printSystemMessage(opts.Status, "ran %d ticks, now at tick %d", ran, rt.Tick())
	}

	if opts.Verify && ran > 0 {
		if err := verify(start, rt, r, ran, opts.SnapshotEvery, opts.Logger); err != nil {
			return err
		}
		if !opts.JSON {
			printSystemMessage(opts.Status, "replay verified")
		}
	}

	if opts.SaveTo != "" {
		snap, err := rt.Serialize()
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.SaveTo, snap, 0o644); err != nil {
			return err
		}
		if !opts.JSON {
			printSystemMessage(opts.Status, "snapshot written to %s (%d bytes)", opts.SaveTo, len(snap))
		}
	}
	return nil
}

// open loads data as a snapshot when it carries a snapshot header and as a
// module otherwise.
func open(data []byte, opts []tickvm.Option) (*tickvm.Runtime, error) {
	if _, err := sandbox.ReadHeader(data); err == nil {
		return tickvm.Deserialize(data, opts...)
	}
	return tickvm.Load(data, opts...)
}

// ErrReplayMismatch is returned by a verified run whose replay diverged.
var ErrReplayMismatch = errors.New("replay diverged from the original run")

// verify re-runs the same ticks from start on a timeline, rolls the whole
// window back with the recorded inputs and compares the final state with got.
func verify(start, got *tickvm.Runtime, r *tickvm.Runner, ticks uint64, every uint64, logger *slog.Logger) error {
	tl, err := rollback.NewTimeline(start, rollback.WithSnapshotEvery(every), rollback.WithLogger(logger))
	if err != nil {
		return err
	}
	for range ticks {
		if _, err := tl.Advance(r.Delta, r.Script[tl.Head()]); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}

	oldest, _ := tl.Window()
	frames, err := tl.Frames(oldest)
	if err != nil {
		return err
	}
	if _, err := tl.Rollback(oldest, frames[0].Inputs); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	want, err := got.Serialize()
	if err != nil {
		return err
	}
	replayed, err := tl.Runtime().Serialize()
	if err != nil {
		return err
	}
	if !bytes.Equal(want, replayed) {
		return ErrReplayMismatch
	}
	return nil
}
