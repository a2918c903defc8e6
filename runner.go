package tickvm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/tickvm/pkg/domain"
)

// CallRenderer formats the calls of one tick for output. Returning an empty
// string prints nothing for that tick.
type CallRenderer func(tick uint64, calls []domain.Call) (string, error)

// Runner drives a Runtime tick after tick, writing the calls of each tick to
// Output. It stops when the guest emits an exit call, after MaxTicks ticks
// (0 means no limit), or when the context is cancelled.
type Runner struct {
	Output   io.Writer
	Renderer CallRenderer
	Delta    time.Duration
	MaxTicks uint64
	// Realtime paces ticks at Delta instead of running them back to back.
	Realtime bool
	// Script holds input delivered before the tick it is keyed by.
	Script Script
}

// NewRunner creates a Runner writing plain text to w at 60 ticks per second.
func NewRunner(w io.Writer) *Runner {
	return &Runner{
		Output:   w,
		Renderer: PlainRenderer,
		Delta:    time.Second / 60,
	}
}

// PlainRenderer prints one line per call.
func PlainRenderer(tick uint64, calls []domain.Call) (string, error) {
	var sb strings.Builder
	for _, c := range calls {
		fmt.Fprintf(&sb, "%06d %s\n", tick, FormatCall(c))
	}
	return sb.String(), nil
}

// JSONRenderer prints one JSON object per tick.
func JSONRenderer(tick uint64, calls []domain.Call) (string, error) {
	if calls == nil {
		calls = []domain.Call{}
	}
	b, err := json.Marshal(struct {
		Tick  uint64        `json:"tick"`
		Calls []domain.Call `json:"calls"`
	}{tick, calls})
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// FormatCall is the short human form of a call.
func FormatCall(c domain.Call) string {
	switch c := c.(type) {
	case domain.DrawCall:
		p := c.Transform.Position
		return fmt.Sprintf("draw %s at (%g, %g, %g)", c.Asset, p[0], p[1], p[2])
	case domain.PlayCall:
		return "play " + c.Asset
	case domain.ExitCall:
		return "exit"
	}
	return c.Kind()
}

// Run ticks rt until a stop condition and reports how many ticks ran.
// A guest fault is returned as the error; ticks before it still count.
func (r *Runner) Run(ctx context.Context, rt *Runtime) (uint64, error) {
	if r.Output == nil {
		return 0, errors.New("output writer must be set")
	}
	render := r.Renderer
	if render == nil {
		render = PlainRenderer
	}

	var pace <-chan time.Time
	if r.Realtime && r.Delta > 0 {
		ticker := time.NewTicker(r.Delta)
		defer ticker.Stop()
		pace = ticker.C
	}

	var ran uint64
	for r.MaxTicks == 0 || ran < r.MaxTicks {
		if pace != nil {
			select {
			case <-ctx.Done():
				return ran, nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return ran, nil
		}

		tick := rt.Tick()
		for _, in := range r.Script[tick] {
			rt.Send(in)
		}
		calls, err := rt.RunTick(r.Delta)
		if err != nil {
			return ran, err
		}
		ran++

		out, err := render(tick, calls)
		if err != nil {
			return ran, fmt.Errorf("render tick %d: %w", tick, err)
		}
		if out != "" {
			if _, err := io.WriteString(r.Output, out); err != nil {
				return ran, err
			}
		}
		if exits(calls) {
			break
		}
	}
	return ran, nil
}

func exits(calls []domain.Call) bool {
	for _, c := range calls {
		if _, ok := c.(domain.ExitCall); ok {
			return true
		}
	}
	return false
}

// Script is player input keyed by the tick it is delivered before.
type Script map[uint64][]domain.Response

// ParseScript reads NDJSON input lines such as
//
//	{"tick":3,"player":1,"kind":"press","code":32}
//
// Blank lines and lines starting with # are skipped.
func ParseScript(rd io.Reader) (Script, error) {
	script := Script{}
	sc := bufio.NewScanner(rd)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var entry struct {
			Tick uint64 `json:"tick"`
			domain.PlayerEvent
		}
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		script[entry.Tick] = append(script[entry.Tick], domain.EventResponse{Event: entry.PlayerEvent})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return script, nil
}
