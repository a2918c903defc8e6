// Package tui styles command output for interactive terminals.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/aretw0/tickvm"
	"github.com/aretw0/tickvm/pkg/domain"
)

// CallRenderer colors each call by kind. The color profile is detected from
// w, so redirected output stays plain.
func CallRenderer(w io.Writer) tickvm.CallRenderer {
	out := termenv.NewOutput(w)
	tickStyle := func(tick uint64) termenv.Style {
		return out.String(fmt.Sprintf("%06d", tick)).Faint()
	}
	kindColor := map[string]termenv.Color{
		"draw": out.Color("#60a5fa"),
		"play": out.Color("#a78bfa"),
		"exit": out.Color("#f87171"),
	}

	return func(tick uint64, calls []domain.Call) (string, error) {
		var sb strings.Builder
		for _, c := range calls {
			line := tickvm.FormatCall(c)
			kind, rest, _ := strings.Cut(line, " ")
			fmt.Fprintf(&sb, "%s %s", tickStyle(tick), out.String(kind).Foreground(kindColor[c.Kind()]).Bold())
			if rest != "" {
				sb.WriteString(" " + rest)
			}
			sb.WriteByte('\n')
		}
		return sb.String(), nil
	}
}
