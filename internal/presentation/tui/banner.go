package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tickvm banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{" _   _      _              ", "#34d399"},
		{"| |_(_) ___| | ____   ___ __ ___  ", "#2dd4bf"},
		{"| __| |/ __| |/ /\\ \\ / / '_ ` _ \\ ", "#22d3ee"},
		{"| |_| | (__|   <  \\ V /| | | | | |", "#38bdf8"},
		{" \\__|_|\\___|_|\\_\\  \\_/ |_| |_| |_|", "#60a5fa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  "+version).Faint())
	fmt.Fprintln(w)
}
