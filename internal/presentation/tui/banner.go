package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the Relay banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"  ____      _             ", "#38bdf8"},
		{" |  _ \\ ___| | __ _ _   _ ", "#22d3ee"},
		{" | |_) / _ \\ |/ _` | | | |", "#2dd4bf"},
		{" |  _ <  __/ | (_| | |_| |", "#34d399"},
		{" |_| \\_\\___|_|\\__,_|\\__, |", "#4ade80"},
		{"                    |___/ ", "#a3e635"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, p.String("  v"+version).Faint())
	fmt.Fprintln(w)
}
