package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/aretw0/relay/pkg/domain"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewRenderer returns a function that renders markdown using glamour.
// Without a terminal the markdown is returned unchanged.
func NewRenderer(interactive bool) func(string) (string, error) {
	if !interactive {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// Printer writes streamed events and reports for a human reader.
type Printer struct {
	w       io.Writer
	render  func(string) (string, error)
	profile termenv.Profile
}

// NewPrinter creates a printer. Colors and markdown rendering are enabled only when
// interactive is true.
func NewPrinter(w io.Writer, interactive bool) *Printer {
	profile := termenv.Ascii
	if interactive {
		profile = termenv.ColorProfile()
	}
	return &Printer{w: w, render: NewRenderer(interactive), profile: profile}
}

func (p *Printer) label(text, color string) termenv.Style {
	return p.profile.String(text).Foreground(p.profile.Color(color)).Bold()
}

// Event prints one streamed event.
func (p *Printer) Event(ev domain.Event) {
	switch ev.Type {
	case domain.EventThreadStarted:
		fmt.Fprintf(p.w, "%s %s\n", p.label(">>>", "#38bdf8"), p.profile.String("session "+ev.SessionKey).Faint())
	case domain.EventMessage:
		p.message(ev.Message)
	case domain.EventError:
		if ev.Error != nil {
			fmt.Fprintf(p.w, "%s %s: %s\n", p.label("!!!", "#f87171"), ev.Error.Kind, ev.Error.Detail)
		}
	case domain.EventDone:
		fmt.Fprintf(p.w, "%s\n", p.label("--- done", "#4ade80"))
	}
}

func (p *Printer) message(m *domain.MessageView) {
	if m == nil {
		return
	}
	switch m.Role {
	case domain.RoleUser:
		fmt.Fprintf(p.w, "%s %s\n", p.label("you:", "#a78bfa"), m.Content)
	case domain.RoleAssistant:
		if strings.TrimSpace(m.Content) != "" {
			p.markdown(m.Content)
		}
		for _, call := range m.PendingCalls {
			fmt.Fprintf(p.w, "%s %s: %s\n", p.label("->", "#fbbf24"), call.TargetWorker, call.TaskDescription)
		}
	case domain.RoleTool:
		if m.Fault != nil {
			fmt.Fprintf(p.w, "%s %s\n", p.label("["+m.Producer+"]", "#f87171"), string(m.Fault.Kind))
			return
		}
		fmt.Fprintf(p.w, "%s %s\n", p.label("["+m.Producer+"]", "#2dd4bf"), domain.Excerpt(m.Content, 200))
	}
}

// Report prints the final answer followed by the workers that contributed.
func (p *Printer) Report(r *domain.Report) {
	p.markdown(r.Answer)
	if len(r.WorkersUsed) > 0 {
		fmt.Fprintf(p.w, "%s\n", p.profile.String(fmt.Sprintf("workers: %s | steps: %d | %dms",
			strings.Join(r.WorkersUsed, ", "), r.Steps, r.ElapsedMillis)).Faint())
	}
}

func (p *Printer) markdown(text string) {
	out, err := p.render(text)
	if err != nil {
		out = text
	}
	fmt.Fprintln(p.w, strings.TrimRight(out, "\n"))
}
