// Package tui renders command output for terminals: markdown through glamour, job states
// in color. Output that is not a terminal stays plain.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes human-readable output to one stream.
type Printer struct {
	out      io.Writer
	styled   bool
	profile  termenv.Profile
	markdown func(string) (string, error)
}

// NewPrinter styles output only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{out: w, profile: termenv.Ascii}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.styled = true
		p.profile = termenv.NewOutput(f).EnvColorProfile()
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width(f))); err == nil {
			p.markdown = r.Render
		}
	}
	return p
}

// NewPlainPrinter never emits escape sequences.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: w, profile: termenv.Ascii}
}

func width(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return min(w, 120)
}

// Styled reports whether the printer emits colors.
func (p *Printer) Styled() bool { return p.styled }

// Printf writes formatted text.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Markdown renders md, falling back to the raw text.
func (p *Printer) Markdown(md string) {
	if p.markdown != nil {
		if out, err := p.markdown(md); err == nil {
			fmt.Fprint(p.out, out)
			return
		}
	}
	fmt.Fprint(p.out, md)
	if !strings.HasSuffix(md, "\n") {
		fmt.Fprintln(p.out)
	}
}

var stateColors = map[domain.JobState]string{
	domain.JobPending:   "#a1a1aa",
	domain.JobRunning:   "#60a5fa",
	domain.JobSucceeded: "#4ade80",
	domain.JobFailed:    "#f87171",
	domain.JobCancelled: "#fbbf24",
}

// State returns the state name, colored on terminals.
func (p *Printer) State(s domain.JobState) string {
	str := p.profile.String(string(s))
	if c, ok := stateColors[s]; ok {
		str = str.Foreground(p.profile.Color(c))
	}
	if s.Terminal() {
		str = str.Bold()
	}
	return str.String()
}

// Faint dims secondary text such as identifiers.
func (p *Printer) Faint(s string) string {
	return p.profile.String(s).Faint().String()
}
