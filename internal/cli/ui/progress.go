package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Progress reports `telecom start` steps on an interactive terminal: one
// line per step (configuring carriers, connecting to NATS, binding the
// port), each closed with a check or a cross, with the carriers listed
// under their step. An inactive Progress prints nothing; logs carry the
// same information when stderr is not a TTY.
type Progress struct {
	w       io.Writer
	active  bool
	animate bool

	spin *spinner.Spinner
	step string
	open bool
}

// NewProgress writes to w. animate selects a braille spinner over static
// step text and only matters when active.
func NewProgress(w io.Writer, active, animate bool) *Progress {
	return &Progress{w: w, active: active, animate: animate}
}

// Header prints the title line that precedes the steps.
func (p *Progress) Header(title string) {
	if !p.active {
		return
	}
	fmt.Fprintf(p.w, "\n  %s %s\n\n", BrandEmoji, StyleTitle.Render(title))
}

// Step opens a step. A still-open step is closed as done first.
func (p *Progress) Step(msg string) {
	if !p.active {
		return
	}
	if p.open {
		p.Done()
	}
	p.step, p.open = msg, true
	if !p.animate {
		fmt.Fprintf(p.w, "  %s", msg)
		return
	}
	p.spin = spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(p.w))
	p.spin.Prefix = "  "
	p.spin.Suffix = " " + msg
	p.spin.Start()
}

// Done closes the open step with a check.
func (p *Progress) Done() { p.finish(StyleSuccess.Render(SymbolCheck)) }

// Fail closes the open step with a cross.
func (p *Progress) Fail() { p.finish(StyleError.Render(SymbolCross)) }

// Carrier lists one configured carrier under the last closed step.
func (p *Progress) Carrier(name, kind string) {
	if !p.active {
		return
	}
	fmt.Fprintf(p.w, "    %s %-12s %s\n", StyleHint.Render(SymbolArrow), name, StyleHint.Render(kind))
}

func (p *Progress) finish(mark string) {
	if !p.active || !p.open {
		return
	}
	p.open = false
	if p.spin == nil {
		fmt.Fprintf(p.w, " %s\n", mark)
		return
	}
	p.spin.Stop()
	p.spin = nil
	fmt.Fprintf(p.w, "\r  %s %s\n", p.step, mark)
}
