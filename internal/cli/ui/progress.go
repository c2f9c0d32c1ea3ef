package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ProgressBar draws a single-line bar for determinate operations. It is
// not safe for concurrent use.
type ProgressBar struct {
	writer  io.Writer
	total   int
	current int
	width   int
	message string
	noColor bool
}

// ProgressBarOptions configures progress bar behavior
type ProgressBarOptions struct {
	Width   int // Default: 40
	NoColor bool
}

// NewProgressBar creates a new progress bar
func NewProgressBar(w io.Writer, opts ProgressBarOptions) *ProgressBar {
	width := opts.Width
	if width == 0 {
		width = 40
	}
	return &ProgressBar{writer: w, width: width, noColor: opts.NoColor}
}

// Update moves the bar; its signature matches pipeline progress callbacks.
func (p *ProgressBar) Update(current, total int, message string) {
	p.total = total
	p.current = min(max(current, 0), total)
	p.message = message
	p.render()
}

// Finish completes the bar and prints message on a line of its own.
func (p *ProgressBar) Finish(message string) {
	if p.total > 0 {
		p.current = p.total
		p.message = ""
		p.render()
		fmt.Fprintln(p.writer)
	}
	if message != "" {
		WriteSuccess(p.writer, message, p.noColor)
	}
}

// Abandon ends the line so following output starts cleanly.
func (p *ProgressBar) Abandon() {
	if p.total > 0 {
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressBar) render() {
	if p.total == 0 {
		return
	}
	filled := p.width * p.current / p.total

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if p.noColor {
		cyan.DisableColor()
		gray.DisableColor()
	}

	var bar strings.Builder
	bar.WriteString("[")
	cyan.Fprint(&bar, strings.Repeat("█", filled))
	gray.Fprint(&bar, strings.Repeat("░", p.width-filled))
	bar.WriteString("]")

	message := ""
	if p.message != "" {
		message = " " + p.message
	}
	fmt.Fprintf(p.writer, "\r\033[K%s %3d%% (%d/%d)%s", bar.String(), 100*p.current/p.total, p.current, p.total, message)
}
