package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Details      []string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

func palette(level ErrorLevel, noColor bool) (header, body *color.Color, symbol string) {
	switch level {
	case ErrorLevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "⚠️"
	case ErrorLevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "ℹ️"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "❌"
	}
	if noColor {
		header.DisableColor()
		body.DisableColor()
	}
	return header, body, symbol
}

// FormatError renders a message with optional details, suggestions and
// help commands.
//
// Example output:
//
//	❌ CONFIGURATION ERROR: unknown marker kind "lifecycel"
//
//	   Did you mean: lifecycle?
//
//	   → Get help: weaver instrument --help
func FormatError(opts ErrorOptions) string {
	var b strings.Builder
	header, body, symbol := palette(opts.Level, opts.NoColor)

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}
	for _, d := range opts.Details {
		body.Fprintf(&b, "   %s\n", d)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if opts.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// PipelineError converts a pipeline error into display options. The entry
// and method it names become detail lines.
func PipelineError(e *weaveerr.Error, noColor bool) ErrorOptions {
	opts := ErrorOptions{
		Level:   ErrorLevelError,
		Context: fmt.Sprintf("%s %s", e.Code, strings.ReplaceAll(e.Type, "_", " ")),
		Problem: e.Message,
		NoColor: noColor,
	}
	if e.IsWarning() {
		opts.Level = ErrorLevelWarning
	}
	if e.Entry != "" {
		opts.Details = append(opts.Details, "entry:  "+e.Entry)
	}
	if e.Method != "" {
		opts.Details = append(opts.Details, "method: "+e.Method)
	}
	if e.Cause != "" {
		opts.Details = append(opts.Details, "cause:  "+e.Cause)
	}
	if e.Suggestion != "" {
		opts.HelpCommands = append(opts.HelpCommands, e.Suggestion)
	}
	return opts
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "CONFIGURATION ERROR",
		Problem:     message,
		Suggestions: suggestions,
		HelpCommands: []string{
			"Check the config file: weaver.yaml",
			"Get help: weaver instrument --help",
		},
		NoColor: noColor,
	})
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, NoColor: noColor})
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}
