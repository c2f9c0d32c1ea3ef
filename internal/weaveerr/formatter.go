package weaveerr

import (
	"fmt"
	"strings"
)

// FormatError returns a human-readable error message for terminal output
func FormatError(e *Error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s [%s]\n", severityIcon(e.Severity), categoryDisplayName(e.Category), e.Code)

	if e.Entry != "" {
		fmt.Fprintf(&b, "  Entry:  %s\n", e.Entry)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, "  Method: %s\n", e.Method)
	}
	fmt.Fprintf(&b, "  %s\n", e.Message)
	if e.Cause != "" {
		fmt.Fprintf(&b, "  Cause:  %s\n", e.Cause)
	}

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n💡 %s\n", e.Suggestion)
	}
	return b.String()
}

// FormatErrorList returns a formatted string of all errors
func FormatErrorList(errs ErrorList) string {
	if len(errs) == 0 {
		return "no errors"
	}

	var b strings.Builder
	errCount, warnCount := errs.ErrorCount()
	fmt.Fprintf(&b, "%d error(s), %d warning(s)\n\n", errCount, warnCount)

	for i, err := range errs {
		if i > 0 {
			b.WriteString("\n" + strings.Repeat("-", 80) + "\n\n")
		}
		b.WriteString(err.Format())
	}
	return b.String()
}

// FormatCompact returns a compact one-line error format:
//
//	entry: method: severity: message: cause [CODE]
func FormatCompact(e *Error) string {
	var b strings.Builder
	if e.Entry != "" {
		b.WriteString(e.Entry)
		b.WriteString(": ")
	}
	if e.Method != "" {
		b.WriteString(e.Method)
		b.WriteString(": ")
	}
	if e.Severity != "" {
		b.WriteString(string(e.Severity))
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = e.Type
	}
	b.WriteString(msg)
	if e.Cause != "" {
		b.WriteString(": ")
		b.WriteString(e.Cause)
	}
	fmt.Fprintf(&b, " [%s]", e.Code)
	return b.String()
}

// severityIcon returns the emoji/icon for a severity level
func severityIcon(severity ErrorSeverity) string {
	switch severity {
	case SeverityError:
		return "❌"
	case SeverityWarning:
		return "⚠️ "
	default:
		return "❓"
	}
}

// categoryDisplayName returns a human-readable category name
func categoryDisplayName(category ErrorCategory) string {
	switch category {
	case CategoryUnit:
		return "Class File Error"
	case CategoryMarker:
		return "Marker Error"
	case CategoryRewrite:
		return "Rewrite Warning"
	case CategoryArchive:
		return "Archive Error"
	case CategoryConfig:
		return "Configuration Error"
	default:
		return "Error"
	}
}
