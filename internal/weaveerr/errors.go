// Package weaveerr provides the structured error taxonomy shared by every
// stage of the instrumentation pipeline. Each error carries a stable code,
// a category and a severity, and renders both as terminal text and as
// JSON for machine consumers.
package weaveerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode is a unique, stable error code.
type ErrorCode string

// ErrorCategory groups codes by pipeline stage.
type ErrorCategory string

const (
	// CategoryUnit covers class file decoding (WVR100-199)
	CategoryUnit ErrorCategory = "unit"
	// CategoryMarker covers marker extraction and resolution (WVR200-299)
	CategoryMarker ErrorCategory = "marker"
	// CategoryRewrite covers method rewriting (WVR300-399)
	CategoryRewrite ErrorCategory = "rewrite"
	// CategoryArchive covers archive reading and writing (WVR400-499)
	CategoryArchive ErrorCategory = "archive"
	// CategoryConfig covers configuration loading (WVR500-599)
	CategoryConfig ErrorCategory = "config"
)

// ErrorSeverity decides whether a run can continue.
type ErrorSeverity string

const (
	// SeverityError aborts the run
	SeverityError ErrorSeverity = "error"
	// SeverityWarning is collected and reported after a successful run
	SeverityWarning ErrorSeverity = "warning"
)

const (
	CodeMalformedUnit          ErrorCode = "WVR100"
	CodeInvalidMarker          ErrorCode = "WVR200"
	CodeConflictingMarkers     ErrorCode = "WVR201"
	CodeUnsupportedInstruction ErrorCode = "WVR300"
	CodeDuplicateEntry         ErrorCode = "WVR400"
	CodeArchiveIO              ErrorCode = "WVR401"
	CodeConfig                 ErrorCode = "WVR500"
)

// Sentinels for errors.Is. A returned *Error matches the sentinel with
// the same code.
var (
	ErrMalformedUnit          = &Error{Code: CodeMalformedUnit, Type: "malformed_unit"}
	ErrInvalidMarker          = &Error{Code: CodeInvalidMarker, Type: "invalid_marker"}
	ErrConflictingMarkers     = &Error{Code: CodeConflictingMarkers, Type: "conflicting_markers"}
	ErrUnsupportedInstruction = &Error{Code: CodeUnsupportedInstruction, Type: "unsupported_instruction"}
	ErrDuplicateEntry         = &Error{Code: CodeDuplicateEntry, Type: "duplicate_entry"}
	ErrArchiveIO              = &Error{Code: CodeArchiveIO, Type: "archive_io"}
	ErrConfig                 = &Error{Code: CodeConfig, Type: "config"}
)

// Error is a structured pipeline error.
type Error struct {
	// Code is the unique error code (e.g. "WVR100")
	Code ErrorCode `json:"code"`
	// Type is a machine-readable error type identifier
	Type string `json:"type"`
	// Category is the pipeline stage that raised the error
	Category ErrorCategory `json:"category"`
	// Severity is the error severity level
	Severity ErrorSeverity `json:"severity"`
	// Message is the primary error message
	Message string `json:"message"`
	// Entry is the archive entry being processed (optional)
	Entry string `json:"entry,omitempty"`
	// Method is the method being processed, as pkg.Type.name(desc) (optional)
	Method string `json:"method,omitempty"`
	// Kind is the marker kind involved (optional)
	Kind string `json:"kind,omitempty"`
	// Suggestion provides a hint for fixing the error (optional)
	Suggestion string `json:"suggestion,omitempty"`
	// Cause is the text of the wrapped error, kept for JSON output
	Cause string `json:"cause,omitempty"`

	err error
}

// Error implements the error interface with the compact one-line form.
func (e *Error) Error() string {
	return FormatCompact(e)
}

// Format returns the multi-line human-readable form.
func (e *Error) Format() string {
	return FormatError(e)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsWarning reports whether the error is recoverable.
func (e *Error) IsWarning() bool {
	return e.Severity == SeverityWarning
}

// ToJSON returns the error as indented JSON.
func (e *Error) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// WithEntry sets the archive entry name.
func (e *Error) WithEntry(entry string) *Error {
	e.Entry = entry
	return e
}

// WithMethod sets the method identifier.
func (e *Error) WithMethod(method string) *Error {
	e.Method = method
	return e
}

// WithSuggestion sets a hint for fixing the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.err = err
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

func newError(code ErrorCode, typ string, category ErrorCategory, severity ErrorSeverity, message string) *Error {
	return &Error{
		Code:     code,
		Type:     typ,
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// NewMalformedUnit creates a WVR100 error for a class file that cannot be decoded.
func NewMalformedUnit(cause error) *Error {
	return newError(CodeMalformedUnit, "malformed_unit", CategoryUnit, SeverityError,
		"class file does not conform to the class file format").
		WithCause(cause).
		WithSuggestion("Rebuild the archive; the entry may be corrupt or produced by an unsupported compiler")
}

// NewInvalidMarker creates a WVR200 error for a marker with malformed parameters.
func NewInvalidMarker(kind, reason string) *Error {
	e := newError(CodeInvalidMarker, "invalid_marker", CategoryMarker, SeverityError,
		fmt.Sprintf("invalid @%s marker: %s", kind, reason))
	e.Kind = kind
	return e.WithSuggestion("Check the annotation parameters against the marker definition used by the build")
}

// NewConflictingMarkers creates a WVR201 error for repeated markers of one kind.
func NewConflictingMarkers(kind string, count int) *Error {
	e := newError(CodeConflictingMarkers, "conflicting_markers", CategoryMarker, SeverityError,
		fmt.Sprintf("%d @%s markers on one method, at most one is allowed", count, kind))
	e.Kind = kind
	return e.WithSuggestion(fmt.Sprintf("Remove all but one @%s annotation", kind))
}

// NewUnsupportedInstruction creates a WVR300 warning; the method is left unmodified.
func NewUnsupportedInstruction(reason string) *Error {
	return newError(CodeUnsupportedInstruction, "unsupported_instruction", CategoryRewrite, SeverityWarning,
		"method left uninstrumented: "+reason)
}

// NewDuplicateEntry creates a WVR400 error.
func NewDuplicateEntry(name string) *Error {
	return newError(CodeDuplicateEntry, "duplicate_entry", CategoryArchive, SeverityError,
		fmt.Sprintf("archive contains more than one entry named %q", name)).
		WithEntry(name)
}

// NewArchiveIO creates a WVR401 error for a failed read or write.
func NewArchiveIO(op string, cause error) *Error {
	return newError(CodeArchiveIO, "archive_io", CategoryArchive, SeverityError,
		"archive "+op+" failed").
		WithCause(cause)
}

// NewConfig creates a WVR500 error.
func NewConfig(message string) *Error {
	return newError(CodeConfig, "config", CategoryConfig, SeverityError, message)
}

// InEntry attributes err to an archive entry when it is an *Error that
// does not name one yet. Other errors are returned unchanged.
func InEntry(err error, entry string) error {
	var e *Error
	if errors.As(err, &e) && e.Entry == "" {
		e.Entry = entry
	}
	return err
}

// InMethod is InEntry for the method identifier.
func InMethod(err error, method string) error {
	var e *Error
	if errors.As(err, &e) && e.Method == "" {
		e.Method = method
	}
	return err
}

// ErrorList is a collection of pipeline errors.
type ErrorList []*Error

// Error implements the error interface
func (el ErrorList) Error() string {
	if len(el) == 0 {
		return "no errors"
	}
	return FormatErrorList(el)
}

// HasWarnings returns true if the list contains any warnings
func (el ErrorList) HasWarnings() bool {
	for _, err := range el {
		if err.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of errors and warnings
func (el ErrorList) ErrorCount() (errs, warnings int) {
	for _, err := range el {
		switch err.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warnings++
		}
	}
	return
}

// ToJSON returns all errors as a JSON array
func (el ErrorList) ToJSON() (string, error) {
	if el == nil {
		el = ErrorList{}
	}
	bytes, err := json.MarshalIndent(el, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
