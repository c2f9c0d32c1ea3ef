package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conduit-lang/weaver/internal/weaveerr"
)

func TestFormatError(t *testing.T) {
	out := FormatError(ErrorOptions{
		Context:      "configuration error",
		Problem:      `unknown marker kind "lifecycel"`,
		Details:      []string{"file: weaver.yaml"},
		Suggestions:  []string{"lifecycle"},
		HelpCommands: []string{"Get help: weaver instrument --help"},
		NoColor:      true,
	})
	assert.Equal(t, "❌ CONFIGURATION ERROR: unknown marker kind \"lifecycel\"\n"+
		"   file: weaver.yaml\n"+
		"\n"+
		"   Did you mean: lifecycle?\n"+
		"\n"+
		"   → Get help: weaver instrument --help\n", out)
}

func TestFormatErrorLevels(t *testing.T) {
	assert.Equal(t, "⚠️ careful\n", Warning("careful", true))
	assert.Equal(t, "ℹ️ note\n", FormatError(ErrorOptions{Level: ErrorLevelInfo, Problem: "note", NoColor: true}))
}

func TestPipelineError(t *testing.T) {
	e := weaveerr.NewMalformedUnit(errors.New("truncated constant pool")).
		WithEntry("com/acme/A.class").
		WithMethod("com.acme.A.run()V")
	opts := PipelineError(e, true)
	assert.Equal(t, ErrorLevelError, opts.Level)
	assert.Equal(t, "WVR100 malformed unit", opts.Context)
	assert.Equal(t, []string{
		"entry:  com/acme/A.class",
		"method: com.acme.A.run()V",
		"cause:  truncated constant pool",
	}, opts.Details)
	assert.Len(t, opts.HelpCommands, 1)

	warn := PipelineError(weaveerr.NewUnsupportedInstruction("jsr"), true)
	assert.Equal(t, ErrorLevelWarning, warn.Level)
	assert.Empty(t, warn.Details)
}

func TestSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "done", true)
	assert.Equal(t, "✓ done\n", buf.String())
	assert.Contains(t, ConfigError("bad", nil, true), "CONFIGURATION ERROR: bad")
}
