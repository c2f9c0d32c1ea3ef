package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/classfile/classtest"
	"github.com/conduit-lang/weaver/internal/rewrite"
	"github.com/conduit-lang/weaver/internal/transform"
)

const testConfig = `
markers:
  log_call:
    enabled: true
    hook: com.acme.Hooks.logCall
  lifecycle:
    enabled: false
    throwable_hook: com.acme.Hooks.failed
    completion_hook: com.acme.Hooks.finished
`

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--no-color"))
	err = ExecuteCommand(context.Background(), cmd)
	return out.String(), errOut.String(), err
}

func serviceJar(t *testing.T, dir string) string {
	t.Helper()
	b := classtest.New("com/acme/Service")
	b.Method(0x0009, "run", "()V").
		Code(0, 0, 0xb1).
		Annotations(true,
			classtest.Annotation{Type: "Lcom/acme/LogCall;", Elements: []classtest.Element{classtest.Str("value", "runs")}},
			classtest.Annotation{Type: "Lcom/acme/Lifecycle;"},
		)

	path := filepath.Join(dir, "app.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("com/acme/Service.class")
	require.NoError(t, err)
	_, err = w.Write(b.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func workspace(t *testing.T) (jar, cfg string) {
	dir := t.TempDir()
	cfg = filepath.Join(dir, "weaver.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(testConfig), 0o644))
	return serviceJar(t, dir), cfg
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "weaver", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"version", "instrument", "markers", "completion"})
	for _, flag := range []string{"config", "verbose", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	Version, GitCommit, BuildDate, GoVersion = "1.0.0-test", "abc123", "2025-01-01", "go1.23"
	t.Cleanup(func() { Version, GitCommit, BuildDate, GoVersion = "dev", "unknown", "unknown", "unknown" })

	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Weaver version: 1.0.0-test")
	assert.Contains(t, stdout, "Git commit:     abc123")
	assert.Contains(t, stdout, "Go version:     go1.23")
}

func TestInstrumentCommand(t *testing.T) {
	jar, cfg := workspace(t)
	out := filepath.Join(filepath.Dir(jar), "woven.jar")

	stdout, stderr, err := execute(t, "instrument", "-i", jar, "-o", out, "--config", cfg, "--jobs", "2")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Rewritten classes:    1")
	assert.Contains(t, stdout, "Instrumented methods: 1")
	assert.Contains(t, stdout, "✓ Wrote "+out)
	assert.Contains(t, stderr, "100% (1/1)")
	assert.NotContains(t, stderr, "WVR300", "no warnings to report")

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	rc, err := r.File[0].Open()
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	rc.Close()
	require.NoError(t, err)
	c, err := classfile.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, rewrite.IsInstrumented(c, c.Methods[0]))
}

func TestInstrumentCommandJSON(t *testing.T) {
	jar, cfg := workspace(t)
	out := filepath.Join(filepath.Dir(jar), "woven.jar")

	stdout, _, err := execute(t, "instrument", "-i", jar, "-o", out, "-c", cfg, "--json")
	require.NoError(t, err)

	var summary instrumentSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.True(t, summary.Success)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Entries)
	assert.Equal(t, 1, summary.Classes)
	assert.Equal(t, 1, summary.InstrumentedMethods)
	assert.Empty(t, summary.Warnings)
	assert.Nil(t, summary.Error)
}

func TestInstrumentCommandFailure(t *testing.T) {
	jar, cfg := workspace(t)
	missing := filepath.Join(filepath.Dir(jar), "missing.jar")
	out := filepath.Join(filepath.Dir(jar), "woven.jar")

	stdout, stderr, err := execute(t, "instrument", "-i", missing, "-o", out, "-c", cfg, "--json")
	require.Error(t, err)
	assert.Contains(t, stderr, "WVR401 ARCHIVE IO")
	assert.NoFileExists(t, out)

	var summary instrumentSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.False(t, summary.Success)
	require.NotNil(t, summary.Error)
	assert.Equal(t, "WVR401", string(summary.Error.Code))
}

func TestInstrumentCommandConfigError(t *testing.T) {
	jar, _ := workspace(t)
	bad := filepath.Join(t.TempDir(), "weaver.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("markers:\n  log_cal:\n    enabled: true\n"), 0o644))

	_, stderr, err := execute(t, "instrument", "-i", jar, "-o", jar+".out", "-c", bad)
	require.Error(t, err)
	assert.Contains(t, stderr, "unknown configuration key")
	assert.Contains(t, stderr, "Did you mean markers.log_call?")
}

func TestInstrumentCommandRequiresFlags(t *testing.T) {
	_, stderr, err := execute(t, "instrument", "-i", "app.jar")
	require.Error(t, err)
	assert.Contains(t, stderr, `required flag(s) "output" not set`)
}

func TestMarkersCommand(t *testing.T) {
	jar, cfg := workspace(t)

	stdout, _, err := execute(t, "markers", "-i", jar, "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "com/acme/Service.class")
	assert.Regexp(t, `run\(\)V\s+@LogCall\("runs"\)\s+enabled`, stdout)
	assert.Regexp(t, `run\(\)V\s+@Lifecycle\s+disabled`, stdout)
	assert.Contains(t, stdout, "2 marker(s) on 1 method(s) in 1 class(es)")
}

func TestMarkersCommandJSON(t *testing.T) {
	jar, cfg := workspace(t)

	stdout, _, err := execute(t, "markers", "-i", jar, "-c", cfg, "--json")
	require.NoError(t, err)
	var found []transform.ClassMarkers
	require.NoError(t, json.Unmarshal([]byte(stdout), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "com/acme/Service.class", found[0].Entry)
	require.Len(t, found[0].Methods, 1)
	assert.Len(t, found[0].Methods[0].Markers, 2)
}

func TestCompletionCommand(t *testing.T) {
	stdout, _, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "weaver")

	_, _, err = execute(t, "completion", "tcsh")
	assert.Error(t, err)
}
