package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weaver/internal/marker"
	"github.com/conduit-lang/weaver/internal/policy"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

const fullConfig = `
jobs: 8
markers:
  log_call:
    enabled: true
    annotation: Lcom/acme/LogCall;
    hook: com.acme.hooks.CallLogger.logCall
  lifecycle:
    enabled: true
    throwable_hook: com.acme.hooks.Handler.handleThrowable
    completion_hook: com/acme/hooks/Handler#methodFinished
  benchmark:
    enabled: false
    hook: com.acme.hooks.Benchmark.check
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "weaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Zero(t, cfg.Jobs)
	for _, kind := range marker.Kinds {
		assert.False(t, cfg.Markers[kind.ConfigKey()].Enabled, kind.String())
	}

	pol, err := cfg.Policy()
	require.NoError(t, err)
	assert.False(t, pol.AnyEnabled(), "no config means identity transform")
}

func TestLoadWithConfigFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), fullConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 8, cfg.Jobs)
	assert.Equal(t, MarkerConfig{
		Enabled:    true,
		Annotation: "Lcom/acme/LogCall;",
		Hook:       "com.acme.hooks.CallLogger.logCall",
	}, cfg.Markers["log_call"])
	assert.Equal(t, "com/acme/hooks/Handler#methodFinished", cfg.Markers["lifecycle"].CompletionHook)

	pol, err := cfg.Policy()
	require.NoError(t, err)
	assert.True(t, pol.Enabled(marker.KindLogCall))
	assert.True(t, pol.Enabled(marker.KindLifecycle))
	assert.False(t, pol.Enabled(marker.KindBenchmark))

	rule, ok := pol.Rule(marker.KindLifecycle)
	require.True(t, ok)
	assert.Equal(t, policy.Hook{Owner: "com/acme/hooks/Handler", Name: "handleThrowable"}, rule.ThrowableHook)
	assert.Equal(t, policy.Hook{Owner: "com/acme/hooks/Handler", Name: "methodFinished"}, rule.CompletionHook)
	assert.Equal(t, marker.KindLogCall, pol.Vocabulary().Classify("Lcom/acme/LogCall;"))
}

func TestLoadFindsConfigInParent(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, fullConfig)
	nested := filepath.Join(root, "build", "libs")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	cfg, err := Load("")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(filepath.Dir(cfg.File))
	want, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, want, resolved)
	assert.Equal(t, 8, cfg.Jobs)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), fullConfig)
	t.Setenv("WEAVER_JOBS", "3")
	t.Setenv("WEAVER_MARKERS_BENCHMARK_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Jobs)
	assert.True(t, cfg.Markers["benchmark"].Enabled)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, weaveerr.ErrConfig)
	assert.True(t, IsConfigError(err))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		suggestion string
	}{
		{
			name:       "misspelled kind",
			content:    "markers:\n  lifecycel:\n    enabled: true\n",
			suggestion: "Did you mean markers.lifecycle?",
		},
		{
			name:       "misspelled setting",
			content:    "markers:\n  log_call:\n    hok: a.B.c\n",
			suggestion: "Did you mean markers.log_call.hook?",
		},
		{
			name:       "misspelled top level key",
			content:    "jbos: 2\n",
			suggestion: "Did you mean jobs?",
		},
		{
			name:       "unrelated kind",
			content:    "markers:\n  tracing:\n    enabled: true\n",
			suggestion: "Known keys under markers: log_call, lifecycle, benchmark",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			require.ErrorIs(t, err, weaveerr.ErrConfig)
			var werr *weaveerr.Error
			require.ErrorAs(t, err, &werr)
			assert.Contains(t, werr.Message, "unknown configuration key")
			assert.Equal(t, tt.suggestion, werr.Suggestion)
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"negative jobs", "jobs: -1\n", "jobs must not be negative"},
		{"lifecycle with single hook", "markers:\n  lifecycle:\n    hook: a.B.c\n", "markers.lifecycle.hook is not used"},
		{"benchmark with lifecycle hooks", "markers:\n  benchmark:\n    completion_hook: a.B.c\n", "markers.benchmark takes a single hook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			require.ErrorIs(t, err, weaveerr.ErrConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestPolicyErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"enabled without hook", "markers:\n  log_call:\n    enabled: true\n", "markers.log_call is enabled but hook is not set"},
		{"enabled lifecycle missing completion", "markers:\n  lifecycle:\n    enabled: true\n    throwable_hook: a.B.c\n", "completion_hook is not set"},
		{"bad hook even when disabled", "markers:\n  benchmark:\n    hook: check\n", "markers.benchmark.hook"},
		{"bad annotation", "markers:\n  log_call:\n    annotation: com.acme.LogCall\n", "is not a type descriptor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, t.TempDir(), tt.content))
			require.NoError(t, err)
			_, err = cfg.Policy()
			require.ErrorIs(t, err, weaveerr.ErrConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
