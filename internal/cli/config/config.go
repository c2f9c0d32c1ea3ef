// Package config loads weaver.yaml into an immutable instrumentation
// policy.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/conduit-lang/weaver/internal/cli/ui"
	"github.com/conduit-lang/weaver/internal/marker"
	"github.com/conduit-lang/weaver/internal/policy"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// EnvPrefix prefixes environment overrides, e.g.
// WEAVER_MARKERS_LOG_CALL_ENABLED=true.
const EnvPrefix = "WEAVER"

// FileNames are searched for, in order, when no config path is given.
var FileNames = []string{"weaver.yaml", "weaver.yml"}

// Config represents the weaver configuration
type Config struct {
	// Jobs bounds parallel entry processing; 0 means one per CPU.
	Jobs    int                     `mapstructure:"jobs"`
	Markers map[string]MarkerConfig `mapstructure:"markers"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// MarkerConfig configures one marker kind.
type MarkerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Annotation     string `mapstructure:"annotation"`
	Hook           string `mapstructure:"hook"`
	ThrowableHook  string `mapstructure:"throwable_hook"`
	CompletionHook string `mapstructure:"completion_hook"`
}

var markerFields = []string{"enabled", "annotation", "hook", "throwable_hook", "completion_hook"}

// Load reads the configuration at path. With an empty path the working
// directory and its parents are searched for weaver.yaml; when none is
// found every marker kind is disabled.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("jobs", 0)
	for _, kind := range marker.Kinds {
		for _, field := range markerFields {
			var def any = ""
			if field == "enabled" {
				def = false
			}
			v.SetDefault(markerKey(kind.ConfigKey(), field), def)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		found, err := FindConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, weaveerr.NewConfig(fmt.Sprintf("failed to read config file %s", path)).WithCause(err)
		}
	}

	if err := checkKeys(v.AllKeys()); err != nil {
		return nil, err
	}

	cfg := Config{File: path}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, weaveerr.NewConfig("failed to decode configuration").WithCause(err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func markerKey(kind, field string) string {
	return "markers." + kind + "." + field
}

// FindConfigFile walks up from the working directory and returns the
// first weaver.yaml found, or "" if there is none.
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", weaveerr.NewConfig("cannot determine working directory").WithCause(err)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// checkKeys rejects keys weaver does not know, suggesting the closest
// known spelling.
func checkKeys(keys []string) error {
	kinds := make([]string, 0, len(marker.Kinds))
	for _, kind := range marker.Kinds {
		kinds = append(kinds, kind.ConfigKey())
	}
	slices.Sort(keys)

	for _, key := range keys {
		parts := strings.Split(key, ".")
		switch {
		case len(parts) == 1 && parts[0] == "jobs":
			continue
		case parts[0] != "markers":
			return unknownKey(key, parts[0], []string{"jobs", "markers"}, "")
		case len(parts) != 3:
			return weaveerr.NewConfig(fmt.Sprintf("%s: expected markers.<kind>.<setting>", key))
		case !slices.Contains(kinds, parts[1]):
			return unknownKey(key, parts[1], kinds, "markers.")
		case !slices.Contains(markerFields, parts[2]):
			return unknownKey(key, parts[2], markerFields, "markers."+parts[1]+".")
		}
	}
	return nil
}

func unknownKey(key, segment string, known []string, prefix string) error {
	err := weaveerr.NewConfig(fmt.Sprintf("unknown configuration key %q", key))
	if similar := ui.FindSimilar(segment, known, nil); len(similar) > 0 {
		return err.WithSuggestion("Did you mean " + prefix + similar[0] + "?")
	}
	return err.WithSuggestion("Known keys under " + strings.TrimSuffix(prefix, ".") + ": " + strings.Join(known, ", "))
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Jobs < 0 {
		return weaveerr.NewConfig(fmt.Sprintf("jobs must not be negative, got: %d", cfg.Jobs))
	}
	for _, kind := range marker.Kinds {
		mc := cfg.Markers[kind.ConfigKey()]
		lifecycle := kind == marker.KindLifecycle
		if lifecycle && mc.Hook != "" {
			return weaveerr.NewConfig(fmt.Sprintf("%s is not used", markerKey(kind.ConfigKey(), "hook"))).
				WithSuggestion("Lifecycle markers call throwable_hook and completion_hook")
		}
		if !lifecycle && (mc.ThrowableHook != "" || mc.CompletionHook != "") {
			return weaveerr.NewConfig(fmt.Sprintf("markers.%s takes a single hook", kind.ConfigKey())).
				WithSuggestion(fmt.Sprintf("Set %s instead", markerKey(kind.ConfigKey(), "hook")))
		}
	}
	return nil
}

// Policy builds the instrumentation policy. Hook targets are parsed even
// for disabled kinds so typos surface early.
func (c *Config) Policy() (*policy.Policy, error) {
	rules := make(map[marker.Kind]policy.Rule, len(marker.Kinds))
	for _, kind := range marker.Kinds {
		mc := c.Markers[kind.ConfigKey()]
		rule := policy.Rule{Enabled: mc.Enabled, Annotation: mc.Annotation}
		targets := []struct {
			field string
			value string
			dst   *policy.Hook
		}{
			{"hook", mc.Hook, &rule.Hook},
			{"throwable_hook", mc.ThrowableHook, &rule.ThrowableHook},
			{"completion_hook", mc.CompletionHook, &rule.CompletionHook},
		}
		for _, target := range targets {
			if target.value == "" {
				continue
			}
			hook, err := policy.ParseHook(target.value)
			if err != nil {
				return nil, weaveerr.NewConfig(markerKey(kind.ConfigKey(), target.field)+": "+err.Error()).
					WithSuggestion("Name a static method as package.Class.method")
			}
			*target.dst = hook
		}
		rules[kind] = rule
	}
	return policy.New(rules)
}

// IsConfigError reports whether err came from loading configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, weaveerr.ErrConfig)
}
