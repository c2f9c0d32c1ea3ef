// Package policy holds the immutable instrumentation policy and resolves a
// method's markers against it into an instrumentation plan.
package policy

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/marker"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// Hook descriptors. The engine only needs the call signature of each hook
// role; the implementations live in the instrumented application.
const (
	LogCallDescriptor    = "(Ljava/lang/String;Ljava/lang/String;)V"
	ThrowableDescriptor  = "(Ljava/lang/Throwable;Ljava/lang/Object;)V"
	CompletionDescriptor = "(Ljava/lang/Object;)V"
	BenchmarkDescriptor  = "(Ljava/lang/String;JII)V"
)

// Hook is a static method invoked by instrumented code.
type Hook struct {
	// Owner is the internal name of the declaring class.
	Owner string
	Name  string
}

// ParseHook accepts "com.acme.Hooks.logCall" or "com/acme/Hooks#logCall".
func ParseHook(s string) (Hook, error) {
	s = strings.TrimSpace(s)
	var owner, name string
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		owner, name = s[:i], s[i+1:]
	} else if i := strings.LastIndexByte(s, '.'); i >= 0 {
		owner, name = s[:i], s[i+1:]
	}
	owner = classfile.InternalName(owner)
	if owner == "" || name == "" || strings.ContainsAny(name, "/.;[<>()") ||
		strings.HasPrefix(owner, "/") || strings.HasSuffix(owner, "/") || strings.Contains(owner, "//") {
		return Hook{}, fmt.Errorf("invalid hook target %q, want package.Class.method", s)
	}
	return Hook{Owner: owner, Name: name}, nil
}

// String renders the hook in dotted form.
func (h Hook) String() string {
	return classfile.ExternalName(h.Owner) + "." + h.Name
}

// IsZero reports whether the hook is unset.
func (h Hook) IsZero() bool {
	return h.Owner == "" && h.Name == ""
}

// Rule configures one marker kind.
type Rule struct {
	Enabled bool
	// Annotation optionally pins the kind to one annotation type descriptor.
	Annotation string
	// Hook is the target for LogCall and Benchmark.
	Hook Hook
	// ThrowableHook and CompletionHook are the Lifecycle targets.
	ThrowableHook  Hook
	CompletionHook Hook
}

// Policy is built once per run and never modified.
type Policy struct {
	rules map[marker.Kind]Rule
	vocab marker.Vocabulary
}

// Empty returns a policy with every kind disabled.
func Empty() *Policy {
	return &Policy{rules: map[marker.Kind]Rule{}, vocab: marker.DefaultVocabulary()}
}

// New validates rules and builds a policy. Enabled kinds must name their
// hook targets.
func New(rules map[marker.Kind]Rule) (*Policy, error) {
	p := Empty()
	for _, kind := range marker.Kinds {
		r, ok := rules[kind]
		if !ok {
			continue
		}
		if r.Annotation != "" {
			if !strings.HasPrefix(r.Annotation, "L") || !strings.HasSuffix(r.Annotation, ";") || len(r.Annotation) < 3 {
				return nil, weaveerr.NewConfig(fmt.Sprintf("markers.%s.annotation: %q is not a type descriptor", kind.ConfigKey(), r.Annotation)).
					WithSuggestion("Write annotation types as descriptors, e.g. Lcom/acme/" + kind.String() + ";")
			}
			p.vocab = p.vocab.With(kind, r.Annotation)
		}
		if r.Enabled {
			if err := checkHooks(kind, r); err != nil {
				return nil, err
			}
		}
		p.rules[kind] = r
	}
	for kind := range rules {
		if kind == marker.KindUnknown {
			return nil, weaveerr.NewConfig("rule for unknown marker kind")
		}
	}
	return p, nil
}

func checkHooks(kind marker.Kind, r Rule) error {
	missing := func(key string) error {
		return weaveerr.NewConfig(fmt.Sprintf("markers.%s is enabled but %s is not set", kind.ConfigKey(), key)).
			WithSuggestion(fmt.Sprintf("Set markers.%s.%s to a static method such as com.acme.Hooks.method", kind.ConfigKey(), key))
	}
	switch kind {
	case marker.KindLifecycle:
		if r.ThrowableHook.IsZero() {
			return missing("throwable_hook")
		}
		if r.CompletionHook.IsZero() {
			return missing("completion_hook")
		}
	default:
		if r.Hook.IsZero() {
			return missing("hook")
		}
	}
	return nil
}

// Rule returns the rule for kind.
func (p *Policy) Rule(kind marker.Kind) (Rule, bool) {
	r, ok := p.rules[kind]
	return r, ok
}

// Enabled reports whether kind is instrumented.
func (p *Policy) Enabled(kind marker.Kind) bool {
	return p.rules[kind].Enabled
}

// AnyEnabled reports whether any kind is instrumented. When false the
// transform is the identity.
func (p *Policy) AnyEnabled() bool {
	for _, r := range p.rules {
		if r.Enabled {
			return true
		}
	}
	return false
}

// Vocabulary returns the annotation matching rules implied by the policy.
func (p *Policy) Vocabulary() marker.Vocabulary {
	return p.vocab
}
