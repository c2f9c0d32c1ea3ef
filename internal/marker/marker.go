// Package marker extracts declarative instrumentation markers from the
// annotations attached to compiled methods.
package marker

import (
	"fmt"

	"github.com/conduit-lang/weaver/internal/classfile"
)

// Kind identifies what a marker asks for.
type Kind int

const (
	KindUnknown Kind = iota
	KindLogCall
	KindLifecycle
	KindBenchmark
)

// Kinds lists the known kinds in their fixed application order.
var Kinds = []Kind{KindLogCall, KindLifecycle, KindBenchmark}

// String returns the annotation simple name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLogCall:
		return "LogCall"
	case KindLifecycle:
		return "Lifecycle"
	case KindBenchmark:
		return "Benchmark"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts a config key or an annotation simple name.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown marker kind %q", text)
	}
	*k = kind
	return nil
}

// ConfigKey returns the key used for the kind in configuration files.
func (k Kind) ConfigKey() string {
	switch k {
	case KindLogCall:
		return "log_call"
	case KindLifecycle:
		return "lifecycle"
	case KindBenchmark:
		return "benchmark"
	default:
		return ""
	}
}

// ParseKind accepts a config key or an annotation simple name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if s == k.ConfigKey() || s == k.String() {
			return k, true
		}
	}
	return KindUnknown, false
}

// Marker is one parsed marker. Only the fields for Kind are meaningful.
type Marker struct {
	Kind Kind `json:"kind"`
	// Annotation is the annotation type descriptor, e.g. "Lcom/acme/LogCall;".
	Annotation string `json:"annotation"`
	// Visible is true for runtime-visible annotations.
	Visible bool `json:"visible"`

	Description  string `json:"description,omitempty"`
	WarnAtMillis int    `json:"warn_at_millis,omitempty"`
	FailAtMillis int    `json:"fail_at_millis,omitempty"`
}

// String renders the marker roughly as it appears in source.
func (m Marker) String() string {
	switch m.Kind {
	case KindLogCall:
		return fmt.Sprintf("@LogCall(%q)", m.Description)
	case KindBenchmark:
		return fmt.Sprintf("@Benchmark(warnAtMillis=%d, failAtMillis=%d)", m.WarnAtMillis, m.FailAtMillis)
	default:
		return "@" + m.Kind.String()
	}
}

// MethodID identifies a method within an archive.
type MethodID struct {
	// Owner is the internal class name, e.g. "com/acme/Service".
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// QualifiedName is the dotted owner followed by the method name, as passed
// to hooks: "com.acme.Service.run".
func (id MethodID) QualifiedName() string {
	return classfile.ExternalName(id.Owner) + "." + id.Name
}

// String includes the descriptor so overloads stay distinct.
func (id MethodID) String() string {
	return id.QualifiedName() + id.Descriptor
}

// IDOf builds the MethodID of a member of class c.
func IDOf(c *classfile.Class, m *classfile.Member) MethodID {
	return MethodID{
		Owner:      c.Name(),
		Name:       m.Name(c.Pool),
		Descriptor: m.Descriptor(c.Pool),
	}
}
