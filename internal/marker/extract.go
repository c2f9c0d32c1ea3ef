package marker

import (
	"fmt"
	"math"

	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// MethodMarkers groups the markers found on one method.
type MethodMarkers struct {
	Method  MethodID `json:"method"`
	Static  bool     `json:"static"`
	Markers []Marker `json:"markers"`
}

// Extract returns the markers declared on m in attribute order, then
// annotation order. Annotations the vocabulary does not recognise are
// skipped. m is not modified.
func Extract(c *classfile.Class, m *classfile.Member, vocab Vocabulary) ([]Marker, error) {
	var out []Marker
	for _, attr := range m.Attributes {
		name, err := c.Pool.Utf8(attr.NameIndex)
		if err != nil {
			return nil, weaveerr.NewMalformedUnit(err)
		}
		visible := name == classfile.AttrRuntimeVisibleAnnotations
		if !visible && name != classfile.AttrRuntimeInvisibleAnnotations {
			continue
		}
		annotations, err := classfile.ParseAnnotations(attr.Info, c.Pool)
		if err != nil {
			return nil, weaveerr.NewMalformedUnit(fmt.Errorf("%s: %w", name, err))
		}
		for _, a := range annotations {
			kind := vocab.Classify(a.Type)
			if kind == KindUnknown {
				continue
			}
			mk, err := build(kind, a)
			if err != nil {
				return nil, err
			}
			mk.Visible = visible
			out = append(out, mk)
		}
	}
	return out, nil
}

// ExtractClass decodes a class file and extracts the markers of every
// method that has at least one.
func ExtractClass(data []byte, vocab Vocabulary) ([]MethodMarkers, error) {
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, weaveerr.NewMalformedUnit(err)
	}
	return ExtractParsed(c, vocab)
}

// ExtractParsed is ExtractClass for an already decoded class.
func ExtractParsed(c *classfile.Class, vocab Vocabulary) ([]MethodMarkers, error) {
	var out []MethodMarkers
	for _, m := range c.Methods {
		id := IDOf(c, m)
		markers, err := Extract(c, m, vocab)
		if err != nil {
			return nil, weaveerr.InMethod(err, id.String())
		}
		if len(markers) > 0 {
			out = append(out, MethodMarkers{Method: id, Static: m.IsStatic(), Markers: markers})
		}
	}
	return out, nil
}

func build(kind Kind, a *classfile.Annotation) (Marker, error) {
	mk := Marker{Kind: kind, Annotation: a.Type}
	invalid := func(format string, args ...any) (Marker, error) {
		return Marker{}, weaveerr.NewInvalidMarker(kind.String(), fmt.Sprintf(format, args...))
	}

	switch kind {
	case KindLogCall:
		if len(a.Elements) != 1 {
			return invalid("expected exactly one description element, found %d", len(a.Elements))
		}
		e := a.Elements[0]
		if e.Name != "value" && e.Name != "description" {
			return invalid("unknown element %q", e.Name)
		}
		s, ok := e.Value.Const.(string)
		if e.Value.Tag != 's' || !ok {
			return invalid("element %q must be a String, got tag %q", e.Name, e.Value.Tag)
		}
		mk.Description = s

	case KindLifecycle:
		if len(a.Elements) != 0 {
			return invalid("takes no parameters, found %d", len(a.Elements))
		}

	case KindBenchmark:
		// Elements left at their declared default are not recorded at the
		// use site; an absent threshold is zero.
		seen := map[string]bool{}
		for _, e := range a.Elements {
			if seen[e.Name] {
				return invalid("element %q repeated", e.Name)
			}
			seen[e.Name] = true
			v, ok := intValue(e.Value)
			if !ok {
				return invalid("element %q must be an int", e.Name)
			}
			if v < 0 {
				return invalid("element %q must not be negative, got %d", e.Name, v)
			}
			switch e.Name {
			case "warnAtMillis":
				mk.WarnAtMillis = v
			case "failAtMillis":
				mk.FailAtMillis = v
			default:
				return invalid("unknown element %q", e.Name)
			}
		}
		if mk.FailAtMillis > 0 && mk.WarnAtMillis > mk.FailAtMillis {
			return invalid("warnAtMillis (%d) exceeds failAtMillis (%d)", mk.WarnAtMillis, mk.FailAtMillis)
		}
	}
	return mk, nil
}

func intValue(v classfile.ElementValue) (int, bool) {
	switch c := v.Const.(type) {
	case int32:
		if v.Tag == 'I' || v.Tag == 'S' || v.Tag == 'B' {
			return int(c), true
		}
	case int64:
		if c >= math.MinInt32 && c <= math.MaxInt32 {
			return int(c), true
		}
	}
	return 0, false
}
