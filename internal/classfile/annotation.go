package classfile

import "fmt"

// ElementValue is one annotation element value. Only the fields relevant
// to Tag are set.
type ElementValue struct {
	Tag byte
	// Const holds the resolved constant for B C D F I J S Z s.
	Const any
	// EnumType and EnumName are set for 'e'.
	EnumType string
	EnumName string
	// ClassInfo is set for 'c'.
	ClassInfo string
	// Nested is set for '@'.
	Nested *Annotation
	// Array is set for '['.
	Array []ElementValue
}

// Annotation is a parsed annotation structure.
type Annotation struct {
	Type     string
	Elements []Element
}

// Element is a name/value pair of an annotation.
type Element struct {
	Name  string
	Value ElementValue
}

// Lookup returns the element named name.
func (a *Annotation) Lookup(name string) (ElementValue, bool) {
	for _, e := range a.Elements {
		if e.Name == name {
			return e.Value, true
		}
	}
	return ElementValue{}, false
}

// ParseAnnotations decodes the payload of a Runtime[In]VisibleAnnotations
// attribute.
func ParseAnnotations(info []byte, cp *ConstantPool) ([]*Annotation, error) {
	r := newReader(info)
	n := int(r.u2())
	out := make([]*Annotation, 0, n)
	for i := 0; i < n; i++ {
		a, err := parseAnnotation(r, cp, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// maxAnnotationDepth bounds recursion on hostile input.
const maxAnnotationDepth = 32

func parseAnnotation(r *reader, cp *ConstantPool, depth int) (*Annotation, error) {
	if depth > maxAnnotationDepth {
		return nil, fmt.Errorf("classfile: annotation nesting exceeds %d", maxAnnotationDepth)
	}
	typ, err := cp.Utf8(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	if err != nil {
		return nil, fmt.Errorf("classfile: annotation type: %w", err)
	}
	a := &Annotation{Type: typ}
	n := int(r.u2())
	for i := 0; i < n; i++ {
		name, err := cp.Utf8(r.u2())
		if r.err != nil {
			return nil, r.err
		}
		if err != nil {
			return nil, fmt.Errorf("classfile: annotation %s element name: %w", typ, err)
		}
		v, err := parseElementValue(r, cp, depth)
		if err != nil {
			return nil, fmt.Errorf("classfile: annotation %s element %s: %w", typ, name, err)
		}
		a.Elements = append(a.Elements, Element{Name: name, Value: v})
	}
	return a, nil
}

func parseElementValue(r *reader, cp *ConstantPool, depth int) (ElementValue, error) {
	v := ElementValue{Tag: r.u1()}
	if r.err != nil {
		return v, r.err
	}
	var err error
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z':
		var i int32
		i, err = cp.Integer(r.u2())
		v.Const = i
	case 'J':
		var l int64
		l, err = cp.Long(r.u2())
		v.Const = l
	case 'F':
		var f float32
		f, err = cp.Float(r.u2())
		v.Const = f
	case 'D':
		var d float64
		d, err = cp.Double(r.u2())
		v.Const = d
	case 's':
		var s string
		s, err = cp.Utf8(r.u2())
		v.Const = s
	case 'e':
		if v.EnumType, err = cp.Utf8(r.u2()); err == nil {
			v.EnumName, err = cp.Utf8(r.u2())
		}
	case 'c':
		v.ClassInfo, err = cp.Utf8(r.u2())
	case '@':
		v.Nested, err = parseAnnotation(r, cp, depth+1)
	case '[':
		n := int(r.u2())
		for i := 0; i < n && err == nil && r.err == nil; i++ {
			var e ElementValue
			e, err = parseElementValue(r, cp, depth+1)
			v.Array = append(v.Array, e)
		}
	default:
		return v, fmt.Errorf("unknown element value tag %q", v.Tag)
	}
	if r.err != nil {
		return v, r.err
	}
	return v, err
}
