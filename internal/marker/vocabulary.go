package marker

import "strings"

// Vocabulary maps annotation type descriptors to marker kinds.
//
// A kind with a configured descriptor matches only that descriptor. A kind
// without one matches any annotation whose simple name equals the kind
// name, in any package.
type Vocabulary struct {
	exact map[string]Kind
	bound map[Kind]bool
}

// DefaultVocabulary matches by simple name only.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{}
}

// With returns a copy of v in which kind is bound to descriptor.
func (v Vocabulary) With(kind Kind, descriptor string) Vocabulary {
	out := Vocabulary{
		exact: make(map[string]Kind, len(v.exact)+1),
		bound: make(map[Kind]bool, len(v.bound)+1),
	}
	for d, k := range v.exact {
		if k != kind {
			out.exact[d] = k
		}
	}
	for k := range v.bound {
		out.bound[k] = true
	}
	out.exact[descriptor] = kind
	out.bound[kind] = true
	return out
}

// Classify returns the kind for an annotation type descriptor, or
// KindUnknown.
func (v Vocabulary) Classify(descriptor string) Kind {
	if k, ok := v.exact[descriptor]; ok {
		return k
	}
	name := SimpleName(descriptor)
	for _, k := range Kinds {
		if k.String() == name && !v.bound[k] {
			return k
		}
	}
	return KindUnknown
}

// SimpleName returns the unqualified type name of a descriptor:
// "Lcom/acme/Outer$LogCall;" gives "LogCall".
func SimpleName(descriptor string) string {
	s := strings.TrimSuffix(strings.TrimPrefix(descriptor, "L"), ";")
	if i := strings.LastIndexAny(s, "/$"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
