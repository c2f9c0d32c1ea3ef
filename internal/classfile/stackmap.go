package classfile

import (
	"fmt"
	"slices"
)

// Verification type tags.
const (
	VTTop               uint8 = 0
	VTInteger           uint8 = 1
	VTFloat             uint8 = 2
	VTDouble            uint8 = 3
	VTLong              uint8 = 4
	VTNull              uint8 = 5
	VTUninitializedThis uint8 = 6
	VTObject            uint8 = 7
	VTUninitialized     uint8 = 8
)

// VerificationType is a verification_type_info. Class is set for VTObject,
// Offset for VTUninitialized.
type VerificationType struct {
	Tag    uint8
	Class  uint16
	Offset int
}

// IsWide reports whether the type fills two local slots.
func (v VerificationType) IsWide() bool {
	return v.Tag == VTLong || v.Tag == VTDouble
}

// Frame is a fully expanded stack map frame at an absolute bytecode offset.
// Locals use the compact list form: a long or double is one entry.
type Frame struct {
	Offset int
	Locals []VerificationType
	Stack  []VerificationType
}

// DecodeStackMap expands a StackMapTable payload. initial is the implicit
// frame derived from the method descriptor.
func DecodeStackMap(info []byte, initial []VerificationType) ([]Frame, error) {
	r := newReader(info)
	n := int(r.u2())
	frames := make([]Frame, 0, n)
	locals := slices.Clone(initial)
	offset := -1
	for i := 0; i < n; i++ {
		tag := r.u1()
		var delta int
		var stack []VerificationType
		switch {
		case tag <= 63:
			delta = int(tag)
		case tag <= 127:
			delta = int(tag) - 64
			stack = []VerificationType{readVT(r)}
		case tag == 247:
			delta = int(r.u2())
			stack = []VerificationType{readVT(r)}
		case tag >= 248 && tag <= 250:
			delta = int(r.u2())
			k := 251 - int(tag)
			if k > len(locals) {
				return nil, fmt.Errorf("classfile: chop frame removes %d of %d locals", k, len(locals))
			}
			locals = slices.Clone(locals[:len(locals)-k])
		case tag == 251:
			delta = int(r.u2())
		case tag >= 252 && tag <= 254:
			delta = int(r.u2())
			locals = slices.Clone(locals)
			for k := 0; k < int(tag)-251; k++ {
				locals = append(locals, readVT(r))
			}
		case tag == 255:
			delta = int(r.u2())
			nl := int(r.u2())
			locals = make([]VerificationType, 0, nl)
			for k := 0; k < nl && r.err == nil; k++ {
				locals = append(locals, readVT(r))
			}
			ns := int(r.u2())
			for k := 0; k < ns && r.err == nil; k++ {
				stack = append(stack, readVT(r))
			}
		default:
			return nil, fmt.Errorf("classfile: reserved stack map frame type %d", tag)
		}
		if r.err != nil {
			return nil, r.err
		}
		offset += delta + 1
		frames = append(frames, Frame{Offset: offset, Locals: locals, Stack: stack})
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return frames, nil
}

func readVT(r *reader) VerificationType {
	v := VerificationType{Tag: r.u1()}
	switch v.Tag {
	case VTObject:
		v.Class = r.u2()
	case VTUninitialized:
		v.Offset = int(r.u2())
	default:
		if v.Tag > VTUninitialized && r.err == nil {
			r.err = fmt.Errorf("classfile: unknown verification type %d", v.Tag)
		}
	}
	return v
}

func writeVT(w *writer, v VerificationType) {
	w.u1(v.Tag)
	switch v.Tag {
	case VTObject:
		w.u2(v.Class)
	case VTUninitialized:
		w.u2(uint16(v.Offset))
	}
}

// EncodeStackMap compresses frames, which must be sorted by strictly
// increasing offset, choosing the smallest frame type for each.
func EncodeStackMap(frames []Frame, initial []VerificationType) ([]byte, error) {
	if len(frames) > 0xFFFF {
		return nil, fmt.Errorf("classfile: too many stack map frames (%d)", len(frames))
	}
	w := &writer{}
	w.u2(uint16(len(frames)))
	prev := initial
	last := -1
	for _, f := range frames {
		delta := f.Offset - last - 1
		if delta < 0 || delta > 0xFFFF {
			return nil, fmt.Errorf("classfile: stack map frame at %d is out of order", f.Offset)
		}
		last = f.Offset

		sameLocals := slices.Equal(f.Locals, prev)
		switch {
		case sameLocals && len(f.Stack) == 0 && delta <= 63:
			w.u1(uint8(delta))
		case sameLocals && len(f.Stack) == 0:
			w.u1(251)
			w.u2(uint16(delta))
		case sameLocals && len(f.Stack) == 1 && delta <= 63:
			w.u1(uint8(64 + delta))
			writeVT(w, f.Stack[0])
		case sameLocals && len(f.Stack) == 1:
			w.u1(247)
			w.u2(uint16(delta))
			writeVT(w, f.Stack[0])
		case len(f.Stack) == 0 && len(f.Locals) > len(prev) && len(f.Locals)-len(prev) <= 3 &&
			slices.Equal(f.Locals[:len(prev)], prev):
			extra := f.Locals[len(prev):]
			w.u1(uint8(251 + len(extra)))
			w.u2(uint16(delta))
			for _, v := range extra {
				writeVT(w, v)
			}
		case len(f.Stack) == 0 && len(f.Locals) < len(prev) && len(prev)-len(f.Locals) <= 3 &&
			slices.Equal(prev[:len(f.Locals)], f.Locals):
			w.u1(uint8(251 - (len(prev) - len(f.Locals))))
			w.u2(uint16(delta))
		default:
			w.u1(255)
			w.u2(uint16(delta))
			w.u2(uint16(len(f.Locals)))
			for _, v := range f.Locals {
				writeVT(w, v)
			}
			w.u2(uint16(len(f.Stack)))
			for _, v := range f.Stack {
				writeVT(w, v)
			}
		}
		prev = f.Locals
	}
	return w.buf, nil
}

// InitialFrame returns the implicit first frame of a method: the receiver
// (uninitializedThis inside constructors) followed by the parameters.
func InitialFrame(c *Class, m *Member) ([]VerificationType, error) {
	mt, err := ParseMethodDescriptor(m.Descriptor(c.Pool))
	if err != nil {
		return nil, err
	}
	var locals []VerificationType
	if !m.IsStatic() {
		if m.Name(c.Pool) == "<init>" && c.Name() != "java/lang/Object" {
			locals = append(locals, VerificationType{Tag: VTUninitializedThis})
		} else {
			locals = append(locals, VerificationType{Tag: VTObject, Class: c.ThisClass})
		}
	}
	for _, p := range mt.Params {
		v, err := FieldVerificationType(c.Pool, p)
		if err != nil {
			return nil, err
		}
		locals = append(locals, v)
	}
	return locals, nil
}

// FieldVerificationType maps a field descriptor to its verification type,
// adding a Class constant for reference types when needed.
func FieldVerificationType(cp *ConstantPool, fieldType string) (VerificationType, error) {
	switch fieldType[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return VerificationType{Tag: VTInteger}, nil
	case 'F':
		return VerificationType{Tag: VTFloat}, nil
	case 'J':
		return VerificationType{Tag: VTLong}, nil
	case 'D':
		return VerificationType{Tag: VTDouble}, nil
	case 'L':
		idx, err := cp.AddClass(fieldType[1 : len(fieldType)-1])
		return VerificationType{Tag: VTObject, Class: idx}, err
	case '[':
		idx, err := cp.AddClass(fieldType)
		return VerificationType{Tag: VTObject, Class: idx}, err
	default:
		return VerificationType{}, fmt.Errorf("classfile: invalid field type %q", fieldType)
	}
}

// ExpandLocals converts a compact locals list to one entry per slot; the
// second slot of a long or double is VTTop.
func ExpandLocals(locals []VerificationType) []VerificationType {
	out := make([]VerificationType, 0, len(locals)+2)
	for _, v := range locals {
		out = append(out, v)
		if v.IsWide() {
			out = append(out, VerificationType{Tag: VTTop})
		}
	}
	return out
}

// CompactLocals is the inverse of ExpandLocals; trailing VTTop slots are
// dropped.
func CompactLocals(slots []VerificationType) []VerificationType {
	end := len(slots)
	for end > 0 && slots[end-1].Tag == VTTop {
		if end >= 2 && slots[end-2].IsWide() {
			break
		}
		end--
	}
	out := make([]VerificationType, 0, end)
	for i := 0; i < end; i++ {
		out = append(out, slots[i])
		if slots[i].IsWide() {
			i++
		}
	}
	return out
}
