// Package classfile reads and writes JVM class files.
//
// Parse keeps every structure it does not interpret as raw bytes, so
// Parse followed by Encode reproduces the input exactly. Callers that
// rewrite a method replace that member's attributes and may append to the
// constant pool; everything else is carried through untouched.
package classfile

import (
	"fmt"
	"strings"
)

// Magic is the four-byte header of every class file.
const Magic uint32 = 0xCAFEBABE

// Access flags used by the instrumentation engine.
const (
	AccStatic   uint16 = 0x0008
	AccNative   uint16 = 0x0100
	AccAbstract uint16 = 0x0400
)

// Attribute names the engine interprets.
const (
	AttrCode                        = "Code"
	AttrStackMapTable               = "StackMapTable"
	AttrLineNumberTable             = "LineNumberTable"
	AttrLocalVariableTable          = "LocalVariableTable"
	AttrLocalVariableTypeTable      = "LocalVariableTypeTable"
	AttrRuntimeVisibleAnnotations   = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleTypeAnnots    = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnnots  = "RuntimeInvisibleTypeAnnotations"
)

// Attribute is an attribute_info with an uninterpreted payload.
type Attribute struct {
	NameIndex uint16
	Info      []byte
}

// Member is a field_info or method_info.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []*Attribute
}

// Class is a parsed class file.
type Class struct {
	Minor       uint16
	Major       uint16
	Pool        *ConstantPool
	AccessFlags uint16
	ThisClass   uint16
	SuperClass  uint16
	Interfaces  []uint16
	Fields      []*Member
	Methods     []*Member
	Attributes  []*Attribute
}

// HasMagic reports whether data starts with the class file magic.
func HasMagic(data []byte) bool {
	return len(data) >= 4 && data[0] == 0xCA && data[1] == 0xFE && data[2] == 0xBA && data[3] == 0xBE
}

// Parse decodes a class file. The input slice is not retained.
func Parse(data []byte) (*Class, error) {
	r := newReader(data)
	if r.u4() != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrBadMagic
	}
	c := &Class{}
	c.Minor = r.u2()
	c.Major = r.u2()
	if r.err != nil {
		return nil, r.err
	}

	pool, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}
	c.Pool = pool

	c.AccessFlags = r.u2()
	c.ThisClass = r.u2()
	c.SuperClass = r.u2()
	n := int(r.u2())
	c.Interfaces = make([]uint16, n)
	for i := range c.Interfaces {
		c.Interfaces[i] = r.u2()
	}
	c.Fields = parseMembers(r)
	c.Methods = parseMembers(r)
	c.Attributes = parseAttributes(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	if _, err := c.Pool.ClassName(c.ThisClass); err != nil {
		return nil, fmt.Errorf("classfile: this_class: %w", err)
	}
	return c, nil
}

func parseMembers(r *reader) []*Member {
	n := int(r.u2())
	if r.err != nil {
		return nil
	}
	members := make([]*Member, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := &Member{
			AccessFlags:     r.u2(),
			NameIndex:       r.u2(),
			DescriptorIndex: r.u2(),
		}
		m.Attributes = parseAttributes(r)
		members = append(members, m)
	}
	return members
}

func parseAttributes(r *reader) []*Attribute {
	n := int(r.u2())
	if r.err != nil {
		return nil
	}
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u2()
		size := int(r.u4())
		if size > r.remaining() {
			r.need(size)
			return attrs
		}
		attrs = append(attrs, &Attribute{NameIndex: name, Info: r.bytes(size)})
	}
	return attrs
}

// Encode serialises the class.
func (c *Class) Encode() ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 4096)}
	w.u4(Magic)
	w.u2(c.Minor)
	w.u2(c.Major)
	c.Pool.encode(w)
	w.u2(c.AccessFlags)
	w.u2(c.ThisClass)
	w.u2(c.SuperClass)
	w.u2(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		w.u2(i)
	}
	for _, members := range [][]*Member{c.Fields, c.Methods} {
		w.u2(uint16(len(members)))
		for _, m := range members {
			w.u2(m.AccessFlags)
			w.u2(m.NameIndex)
			w.u2(m.DescriptorIndex)
			if err := encodeAttributes(w, m.Attributes); err != nil {
				return nil, err
			}
		}
	}
	if err := encodeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func encodeAttributes(w *writer, attrs []*Attribute) error {
	if len(attrs) > 0xFFFF {
		return fmt.Errorf("classfile: too many attributes (%d)", len(attrs))
	}
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(a.NameIndex)
		w.u4(uint32(len(a.Info)))
		w.raw(a.Info)
	}
	return nil
}

// Name returns the internal name of the class, e.g. "com/acme/Service".
func (c *Class) Name() string {
	name, _ := c.Pool.ClassName(c.ThisClass)
	return name
}

// HasStackMaps reports whether the class version requires StackMapTable
// attributes for verification by type checking.
func (c *Class) HasStackMaps() bool {
	return c.Major >= 50
}

// Name returns the member's simple name.
func (m *Member) Name(cp *ConstantPool) string {
	s, _ := cp.Utf8(m.NameIndex)
	return s
}

// Descriptor returns the member's type descriptor.
func (m *Member) Descriptor(cp *ConstantPool) string {
	s, _ := cp.Utf8(m.DescriptorIndex)
	return s
}

// IsStatic reports whether ACC_STATIC is set.
func (m *Member) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

// Attribute returns the first attribute with the given name, or nil.
func (m *Member) Attribute(cp *ConstantPool, name string) *Attribute {
	return findAttribute(cp, m.Attributes, name)
}

// AttributesNamed returns every attribute with the given name, in order.
func (m *Member) AttributesNamed(cp *ConstantPool, name string) []*Attribute {
	var out []*Attribute
	for _, a := range m.Attributes {
		if n, err := cp.Utf8(a.NameIndex); err == nil && n == name {
			out = append(out, a)
		}
	}
	return out
}

// ReplaceAttribute swaps old for repl in the member's attribute list.
func (m *Member) ReplaceAttribute(old, repl *Attribute) bool {
	for i, a := range m.Attributes {
		if a == old {
			m.Attributes[i] = repl
			return true
		}
	}
	return false
}

func findAttribute(cp *ConstantPool, attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if n, err := cp.Utf8(a.NameIndex); err == nil && n == name {
			return a
		}
	}
	return nil
}

// ExternalName converts an internal name to its dotted form.
func ExternalName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a dotted name to its internal form.
func InternalName(external string) string {
	return strings.ReplaceAll(external, ".", "/")
}
