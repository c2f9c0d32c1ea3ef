// Package classtest assembles small class files for tests.
//
// Builders panic on constant pool errors; they only ever see literals
// written in test code.
package classtest

import (
	"encoding/binary"

	"github.com/conduit-lang/weaver/internal/classfile"
)

// Class builds one class file.
type Class struct {
	c       *classfile.Class
	methods []*Method
}

// New starts a public class extending java/lang/Object at version 52.
func New(name string) *Class {
	cp := classfile.NewConstantPool()
	b := &Class{c: &classfile.Class{Major: 52, Pool: cp, AccessFlags: 0x0021}}
	b.c.ThisClass = b.ClassRef(name)
	b.c.SuperClass = b.ClassRef("java/lang/Object")
	return b
}

// Major sets the class file major version.
func (b *Class) Major(v uint16) *Class {
	b.c.Major = v
	return b
}

// Pool exposes the constant pool under construction.
func (b *Class) Pool() *classfile.ConstantPool { return b.c.Pool }

func must(i uint16, err error) uint16 {
	if err != nil {
		panic(err)
	}
	return i
}

// Utf8 adds a Utf8 constant.
func (b *Class) Utf8(s string) uint16 { return must(b.c.Pool.AddUtf8(s)) }

// ClassRef adds a Class constant.
func (b *Class) ClassRef(name string) uint16 { return must(b.c.Pool.AddClass(name)) }

// String adds a String constant.
func (b *Class) String(s string) uint16 { return must(b.c.Pool.AddString(s)) }

// Int adds an Integer constant.
func (b *Class) Int(v int32) uint16 { return must(b.c.Pool.AddInteger(v)) }

// Methodref adds a Methodref constant.
func (b *Class) Methodref(owner, name, desc string) uint16 {
	return must(b.c.Pool.AddMethodref(owner, name, desc))
}

// Attribute appends a class-level attribute.
func (b *Class) Attribute(name string, info []byte) *Class {
	b.c.Attributes = append(b.c.Attributes, &classfile.Attribute{NameIndex: b.Utf8(name), Info: info})
	return b
}

// Field appends a field with no attributes.
func (b *Class) Field(flags uint16, name, desc string) *Class {
	b.c.Fields = append(b.c.Fields, &classfile.Member{
		AccessFlags: flags, NameIndex: b.Utf8(name), DescriptorIndex: b.Utf8(desc),
	})
	return b
}

// Method starts a method.
func (b *Class) Method(flags uint16, name, desc string) *Method {
	m := &Method{
		cls: b,
		m:   &classfile.Member{AccessFlags: flags, NameIndex: b.Utf8(name), DescriptorIndex: b.Utf8(desc)},
	}
	b.methods = append(b.methods, m)
	b.c.Methods = append(b.c.Methods, m.m)
	return m
}

// Build finalises Code attributes and returns the class.
func (b *Class) Build() *classfile.Class {
	for _, m := range b.methods {
		m.finish()
	}
	return b.c
}

// Bytes builds and encodes the class.
func (b *Class) Bytes() []byte {
	data, err := b.Build().Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// Method builds one method_info.
type Method struct {
	cls    *Class
	m      *classfile.Member
	code   *classfile.Code
	frames []classfile.Frame
	done   bool
}

// Member returns the method under construction.
func (m *Method) Member() *classfile.Member { return m.m }

// Code sets the body.
func (m *Method) Code(maxStack, maxLocals int, bytecode ...byte) *Method {
	m.code = &classfile.Code{MaxStack: uint16(maxStack), MaxLocals: uint16(maxLocals), Bytecode: bytecode}
	return m
}

// Handler appends an exception table entry. An empty catchType catches
// everything.
func (m *Method) Handler(start, end, handler int, catchType string) *Method {
	var ct uint16
	if catchType != "" {
		ct = m.cls.ClassRef(catchType)
	}
	m.code.ExceptionTable = append(m.code.ExceptionTable, classfile.ExceptionHandler{
		StartPC: uint16(start), EndPC: uint16(end), HandlerPC: uint16(handler), CatchType: ct,
	})
	return m
}

// Frames sets the StackMapTable; it is encoded against the method's
// implicit initial frame.
func (m *Method) Frames(frames ...classfile.Frame) *Method {
	m.frames = frames
	return m
}

// LineNumbers adds a LineNumberTable from (pc, line) pairs.
func (m *Method) LineNumbers(pairs ...int) *Method {
	var lines []classfile.LineNumber
	for i := 0; i+1 < len(pairs); i += 2 {
		lines = append(lines, classfile.LineNumber{StartPC: uint16(pairs[i]), Line: uint16(pairs[i+1])})
	}
	return m.CodeAttribute(classfile.AttrLineNumberTable, classfile.EncodeLineNumbers(lines))
}

// Local describes a LocalVariableTable entry.
type Local struct {
	Start, Length int
	Name, Desc    string
	Slot          int
}

// LocalVariables adds a LocalVariableTable.
func (m *Method) LocalVariables(locals ...Local) *Method {
	vars := make([]classfile.LocalVariable, 0, len(locals))
	for _, l := range locals {
		vars = append(vars, classfile.LocalVariable{
			StartPC: uint16(l.Start), Length: uint16(l.Length),
			NameIndex: m.cls.Utf8(l.Name), TypeIndex: m.cls.Utf8(l.Desc), Slot: uint16(l.Slot),
		})
	}
	return m.CodeAttribute(classfile.AttrLocalVariableTable, classfile.EncodeLocalVariables(vars))
}

// CodeAttribute appends an attribute nested in Code.
func (m *Method) CodeAttribute(name string, info []byte) *Method {
	m.code.Attributes = append(m.code.Attributes, &classfile.Attribute{NameIndex: m.cls.Utf8(name), Info: info})
	return m
}

// Attribute appends a raw method attribute.
func (m *Method) Attribute(name string, info []byte) *Method {
	m.m.Attributes = append(m.m.Attributes, &classfile.Attribute{NameIndex: m.cls.Utf8(name), Info: info})
	return m
}

// Annotate appends a Runtime[In]VisibleAnnotations attribute holding one
// annotation of type desc.
func (m *Method) Annotate(visible bool, desc string, elems ...Element) *Method {
	return m.Annotations(visible, Annotation{Type: desc, Elements: elems})
}

// Annotation is an annotation to encode.
type Annotation struct {
	Type     string
	Elements []Element
}

// Annotations appends one attribute holding every given annotation.
func (m *Method) Annotations(visible bool, annotations ...Annotation) *Method {
	name := classfile.AttrRuntimeInvisibleAnnotations
	if visible {
		name = classfile.AttrRuntimeVisibleAnnotations
	}
	info := binary.BigEndian.AppendUint16(nil, uint16(len(annotations)))
	for _, a := range annotations {
		info = append(info, EncodeAnnotation(m.cls, a)...)
	}
	return m.Attribute(name, info)
}

// End returns to the class builder.
func (m *Method) End() *Class { return m.cls }

func (m *Method) finish() {
	if m.done || m.code == nil {
		return
	}
	m.done = true
	if len(m.frames) > 0 {
		initial, err := classfile.InitialFrame(m.cls.c, m.m)
		if err != nil {
			panic(err)
		}
		info, err := classfile.EncodeStackMap(m.frames, initial)
		if err != nil {
			panic(err)
		}
		m.CodeAttribute(classfile.AttrStackMapTable, info)
	}
	info, err := m.code.Encode()
	if err != nil {
		panic(err)
	}
	code := &classfile.Attribute{NameIndex: m.cls.Utf8(classfile.AttrCode), Info: info}
	m.m.Attributes = append([]*classfile.Attribute{code}, m.m.Attributes...)
}

// Element encodes one element_value_pair.
type Element func(b *Class) []byte

func pair(b *Class, name string, tag byte, idx uint16) []byte {
	out := binary.BigEndian.AppendUint16(nil, b.Utf8(name))
	out = append(out, tag)
	return binary.BigEndian.AppendUint16(out, idx)
}

// Str is a String element.
func Str(name, v string) Element {
	return func(b *Class) []byte { return pair(b, name, 's', b.Utf8(v)) }
}

// Int is an int element.
func Int(name string, v int32) Element {
	return func(b *Class) []byte { return pair(b, name, 'I', b.Int(v)) }
}

// Bool is a boolean element.
func Bool(name string, v bool) Element {
	var i int32
	if v {
		i = 1
	}
	return func(b *Class) []byte { return pair(b, name, 'Z', b.Int(i)) }
}

// Enum is an enum constant element.
func Enum(name, typeDesc, constName string) Element {
	return func(b *Class) []byte {
		out := binary.BigEndian.AppendUint16(nil, b.Utf8(name))
		out = append(out, 'e')
		out = binary.BigEndian.AppendUint16(out, b.Utf8(typeDesc))
		return binary.BigEndian.AppendUint16(out, b.Utf8(constName))
	}
}

// StrArray is an array-of-String element.
func StrArray(name string, vs ...string) Element {
	return func(b *Class) []byte {
		out := binary.BigEndian.AppendUint16(nil, b.Utf8(name))
		out = append(out, '[')
		out = binary.BigEndian.AppendUint16(out, uint16(len(vs)))
		for _, v := range vs {
			out = append(out, 's')
			out = binary.BigEndian.AppendUint16(out, b.Utf8(v))
		}
		return out
	}
}

// Nested is an annotation-valued element.
func Nested(name string, a Annotation) Element {
	return func(b *Class) []byte {
		out := binary.BigEndian.AppendUint16(nil, b.Utf8(name))
		out = append(out, '@')
		return append(out, EncodeAnnotation(b, a)...)
	}
}

// EncodeAnnotation encodes an annotation structure.
func EncodeAnnotation(b *Class, a Annotation) []byte {
	out := binary.BigEndian.AppendUint16(nil, b.Utf8(a.Type))
	out = binary.BigEndian.AppendUint16(out, uint16(len(a.Elements)))
	for _, e := range a.Elements {
		out = append(out, e(b)...)
	}
	return out
}

// Asm concatenates bytecode. int and byte values are one byte each,
// uint16 and int16 values two bytes big-endian, int32 values four.
func Asm(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			out = append(out, byte(v))
		case byte:
			out = append(out, v)
		case uint16:
			out = binary.BigEndian.AppendUint16(out, v)
		case int16:
			out = binary.BigEndian.AppendUint16(out, uint16(v))
		case int32:
			out = binary.BigEndian.AppendUint32(out, uint32(v))
		case []byte:
			out = append(out, v...)
		default:
			panic("classtest: unsupported Asm operand")
		}
	}
	return out
}
