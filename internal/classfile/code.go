package classfile

import "fmt"

// ExceptionHandler is one exception_table entry of a Code attribute.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// Code is a decoded Code attribute. Nested attributes stay raw.
type Code struct {
	MaxStack       uint16
	MaxLocals      uint16
	Bytecode       []byte
	ExceptionTable []ExceptionHandler
	Attributes     []*Attribute
}

// ParseCode decodes the payload of a Code attribute.
func ParseCode(info []byte) (*Code, error) {
	r := newReader(info)
	c := &Code{
		MaxStack:  r.u2(),
		MaxLocals: r.u2(),
	}
	n := int(r.u4())
	if r.err == nil && (n == 0 || n > r.remaining()) {
		return nil, fmt.Errorf("classfile: invalid code length %d", n)
	}
	c.Bytecode = r.bytes(n)
	m := int(r.u2())
	for i := 0; i < m && r.err == nil; i++ {
		c.ExceptionTable = append(c.ExceptionTable, ExceptionHandler{
			StartPC:   r.u2(),
			EndPC:     r.u2(),
			HandlerPC: r.u2(),
			CatchType: r.u2(),
		})
	}
	c.Attributes = parseAttributes(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serialises the Code attribute payload.
func (c *Code) Encode() ([]byte, error) {
	if len(c.Bytecode) == 0 || len(c.Bytecode) > 65535 {
		return nil, fmt.Errorf("classfile: code length %d out of range", len(c.Bytecode))
	}
	if len(c.ExceptionTable) > 0xFFFF {
		return nil, fmt.Errorf("classfile: exception table too large (%d entries)", len(c.ExceptionTable))
	}
	w := &writer{buf: make([]byte, 0, len(c.Bytecode)+64)}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.raw(c.Bytecode)
	w.u2(uint16(len(c.ExceptionTable)))
	for _, h := range c.ExceptionTable {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	if err := encodeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Attribute returns the first nested attribute with the given name, or nil.
func (c *Code) Attribute(cp *ConstantPool, name string) *Attribute {
	return findAttribute(cp, c.Attributes, name)
}

// LineNumber is one LineNumberTable entry.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// ParseLineNumbers decodes a LineNumberTable payload.
func ParseLineNumbers(info []byte) ([]LineNumber, error) {
	r := newReader(info)
	n := int(r.u2())
	out := make([]LineNumber, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, LineNumber{StartPC: r.u2(), Line: r.u2()})
	}
	return out, r.finish()
}

// EncodeLineNumbers is the inverse of ParseLineNumbers.
func EncodeLineNumbers(lines []LineNumber) []byte {
	w := &writer{}
	w.u2(uint16(len(lines)))
	for _, l := range lines {
		w.u2(l.StartPC)
		w.u2(l.Line)
	}
	return w.buf
}

// LocalVariable is one LocalVariableTable or LocalVariableTypeTable entry;
// the two share a layout.
type LocalVariable struct {
	StartPC   uint16
	Length    uint16
	NameIndex uint16
	TypeIndex uint16
	Slot      uint16
}

// ParseLocalVariables decodes a LocalVariable[Type]Table payload.
func ParseLocalVariables(info []byte) ([]LocalVariable, error) {
	r := newReader(info)
	n := int(r.u2())
	out := make([]LocalVariable, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, LocalVariable{
			StartPC:   r.u2(),
			Length:    r.u2(),
			NameIndex: r.u2(),
			TypeIndex: r.u2(),
			Slot:      r.u2(),
		})
	}
	return out, r.finish()
}

// EncodeLocalVariables is the inverse of ParseLocalVariables.
func EncodeLocalVariables(vars []LocalVariable) []byte {
	w := &writer{}
	w.u2(uint16(len(vars)))
	for _, v := range vars {
		w.u2(v.StartPC)
		w.u2(v.Length)
		w.u2(v.NameIndex)
		w.u2(v.TypeIndex)
		w.u2(v.Slot)
	}
	return w.buf
}
