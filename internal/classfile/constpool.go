package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// ErrPoolOverflow is returned when an addition would exceed 65535 slots.
var ErrPoolOverflow = errors.New("classfile: constant pool overflow")

// payloadSize returns the fixed payload length after the tag byte, or -1 for Utf8.
func (t Tag) payloadSize() int {
	switch t {
	case TagUtf8:
		return -1
	case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
		TagNameAndType, TagDynamic, TagInvokeDynamic:
		return 4
	case TagLong, TagDouble:
		return 8
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		return 2
	case TagMethodHandle:
		return 3
	default:
		return 0
	}
}

// wide reports whether the constant occupies two pool slots.
func (t Tag) wide() bool {
	return t == TagLong || t == TagDouble
}

// Constant is a single pool entry. Raw holds the payload exactly as read so
// unchanged pools encode byte-for-byte.
type Constant struct {
	Tag Tag
	Raw []byte
}

func (c *Constant) ref1() uint16 {
	return binary.BigEndian.Uint16(c.Raw)
}

func (c *Constant) ref2() uint16 {
	return binary.BigEndian.Uint16(c.Raw[2:])
}

// ConstantPool is indexed from 1; slot 0 and the slot after a Long or
// Double are nil.
type ConstantPool struct {
	entries []*Constant
	index   map[string]uint16
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: make([]*Constant, 1)}
}

func parseConstantPool(r *reader) (*ConstantPool, error) {
	count := int(r.u2())
	if count == 0 {
		return nil, fmt.Errorf("classfile: constant pool count is zero")
	}
	cp := &ConstantPool{entries: make([]*Constant, count)}
	for i := 1; i < count; i++ {
		tag := Tag(r.u1())
		size := tag.payloadSize()
		var raw []byte
		switch {
		case size == -1:
			n := int(r.u2())
			raw = make([]byte, 0, n+2)
			raw = binary.BigEndian.AppendUint16(raw, uint16(n))
			raw = append(raw, r.bytes(n)...)
		case size == 0:
			if r.err == nil {
				return nil, fmt.Errorf("classfile: unknown constant tag %d at index %d", tag, i)
			}
		default:
			raw = r.bytes(size)
		}
		if r.err != nil {
			return nil, r.err
		}
		cp.entries[i] = &Constant{Tag: tag, Raw: raw}
		if tag.wide() {
			i++
			if i >= count {
				return nil, fmt.Errorf("classfile: wide constant overruns pool at index %d", i-1)
			}
		}
	}
	return cp, nil
}

func (cp *ConstantPool) encode(w *writer) {
	w.u2(uint16(len(cp.entries)))
	for _, c := range cp.entries {
		if c == nil {
			continue
		}
		w.u1(uint8(c.Tag))
		w.raw(c.Raw)
	}
}

// Len returns the constant_pool_count value (number of slots plus one).
func (cp *ConstantPool) Len() int {
	return len(cp.entries)
}

// Get returns the entry at i or an error if i is out of range or unused.
func (cp *ConstantPool) Get(i uint16) (*Constant, error) {
	if int(i) <= 0 || int(i) >= len(cp.entries) || cp.entries[i] == nil {
		return nil, fmt.Errorf("classfile: invalid constant pool index %d", i)
	}
	return cp.entries[i], nil
}

func (cp *ConstantPool) expect(i uint16, tag Tag) (*Constant, error) {
	c, err := cp.Get(i)
	if err != nil {
		return nil, err
	}
	if c.Tag != tag {
		return nil, fmt.Errorf("classfile: constant %d has tag %d, want %d", i, c.Tag, tag)
	}
	return c, nil
}

// Utf8 decodes the Utf8 entry at i.
func (cp *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := cp.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return decodeMUTF8(c.Raw[2:])
}

// ClassName returns the internal name of the Class entry at i.
func (cp *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := cp.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return cp.Utf8(c.ref1())
}

// Integer returns the value of the Integer entry at i.
func (cp *ConstantPool) Integer(i uint16) (int32, error) {
	c, err := cp.expect(i, TagInteger)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(c.Raw)), nil
}

// Long returns the value of the Long entry at i.
func (cp *ConstantPool) Long(i uint16) (int64, error) {
	c, err := cp.expect(i, TagLong)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(c.Raw)), nil
}

// Float returns the value of the Float entry at i.
func (cp *ConstantPool) Float(i uint16) (float32, error) {
	c, err := cp.expect(i, TagFloat)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(c.Raw)), nil
}

// Double returns the value of the Double entry at i.
func (cp *ConstantPool) Double(i uint16) (float64, error) {
	c, err := cp.expect(i, TagDouble)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(c.Raw)), nil
}

// StringValue returns the text of the String entry at i.
func (cp *ConstantPool) StringValue(i uint16) (string, error) {
	c, err := cp.expect(i, TagString)
	if err != nil {
		return "", err
	}
	return cp.Utf8(c.ref1())
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (cp *ConstantPool) MemberRef(i uint16) (owner, name, descriptor string, err error) {
	c, err := cp.Get(i)
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", "", fmt.Errorf("classfile: constant %d is not a member reference", i)
	}
	if owner, err = cp.ClassName(c.ref1()); err != nil {
		return "", "", "", err
	}
	nt, err := cp.expect(c.ref2(), TagNameAndType)
	if err != nil {
		return "", "", "", err
	}
	if name, err = cp.Utf8(nt.ref1()); err != nil {
		return "", "", "", err
	}
	if descriptor, err = cp.Utf8(nt.ref2()); err != nil {
		return "", "", "", err
	}
	return owner, name, descriptor, nil
}

func (cp *ConstantPool) key(c *Constant) string {
	return string(rune(c.Tag)) + string(c.Raw)
}

func (cp *ConstantPool) buildIndex() {
	if cp.index != nil {
		return
	}
	cp.index = make(map[string]uint16, len(cp.entries))
	for i, c := range cp.entries {
		if c == nil {
			continue
		}
		k := cp.key(c)
		if _, ok := cp.index[k]; !ok {
			cp.index[k] = uint16(i)
		}
	}
}

// add returns the index of an equal existing entry or appends a new one.
func (cp *ConstantPool) add(tag Tag, raw []byte) (uint16, error) {
	cp.buildIndex()
	c := &Constant{Tag: tag, Raw: raw}
	k := cp.key(c)
	if i, ok := cp.index[k]; ok {
		return i, nil
	}
	slots := 1
	if tag.wide() {
		slots = 2
	}
	if len(cp.entries)+slots > math.MaxUint16 {
		return 0, ErrPoolOverflow
	}
	i := uint16(len(cp.entries))
	cp.entries = append(cp.entries, c)
	if tag.wide() {
		cp.entries = append(cp.entries, nil)
	}
	cp.index[k] = i
	return i, nil
}

// AddUtf8 returns the index of a Utf8 entry holding s.
func (cp *ConstantPool) AddUtf8(s string) (uint16, error) {
	enc := encodeMUTF8(s)
	if len(enc) > math.MaxUint16 {
		return 0, fmt.Errorf("classfile: string constant too long (%d bytes)", len(enc))
	}
	raw := binary.BigEndian.AppendUint16(make([]byte, 0, len(enc)+2), uint16(len(enc)))
	return cp.add(TagUtf8, append(raw, enc...))
}

func (cp *ConstantPool) addRef1(tag Tag, utf string) (uint16, error) {
	u, err := cp.AddUtf8(utf)
	if err != nil {
		return 0, err
	}
	return cp.add(tag, binary.BigEndian.AppendUint16(nil, u))
}

// AddClass returns the index of a Class entry for the internal name.
func (cp *ConstantPool) AddClass(internalName string) (uint16, error) {
	return cp.addRef1(TagClass, internalName)
}

// AddString returns the index of a String entry for s.
func (cp *ConstantPool) AddString(s string) (uint16, error) {
	return cp.addRef1(TagString, s)
}

// AddInteger returns the index of an Integer entry for v.
func (cp *ConstantPool) AddInteger(v int32) (uint16, error) {
	return cp.add(TagInteger, binary.BigEndian.AppendUint32(nil, uint32(v)))
}

// AddLong returns the index of a Long entry for v.
func (cp *ConstantPool) AddLong(v int64) (uint16, error) {
	return cp.add(TagLong, binary.BigEndian.AppendUint64(nil, uint64(v)))
}

// AddNameAndType returns the index of a NameAndType entry.
func (cp *ConstantPool) AddNameAndType(name, descriptor string) (uint16, error) {
	n, err := cp.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := cp.AddUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	raw := binary.BigEndian.AppendUint16(nil, n)
	return cp.add(TagNameAndType, binary.BigEndian.AppendUint16(raw, d))
}

// AddMethodref returns the index of a Methodref entry for owner.name:descriptor.
func (cp *ConstantPool) AddMethodref(owner, name, descriptor string) (uint16, error) {
	c, err := cp.AddClass(owner)
	if err != nil {
		return 0, err
	}
	nt, err := cp.AddNameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	raw := binary.BigEndian.AppendUint16(nil, c)
	return cp.add(TagMethodref, binary.BigEndian.AppendUint16(raw, nt))
}

// Clone returns a deep copy that can be extended without touching cp.
func (cp *ConstantPool) Clone() *ConstantPool {
	out := &ConstantPool{entries: make([]*Constant, len(cp.entries))}
	for i, c := range cp.entries {
		if c == nil {
			continue
		}
		raw := make([]byte, len(c.Raw))
		copy(raw, c.Raw)
		out.entries[i] = &Constant{Tag: c.Tag, Raw: raw}
	}
	return out
}
