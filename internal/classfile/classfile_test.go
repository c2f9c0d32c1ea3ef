package classfile_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/classfile/classtest"
)

func sampleClass() []byte {
	b := classtest.New("com/acme/Service")
	b.Field(0x0002, "count", "I")
	b.Attribute("SourceFile", []byte{0, byte(b.Utf8("Service.java"))})
	str := b.String("hello é\u0000 \U0001F600")
	long := must(b.Pool().AddLong(1 << 40))
	b.Method(0x0001, "run", "(I)Ljava/lang/String;").
		Code(2, 2, classtest.Asm(0x12, int(str), 0xb0)...).
		LineNumbers(0, 10).
		Annotate(true, "Lcom/acme/LogCall;", classtest.Str("value", "runs"))
	b.Method(0x0009, "wide", "()J").
		Code(2, 0, classtest.Asm(0x14, uint16(long), 0xad)...)
	b.Method(0x0401, "abstractOne", "()V")
	return b.Bytes()
}

func must(i uint16, err error) uint16 {
	if err != nil {
		panic(err)
	}
	return i
}

func TestParseEncodeIsByteIdentical(t *testing.T) {
	data := sampleClass()

	c, err := classfile.Parse(data)
	require.NoError(t, err)

	out, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestParseExposesStructure(t *testing.T) {
	c, err := classfile.Parse(sampleClass())
	require.NoError(t, err)

	assert.Equal(t, "com/acme/Service", c.Name())
	assert.True(t, c.HasStackMaps())
	require.Len(t, c.Methods, 3)

	run := c.Methods[0]
	assert.Equal(t, "run", run.Name(c.Pool))
	assert.Equal(t, "(I)Ljava/lang/String;", run.Descriptor(c.Pool))
	assert.False(t, run.IsStatic())
	assert.True(t, c.Methods[1].IsStatic())
	assert.Nil(t, c.Methods[2].Attribute(c.Pool, classfile.AttrCode))

	attr := run.Attribute(c.Pool, classfile.AttrCode)
	require.NotNil(t, attr)
	code, err := classfile.ParseCode(attr.Info)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), code.MaxStack)
	assert.Len(t, code.Bytecode, 3)

	lnt := code.Attribute(c.Pool, classfile.AttrLineNumberTable)
	require.NotNil(t, lnt)
	lines, err := classfile.ParseLineNumbers(lnt.Info)
	require.NoError(t, err)
	assert.Equal(t, []classfile.LineNumber{{StartPC: 0, Line: 10}}, lines)

	s, err := c.Pool.StringValue(uint16(code.Bytecode[1]))
	require.NoError(t, err)
	assert.Equal(t, "hello é\u0000 \U0001F600", s)
}

func TestParseRejectsBadInput(t *testing.T) {
	data := sampleClass()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, classfile.ErrTruncated},
		{"bad magic", append([]byte{0xCA, 0xFE, 0xBA, 0xBF}, data[4:]...), classfile.ErrBadMagic},
		{"truncated", data[:len(data)-3], classfile.ErrTruncated},
		{"trailing", append(append([]byte{}, data...), 0), classfile.ErrTrailingData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classfile.Parse(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestHasMagic(t *testing.T) {
	assert.True(t, classfile.HasMagic([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0}))
	assert.False(t, classfile.HasMagic([]byte{0xCA, 0xFE, 0xBA}))
	assert.False(t, classfile.HasMagic([]byte("PK\x03\x04")))
}

func TestConstantPoolAddDeduplicates(t *testing.T) {
	c, err := classfile.Parse(sampleClass())
	require.NoError(t, err)
	cp := c.Pool.Clone()
	before := cp.Len()

	a, err := cp.AddMethodref("com/acme/Hooks", "log", "(Ljava/lang/String;)V")
	require.NoError(t, err)
	grown := cp.Len()
	b, err := cp.AddMethodref("com/acme/Hooks", "log", "(Ljava/lang/String;)V")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, grown, cp.Len())
	assert.Greater(t, grown, before)
	assert.Equal(t, before, c.Pool.Len(), "clone must not share entries")

	owner, name, desc, err := cp.MemberRef(a)
	require.NoError(t, err)
	assert.Equal(t, "com/acme/Hooks", owner)
	assert.Equal(t, "log", name)
	assert.Equal(t, "(Ljava/lang/String;)V", desc)

	existing, err := cp.AddUtf8("run")
	require.NoError(t, err)
	assert.Equal(t, c.Methods[0].NameIndex, existing)
}

func TestConstantPoolLongTakesTwoSlots(t *testing.T) {
	cp := classfile.NewConstantPool()
	l, err := cp.AddLong(-5)
	require.NoError(t, err)
	next, err := cp.AddInteger(7)
	require.NoError(t, err)

	assert.Equal(t, l+2, next)
	v, err := cp.Long(l)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)
	_, err = cp.Get(l + 1)
	assert.Error(t, err)
}

func TestParseMethodDescriptor(t *testing.T) {
	mt, err := classfile.ParseMethodDescriptor("(IJ[Ljava/lang/String;D[[Z)V")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "J", "[Ljava/lang/String;", "D", "[[Z"}, mt.Params)
	assert.Equal(t, "V", mt.Return)
	assert.Equal(t, 7, mt.ArgSlots())

	for _, bad := range []string{"", "()", "(I", "(Q)V", "(L;)V", "()II", "(Ljava/lang/String)V"} {
		_, err := classfile.ParseMethodDescriptor(bad)
		assert.Error(t, err, bad)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "com.acme.Foo$Bar", classfile.ExternalName("com/acme/Foo$Bar"))
	assert.Equal(t, "com/acme/Foo", classfile.InternalName("com.acme.Foo"))
}
