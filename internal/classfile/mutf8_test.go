package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		enc  []byte
	}{
		{"ascii", "abc", []byte("abc")},
		{"nul", "a\x00b", []byte{'a', 0xC0, 0x80, 'b'}},
		{"two byte", "é", []byte{0xC3, 0xA9}},
		{"three byte", "€", []byte{0xE2, 0x82, 0xAC}},
		{"supplementary", "\U0001F600", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.enc, encodeMUTF8(tt.in))
			got, err := decodeMUTF8(tt.enc)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestModifiedUTF8RejectsInvalid(t *testing.T) {
	for _, b := range [][]byte{{0}, {0xC3}, {0xE2, 0x82}, {0xF0, 0x9F, 0x98, 0x80}, {0x80}} {
		_, err := decodeMUTF8(b)
		assert.ErrorIs(t, err, ErrBadUTF8, "% x", b)
	}
}

func TestReaderIsSticky(t *testing.T) {
	r := newReader([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0102), r.u2())
	assert.Equal(t, uint32(0), r.u4())
	assert.Equal(t, uint8(0), r.u1(), "reads after a failure return zero")
	assert.ErrorIs(t, r.finish(), ErrTruncated)
}
