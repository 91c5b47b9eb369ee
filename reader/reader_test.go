package reader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadVarU32RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want uint32
	}{
		{"zero", []byte{0x00}, 0},
		{"one", []byte{0x01}, 1},
		{"sixty_three", []byte{0x3f}, 63},
		{"sixty_four", []byte{0xc0, 0x00}, 64},
		{"127", []byte{0x7f}, 127},
		{"128", []byte{0x80, 0x01}, 128},
		{"2^21-1", []byte{0xff, 0xff, 0x7f}, (1 << 21) - 1},
		{"2^28-1", []byte{0xff, 0xff, 0xff, 0x7f}, (1 << 28) - 1},
		{"2^31-1", []byte{0xff, 0xff, 0xff, 0xff, 0x07}, (1 << 31) - 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := New(c.buf)
			got, err := r.ReadVarU32()
			require.NoError(t, err)
			require.Equal(t, c.want, got)
			require.True(t, r.AtEnd())
		})
	}
}

func TestReadVarI32RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want int32
	}{
		{"neg_one", []byte{0x7f}, -1},
		{"neg_64", []byte{0x40}, -64},
		{"neg_8192", []byte{0x80, 0x40}, -8192},
		{"int_min", []byte{0x80, 0x80, 0x80, 0x80, 0x78}, -2147483648},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := New(c.buf)
			got, err := r.ReadVarI32()
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestReadVarI64IntMin(t *testing.T) {
	// INT64_MIN encoded as LEB128.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}
	r := New(buf)
	got, err := r.ReadVarI64()
	require.NoError(t, err)
	require.Equal(t, int64(-9223372036854775808), got)
}

func TestReadVarU32RejectsTrailingContinuation(t *testing.T) {
	// Five bytes, all with the continuation bit set: the fifth byte must
	// terminate a 32-bit value, so a set continuation bit there is invalid.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	r := New(buf)
	_, err := r.ReadVarU32()
	require.ErrorIs(t, err, ErrInvalidLeb)
}

func TestReadVarU32RejectsInconsistentSignExtension(t *testing.T) {
	// Encodes a value whose top unused bits (bits 32-34) are non-zero,
	// which is invalid for an unsigned 32-bit read.
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0x7f}
	r := New(buf)
	_, err := r.ReadVarU32()
	require.ErrorIs(t, err, ErrInvalidLeb)
}

func TestReadNameValidatesUTF8(t *testing.T) {
	buf := append([]byte{0x03}, []byte("abc")...)
	r := New(buf)
	name, err := r.ReadName()
	require.NoError(t, err)
	require.Equal(t, "abc", name)

	bad := append([]byte{0x01}, 0xff)
	r = New(bad)
	_, err = r.ReadName()
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestScopedSubReaderBoundsChild(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	r := New(buf)
	child, err := r.ScopedSubReader(3)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	_, err = child.ReadBytes(4)
	require.ErrorIs(t, err, ErrEndOfBuffer)
}

func TestReadWithPositionReportsSpan(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x2a}
	r := New(buf)
	_, _ = r.ReadByte()
	v, span, err := ReadWithPosition(r, func(r *Reader) (uint32, error) {
		return r.ReadVarU32()
	})
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
	require.Equal(t, Span{Offset: 1, Length: 1}, span)
}
