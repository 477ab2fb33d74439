package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.PutU8(7)
	w.PutU16(1234)
	w.PutU32(567890)
	w.PutU64(123456789012)
	w.PutString("hello")
	w.PutBytes([]byte{1, 2, 3, 4})
	id := NewID()
	w.PutFixedID(id[:])

	r := NewReader(w.Bytes())
	u8, err := r.U8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), u8)

	u16, err := r.U16()
	require.NoError(t, err)
	require.Equal(t, uint16(1234), u16)

	u32, err := r.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(567890), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(123456789012), u64)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	b, err := r.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, b)

	gotID, err := r.FixedID()
	require.NoError(t, err)
	require.Equal(t, id[:], gotID)

	require.Equal(t, 0, r.Remaining())
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{Type: FrameTypeHeartbeat, Payload: []byte("payload-bytes")}
	encoded := EncodeFrame(f)
	require.Len(t, encoded, FrameHeaderSize+len(f.Payload))

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	require.Equal(t, f.Type, decoded.Type)
	require.Equal(t, f.Payload, decoded.Payload)

	plen, err := PeekPayloadLen(encoded[:FrameHeaderSize])
	require.NoError(t, err)
	require.Equal(t, uint32(len(f.Payload)), plen)
}

func TestDecodeFrameRejectsBadMagic(t *testing.T) {
	buf := EncodeFrame(Frame{Type: FrameTypeLogin, Payload: []byte("x")})
	buf[0] = 'Z'
	_, err := DecodeFrame(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeFrameTruncated(t *testing.T) {
	buf := EncodeFrame(Frame{Type: FrameTypeLogin, Payload: []byte("hello")})
	_, err := DecodeFrame(buf[:FrameHeaderSize+2])
	require.ErrorIs(t, err, ErrTruncated)
}
