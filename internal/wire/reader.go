package wire

import "encoding/binary"

// Reader consumes a wire-format payload sequentially. Every method
// returns ErrTruncated once the buffer is exhausted early, so callers
// can thread a single error check through a whole decode function.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Rest returns every remaining unread byte without advancing.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Raw reads exactly n raw bytes, for fixed-width fields.
func (r *Reader) Raw(n int) ([]byte, error) {
	return r.take(n)
}

// FixedID reads a 16-byte identifier.
func (r *Reader) FixedID() ([]byte, error) {
	return r.take(FixedIDSize)
}

// String reads a u16-length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes reads a u32-length-prefixed opaque byte slice.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > maxFieldLen {
		return nil, ErrTooLarge
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ExpectMagic reads len(magic) bytes and checks they equal magic.
func (r *Reader) ExpectMagic(magic string) error {
	b, err := r.take(len(magic))
	if err != nil {
		return err
	}
	if string(b) != magic {
		return ErrBadMagic
	}
	return nil
}
