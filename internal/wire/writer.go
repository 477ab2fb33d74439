package wire

import "encoding/binary"

// Writer accumulates a wire-format payload by appending fixed-width
// integers and length-prefixed strings/bytes, little-endian throughout.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hinted by size.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Len reports how many bytes have been written so far.
func (w *Writer) Len() int { return len(w.buf) }

// PutU8 appends a single byte.
func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

// PutU16 appends a little-endian uint16.
func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutU32 appends a little-endian uint32.
func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutU64 appends a little-endian uint64.
func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutRaw appends raw bytes with no length prefix, for fixed-width
// fields whose size is implied by the schema (nonces, macs, ids, keys).
func (w *Writer) PutRaw(b []byte) { w.buf = append(w.buf, b...) }

// PutFixedID appends a 16-byte identifier, panicking if id is not
// exactly FixedIDSize bytes — a caller bug, not a wire-format error.
func (w *Writer) PutFixedID(id []byte) {
	if len(id) != FixedIDSize {
		panic("wire: fixed id must be 16 bytes")
	}
	w.buf = append(w.buf, id...)
}

// PutString appends a u16-length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// PutBytes appends a u32-length-prefixed opaque byte slice.
func (w *Writer) PutBytes(b []byte) {
	w.PutU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
