package envelope

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// Buckets are the fixed padding targets before AEAD sealing.
// Plaintext larger than the last bucket rounds up to the next 4096-byte
// multiple instead.
var Buckets = []int{256, 512, 1024, 2048, 4096, 8192, 16384}

// paddingHeaderSize is the 8-byte true-length prefix every padded
// plaintext carries so the receiver can strip the random tail.
const paddingHeaderSize = 8

// ErrPadding is returned when Unpad is given malformed padded input.
var ErrPadding = errors.New("envelope: malformed padding")

// Pad prepends an 8-byte true-length header to p and fills the result
// out to the smallest bucket that fits `header + len(p)`, or to the
// next 4096-byte multiple if p overflows every fixed bucket. The tail
// is filled from the system RNG so padded and unpadded regions are
// indistinguishable to an observer.
func Pad(p []byte) ([]byte, error) {
	need := paddingHeaderSize + len(p)
	target := need
	found := false
	for _, b := range Buckets {
		if need <= b {
			target = b
			found = true
			break
		}
	}
	if !found {
		target = ((need + 4095) / 4096) * 4096
	}

	out := make([]byte, target)
	binary.LittleEndian.PutUint64(out[:paddingHeaderSize], uint64(len(p)))
	copy(out[paddingHeaderSize:], p)
	if target > need {
		if _, err := rand.Read(out[need:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Unpad recovers the original plaintext from Pad's output.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < paddingHeaderSize {
		return nil, ErrPadding
	}
	trueLen := binary.LittleEndian.Uint64(padded[:paddingHeaderSize])
	if trueLen > uint64(len(padded)-paddingHeaderSize) {
		return nil, ErrPadding
	}
	out := make([]byte, trueLen)
	copy(out, padded[paddingHeaderSize:paddingHeaderSize+int(trueLen)])
	return out, nil
}
