package attachment

import (
	"encoding/binary"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// chunkNonce derives a per-chunk nonce from a 24-byte base nonce and a
// chunk index: the low 8 bytes of the nonce are XORed with the
// little-endian index, so chunks can be sealed and opened independent
// of delivery order without any nonce travelling on the wire.
func chunkNonce(base [24]byte, idx uint64) [24]byte {
	nonce := base
	var idxBytes [8]byte
	binary.LittleEndian.PutUint64(idxBytes[:], idx)
	for i := 0; i < 8; i++ {
		nonce[16+i] ^= idxBytes[i]
	}
	return nonce
}

// EncryptChunkedUniform seals plaintext above SingleShotThreshold as a
// v3 blob: fixed-size chunks, each sealed under the same key with a
// per-chunk nonce, no length padding.
func EncryptChunkedUniform(key [32]byte, chunkSize int, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var base [24]byte
	if err := corecrypto.RandomFill(base[:]); err != nil {
		return nil, err
	}

	w := wire.NewWriter(64 + len(plaintext) + len(plaintext)/chunkSize*16 + 64)
	w.PutRaw(Magic[:])
	w.PutU8(uint8(VersionChunkedUniform))
	w.PutU8(0)
	w.PutU8(uint8(AlgoXChaCha20Poly1305))
	w.PutU8(0)
	w.PutU32(uint32(chunkSize))
	w.PutU64(uint64(len(plaintext)))
	w.PutRaw(base[:])

	ad := headerAD(VersionChunkedUniform)
	for idx := uint64(0); ; idx++ {
		start := int(idx) * chunkSize
		if start >= len(plaintext) {
			break
		}
		end := start + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		nonce := chunkNonce(base, idx)
		sealed, err := corecrypto.SealWithNonce(key[:], nonce[:], plaintext[start:end], ad)
		if err != nil {
			return nil, fmt.Errorf("attachment: seal chunk %d: %w", idx, err)
		}
		cipher, mac := sealed[:len(sealed)-16], sealed[len(sealed)-16:]
		w.PutRaw(mac)
		w.PutRaw(cipher)
	}
	return w.Bytes(), nil
}

// DecryptChunkedUniform opens a v3 blob produced by EncryptChunkedUniform.
func DecryptChunkedUniform(key [32]byte, blob []byte) ([]byte, error) {
	if len(blob) > MaxOnWireSize {
		return nil, ErrBlobTooLarge
	}
	r := wire.NewReader(blob)
	if err := r.ExpectMagic(string(Magic[:])); err != nil {
		return nil, err
	}
	ver, err := r.U8()
	if err != nil {
		return nil, err
	}
	if Version(ver) != VersionChunkedUniform {
		return nil, ErrUnsupportedVersion
	}
	if _, err := r.U8(); err != nil {
		return nil, err
	}
	algo, err := r.U8()
	if err != nil {
		return nil, err
	}
	if Algo(algo) != AlgoXChaCha20Poly1305 {
		return nil, ErrUnsupportedAlgo
	}
	if _, err := r.U8(); err != nil {
		return nil, err
	}
	chunkSize32, err := r.U32()
	if err != nil {
		return nil, err
	}
	chunkSize := int(chunkSize32)
	originalSize, err := r.U64()
	if err != nil {
		return nil, err
	}
	baseBytes, err := r.Raw(24)
	if err != nil {
		return nil, err
	}
	var base [24]byte
	copy(base[:], baseBytes)

	ad := headerAD(VersionChunkedUniform)
	plaintext := make([]byte, 0, originalSize)
	remaining := originalSize
	for idx := uint64(0); remaining > 0; idx++ {
		chunkPlainLen := uint64(chunkSize)
		if remaining < chunkPlainLen {
			chunkPlainLen = remaining
		}
		mac, err := r.Raw(16)
		if err != nil {
			return nil, err
		}
		cipher, err := r.Raw(int(chunkPlainLen))
		if err != nil {
			return nil, err
		}
		sealed := append(append([]byte{}, cipher...), mac...)
		nonce := chunkNonce(base, idx)
		chunkPlain, err := corecrypto.OpenWithNonce(key[:], nonce[:], sealed, ad)
		if err != nil {
			return nil, ErrAuthFailure
		}
		plaintext = append(plaintext, chunkPlain...)
		remaining -= chunkPlainLen
	}
	if uint64(len(plaintext)) != originalSize {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// EncryptChunkedPadded seals plaintext as a v4 blob: each chunk is
// padded up to the smallest PaddingBuckets entry that fits it, with
// its true plaintext length smuggled into the first 4 bytes of the
// padded chunk before sealing, hiding exact chunk boundaries from
// anyone observing ciphertext sizes on the relay.
func EncryptChunkedPadded(key [32]byte, chunkSize int, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var base [24]byte
	if err := corecrypto.RandomFill(base[:]); err != nil {
		return nil, err
	}

	type sealedChunk struct {
		bucket int
		mac    []byte
		cipher []byte
	}
	var chunks []sealedChunk
	ad := headerAD(VersionChunkedPadded)

	for idx := uint64(0); ; idx++ {
		start := int(idx) * chunkSize
		if start >= len(plaintext) {
			break
		}
		end := start + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		chunkPlain := plaintext[start:end]
		bucket, err := bucketFor(len(chunkPlain))
		if err != nil {
			return nil, err
		}
		padded := make([]byte, bucket)
		binary.LittleEndian.PutUint32(padded[:4], uint32(len(chunkPlain)))
		copy(padded[chunkLengthPrefixSize:], chunkPlain)
		if err := corecrypto.RandomFill(padded[chunkLengthPrefixSize+len(chunkPlain):]); err != nil {
			return nil, err
		}

		nonce := chunkNonce(base, idx)
		sealed, err := corecrypto.SealWithNonce(key[:], nonce[:], padded, ad)
		if err != nil {
			return nil, fmt.Errorf("attachment: seal padded chunk %d: %w", idx, err)
		}
		cipher, mac := sealed[:len(sealed)-16], sealed[len(sealed)-16:]
		chunks = append(chunks, sealedChunk{bucket: bucket, mac: mac, cipher: cipher})
	}

	w := wire.NewWriter(64 + len(plaintext)*2)
	w.PutRaw(Magic[:])
	w.PutU8(uint8(VersionChunkedPadded))
	w.PutU8(0)
	w.PutU8(uint8(AlgoXChaCha20Poly1305))
	w.PutU8(0)
	w.PutU32(uint32(len(chunks)))
	w.PutU64(uint64(len(plaintext)))
	w.PutRaw(base[:])
	for _, c := range chunks {
		w.PutU32(uint32(c.bucket))
	}
	for _, c := range chunks {
		w.PutRaw(c.mac)
		w.PutRaw(c.cipher)
	}
	return w.Bytes(), nil
}

// DecryptChunkedPadded opens a v4 blob produced by EncryptChunkedPadded.
func DecryptChunkedPadded(key [32]byte, blob []byte) ([]byte, error) {
	if len(blob) > MaxOnWireSize {
		return nil, ErrBlobTooLarge
	}
	r := wire.NewReader(blob)
	if err := r.ExpectMagic(string(Magic[:])); err != nil {
		return nil, err
	}
	ver, err := r.U8()
	if err != nil {
		return nil, err
	}
	if Version(ver) != VersionChunkedPadded {
		return nil, ErrUnsupportedVersion
	}
	if _, err := r.U8(); err != nil {
		return nil, err
	}
	algo, err := r.U8()
	if err != nil {
		return nil, err
	}
	if Algo(algo) != AlgoXChaCha20Poly1305 {
		return nil, ErrUnsupportedAlgo
	}
	if _, err := r.U8(); err != nil {
		return nil, err
	}
	chunkCount, err := r.U32()
	if err != nil {
		return nil, err
	}
	originalSize, err := r.U64()
	if err != nil {
		return nil, err
	}
	baseBytes, err := r.Raw(24)
	if err != nil {
		return nil, err
	}
	var base [24]byte
	copy(base[:], baseBytes)

	bucketSizes := make([]int, chunkCount)
	for i := range bucketSizes {
		sz, err := r.U32()
		if err != nil {
			return nil, err
		}
		bucketSizes[i] = int(sz)
	}

	ad := headerAD(VersionChunkedPadded)
	plaintext := make([]byte, 0, originalSize)
	for idx, bucket := range bucketSizes {
		mac, err := r.Raw(16)
		if err != nil {
			return nil, err
		}
		cipher, err := r.Raw(bucket)
		if err != nil {
			return nil, err
		}
		sealed := append(append([]byte{}, cipher...), mac...)
		nonce := chunkNonce(base, uint64(idx))
		padded, err := corecrypto.OpenWithNonce(key[:], nonce[:], sealed, ad)
		if err != nil {
			return nil, ErrAuthFailure
		}
		if len(padded) < chunkLengthPrefixSize {
			return nil, ErrAuthFailure
		}
		trueLen := int(binary.LittleEndian.Uint32(padded[:4]))
		if trueLen < 0 || chunkLengthPrefixSize+trueLen > len(padded) {
			return nil, ErrAuthFailure
		}
		plaintext = append(plaintext, padded[chunkLengthPrefixSize:chunkLengthPrefixSize+trueLen]...)
	}
	if uint64(len(plaintext)) != originalSize {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
