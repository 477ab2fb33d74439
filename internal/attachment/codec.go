package attachment

import "github.com/jaydenbeard/mi-e2ee-core/internal/wire"

// EncryptFileBlob picks the single-shot (v1/v2) or chunked-padded (v4)
// regime automatically based on plaintext size, matching the two
// regimes selected by total plaintext size.
func EncryptFileBlob(key [32]byte, fileName string, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	if len(plaintext) <= SingleShotThreshold {
		return EncryptSingleShot(key, fileName, plaintext)
	}
	return EncryptChunkedPadded(key, DefaultChunkSize, plaintext)
}

// DecryptFileBlob reads the version byte out of a blob header and
// dispatches to the matching branch, so callers never need to track
// which regime a given attachment was encoded with.
func DecryptFileBlob(key [32]byte, blob []byte) ([]byte, error) {
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
	switch Version(ver) {
	case VersionSingleShotRaw, VersionSingleShotDeflate:
		return DecryptSingleShot(key, blob)
	case VersionChunkedUniform:
		return DecryptChunkedUniform(key, blob)
	case VersionChunkedPadded:
		return DecryptChunkedPadded(key, blob)
	default:
		return nil, ErrUnsupportedVersion
	}
}
