package attachment

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// alreadyCompressedExt lists file extensions whose payload deflate
// would not shrink, so the codec skips stage-1 compression for them
// and picks v1 over v2.
var alreadyCompressedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
	".mp3": true, ".aac": true, ".ogg": true, ".flac": true,
	".zip": true, ".gz": true, ".7z": true, ".rar": true, ".bz2": true, ".xz": true,
	".pdf": true,
}

func looksAlreadyCompressed(fileName string) bool {
	return alreadyCompressedExt[strings.ToLower(filepath.Ext(fileName))]
}

// EncryptSingleShot seals plaintext at or under SingleShotThreshold as
// a single AEAD record, running it through a deflate stage first
// unless fileName's extension suggests it is already compressed.
func EncryptSingleShot(key [32]byte, fileName string, plaintext []byte) ([]byte, error) {
	if len(plaintext) > SingleShotThreshold {
		return nil, ErrChunkTooLarge
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}

	version := VersionSingleShotDeflate
	stage1 := plaintext
	if looksAlreadyCompressed(fileName) {
		version = VersionSingleShotRaw
	} else {
		deflated, err := deflate(plaintext)
		if err != nil {
			return nil, err
		}
		stage1 = deflated
	}

	nonce := make([]byte, 24)
	if err := corecrypto.RandomFill(nonce); err != nil {
		return nil, err
	}
	sealed, err := corecrypto.SealWithNonce(key[:], nonce, stage1, headerAD(version))
	if err != nil {
		return nil, fmt.Errorf("attachment: seal: %w", err)
	}
	mac, cipher := sealed[len(sealed)-16:], sealed[:len(sealed)-16]

	w := wire.NewWriter(4 + 4 + 8*3 + 24 + len(sealed))
	w.PutRaw(Magic[:])
	w.PutU8(uint8(version))
	w.PutU8(0) // flags
	w.PutU8(uint8(AlgoXChaCha20Poly1305))
	w.PutU8(0) // reserved
	w.PutU64(uint64(len(plaintext)))
	w.PutU64(uint64(len(stage1)))
	w.PutU64(uint64(len(cipher))) // stage2_size: ciphertext length, excluding the detached mac
	w.PutRaw(nonce)
	w.PutRaw(mac)
	w.PutRaw(cipher)
	return w.Bytes(), nil
}

// DecryptSingleShot opens a v1/v2 blob produced by EncryptSingleShot.
func DecryptSingleShot(key [32]byte, blob []byte) ([]byte, error) {
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
	version := Version(ver)
	if version != VersionSingleShotRaw && version != VersionSingleShotDeflate {
		return nil, ErrUnsupportedVersion
	}
	if _, err := r.U8(); err != nil { // flags
		return nil, err
	}
	algo, err := r.U8()
	if err != nil {
		return nil, err
	}
	if Algo(algo) != AlgoXChaCha20Poly1305 {
		return nil, ErrUnsupportedAlgo
	}
	if _, err := r.U8(); err != nil { // reserved
		return nil, err
	}
	originalSize, err := r.U64()
	if err != nil {
		return nil, err
	}
	stage1Size, err := r.U64()
	if err != nil {
		return nil, err
	}
	cipherSize, err := r.U64()
	if err != nil {
		return nil, err
	}
	nonce, err := r.Raw(24)
	if err != nil {
		return nil, err
	}
	mac, err := r.Raw(16)
	if err != nil {
		return nil, err
	}
	cipher, err := r.Raw(int(cipherSize))
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, cipher...), mac...)

	stage1, err := corecrypto.OpenWithNonce(key[:], nonce, sealed, headerAD(version))
	if err != nil {
		return nil, ErrAuthFailure
	}
	if uint64(len(stage1)) != stage1Size {
		return nil, ErrAuthFailure
	}

	var plaintext []byte
	if version == VersionSingleShotDeflate {
		plaintext, err = inflate(stage1)
		if err != nil {
			return nil, err
		}
	} else {
		plaintext = stage1
	}
	if uint64(len(plaintext)) != originalSize {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

func headerAD(version Version) []byte {
	return append(append([]byte{}, Magic[:]...), uint8(version))
}

func deflate(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(stage1 []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(stage1))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, MaxPlaintextSize+1))
	if err != nil {
		return nil, fmt.Errorf("attachment: inflate: %w", err)
	}
	if len(out) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	return out, nil
}
