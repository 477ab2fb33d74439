package attachment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleShotRoundTripRawAndDeflate(t *testing.T) {
	var key [32]byte
	key[0] = 1

	plaintext := bytes.Repeat([]byte("hello world "), 1000)

	blob, err := EncryptSingleShot(key, "notes.txt", plaintext)
	require.NoError(t, err)
	require.Equal(t, uint8(VersionSingleShotDeflate), blob[4])

	got, err := DecryptSingleShot(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	blobRaw, err := EncryptSingleShot(key, "photo.jpg", plaintext)
	require.NoError(t, err)
	require.Equal(t, uint8(VersionSingleShotRaw), blobRaw[4])

	gotRaw, err := DecryptSingleShot(key, blobRaw)
	require.NoError(t, err)
	require.Equal(t, plaintext, gotRaw)
}

func TestSingleShotTamperedCiphertextFailsAuth(t *testing.T) {
	var key [32]byte
	key[0] = 1
	blob, err := EncryptSingleShot(key, "photo.jpg", []byte("a small file"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF
	_, err = DecryptSingleShot(key, blob)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestChunkedUniformRoundTrip(t *testing.T) {
	var key [32]byte
	key[0] = 2
	plaintext := bytes.Repeat([]byte{0xAB}, 10*1024+37)

	blob, err := EncryptChunkedUniform(key, 4096, plaintext)
	require.NoError(t, err)

	got, err := DecryptChunkedUniform(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestChunkedUniformTamperedChunkFailsAuth(t *testing.T) {
	var key [32]byte
	key[0] = 2
	plaintext := bytes.Repeat([]byte{0xCD}, 4096*3)

	blob, err := EncryptChunkedUniform(key, 4096, plaintext)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF
	_, err = DecryptChunkedUniform(key, blob)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestChunkedPaddedRoundTripAndBucketing(t *testing.T) {
	var key [32]byte
	key[0] = 3
	plaintext := bytes.Repeat([]byte{0xEF}, 200*1024+5)

	blob, err := EncryptChunkedPadded(key, DefaultChunkSize, plaintext)
	require.NoError(t, err)

	got, err := DecryptChunkedPadded(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestBucketForPicksSmallestFittingBucket(t *testing.T) {
	b, err := bucketFor(50 * 1024)
	require.NoError(t, err)
	require.Equal(t, 64*1024, b)

	b, err = bucketFor(60 * 1024)
	require.NoError(t, err)
	require.Equal(t, 96*1024, b)

	_, err = bucketFor(400 * 1024)
	require.ErrorIs(t, err, ErrNoBucketFits)
}

func TestEncryptFileBlobSelectsRegimeBySize(t *testing.T) {
	var key [32]byte
	key[0] = 4

	small := bytes.Repeat([]byte{1}, 1024)
	blob, err := EncryptFileBlob(key, "a.txt", small)
	require.NoError(t, err)
	require.Contains(t, []uint8{uint8(VersionSingleShotRaw), uint8(VersionSingleShotDeflate)}, blob[4])

	got, err := DecryptFileBlob(key, blob)
	require.NoError(t, err)
	require.Equal(t, small, got)

	large := bytes.Repeat([]byte{2}, SingleShotThreshold+1024)
	blobLarge, err := EncryptFileBlob(key, "a.bin", large)
	require.NoError(t, err)
	require.Equal(t, uint8(VersionChunkedPadded), blobLarge[4])

	gotLarge, err := DecryptFileBlob(key, blobLarge)
	require.NoError(t, err)
	require.Equal(t, large, gotLarge)
}

func TestUploadSessionTracksOffsetsAndFinishes(t *testing.T) {
	s := NewUploadSession("file-1", "upload-1", 10)
	require.Equal(t, uint64(0), s.NextOffset())

	s.RecordChunkSent(6)
	require.Equal(t, uint64(6), s.NextOffset())
	require.Equal(t, uint64(4), s.Remaining())
	require.False(t, s.ReadyToFinish())

	s.RecordChunkSent(4)
	require.True(t, s.ReadyToFinish())

	total, err := s.Finish()
	require.NoError(t, err)
	require.Equal(t, uint64(10), total)

	_, err = s.Finish()
	require.ErrorIs(t, err, ErrUploadAlreadyFinished)
}

func TestUploadSessionFinishRejectsSizeMismatch(t *testing.T) {
	s := NewUploadSession("file-1", "upload-1", 10)
	s.RecordChunkSent(5)
	_, err := s.Finish()
	require.ErrorIs(t, err, ErrSessionSizeMismatch)
}

func TestDownloadSessionTracksProgress(t *testing.T) {
	s := NewDownloadSession("file-1", "download-1", 10, false)
	require.False(t, s.Done())

	s.RecordChunkReceived(10, false)
	require.True(t, s.Done())
	require.Equal(t, uint64(10), s.BytesReceived())
}

func TestDownloadSessionHonorsEOFBeforeTotalSize(t *testing.T) {
	s := NewDownloadSession("file-1", "download-1", 100, true)
	s.RecordChunkReceived(3, true)
	require.True(t, s.Done())
}
