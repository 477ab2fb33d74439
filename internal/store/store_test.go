package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")

	require.NoError(t, AtomicWriteFile(path, []byte("hello")))
	got, err := ReadFileChecked(path)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// A second write overwrites atomically rather than appending.
	require.NoError(t, AtomicWriteFile(path, []byte("world!")))
	got, err = ReadFileChecked(path)
	require.NoError(t, err)
	require.Equal(t, []byte("world!"), got)
}

func TestPassthroughSecretStoreRoundTrip(t *testing.T) {
	var s PassthroughSecretStore
	wrapped, err := s.Protect("MI_TEST1", "entropy", []byte("secret"))
	require.NoError(t, err)

	plain, err := s.Unprotect("MI_TEST1", "entropy", wrapped)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), plain)

	_, err = s.Unprotect("MI_OTHER1", "entropy", wrapped)
	require.ErrorIs(t, err, ErrSecretStoreMagicMismatch)
}

func TestTrustStoreRoundTripAndRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server_trust.ini")

	ts, err := LoadTrustStore(path, PassthroughSecretStore{})
	require.NoError(t, err)

	fp := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	require.NoError(t, ts.Put("relay.example.com:443", fp, true))

	gotFP, tlsRequired, ok := ts.Get("relay.example.com:443")
	require.True(t, ok)
	require.Equal(t, fp, gotFP)
	require.True(t, tlsRequired)

	_, _, ok = ts.Get("unknown.example.com:443")
	require.False(t, ok)

	// Reloading from disk must see the same entry.
	reloaded, err := LoadTrustStore(path, PassthroughSecretStore{})
	require.NoError(t, err)
	gotFP, tlsRequired, ok = reloaded.Get("relay.example.com:443")
	require.True(t, ok)
	require.Equal(t, fp, gotFP)
	require.True(t, tlsRequired)
}

func TestTrustStoreRejectsMalformedFingerprint(t *testing.T) {
	dir := t.TempDir()
	ts, err := LoadTrustStore(filepath.Join(dir, "server_trust.ini"), PassthroughSecretStore{})
	require.NoError(t, err)

	err = ts.Put("relay.example.com:443", "not-hex", false)
	require.Error(t, err)
}

func TestDeviceIDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device_id.txt")

	var id [16]byte
	for i := range id {
		id[i] = byte(i)
	}
	require.NoError(t, SaveDeviceID(path, id))

	got, err := LoadDeviceID(path)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestDeviceSyncKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device_sync_key.bin")

	var key [32]byte
	for i := range key {
		key[i] = byte(255 - i)
	}
	require.NoError(t, SaveDeviceSyncKey(path, PassthroughSecretStore{}, key))

	got, err := LoadDeviceSyncKey(path, PassthroughSecretStore{})
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestKTStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kt_state.bin")

	blob := []byte("MIKTSTH1" + "arbitrary-encoded-snapshot-bytes")
	require.NoError(t, SaveKTState(path, blob))

	got, err := LoadKTState(path)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestAcquireLockExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lock")

	l1, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l1.Release())

	l2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
