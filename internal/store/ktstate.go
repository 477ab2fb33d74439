package store

// SaveKTState atomically writes an already wire-encoded kt_state.bin
// blob (internal/ktclient.EncodeSnapshot) to path. The snapshot is not
// platform-wrapped: unlike the trust store or the device-sync key, a
// tree size and root hash are not secret, only integrity-sensitive,
// and the wire encoding already carries its own magic tag.
func SaveKTState(path string, encodedSnapshot []byte) error {
	return AtomicWriteFile(path, encodedSnapshot)
}

// LoadKTState reads a kt_state.bin blob for the caller to decode with
// internal/ktclient.DecodeSnapshot.
func LoadKTState(path string) ([]byte, error) {
	return ReadFileChecked(path)
}
