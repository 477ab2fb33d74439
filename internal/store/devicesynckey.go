package store

import "fmt"

const (
	deviceSyncKeyMagic   = "MI_E2EE_DEVICE_SYNC_KEY_DPAPI1"
	deviceSyncKeyEntropy = "MI_E2EE_DEVICE_SYNC_KEY_ENTROPY_V1"
)

// SaveDeviceSyncKey platform-wraps and atomically writes the 32-byte
// device-sync key to device_sync_key.bin.
func SaveDeviceSyncKey(path string, secret SecretStore, key [32]byte) error {
	wrapped, err := secret.Protect(deviceSyncKeyMagic, deviceSyncKeyEntropy, key[:])
	if err != nil {
		return fmt.Errorf("store: device sync key wrap: %w", err)
	}
	return AtomicWriteFile(path, wrapped)
}

// LoadDeviceSyncKey reads and unwraps a device_sync_key.bin written by
// SaveDeviceSyncKey.
func LoadDeviceSyncKey(path string, secret SecretStore) ([32]byte, error) {
	var key [32]byte
	wrapped, err := ReadFileChecked(path)
	if err != nil {
		return key, err
	}
	plain, err := secret.Unprotect(deviceSyncKeyMagic, deviceSyncKeyEntropy, wrapped)
	if err != nil {
		return key, fmt.Errorf("store: device sync key unwrap: %w", err)
	}
	if len(plain) != 32 {
		return key, fmt.Errorf("store: malformed device_sync_key.bin")
	}
	copy(key[:], plain)
	return key, nil
}
