package store

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SaveDeviceID writes deviceID (16 raw bytes, per the fixed-width id
// convention) to device_id.txt as 32 lowercase hex chars.
func SaveDeviceID(path string, deviceID [16]byte) error {
	return AtomicWriteFile(path, []byte(hex.EncodeToString(deviceID[:])+"\n"))
}

// LoadDeviceID reads and decodes a device_id.txt written by
// SaveDeviceID.
func LoadDeviceID(path string) ([16]byte, error) {
	var id [16]byte
	raw, err := ReadFileChecked(path)
	if err != nil {
		return id, err
	}
	text := strings.TrimSpace(string(raw))
	decoded, err := hex.DecodeString(text)
	if err != nil || len(decoded) != 16 {
		return id, fmt.Errorf("store: malformed device_id.txt")
	}
	copy(id[:], decoded)
	return id, nil
}
