package devicesync

import "sync"

// Manager holds one device's live device-sync key and applies incoming
// events, in particular the RotateKey swap a device eviction triggers
// on every sibling.
type Manager struct {
	mu      sync.Mutex
	key     Key
	hasKey  bool
	enabled bool
}

// NewManager returns a Manager with no key loaded; LoadKey must run
// before Seal/Open will succeed.
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// LoadKey installs a device-sync key, wiping whatever key preceded it.
func (m *Manager) LoadKey(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasKey {
		m.key.Wipe()
	}
	m.key = key
	m.hasKey = true
}

// Disable turns off device sync entirely, matching the
// ErrDeviceSyncDisabled path in EncryptDeviceSync/DecryptDeviceSync on
// the original client.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Seal encrypts an Event under the current device-sync key.
func (m *Manager) Seal(e Event) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil, ErrDeviceSyncDisabled
	}
	if !m.hasKey {
		return nil, ErrKeyMissing
	}
	return EncryptDeviceSync(m.key, EncodeEvent(e))
}

// Open decrypts a device-sync ciphertext and decodes the event inside
// it. A RotateKeyEvent is applied to the Manager's own key as a side
// effect before being returned, so callers never race a second Seal
// against the pre-rotation key.
func (m *Manager) Open(cipher []byte) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil, ErrDeviceSyncDisabled
	}
	if !m.hasKey {
		return nil, ErrKeyMissing
	}
	plaintext, err := DecryptDeviceSync(m.key, cipher)
	if err != nil {
		return nil, err
	}
	event, err := DecodeEvent(plaintext)
	if err != nil {
		return nil, err
	}
	if rotate, ok := event.(RotateKeyEvent); ok {
		m.key.Wipe()
		m.key = rotate.NewKey
	}
	return event, nil
}

// EvictDevice rotates the device-sync key on the primary: it generates
// a replacement, seals a RotateKey event under the key being retired
// for the caller to broadcast to every remaining sibling, then swaps
// its own stored key. The evicted device, never receiving the
// broadcast, is left holding a key nobody encrypts under again.
func (m *Manager) EvictDevice() (broadcastCipher []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil, ErrDeviceSyncDisabled
	}
	if !m.hasKey {
		return nil, ErrKeyMissing
	}
	newKey, cipher, err := RotateKey(m.key)
	if err != nil {
		return nil, err
	}
	m.key.Wipe()
	m.key = newKey
	return cipher, nil
}
