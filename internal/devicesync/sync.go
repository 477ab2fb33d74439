package devicesync

import (
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// SyncMagic and SyncVersion tag the outer device-sync ciphertext
// envelope pushed to and pulled from the relay (adapted from
// SyncService::EncryptDeviceSync/DecryptDeviceSync in original_source,
// magic `MISY`, AD = magic‖ver).
var SyncMagic = [4]byte{'M', 'I', 'S', 'Y'}

const SyncVersion uint8 = 1

// Key holds the 32-byte symmetric key shared by every device of one
// user. The primary device generates it; linked devices receive it via
// the pairing response.
type Key [32]byte

// Wipe zeroises the key in place.
func (k *Key) Wipe() {
	corecrypto.Zero(k[:])
}

// EncryptDeviceSync seals an opaque event plaintext under the
// device-sync key, AD-binding the outer magic and version so a
// ciphertext from a stale protocol version is rejected outright.
func EncryptDeviceSync(key Key, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	ad := append(append([]byte{}, SyncMagic[:]...), SyncVersion)
	sealed, err := corecrypto.Seal(key[:], plaintext, ad)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(len(ad) + len(sealed))
	w.PutRaw(ad)
	w.PutRaw(sealed)
	return w.Bytes(), nil
}

// DecryptDeviceSync opens a device-sync ciphertext pulled from the
// relay. Any failure — bad magic, stale version, or a MAC mismatch
// under a rotated-away key — collapses to ErrAuthFailure, matching the
// AuthFailure error-kind rule that a failing AEAD tag never surfaces a
// partial plaintext.
func DecryptDeviceSync(key Key, cipher []byte) ([]byte, error) {
	r := wire.NewReader(cipher)
	if err := r.ExpectMagic(string(SyncMagic[:])); err != nil {
		return nil, ErrAuthFailure
	}
	ver, err := r.U8()
	if err != nil {
		return nil, ErrAuthFailure
	}
	if ver != SyncVersion {
		return nil, ErrAuthFailure
	}
	ad := append(append([]byte{}, SyncMagic[:]...), ver)
	plaintext, err := corecrypto.Open(key[:], r.Rest(), ad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// RotateKey generates a fresh device-sync key and seals a RotateKey
// event under the key being replaced, so every sibling still holding
// the old key can learn the new one before it is discarded. The
// caller is responsible for broadcasting the returned ciphertext and
// only then swapping its own stored key to newKey (: "broadcasts a
// RotateKey event sealed under the current key ... then atomically
// swaps the stored key").
func RotateKey(currentKey Key) (newKey Key, broadcastCipher []byte, err error) {
	if err := corecrypto.RandomFill(newKey[:]); err != nil {
		return Key{}, nil, err
	}
	plaintext := EncodeEvent(RotateKeyEvent{NewKey: newKey})
	broadcastCipher, err = EncryptDeviceSync(currentKey, plaintext)
	if err != nil {
		corecrypto.Zero(newKey[:])
		return Key{}, nil, err
	}
	return newKey, broadcastCipher, nil
}
