package store

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrSecretStoreMagicMismatch is returned when an on-disk blob's magic
// tag does not match what the caller expected, whether because the
// file is corrupt or because it was produced under a different magic.
var ErrSecretStoreMagicMismatch = errors.New("store: secret store magic mismatch")

// SecretStore wraps and unwraps a secret-bearing blob for storage,
// binding it to a magic tag (identifies the file format) and an
// entropy string (an additional domain-separation label a real OS
// keystore binds the wrap to, e.g. DPAPI's optional entropy
// parameter or a Keychain access group). Every secret-bearing file
// under the state directory is passed through this, even on platforms
// with no real OS keystore to call into — there the wrap is an
// identity passthrough that still validates the magic tag, so a file
// produced under the wrong format is rejected rather than silently
// misinterpreted.
type SecretStore interface {
	// Protect wraps plain under magic/entropy for storage.
	Protect(magic, entropy string, plain []byte) (wrapped []byte, err error)
	// Unprotect reverses Protect, failing if magic does not match.
	Unprotect(magic, entropy string, wrapped []byte) (plain []byte, err error)
}

// PassthroughSecretStore is the default SecretStore: it prefixes the
// magic tag onto the plaintext and nothing more. It exists so every
// secret-bearing file still carries a self-describing, checkable
// magic tag even on a host with no real OS keystore bound in; hosts
// that have DPAPI, Keychain, or a TPM-backed store available should
// supply their own SecretStore that actually encrypts the blob.
type PassthroughSecretStore struct{}

// Protect implements SecretStore.
func (PassthroughSecretStore) Protect(magic, _ string, plain []byte) ([]byte, error) {
	out := make([]byte, 0, len(magic)+len(plain))
	out = append(out, []byte(magic)...)
	out = append(out, plain...)
	return out, nil
}

// Unprotect implements SecretStore.
func (PassthroughSecretStore) Unprotect(magic, _ string, wrapped []byte) ([]byte, error) {
	if len(wrapped) < len(magic) || !bytes.Equal(wrapped[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: want %q", ErrSecretStoreMagicMismatch, magic)
	}
	plain := make([]byte, len(wrapped)-len(magic))
	copy(plain, wrapped[len(magic):])
	return plain, nil
}
