package corecrypto

import "crypto/rand"

func randRead(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// RandomFill fills b with cryptographically secure random bytes, for
// callers generating fresh symmetric keys outside the AEAD/KDF helpers
// in this package.
func RandomFill(b []byte) error {
	return randRead(b)
}
