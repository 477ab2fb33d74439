package corecrypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params mirrors the parameter set used to derive the legacy
// augmented-PAKE's password-based key.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params is the interactive-login parameter set: 1
// iteration, 64 MiB, 4 threads, a 256-bit output.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4, KeyLength: 32}
}

// DeriveKey derives a key from a low-entropy secret (the legacy
// handshake's password) using Argon2id.
func DeriveKey(secret string, salt []byte, params Argon2Params) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("corecrypto: secret must not be empty")
	}
	if len(salt) < 8 {
		return nil, errors.New("corecrypto: salt must be at least 8 bytes")
	}
	return argon2.IDKey([]byte(secret), salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLength), nil
}

// HashPassword produces a self-describing Argon2id hash string in the
// standard `$argon2id$v=...$m=...,t=...,p=...$salt$hash` format, for the
// legacy augmented-PAKE's server-verifier record.
func HashPassword(password string, params Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("corecrypto: password must not be empty")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("corecrypto: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, hash, err := decodeArgon2Hash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLength)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

func decodeArgon2Hash(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, errors.New("corecrypto: invalid argon2id hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("corecrypto: unsupported argon2 version")
	}
	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Threads); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("corecrypto: parse argon2 parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("corecrypto: decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("corecrypto: decode hash: %w", err)
	}
	params.KeyLength = uint32(len(hash))
	return params, salt, hash, nil
}
