package ratchet

import (
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// deriveRootChain splits a freshly agreed shared secret into an
// initial root key and chain key via HKDF: 64 bytes out, first half
// root, second half chain.
func deriveRootChain(sharedSecret [32]byte) (root, chain [32]byte, err error) {
	out, err := corecrypto.HKDF(sharedSecret[:], nil, []byte(infoRatchetRoot), 64)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("ratchet: derive root/chain: %w", err)
	}
	copy(root[:], out[:32])
	copy(chain[:], out[32:])
	return root, chain, nil
}

// kdfRootStep performs one DH-ratchet step: mixes a new DH output into
// the root key to derive the next root key and the chain key seeded
// for the new sending or receiving chain.
func kdfRootStep(root [32]byte, dhOutput [32]byte) (newRoot, newChain [32]byte, err error) {
	ikm := append(append([]byte{}, root[:]...), dhOutput[:]...)
	out, err := corecrypto.HKDF(ikm, nil, []byte(infoRatchetStep), 64)
	corecrypto.Zero(ikm)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("ratchet: dh ratchet step: %w", err)
	}
	copy(newRoot[:], out[:32])
	copy(newChain[:], out[32:])
	return newRoot, newChain, nil
}

// kdfChainStep advances a symmetric chain key by one step, returning
// the next chain key and the message key derived from the current
// one, the textbook two-output chain-KDF ericlagergren/dr's skip()/
// ratchet() helpers use.
func kdfChainStep(chainKey [32]byte) (nextChain, messageKey [32]byte, err error) {
	nextOut, err := corecrypto.HKDF(chainKey[:], nil, []byte(infoChainStep), 32)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("ratchet: chain step: %w", err)
	}
	msgOut, err := corecrypto.HKDF(chainKey[:], nil, []byte(infoMessageKey), 32)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("ratchet: message key derivation: %w", err)
	}
	copy(nextChain[:], nextOut)
	copy(messageKey[:], msgOut)
	return nextChain, messageKey, nil
}
