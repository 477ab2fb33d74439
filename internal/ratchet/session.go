package ratchet

import (
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// Header is the minimal per-message Double Ratchet header: the
// sender's current ratchet public key, how many messages were sent on
// the previous sending chain, and the counter within the current chain.
// Decrypt does not read PrevChainLen: when the ratchet switches to a new
// peer public, no keys are derived for the rest of the previous chain.
type Header struct {
	DHPub        [32]byte
	PrevChainLen uint32
	Counter      uint32
}

// State is one pairwise ratchet session's mutable key material.
type State struct {
	RootKey [32]byte

	SendChainKey [32]byte
	SendDH       corecrypto.DHKeyPair
	SendCounter  uint32
	PrevChainLen uint32

	RecvChainKey [32]byte
	RecvDHPub    *[32]byte
	RecvCounter  uint32
	haveRecvChain bool

	Skipped *skippedCache
}

// Session is a complete pairwise ratchet session bound to a local and
// remote identity.
type Session struct {
	State       *State
	LocalUser   string
	RemoteUser  string
	IsInitiator bool
}

// NewInitiatorSession starts the sending side immediately after X3DH:
// it generates a fresh ratchet key pair and performs the first DH
// ratchet step against the peer's signed pre-key public, producing an
// initial sending chain. The session cannot receive until the peer's
// first reply carries their own ratchet public.
func NewInitiatorSession(localUser, remoteUser string, sharedSecret [32]byte, peerSignedPreKeyPub [32]byte) (*Session, error) {
	root, _, err := deriveRootChain(sharedSecret)
	if err != nil {
		return nil, err
	}
	ratchetKP, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate initial ratchet key: %w", err)
	}
	dhOut, err := corecrypto.DH(ratchetKP.Private, peerSignedPreKeyPub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial dh step: %w", err)
	}
	newRoot, sendChain, err := kdfRootStep(root, dhOut)
	if err != nil {
		return nil, err
	}
	return &Session{
		State: &State{
			RootKey:      newRoot,
			SendChainKey: sendChain,
			SendDH:       ratchetKP,
			Skipped:      newSkippedCache(SkippedCap),
		},
		LocalUser:   localUser,
		RemoteUser:  remoteUser,
		IsInitiator: true,
	}, nil
}

// NewResponderSession starts the receiving side right after X3DH: the
// responder keeps its own signed pre-key pair as its first ratchet key
// and waits for the initiator's first message to learn their ratchet
// public and perform the matching DH step.
func NewResponderSession(localUser, remoteUser string, sharedSecret [32]byte, ownSignedPreKey corecrypto.DHKeyPair) (*Session, error) {
	root, _, err := deriveRootChain(sharedSecret)
	if err != nil {
		return nil, err
	}
	return &Session{
		State: &State{
			RootKey: root,
			SendDH:  ownSignedPreKey,
			Skipped: newSkippedCache(SkippedCap),
		},
		LocalUser:   localUser,
		RemoteUser:  remoteUser,
		IsInitiator: false,
	}, nil
}

func (s *Session) associatedData() []byte {
	return []byte(s.LocalUser + "|" + s.RemoteUser)
}

// Encrypt advances the sending chain by one step and seals plaintext
// under the derived message key, returning the header to attach and
// the ciphertext.
func (s *Session) Encrypt(plaintext []byte) (Header, []byte, error) {
	st := s.State
	nextChain, msgKey, err := kdfChainStep(st.SendChainKey)
	if err != nil {
		return Header{}, nil, err
	}

	hdr := Header{DHPub: st.SendDH.Public, PrevChainLen: st.PrevChainLen, Counter: st.SendCounter}
	ct, err := corecrypto.Seal(msgKey[:], plaintext, s.associatedData())
	if err != nil {
		corecrypto.Zero(msgKey[:])
		return Header{}, nil, fmt.Errorf("ratchet: seal: %w", err)
	}
	corecrypto.Zero(msgKey[:])

	st.SendChainKey = nextChain
	st.SendCounter++
	return hdr, ct, nil
}

// Decrypt processes an inbound header+ciphertext: it performs a DH
// ratchet step if the header advertises a new peer public, catches up
// on any skipped messages within MaxSkip, and authenticates the
// ciphertext. Messages failing authentication are dropped without
// advancing any counter.
func (s *Session) Decrypt(hdr Header, ciphertext []byte) ([]byte, error) {
	st := s.State

	if msgKey, ok := st.Skipped.take(hdr.DHPub, hdr.Counter); ok {
		plaintext, err := corecrypto.Open(msgKey[:], ciphertext, s.associatedData())
		corecrypto.Zero(msgKey[:])
		if err != nil {
			return nil, ErrAuthFailure
		}
		return plaintext, nil
	}

	// saved is restored on every rejection below, so a message that
	// fails leaves the root, chain keys and counters as they were.
	saved := *st
	isNewDHPub := st.RecvDHPub == nil || *st.RecvDHPub != hdr.DHPub
	if isNewDHPub {
		if err := s.dhRatchetStep(hdr); err != nil {
			return nil, err
		}
	}

	if hdr.Counter < st.RecvCounter {
		*st = saved
		return nil, ErrAuthFailure
	}

	chainKey := st.RecvChainKey
	var msgKey [32]byte
	skip := int(hdr.Counter - st.RecvCounter)
	if skip > MaxSkip {
		*st = saved
		return nil, ErrSkipBudgetExceeded
	}
	for i := 0; i < skip; i++ {
		next, mk, err := kdfChainStep(chainKey)
		if err != nil {
			return nil, err
		}
		st.Skipped.put(hdr.DHPub, st.RecvCounter+uint32(i), mk)
		chainKey = next
	}
	nextChain, derived, err := kdfChainStep(chainKey)
	if err != nil {
		return nil, err
	}
	msgKey = derived

	plaintext, err := corecrypto.Open(msgKey[:], ciphertext, s.associatedData())
	corecrypto.Zero(msgKey[:])
	if err != nil {
		*st = saved
		return nil, ErrAuthFailure
	}

	st.RecvChainKey = nextChain
	st.RecvCounter = hdr.Counter + 1
	return plaintext, nil
}

// dhRatchetStep performs the DH-ratchet transition triggered by the
// peer advertising a new ratchet public key: it finishes deriving the
// receiving chain for the new public, then generates a fresh local
// ratchet key pair so the next Encrypt call seeds a fresh sending
// chain.
func (s *Session) dhRatchetStep(hdr Header) error {
	st := s.State

	recvDHOut, err := corecrypto.DH(st.SendDH.Private, hdr.DHPub)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet recv step: %w", err)
	}
	newRoot, recvChain, err := kdfRootStep(st.RootKey, recvDHOut)
	if err != nil {
		return err
	}

	newRatchetKP, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return fmt.Errorf("ratchet: generate new ratchet key: %w", err)
	}
	sendDHOut, err := corecrypto.DH(newRatchetKP.Private, hdr.DHPub)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet send step: %w", err)
	}
	finalRoot, sendChain, err := kdfRootStep(newRoot, sendDHOut)
	if err != nil {
		return err
	}

	peerPub := hdr.DHPub
	st.RootKey = finalRoot
	st.RecvChainKey = recvChain
	st.RecvDHPub = &peerPub
	st.RecvCounter = 0
	st.haveRecvChain = true
	st.PrevChainLen = st.SendCounter
	st.SendChainKey = sendChain
	st.SendDH = newRatchetKP
	st.SendCounter = 0
	return nil
}
