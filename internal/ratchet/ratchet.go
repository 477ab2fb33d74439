// Package ratchet implements the pairwise E2EE engine (C7): X3DH
// session initiation augmented with a post-quantum KEM, followed by a
// Double-Ratchet-style symmetric-chain-plus-DH-ratchet session.
//
// The chain-advance and DH-ratchet-trigger control flow is grounded on
// ericlagergren/dr's Session.Seal/Open and skip()/ratchet() helpers:
// a DH ratchet step fires exactly when an inbound message advertises a
// new peer ratchet public key, never on a fixed message count. Key
// derivation naming (root key, chain key, message key, X3DH bundle
// shape) follows the signal-protocol conventions used throughout this
// module's crypto layer.
package ratchet

import "errors"

// MaxSkip is the most intermediate message keys a single decrypt call
// will compute to catch up to an advertised counter.
const MaxSkip = 4096

// SkippedCap is the FIFO eviction cap on stored skipped-message keys
// per session.
const SkippedCap = 2048

var (
	// ErrSessionNotEstablished names use of a session before X3DH has run; no function in this package returns it.
	ErrSessionNotEstablished = errors.New("ratchet: session not established")
	// ErrAuthFailure is returned when an inbound ciphertext fails AEAD authentication.
	ErrAuthFailure = errors.New("ratchet: authentication failed")
	// ErrSkipBudgetExceeded is returned when an inbound counter is too far ahead to catch up within MaxSkip.
	ErrSkipBudgetExceeded = errors.New("ratchet: skip budget exceeded")
	// ErrCounterRegressed names a send counter that would regress the chain; no function in this package returns it.
	ErrCounterRegressed = errors.New("ratchet: counter regressed")
	// ErrPeerNotTrusted names encryption to an untrusted peer; Session.Encrypt does not consult a TrustStore and does not return it.
	ErrPeerNotTrusted = errors.New("ratchet: peer not trusted — call TrustPendingPeer first")
	// ErrBadSignature is returned when a signed pre-key's signature does not verify.
	ErrBadSignature = errors.New("ratchet: signed pre-key signature invalid")
)

// HKDF domain-separation strings, each binding a derivation to the
// exact step it's used for so outputs from different steps can never
// collide even given the same input key material.
const (
	infoX3DH           = "mi_e2ee_x3dh_v1"
	infoRatchetRoot    = "mi_e2ee_ratchet_root_v1"
	infoRatchetStep    = "mi_e2ee_ratchet_step_v1"
	infoChainStep      = "mi_e2ee_ratchet_chain_step_v1"
	infoMessageKey     = "mi_e2ee_ratchet_message_key_v1"
	infoFingerprint    = "mi_e2ee_identity_fingerprint_v1"
	infoSAS            = "mi_e2ee_sas_v1"
)
