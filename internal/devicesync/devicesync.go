// Package devicesync implements the multi-device sync channel (C9):
// a device-scoped envelope fan-out sealed under a per-user symmetric
// key, the pairing handshake a new device uses to obtain that key, and
// rotation when a device is evicted.
//
// The pairing wire shapes (MIPY/MIPR/MIPS) and the sealed device-sync
// ciphertext format are adapted from original_source's sync_service.cpp
// and protocol.h, translated from its manual buffer-splicing style into
// this module's wire.Writer/Reader + corecrypto AEAD helpers.
package devicesync

import "errors"

var (
	ErrDeviceSyncDisabled = errors.New("devicesync: device sync not enabled")
	ErrKeyMissing         = errors.New("devicesync: device-sync key not loaded")
	ErrAuthFailure        = errors.New("devicesync: authentication failed")
	ErrPairingNotActive   = errors.New("devicesync: no pairing in progress")
	ErrBadPairingCode     = errors.New("devicesync: pairing code invalid")
	ErrUnknownEventType   = errors.New("devicesync: unknown device-sync event type")
	ErrEmptyPlaintext     = errors.New("devicesync: device-sync plaintext empty")
)

const (
	infoPairingID  = "mi_e2ee_pairing_id_v1"
	infoPairingKey = "mi_e2ee_pairing_key_v1"
)

// PairingSecretSize is the width of the random secret exchanged
// out-of-band as a hex pairing code.
const PairingSecretSize = 16
