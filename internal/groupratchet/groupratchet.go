// Package groupratchet implements the Sender-Key group engine (C8): a
// per-(group, sender) symmetric chain that avoids O(N) pairwise
// encryption for group messages while preserving forward secrecy
// within a sender's own chain.
//
// The chain-step KDF shape mirrors internal/ratchet's kdfChainStep,
// generalized here to a single shared chain per sender rather than one
// chain per direction per peer.
package groupratchet

import "errors"

// RotationSentCountThreshold and RotationMaxAge are the mandatory
// rotation triggers beyond a membership change.
const (
	RotationSentCountThreshold = 10000
	RotationMaxAge             = 7 * 24 * 60 * 60 // seconds, kept as an int to avoid importing time in const
)

// MaxSkip and SkippedCap mirror the pairwise engine's bounds, applied
// per (group, sender) chain instead of per peer.
const (
	MaxSkip    = 4096
	SkippedCap = 2048
)

// DistributionCooldownSeconds is how long the engine waits before
// re-sending a sender-key distribution to members who have not yet
// acknowledged it.
const DistributionCooldownSeconds = 5

var (
	ErrUnknownSenderKey    = errors.New("groupratchet: no sender-key state for this (group, sender)")
	ErrAuthFailure         = errors.New("groupratchet: authentication failed")
	ErrSkipBudgetExceeded  = errors.New("groupratchet: skip budget exceeded")
	ErrBadSignature        = errors.New("groupratchet: sender-key distribution signature invalid")
	ErrRotationVersionStale = errors.New("groupratchet: distribution version is not newer than current")
)

const infoChainStep = "mi_e2ee_group_sender_ck_v1"
