package groupratchet

import (
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// Distribution is the signed message a sender hands every current
// member on first use and on rotation, carried to peers over the
// pairwise ratchet channel as an envelope.SenderKeyDist body.
type Distribution struct {
	GroupID   string
	Version   uint32
	Iteration uint32
	ChainKey  [32]byte
	Signature []byte
}

// SignDistribution signs a distribution's (group, version, iteration,
// chain key) tuple with the sender's long-term signing key.
func SignDistribution(signing corecrypto.SigningKeyPair, groupID string, version, iteration uint32, chainKey [32]byte) Distribution {
	msg := distributionSignedBytes(groupID, version, iteration, chainKey)
	return Distribution{
		GroupID:   groupID,
		Version:   version,
		Iteration: iteration,
		ChainKey:  chainKey,
		Signature: corecrypto.Sign(signing.Private, msg),
	}
}

// VerifyDistribution checks a distribution's signature against the
// sender's known identity signing public key.
func VerifyDistribution(d Distribution, senderSigPub []byte) bool {
	msg := distributionSignedBytes(d.GroupID, d.Version, d.Iteration, d.ChainKey)
	return corecrypto.Verify(senderSigPub, msg, d.Signature)
}

func distributionSignedBytes(groupID string, version, iteration uint32, chainKey [32]byte) []byte {
	buf := make([]byte, 0, len(groupID)+4+4+32)
	buf = append(buf, []byte(groupID)...)
	buf = append(buf, byte(version), byte(version>>8), byte(version>>16), byte(version>>24))
	buf = append(buf, byte(iteration), byte(iteration>>8), byte(iteration>>16), byte(iteration>>24))
	buf = append(buf, chainKey[:]...)
	return buf
}

// PendingDistribution tracks a sent-but-not-fully-acknowledged
// sender-key distribution.
type PendingDistribution struct {
	Dist            Distribution
	Unacknowledged  map[string]struct{}
	LastSentAt      time.Time
}

// NewPendingDistribution starts tracking delivery of a distribution to
// every given member.
func NewPendingDistribution(dist Distribution, members []string, now time.Time) *PendingDistribution {
	unacked := make(map[string]struct{}, len(members))
	for _, m := range members {
		unacked[m] = struct{}{}
	}
	return &PendingDistribution{Dist: dist, Unacknowledged: unacked, LastSentAt: now}
}

// Ack records that a member has acknowledged receipt.
func (p *PendingDistribution) Ack(member string) {
	delete(p.Unacknowledged, member)
}

// Done reports whether every member has acknowledged.
func (p *PendingDistribution) Done() bool {
	return len(p.Unacknowledged) == 0
}

// DueForResend reports whether the cool-down since the last broadcast
// has elapsed and unacknowledged members remain.
func (p *PendingDistribution) DueForResend(now time.Time) bool {
	if p.Done() {
		return false
	}
	return now.Sub(p.LastSentAt) >= DistributionCooldownSeconds*time.Second
}

// MarkResent updates the last-sent timestamp after a re-broadcast.
func (p *PendingDistribution) MarkResent(now time.Time) {
	p.LastSentAt = now
}
