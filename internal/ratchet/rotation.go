package ratchet

import "time"

// SignedPreKeyRotationInterval is the default cadence at which a
// client rotates its published signed pre-key (: "a local policy
// rotates the signed pre-key on a configurable cadence").
const SignedPreKeyRotationInterval = 7 * 24 * time.Hour

// RotationPolicy tracks when a signed pre-key was last published and
// decides whether it is due for rotation.
type RotationPolicy struct {
	Interval         time.Duration
	lastPublishedAt  time.Time
	prekeyPublished  bool
}

func NewRotationPolicy(interval time.Duration) *RotationPolicy {
	if interval <= 0 {
		interval = SignedPreKeyRotationInterval
	}
	return &RotationPolicy{Interval: interval}
}

// DueForRotation reports whether the current signed pre-key has aged
// past the configured interval, or was never published.
func (p *RotationPolicy) DueForRotation(now time.Time) bool {
	if !p.prekeyPublished {
		return true
	}
	return now.Sub(p.lastPublishedAt) >= p.Interval
}

// MarkPublished records a fresh publication, clearing the due state
// until the interval elapses again.
func (p *RotationPolicy) MarkPublished(now time.Time) {
	p.prekeyPublished = true
	p.lastPublishedAt = now
}

// MarkUnpublished clears the published flag, e.g. after the server
// reports the pre-key as consumed or rejected, forcing rotation on the
// next check (: "after rotation, the local prekey_published flag
// is cleared").
func (p *RotationPolicy) MarkUnpublished() {
	p.prekeyPublished = false
}
