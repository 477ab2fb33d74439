package envelope

import (
	"time"

	"golang.org/x/time/rate"
)

// LowEndThresholdThreads and LowEndThresholdRAMBytes are the "auto"
// cover-traffic thresholds from : devices at or below either are
// treated as low-end and get cover traffic disabled automatically.
const (
	LowEndThresholdThreads  = 4
	LowEndThresholdRAMBytes = 4 * 1024 * 1024 * 1024
)

// CoverTrafficMode selects whether heartbeat cover traffic is emitted.
type CoverTrafficMode uint8

const (
	// CoverTrafficOff never emits heartbeats.
	CoverTrafficOff CoverTrafficMode = iota
	// CoverTrafficOn always emits heartbeats at the configured interval.
	CoverTrafficOn
	// CoverTrafficAuto disables cover traffic on low-end devices and
	// otherwise behaves like CoverTrafficOn.
	CoverTrafficAuto
)

// CoverTrafficScheduler gates a zero-payload heartbeat emission to at
// most once per configured interval, the way a leaky bucket rather than
// a naive "last emitted" timestamp would — `golang.org/x/time/rate`
// does the gating rather than a hand-rolled ticker.
//
// The interval is fixed with no jitter; a future revision may
// randomise it, but this scheduler deliberately does not.
type CoverTrafficScheduler struct {
	mode    CoverTrafficMode
	limiter *rate.Limiter
}

// NewCoverTrafficScheduler builds a scheduler that allows at most one
// heartbeat per interval, with a single-heartbeat burst allowance.
func NewCoverTrafficScheduler(mode CoverTrafficMode, interval time.Duration, hardwareThreads int, ramBytes uint64) *CoverTrafficScheduler {
	effective := mode
	if mode == CoverTrafficAuto && isLowEndDevice(hardwareThreads, ramBytes) {
		effective = CoverTrafficOff
	}
	return &CoverTrafficScheduler{
		mode:    effective,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func isLowEndDevice(hardwareThreads int, ramBytes uint64) bool {
	return hardwareThreads <= LowEndThresholdThreads || ramBytes <= LowEndThresholdRAMBytes
}

// ShouldEmit reports whether a heartbeat should be emitted right now,
// consuming one token from the limiter if so. Called once per PollChat
// sweep.
func (s *CoverTrafficScheduler) ShouldEmit(now time.Time) bool {
	if s.mode == CoverTrafficOff {
		return false
	}
	return s.limiter.AllowN(now, 1)
}

// Heartbeat builds the zero-payload, padded heartbeat envelope emitted
// as cover traffic.
func Heartbeat(id MsgID) ([]byte, error) {
	padded, err := Pad(Encode(Envelope{MsgID: id, Body: Presence{Online: true}}))
	if err != nil {
		return nil, err
	}
	return padded, nil
}
