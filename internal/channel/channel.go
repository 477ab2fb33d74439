// Package channel establishes the secure channel (C4): a symmetric,
// sequence-numbered AEAD tunnel to the relay that does not trust the
// underlying transport for confidentiality or integrity. A handshake
// (legacy augmented-PAKE or OPAQUE) produces a shared secret; from it,
// HKDF derives per-direction send/receive keys and nonce bases bound
// to the username, the server-issued session token, and the transport
// kind. Every frame after that is sealed with a monotonic per-direction
// counter and wrapped in an outer (session_token, cipher) envelope the
// relay can route without decrypting.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/metrics"
	"github.com/jaydenbeard/mi-e2ee-core/internal/security"
	"github.com/jaydenbeard/mi-e2ee-core/internal/transport"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// AuthMode selects which handshake establishes the channel's shared
// secret. AuthModeLegacy is kept for migration only and is discouraged
// for new deployments.
type AuthMode uint8

const (
	AuthModeOpaque AuthMode = iota + 1
	AuthModeLegacy
)

var (
	// ErrSessionInvalidated is returned once a channel has been wiped
	// after a session-token mismatch; it can never be reused.
	ErrSessionInvalidated = errors.New("channel: session invalidated")
	// ErrReplayOrReorder is returned when an inbound frame's counter is
	// not strictly greater than the last one accepted in that direction.
	ErrReplayOrReorder = errors.New("channel: replay or reordering detected")
	// ErrCounterOverflow is returned on the practically unreachable
	// event that a direction's 64-bit frame counter would wrap.
	ErrCounterOverflow = errors.New("channel: frame counter overflow")
	// ErrTokenMismatch is returned when the server-returned session
	// token does not match the client's.
	ErrTokenMismatch = errors.New("channel: session token mismatch")
	// ErrOpaqueUnavailable is returned by every OPAQUE client-library
	// binding until a real implementation is linked in; the core never
	// fabricates one.
	ErrOpaqueUnavailable = errors.New("channel: opaque client library unavailable")
	// ErrServerProofMismatch is returned when the legacy handshake's
	// server proof fails to verify against the client's transcript.
	ErrServerProofMismatch = errors.New("channel: legacy handshake server proof mismatch")
)

// SessionKeys is the per-direction AEAD key and nonce-base material
// derived from a handshake secret.
type SessionKeys struct {
	SendKey       [32]byte
	RecvKey       [32]byte
	SendNonceBase [24]byte
	RecvNonceBase [24]byte
}

// Channel is one established secure channel: a RoundTripper, the
// derived session keys, the server-issued session token, and the
// monotonic per-direction frame counters.
type Channel struct {
	mu sync.Mutex

	rt    transport.RoundTripper
	keys  SessionKeys
	token []byte

	sendCounter uint64
	recvCounter uint64

	invalidated bool
}

// NewChannel wraps an already-negotiated RoundTripper, session keys,
// and session token into a usable secure channel.
func NewChannel(rt transport.RoundTripper, keys SessionKeys, sessionToken []byte) *Channel {
	return &Channel{rt: rt, keys: keys, token: sessionToken}
}

func frameNonce(base [24]byte, counter uint64) [24]byte {
	var n [24]byte
	copy(n[:], base[:])
	low := n[16:24]
	for i := 0; i < 8; i++ {
		low[i] ^= byte(counter >> (8 * i))
	}
	return n
}

func frameAD(frameType wire.FrameType, counter uint64) []byte {
	w := wire.NewWriter(9)
	w.PutU8(uint8(frameType))
	w.PutU64(counter)
	return w.Bytes()
}

// Send seals payload as a frame of the given type under the next
// send-direction counter and performs one round trip over the
// underlying transport, returning the decrypted response payload and
// its frame type.
func (c *Channel) Send(ctx context.Context, frameType wire.FrameType, payload []byte) (wire.FrameType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invalidated {
		return 0, nil, ErrSessionInvalidated
	}
	if c.sendCounter == ^uint64(0) {
		return 0, nil, ErrCounterOverflow
	}
	c.sendCounter++

	nonce := frameNonce(c.keys.SendNonceBase, c.sendCounter)
	ad := frameAD(frameType, c.sendCounter)
	cipher, err := corecrypto.SealWithNonce(c.keys.SendKey[:], nonce[:], payload, ad)
	if err != nil {
		metrics.ChannelFramesTotal.WithLabelValues("send", "error").Inc()
		return 0, nil, fmt.Errorf("channel: seal frame: %w", err)
	}
	metrics.ChannelFramesTotal.WithLabelValues("send", "ok").Inc()

	envelope := wire.NewWriter(4 + len(c.token) + 8 + len(cipher))
	envelope.PutBytes(c.token)
	envelope.PutU64(c.sendCounter)
	envelope.PutRaw(cipher)

	reqBytes := wire.EncodeFrame(wire.Frame{Type: frameType, Payload: envelope.Bytes()})
	respBytes, err := c.rt.RoundTrip(ctx, reqBytes)
	if err != nil {
		return 0, nil, fmt.Errorf("channel: round trip: %w", err)
	}

	respFrame, err := wire.DecodeFrame(respBytes)
	if err != nil {
		return 0, nil, fmt.Errorf("channel: decode response frame: %w", err)
	}

	respType, plaintext, err := c.openLocked(respFrame)
	if err != nil {
		return 0, nil, err
	}
	return respType, plaintext, nil
}

// OpenInbound decodes and authenticates a frame the relay delivered
// out-of-band (not as a direct Send response, e.g. a server push),
// enforcing the same strictly-increasing receive counter.
func (c *Channel) OpenInbound(raw []byte) (wire.FrameType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invalidated {
		return 0, nil, ErrSessionInvalidated
	}

	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("channel: decode inbound frame: %w", err)
	}
	return c.openLocked(frame)
}

// openLocked authenticates and decrypts one inbound frame, enforcing
// the token match and the strictly-increasing receive counter. Callers
// hold c.mu.
func (c *Channel) openLocked(frame wire.Frame) (wire.FrameType, []byte, error) {
	reader := wire.NewReader(frame.Payload)
	token, err := reader.Bytes()
	if err != nil {
		return 0, nil, fmt.Errorf("channel: decode inbound token: %w", err)
	}
	if !security.ConstantTimeEqual(token, c.token) {
		c.wipeLocked()
		return 0, nil, ErrTokenMismatch
	}
	counter, err := reader.U64()
	if err != nil {
		return 0, nil, fmt.Errorf("channel: decode inbound counter: %w", err)
	}
	if counter <= c.recvCounter {
		metrics.ChannelFramesTotal.WithLabelValues("recv", "replay").Inc()
		return 0, nil, ErrReplayOrReorder
	}

	nonce := frameNonce(c.keys.RecvNonceBase, counter)
	ad := frameAD(frame.Type, counter)
	plaintext, err := corecrypto.OpenWithNonce(c.keys.RecvKey[:], nonce[:], reader.Rest(), ad)
	if err != nil {
		metrics.ChannelFramesTotal.WithLabelValues("recv", "error").Inc()
		return 0, nil, fmt.Errorf("channel: open inbound frame: %w", err)
	}
	metrics.ChannelFramesTotal.WithLabelValues("recv", "ok").Inc()
	c.recvCounter = counter
	return frame.Type, plaintext, nil
}

func (c *Channel) wipeLocked() {
	corecrypto.Zero(c.keys.SendKey[:])
	corecrypto.Zero(c.keys.RecvKey[:])
	c.invalidated = true
}

// Close wipes the channel's keys and closes the underlying transport.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked()
	return c.rt.Close()
}
