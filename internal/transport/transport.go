// Package transport implements the three interchangeable ways a
// session channel can reach the relay (C3): a TCP stream with an
// optional SOCKS5 hop, a TLS 1.2+ stream with pinned-certificate
// trust-on-first-use, and a reliable-UDP backend with a KCP-style
// cookie handshake. Every backend speaks the same blocking
// request/response contract so internal/channel never needs to know
// which one it is driving.
//
// A backend carries already-framed bytes (internal/wire frame headers
// plus the session-channel's sealed payload) — it never interprets
// them. The only transport-visible structure is the frame header's
// payload_len field, used to delimit one frame on a byte stream.
package transport

import (
	"context"
	"errors"
	"time"
)

// Kind identifies which backend produced a RoundTripper, since the
// secure-channel key derivation binds a byte tag for the transport
// kind into its HKDF info string.
type Kind uint8

const (
	KindTCP Kind = iota + 1
	KindTLSPinned
	KindKCP
)

var (
	// ErrTransport covers DNS, connect, send, recv, and timeout
	// failures; the persistent stream is discarded and the caller may
	// retry with a fresh RoundTripper.
	ErrTransport = errors.New("transport: connection failed")
	// ErrProtocolInvalid is returned when a peer sends framing that
	// cannot be a valid response (bad magic, absurd length).
	ErrProtocolInvalid = errors.New("transport: invalid framing")
	// ErrClosed names use of a closed RoundTripper. The backends in
	// this package do not return it: RoundTrip after Close redials.
	ErrClosed = errors.New("transport: closed")
)

// DefaultTimeout is the 30s read/write round-trip timeout for TCP and
// TLS backends.
const DefaultTimeout = 30 * time.Second

// RoundTripper performs one blocking request/response exchange against
// the relay over a persistent connection. Exactly one RoundTrip may be
// in flight at a time per RoundTripper; callers serialize with their
// own mutex (the secure channel already does).
type RoundTripper interface {
	// RoundTrip sends request and returns the single response frame's
	// raw bytes. A transport error discards the underlying connection;
	// the next call will attempt to reopen it.
	RoundTrip(ctx context.Context, request []byte) (response []byte, err error)

	// Kind reports which backend this is, for key-derivation binding.
	Kind() Kind

	// Close releases the underlying connection.
	Close() error
}
