// Package orchestrator ties the secure channel (C4), pairwise ratchet
// (C7), sender-key group engine (C8), key transparency client (C6),
// device-sync channel (C9), and chat envelope (C10) together into the
// blocking, single-threaded, request-response operation surface a
// host application calls: Session, Pairing, Friends/Groups, PreKey
// publication, pairwise/group messaging, media relay, and attachments.
//
// Every operation here is synchronous: it runs on the caller's
// goroutine to completion or to a transport error, matching the
// single-threaded cooperative model the rest of this module assumes.
// Concurrent callers serialize on the channel's own mutex.
package orchestrator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/channel"
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/devicesync"
	"github.com/jaydenbeard/mi-e2ee-core/internal/envelope"
	"github.com/jaydenbeard/mi-e2ee-core/internal/groupratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ktclient"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/transport"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// Config is everything the caller supplies to construct a Client. The
// core never dials its own transport or picks its own auth mode —
// those are narrow external collaborators passed in, per the
// non-goals on configuration ownership. Register/Login perform the
// handshake (legacy or OPAQUE, per AuthMode) over Transport and build
// the secure channel themselves; Transport must not already be wrapped
// in a Channel.
type Config struct {
	Transport       transport.RoundTripper
	AuthMode        channel.AuthMode
	OpaqueClient    channel.OpaqueClient
	Identity        ratchet.IdentityKeyset
	LocalUsername   string
	DeviceID        [16]byte
	IsPrimaryDevice bool
	KTMismatchLimit int
	KTLogSigningPub ed25519.PublicKey

	RotationInterval time.Duration
	CoverTraffic     envelope.CoverTrafficMode
	CoverInterval    time.Duration
	HardwareThreads  int
	RAMBytes         uint64
}

// Client is the one-per-process orchestrator: it owns every piece of
// mutable session state and exposes the full operation surface as
// methods. Nothing outside this package decodes a frame type or
// touches a ratchet session directly.
type Client struct {
	logger *log.Logger

	transport       transport.RoundTripper
	authMode        channel.AuthMode
	opaqueClient    channel.OpaqueClient
	identity        ratchet.IdentityKeyset
	localUsername   string
	deviceID        [16]byte
	isPrimaryDevice bool
	ktLogSigningPub ed25519.PublicKey

	rotationPolicy *ratchet.RotationPolicy

	mu              sync.Mutex
	ch              *channel.Channel
	authenticated   bool
	sessions        map[string]*ratchet.Session
	peerTrust       *ratchet.TrustStore
	groups          *groupratchet.Engine
	kt              *ktclient.Client
	deviceSync      *devicesync.Manager
	pairing         *devicesync.PairingState
	hasPairingState bool
	dedupe          *envelope.Dedupe
	cover           *envelope.CoverTrafficScheduler
	dirtyGroups     map[string]bool

	// Own published pre-key material, kept so a peer's SessionInit
	// referencing it can be answered on first contact. Process-lifetime
	// only; a restart simply republishes a fresh batch.
	ownSignedPreKey   *ratchet.SignedPreKey
	ownKEM            *corecrypto.KEMKeyPair
	ownOneTimePreKeys map[uint32]ratchet.OneTimePreKey

	// peerIdentityPubs caches every peer's Ed25519 identity signing
	// public key the first time its pre-key bundle is fetched, so a
	// later sender-key distribution from that peer can be verified
	// without re-fetching the whole bundle.
	peerIdentityPubs map[string][]byte

	// groupDistMsgIDs maps an outstanding sender-key distribution's
	// envelope id back to the group it was sent for, so an inbound Ack
	// envelope can be matched to the pending distribution it closes.
	groupDistMsgIDs map[envelope.MsgID]string

	// groupCalls holds every group-call media key this device has
	// learned or generated, keyed by "<groupID>|<hex callID>".
	groupCalls map[string]*groupCallKeys
}

// NewClient constructs a Client bound to a dialed but not-yet
// authenticated transport. No handshake runs until Register or Login
// is called.
func NewClient(cfg Config) *Client {
	opaque := cfg.OpaqueClient
	if opaque == nil {
		opaque = channel.NewOpaqueClient()
	}
	return &Client{
		logger:          log.New(os.Stderr, "[orchestrator] ", log.Ldate|log.Ltime|log.LUTC),
		transport:       cfg.Transport,
		authMode:        cfg.AuthMode,
		opaqueClient:    opaque,
		identity:        cfg.Identity,
		localUsername:   cfg.LocalUsername,
		deviceID:        cfg.DeviceID,
		isPrimaryDevice: cfg.IsPrimaryDevice,
		ktLogSigningPub: cfg.KTLogSigningPub,
		rotationPolicy:  ratchet.NewRotationPolicy(cfg.RotationInterval),
		sessions:        make(map[string]*ratchet.Session),
		peerTrust:       ratchet.NewTrustStore(),
		groups:          groupratchet.NewEngine(),
		kt:              ktclient.NewClient(cfg.KTMismatchLimit),
		deviceSync:      devicesync.NewManager(),
		dedupe:            envelope.NewDedupe(envelope.DedupeCap),
		cover:             envelope.NewCoverTrafficScheduler(cfg.CoverTraffic, cfg.CoverInterval, cfg.HardwareThreads, cfg.RAMBytes),
		ownOneTimePreKeys: make(map[uint32]ratchet.OneTimePreKey),
		peerIdentityPubs:  make(map[string][]byte),
		groupDistMsgIDs:   make(map[envelope.MsgID]string),
		groupCalls:        make(map[string]*groupCallKeys),
	}
}

// requireAuthenticated returns ErrNotAuthenticated without touching
// the network if no session is live.
func (c *Client) requireAuthenticated() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// request performs one request/response round trip over the secure
// channel for a simple server RPC: encode a request payload, send it
// under frameType, and get back the server's raw response payload.
// KindServer is returned if the server answered with an explicit
// error-response frame; KindTransport/KindProtocolInvalid for
// transport and framing failures respectively.
func (c *Client) request(ctx context.Context, frameType wire.FrameType, payload []byte) ([]byte, error) {
	respType, respPayload, err := c.ch.Send(ctx, frameType, payload)
	if err != nil {
		return nil, newErr(KindTransport, "round trip failed", err)
	}
	if respType == wire.FrameTypeErrorResponse {
		return nil, newErr(KindServer, decodeServerErrorString(respPayload), nil)
	}
	return respPayload, nil
}

func decodeServerErrorString(payload []byte) string {
	r := wire.NewReader(payload)
	s, err := r.String()
	if err != nil {
		return "server error"
	}
	return s
}

func encodeServerErrorString(msg string) []byte {
	w := wire.NewWriter(len(msg) + 2)
	w.PutString(msg)
	return w.Bytes()
}

// peerSessionLocked finds or reports the absence of a pairwise ratchet
// session for peer. Callers hold c.mu.
func (c *Client) peerSessionLocked(peer string) (*ratchet.Session, bool) {
	s, ok := c.sessions[peer]
	return s, ok
}

func validateNonEmpty(field, value string) error {
	if value == "" {
		return newErr(KindInvalidInput, fmt.Sprintf("%s must not be empty", field), nil)
	}
	return nil
}
