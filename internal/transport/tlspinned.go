package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/security"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

var (
	// ErrPinMismatch is a TrustViolation: the leaf certificate's
	// fingerprint does not match the pinned value.
	ErrPinMismatch = errors.New("transport: certificate fingerprint does not match pinned value")
	// ErrSASNotConfirmed is returned when first-contact trust-on-first-use
	// is refused by the caller-supplied confirmer.
	ErrSASNotConfirmed = errors.New("transport: SAS not confirmed, refusing to pin new certificate")
	// ErrPlaintextFallbackRefused names use of a TLS-required host
	// without TLS; no function in this package returns it (CheckDowngrade
	// returns ErrDowngrade for that case).
	ErrPlaintextFallbackRefused = errors.New("transport: TLS required for this host, plaintext fallback refused")
	// ErrDowngrade is a TrustViolation: the trust store marks a host
	// tls=1 but the runtime selected a non-TLS transport.
	ErrDowngrade = errors.New("transport: downgrade from required TLS detected")
)

// PinStore is the narrow persistence interface the TLS-pinned
// transport needs from the on-disk trust store (internal/store):
// one fingerprint and a tls-required flag per host:port.
type PinStore interface {
	Get(host string) (fingerprintHex string, tlsRequired bool, ok bool)
	Put(host, fingerprintHex string, tlsRequired bool) error
}

// SASConfirmer asks a human to compare a rendered SAS against the
// value shown on the other device and approve or reject pinning.
type SASConfirmer func(sas string) bool

// TLSTransport is a blocking, length-framed round trip over a TLS 1.2+
// stream whose leaf-certificate fingerprint must match a pinned value.
// On first contact for a host with no pin, a SASConfirmer gates
// whether the new fingerprint is pinned at all.
type TLSTransport struct {
	addr      string
	host      string
	store     PinStore
	confirm   SASConfirmer
	tlsConfig *tls.Config
	timeout   time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTLSTransport returns a TLSTransport for host:port addr, pinning
// against store and gating first-contact trust with confirm.
func NewTLSTransport(addr, host string, store PinStore, confirm SASConfirmer) *TLSTransport {
	return &TLSTransport{
		addr:    addr,
		host:    host,
		store:   store,
		confirm: confirm,
		timeout: DefaultTimeout,
	}
}

func (t *TLSTransport) Kind() Kind { return KindTLSPinned }

func (t *TLSTransport) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return ErrPinMismatch
	}
	leafFingerprint := security.FingerprintDER(rawCerts[0])
	leafHex := hex.EncodeToString(leafFingerprint[:])

	pinnedHex, _, ok := t.store.Get(t.host)
	if !ok {
		sas := security.RenderSAS(leafFingerprint)
		if t.confirm == nil || !t.confirm(sas) {
			return ErrSASNotConfirmed
		}
		return t.store.Put(t.host, leafHex, true)
	}

	if !security.ConstantTimeEqual([]byte(pinnedHex), []byte(leafHex)) {
		return ErrPinMismatch
	}
	return nil
}

func (t *TLSTransport) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: t.timeout}
	rawConn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	cfg := &tls.Config{
		ServerName:            t.host,
		MinVersion:            tls.VersionTLS12,
		InsecureSkipVerify:    true, // trust decision is entirely pin-based, not CA-based
		VerifyPeerCertificate: t.verifyPeerCertificate,
	}
	tlsConn := tls.Client(rawConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		if errors.Is(err, ErrPinMismatch) || errors.Is(err, ErrSASNotConfirmed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: tls handshake: %v", ErrTransport, err)
	}
	return tlsConn, nil
}

func (t *TLSTransport) ensureConn(ctx context.Context) (net.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return conn, nil
}

// RoundTrip writes one already-framed request and reads back exactly
// one frame's worth of bytes, as TCPTransport does.
func (t *TLSTransport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(request); err != nil {
		t.discard()
		return nil, fmt.Errorf("%w: write: %v", ErrTransport, err)
	}

	header := make([]byte, wire.FrameHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.discard()
		return nil, fmt.Errorf("%w: read header: %v", ErrTransport, err)
	}
	payloadLen, err := wire.PeekPayloadLen(header)
	if err != nil {
		t.discard()
		return nil, fmt.Errorf("%w: %v", ErrProtocolInvalid, err)
	}

	response := make([]byte, wire.FrameHeaderSize+int(payloadLen))
	copy(response, header)
	if _, err := io.ReadFull(conn, response[wire.FrameHeaderSize:]); err != nil {
		t.discard()
		return nil, fmt.Errorf("%w: read payload: %v", ErrTransport, err)
	}
	return response, nil
}

func (t *TLSTransport) discard() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *TLSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discard()
	return nil
}

// CheckDowngrade refuses a non-TLS transport selection for a host the
// trust store marks tls-required, per the downgrade-detection rule.
func CheckDowngrade(store PinStore, host string, selected Kind) error {
	_, tlsRequired, ok := store.Get(host)
	if ok && tlsRequired && selected != KindTLSPinned {
		return ErrDowngrade
	}
	return nil
}
