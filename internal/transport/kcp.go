package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// kcpPacketSize is the fixed width of every control packet exchanged
// during the cookie handshake: conv(4) cmd(1)=0xFF sub(1) reserved(2)
// cookie(16).
const kcpPacketSize = 24

const kcpCmdControl = 0xFF

const (
	kcpSubHello     = 1
	kcpSubChallenge = 2
	kcpSubResponse  = 3
)

const (
	kcpCmdData = 0x01
	kcpCmdAck  = 0x02
)

var (
	// ErrHandshakeTimeout is returned when the cookie handshake does
	// not complete within the configured timeout.
	ErrHandshakeTimeout = errors.New("transport: kcp handshake timeout")
	// ErrIdleTimeout names an idle KCP session. RoundTrip does not
	// return it: a session idle past the configured timeout is closed
	// and the handshake runs again.
	ErrIdleTimeout = errors.New("transport: kcp idle timeout")
)

// KCPTransport is a reliable datagram backend: a three-message cookie
// handshake defends the server against spoofed initial floods, after
// which each RoundTrip is a stop-and-wait exchange with bounded
// retransmission. It has no congestion control; retransmissions are
// paced only by a fixed-rate limiter. KCP never goes through a
// SOCKS5 proxy and is mutually exclusive with the TLS-pinned backend.
type KCPTransport struct {
	addr           string
	requestTimeout time.Duration
	idleTimeout    time.Duration
	maxRetries     int
	limiter        *rate.Limiter

	mu       sync.Mutex
	conn     net.Conn
	conv     uint32
	seq      uint32
	lastUsed time.Time
}

// NewKCPTransport returns a KCPTransport that performs the cookie
// handshake lazily on the first RoundTrip.
func NewKCPTransport(addr string, requestTimeout, idleTimeout time.Duration) *KCPTransport {
	if requestTimeout <= 0 {
		requestTimeout = DefaultTimeout
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &KCPTransport{
		addr:           addr,
		requestTimeout: requestTimeout,
		idleTimeout:    idleTimeout,
		maxRetries:     5,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

func (t *KCPTransport) Kind() Kind { return KindKCP }

func encodeKCPControl(conv uint32, sub uint8, cookie [16]byte) []byte {
	buf := make([]byte, kcpPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], conv)
	buf[4] = kcpCmdControl
	buf[5] = sub
	// buf[6:8] reserved, left zero
	copy(buf[8:24], cookie[:])
	return buf
}

func decodeKCPControl(buf []byte) (conv uint32, cmd, sub uint8, cookie [16]byte, ok bool) {
	if len(buf) != kcpPacketSize {
		return 0, 0, 0, cookie, false
	}
	conv = binary.LittleEndian.Uint32(buf[0:4])
	cmd = buf[4]
	sub = buf[5]
	copy(cookie[:], buf[8:24])
	return conv, cmd, sub, cookie, true
}

// handshake performs hello → challenge(cookie) → response(cookie),
// defending against spoofed floods by making the server hand back a
// cookie the client must echo before any data packet is accepted.
func (t *KCPTransport) handshake(ctx context.Context, conn net.Conn) (conv uint32, err error) {
	var zeroCookie [16]byte
	hello := encodeKCPControl(0, kcpSubHello, zeroCookie)

	deadline := time.Now().Add(t.requestTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(hello); err != nil {
		return 0, fmt.Errorf("%w: hello: %v", ErrTransport, err)
	}

	challengeBuf := make([]byte, kcpPacketSize)
	n, err := conn.Read(challengeBuf)
	if err != nil {
		return 0, fmt.Errorf("%w: challenge: %v", ErrHandshakeTimeout, err)
	}
	assignedConv, cmd, sub, cookie, ok := decodeKCPControl(challengeBuf[:n])
	if !ok || cmd != kcpCmdControl || sub != kcpSubChallenge {
		return 0, fmt.Errorf("%w: unexpected challenge packet", ErrProtocolInvalid)
	}

	response := encodeKCPControl(assignedConv, kcpSubResponse, cookie)
	if _, err := conn.Write(response); err != nil {
		return 0, fmt.Errorf("%w: response: %v", ErrTransport, err)
	}
	return assignedConv, nil
}

func (t *KCPTransport) ensureSession(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	conn, err := net.Dial("udp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	conv, err := t.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	t.conn = conn
	t.conv = conv
	t.lastUsed = time.Now()
	return nil
}

func encodeKCPData(conv, seq uint32, payload []byte) []byte {
	buf := make([]byte, 9+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], conv)
	buf[4] = kcpCmdData
	binary.LittleEndian.PutUint32(buf[5:9], seq)
	copy(buf[9:], payload)
	return buf
}

func decodeKCPData(buf []byte) (conv, seq uint32, cmd uint8, payload []byte, ok bool) {
	if len(buf) < 9 {
		return 0, 0, 0, nil, false
	}
	conv = binary.LittleEndian.Uint32(buf[0:4])
	cmd = buf[4]
	seq = binary.LittleEndian.Uint32(buf[5:9])
	payload = buf[9:]
	return conv, seq, cmd, payload, true
}

// RoundTrip sends one request as a data packet and waits for the
// matching ack-bearing response, retransmitting on a backoff gated by
// a rate limiter until maxRetries is exhausted.
func (t *KCPTransport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && time.Since(t.lastUsed) > t.idleTimeout {
		_ = t.conn.Close()
		t.conn = nil
	}
	if err := t.ensureSession(ctx); err != nil {
		return nil, err
	}

	t.seq++
	seq := t.seq
	packet := encodeKCPData(t.conv, seq, request)
	recvBuf := make([]byte, 64*1024)

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			_ = t.limiter.Wait(ctx)
		}
		deadline := time.Now().Add(t.requestTimeout / time.Duration(t.maxRetries+1))
		_ = t.conn.SetDeadline(deadline)
		if _, err := t.conn.Write(packet); err != nil {
			t.discard()
			return nil, fmt.Errorf("%w: write: %v", ErrTransport, err)
		}

		n, err := t.conn.Read(recvBuf)
		if err != nil {
			continue // timeout on this attempt, retransmit
		}
		conv, gotSeq, cmd, payload, ok := decodeKCPData(recvBuf[:n])
		if !ok || conv != t.conv || gotSeq != seq || cmd != kcpCmdAck {
			continue // stray or stale packet: counts as a failed attempt and retransmits
		}
		t.lastUsed = time.Now()
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	t.discard()
	return nil, fmt.Errorf("%w: no ack after %d attempts", ErrTransport, t.maxRetries+1)
}

func (t *KCPTransport) discard() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *KCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discard()
	return nil
}

// randomCookie generates a fresh 16-byte handshake cookie. Exposed for
// server-side test doubles that emulate the challenge step.
func randomCookie() ([16]byte, error) {
	var cookie [16]byte
	_, err := rand.Read(cookie[:])
	return cookie, err
}
