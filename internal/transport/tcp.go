package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// SOCKS5Config configures an optional SOCKS5 hop ahead of the TCP
// connection to the relay. Auth is nil for the no-auth method.
type SOCKS5Config struct {
	Address string
	Auth    *proxy.Auth
}

// TCPTransport is a blocking, length-framed round trip over a single
// persistent TCP socket per endpoint, optionally dialed through a
// SOCKS5 proxy. On any transport error the stream is discarded; the
// next RoundTrip reopens it.
type TCPTransport struct {
	addr    string
	socks   *SOCKS5Config
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport returns a TCPTransport that dials addr lazily on the
// first RoundTrip. Pass a non-nil socks to route the connection
// through a SOCKS5 proxy first.
func NewTCPTransport(addr string, socks *SOCKS5Config) *TCPTransport {
	return &TCPTransport{addr: addr, socks: socks, timeout: DefaultTimeout}
}

func (t *TCPTransport) Kind() Kind { return KindTCP }

func (t *TCPTransport) dial(ctx context.Context) (net.Conn, error) {
	if t.socks != nil {
		dialer, err := proxy.SOCKS5("tcp", t.socks.Address, t.socks.Auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("%w: socks5 dialer: %v", ErrTransport, err)
		}
		conn, err := dialer.Dial("tcp", t.addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return conn, nil
	}

	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return conn, nil
}

func (t *TCPTransport) ensureConn(ctx context.Context) (net.Conn, error) {
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
// one frame's worth of bytes, using the frame header's payload_len
// field to know where the response ends.
func (t *TCPTransport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
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

// discard drops the current connection without closing the
// TCPTransport itself, so the next RoundTrip call reopens it.
func (t *TCPTransport) discard() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discard()
	return nil
}
