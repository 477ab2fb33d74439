package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

func testFrame(t *testing.T, tag byte) []byte {
	t.Helper()
	return wire.EncodeFrame(wire.Frame{
		Type:    wire.FrameTypeHeartbeat,
		Payload: []byte{tag, tag, tag},
	})
}

// echoTCPServer accepts exactly one connection and echoes back one
// frame per frame it reads, until the connection closes.
func echoTCPServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			header := make([]byte, wire.FrameHeaderSize)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			payloadLen, err := wire.PeekPayloadLen(header)
			if err != nil {
				return
			}
			payload := make([]byte, payloadLen)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			full := append(header, payload...)
			if _, err := conn.Write(full); err != nil {
				return
			}
		}
	}()
}

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	echoTCPServer(t, ln)

	tr := NewTCPTransport(ln.Addr().String(), nil)
	defer tr.Close()

	req := testFrame(t, 0x42)
	resp, err := tr.RoundTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if string(resp) != string(req) {
		t.Fatalf("echoed frame mismatch")
	}

	// A second round trip reuses the persistent connection.
	req2 := testFrame(t, 0x43)
	resp2, err := tr.RoundTrip(context.Background(), req2)
	if err != nil {
		t.Fatalf("second round trip: %v", err)
	}
	if string(resp2) != string(req2) {
		t.Fatalf("second echoed frame mismatch")
	}
}

func TestTCPTransportDiscardsConnOnError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close() // immediately close, forcing a read error
	}()

	tr := NewTCPTransport(ln.Addr().String(), nil)
	tr.timeout = 2 * time.Second
	defer tr.Close()

	_, err = tr.RoundTrip(context.Background(), testFrame(t, 0x01))
	if err == nil {
		t.Fatalf("expected error from a server that closes immediately")
	}
	if tr.conn != nil {
		t.Fatalf("expected connection to be discarded after error")
	}
}

func selfSignedCert(t *testing.T, host string) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{host},
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, leaf
}

func echoTLSServer(t *testing.T, cert tls.Certificate) net.Listener {
	t.Helper()
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			header := make([]byte, wire.FrameHeaderSize)
			if _, err := io.ReadFull(conn, header); err != nil {
				return
			}
			payloadLen, err := wire.PeekPayloadLen(header)
			if err != nil {
				return
			}
			payload := make([]byte, payloadLen)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			full := append(header, payload...)
			if _, err := conn.Write(full); err != nil {
				return
			}
		}
	}()
	return ln
}

type memPinStore struct {
	fingerprint map[string]string
	tlsRequired map[string]bool
}

func newMemPinStore() *memPinStore {
	return &memPinStore{fingerprint: map[string]string{}, tlsRequired: map[string]bool{}}
}

func (s *memPinStore) Get(host string) (string, bool, bool) {
	fp, ok := s.fingerprint[host]
	return fp, s.tlsRequired[host], ok
}

func (s *memPinStore) Put(host, fingerprintHex string, tlsRequired bool) error {
	s.fingerprint[host] = fingerprintHex
	s.tlsRequired[host] = tlsRequired
	return nil
}

func TestTLSTransportFirstContactPinsOnConfirm(t *testing.T) {
	cert, _ := selfSignedCert(t, "relay.test")
	ln := echoTLSServer(t, cert)
	defer ln.Close()

	store := newMemPinStore()
	confirmed := false
	tr := NewTLSTransport(ln.Addr().String(), "relay.test", store, func(sas string) bool {
		confirmed = true
		return true
	})
	defer tr.Close()

	req := testFrame(t, 0x10)
	resp, err := tr.RoundTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if string(resp) != string(req) {
		t.Fatalf("echoed frame mismatch")
	}
	if !confirmed {
		t.Fatalf("expected SAS confirmer to be consulted on first contact")
	}
	if _, _, ok := store.Get("relay.test"); !ok {
		t.Fatalf("expected pin to be stored after confirmation")
	}
}

func TestTLSTransportFirstContactRefusedWithoutConfirm(t *testing.T) {
	cert, _ := selfSignedCert(t, "relay.test")
	ln := echoTLSServer(t, cert)
	defer ln.Close()

	store := newMemPinStore()
	tr := NewTLSTransport(ln.Addr().String(), "relay.test", store, func(sas string) bool {
		return false
	})
	defer tr.Close()

	_, err := tr.RoundTrip(context.Background(), testFrame(t, 0x11))
	if err == nil {
		t.Fatalf("expected error when SAS confirmer refuses")
	}
}

func TestTLSTransportRejectsMismatchedPin(t *testing.T) {
	cert, leaf := selfSignedCert(t, "relay.test")
	ln := echoTLSServer(t, cert)
	defer ln.Close()

	store := newMemPinStore()
	_ = leaf
	store.fingerprint["relay.test"] = "0000000000000000000000000000000000000000000000000000000000000000"
	store.tlsRequired["relay.test"] = true

	tr := NewTLSTransport(ln.Addr().String(), "relay.test", store, func(string) bool { return true })
	defer tr.Close()

	_, err := tr.RoundTrip(context.Background(), testFrame(t, 0x12))
	if err == nil {
		t.Fatalf("expected pin mismatch error")
	}
}

func TestCheckDowngradeRejectsNonTLSWhenRequired(t *testing.T) {
	store := newMemPinStore()
	store.fingerprint["relay.test"] = "abcd"
	store.tlsRequired["relay.test"] = true

	if err := CheckDowngrade(store, "relay.test", KindTCP); err == nil {
		t.Fatalf("expected downgrade error when TLS is required but TCP selected")
	}
	if err := CheckDowngrade(store, "relay.test", KindTLSPinned); err != nil {
		t.Fatalf("expected no error when the TLS-pinned backend is selected: %v", err)
	}
}

func TestCheckDowngradeAllowsUnknownHost(t *testing.T) {
	store := newMemPinStore()
	if err := CheckDowngrade(store, "unknown.test", KindTCP); err != nil {
		t.Fatalf("expected no error for a host with no stored pin: %v", err)
	}
}

func TestKCPControlPacketRoundTrip(t *testing.T) {
	cookie, err := randomCookie()
	if err != nil {
		t.Fatalf("random cookie: %v", err)
	}
	packet := encodeKCPControl(7, kcpSubChallenge, cookie)
	if len(packet) != kcpPacketSize {
		t.Fatalf("expected %d byte packet, got %d", kcpPacketSize, len(packet))
	}
	conv, cmd, sub, gotCookie, ok := decodeKCPControl(packet)
	if !ok {
		t.Fatalf("expected control packet to decode")
	}
	if conv != 7 || cmd != kcpCmdControl || sub != kcpSubChallenge || gotCookie != cookie {
		t.Fatalf("decoded control packet mismatch: conv=%d cmd=%d sub=%d", conv, cmd, sub)
	}
}

func TestKCPDataPacketRoundTrip(t *testing.T) {
	payload := []byte("hello relay")
	packet := encodeKCPData(9, 42, payload)
	conv, seq, cmd, got, ok := decodeKCPData(packet)
	if !ok {
		t.Fatalf("expected data packet to decode")
	}
	if conv != 9 || seq != 42 || cmd != kcpCmdData || string(got) != string(payload) {
		t.Fatalf("decoded data packet mismatch")
	}
}

// fakeKCPServer performs the three-message cookie handshake then
// echoes every subsequent data packet back with an ack command byte.
func fakeKCPServer(t *testing.T, conn *net.UDPConn) {
	t.Helper()
	go func() {
		buf := make([]byte, 64*1024)
		var clientAddr *net.UDPAddr
		var assignedConv uint32 = 99
		handshakeDone := false
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			clientAddr = addr
			if !handshakeDone {
				_, cmd, sub, _, ok := decodeKCPControl(buf[:n])
				if ok && cmd == kcpCmdControl && sub == kcpSubHello {
					cookie, _ := randomCookie()
					challenge := encodeKCPControl(assignedConv, kcpSubChallenge, cookie)
					_, _ = conn.WriteToUDP(challenge, clientAddr)
					continue
				}
				if ok && cmd == kcpCmdControl && sub == kcpSubResponse {
					handshakeDone = true
					continue
				}
				continue
			}
			convGot, seq, cmd, payload, ok := decodeKCPData(buf[:n])
			if !ok || cmd != kcpCmdData || convGot != assignedConv {
				continue
			}
			ack := make([]byte, 9)
			ack[0], ack[1], ack[2], ack[3] = byte(convGot), byte(convGot>>8), byte(convGot>>16), byte(convGot>>24)
			ack[4] = kcpCmdAck
			ack[5], ack[6], ack[7], ack[8] = byte(seq), byte(seq>>8), byte(seq>>16), byte(seq>>24)
			ack = append(ack, payload...)
			_, _ = conn.WriteToUDP(ack, clientAddr)
		}
	}()
}

func TestKCPTransportHandshakeAndRoundTrip(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer udpConn.Close()
	fakeKCPServer(t, udpConn)

	tr := NewKCPTransport(udpConn.LocalAddr().String(), 3*time.Second, time.Minute)
	defer tr.Close()

	req := []byte("ping")
	resp, err := tr.RoundTrip(context.Background(), req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if string(resp) != string(req) {
		t.Fatalf("expected echoed payload, got %q", resp)
	}
}
