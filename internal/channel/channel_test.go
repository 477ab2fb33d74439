package channel

import (
	"context"
	"testing"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/transport"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

func TestDeriveSessionKeysBindsContext(t *testing.T) {
	secret := []byte("a shared handshake secret of some length")
	token := []byte("session-token-1")

	k1, err := DeriveSessionKeys(secret, "alice", token, transport.KindTCP)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveSessionKeys(secret, "bob", token, transport.KindTCP)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1.SendKey == k2.SendKey {
		t.Fatalf("expected different usernames to derive different keys")
	}

	k3, err := DeriveSessionKeys(secret, "alice", token, transport.KindTLSPinned)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1.SendKey == k3.SendKey {
		t.Fatalf("expected different transport kinds to derive different keys")
	}

	k4, err := DeriveSessionKeys(secret, "alice", token, transport.KindTCP)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1 != k4 {
		t.Fatalf("expected identical inputs to derive identical keys")
	}
}

// fakeLegacyServer simulates the server half of the legacy handshake entirely
// within the test, using the same corecrypto primitives the client
// uses, so FinishLegacyHandshake has a real transcript to verify.
func fakeLegacyServer(t *testing.T, password string, hello LegacyClientHello) (LegacyServerParams, [32]byte) {
	t.Helper()

	salt := make([]byte, 16)
	if err := corecrypto.RandomFill(salt); err != nil {
		t.Fatalf("salt: %v", err)
	}
	argonParams := corecrypto.DefaultArgon2Params()

	var serverNonce [32]byte
	if err := corecrypto.RandomFill(serverNonce[:]); err != nil {
		t.Fatalf("server nonce: %v", err)
	}
	serverDH, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("server dh: %v", err)
	}

	clientKEMPub, err := corecrypto.UnmarshalKEMPublicKey(hello.ClientKEMPub)
	if err != nil {
		t.Fatalf("unmarshal client kem pub: %v", err)
	}
	kemCiphertext, kemShared, err := corecrypto.KEMEncapsulate(clientKEMPub)
	if err != nil {
		t.Fatalf("kem encapsulate: %v", err)
	}

	params := LegacyServerParams{
		Salt:          salt,
		Argon2:        argonParams,
		ServerNonce:   serverNonce,
		ServerDHPub:   serverDH.Public,
		KEMCiphertext: kemCiphertext,
	}

	handshakeKey, err := corecrypto.DeriveKey(password, salt, argonParams)
	if err != nil {
		t.Fatalf("server derive key: %v", err)
	}
	dhShared, err := corecrypto.DH(serverDH.Private, hello.ClientDHPub)
	if err != nil {
		t.Fatalf("server dh: %v", err)
	}
	transcript := legacyTranscript(hello, params, dhShared, kemShared)
	serverProof := corecrypto.HMACSHA256(handshakeKey, []byte(infoLegacyServerProof), transcript[:])

	return params, serverProof
}

func TestLegacyHandshakeRoundTrip(t *testing.T) {
	const password = "correct horse battery staple"

	hello, state, err := BeginLegacyHandshake()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	params, serverProof := fakeLegacyServer(t, password, hello)

	secret, clientProof, err := FinishLegacyHandshake(password, hello, state, params, serverProof)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if secret == ([32]byte{}) {
		t.Fatalf("expected non-zero shared secret")
	}
	if clientProof == ([32]byte{}) {
		t.Fatalf("expected non-zero client proof")
	}
}

func TestLegacyHandshakeRejectsBadServerProof(t *testing.T) {
	const password = "correct horse battery staple"

	hello, state, err := BeginLegacyHandshake()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	params, _ := fakeLegacyServer(t, password, hello)

	var forgedProof [32]byte
	_, _, err = FinishLegacyHandshake(password, hello, state, params, forgedProof)
	if err != ErrServerProofMismatch {
		t.Fatalf("expected ErrServerProofMismatch, got %v", err)
	}
}

func TestLegacyHandshakeRejectsWrongPassword(t *testing.T) {
	hello, state, err := BeginLegacyHandshake()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	params, serverProof := fakeLegacyServer(t, "right-password", hello)

	_, _, err = FinishLegacyHandshake("wrong-password", hello, state, params, serverProof)
	if err != ErrServerProofMismatch {
		t.Fatalf("expected ErrServerProofMismatch for a wrong password, got %v", err)
	}
}

func TestOpaqueClientFailsClosedByDefault(t *testing.T) {
	client := NewOpaqueClient()
	if _, _, err := client.LoginStart([]byte("hunter2")); err != ErrOpaqueUnavailable {
		t.Fatalf("expected ErrOpaqueUnavailable from LoginStart, got %v", err)
	}
	if _, _, err := client.LoginFinish("alice", []byte("hunter2"), nil, nil); err != ErrOpaqueUnavailable {
		t.Fatalf("expected ErrOpaqueUnavailable from LoginFinish, got %v", err)
	}
}

// loopbackTransport simulates the far end of the channel: it decrypts
// whatever the Channel under test sends, using the swapped key/nonce
// roles a real peer would use, and seals back a canned reply.
type loopbackTransport struct {
	peerKeys SessionKeys
	token    []byte
	// peerRecvCounter tracks the counter this loopback has accepted
	// from the client (mirrors the client's sendCounter).
	peerRecvCounter uint64
	peerSendCounter uint64
}

func newLoopbackTransport(keys SessionKeys, token []byte) *loopbackTransport {
	return &loopbackTransport{
		// A peer's send key is our recv key and vice versa.
		peerKeys: SessionKeys{
			SendKey:       keys.RecvKey,
			RecvKey:       keys.SendKey,
			SendNonceBase: keys.RecvNonceBase,
			RecvNonceBase: keys.SendNonceBase,
		},
		token: token,
	}
}

func (l *loopbackTransport) Kind() transport.Kind { return transport.KindTCP }
func (l *loopbackTransport) Close() error         { return nil }

func (l *loopbackTransport) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	frame, err := wire.DecodeFrame(request)
	if err != nil {
		return nil, err
	}
	reader := wire.NewReader(frame.Payload)
	_, err = reader.Bytes() // token, unchecked for this test double
	if err != nil {
		return nil, err
	}
	counter, err := reader.U64()
	if err != nil {
		return nil, err
	}
	l.peerRecvCounter = counter
	nonce := frameNonce(l.peerKeys.RecvNonceBase, counter)
	ad := frameAD(frame.Type, counter)
	plaintext, err := corecrypto.OpenWithNonce(l.peerKeys.RecvKey[:], nonce[:], reader.Rest(), ad)
	if err != nil {
		return nil, err
	}

	reply := append([]byte("echo:"), plaintext...)
	l.peerSendCounter++
	replyNonce := frameNonce(l.peerKeys.SendNonceBase, l.peerSendCounter)
	replyAD := frameAD(wire.FrameTypeHeartbeat, l.peerSendCounter)
	cipher, err := corecrypto.SealWithNonce(l.peerKeys.SendKey[:], replyNonce[:], reply, replyAD)
	if err != nil {
		return nil, err
	}

	envelope := wire.NewWriter(4 + len(l.token) + 8 + len(cipher))
	envelope.PutBytes(l.token)
	envelope.PutU64(l.peerSendCounter)
	envelope.PutRaw(cipher)
	return wire.EncodeFrame(wire.Frame{Type: wire.FrameTypeHeartbeat, Payload: envelope.Bytes()}), nil
}

func testSessionKeys(t *testing.T) SessionKeys {
	t.Helper()
	keys, err := DeriveSessionKeys([]byte("shared secret"), "alice", []byte("tok-1"), transport.KindTCP)
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}
	return keys
}

func TestChannelSendRoundTrip(t *testing.T) {
	keys := testSessionKeys(t)
	token := []byte("tok-1")
	lb := newLoopbackTransport(keys, token)
	ch := NewChannel(lb, keys, token)

	respType, resp, err := ch.Send(context.Background(), wire.FrameTypeHeartbeat, []byte("ping"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if respType != wire.FrameTypeHeartbeat {
		t.Fatalf("unexpected response frame type %v", respType)
	}
	if string(resp) != "echo:ping" {
		t.Fatalf("unexpected response payload %q", resp)
	}

	// A second send must use a fresh, strictly-greater counter and
	// still succeed.
	_, resp2, err := ch.Send(context.Background(), wire.FrameTypeHeartbeat, []byte("ping2"))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if string(resp2) != "echo:ping2" {
		t.Fatalf("unexpected second response payload %q", resp2)
	}
}

func TestChannelOpenInboundRejectsReplay(t *testing.T) {
	keys := testSessionKeys(t)
	token := []byte("tok-1")
	lb := newLoopbackTransport(keys, token)
	ch := NewChannel(lb, keys, token)

	peerKey := lb.peerKeys.SendKey
	peerNonceBase := lb.peerKeys.SendNonceBase

	sealFrame := func(counter uint64, payload []byte) []byte {
		nonce := frameNonce(peerNonceBase, counter)
		ad := frameAD(wire.FrameTypeHeartbeat, counter)
		cipher, err := corecrypto.SealWithNonce(peerKey[:], nonce[:], payload, ad)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		envelope := wire.NewWriter(4 + len(token) + 8 + len(cipher))
		envelope.PutBytes(token)
		envelope.PutU64(counter)
		envelope.PutRaw(cipher)
		return wire.EncodeFrame(wire.Frame{Type: wire.FrameTypeHeartbeat, Payload: envelope.Bytes()})
	}

	first := sealFrame(1, []byte("push-1"))
	_, payload, err := ch.OpenInbound(first)
	if err != nil {
		t.Fatalf("first inbound: %v", err)
	}
	if string(payload) != "push-1" {
		t.Fatalf("unexpected payload %q", payload)
	}

	// Replaying the same frame must be rejected.
	if _, _, err := ch.OpenInbound(first); err != ErrReplayOrReorder {
		t.Fatalf("expected ErrReplayOrReorder on replay, got %v", err)
	}

	// An out-of-order frame (counter 1 again, freshly sealed) is still
	// rejected because it is not strictly greater than the last one.
	stale := sealFrame(1, []byte("push-1-again"))
	if _, _, err := ch.OpenInbound(stale); err != ErrReplayOrReorder {
		t.Fatalf("expected ErrReplayOrReorder on stale counter, got %v", err)
	}

	second := sealFrame(2, []byte("push-2"))
	if _, payload, err := ch.OpenInbound(second); err != nil || string(payload) != "push-2" {
		t.Fatalf("expected push-2 to succeed, got %q err=%v", payload, err)
	}
}

func TestChannelInvalidatesOnTokenMismatch(t *testing.T) {
	keys := testSessionKeys(t)
	token := []byte("tok-1")
	lb := newLoopbackTransport(keys, []byte("wrong-token"))
	ch := NewChannel(lb, keys, token)

	_, _, err := ch.Send(context.Background(), wire.FrameTypeHeartbeat, []byte("ping"))
	if err != ErrTokenMismatch {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}

	_, _, err = ch.Send(context.Background(), wire.FrameTypeHeartbeat, []byte("ping-again"))
	if err != ErrSessionInvalidated {
		t.Fatalf("expected ErrSessionInvalidated after a prior token mismatch, got %v", err)
	}
}
