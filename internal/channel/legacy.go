package channel

import (
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/metrics"
	"github.com/jaydenbeard/mi-e2ee-core/internal/security"
)

const (
	infoLegacyServerProof = "mi_e2ee_legacy_server_proof_v1"
	infoLegacyClientProof = "mi_e2ee_legacy_client_proof_v1"
	infoLegacySession     = "mi_e2ee_legacy_session_v1"
)

// LegacyClientHello is the client's first legacy-handshake message: a
// fresh nonce, an ephemeral DH public, and an ephemeral KEM public the
// server encapsulates against.
type LegacyClientHello struct {
	ClientNonce  [32]byte
	ClientDHPub  [32]byte
	ClientKEMPub []byte
}

// LegacyClientState is the client's private ephemeral material from
// BeginLegacyHandshake, consumed by FinishLegacyHandshake.
type LegacyClientState struct {
	dh  corecrypto.DHKeyPair
	kem corecrypto.KEMKeyPair
}

// LegacyServerParams is everything the server issues in response to a
// LegacyClientHello: the Argon2id salt and cost parameters for the
// password, the server's own nonce and DH public, and a KEM ciphertext
// encapsulated against the client's KEM public.
type LegacyServerParams struct {
	Salt          []byte
	Argon2        corecrypto.Argon2Params
	ServerNonce   [32]byte
	ServerDHPub   [32]byte
	KEMCiphertext []byte
}

// BeginLegacyHandshake generates the client's ephemeral DH and KEM key
// pairs and the hello message carrying their public halves.
func BeginLegacyHandshake() (LegacyClientHello, *LegacyClientState, error) {
	var nonce [32]byte
	if err := corecrypto.RandomFill(nonce[:]); err != nil {
		return LegacyClientHello{}, nil, fmt.Errorf("channel: legacy client nonce: %w", err)
	}
	dh, err := corecrypto.GenerateDHKeyPair()
	if err != nil {
		return LegacyClientHello{}, nil, fmt.Errorf("channel: legacy client dh: %w", err)
	}
	kem, err := corecrypto.GenerateKEMKeyPair()
	if err != nil {
		return LegacyClientHello{}, nil, fmt.Errorf("channel: legacy client kem: %w", err)
	}
	kemPubRaw, err := kem.Public.MarshalBinary()
	if err != nil {
		return LegacyClientHello{}, nil, fmt.Errorf("channel: marshal legacy kem public: %w", err)
	}

	hello := LegacyClientHello{ClientNonce: nonce, ClientDHPub: dh.Public, ClientKEMPub: kemPubRaw}
	return hello, &LegacyClientState{dh: dh, kem: kem}, nil
}

// legacyTranscript hashes together both nonces, both DH publics, the
// DH shared secret, and the KEM shared secret — everything the server
// proof and client proof must be bound to.
func legacyTranscript(hello LegacyClientHello, params LegacyServerParams, dhShared [32]byte, kemShared []byte) [32]byte {
	return corecrypto.SHA256(
		hello.ClientNonce[:], hello.ClientDHPub[:],
		params.ServerNonce[:], params.ServerDHPub[:],
		dhShared[:], kemShared,
	)
}

// FinishLegacyHandshake derives the Argon2id handshake key from the
// password and the server-issued cost parameters, mixes it with the
// DH and KEM transcript, verifies the server's proof in constant time,
// and returns the shared secret plus the client's own proof to send
// back.
func FinishLegacyHandshake(password string, hello LegacyClientHello, state *LegacyClientState, params LegacyServerParams, serverProof [32]byte) (secret [32]byte, clientProof [32]byte, err error) {
	handshakeKey, err := corecrypto.DeriveKey(password, params.Salt, params.Argon2)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("channel: legacy argon2id derive: %w", err)
	}
	defer corecrypto.Zero(handshakeKey)

	dhShared, err := corecrypto.DH(state.dh.Private, params.ServerDHPub)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("channel: legacy dh: %w", err)
	}
	kemShared, err := corecrypto.KEMDecapsulate(&state.kem.Private, params.KEMCiphertext)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("channel: legacy kem decapsulate: %w", err)
	}
	defer corecrypto.Zero(kemShared)

	transcript := legacyTranscript(hello, params, dhShared, kemShared)

	expectedServerProof := corecrypto.HMACSHA256(handshakeKey, []byte(infoLegacyServerProof), transcript[:])
	if !security.ConstantTimeEqual(expectedServerProof[:], serverProof[:]) {
		metrics.ChannelHandshakesTotal.WithLabelValues("legacy", "error").Inc()
		return [32]byte{}, [32]byte{}, ErrServerProofMismatch
	}

	clientProof = corecrypto.HMACSHA256(handshakeKey, []byte(infoLegacyClientProof), transcript[:])

	concat := make([]byte, 0, len(handshakeKey)+len(dhShared)+len(kemShared))
	concat = append(concat, handshakeKey...)
	concat = append(concat, dhShared[:]...)
	concat = append(concat, kemShared...)
	out, err := corecrypto.HKDF(concat, nil, []byte(infoLegacySession), 32)
	corecrypto.Zero(concat)
	if err != nil {
		return [32]byte{}, [32]byte{}, fmt.Errorf("channel: legacy session hkdf: %w", err)
	}
	copy(secret[:], out)
	corecrypto.Zero(out)

	metrics.ChannelHandshakesTotal.WithLabelValues("legacy", "ok").Inc()
	return secret, clientProof, nil
}
