package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/channel"
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// encodeLegacyHello wire-encodes a LegacyClientHello as a Register/Login
// request payload: username, then the hello fields.
func encodeLegacyHello(username string, hello channel.LegacyClientHello) []byte {
	w := wire.NewWriter(64 + len(hello.ClientKEMPub))
	w.PutString(username)
	w.PutRaw(hello.ClientNonce[:])
	w.PutRaw(hello.ClientDHPub[:])
	w.PutBytes(hello.ClientKEMPub)
	return w.Bytes()
}

// decodeLegacyServerParams parses the server's reply to a legacy hello:
// the Argon2id cost parameters and salt, the server's nonce, DH public,
// and KEM ciphertext, followed by the server's own proof over the
// resulting transcript (the server can compute this proof before
// hearing back from the client, since it already has the client's
// ephemeral DH and KEM publics from the hello).
func decodeLegacyServerParams(payload []byte) (channel.LegacyServerParams, serverProof [32]byte, err error) {
	r := wire.NewReader(payload)
	var p channel.LegacyServerParams

	salt, err := r.Bytes()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy salt: %w", err)
	}
	timeCost, err := r.U32()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy argon2 time: %w", err)
	}
	memKiB, err := r.U32()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy argon2 memory: %w", err)
	}
	threads, err := r.U8()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy argon2 threads: %w", err)
	}
	keyLen, err := r.U32()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy argon2 key length: %w", err)
	}
	serverNonce, err := r.Raw(32)
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy server nonce: %w", err)
	}
	serverDHPub, err := r.Raw(32)
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy server dh public: %w", err)
	}
	kemCiphertext, err := r.Bytes()
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy kem ciphertext: %w", err)
	}
	proof, err := r.Raw(32)
	if err != nil {
		return p, serverProof, fmt.Errorf("orchestrator: decode legacy server proof: %w", err)
	}

	p.Salt = salt
	p.Argon2 = corecrypto.Argon2Params{Time: timeCost, MemoryKiB: memKiB, Threads: threads, KeyLength: keyLen}
	copy(p.ServerNonce[:], serverNonce)
	copy(p.ServerDHPub[:], serverDHPub)
	p.KEMCiphertext = kemCiphertext
	copy(serverProof[:], proof)
	return p, serverProof, nil
}

// decodeLegacySessionToken parses the server's final legacy handshake
// message: the session token to use for every subsequent channel frame.
func decodeLegacySessionToken(payload []byte) ([]byte, error) {
	r := wire.NewReader(payload)
	token, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode legacy session token: %w", err)
	}
	return token, nil
}

func encodeLegacyClientProof(clientProof [32]byte) []byte {
	w := wire.NewWriter(32)
	w.PutRaw(clientProof[:])
	return w.Bytes()
}

// decodeOpaqueSessionToken parses the final OPAQUE LoginFinish response
// envelope: the session token issued alongside the server's own finish
// message (channel.RunOpaqueHandshake already validated the key
// exchange itself; this only recovers the token the server attached).
func decodeOpaqueSessionToken(payload []byte) ([]byte, error) {
	r := wire.NewReader(payload)
	token, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode opaque session token: %w", err)
	}
	return token, nil
}

// authenticate runs the configured handshake (legacy or OPAQUE) over
// the raw transport, derives per-direction session keys, and builds
// the secure channel. frameType is FrameTypeRegister or FrameTypeLogin.
func (c *Client) authenticate(ctx context.Context, frameType wire.FrameType, password string) error {
	if err := validateNonEmpty("username", c.localUsername); err != nil {
		return err
	}
	if err := validateNonEmpty("password", password); err != nil {
		return err
	}

	var secret [32]byte
	var sessionToken []byte

	switch c.authMode {
	case channel.AuthModeLegacy:
		hello, state, err := channel.BeginLegacyHandshake()
		if err != nil {
			return newErr(KindCryptoPolicy, "begin legacy handshake", err)
		}
		helloResp, err := c.transport.RoundTrip(ctx, wire.EncodeFrame(wire.Frame{
			Type:    frameType,
			Payload: encodeLegacyHello(c.localUsername, hello),
		}))
		if err != nil {
			return newErr(KindTransport, "legacy hello round trip", err)
		}
		helloFrame, err := wire.DecodeFrame(helloResp)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode legacy server params frame", err)
		}
		if helloFrame.Type == wire.FrameTypeErrorResponse {
			return newErr(KindServer, decodeServerErrorString(helloFrame.Payload), nil)
		}
		params, serverProof, err := decodeLegacyServerParams(helloFrame.Payload)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode legacy server params", err)
		}

		derivedSecret, clientProof, err := channel.FinishLegacyHandshake(password, hello, state, params, serverProof)
		if err != nil {
			return newErr(KindAuthFailure, "legacy handshake proof mismatch", err)
		}
		secret = derivedSecret

		proofResp, err := c.transport.RoundTrip(ctx, wire.EncodeFrame(wire.Frame{
			Type:    frameType,
			Payload: encodeLegacyClientProof(clientProof),
		}))
		if err != nil {
			return newErr(KindTransport, "legacy proof round trip", err)
		}
		proofFrame, err := wire.DecodeFrame(proofResp)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode legacy session token frame", err)
		}
		if proofFrame.Type == wire.FrameTypeErrorResponse {
			return newErr(KindServer, decodeServerErrorString(proofFrame.Payload), nil)
		}
		token, err := decodeLegacySessionToken(proofFrame.Payload)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode legacy session token", err)
		}
		sessionToken = token

	case channel.AuthModeOpaque:
		var roundTripErr error
		derivedSecret, final, err := channel.RunOpaqueHandshake(c.opaqueClient, c.localUsername, []byte(password), func(request []byte) ([]byte, error) {
			resp, rtErr := c.transport.RoundTrip(ctx, wire.EncodeFrame(wire.Frame{Type: frameType, Payload: request}))
			if rtErr != nil {
				roundTripErr = rtErr
				return nil, rtErr
			}
			respFrame, decErr := wire.DecodeFrame(resp)
			if decErr != nil {
				roundTripErr = decErr
				return nil, decErr
			}
			if respFrame.Type == wire.FrameTypeErrorResponse {
				roundTripErr = newErr(KindServer, decodeServerErrorString(respFrame.Payload), nil)
				return nil, roundTripErr
			}
			return respFrame.Payload, nil
		})
		if roundTripErr != nil {
			if ce, ok := AsCoreError(roundTripErr); ok {
				return ce
			}
			return newErr(KindTransport, "opaque round trip", roundTripErr)
		}
		if err != nil {
			return newErr(KindAuthFailure, "opaque handshake failed", err)
		}

		// final is the client's confirmation message; the server's
		// reply to it carries the session token.
		finalResp, err := c.transport.RoundTrip(ctx, wire.EncodeFrame(wire.Frame{Type: frameType, Payload: final}))
		if err != nil {
			return newErr(KindTransport, "opaque finish round trip", err)
		}
		finalFrame, err := wire.DecodeFrame(finalResp)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode opaque session token frame", err)
		}
		if finalFrame.Type == wire.FrameTypeErrorResponse {
			return newErr(KindServer, decodeServerErrorString(finalFrame.Payload), nil)
		}
		token, err := decodeOpaqueSessionToken(finalFrame.Payload)
		if err != nil {
			return newErr(KindProtocolInvalid, "decode opaque session token", err)
		}
		secret = derivedSecret
		sessionToken = token

	default:
		return newErr(KindCryptoPolicy, "unknown auth mode", nil)
	}
	defer corecrypto.Zero(secret[:])

	keys, err := channel.DeriveSessionKeys(secret[:], c.localUsername, sessionToken, c.transport.Kind())
	if err != nil {
		return newErr(KindCryptoPolicy, "derive session keys", err)
	}

	c.mu.Lock()
	c.ch = channel.NewChannel(c.transport, keys, sessionToken)
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// Register creates a new account under localUsername, then establishes
// the secure channel exactly as Login would. The device id is not sent
// as part of the handshake.
func (c *Client) Register(ctx context.Context, password string) error {
	return c.authenticate(ctx, wire.FrameTypeRegister, password)
}

// Login authenticates an existing account and establishes the secure
// channel. Calling it again replaces any previously established
// channel.
func (c *Client) Login(ctx context.Context, password string) error {
	return c.authenticate(ctx, wire.FrameTypeLogin, password)
}

// Relogin re-authenticates over the same transport after a transport
// error invalidated the previous channel. It drops the old channel and
// runs the full handshake again with the supplied password, which must
// not be empty.
func (c *Client) Relogin(ctx context.Context, password string) error {
	c.mu.Lock()
	c.authenticated = false
	c.ch = nil
	c.mu.Unlock()
	return c.authenticate(ctx, wire.FrameTypeRelogin, password)
}

// Logout tells the server the session is over and marks the client
// unauthenticated regardless of whether the server round trip
// succeeds: once the caller asks to log out, continuing to trust this
// channel is never correct.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	var rpcErr error
	if ch != nil {
		_, rpcErr = c.request(ctx, wire.FrameTypeLogout, nil)
	}

	c.mu.Lock()
	c.authenticated = false
	c.ch = nil
	c.mu.Unlock()
	return rpcErr
}

// Heartbeat keeps the session alive on the server side; callers on a
// cover-traffic schedule should call this whenever no real operation
// has run for the configured interval.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	_, err := c.request(ctx, wire.FrameTypeHeartbeat, nil)
	return err
}

// DeviceInfo describes one device linked to the account, as returned
// by ListDevices.
type DeviceInfo struct {
	DeviceID  [16]byte
	Label     string
	IsPrimary bool
}

// ListDevices returns every device currently linked to the account.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	payload, err := c.request(ctx, wire.FrameTypeListDevices, nil)
	if err != nil {
		return nil, err
	}
	return decodeDeviceList(payload)
}

// KickDevice revokes a linked device's session and pairing material.
// The primary device may kick any device; a linked device may only
// kick itself.
func (c *Client) KickDevice(ctx context.Context, deviceID [16]byte) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	w := wire.NewWriter(16)
	w.PutRaw(deviceID[:])
	_, err := c.request(ctx, wire.FrameTypeKickDevice, w.Bytes())
	return err
}

func decodeDeviceList(payload []byte) ([]DeviceInfo, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode device list count: %w", err)
	}
	devices := make([]DeviceInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.Raw(16)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode device id: %w", err)
		}
		label, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode device label: %w", err)
		}
		isPrimary, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode device primary flag: %w", err)
		}
		var d DeviceInfo
		copy(d.DeviceID[:], id)
		d.Label = label
		d.IsPrimary = isPrimary != 0
		devices = append(devices, d)
	}
	return devices, nil
}
