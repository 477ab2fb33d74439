package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/devicesync"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// Every pairing operation multiplexes over the one
// FrameTypeDevicePairingPull wire frame; a leading sub-opcode picks
// which side of the device pairing handshake the relay should perform.
// The relay only ever sees opaque, pairing-key-sealed bytes — it routes by
// pairing_id and never learns a device_id, a request_id, or a
// device-sync key in the clear.
type pairingOp uint8

const (
	pairingOpAnnouncePrimary pairingOp = iota + 1
	pairingOpPostRequest
	pairingOpPullRequests
	pairingOpPostResponse
	pairingOpPullResponse
	pairingOpCancel
)

func encodePairingOp(op pairingOp, pairingID string, body []byte) []byte {
	w := wire.NewWriter(1 + 2 + len(pairingID) + 4 + len(body))
	w.PutU8(uint8(op))
	w.PutString(pairingID)
	w.PutBytes(body)
	return w.Bytes()
}

// PendingPairingRequest is one still-encrypted request a primary
// device has pulled but not yet approved or rejected.
type PendingPairingRequest struct {
	DeviceID  string
	RequestID [16]byte
}

// BeginPairingPrimary starts a new pairing session as the primary
// device: it generates a pairing secret, announces the derived
// pairing-id to the relay, and returns the human-readable code to show
// out-of-band. Any pairing already in progress is discarded.
func (c *Client) BeginPairingPrimary(ctx context.Context) (code string, err error) {
	if err := c.requireAuthenticated(); err != nil {
		return "", err
	}
	state, code, err := devicesync.BeginPrimaryPairing()
	if err != nil {
		return "", newErr(KindCryptoPolicy, "begin primary pairing", err)
	}
	_, err = c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpAnnouncePrimary, state.PairingIDHex, nil))
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.pairing = &state
	c.hasPairingState = true
	c.mu.Unlock()
	return code, nil
}

// PollPairingRequests returns every pending, still-encrypted linked
// device request addressed to the in-progress primary pairing.
func (c *Client) PollPairingRequests(ctx context.Context) ([]PendingPairingRequest, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	pairing := c.pairing
	c.mu.Unlock()
	if pairing == nil || pairing.Role != devicesync.PairingRolePrimary {
		return nil, newErr(KindInvalidInput, "no primary pairing in progress", nil)
	}

	payload, err := c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpPullRequests, pairing.PairingIDHex, nil))
	if err != nil {
		return nil, err
	}
	ciphertexts, err := decodeByteList(payload)
	if err != nil {
		return nil, newErr(KindProtocolInvalid, "decode pending pairing requests", err)
	}

	requests := make([]PendingPairingRequest, 0, len(ciphertexts))
	for _, cipher := range ciphertexts {
		plaintext, err := devicesync.DecryptPairingPayload(pairing.PairingKey, cipher)
		if err != nil {
			// A request sealed under a stale or mismatched key cannot be
			// trusted; skip it rather than fail the whole poll.
			continue
		}
		deviceID, requestID, err := devicesync.DecodePairingRequest(plaintext)
		if err != nil {
			continue
		}
		requests = append(requests, PendingPairingRequest{DeviceID: deviceID, RequestID: requestID})
	}
	return requests, nil
}

// ApprovePairingRequest completes the primary side of a pairing: it
// seals a PairingResponse carrying the caller-supplied device-sync key
// back to the requesting device, and clears the pairing state.
func (c *Client) ApprovePairingRequest(ctx context.Context, req PendingPairingRequest, deviceSyncKey devicesync.Key) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	c.mu.Lock()
	pairing := c.pairing
	c.mu.Unlock()
	if pairing == nil || pairing.Role != devicesync.PairingRolePrimary {
		return newErr(KindInvalidInput, "no primary pairing in progress", nil)
	}

	response := devicesync.EncodePairingResponse(req.RequestID, [32]byte(deviceSyncKey))
	sealed, err := devicesync.EncryptPairingPayload(pairing.PairingKey, response)
	if err != nil {
		return newErr(KindCryptoPolicy, "seal pairing response", err)
	}

	_, err = c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpPostResponse, pairing.PairingIDHex, sealed))
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.pairing != nil {
		c.pairing.Wipe()
	}
	c.pairing = nil
	c.hasPairingState = false
	c.mu.Unlock()
	return nil
}

// BeginPairingLinked starts the linked-device side of a pairing from
// an out-of-band code: it derives the pairing-id and key, then posts
// an encrypted PairingRequest carrying this device's own id.
func (c *Client) BeginPairingLinked(ctx context.Context, pairingCode string) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	state, err := devicesync.BeginLinkedPairing(pairingCode)
	if err != nil {
		return newErr(KindInvalidInput, "invalid pairing code", err)
	}

	var requestID [16]byte
	if err := corecrypto.RandomFill(requestID[:]); err != nil {
		return newErr(KindCryptoPolicy, "generate pairing request id", err)
	}
	state.RequestID = requestID

	deviceIDHex := fmt.Sprintf("%x", c.deviceID)
	request := devicesync.EncodePairingRequest(deviceIDHex, requestID)
	sealed, err := devicesync.EncryptPairingPayload(state.PairingKey, request)
	if err != nil {
		return newErr(KindCryptoPolicy, "seal pairing request", err)
	}

	_, err = c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpPostRequest, state.PairingIDHex, sealed))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pairing = &state
	c.hasPairingState = true
	c.mu.Unlock()
	return nil
}

// PollPairingLinked checks whether the primary has approved this
// device's pairing request yet. ok is false until the response
// arrives; once it does, the device-sync key is returned and the
// pairing state is cleared.
func (c *Client) PollPairingLinked(ctx context.Context) (key devicesync.Key, ok bool, err error) {
	if err := c.requireAuthenticated(); err != nil {
		return key, false, err
	}
	c.mu.Lock()
	pairing := c.pairing
	c.mu.Unlock()
	if pairing == nil || pairing.Role != devicesync.PairingRoleLinked {
		return key, false, newErr(KindInvalidInput, "no linked pairing in progress", nil)
	}

	payload, err := c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpPullResponse, pairing.PairingIDHex, nil))
	if err != nil {
		return key, false, err
	}
	if len(payload) == 0 {
		return key, false, nil
	}

	plaintext, err := devicesync.DecryptPairingPayload(pairing.PairingKey, payload)
	if err != nil {
		return key, false, newErr(KindAuthFailure, "decrypt pairing response", err)
	}
	requestID, deviceSyncKey, err := devicesync.DecodePairingResponse(plaintext)
	if err != nil {
		return key, false, newErr(KindProtocolInvalid, "decode pairing response", err)
	}
	if requestID != pairing.RequestID {
		return key, false, newErr(KindTrustViolation, "pairing response request id mismatch", nil)
	}

	c.mu.Lock()
	if c.pairing != nil {
		c.pairing.Wipe()
	}
	c.pairing = nil
	c.hasPairingState = false
	c.mu.Unlock()
	return devicesync.Key(deviceSyncKey), true, nil
}

// CancelPairing abandons any in-progress pairing on both the local
// state and the relay.
func (c *Client) CancelPairing(ctx context.Context) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	c.mu.Lock()
	pairing := c.pairing
	c.pairing = nil
	c.hasPairingState = false
	c.mu.Unlock()
	if pairing == nil {
		return nil
	}
	pairingID := pairing.PairingIDHex
	pairing.Wipe()

	_, err := c.request(ctx, wire.FrameTypeDevicePairingPull, encodePairingOp(pairingOpCancel, pairingID, nil))
	return err
}

// decodeByteList parses a u32-count-prefixed list of u32-length-prefixed
// byte strings, the shape every pull-style RPC in this package uses for
// "zero or more opaque blobs".
func decodeByteList(payload []byte) ([][]byte, error) {
	r := wire.NewReader(payload)
	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode list count: %w", err)
	}
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		item, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode list item %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}
