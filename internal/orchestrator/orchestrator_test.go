package orchestrator

import (
	"context"
	"testing"

	"github.com/jaydenbeard/mi-e2ee-core/internal/attachment"
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/envelope"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	identity, err := ratchet.GenerateIdentityKeyset()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return NewClient(Config{
		Identity:      identity,
		LocalUsername: "alice",
	})
}

func fillRandom(t *testing.T, b []byte) {
	t.Helper()
	if err := corecrypto.RandomFill(b); err != nil {
		t.Fatalf("random fill: %v", err)
	}
}

// TestUnauthenticatedOperationsRejectBeforeTouchingNetwork checks that
// every operation requiring a live session refuses before it ever
// reaches the (nil, in these tests) transport, across every package a
// call requiring auth touches.
func TestUnauthenticatedOperationsRejectBeforeTouchingNetwork(t *testing.T) {
	ctx := context.Background()

	checks := []struct {
		name string
		call func(c *Client) error
	}{
		{"Heartbeat", func(c *Client) error { return c.Heartbeat(ctx) }},
		{"ListDevices", func(c *Client) error { _, err := c.ListDevices(ctx); return err }},
		{"SendChatText", func(c *Client) error { _, err := c.SendChatText(ctx, "bob", "hi"); return err }},
		{"SendGroupChatText", func(c *Client) error { _, err := c.SendGroupChatText(ctx, "g1", "hi"); return err }},
		{"FetchPreKeyBundle", func(c *Client) error { _, err := c.FetchPreKeyBundle(ctx, "bob"); return err }},
		{"EnsurePreKeyPublished", func(c *Client) error {
			return c.EnsurePreKeyPublished(ctx, c.identity, 5)
		}},
		{"PollChat", func(c *Client) error { _, err := c.PollChat(ctx); return err }},
		{"StartGroupCall", func(c *Client) error { _, err := c.StartGroupCall(ctx, "g1"); return err }},
		{"PullGroupCallEvents", func(c *Client) error { _, err := c.PullGroupCallEvents(ctx, "g1"); return err }},
		{"PushMedia", func(c *Client) error { return c.PushMedia(ctx, "bob", []byte("frame")) }},
		{"PullMedia", func(c *Client) error { _, err := c.PullMedia(ctx); return err }},
		{"UploadE2eeFileBlob", func(c *Client) error {
			_, _, err := c.UploadE2eeFileBlob(ctx, "f", []byte("data"), [32]byte{})
			return err
		}},
		{"DownloadE2eeFileBlob", func(c *Client) error {
			_, err := c.DownloadE2eeFileBlob(ctx, "file-id", [32]byte{})
			return err
		}},
	}

	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t)
			err := tc.call(c)
			ce, ok := AsCoreError(err)
			if !ok {
				t.Fatalf("expected a *CoreError, got %v (%T)", err, err)
			}
			if ce.Kind != KindNotAuthenticated {
				t.Fatalf("expected KindNotAuthenticated, got %v", ce.Kind)
			}
		})
	}
}

// TestApplyGroupCallKeyDistInstallsOnValidSignatureAndBumpsCurrent
// exercises the local-only half of group-call key distribution: no
// transport is involved, since applyGroupCallKeyDist only verifies a
// signature and mutates in-memory state.
func TestApplyGroupCallKeyDistInstallsOnValidSignatureAndBumpsCurrent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	const sender = "bob"

	senderIdentity, err := ratchet.GenerateIdentityKeyset()
	if err != nil {
		t.Fatalf("generate sender identity: %v", err)
	}
	c.mu.Lock()
	c.peerIdentityPubs[sender] = senderIdentity.Signing.Public
	c.mu.Unlock()

	const groupID = "g1"
	var callID [16]byte
	fillRandom(t, callID[:])

	sign := func(d envelope.GroupCallKeyDist) envelope.GroupCallKeyDist {
		d.Sig = corecrypto.Sign(senderIdentity.Signing.Private, groupCallKeyDistSignedMessage(d))
		return d
	}

	var key1 [32]byte
	fillRandom(t, key1[:])
	c.applyGroupCallKeyDist(ctx, groupID, sender, sign(envelope.GroupCallKeyDist{GroupID: groupID, CallID: callID, KeyID: 1, Key: key1}))

	gotID, gotKey, ok := c.CurrentGroupCallKey(groupID, callID)
	if !ok || gotID != 1 || gotKey != key1 {
		t.Fatalf("expected key 1 installed as current, got id=%d ok=%v", gotID, ok)
	}

	var key2 [32]byte
	fillRandom(t, key2[:])
	c.applyGroupCallKeyDist(ctx, groupID, sender, sign(envelope.GroupCallKeyDist{GroupID: groupID, CallID: callID, KeyID: 2, Key: key2}))

	gotID, gotKey, ok = c.CurrentGroupCallKey(groupID, callID)
	if !ok || gotID != 2 || gotKey != key2 {
		t.Fatalf("expected key 2 to become current, got id=%d ok=%v", gotID, ok)
	}

	// An older key id must install into the key map but never move
	// current backwards.
	var key1b [32]byte
	fillRandom(t, key1b[:])
	c.applyGroupCallKeyDist(ctx, groupID, sender, sign(envelope.GroupCallKeyDist{GroupID: groupID, CallID: callID, KeyID: 1, Key: key1b}))

	gotID, _, ok = c.CurrentGroupCallKey(groupID, callID)
	if !ok || gotID != 2 {
		t.Fatalf("expected current to remain at key 2, got id=%d", gotID)
	}
}

func TestApplyGroupCallKeyDistRejectsBadSignature(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	const sender = "bob"

	senderIdentity, err := ratchet.GenerateIdentityKeyset()
	if err != nil {
		t.Fatalf("generate sender identity: %v", err)
	}
	c.mu.Lock()
	c.peerIdentityPubs[sender] = senderIdentity.Signing.Public
	c.mu.Unlock()

	const groupID = "g1"
	var callID [16]byte
	var key [32]byte
	fillRandom(t, callID[:])
	fillRandom(t, key[:])

	dist := envelope.GroupCallKeyDist{GroupID: groupID, CallID: callID, KeyID: 1, Key: key, Sig: []byte("not a real signature")}
	c.applyGroupCallKeyDist(ctx, groupID, sender, dist)

	if _, _, ok := c.CurrentGroupCallKey(groupID, callID); ok {
		t.Fatalf("expected a distribution with a bad signature to be rejected")
	}
}

// TestDecodePollChatResponseRoundTrip hand-encodes a poll-chat response
// payload matching the wire shape decodePollChatResponse expects and
// checks every section decodes back out.
func TestDecodePollChatResponseRoundTrip(t *testing.T) {
	var hdr ratchet.Header
	fillRandom(t, hdr.DHPub[:])
	hdr.PrevChainLen = 3
	hdr.Counter = 7
	pairwiseCiphertext := []byte("pairwise-ciphertext")
	pairwiseWire := encodePairwiseWireMessage(nil, hdr, pairwiseCiphertext)

	groupCiphertext := []byte("group-ciphertext")
	sigPub := []byte("sender-sig-pub")

	w := wire.NewWriter(256)
	w.PutU32(1) // device-sync count
	w.PutBytes([]byte("device-sync-blob"))

	w.PutU32(1) // pairwise count
	w.PutString("bob")
	w.PutBytes(pairwiseWire)

	w.PutU32(1) // group count
	w.PutString("g1")
	w.PutString("carol")
	w.PutBytes(sigPub)
	w.PutU32(5) // version
	w.PutU32(9) // iteration
	w.PutBytes(groupCiphertext)

	w.PutU32(1) // notice count
	w.PutString("g1")
	w.PutU8(uint8(GroupNoticeJoined))
	w.PutString("dave")

	inbox, err := decodePollChatResponse(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(inbox.deviceSync) != 1 || string(inbox.deviceSync[0]) != "device-sync-blob" {
		t.Fatalf("unexpected device-sync blobs: %+v", inbox.deviceSync)
	}

	if len(inbox.pairwise) != 1 {
		t.Fatalf("expected one pairwise entry, got %d", len(inbox.pairwise))
	}
	pw := inbox.pairwise[0]
	if pw.sender != "bob" || pw.init != nil || pw.header != hdr || string(pw.ciphertext) != string(pairwiseCiphertext) {
		t.Fatalf("pairwise entry mismatch: %+v", pw)
	}

	if len(inbox.group) != 1 {
		t.Fatalf("expected one group entry, got %d", len(inbox.group))
	}
	gr := inbox.group[0]
	if gr.groupID != "g1" || gr.sender != "carol" || string(gr.senderSigPub) != string(sigPub) ||
		gr.version != 5 || gr.iteration != 9 || string(gr.ciphertext) != string(groupCiphertext) {
		t.Fatalf("group entry mismatch: %+v", gr)
	}

	wantNotice := GroupNotice{GroupID: "g1", Kind: GroupNoticeJoined, Username: "dave"}
	if len(inbox.notices) != 1 || inbox.notices[0] != wantNotice {
		t.Fatalf("notice mismatch: %+v", inbox.notices)
	}
}

func TestDecodeDeviceListRoundTrip(t *testing.T) {
	var id1, id2 [16]byte
	fillRandom(t, id1[:])
	fillRandom(t, id2[:])

	w := wire.NewWriter(128)
	w.PutU32(2)
	w.PutRaw(id1[:])
	w.PutString("phone")
	w.PutU8(1)
	w.PutRaw(id2[:])
	w.PutString("laptop")
	w.PutU8(0)

	devices, err := decodeDeviceList(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].DeviceID != id1 || devices[0].Label != "phone" || !devices[0].IsPrimary {
		t.Fatalf("device 0 mismatch: %+v", devices[0])
	}
	if devices[1].DeviceID != id2 || devices[1].Label != "laptop" || devices[1].IsPrimary {
		t.Fatalf("device 1 mismatch: %+v", devices[1])
	}
}

func TestDecryptFileBlobDispatchesOnVersion(t *testing.T) {
	var key [32]byte
	fillRandom(t, key[:])
	plaintext := []byte("a small attachment payload")

	blob, err := attachment.EncryptSingleShot(key, "note.txt", plaintext)
	if err != nil {
		t.Fatalf("encrypt single shot: %v", err)
	}
	got, err := decryptFileBlob(key, blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", got, plaintext)
	}

	if _, err := decryptFileBlob(key, []byte("x")); err == nil {
		t.Fatalf("expected error for too-short blob")
	}

	bad := append([]byte{}, blob...)
	bad[len(attachment.Magic)] = 99
	if _, err := decryptFileBlob(key, bad); err == nil {
		t.Fatalf("expected error for unrecognized version")
	}
}

func TestGroupDistributionFromEnvelopeConvertsFields(t *testing.T) {
	var chainKey [32]byte
	fillRandom(t, chainKey[:])
	dist := envelope.SenderKeyDist{GroupID: "g1", Version: 2, Iter: 4, ChainKey: chainKey, Sig: []byte("sig")}

	got := groupDistributionFromEnvelope(dist)
	if got.GroupID != "g1" || got.Version != 2 || got.Iteration != 4 || got.ChainKey != chainKey || string(got.Signature) != "sig" {
		t.Fatalf("conversion mismatch: %+v", got)
	}
}

func TestDecodeFrameListRoundTrip(t *testing.T) {
	w := wire.NewWriter(64)
	w.PutU32(2)
	w.PutBytes([]byte("frame-a"))
	w.PutBytes([]byte("frame-b"))

	frames, err := decodeFrameList(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "frame-a" || string(frames[1]) != "frame-b" {
		t.Fatalf("frame list mismatch: %+v", frames)
	}
}

func TestDecodeGroupCallEventsRoundTrip(t *testing.T) {
	var callID [16]byte
	fillRandom(t, callID[:])

	w := wire.NewWriter(64)
	w.PutU32(1)
	w.PutRaw(callID[:])
	w.PutU8(uint8(GroupCallEventJoined))
	w.PutString("erin")

	events, err := decodeGroupCallEvents(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].CallID != callID || events[0].Kind != GroupCallEventJoined || events[0].Username != "erin" {
		t.Fatalf("event mismatch: %+v", events)
	}
}
