package devicesync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairingHandshakeRoundTrip(t *testing.T) {
	primary, code, err := BeginPrimaryPairing()
	require.NoError(t, err)
	require.Equal(t, PairingRolePrimary, primary.Role)

	linked, err := BeginLinkedPairing(code)
	require.NoError(t, err)
	require.Equal(t, primary.PairingIDHex, linked.PairingIDHex)
	require.Equal(t, primary.PairingKey, linked.PairingKey)

	var requestID [16]byte
	requestID[0] = 0xAB
	reqPlain := EncodePairingRequest("phone-b", requestID)
	reqOuter, err := EncryptPairingPayload(linked.PairingKey, reqPlain)
	require.NoError(t, err)

	gotReqPlain, err := DecryptPairingPayload(primary.PairingKey, reqOuter)
	require.NoError(t, err)
	gotDeviceID, gotRequestID, err := DecodePairingRequest(gotReqPlain)
	require.NoError(t, err)
	require.Equal(t, "phone-b", gotDeviceID)
	require.Equal(t, requestID, gotRequestID)

	var deviceSyncKey Key
	deviceSyncKey[0] = 0x42
	respPlain := EncodePairingResponse(gotRequestID, deviceSyncKey)
	respOuter, err := EncryptPairingPayload(primary.PairingKey, respPlain)
	require.NoError(t, err)

	gotRespPlain, err := DecryptPairingPayload(linked.PairingKey, respOuter)
	require.NoError(t, err)
	gotRequestID2, gotKey, err := DecodePairingResponse(gotRespPlain)
	require.NoError(t, err)
	require.Equal(t, requestID, gotRequestID2)
	require.Equal(t, deviceSyncKey, gotKey)
}

func TestBeginLinkedPairingRejectsBadCode(t *testing.T) {
	_, err := BeginLinkedPairing("not-a-valid-code")
	require.ErrorIs(t, err, ErrBadPairingCode)
}

func TestDeviceSyncEncryptDecryptRoundTrip(t *testing.T) {
	var key Key
	key[0] = 7
	plaintext := []byte("sync event payload")

	cipher, err := EncryptDeviceSync(key, plaintext)
	require.NoError(t, err)

	got, err := DecryptDeviceSync(key, cipher)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDeviceSyncDecryptFailsUnderWrongKey(t *testing.T) {
	var key, other Key
	key[0] = 7
	other[0] = 9

	cipher, err := EncryptDeviceSync(key, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptDeviceSync(other, cipher)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	var msgID [16]byte
	msgID[0] = 1

	cases := []Event{
		RotateKeyEvent{NewKey: Key{1, 2, 3}},
		MessageEvent{Peer: "bob", MsgID: msgID, Outgoing: true, Body: []byte("hi")},
		DeliveryEvent{Peer: "bob", MsgID: msgID, Read: true},
		GroupNoticeEvent{GroupID: "g1", Notice: []byte("member-added")},
		HistorySnapshotEvent{Entries: []HistoryEntry{
			{Peer: "bob", MsgID: msgID, Outgoing: true, Body: []byte("hi"), Timestamp: 1000},
		}},
		SendPrivateEvent{Peer: "bob", Envelope: []byte("env")},
		SendGroupEvent{GroupID: "g1", Envelope: []byte("env")},
	}

	for _, c := range cases {
		decoded, err := DecodeEvent(EncodeEvent(c))
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	buf := EncodeEvent(RotateKeyEvent{NewKey: Key{1}})
	buf[5] = 0xFF // overwrite the type byte (after magic[4] + version[1])
	_, err := DecodeEvent(buf)
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestManagerSealOpenRoundTrip(t *testing.T) {
	var key Key
	key[0] = 3
	m := NewManager()
	m.LoadKey(key)

	cipher, err := m.Seal(DeliveryEvent{Peer: "alice", Read: true})
	require.NoError(t, err)

	event, err := m.Open(cipher)
	require.NoError(t, err)
	require.Equal(t, DeliveryEvent{Peer: "alice", Read: true}, event)
}

func TestManagerRequiresKeyLoaded(t *testing.T) {
	m := NewManager()
	_, err := m.Seal(DeliveryEvent{Peer: "alice"})
	require.ErrorIs(t, err, ErrKeyMissing)
}

func TestManagerEvictDeviceRotatesKeyAndSiblingApplies(t *testing.T) {
	var oldKey Key
	oldKey[0] = 1
	primary := NewManager()
	primary.LoadKey(oldKey)

	sibling := NewManager()
	sibling.LoadKey(oldKey)

	cipher, err := primary.EvictDevice()
	require.NoError(t, err)

	event, err := sibling.Open(cipher)
	require.NoError(t, err)
	rotate, ok := event.(RotateKeyEvent)
	require.True(t, ok)

	// sibling has now adopted the new key as a side effect of Open.
	second, err := primary.Seal(DeliveryEvent{Peer: "carol"})
	require.NoError(t, err)
	got, err := sibling.Open(second)
	require.NoError(t, err)
	require.Equal(t, DeliveryEvent{Peer: "carol"}, got)

	// the evicted device, still on oldKey, can no longer decrypt.
	evicted := NewManager()
	evicted.LoadKey(oldKey)
	_, err = evicted.Open(second)
	require.ErrorIs(t, err, ErrAuthFailure)

	require.NotEqual(t, oldKey, rotate.NewKey)
}
