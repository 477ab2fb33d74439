package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeText(t *testing.T) {
	id := MsgID{1, 2, 3}
	e := Envelope{MsgID: id, Body: Text{Text: "hello"}}
	buf := Encode(e)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, id, decoded.MsgID)
	require.Equal(t, Text{Text: "hello"}, decoded.Body)
}

func TestEncodeDecodeAllBodies(t *testing.T) {
	id := MsgID{9}
	cases := []Body{
		Ack{},
		File{Size: 42, Name: "a.bin", FileID: "f1", Key: [32]byte{1}},
		GroupText{GroupID: "g1", Text: "hi group"},
		GroupInvite{GroupID: "g1"},
		GroupFile{GroupID: "g1", File: File{Size: 1, Name: "n", FileID: "id", Key: [32]byte{2}}},
		SenderKeyDist{GroupID: "g1", Version: 2, Iter: 0, ChainKey: [32]byte{3}, Sig: []byte("sig")},
		SenderKeyReq{GroupID: "g1", WantVersion: 2},
		Rich{Kind: 1, Flags: ReplyFlag, ReplyTo: MsgID{7}, Payload: []byte("rich")},
		ReadReceipt{},
		Typing{On: true},
		Sticker{StickerID: "s1"},
		Presence{Online: false},
		GroupCallKeyDist{GroupID: "g1", CallID: [16]byte{4}, KeyID: 1, Key: [32]byte{5}, Sig: []byte("s")},
		GroupCallKeyReq{GroupID: "g1", CallID: [16]byte{4}, WantKeyID: 1},
	}
	for _, body := range cases {
		buf := Encode(Envelope{MsgID: id, Body: body})
		decoded, err := Decode(buf)
		require.NoError(t, err)
		require.Equal(t, body, decoded.Body)
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for _, size := range []int{0, 100, 2000, 20000} {
		p := make([]byte, size)
		padded, err := Pad(p)
		require.NoError(t, err)
		unpadded, err := Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, p, unpadded)
	}
}

func TestPadBucketBounds(t *testing.T) {
	padded, err := Pad(make([]byte, 100))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(padded), 108)
	require.LessOrEqual(t, len(padded), 256)

	padded, err = Pad(make([]byte, 20000))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(padded), 20008)
	require.LessOrEqual(t, len(padded), 20480)
}

func TestDedupeFIFOEviction(t *testing.T) {
	d := NewDedupe(2)
	a, b, c := MsgID{1}, MsgID{2}, MsgID{3}

	require.True(t, d.Record("alice", a))
	require.True(t, d.Record("alice", b))
	require.False(t, d.Record("alice", a)) // duplicate

	require.True(t, d.Record("alice", c)) // evicts a
	require.Equal(t, 2, d.Len())
	require.False(t, d.SeenBefore("alice", a))
	require.True(t, d.SeenBefore("alice", b))
	require.True(t, d.SeenBefore("alice", c))
}

func TestCoverTrafficSchedulerInterval(t *testing.T) {
	s := NewCoverTrafficScheduler(CoverTrafficOn, 10*time.Second, 8, 8*1024*1024*1024)
	now := time.Now()
	require.True(t, s.ShouldEmit(now))
	require.False(t, s.ShouldEmit(now.Add(1*time.Second)))
	require.True(t, s.ShouldEmit(now.Add(11*time.Second)))
}

func TestCoverTrafficAutoDisablesOnLowEnd(t *testing.T) {
	s := NewCoverTrafficScheduler(CoverTrafficAuto, time.Second, 2, 2*1024*1024*1024)
	require.False(t, s.ShouldEmit(time.Now()))
}
