package groupratchet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

func TestSealOpenRoundTrip(t *testing.T) {
	signing, err := corecrypto.GenerateSigningKeyPair()
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	members := []string{"a", "b", "c"}

	sender := NewEngine()
	state, rotated, err := sender.EnsureOwnChain("g1", "a", members, now)
	require.NoError(t, err)
	require.True(t, rotated)

	dist := SignDistribution(signing, "g1", state.Version, 0, state.ChainKey)
	require.True(t, VerifyDistribution(dist, signing.Public))

	receiver := NewEngine()
	require.NoError(t, receiver.ApplyDistribution(dist, signing.Public, now))

	ad := []byte("g1|a")
	version, iteration, ct, err := sender.Seal("g1", []byte("hello group"), ad)
	require.NoError(t, err)
	require.Equal(t, uint32(0), iteration)

	plaintext, err := receiver.Open("g1", string(signing.Public), version, iteration, ct, ad)
	require.NoError(t, err)
	require.Equal(t, []byte("hello group"), plaintext)
}

func TestOutOfOrderGroupDeliveryDrainsSkippedCache(t *testing.T) {
	signing, err := corecrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	members := []string{"a", "b"}

	sender := NewEngine()
	state, _, err := sender.EnsureOwnChain("g1", "a", members, now)
	require.NoError(t, err)
	dist := SignDistribution(signing, "g1", state.Version, 0, state.ChainKey)

	receiver := NewEngine()
	require.NoError(t, receiver.ApplyDistribution(dist, signing.Public, now))

	ad := []byte("g1|a")
	type sealed struct {
		version, iteration uint32
		ct                 []byte
	}
	var msgs []sealed
	for i := 0; i < 3; i++ {
		v, it, ct, err := sender.Seal("g1", []byte("m"), ad)
		require.NoError(t, err)
		msgs = append(msgs, sealed{v, it, ct})
	}

	_, err = receiver.Open("g1", string(signing.Public), msgs[2].version, msgs[2].iteration, msgs[2].ct, ad)
	require.NoError(t, err)
	learnedState := receiver.learned[receiverKey{groupID: "g1", sender: string(signing.Public)}]
	require.Equal(t, 2, learnedState.skipped.len())

	_, err = receiver.Open("g1", string(signing.Public), msgs[0].version, msgs[0].iteration, msgs[0].ct, ad)
	require.NoError(t, err)
	_, err = receiver.Open("g1", string(signing.Public), msgs[1].version, msgs[1].iteration, msgs[1].ct, ad)
	require.NoError(t, err)
	require.Equal(t, 0, learnedState.skipped.len())
}

func TestRotationOnMembershipChangeDropsStaleDistribution(t *testing.T) {
	now := time.Unix(1000, 0)
	sender := NewEngine()

	state1, rotated, err := sender.EnsureOwnChain("g1", "a", []string{"a", "b", "c"}, now)
	require.NoError(t, err)
	require.True(t, rotated)
	require.Equal(t, uint32(1), state1.Version)

	sender.TrackPending("g1", "a", Distribution{Version: 1}, []string{"b", "c"}, now)
	_, ok := sender.PendingFor("g1", "a")
	require.True(t, ok)

	// membership change: C is kicked
	state2, rotated, err := sender.EnsureOwnChain("g1", "a", []string{"a", "b"}, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, rotated)
	require.Equal(t, uint32(2), state2.Version)
	require.Equal(t, uint32(0), state2.Iteration)

	_, ok = sender.PendingFor("g1", "a")
	require.False(t, ok, "stale distribution from version 1 must be dropped on rotation")
}

func TestRotationOnSentCountCeiling(t *testing.T) {
	now := time.Unix(1000, 0)
	state, err := NewSenderKeyState("g1", "a", 1, []string{"a", "b"}, now)
	require.NoError(t, err)
	state.SentCount = RotationSentCountThreshold
	require.True(t, state.NeedsRotation([]string{"a", "b"}, now))
}

func TestRotationOnAge(t *testing.T) {
	now := time.Unix(1000, 0)
	state, err := NewSenderKeyState("g1", "a", 1, []string{"a", "b"}, now)
	require.NoError(t, err)
	require.False(t, state.NeedsRotation([]string{"a", "b"}, now.Add(RotationMaxAge*time.Second-time.Second)))
	require.True(t, state.NeedsRotation([]string{"a", "b"}, now.Add(RotationMaxAge*time.Second)))
}

func TestTamperedCiphertextFailsAuth(t *testing.T) {
	signing, err := corecrypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	now := time.Unix(1000, 0)

	sender := NewEngine()
	state, _, err := sender.EnsureOwnChain("g1", "a", []string{"a", "b"}, now)
	require.NoError(t, err)
	dist := SignDistribution(signing, "g1", state.Version, 0, state.ChainKey)

	receiver := NewEngine()
	require.NoError(t, receiver.ApplyDistribution(dist, signing.Public, now))

	ad := []byte("g1|a")
	version, iteration, ct, err := sender.Seal("g1", []byte("hello"), ad)
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = receiver.Open("g1", string(signing.Public), version, iteration, ct, ad)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestPendingDistributionAckAndResend(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewPendingDistribution(Distribution{Version: 1}, []string{"b", "c"}, now)
	require.False(t, p.Done())
	require.False(t, p.DueForResend(now))

	p.Ack("b")
	require.False(t, p.Done())
	require.True(t, p.DueForResend(now.Add(DistributionCooldownSeconds*time.Second)))

	p.Ack("c")
	require.True(t, p.Done())
	require.False(t, p.DueForResend(now.Add(time.Hour)))
}
