package ratchet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

func establishedSessions(t *testing.T) (*Session, *Session) {
	t.Helper()

	aliceIdentity, err := GenerateIdentityKeyset()
	require.NoError(t, err)
	bobIdentity, err := GenerateIdentityKeyset()
	require.NoError(t, err)

	bobSPK, err := NewSignedPreKey(bobIdentity, 1)
	require.NoError(t, err)
	bobOTPK, err := NewOneTimePreKey(1)
	require.NoError(t, err)
	bobKEM, err := corecrypto.GenerateKEMKeyPair()
	require.NoError(t, err)
	bobKEMPub, err := bobKEM.Public.MarshalBinary()
	require.NoError(t, err)

	otpkID := bobOTPK.KeyID
	otpkPub := bobOTPK.DH.Public
	bundle := PreKeyBundle{
		Username:         "bob",
		IdentitySigPub:   bobIdentity.Signing.Public,
		IdentityDHPub:    bobIdentity.DH.Public,
		SignedPreKeyID:   bobSPK.KeyID,
		SignedPreKeyPub:  bobSPK.DH.Public,
		SignedPreKeySig:  bobSPK.Signature,
		OneTimePreKeyID:  &otpkID,
		OneTimePreKeyPub: &otpkPub,
		KEMPublicKey:     bobKEMPub,
	}

	aliceSecret, init, err := InitiateSession(aliceIdentity, bundle)
	require.NoError(t, err)

	bobSecret, err := RespondSession(bobIdentity, bobSPK, &bobOTPK, bobKEM, init)
	require.NoError(t, err)
	require.Equal(t, aliceSecret, bobSecret)

	alice, err := NewInitiatorSession("alice", "bob", aliceSecret, bobSPK.DH.Public)
	require.NoError(t, err)
	bob, err := NewResponderSession("bob", "alice", bobSecret, bobSPK.DH)
	require.NoError(t, err)
	return alice, bob
}

func TestX3DHSharedSecretAgrees(t *testing.T) {
	alice, bob := establishedSessions(t)
	require.Equal(t, alice.State.RootKey, bob.State.RootKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := establishedSessions(t)

	hdr, ct, err := alice.Encrypt([]byte("hello bob"))
	require.NoError(t, err)

	plaintext, err := bob.Decrypt(hdr, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hello bob"), plaintext)
}

func TestDecryptTamperedCiphertextFailsAuth(t *testing.T) {
	alice, bob := establishedSessions(t)

	hdr, ct, err := alice.Encrypt([]byte("hello bob"))
	require.NoError(t, err)
	tampered := append([]byte{}, ct...)
	tampered[0] ^= 0xFF

	_, err = bob.Decrypt(hdr, tampered)
	require.ErrorIs(t, err, ErrAuthFailure)
}

func TestCounterAdvancesMonotonically(t *testing.T) {
	alice, bob := establishedSessions(t)

	for i := 0; i < 5; i++ {
		hdr, ct, err := alice.Encrypt([]byte("msg"))
		require.NoError(t, err)
		require.Equal(t, uint32(i), hdr.Counter)
		_, err = bob.Decrypt(hdr, ct)
		require.NoError(t, err)
		require.Equal(t, uint32(i+1), bob.State.RecvCounter)
	}
}

// TestSkippedMessageKeyRecovery mirrors the out-of-order delivery
// scenario: messages at counters {0,1,2} are sent but arrive as
// {2,0,1}. Decrypting 2 first must stash keys for 0 and 1; decrypting
// 0 and then 1 must each consume exactly one stashed key, leaving the
// cache empty.
func TestSkippedMessageKeyRecovery(t *testing.T) {
	alice, bob := establishedSessions(t)

	type sealed struct {
		hdr Header
		ct  []byte
	}
	var msgs []sealed
	for i := 0; i < 3; i++ {
		hdr, ct, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		msgs = append(msgs, sealed{hdr, ct})
	}

	plaintext, err := bob.Decrypt(msgs[2].hdr, msgs[2].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m"), plaintext)
	require.Equal(t, 2, bob.State.Skipped.len())

	_, err = bob.Decrypt(msgs[0].hdr, msgs[0].ct)
	require.NoError(t, err)
	require.Equal(t, 1, bob.State.Skipped.len())

	_, err = bob.Decrypt(msgs[1].hdr, msgs[1].ct)
	require.NoError(t, err)
	require.Equal(t, 0, bob.State.Skipped.len())
}

func TestDHRatchetStepOnNewPeerPublic(t *testing.T) {
	alice, bob := establishedSessions(t)

	hdr, ct, err := alice.Encrypt([]byte("first"))
	require.NoError(t, err)
	_, err = bob.Decrypt(hdr, ct)
	require.NoError(t, err)
	firstPeerPub := *bob.State.RecvDHPub

	replyHdr, replyCT, err := bob.Encrypt([]byte("reply"))
	require.NoError(t, err)
	plaintext, err := alice.Decrypt(replyHdr, replyCT)
	require.NoError(t, err)
	require.Equal(t, []byte("reply"), plaintext)
	require.NotEqual(t, firstPeerPub, *alice.State.RecvDHPub)
}

func TestSkipBudgetExceeded(t *testing.T) {
	alice, bob := establishedSessions(t)

	var last struct {
		hdr Header
		ct  []byte
	}
	for i := 0; i <= MaxSkip+1; i++ {
		hdr, ct, err := alice.Encrypt([]byte("m"))
		require.NoError(t, err)
		last.hdr, last.ct = hdr, ct
	}

	_, err := bob.Decrypt(last.hdr, last.ct)
	require.ErrorIs(t, err, ErrSkipBudgetExceeded)
}

func TestTrustStorePinAndVerify(t *testing.T) {
	store := NewTrustStore()
	require.False(t, store.IsTrusted("bob"))

	var fp [32]byte
	fp[0] = 0x42
	store.PinPeer("bob", fp)
	require.False(t, store.IsTrusted("bob"))

	require.NoError(t, store.TrustPendingPeer("bob"))
	require.True(t, store.IsTrusted("bob"))

	got, ok := store.Fingerprint("bob")
	require.True(t, ok)
	require.Equal(t, fp, got)
}

func TestSASIsOrderIndependent(t *testing.T) {
	var a, b [32]byte
	a[0], b[0] = 1, 2
	require.Equal(t, SAS(a, b), SAS(b, a))
}

func TestRotationPolicyDueInitiallyAndAfterInterval(t *testing.T) {
	policy := NewRotationPolicy(time.Hour)
	now := time.Unix(1000, 0)
	require.True(t, policy.DueForRotation(now))

	policy.MarkPublished(now)
	require.False(t, policy.DueForRotation(now.Add(time.Minute)))
	require.True(t, policy.DueForRotation(now.Add(2*time.Hour)))

	policy.MarkUnpublished()
	require.True(t, policy.DueForRotation(now.Add(time.Minute)))
}
