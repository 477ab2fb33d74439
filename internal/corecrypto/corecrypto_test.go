package corecrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDHRoundTrip(t *testing.T) {
	alice, err := GenerateDHKeyPair()
	require.NoError(t, err)
	bob, err := GenerateDHKeyPair()
	require.NoError(t, err)

	s1, err := DH(alice.Private, bob.Public)
	require.NoError(t, err)
	s2, err := DH(bob.Private, alice.Public)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	ad := []byte("associated")
	sealed, err := Seal(key, []byte("hello world"), ad)
	require.NoError(t, err)

	plaintext, err := Open(key, sealed, ad)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plaintext))

	_, err = Open(key, sealed, []byte("wrong ad"))
	require.ErrorIs(t, err, ErrOpen)
}

func TestSealWithNonceDeterministic(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	nonce[0] = 0x01

	ct, err := SealWithNonce(key, nonce, []byte("chunk"), nil)
	require.NoError(t, err)

	pt, err := OpenWithNonce(key, nonce, ct, nil)
	require.NoError(t, err)
	require.Equal(t, "chunk", string(pt))
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("input key material")
	out1, err := HKDF(ikm, nil, []byte("info"), 32)
	require.NoError(t, err)
	out2, err := HKDF(ikm, nil, []byte("info"), 32)
	require.NoError(t, err)
	require.Equal(t, out1, out2)

	out3, err := HKDF(ikm, nil, []byte("other info"), 32)
	require.NoError(t, err)
	require.NotEqual(t, out1, out3)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple", DefaultArgon2Params())
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong password", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("signed pre-key bytes")
	sig := Sign(kp.Private, msg)
	require.True(t, Verify(kp.Public, msg, sig))
	require.False(t, Verify(kp.Public, []byte("tampered"), sig))
}

func TestKEMRoundTrip(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	ct, ss1, err := KEMEncapsulate(&kp.Public)
	require.NoError(t, err)
	require.Len(t, ct, KEMCiphertextSize)

	ss2, err := KEMDecapsulate(&kp.Private, ct)
	require.NoError(t, err)
	require.Equal(t, ss1, ss2)
}
