package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ktclient"
	"github.com/jaydenbeard/mi-e2ee-core/internal/ratchet"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// KTProof is the key-transparency evidence attached to a fetched
// pre-key bundle: the log's signed tree head, this bundle's inclusion
// proof against it, and a consistency proof against the client's
// last-known snapshot (empty if this is the first snapshot ever seen).
type KTProof struct {
	STH              ktclient.SignedTreeHead
	LeafIndex        uint64
	InclusionProof   [][32]byte
	ConsistencyProof [][32]byte
}

// EnsurePreKeyPublished publishes a fresh signed pre-key and a batch of
// one-time pre-keys if the rotation policy says the current ones are
// due, and is a no-op otherwise.
func (c *Client) EnsurePreKeyPublished(ctx context.Context, identity ratchet.IdentityKeyset, otpkCount int) error {
	if err := c.requireAuthenticated(); err != nil {
		return err
	}
	if !c.rotationPolicy.DueForRotation(nowFunc()) {
		return nil
	}

	spk, err := ratchet.NewSignedPreKey(identity, nextKeyID())
	if err != nil {
		return newErr(KindCryptoPolicy, "generate signed pre-key", err)
	}
	kem, err := corecrypto.GenerateKEMKeyPair()
	if err != nil {
		return newErr(KindCryptoPolicy, "generate kem key pair", err)
	}
	otpks := make([]ratchet.OneTimePreKey, 0, otpkCount)
	for i := 0; i < otpkCount; i++ {
		otpk, err := ratchet.NewOneTimePreKey(nextKeyID())
		if err != nil {
			return newErr(KindCryptoPolicy, "generate one-time pre-key", err)
		}
		otpks = append(otpks, otpk)
	}

	kemPub, err := kem.Public.MarshalBinary()
	if err != nil {
		return newErr(KindCryptoPolicy, "marshal kem public key", err)
	}
	payload := encodePublishPreKeys(spk, kemPub, otpks)
	if _, err := c.request(ctx, wire.FrameTypeEnsurePreKeyPublished, payload); err != nil {
		return err
	}

	c.mu.Lock()
	c.ownSignedPreKey = &spk
	c.ownKEM = &kem
	for _, otpk := range otpks {
		c.ownOneTimePreKeys[otpk.KeyID] = otpk
	}
	c.mu.Unlock()

	c.rotationPolicy.MarkPublished(nowFunc())
	return nil
}

// takeOwnOneTimePreKey removes and returns the one-time pre-key keyID
// previously published, if this process still holds it. The server
// only ever hands a given one-time pre-key to a single initiator, so a
// second SessionInit referencing the same id is never expected to
// succeed.
func (c *Client) takeOwnOneTimePreKey(keyID uint32) (ratchet.OneTimePreKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	otpk, ok := c.ownOneTimePreKeys[keyID]
	if ok {
		delete(c.ownOneTimePreKeys, keyID)
	}
	return otpk, ok
}

// ownResponderMaterial snapshots the signed pre-key and KEM key pair
// this process last published, both required to answer an inbound
// SessionInit.
func (c *Client) ownResponderMaterial() (ratchet.SignedPreKey, corecrypto.KEMKeyPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownSignedPreKey == nil || c.ownKEM == nil {
		return ratchet.SignedPreKey{}, corecrypto.KEMKeyPair{}, false
	}
	return *c.ownSignedPreKey, *c.ownKEM, true
}

// FetchPreKeyBundle fetches peer's current pre-key bundle along with
// its key-transparency proof, verifying the bundle's own signature,
// the inclusion proof against the returned signed tree head, the STH's
// own signature, and (when a prior snapshot exists) the consistency
// proof against it before reconciling the client's KT state.
func (c *Client) FetchPreKeyBundle(ctx context.Context, peer string) (ratchet.PreKeyBundle, error) {
	var zero ratchet.PreKeyBundle
	if err := c.requireAuthenticated(); err != nil {
		return zero, err
	}
	if err := validateNonEmpty("peer", peer); err != nil {
		return zero, err
	}

	w := wire.NewWriter(2 + len(peer))
	w.PutString(peer)
	payload, err := c.request(ctx, wire.FrameTypeFetchPreKeyBundle, w.Bytes())
	if err != nil {
		return zero, err
	}

	bundle, proof, err := decodePreKeyBundleResponse(payload)
	if err != nil {
		return zero, newErr(KindProtocolInvalid, "decode pre-key bundle response", err)
	}

	if !bundle.VerifySignature() {
		return zero, newErr(KindTrustViolation, "pre-key bundle signature invalid", nil)
	}
	if err := ktclient.VerifySTH(proof.STH, c.ktLogSigningPub); err != nil {
		return zero, newErr(KindTrustViolation, "signed tree head signature invalid", err)
	}
	leaf := ktclient.LeafHash(encodePreKeyBundle(bundle))
	if err := ktclient.VerifyInclusionProof(leaf, proof.LeafIndex, proof.STH.TreeSize, proof.InclusionProof, proof.STH.Root); err != nil {
		return zero, newErr(KindTrustViolation, "pre-key bundle inclusion proof invalid", err)
	}
	if err := c.kt.Reconcile(ktclient.Snapshot{TreeSize: proof.STH.TreeSize, Root: proof.STH.Root}, proof.ConsistencyProof); err != nil {
		return zero, newErr(KindTrustViolation, "key transparency consistency check failed", err)
	}

	c.mu.Lock()
	c.peerIdentityPubs[peer] = bundle.IdentitySigPub
	c.mu.Unlock()

	return bundle, nil
}

// peerIdentityPub returns peer's cached identity signing public key,
// fetching a fresh pre-key bundle first if none is cached yet.
func (c *Client) peerIdentityPub(ctx context.Context, peer string) ([]byte, error) {
	c.mu.Lock()
	pub, ok := c.peerIdentityPubs[peer]
	c.mu.Unlock()
	if ok {
		return pub, nil
	}
	if _, err := c.FetchPreKeyBundle(ctx, peer); err != nil {
		return nil, err
	}
	c.mu.Lock()
	pub = c.peerIdentityPubs[peer]
	c.mu.Unlock()
	return pub, nil
}

var keyIDCounter uint32

// nextKeyID hands out locally-unique pre-key ids. The server is the
// source of truth for collision avoidance across devices; this only
// needs to avoid reusing an id within one process lifetime.
func nextKeyID() uint32 {
	keyIDCounter++
	return keyIDCounter
}

// nowFunc is the clock every rotation, resend and cover-traffic check
// in this package reads; it is a variable so it can be replaced.
var nowFunc = time.Now

func encodePublishPreKeys(spk ratchet.SignedPreKey, kemPub []byte, otpks []ratchet.OneTimePreKey) []byte {
	w := wire.NewWriter(96 + len(kemPub) + 40*len(otpks))
	w.PutU32(spk.KeyID)
	w.PutRaw(spk.DH.Public[:])
	w.PutBytes(spk.Signature)
	w.PutBytes(kemPub)
	w.PutU32(uint32(len(otpks)))
	for _, k := range otpks {
		w.PutU32(k.KeyID)
		w.PutRaw(k.DH.Public[:])
	}
	return w.Bytes()
}

func encodePreKeyBundle(b ratchet.PreKeyBundle) []byte {
	w := wire.NewWriter(128 + len(b.IdentitySigPub) + len(b.SignedPreKeySig) + len(b.KEMPublicKey))
	w.PutString(b.Username)
	w.PutBytes(b.IdentitySigPub)
	w.PutRaw(b.IdentityDHPub[:])
	w.PutU32(b.SignedPreKeyID)
	w.PutRaw(b.SignedPreKeyPub[:])
	w.PutBytes(b.SignedPreKeySig)
	if b.OneTimePreKeyID != nil && b.OneTimePreKeyPub != nil {
		w.PutU8(1)
		w.PutU32(*b.OneTimePreKeyID)
		w.PutRaw(b.OneTimePreKeyPub[:])
	} else {
		w.PutU8(0)
	}
	w.PutBytes(b.KEMPublicKey)
	return w.Bytes()
}

func decodePreKeyBundle(r *wire.Reader) (ratchet.PreKeyBundle, error) {
	var b ratchet.PreKeyBundle
	username, err := r.String()
	if err != nil {
		return b, err
	}
	sigPub, err := r.Bytes()
	if err != nil {
		return b, err
	}
	dhPub, err := r.Raw(32)
	if err != nil {
		return b, err
	}
	spkID, err := r.U32()
	if err != nil {
		return b, err
	}
	spkPub, err := r.Raw(32)
	if err != nil {
		return b, err
	}
	spkSig, err := r.Bytes()
	if err != nil {
		return b, err
	}
	hasOTPK, err := r.U8()
	if err != nil {
		return b, err
	}
	var otpkID *uint32
	var otpkPub *[32]byte
	if hasOTPK != 0 {
		id, err := r.U32()
		if err != nil {
			return b, err
		}
		pub, err := r.Raw(32)
		if err != nil {
			return b, err
		}
		var fixed [32]byte
		copy(fixed[:], pub)
		otpkID = &id
		otpkPub = &fixed
	}
	kemPub, err := r.Bytes()
	if err != nil {
		return b, err
	}

	b.Username = username
	b.IdentitySigPub = sigPub
	copy(b.IdentityDHPub[:], dhPub)
	b.SignedPreKeyID = spkID
	copy(b.SignedPreKeyPub[:], spkPub)
	b.SignedPreKeySig = spkSig
	b.OneTimePreKeyID = otpkID
	b.OneTimePreKeyPub = otpkPub
	b.KEMPublicKey = kemPub
	return b, nil
}

// decodePreKeyBundleResponse parses a FetchPreKeyBundle response: the
// bundle itself followed by its key-transparency proof extension.
func decodePreKeyBundleResponse(payload []byte) (ratchet.PreKeyBundle, KTProof, error) {
	r := wire.NewReader(payload)
	bundle, err := decodePreKeyBundle(r)
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode pre-key bundle: %w", err)
	}

	ktVersion, err := r.U32()
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt version: %w", err)
	}
	if ktVersion != 1 {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: unsupported kt response version %d", ktVersion)
	}
	treeSize, err := r.U64()
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt tree size: %w", err)
	}
	rootBytes, err := r.Raw(32)
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt root: %w", err)
	}
	leafIndex, err := r.U64()
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt leaf index: %w", err)
	}
	inclusion, err := decodeHashList(r)
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt inclusion proof: %w", err)
	}
	consistency, err := decodeHashList(r)
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt consistency proof: %w", err)
	}
	sthSig, err := r.Bytes()
	if err != nil {
		return bundle, KTProof{}, fmt.Errorf("orchestrator: decode kt sth signature: %w", err)
	}

	var root [32]byte
	copy(root[:], rootBytes)
	proof := KTProof{
		STH:              ktclient.SignedTreeHead{TreeSize: treeSize, Root: root, Signature: sthSig},
		LeafIndex:        leafIndex,
		InclusionProof:   inclusion,
		ConsistencyProof: consistency,
	}
	return bundle, proof, nil
}

func decodeHashList(r *wire.Reader) ([][32]byte, error) {
	count, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := r.Raw(32)
		if err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], raw)
		out = append(out, h)
	}
	return out, nil
}
