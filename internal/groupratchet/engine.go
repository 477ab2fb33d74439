package groupratchet

import (
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// receiverKey identifies a receiver's cached chain state for one
// sender within one group.
type receiverKey struct {
	groupID string
	sender  string
}

// Engine owns every sender-key chain a local client both sends on
// (one per group it participates in) and has learned about from other
// senders, plus outstanding distributions awaiting acknowledgement.
type Engine struct {
	owned    map[string]*SenderKeyState // keyed by groupID, local sender's own chain
	learned  map[receiverKey]*SenderKeyState
	pending  map[receiverKey]*PendingDistribution
}

func NewEngine() *Engine {
	return &Engine{
		owned:   make(map[string]*SenderKeyState),
		learned: make(map[receiverKey]*SenderKeyState),
		pending: make(map[receiverKey]*PendingDistribution),
	}
}

// EnsureOwnChain returns the local sender's current chain for a group,
// rotating (bumping the version, resetting iteration/sent-count) when
// NeedsRotation holds. On rotation, the returned bool is true and the
// caller must distribute the fresh chain to members and drop any
// still-unacknowledged distribution from the old version.
func (e *Engine) EnsureOwnChain(groupID, localSender string, members []string, now time.Time) (*SenderKeyState, bool, error) {
	existing, ok := e.owned[groupID]
	if ok && !existing.NeedsRotation(members, now) {
		return existing, false, nil
	}

	version := uint32(1)
	if ok {
		version = existing.Version + 1
	}
	fresh, err := NewSenderKeyState(groupID, localSender, version, members, now)
	if err != nil {
		return nil, false, err
	}
	e.owned[groupID] = fresh
	delete(e.pending, receiverKey{groupID: groupID, sender: localSender})
	return fresh, true, nil
}

// Seal advances the local sender's chain for a group by one message
// and seals plaintext under the derived message key, returning the
// version/iteration header the recipient needs plus the ciphertext.
func (e *Engine) Seal(groupID string, plaintext, associatedData []byte) (version, iteration uint32, ciphertext []byte, err error) {
	state, ok := e.owned[groupID]
	if !ok {
		return 0, 0, nil, ErrUnknownSenderKey
	}
	mk, iter, err := state.step()
	if err != nil {
		return 0, 0, nil, err
	}
	ct, err := corecrypto.Seal(mk[:], plaintext, associatedData)
	corecrypto.Zero(mk[:])
	if err != nil {
		return 0, 0, nil, err
	}
	return state.Version, iter, ct, nil
}

// ApplyDistribution installs or replaces a verified distribution for a
// (group, sender), discarding any previously learned chain for that
// pair if the new distribution carries a newer version.
func (e *Engine) ApplyDistribution(d Distribution, senderSigPub []byte, now time.Time) error {
	if !VerifyDistribution(d, senderSigPub) {
		return ErrBadSignature
	}
	key := receiverKey{groupID: d.GroupID, sender: string(senderSigPub)}
	if existing, ok := e.learned[key]; ok && d.Version <= existing.Version {
		return ErrRotationVersionStale
	}
	e.learned[key] = &SenderKeyState{
		GroupID:   d.GroupID,
		Sender:    key.sender,
		Version:   d.Version,
		ChainKey:  d.ChainKey,
		Iteration: d.Iteration,
		RotatedAt: now,
		skipped:   newSkippedCache(SkippedCap),
	}
	return nil
}

// Open decrypts an inbound group ciphertext from a known sender,
// catching up skipped iterations within budget exactly as the pairwise
// engine does, keyed by (version, iteration) instead of (dh_pub,
// counter).
func (e *Engine) Open(groupID, senderSigPubKey string, version, iteration uint32, ciphertext, associatedData []byte) ([]byte, error) {
	key := receiverKey{groupID: groupID, sender: senderSigPubKey}
	state, ok := e.learned[key]
	if !ok || state.Version != version {
		return nil, ErrUnknownSenderKey
	}

	if mk, found := state.skipped.take(version, iteration); found {
		plaintext, err := corecrypto.Open(mk[:], ciphertext, associatedData)
		corecrypto.Zero(mk[:])
		if err != nil {
			return nil, ErrAuthFailure
		}
		return plaintext, nil
	}

	if iteration < state.Iteration {
		return nil, ErrAuthFailure
	}
	skip := int(iteration - state.Iteration)
	if skip > MaxSkip {
		return nil, ErrSkipBudgetExceeded
	}

	chain := state.ChainKey
	for i := 0; i < skip; i++ {
		next, mk, err := kdfChainStep(chain)
		if err != nil {
			return nil, err
		}
		state.skipped.put(version, state.Iteration+uint32(i), mk)
		chain = next
	}
	nextChain, mk, err := kdfChainStep(chain)
	if err != nil {
		return nil, err
	}

	plaintext, err := corecrypto.Open(mk[:], ciphertext, associatedData)
	corecrypto.Zero(mk[:])
	if err != nil {
		return nil, ErrAuthFailure
	}
	state.ChainKey = nextChain
	state.Iteration = iteration + 1
	return plaintext, nil
}

// TrackPending begins tracking delivery of a just-sent distribution to
// the given members, keyed by the local sender's own identity.
func (e *Engine) TrackPending(groupID, localSender string, dist Distribution, members []string, now time.Time) {
	e.pending[receiverKey{groupID: groupID, sender: localSender}] = NewPendingDistribution(dist, members, now)
}

// AckPending records a member's acknowledgement of the local sender's
// outstanding distribution for a group.
func (e *Engine) AckPending(groupID, localSender, member string) {
	if p, ok := e.pending[receiverKey{groupID: groupID, sender: localSender}]; ok {
		p.Ack(member)
	}
}

// PendingFor returns the outstanding distribution for (group, local
// sender), if any is still awaiting acknowledgement.
func (e *Engine) PendingFor(groupID, localSender string) (*PendingDistribution, bool) {
	p, ok := e.pending[receiverKey{groupID: groupID, sender: localSender}]
	return p, ok
}

// OwnedGroups returns every group id this engine currently holds a
// local sender chain for, so a caller can sweep all of them for
// due-for-resend distributions without tracking its own membership list.
func (e *Engine) OwnedGroups() []string {
	groups := make([]string, 0, len(e.owned))
	for groupID := range e.owned {
		groups = append(groups, groupID)
	}
	return groups
}
