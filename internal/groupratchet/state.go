package groupratchet

import (
	"sort"
	"strings"
	"time"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
)

// membersHash hashes a sorted participant list so rotation can detect
// membership changes regardless of the order callers pass members in.
func membersHash(members []string) [32]byte {
	sorted := append([]string{}, members...)
	sort.Strings(sorted)
	return corecrypto.SHA256([]byte("mi_e2ee_group_members_v1"), []byte(strings.Join(sorted, "\x00")))
}

// SenderKeyState is one sender's symmetric group-chat chain within a
// group.
type SenderKeyState struct {
	GroupID       string
	Sender        string
	Version       uint32
	ChainKey      [32]byte
	Iteration     uint32
	MembersHash   [32]byte
	RotatedAt     time.Time
	SentCount     uint64
	skipped       *skippedCache
}

// NewSenderKeyState generates a fresh chain for (group, sender),
// stamping the current membership hash and rotation time.
func NewSenderKeyState(groupID, sender string, version uint32, members []string, now time.Time) (*SenderKeyState, error) {
	var ck [32]byte
	if err := corecrypto.RandomFill(ck[:]); err != nil {
		return nil, err
	}
	return &SenderKeyState{
		GroupID:     groupID,
		Sender:      sender,
		Version:     version,
		ChainKey:    ck,
		Iteration:   0,
		MembersHash: membersHash(members),
		RotatedAt:   now,
		skipped:     newSkippedCache(SkippedCap),
	}, nil
}

// NeedsRotation reports whether any of the three mandatory rotation
// triggers hold: membership change, sent-count ceiling, or age.
func (s *SenderKeyState) NeedsRotation(currentMembers []string, now time.Time) bool {
	if membersHash(currentMembers) != s.MembersHash {
		return true
	}
	if s.SentCount >= RotationSentCountThreshold {
		return true
	}
	if now.Sub(s.RotatedAt) >= RotationMaxAge*time.Second {
		return true
	}
	return false
}

// step advances the chain by one message, returning the message key
// to encrypt under and the iteration it was issued at.
func (s *SenderKeyState) step() (messageKey [32]byte, iteration uint32, err error) {
	nextChain, mk, err := kdfChainStep(s.ChainKey)
	if err != nil {
		return [32]byte{}, 0, err
	}
	iteration = s.Iteration
	s.ChainKey = nextChain
	s.Iteration++
	s.SentCount++
	return mk, iteration, nil
}

// kdfChainStep derives the next chain key and the message key for the
// current iteration from a group sender-key chain key.
func kdfChainStep(chainKey [32]byte) (nextChain, messageKey [32]byte, err error) {
	out, err := corecrypto.HKDF(chainKey[:], nil, []byte(infoChainStep), 64)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	copy(nextChain[:], out[:32])
	copy(messageKey[:], out[32:])
	return nextChain, messageKey, nil
}
