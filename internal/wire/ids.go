package wire

import "github.com/google/uuid"

// NewID generates a fresh 16-byte wire identifier (msg_id, call_id,
// request_id, …).
func NewID() [FixedIDSize]byte {
	return uuid.New()
}
