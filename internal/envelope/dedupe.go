package envelope

import "encoding/hex"

// DedupeCap is the FIFO-eviction capacity of the inbound dedupe set.
const DedupeCap = 4096

// dedupeKey renders a (sender, msg_id) pair as `sender|msg_id_hex`.
func dedupeKey(sender string, id MsgID) string {
	return sender + "|" + hex.EncodeToString(id[:])
}

// Dedupe tracks recently seen (sender, msg_id) pairs, evicting the
// oldest entry once Cap is exceeded. Not safe for concurrent use — the
// orchestrator's PollChat sweep is single-threaded by design.
type Dedupe struct {
	seen  map[string]struct{}
	order []string
	cap   int
}

// NewDedupe constructs a Dedupe capped at capacity entries.
func NewDedupe(capacity int) *Dedupe {
	if capacity <= 0 {
		capacity = DedupeCap
	}
	return &Dedupe{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// SeenBefore reports whether (sender, id) has already been recorded,
// without mutating the set.
func (d *Dedupe) SeenBefore(sender string, id MsgID) bool {
	_, ok := d.seen[dedupeKey(sender, id)]
	return ok
}

// Record marks (sender, id) as seen, evicting the oldest entry if the
// set is now over capacity. Returns false if the pair was already
// present (a duplicate), true if it was newly recorded.
func (d *Dedupe) Record(sender string, id MsgID) bool {
	key := dedupeKey(sender, id)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}

// Len reports how many entries are currently tracked.
func (d *Dedupe) Len() int { return len(d.order) }
