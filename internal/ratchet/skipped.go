package ratchet

// skippedKey identifies one cached message key: the sending chain's DH
// public at the time, plus the counter within that chain.
type skippedKey struct {
	dhPub   [32]byte
	counter uint32
}

// skippedCache stores message keys computed ahead of an inbound
// counter, insertion-ordered so it can be evicted FIFO past its cap.
type skippedCache struct {
	keys  map[skippedKey][32]byte
	order []skippedKey
	cap   int
}

func newSkippedCache(capacity int) *skippedCache {
	return &skippedCache{keys: make(map[skippedKey][32]byte), cap: capacity}
}

func (c *skippedCache) put(dhPub [32]byte, counter uint32, key [32]byte) {
	k := skippedKey{dhPub: dhPub, counter: counter}
	if _, exists := c.keys[k]; exists {
		return
	}
	c.keys[k] = key
	c.order = append(c.order, k)
	for len(c.order) > c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.keys, oldest)
	}
}

// take returns and erases the cached key for (dhPub, counter), if present.
func (c *skippedCache) take(dhPub [32]byte, counter uint32) ([32]byte, bool) {
	k := skippedKey{dhPub: dhPub, counter: counter}
	key, ok := c.keys[k]
	if !ok {
		return [32]byte{}, false
	}
	delete(c.keys, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return key, true
}

func (c *skippedCache) len() int { return len(c.order) }
