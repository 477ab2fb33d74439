package groupratchet

// skippedKey identifies one cached group message key: the chain
// version it belongs to, plus the iteration within that chain.
type skippedKey struct {
	version   uint32
	iteration uint32
}

type skippedCache struct {
	keys  map[skippedKey][32]byte
	order []skippedKey
	cap   int
}

func newSkippedCache(capacity int) *skippedCache {
	return &skippedCache{keys: make(map[skippedKey][32]byte), cap: capacity}
}

func (c *skippedCache) put(version, iteration uint32, key [32]byte) {
	k := skippedKey{version: version, iteration: iteration}
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

func (c *skippedCache) take(version, iteration uint32) ([32]byte, bool) {
	k := skippedKey{version: version, iteration: iteration}
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
