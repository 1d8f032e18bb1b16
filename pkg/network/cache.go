package network

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMessageCacheSize bounds the relay message cache. The cache only
// needs to cover the flooding horizon of recent PDUs, not the full replay
// history.
const DefaultMessageCacheSize = 128

// MessageCache is the network message cache of Section 3.4.6.5. It
// remembers recently seen Network PDUs so a relay does not re-process or
// re-flood the same PDU arriving over multiple paths.
type MessageCache struct {
	cache *lru.Cache[string, struct{}]
}

// NewMessageCache creates a message cache holding up to size PDUs. A size
// of zero or less selects DefaultMessageCacheSize.
func NewMessageCache(size int) (*MessageCache, error) {
	if size <= 0 {
		size = DefaultMessageCacheSize
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &MessageCache{cache: c}, nil
}

// Seen records the raw PDU and reports whether it was already present. The
// raw (still obfuscated) bytes are used as the key, so identical PDUs
// arriving via different relays collapse to one entry.
func (c *MessageCache) Seen(raw []byte) bool {
	key := string(raw)
	if _, ok := c.cache.Get(key); ok {
		return true
	}
	c.cache.Add(key, struct{}{})
	return false
}
