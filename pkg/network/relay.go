package network

import (
	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	// CacheSize bounds the message cache. Zero selects the default.
	CacheSize int

	// LoggerFactory creates the relay logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Relay implements the relay feature (Section 3.4.6.3): PDUs addressed to
// other nodes are re-encoded with a decremented TTL and flooded onward,
// once per PDU thanks to the message cache.
type Relay struct {
	cache *MessageCache
	log   logging.LeveledLogger
}

// NewRelay creates a relay with its message cache.
func NewRelay(config RelayConfig) (*Relay, error) {
	cache, err := NewMessageCache(config.CacheSize)
	if err != nil {
		return nil, err
	}
	r := &Relay{cache: cache}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("relay")
	}
	return r, nil
}

// Cached records raw PDU bytes in the message cache and reports whether the
// PDU was seen before. Callers drop PDUs that were.
func (r *Relay) Cached(raw []byte) bool {
	return r.cache.Seen(raw)
}

// Outgoing decides whether a decoded PDU should be relayed and, if so,
// re-encodes it with TTL-1 under the key it arrived on. It returns nil when
// the PDU must not be relayed: TTL of 1 or less, or a destination that is
// this node itself.
func (r *Relay) Outgoing(pdu *PDU, keys *crypto.NetworkKeys, ivIndex mesh.IVIndex, local mesh.UnicastAddress) ([]byte, error) {
	if pdu.TTL <= 1 {
		return nil, nil
	}
	if pdu.Dst == local.Address() {
		return nil, nil
	}

	forwarded := *pdu
	forwarded.TTL--
	raw, err := forwarded.Encode(keys, ivIndex)
	if err != nil {
		return nil, err
	}
	if r.log != nil {
		r.log.Tracef("relaying PDU from %#x to %#x, ttl %d", pdu.Src, pdu.Dst, forwarded.TTL)
	}
	return raw, nil
}
