package uppertransport

import (
	"encoding/binary"

	"github.com/btmesh/btmesh/pkg/mesh"
)

// Feature bits advertised in a Heartbeat message (Section 4.2.18).
const (
	FeatureRelay    uint16 = 1 << 0
	FeatureProxy    uint16 = 1 << 1
	FeatureFriend   uint16 = 1 << 2
	FeatureLowPower uint16 = 1 << 3
)

// Heartbeat is the Heartbeat transport control message (Section 3.6.5.10).
// Subtracting the received TTL from InitTTL gives the hop count between
// publisher and subscriber.
type Heartbeat struct {
	InitTTL  mesh.TTL
	Features uint16
}

// Encode returns the 3-byte heartbeat parameters.
func (h *Heartbeat) Encode() []byte {
	out := make([]byte, 3)
	out[0] = uint8(h.InitTTL) & mesh.TTLMax
	binary.BigEndian.PutUint16(out[1:3], h.Features)
	return out
}

// ParseHeartbeat decodes heartbeat control message parameters.
func ParseHeartbeat(params []byte) (*Heartbeat, error) {
	if len(params) != 3 {
		return nil, ErrInvalidHeartbeat
	}
	return &Heartbeat{
		InitTTL:  mesh.TTL(params[0] & mesh.TTLMax),
		Features: binary.BigEndian.Uint16(params[1:3]),
	}, nil
}

// Hops computes the hop count from the initial and received TTL.
func (h *Heartbeat) Hops(receivedTTL mesh.TTL) uint8 {
	return uint8(h.InitTTL) - uint8(receivedTTL) + 1
}
