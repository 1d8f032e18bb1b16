package lowertransport

import (
	"encoding/binary"

	"github.com/btmesh/btmesh/pkg/mesh"
)

// ControlOpcode is the 7-bit opcode of a Transport Control message
// (Section 3.5.2.3, Table 3.10).
type ControlOpcode uint8

const (
	OpcodeSegmentAck      ControlOpcode = 0x00
	OpcodeFriendPoll      ControlOpcode = 0x01
	OpcodeFriendUpdate    ControlOpcode = 0x02
	OpcodeFriendRequest   ControlOpcode = 0x03
	OpcodeFriendOffer     ControlOpcode = 0x04
	OpcodeFriendClear     ControlOpcode = 0x05
	OpcodeFriendClearCfm  ControlOpcode = 0x06
	OpcodeFriendSubsAdd   ControlOpcode = 0x07
	OpcodeFriendSubsRem   ControlOpcode = 0x08
	OpcodeFriendSubsCfm   ControlOpcode = 0x09
	OpcodeHeartbeat       ControlOpcode = 0x0A
	controlOpcodeMax      ControlOpcode = 0x7F
)

// Valid reports whether the opcode fits in 7 bits.
func (o ControlOpcode) Valid() bool {
	return o <= controlOpcodeMax
}

// String returns the opcode name.
func (o ControlOpcode) String() string {
	switch o {
	case OpcodeSegmentAck:
		return "SegmentAcknowledgment"
	case OpcodeFriendPoll:
		return "FriendPoll"
	case OpcodeFriendUpdate:
		return "FriendUpdate"
	case OpcodeFriendRequest:
		return "FriendRequest"
	case OpcodeFriendOffer:
		return "FriendOffer"
	case OpcodeFriendClear:
		return "FriendClear"
	case OpcodeFriendClearCfm:
		return "FriendClearConfirm"
	case OpcodeFriendSubsAdd:
		return "FriendSubscriptionListAdd"
	case OpcodeFriendSubsRem:
		return "FriendSubscriptionListRemove"
	case OpcodeFriendSubsCfm:
		return "FriendSubscriptionListConfirm"
	case OpcodeHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// BlockAck is the 32-bit acknowledgment bitmap of a Segment Acknowledgment:
// bit n set means segment SegO=n was received.
type BlockAck uint32

// WithAcked returns the bitmap with segment i marked received.
func (b BlockAck) WithAcked(i uint8) BlockAck {
	return b | 1<<i
}

// Acked reports whether segment i is marked received.
func (b BlockAck) Acked(i uint8) bool {
	return b&(1<<i) != 0
}

// AllAcked reports whether every segment 0..segN is marked received.
func (b BlockAck) AllAcked(segN uint8) bool {
	all := BlockAck(1)<<(segN+1) - 1
	return b&all == all
}

// Remaining returns the SegO values of segments 0..segN not yet received,
// i.e. the segments a sender must retransmit.
func (b BlockAck) Remaining(segN uint8) []uint8 {
	var out []uint8
	for i := uint8(0); i <= segN; i++ {
		if !b.Acked(i) {
			out = append(out, i)
		}
	}
	return out
}

// SegmentAck is the Segment Acknowledgment control message
// (Section 3.5.3.3): OBO(1) | SeqZero(13) | RFU(2) followed by the 32-bit
// BlockAck. A BlockAck of zero tells the sender to cancel the message.
type SegmentAck struct {
	// OBO is set when a Friend node acknowledges on behalf of a Low
	// Power node.
	OBO      bool
	SeqZero  mesh.SeqZero
	BlockAck BlockAck
}

// ToControl encodes the acknowledgment as an unsegmented control PDU.
func (a *SegmentAck) ToControl() *UnsegmentedControl {
	params := make([]byte, 6)
	params[0] = uint8(a.SeqZero >> 6)
	if a.OBO {
		params[0] |= 0x80
	}
	params[1] = uint8(a.SeqZero&0x3F) << 2
	binary.BigEndian.PutUint32(params[2:6], uint32(a.BlockAck))
	return &UnsegmentedControl{Opcode: OpcodeSegmentAck, Parameters: params}
}

// ParseSegmentAck decodes a Segment Acknowledgment from an unsegmented
// control PDU.
func ParseSegmentAck(c *UnsegmentedControl) (*SegmentAck, error) {
	if c.Opcode != OpcodeSegmentAck {
		return nil, ErrNotSegmentAck
	}
	if len(c.Parameters) != 6 {
		return nil, ErrPDUTooShort
	}
	return &SegmentAck{
		OBO:      c.Parameters[0]&0x80 != 0,
		SeqZero:  mesh.SeqZero(c.Parameters[0]&0x7F)<<6 | mesh.SeqZero(c.Parameters[1]>>2),
		BlockAck: BlockAck(binary.BigEndian.Uint32(c.Parameters[2:6])),
	}, nil
}
