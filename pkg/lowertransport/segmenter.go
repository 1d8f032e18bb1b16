package lowertransport

import (
	"github.com/btmesh/btmesh/pkg/mesh"
)

// SegmentAccessMessage splits an encrypted Upper Transport access PDU
// (payload plus TransMIC) into segmented access PDUs sharing one SeqZero.
// Messages of up to 15 bytes can travel unsegmented instead, but a sender
// may still segment them to get an acknowledged delivery; the choice is the
// caller's.
func SegmentAccessMessage(akf bool, aid mesh.AID, szmic bool, seqZero mesh.SeqZero, upperPDU []byte) ([]*SegmentedAccess, error) {
	chunks, err := split(upperPDU, MaxAccessSegmentLen)
	if err != nil {
		return nil, err
	}
	segN := uint8(len(chunks) - 1)
	out := make([]*SegmentedAccess, len(chunks))
	for i, chunk := range chunks {
		out[i] = &SegmentedAccess{
			AKF:     akf,
			AID:     aid,
			SZMIC:   szmic,
			SeqZero: seqZero,
			SegO:    uint8(i),
			SegN:    segN,
			Segment: chunk,
		}
	}
	return out, nil
}

// SegmentControlMessage splits control message parameters into segmented
// control PDUs sharing one SeqZero.
func SegmentControlMessage(opcode ControlOpcode, seqZero mesh.SeqZero, params []byte) ([]*SegmentedControl, error) {
	if !opcode.Valid() {
		return nil, ErrInvalidOpcode
	}
	chunks, err := split(params, MaxControlSegmentLen)
	if err != nil {
		return nil, err
	}
	segN := uint8(len(chunks) - 1)
	out := make([]*SegmentedControl, len(chunks))
	for i, chunk := range chunks {
		out[i] = &SegmentedControl{
			Opcode:  opcode,
			SeqZero: seqZero,
			SegO:    uint8(i),
			SegN:    segN,
			Segment: chunk,
		}
	}
	return out, nil
}

// SelectRetransmits filters segments down to those a received BlockAck
// reports missing.
func SelectRetransmits(segments []*SegmentedAccess, ack BlockAck) []*SegmentedAccess {
	var out []*SegmentedAccess
	for _, s := range segments {
		if !ack.Acked(s.SegO) {
			out = append(out, s)
		}
	}
	return out
}

func split(payload []byte, segLen int) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	n := (len(payload) + segLen - 1) / segLen
	if n > SegMax+1 {
		return nil, ErrTooManySegments
	}
	chunks := make([][]byte, 0, n)
	for len(payload) > 0 {
		end := segLen
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[:end])
		payload = payload[end:]
	}
	return chunks, nil
}
