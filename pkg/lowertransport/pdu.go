// Package lowertransport implements the Bluetooth Mesh Lower Transport
// layer (Section 3.5): segmentation of Upper Transport PDUs into Network
// sized segments, reassembly with Segment Acknowledgment generation, and
// the codecs for the four Lower Transport PDU kinds.
//
// The PDU kind is selected by the network-layer CTL bit together with the
// SEG bit in the first octet:
//
//	CTL  SEG  PDU
//	 0    0   Unsegmented Access
//	 0    1   Segmented Access
//	 1    0   Unsegmented Control (opcode 0x00 is Segment Acknowledgment)
//	 1    1   Segmented Control
package lowertransport

import (
	"github.com/btmesh/btmesh/pkg/mesh"
)

// Payload capacities per PDU kind (Sections 3.5.2.1 through 3.5.2.4).
const (
	// MaxUnsegmentedAccessLen is the largest Upper Transport access PDU
	// that fits unsegmented (including its TransMIC).
	MaxUnsegmentedAccessLen = 15

	// MaxAccessSegmentLen is the segment payload size of a segmented
	// access message.
	MaxAccessSegmentLen = 12

	// MaxControlParamsLen is the largest parameter block of an
	// unsegmented control message.
	MaxControlParamsLen = 11

	// MaxControlSegmentLen is the segment payload size of a segmented
	// control message.
	MaxControlSegmentLen = 8

	// SegMax is the largest 5-bit SegO/SegN value; a message spans at
	// most SegMax+1 segments.
	SegMax = 0x1F

	segFlag = 0x80
)

// PDU is one of UnsegmentedAccess, SegmentedAccess, UnsegmentedControl or
// SegmentedControl.
type PDU interface {
	// Encode returns the Lower Transport PDU wire bytes.
	Encode() ([]byte, error)

	// Segmented reports whether the PDU carries the SEG flag.
	Segmented() bool
}

// Parse decodes a Lower Transport PDU. The CTL bit comes from the Network
// PDU header.
func Parse(ctl mesh.CTL, data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, ErrPDUTooShort
	}
	seg := data[0]&segFlag != 0
	switch {
	case !bool(ctl) && !seg:
		return parseUnsegmentedAccess(data)
	case !bool(ctl) && seg:
		return parseSegmentedAccess(data)
	case bool(ctl) && !seg:
		return parseUnsegmentedControl(data)
	default:
		return parseSegmentedControl(data)
	}
}

// UnsegmentedAccess carries a complete Upper Transport access PDU of up to
// 15 bytes in a single Network PDU.
type UnsegmentedAccess struct {
	// AKF is set when AID names an application key; cleared for the
	// device key.
	AKF bool
	AID mesh.AID

	// UpperPDU is the encrypted Upper Transport PDU including TransMIC.
	UpperPDU []byte
}

func (p *UnsegmentedAccess) Segmented() bool { return false }

func (p *UnsegmentedAccess) Encode() ([]byte, error) {
	if len(p.UpperPDU) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(p.UpperPDU) > MaxUnsegmentedAccessLen {
		return nil, ErrPayloadTooLong
	}
	out := make([]byte, 1+len(p.UpperPDU))
	out[0] = akfAID(p.AKF, p.AID)
	copy(out[1:], p.UpperPDU)
	return out, nil
}

func parseUnsegmentedAccess(data []byte) (*UnsegmentedAccess, error) {
	if len(data) < 2 {
		return nil, ErrPDUTooShort
	}
	if len(data)-1 > MaxUnsegmentedAccessLen {
		return nil, ErrPayloadTooLong
	}
	return &UnsegmentedAccess{
		AKF:      data[0]&0x40 != 0,
		AID:      mesh.AID(data[0] & mesh.AIDMax),
		UpperPDU: data[1:],
	}, nil
}

// SegmentedAccess is one segment of a segmented access message.
type SegmentedAccess struct {
	AKF bool
	AID mesh.AID

	// SZMIC selects the 64-bit TransMIC for the reassembled message.
	SZMIC   bool
	SeqZero mesh.SeqZero
	SegO    uint8
	SegN    uint8
	Segment []byte
}

func (p *SegmentedAccess) Segmented() bool { return true }

func (p *SegmentedAccess) Encode() ([]byte, error) {
	if err := validateSegment(p.SegO, p.SegN, p.Segment, MaxAccessSegmentLen); err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(p.Segment))
	out[0] = segFlag | akfAID(p.AKF, p.AID)
	packSegmentHeader(out[1:4], p.SZMIC, p.SeqZero, p.SegO, p.SegN)
	copy(out[4:], p.Segment)
	return out, nil
}

func parseSegmentedAccess(data []byte) (*SegmentedAccess, error) {
	if len(data) < 5 {
		return nil, ErrPDUTooShort
	}
	if len(data)-4 > MaxAccessSegmentLen {
		return nil, ErrPayloadTooLong
	}
	flag, seqZero, segO, segN := unpackSegmentHeader(data[1:4])
	if segO > segN {
		return nil, ErrInvalidSegmentIdx
	}
	return &SegmentedAccess{
		AKF:     data[0]&0x40 != 0,
		AID:     mesh.AID(data[0] & mesh.AIDMax),
		SZMIC:   flag,
		SeqZero: seqZero,
		SegO:    segO,
		SegN:    segN,
		Segment: data[4:],
	}, nil
}

// UnsegmentedControl carries a complete control message of up to 11
// parameter bytes.
type UnsegmentedControl struct {
	Opcode     ControlOpcode
	Parameters []byte
}

func (p *UnsegmentedControl) Segmented() bool { return false }

func (p *UnsegmentedControl) Encode() ([]byte, error) {
	if !p.Opcode.Valid() {
		return nil, ErrInvalidOpcode
	}
	if len(p.Parameters) > MaxControlParamsLen {
		return nil, ErrPayloadTooLong
	}
	out := make([]byte, 1+len(p.Parameters))
	out[0] = uint8(p.Opcode) & 0x7F
	copy(out[1:], p.Parameters)
	return out, nil
}

func parseUnsegmentedControl(data []byte) (*UnsegmentedControl, error) {
	if len(data)-1 > MaxControlParamsLen {
		return nil, ErrPayloadTooLong
	}
	return &UnsegmentedControl{
		Opcode:     ControlOpcode(data[0] & 0x7F),
		Parameters: data[1:],
	}, nil
}

// SegmentedControl is one segment of a segmented control message.
type SegmentedControl struct {
	Opcode  ControlOpcode
	SeqZero mesh.SeqZero
	SegO    uint8
	SegN    uint8
	Segment []byte
}

func (p *SegmentedControl) Segmented() bool { return true }

func (p *SegmentedControl) Encode() ([]byte, error) {
	if !p.Opcode.Valid() {
		return nil, ErrInvalidOpcode
	}
	if err := validateSegment(p.SegO, p.SegN, p.Segment, MaxControlSegmentLen); err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(p.Segment))
	out[0] = segFlag | uint8(p.Opcode)&0x7F
	packSegmentHeader(out[1:4], false, p.SeqZero, p.SegO, p.SegN)
	copy(out[4:], p.Segment)
	return out, nil
}

func parseSegmentedControl(data []byte) (*SegmentedControl, error) {
	if len(data) < 5 {
		return nil, ErrPDUTooShort
	}
	if len(data)-4 > MaxControlSegmentLen {
		return nil, ErrPayloadTooLong
	}
	_, seqZero, segO, segN := unpackSegmentHeader(data[1:4])
	if segO > segN {
		return nil, ErrInvalidSegmentIdx
	}
	return &SegmentedControl{
		Opcode:  ControlOpcode(data[0] & 0x7F),
		SeqZero: seqZero,
		SegO:    segO,
		SegN:    segN,
		Segment: data[4:],
	}, nil
}

func akfAID(akf bool, aid mesh.AID) uint8 {
	b := uint8(aid) & mesh.AIDMax
	if akf {
		b |= 0x40
	}
	return b
}

func validateSegment(segO, segN uint8, segment []byte, maxLen int) error {
	if segN > SegMax || segO > segN {
		return ErrInvalidSegmentIdx
	}
	if len(segment) == 0 {
		return ErrEmptyPayload
	}
	if len(segment) > maxLen {
		return ErrPayloadTooLong
	}
	return nil
}

// packSegmentHeader writes the 24-bit segmentation header
// Flag(1) | SeqZero(13) | SegO(5) | SegN(5). The flag bit is SZMIC for
// access messages and RFU for control messages.
func packSegmentHeader(b []byte, flag bool, seqZero mesh.SeqZero, segO, segN uint8) {
	b[0] = uint8(seqZero >> 6)
	if flag {
		b[0] |= 0x80
	}
	b[1] = uint8(seqZero&0x3F)<<2 | segO>>3
	b[2] = segO<<5 | segN&SegMax
}

func unpackSegmentHeader(b []byte) (flag bool, seqZero mesh.SeqZero, segO, segN uint8) {
	flag = b[0]&0x80 != 0
	seqZero = mesh.SeqZero(b[0]&0x7F)<<6 | mesh.SeqZero(b[1]>>2)
	segO = (b[1]&0x03)<<3 | b[2]>>5
	segN = b[2] & SegMax
	return
}
