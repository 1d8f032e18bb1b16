package provisioning

import (
	"encoding/binary"
)

// Generic Provisioning layer (Section 5.3): provisioning PDUs are carried
// in transactions of up to 64 segments. The two low bits of the first
// octet, the Generic Provisioning Control Format, select the PDU kind.

// GPCF values (Table 5.5).
const (
	gpcfTransactionStart        = 0x00
	gpcfTransactionAck          = 0x01
	gpcfTransactionContinuation = 0x02
	gpcfBearerControl           = 0x03
	gpcfMask                    = 0x03
)

// Segment capacities over the advertising bearer: the start PDU spends 4
// header octets of the 24-byte MTU, a continuation 1.
const (
	StartDataLen        = 20
	ContinuationDataLen = 23

	// maxSegmentIndex is the largest 6-bit SegN/SegmentIndex.
	maxSegmentIndex = 0x3F

	// MaxTransactionLen is the largest provisioning PDU a 64-segment
	// transaction can carry.
	MaxTransactionLen = StartDataLen + maxSegmentIndex*ContinuationDataLen
)

// GenericPDU is one of TransactionStart, TransactionAck,
// TransactionContinuation or BearerControlPDU.
type GenericPDU interface {
	// EncodeGeneric returns the Generic Provisioning PDU wire bytes.
	EncodeGeneric() ([]byte, error)
}

// TransactionStart opens a transaction: it announces the segment count,
// the total payload length and the FCS of the reassembled payload.
type TransactionStart struct {
	SegN        uint8
	TotalLength uint16
	FCS         uint8
	Data        []byte
}

func (p *TransactionStart) EncodeGeneric() ([]byte, error) {
	if p.SegN > maxSegmentIndex {
		return nil, ErrSegmentOutOfRange
	}
	if len(p.Data) > StartDataLen {
		return nil, ErrPDUTooLong
	}
	out := make([]byte, 4+len(p.Data))
	out[0] = p.SegN<<2 | gpcfTransactionStart
	binary.BigEndian.PutUint16(out[1:3], p.TotalLength)
	out[3] = p.FCS
	copy(out[4:], p.Data)
	return out, nil
}

// TransactionAck acknowledges a completed transaction.
type TransactionAck struct{}

func (p *TransactionAck) EncodeGeneric() ([]byte, error) {
	return []byte{gpcfTransactionAck}, nil
}

// TransactionContinuation carries one follow-up segment.
type TransactionContinuation struct {
	SegmentIndex uint8
	Data         []byte
}

func (p *TransactionContinuation) EncodeGeneric() ([]byte, error) {
	if p.SegmentIndex == 0 || p.SegmentIndex > maxSegmentIndex {
		return nil, ErrSegmentOutOfRange
	}
	if len(p.Data) == 0 || len(p.Data) > ContinuationDataLen {
		return nil, ErrPDUTooLong
	}
	out := make([]byte, 1+len(p.Data))
	out[0] = p.SegmentIndex<<2 | gpcfTransactionContinuation
	copy(out[1:], p.Data)
	return out, nil
}

// ParseGeneric decodes a Generic Provisioning PDU.
func ParseGeneric(data []byte) (GenericPDU, error) {
	if len(data) == 0 {
		return nil, ErrPDUTooShort
	}
	switch data[0] & gpcfMask {
	case gpcfTransactionStart:
		if len(data) < 4 {
			return nil, ErrPDUTooShort
		}
		return &TransactionStart{
			SegN:        data[0] >> 2,
			TotalLength: binary.BigEndian.Uint16(data[1:3]),
			FCS:         data[3],
			Data:        data[4:],
		}, nil
	case gpcfTransactionAck:
		return &TransactionAck{}, nil
	case gpcfTransactionContinuation:
		if len(data) < 2 {
			return nil, ErrPDUTooShort
		}
		return &TransactionContinuation{
			SegmentIndex: data[0] >> 2,
			Data:         data[1:],
		}, nil
	default:
		return parseBearerControl(data)
	}
}
