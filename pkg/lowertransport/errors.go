package lowertransport

import "errors"

var (
	ErrPDUTooShort        = errors.New("lowertransport: PDU shorter than minimum")
	ErrPayloadTooLong     = errors.New("lowertransport: payload exceeds PDU capacity")
	ErrEmptyPayload       = errors.New("lowertransport: empty payload")
	ErrInvalidSegmentIdx  = errors.New("lowertransport: SegO exceeds SegN")
	ErrTooManySegments    = errors.New("lowertransport: message needs more than 32 segments")
	ErrInvalidOpcode      = errors.New("lowertransport: invalid control opcode")
	ErrNotSegmentAck      = errors.New("lowertransport: control PDU is not a Segment Acknowledgment")
	ErrSegmentMismatch    = errors.New("lowertransport: segment inconsistent with reassembly context")
	ErrStaleSegment       = errors.New("lowertransport: segment for an abandoned message")
	ErrDuplicateSegment   = errors.New("lowertransport: segment already received")
	ErrMessageComplete    = errors.New("lowertransport: message already reassembled")
	ErrUnknownTransaction = errors.New("lowertransport: no reassembly in progress for source")
)
