package provisioning

import "errors"

var (
	ErrPDUTooShort          = errors.New("provisioning: PDU shorter than minimum")
	ErrPDUTooLong           = errors.New("provisioning: PDU exceeds maximum")
	ErrInvalidPDUType       = errors.New("provisioning: unknown PDU type")
	ErrInvalidGPCF          = errors.New("provisioning: unknown generic PDU control format")
	ErrInvalidBearerOpcode  = errors.New("provisioning: unknown bearer control opcode")
	ErrFCSMismatch          = errors.New("provisioning: transaction FCS check failed")
	ErrLengthMismatch       = errors.New("provisioning: transaction length mismatch")
	ErrSegmentOutOfRange    = errors.New("provisioning: segment index out of range")
	ErrDuplicateSegment     = errors.New("provisioning: segment already received")
	ErrNoTransaction        = errors.New("provisioning: continuation without a transaction start")
	ErrTransactionTooLarge  = errors.New("provisioning: payload needs more than 64 segments")
	ErrLinkClosed           = errors.New("provisioning: link is closed")
	ErrLinkIDMismatch       = errors.New("provisioning: packet for a different link")
	ErrUnexpectedPDU        = errors.New("provisioning: PDU not valid in current state")
	ErrConfirmationMismatch = errors.New("provisioning: confirmation value check failed")
	ErrSessionFailed        = errors.New("provisioning: session entered failed state")
)
