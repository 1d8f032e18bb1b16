package network

import "errors"

var (
	ErrPDUTooShort       = errors.New("network: PDU shorter than minimum")
	ErrPDUTooLong        = errors.New("network: transport PDU exceeds maximum")
	ErrEmptyTransportPDU = errors.New("network: empty transport PDU")
	ErrInvalidSrc        = errors.New("network: source address is not unicast")
	ErrNoMatchingKey     = errors.New("network: no network key authenticates the PDU")
	ErrReplay            = errors.New("network: PDU replays an already seen sequence")
)
