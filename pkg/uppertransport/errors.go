package uppertransport

import "errors"

var (
	ErrEmptyPayload     = errors.New("uppertransport: empty access payload")
	ErrPayloadTooLong   = errors.New("uppertransport: access payload exceeds maximum")
	ErrPDUTooShort      = errors.New("uppertransport: PDU shorter than TransMIC")
	ErrNoMatchingAppKey = errors.New("uppertransport: no application key authenticates the PDU")
	ErrAuthentication   = errors.New("uppertransport: device key authentication failed")
	ErrMissingLabel     = errors.New("uppertransport: virtual destination without label UUID")
	ErrLabelMismatch    = errors.New("uppertransport: label UUID does not hash to destination")
	ErrInvalidHeartbeat = errors.New("uppertransport: malformed heartbeat message")
)
