// Package bearer defines the frame boundary underneath the Network layer
// and the provisioning bearers. A bearer delivers whole PDUs: the
// advertising bearer caps frames at 29 bytes for Network PDUs and 24 bytes
// for Generic Provisioning PDUs; a GATT bearer negotiates a larger MTU.
package bearer

import "errors"

var (
	// ErrClosed is returned on use of a closed bearer.
	ErrClosed = errors.New("bearer: closed")

	// ErrFrameTooLarge is returned when a frame exceeds the bearer MTU.
	ErrFrameTooLarge = errors.New("bearer: frame exceeds MTU")
)

// MTUs of the advertising bearer.
const (
	// NetworkMTU is the largest Network PDU an advertisement carries.
	NetworkMTU = 29

	// ProvisioningMTU is the largest Generic Provisioning payload of a
	// PB-ADV advertisement, after the link ID and transaction number.
	ProvisioningMTU = 24
)

// Bearer is a frame-oriented PDU transport. Implementations must be safe
// for one concurrent sender and one concurrent receiver.
type Bearer interface {
	// Send transmits one frame.
	Send(data []byte) error

	// Receive blocks until the next frame arrives or the bearer closes.
	Receive() ([]byte, error)

	// MTU returns the largest frame the bearer accepts.
	MTU() int

	// Close shuts the bearer down, unblocking any pending Receive.
	Close() error
}
