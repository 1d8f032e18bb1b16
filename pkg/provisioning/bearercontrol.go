package provisioning

import (
	"github.com/google/uuid"
)

// Provisioning Bearer Control PDUs (Section 5.3.2): link establishment and
// teardown for PB-ADV. The bearer opcode sits above the GPCF bits of the
// first octet.

const (
	bearerOpcodeLinkOpen  = 0x00
	bearerOpcodeLinkAck   = 0x01
	bearerOpcodeLinkClose = 0x02
)

// CloseReason is the LinkClose reason code (Table 5.8).
type CloseReason uint8

const (
	CloseSuccess CloseReason = 0x00
	CloseTimeout CloseReason = 0x01
	CloseFail    CloseReason = 0x02
)

// String returns the reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseSuccess:
		return "Success"
	case CloseTimeout:
		return "Timeout"
	case CloseFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// BearerControlPDU is one of LinkOpen, LinkAck or LinkClose.
type BearerControlPDU interface {
	GenericPDU
	bearerOpcode() uint8
}

// LinkOpen asks the device with the given UUID to open a provisioning
// link. Other devices ignore it.
type LinkOpen struct {
	DeviceUUID uuid.UUID
}

func (p *LinkOpen) bearerOpcode() uint8 { return bearerOpcodeLinkOpen }

func (p *LinkOpen) EncodeGeneric() ([]byte, error) {
	out := make([]byte, 17)
	out[0] = bearerOpcodeLinkOpen<<2 | gpcfBearerControl
	copy(out[1:], p.DeviceUUID[:])
	return out, nil
}

// LinkAck confirms that the device opened the link.
type LinkAck struct{}

func (p *LinkAck) bearerOpcode() uint8 { return bearerOpcodeLinkAck }

func (p *LinkAck) EncodeGeneric() ([]byte, error) {
	return []byte{bearerOpcodeLinkAck<<2 | gpcfBearerControl}, nil
}

// LinkClose tears the link down with a reason.
type LinkClose struct {
	Reason CloseReason
}

func (p *LinkClose) bearerOpcode() uint8 { return bearerOpcodeLinkClose }

func (p *LinkClose) EncodeGeneric() ([]byte, error) {
	return []byte{bearerOpcodeLinkClose<<2 | gpcfBearerControl, uint8(p.Reason)}, nil
}

func parseBearerControl(data []byte) (BearerControlPDU, error) {
	switch data[0] >> 2 {
	case bearerOpcodeLinkOpen:
		if len(data) != 17 {
			return nil, ErrPDUTooShort
		}
		var p LinkOpen
		copy(p.DeviceUUID[:], data[1:17])
		return &p, nil
	case bearerOpcodeLinkAck:
		if len(data) != 1 {
			return nil, ErrPDUTooShort
		}
		return &LinkAck{}, nil
	case bearerOpcodeLinkClose:
		if len(data) != 2 {
			return nil, ErrPDUTooShort
		}
		return &LinkClose{Reason: CloseReason(data[1])}, nil
	default:
		return nil, ErrInvalidBearerOpcode
	}
}
