package provisioning

import (
	"crypto/rand"
	"encoding/binary"
)

// PB-ADV framing (Section 5.2.1): every advertisement carries the 4-byte
// link ID, a 1-byte transaction number and one Generic Provisioning PDU.

// pbadvHeaderLen is the link ID plus transaction number.
const pbadvHeaderLen = 5

// Packet is one PB-ADV advertisement payload.
type Packet struct {
	LinkID            uint32
	TransactionNumber uint8

	// Payload is the encoded Generic Provisioning PDU.
	Payload []byte
}

// Encode returns the PB-ADV wire bytes.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) == 0 {
		return nil, ErrPDUTooShort
	}
	out := make([]byte, pbadvHeaderLen+len(p.Payload))
	binary.BigEndian.PutUint32(out[0:4], p.LinkID)
	out[4] = p.TransactionNumber
	copy(out[5:], p.Payload)
	return out, nil
}

// ParsePacket decodes a PB-ADV advertisement payload.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < pbadvHeaderLen+1 {
		return nil, ErrPDUTooShort
	}
	return &Packet{
		LinkID:            binary.BigEndian.Uint32(data[0:4]),
		TransactionNumber: data[4],
		Payload:           data[5:],
	}, nil
}

// NewLinkID returns a random link identifier for a LinkOpen.
func NewLinkID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// TransactionNumbers generates the per-link transaction numbers of one
// sender. The provisioner counts 0x00 through 0x7F, the device 0x80
// through 0xFF, each wrapping within its own range (Section 5.2.1).
type TransactionNumbers struct {
	next   uint8
	device bool
}

// ProvisionerTransactions starts the provisioner-side sequence at 0x00.
func ProvisionerTransactions() *TransactionNumbers {
	return &TransactionNumbers{next: 0x00}
}

// DeviceTransactions starts the device-side sequence at 0x80.
func DeviceTransactions() *TransactionNumbers {
	return &TransactionNumbers{next: 0x80, device: true}
}

// Next returns the transaction number to use for a new transaction and
// advances the sequence.
func (t *TransactionNumbers) Next() uint8 {
	n := t.next
	if t.device {
		if t.next == 0xFF {
			t.next = 0x80
		} else {
			t.next++
		}
	} else {
		if t.next == 0x7F {
			t.next = 0x00
		} else {
			t.next++
		}
	}
	return n
}
