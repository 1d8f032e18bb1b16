package mesh

import (
	"errors"

	"github.com/google/uuid"
)

// Address errors.
var (
	ErrUnassignedAddress = errors.New("mesh: address is unassigned")
	ErrNotUnicast        = errors.New("mesh: address is not unicast")
)

// AddressSize is the wire size of a mesh address in bytes.
const AddressSize = 2

// Address is a 16-bit mesh address (Section 3.4.2).
//
//	0b0000_0000_0000_0000  Unassigned
//	0b0xxx_xxxx_xxxx_xxxx  Unicast
//	0b10xx_xxxx_xxxx_xxxx  Virtual (14-bit hash of a 128-bit label)
//	0b11xx_xxxx_xxxx_xxxx  Group
type Address uint16

// Fixed group addresses (Section 3.4.2.4).
const (
	AddressUnassigned Address = 0x0000
	AddressAllProxies Address = 0xFFFC
	AddressAllFriends Address = 0xFFFD
	AddressAllRelays  Address = 0xFFFE
	AddressAllNodes   Address = 0xFFFF
)

// AddressType classifies the four address ranges.
type AddressType int

const (
	AddressTypeUnassigned AddressType = iota
	AddressTypeUnicast
	AddressTypeVirtual
	AddressTypeGroup
)

// String returns the address type name.
func (t AddressType) String() string {
	switch t {
	case AddressTypeUnassigned:
		return "Unassigned"
	case AddressTypeUnicast:
		return "Unicast"
	case AddressTypeVirtual:
		return "Virtual"
	case AddressTypeGroup:
		return "Group"
	default:
		return "Unknown"
	}
}

// Type returns the range the address falls in.
func (a Address) Type() AddressType {
	switch {
	case a == 0:
		return AddressTypeUnassigned
	case a&0x8000 == 0:
		return AddressTypeUnicast
	case a&0xC000 == 0x8000:
		return AddressTypeVirtual
	default:
		return AddressTypeGroup
	}
}

// IsUnicast reports whether the address is a valid unicast address.
func (a Address) IsUnicast() bool {
	return a.Type() == AddressTypeUnicast
}

// IsAssigned reports whether the address is anything but Unassigned.
func (a Address) IsAssigned() bool {
	return a != AddressUnassigned
}

// UnicastAddress is a validated unicast element address.
type UnicastAddress uint16

// NewUnicastAddress validates a raw 16-bit value as a unicast address.
func NewUnicastAddress(v uint16) (UnicastAddress, error) {
	if v == 0 {
		return 0, ErrUnassignedAddress
	}
	if v&0x8000 != 0 {
		return 0, ErrNotUnicast
	}
	return UnicastAddress(v), nil
}

// Address widens the unicast address back to a generic Address.
func (u UnicastAddress) Address() Address {
	return Address(u)
}

// VirtualLabel is the full 128-bit label UUID behind a virtual address. Only
// the 14-bit hash travels on the wire; the label itself is fed to AES-CCM as
// associated data during Upper Transport encryption.
type VirtualLabel = uuid.UUID

// VirtualAddressFromHash maps a raw 14-bit hash into the virtual address
// range.
func VirtualAddressFromHash(hash uint16) Address {
	return Address(hash&0x3FFF) | 0x8000
}

// VirtualHash extracts the 14-bit hash of a virtual address. The result is
// meaningless for other address types.
func (a Address) VirtualHash() uint16 {
	return uint16(a) & 0x3FFF
}
