package provisioning

import (
	"encoding/binary"
)

// Provisioning protocol PDUs (Section 5.4.1). The first octet holds the
// PDU type in its six low bits; the parameter layouts are fixed-size.

// PDUType identifies a provisioning PDU.
type PDUType uint8

const (
	TypeInvite        PDUType = 0x00
	TypeCapabilities  PDUType = 0x01
	TypeStart         PDUType = 0x02
	TypePublicKey     PDUType = 0x03
	TypeInputComplete PDUType = 0x04
	TypeConfirmation  PDUType = 0x05
	TypeRandom        PDUType = 0x06
	TypeData          PDUType = 0x07
	TypeComplete      PDUType = 0x08
	TypeFailed        PDUType = 0x09
)

// String returns the PDU type name.
func (t PDUType) String() string {
	switch t {
	case TypeInvite:
		return "Invite"
	case TypeCapabilities:
		return "Capabilities"
	case TypeStart:
		return "Start"
	case TypePublicKey:
		return "PublicKey"
	case TypeInputComplete:
		return "InputComplete"
	case TypeConfirmation:
		return "Confirmation"
	case TypeRandom:
		return "Random"
	case TypeData:
		return "Data"
	case TypeComplete:
		return "Complete"
	case TypeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrorCode is the reason carried by a Failed PDU (Table 5.38).
type ErrorCode uint8

const (
	ErrorInvalidPDU         ErrorCode = 0x01
	ErrorInvalidFormat      ErrorCode = 0x02
	ErrorUnexpectedPDU      ErrorCode = 0x03
	ErrorConfirmationFailed ErrorCode = 0x04
	ErrorOutOfResources     ErrorCode = 0x05
	ErrorDecryptionFailed   ErrorCode = 0x06
	ErrorUnexpectedError    ErrorCode = 0x07
	ErrorCannotAssignAddr   ErrorCode = 0x08
)

// PDU is a provisioning protocol PDU.
type PDU interface {
	// PDUType returns the type octet value.
	PDUType() PDUType

	// params returns the encoded parameter block.
	params() []byte
}

// Encode frames a provisioning PDU as type octet plus parameters.
func Encode(pdu PDU) []byte {
	params := pdu.params()
	out := make([]byte, 1+len(params))
	out[0] = uint8(pdu.PDUType()) & 0x3F
	copy(out[1:], params)
	return out
}

// Parse decodes a provisioning PDU, validating the parameter length for
// its type.
func Parse(data []byte) (PDU, error) {
	if len(data) < 1 {
		return nil, ErrPDUTooShort
	}
	typ := PDUType(data[0] & 0x3F)
	params := data[1:]

	switch typ {
	case TypeInvite:
		if len(params) != 1 {
			return nil, ErrPDUTooShort
		}
		return &Invite{AttentionDuration: params[0]}, nil
	case TypeCapabilities:
		return parseCapabilities(params)
	case TypeStart:
		return parseStart(params)
	case TypePublicKey:
		if len(params) != 64 {
			return nil, ErrPDUTooShort
		}
		var p PublicKey
		copy(p.Key[:], params)
		return &p, nil
	case TypeInputComplete:
		if len(params) != 0 {
			return nil, ErrPDUTooLong
		}
		return &InputComplete{}, nil
	case TypeConfirmation:
		if len(params) != 16 {
			return nil, ErrPDUTooShort
		}
		var p Confirmation
		copy(p.Value[:], params)
		return &p, nil
	case TypeRandom:
		if len(params) != 16 {
			return nil, ErrPDUTooShort
		}
		var p Random
		copy(p.Value[:], params)
		return &p, nil
	case TypeData:
		if len(params) != 33 {
			return nil, ErrPDUTooShort
		}
		var p Data
		copy(p.Encrypted[:], params[:25])
		copy(p.MIC[:], params[25:])
		return &p, nil
	case TypeComplete:
		if len(params) != 0 {
			return nil, ErrPDUTooLong
		}
		return &Complete{}, nil
	case TypeFailed:
		if len(params) != 1 {
			return nil, ErrPDUTooShort
		}
		return &Failed{Code: ErrorCode(params[0])}, nil
	default:
		return nil, ErrInvalidPDUType
	}
}

// Invite opens the protocol exchange; AttentionDuration asks the device to
// identify itself (blink, beep) for that many seconds.
type Invite struct {
	AttentionDuration uint8
}

func (p *Invite) PDUType() PDUType { return TypeInvite }
func (p *Invite) params() []byte   { return []byte{p.AttentionDuration} }

// Capabilities advertises what the device supports (Section 5.4.1.2).
type Capabilities struct {
	NumElements     uint8
	Algorithms      uint16
	PublicKeyType   uint8
	StaticOOBType   uint8
	OutputOOBSize   uint8
	OutputOOBAction uint16
	InputOOBSize    uint8
	InputOOBAction  uint16
}

// AlgorithmFIPSP256 is the FIPS P-256 elliptic curve algorithm bit.
const AlgorithmFIPSP256 uint16 = 1 << 0

func (p *Capabilities) PDUType() PDUType { return TypeCapabilities }

func (p *Capabilities) params() []byte {
	out := make([]byte, 11)
	out[0] = p.NumElements
	binary.BigEndian.PutUint16(out[1:3], p.Algorithms)
	out[3] = p.PublicKeyType
	out[4] = p.StaticOOBType
	out[5] = p.OutputOOBSize
	binary.BigEndian.PutUint16(out[6:8], p.OutputOOBAction)
	out[8] = p.InputOOBSize
	binary.BigEndian.PutUint16(out[9:11], p.InputOOBAction)
	return out
}

func parseCapabilities(params []byte) (*Capabilities, error) {
	if len(params) != 11 {
		return nil, ErrPDUTooShort
	}
	return &Capabilities{
		NumElements:     params[0],
		Algorithms:      binary.BigEndian.Uint16(params[1:3]),
		PublicKeyType:   params[3],
		StaticOOBType:   params[4],
		OutputOOBSize:   params[5],
		OutputOOBAction: binary.BigEndian.Uint16(params[6:8]),
		InputOOBSize:    params[8],
		InputOOBAction:  binary.BigEndian.Uint16(params[9:11]),
	}, nil
}

// Start fixes the provisioning method the provisioner selected
// (Section 5.4.1.3).
type Start struct {
	Algorithm      uint8
	PublicKeyUsed  uint8
	AuthMethod     uint8
	AuthAction     uint8
	AuthSize       uint8
}

// Authentication methods (Table 5.28).
const (
	AuthMethodNone   = 0x00
	AuthMethodStatic = 0x01
	AuthMethodOutput = 0x02
	AuthMethodInput  = 0x03
)

func (p *Start) PDUType() PDUType { return TypeStart }

func (p *Start) params() []byte {
	return []byte{p.Algorithm, p.PublicKeyUsed, p.AuthMethod, p.AuthAction, p.AuthSize}
}

func parseStart(params []byte) (*Start, error) {
	if len(params) != 5 {
		return nil, ErrPDUTooShort
	}
	return &Start{
		Algorithm:     params[0],
		PublicKeyUsed: params[1],
		AuthMethod:    params[2],
		AuthAction:    params[3],
		AuthSize:      params[4],
	}, nil
}

// PublicKey carries an ephemeral P-256 public key as X || Y.
type PublicKey struct {
	Key [64]byte
}

func (p *PublicKey) PDUType() PDUType { return TypePublicKey }
func (p *PublicKey) params() []byte   { return p.Key[:] }

// InputComplete signals that the user finished input OOB entry.
type InputComplete struct{}

func (p *InputComplete) PDUType() PDUType { return TypeInputComplete }
func (p *InputComplete) params() []byte   { return nil }

// Confirmation commits to the random value before it is revealed.
type Confirmation struct {
	Value [16]byte
}

func (p *Confirmation) PDUType() PDUType { return TypeConfirmation }
func (p *Confirmation) params() []byte   { return p.Value[:] }

// Random reveals the committed random value.
type Random struct {
	Value [16]byte
}

func (p *Random) PDUType() PDUType { return TypeRandom }
func (p *Random) params() []byte   { return p.Value[:] }

// Data carries the encrypted provisioning data with its 64-bit MIC.
type Data struct {
	Encrypted [25]byte
	MIC       [8]byte
}

func (p *Data) PDUType() PDUType { return TypeData }

func (p *Data) params() []byte {
	out := make([]byte, 33)
	copy(out[:25], p.Encrypted[:])
	copy(out[25:], p.MIC[:])
	return out
}

// Complete acknowledges successful provisioning.
type Complete struct{}

func (p *Complete) PDUType() PDUType { return TypeComplete }
func (p *Complete) params() []byte   { return nil }

// Failed aborts the protocol with an error code.
type Failed struct {
	Code ErrorCode
}

func (p *Failed) PDUType() PDUType { return TypeFailed }
func (p *Failed) params() []byte   { return []byte{uint8(p.Code)} }
