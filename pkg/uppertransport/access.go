// Package uppertransport implements the Bluetooth Mesh Upper Transport
// layer (Section 3.6): AES-CCM protection of access payloads under an
// application or device key, and the transport control message codecs.
//
// The TransMIC is 4 bytes by default; segmented messages may opt into an
// 8-byte TransMIC via the SZMIC bit carried in the lower transport
// segmentation header. Messages to a virtual address additionally
// authenticate the full 128-bit label UUID as associated data.
package uppertransport

import (
	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

// Access payload capacity (Section 3.6.2): 32 segments of 12 bytes minus
// the TransMIC.
const (
	MaxPayloadSZMIC32 = 32*12 - 4
	MaxPayloadSZMIC64 = 32*12 - 8
)

// Params carries the nonce inputs shared by sealing and opening. They come
// from the Network PDU header plus the node's IV Index.
type Params struct {
	SZMIC   bool
	Seq     mesh.SequenceNumber
	Src     mesh.UnicastAddress
	Dst     mesh.Address
	IVIndex mesh.IVIndex

	// Label must be set when Dst is a virtual address; it is fed to the
	// cipher as associated data.
	Label *mesh.VirtualLabel
}

func (p *Params) micSize() int {
	if p.SZMIC {
		return crypto.MICSize64
	}
	return crypto.MICSize32
}

func (p *Params) maxPayload() int {
	if p.SZMIC {
		return MaxPayloadSZMIC64
	}
	return MaxPayloadSZMIC32
}

// aad resolves the associated data for the destination, validating that a
// virtual destination comes with a matching label.
func (p *Params) aad() ([]byte, error) {
	if p.Dst.Type() != mesh.AddressTypeVirtual {
		return nil, nil
	}
	if p.Label == nil {
		return nil, ErrMissingLabel
	}
	if mesh.VirtualAddressFromHash(crypto.VirtualAddressHash([16]byte(*p.Label))) != p.Dst {
		return nil, ErrLabelMismatch
	}
	return p.Label[:], nil
}

// SealApp encrypts an access payload under an application key. The result
// is the Upper Transport PDU (ciphertext plus TransMIC) handed to the
// segmenter.
func SealApp(key *crypto.ApplicationKeys, params Params, payload []byte) ([]byte, error) {
	nonce := crypto.ApplicationNonce(params.SZMIC, uint32(params.Seq),
		uint16(params.Src), uint16(params.Dst), uint32(params.IVIndex))
	return seal(key.Key[:], nonce, params, payload)
}

// SealDevice encrypts an access payload under a device key.
func SealDevice(key crypto.DeviceKey, params Params, payload []byte) ([]byte, error) {
	nonce := crypto.DeviceNonce(params.SZMIC, uint32(params.Seq),
		uint16(params.Src), uint16(params.Dst), uint32(params.IVIndex))
	return seal(key[:], nonce, params, payload)
}

func seal(key []byte, nonce crypto.Nonce, params Params, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > params.maxPayload() {
		return nil, ErrPayloadTooLong
	}
	aad, err := params.aad()
	if err != nil {
		return nil, err
	}
	return crypto.CCMEncrypt(key, nonce[:], payload, aad, params.micSize())
}

// OpenApp decrypts an Upper Transport PDU, trying every candidate key whose
// AID matches the one from the lower transport header. The key that
// authenticated the PDU is returned with the payload. ErrNoMatchingAppKey
// means none did and the PDU is dropped.
func OpenApp(keys []crypto.ApplicationKeys, aid mesh.AID, params Params, upperPDU []byte) ([]byte, *crypto.ApplicationKeys, error) {
	if len(upperPDU) <= params.micSize() {
		return nil, nil, ErrPDUTooShort
	}
	aad, err := params.aad()
	if err != nil {
		return nil, nil, err
	}
	nonce := crypto.ApplicationNonce(params.SZMIC, uint32(params.Seq),
		uint16(params.Src), uint16(params.Dst), uint32(params.IVIndex))

	for i := range keys {
		key := &keys[i]
		if mesh.AID(key.AID) != aid {
			continue
		}
		payload, err := crypto.CCMDecrypt(key.Key[:], nonce[:], upperPDU, aad, params.micSize())
		if err != nil {
			continue
		}
		return payload, key, nil
	}
	return nil, nil, ErrNoMatchingAppKey
}

// OpenDevice decrypts an Upper Transport PDU under a device key.
func OpenDevice(key crypto.DeviceKey, params Params, upperPDU []byte) ([]byte, error) {
	if len(upperPDU) <= params.micSize() {
		return nil, ErrPDUTooShort
	}
	aad, err := params.aad()
	if err != nil {
		return nil, err
	}
	nonce := crypto.DeviceNonce(params.SZMIC, uint32(params.Seq),
		uint16(params.Src), uint16(params.Dst), uint32(params.IVIndex))
	payload, err := crypto.CCMDecrypt(key[:], nonce[:], upperPDU, aad, params.micSize())
	if err != nil {
		return nil, ErrAuthentication
	}
	return payload, nil
}
