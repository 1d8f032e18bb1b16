// Package network implements the Bluetooth Mesh Network layer: the Network
// PDU codec with AES-CCM payload protection and header obfuscation
// (Section 3.4), the per-source replay cache and the relay message cache.
//
// Only NID and the IVI bit travel in clear. CTL, TTL, SEQ and SRC are
// obfuscated with a privacy keystream; DST and the transport PDU are
// encrypted. A passive observer therefore learns nothing but the subnet
// identifier.
package network

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

// Network PDU size limits (Section 3.4.4). The advertising bearer caps the
// whole PDU at 29 bytes.
const (
	// headerSize covers IVI|NID, CTL|TTL, SEQ, SRC and DST.
	headerSize = 9

	// MaxPDUSize is the largest Network PDU the advertising bearer carries.
	MaxPDUSize = 29

	// MaxTransportPDUSize is the room left for a Lower Transport PDU after
	// the header and the smaller 32-bit NetMIC.
	MaxTransportPDUSize = MaxPDUSize - headerSize - 4

	// obfuscatedLen is the number of header bytes covered by the privacy
	// keystream: CTL|TTL, SEQ and SRC.
	obfuscatedLen = 6

	// privacyRandomLen is the number of ciphertext bytes mixed into the
	// privacy keystream input.
	privacyRandomLen = 7
)

// PDU is a decoded (cleartext) Network PDU.
type PDU struct {
	IVI bool
	NID mesh.NID
	CTL mesh.CTL
	TTL mesh.TTL
	Seq mesh.SequenceNumber
	Src mesh.UnicastAddress
	Dst mesh.Address

	// TransportPDU is the Lower Transport PDU carried in the payload.
	TransportPDU []byte
}

// Encode encrypts and obfuscates the PDU under the derived material of one
// network key and the given IV Index, returning wire bytes.
func (p *PDU) Encode(keys *crypto.NetworkKeys, ivIndex mesh.IVIndex) ([]byte, error) {
	if len(p.TransportPDU) == 0 {
		return nil, ErrEmptyTransportPDU
	}
	micSize := p.CTL.NetMICSize()
	if headerSize+len(p.TransportPDU)+micSize > MaxPDUSize {
		return nil, ErrPDUTooLong
	}

	out := make([]byte, headerSize, headerSize+len(p.TransportPDU)+micSize)
	out[0] = mesh.NID(keys.NID).WithFlag(ivIndex.IVI())
	out[1] = p.TTL.WithFlag(bool(p.CTL))
	p.Seq.PutBytes(out[2:5])
	binary.BigEndian.PutUint16(out[5:7], uint16(p.Src))

	// DST is encrypted together with the transport PDU.
	plaintext := make([]byte, mesh.AddressSize+len(p.TransportPDU))
	binary.BigEndian.PutUint16(plaintext[0:2], uint16(p.Dst))
	copy(plaintext[2:], p.TransportPDU)

	nonce := crypto.NetworkNonce(bool(p.CTL), uint8(p.TTL), uint32(p.Seq),
		uint16(p.Src), uint32(ivIndex))
	sealed, err := crypto.CCMEncrypt(keys.EncryptionKey[:], nonce[:], plaintext, nil, micSize)
	if err != nil {
		return nil, err
	}
	out = append(out, sealed...)

	obfuscate(out, keys.PrivacyKey, ivIndex)
	return out, nil
}

// Decode deobfuscates, decrypts and authenticates a raw Network PDU. Every
// key in keys whose NID matches the cleartext NID is tried in order; the
// matching key is returned alongside the PDU. ErrNoMatchingKey means the PDU
// belongs to another subnet or was corrupted, and the caller drops it
// silently.
//
// ivIndex is the node's current IV Index; the PDU's IVI bit selects between
// it and its predecessor.
func Decode(raw []byte, keys []crypto.NetworkKeys, ivIndex mesh.IVIndex) (*PDU, *crypto.NetworkKeys, error) {
	// Smallest valid PDU: header, 1-byte transport PDU, 32-bit NetMIC.
	if len(raw) < headerSize+1+4 {
		return nil, nil, ErrPDUTooShort
	}

	nid, ivi := mesh.SplitNID(raw[0])
	pduIV := ivIndex.Accepted(ivi)

	for i := range keys {
		key := &keys[i]
		if mesh.NID(key.NID) != nid {
			continue
		}
		pdu, err := tryDecode(raw, key, pduIV)
		if err != nil {
			continue
		}
		pdu.IVI = ivi
		pdu.NID = nid
		return pdu, key, nil
	}
	return nil, nil, ErrNoMatchingKey
}

func tryDecode(raw []byte, keys *crypto.NetworkKeys, ivIndex mesh.IVIndex) (*PDU, error) {
	header := make([]byte, headerSize-mesh.AddressSize)
	copy(header, raw[:len(header)])
	deobfuscate(header, raw, keys.PrivacyKey, ivIndex)

	ttl, ctl := mesh.SplitTTL(header[1])
	seq := mesh.SequenceFromBytes(header[2:5])
	src, err := mesh.NewUnicastAddress(binary.BigEndian.Uint16(header[5:7]))
	if err != nil {
		return nil, ErrInvalidSrc
	}

	micSize := mesh.CTL(ctl).NetMICSize()
	if len(raw) < headerSize+micSize {
		return nil, ErrPDUTooShort
	}

	nonce := crypto.NetworkNonce(ctl, uint8(ttl), uint32(seq), uint16(src),
		uint32(ivIndex))
	plaintext, err := crypto.CCMDecrypt(keys.EncryptionKey[:], nonce[:],
		raw[headerSize-mesh.AddressSize:], nil, micSize)
	if err != nil {
		return nil, err
	}

	return &PDU{
		CTL:          mesh.CTL(ctl),
		TTL:          ttl,
		Seq:          seq,
		Src:          src,
		Dst:          mesh.Address(binary.BigEndian.Uint16(plaintext[0:2])),
		TransportPDU: plaintext[2:],
	}, nil
}

// obfuscate XORs the privacy keystream over the CTL|TTL, SEQ and SRC bytes
// of an encoded PDU in place (Section 3.8.7.3).
func obfuscate(pdu []byte, privacyKey [16]byte, ivIndex mesh.IVIndex) {
	pecb := privacyBlock(pdu[headerSize-mesh.AddressSize:], privacyKey, ivIndex)
	for i := 0; i < obfuscatedLen; i++ {
		pdu[1+i] ^= pecb[i]
	}
}

// deobfuscate XORs the privacy keystream into header, reading the privacy
// random from the raw ciphertext. Obfuscation is an XOR so the operation is
// its own inverse.
func deobfuscate(header, raw []byte, privacyKey [16]byte, ivIndex mesh.IVIndex) {
	pecb := privacyBlock(raw[headerSize-mesh.AddressSize:], privacyKey, ivIndex)
	for i := 0; i < obfuscatedLen; i++ {
		header[1+i] ^= pecb[i]
	}
}

// privacyBlock computes PECB = e(PrivacyKey, 0x0000000000 || IV Index ||
// Privacy Random) where Privacy Random is the first 7 ciphertext bytes.
func privacyBlock(ciphertext []byte, privacyKey [16]byte, ivIndex mesh.IVIndex) [16]byte {
	var in, out [16]byte
	binary.BigEndian.PutUint32(in[5:9], uint32(ivIndex))
	copy(in[9:16], ciphertext[:privacyRandomLen])

	block, err := aes.NewCipher(privacyKey[:])
	if err != nil {
		// Key length is fixed at compile time.
		panic(err)
	}
	block.Encrypt(out[:], in[:])
	return out
}
