package provisioning

import (
	"encoding/binary"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

// Confirmation and session key derivation (Section 5.4.2.4): both sides
// commit to a random value with a CMAC over everything exchanged so far,
// then reveal the randoms and check each other's commitment. The same
// inputs feed the session key protecting the provisioning data.

// ConfirmationInputs is the concatenation of the invite, capabilities and
// start parameters with both public keys: 1 + 11 + 5 + 64 + 64 bytes.
type ConfirmationInputs [145]byte

// BuildConfirmationInputs collects the handshake transcript.
func BuildConfirmationInputs(invite *Invite, caps *Capabilities, start *Start, provisionerKey, deviceKey [64]byte) ConfirmationInputs {
	var in ConfirmationInputs
	buf := in[:0]
	buf = append(buf, invite.params()...)
	buf = append(buf, caps.params()...)
	buf = append(buf, start.params()...)
	buf = append(buf, provisionerKey[:]...)
	buf = append(buf, deviceKey[:]...)
	return in
}

// AuthValue is the 16-byte out-of-band authentication value. With
// AuthMethodNone it is all zeros.
type AuthValue [16]byte

// ConfirmationSalt is s1 over the confirmation inputs.
func (in *ConfirmationInputs) Salt() crypto.Salt {
	return crypto.S1(in[:])
}

// ConfirmationKey derives the commitment key from the ECDH shared secret:
// k1(ECDHSecret, ConfirmationSalt, "prck").
func ConfirmationKey(secret []byte, salt crypto.Salt) [16]byte {
	return crypto.K1(secret, salt, []byte("prck"))
}

// ConfirmationValue computes AES-CMAC(ConfirmationKey, Random ||
// AuthValue), the value each side sends before revealing its random.
func ConfirmationValue(key [16]byte, random [16]byte, auth AuthValue) [16]byte {
	var msg [32]byte
	copy(msg[:16], random[:])
	copy(msg[16:], auth[:])
	out, _ := crypto.AESCMAC(key[:], msg[:])
	return out
}

// ProvisioningSalt mixes the confirmation salt with both revealed randoms:
// s1(ConfirmationSalt || RandomProvisioner || RandomDevice).
func ProvisioningSalt(confSalt crypto.Salt, randProvisioner, randDevice [16]byte) crypto.Salt {
	var msg [48]byte
	copy(msg[:16], confSalt[:])
	copy(msg[16:32], randProvisioner[:])
	copy(msg[32:], randDevice[:])
	return crypto.S1(msg[:])
}

// SessionKeys is the material protecting the Data PDU plus the device key
// the node keeps afterwards.
type SessionKeys struct {
	SessionKey   [16]byte
	SessionNonce [13]byte
	DeviceKey    crypto.DeviceKey
}

// DeriveSessionKeys runs the prsk/prsn/prdk derivations. The session nonce
// is the low 13 bytes of the k1 output.
func DeriveSessionKeys(secret []byte, salt crypto.Salt) SessionKeys {
	var out SessionKeys
	out.SessionKey = crypto.K1(secret, salt, []byte("prsk"))
	nonce := crypto.K1(secret, salt, []byte("prsn"))
	copy(out.SessionNonce[:], nonce[3:])
	out.DeviceKey = crypto.DeviceKey(crypto.K1(secret, salt, []byte("prdk")))
	return out
}

// ProvisioningData is the network state handed to the new node
// (Section 5.4.2.5).
type ProvisioningData struct {
	NetworkKey     crypto.NetworkKey
	KeyIndex       mesh.KeyIndex
	Flags          uint8
	IVIndex        mesh.IVIndex
	UnicastAddress mesh.UnicastAddress
}

// Flag bits of the provisioning data.
const (
	FlagKeyRefresh = 1 << 0
	FlagIVUpdate   = 1 << 1
)

// encode returns the 25-byte plaintext provisioning data.
func (d *ProvisioningData) encode() [25]byte {
	var out [25]byte
	copy(out[:16], d.NetworkKey[:])
	binary.BigEndian.PutUint16(out[16:18], uint16(d.KeyIndex))
	out[18] = d.Flags
	binary.BigEndian.PutUint32(out[19:23], uint32(d.IVIndex))
	binary.BigEndian.PutUint16(out[23:25], uint16(d.UnicastAddress))
	return out
}

func parseProvisioningData(plain []byte) *ProvisioningData {
	var d ProvisioningData
	copy(d.NetworkKey[:], plain[:16])
	d.KeyIndex = mesh.KeyIndex(binary.BigEndian.Uint16(plain[16:18]))
	d.Flags = plain[18]
	d.IVIndex = mesh.IVIndex(binary.BigEndian.Uint32(plain[19:23]))
	d.UnicastAddress = mesh.UnicastAddress(binary.BigEndian.Uint16(plain[23:25]))
	return &d
}

// Seal encrypts the provisioning data into a Data PDU under the session
// key.
func (d *ProvisioningData) Seal(keys SessionKeys) (*Data, error) {
	plain := d.encode()
	sealed, err := crypto.CCMEncrypt(keys.SessionKey[:], keys.SessionNonce[:], plain[:], nil, crypto.MICSize64)
	if err != nil {
		return nil, err
	}
	var pdu Data
	copy(pdu.Encrypted[:], sealed[:25])
	copy(pdu.MIC[:], sealed[25:])
	return &pdu, nil
}

// OpenData decrypts and authenticates a Data PDU.
func OpenData(pdu *Data, keys SessionKeys) (*ProvisioningData, error) {
	sealed := make([]byte, 33)
	copy(sealed[:25], pdu.Encrypted[:])
	copy(sealed[25:], pdu.MIC[:])
	plain, err := crypto.CCMDecrypt(keys.SessionKey[:], keys.SessionNonce[:], sealed, nil, crypto.MICSize64)
	if err != nil {
		return nil, err
	}
	return parseProvisioningData(plain), nil
}
