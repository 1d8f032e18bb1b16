package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// Typed 128-bit keys and their derived material. Keeping the network,
// application and device keys as distinct types stops a key of one class
// being fed to a cipher expecting another.

// Key is a raw 128-bit mesh key.
type Key [KeySize]byte

// KeyFromBytes copies a 16-byte slice into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, ErrInvalidKeySize
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromHex parses a 32-character hex string into a Key.
func KeyFromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, err
	}
	return KeyFromBytes(b)
}

// RandomKey returns a fresh random 128-bit key.
func RandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// NetworkKey is the shared 128-bit NetKey of a subnet.
type NetworkKey Key

// ApplicationKey is a 128-bit AppKey bound to one or more network keys.
type ApplicationKey Key

// DeviceKey is the per-node 128-bit key derived during provisioning. It is
// used like an application key but known only to the node and the
// provisioner.
type DeviceKey Key

// NetworkKeys is the full security material derived from one NetKey:
// everything the Network layer needs to encrypt, obfuscate and identify
// PDUs (Section 3.8.6.3.1).
type NetworkKeys struct {
	Key           NetworkKey
	NID           uint8
	EncryptionKey [16]byte
	PrivacyKey    [16]byte
	NetworkID     [8]byte
}

// DeriveNetworkKeys runs k2 (master credentials, P=0x00) and k3 over a
// NetKey.
func DeriveNetworkKeys(key NetworkKey) NetworkKeys {
	k2 := K2(key[:], []byte{0x00})
	return NetworkKeys{
		Key:           key,
		NID:           k2.NID,
		EncryptionKey: k2.EncryptionKey,
		PrivacyKey:    k2.PrivacyKey,
		NetworkID:     K3(key[:]),
	}
}

// IdentityKey derives the key protecting Node Identity advertisements:
// k1(NetKey, s1("nkik"), "id128" || 0x01) (Section 3.8.6.3.3).
func (k NetworkKey) IdentityKey() [16]byte {
	salt := S1([]byte("nkik"))
	return K1(k[:], salt, []byte("id128\x01"))
}

// BeaconKey derives the key authenticating Secure Network beacons:
// k1(NetKey, s1("nkbk"), "id128" || 0x01) (Section 3.8.6.3.4).
func (k NetworkKey) BeaconKey() [16]byte {
	salt := S1([]byte("nkbk"))
	return K1(k[:], salt, []byte("id128\x01"))
}

// ApplicationKeys is an AppKey with its k4-derived AID.
type ApplicationKeys struct {
	Key ApplicationKey
	AID uint8
}

// DeriveApplicationKeys runs k4 over an AppKey.
func DeriveApplicationKeys(key ApplicationKey) ApplicationKeys {
	return ApplicationKeys{Key: key, AID: K4(key[:])}
}
