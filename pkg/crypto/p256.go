package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
)

// P-256 ECDH for the provisioning key exchange (Section 5.4.2.3). On the
// wire the public key travels as raw X || Y (64 bytes) without the
// uncompressed-point prefix byte.

// P256PublicKeySize is the wire size of a provisioning public key.
const P256PublicKeySize = 64

// P256KeyPair is an ephemeral provisioning key pair.
type P256KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateP256KeyPair creates a fresh ephemeral P-256 key pair.
func GenerateP256KeyPair() (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{private: priv}, nil
}

// PublicKeyBytes returns the public key as X || Y.
func (kp *P256KeyPair) PublicKeyBytes() [P256PublicKeySize]byte {
	// crypto/ecdh encodes as 0x04 || X || Y.
	raw := kp.private.PublicKey().Bytes()
	var out [P256PublicKeySize]byte
	copy(out[:], raw[1:])
	return out
}

// SharedSecret runs ECDH against a peer public key given as X || Y and
// returns the 32-byte shared secret.
func (kp *P256KeyPair) SharedSecret(peer [P256PublicKeySize]byte) ([]byte, error) {
	raw := make([]byte, 1+P256PublicKeySize)
	raw[0] = 0x04
	copy(raw[1:], peer[:])

	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return kp.private.ECDH(pub)
}
