// AES-CCM implementation for the Bluetooth Mesh stack.
// This implements AES-128-CCM as defined in NIST 800-38C and RFC 3610.
// Mesh Profile Specification Section 3.8.2.3 requires AES-CCM with:
//   - Key length: 128 bits (16 bytes)
//   - MIC length: 32 or 64 bits (4 or 8 bytes)
//   - Nonce length: 13 bytes
//   - q = 2 (length field size)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
)

// AES-CCM constants from Mesh Profile Specification Section 3.8.2.3.
const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// NonceSize is the CCM nonce size in bytes. All mesh nonces are 13 bytes.
	NonceSize = 13

	// MICSize32 is the small Message Integrity Code size in bytes.
	MICSize32 = 4

	// MICSize64 is the large Message Integrity Code size in bytes.
	MICSize64 = 8

	// aesBlockSize is the AES block size (always 16 bytes).
	aesBlockSize = 16

	// ccmLenSize is the CCM length field size L (15 - NonceSize).
	ccmLenSize = 2
)

// CCM is an AES-128-CCM cipher with a mesh MIC size (4 or 8 bytes).
type CCM struct {
	block   cipher.Block
	micSize int
}

// NewCCM creates an AES-128-CCM cipher producing micSize-byte MICs.
// The key must be exactly 16 bytes and micSize must be MICSize32 or MICSize64.
func NewCCM(key []byte, micSize int) (*CCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if micSize != MICSize32 && micSize != MICSize64 {
		return nil, ErrInvalidMICSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CCM{block: block, micSize: micSize}, nil
}

// MICSize returns the MIC length in bytes.
func (c *CCM) MICSize() int {
	return c.micSize
}

// Seal encrypts and authenticates plaintext with associated data.
//
// The nonce must be 13 bytes and unique for every encryption under the same
// key; mesh guarantees this through the sequence number and IV Index.
//
// Returns ciphertext || MIC.
func (c *CCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}

	tag := c.computeTag(nonce, plaintext, aad)

	out := make([]byte, len(plaintext)+c.micSize)

	// Encrypt the tag with S_0.
	s0 := c.generateS0(nonce)
	for i := 0; i < c.micSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}

	// Encrypt the plaintext with CTR mode starting from counter 1.
	c.ctrXOR(nonce, out[:len(plaintext)], plaintext)

	return out, nil
}

// Open decrypts and verifies ciphertext || MIC with associated data.
//
// On authentication failure it returns ErrAuthentication and no plaintext;
// callers at the Network and Transport layers translate this into a silent
// drop.
func (c *CCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < c.micSize {
		return nil, ErrCiphertextTooShort
	}

	encrypted := ciphertext[:len(ciphertext)-c.micSize]
	encryptedTag := ciphertext[len(ciphertext)-c.micSize:]

	// Decrypt the tag with S_0.
	s0 := c.generateS0(nonce)
	receivedTag := make([]byte, c.micSize)
	for i := 0; i < c.micSize; i++ {
		receivedTag[i] = encryptedTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(encrypted))
	c.ctrXOR(nonce, plaintext, encrypted)

	expectedTag := c.computeTag(nonce, plaintext, aad)

	if subtle.ConstantTimeCompare(receivedTag, expectedTag[:c.micSize]) != 1 {
		return nil, ErrAuthentication
	}

	return plaintext, nil
}

// computeTag computes the CBC-MAC authentication tag.
// This follows NIST 800-38C Section 6.1 and RFC 3610 Section 2.2.
func (c *CCM) computeTag(nonce, plaintext, aad []byte) []byte {
	// Build B_0.
	// Flags = Reserved(1) || Adata(1) || M'(3) || L'(3)
	// M' = (micSize - 2) / 2, L' = L - 1
	var b0 [aesBlockSize]byte
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((c.micSize-2)/2) << 3
	flags |= ccmLenSize - 1

	b0[0] = flags
	copy(b0[1:1+NonceSize], nonce)
	binary.BigEndian.PutUint16(b0[1+NonceSize:], uint16(len(plaintext)))

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		// Mesh AAD is at most a 16-byte virtual label, so the short
		// 2-byte length encoding always applies.
		var aadBlock [aesBlockSize]byte
		binary.BigEndian.PutUint16(aadBlock[0:2], uint16(len(aad)))

		first := aesBlockSize - 2
		if first > len(aad) {
			first = len(aad)
		}
		copy(aadBlock[2:], aad[:first])

		for i := 0; i < aesBlockSize; i++ {
			mac[i] ^= aadBlock[i]
		}
		c.block.Encrypt(mac, mac)

		remaining := aad[first:]
		for len(remaining) > 0 {
			var block [aesBlockSize]byte
			n := copy(block[:], remaining)
			remaining = remaining[n:]

			for i := 0; i < aesBlockSize; i++ {
				mac[i] ^= block[i]
			}
			c.block.Encrypt(mac, mac)
		}
	}

	remaining := plaintext
	for len(remaining) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], remaining)
		remaining = remaining[n:]

		for i := 0; i < aesBlockSize; i++ {
			mac[i] ^= block[i]
		}
		c.block.Encrypt(mac, mac)
	}

	return mac[:c.micSize]
}

// generateS0 generates the S_0 keystream block used to encrypt the tag.
// S_0 = E(K, A_0) where A_0 is the counter block with counter = 0.
func (c *CCM) generateS0(nonce []byte) []byte {
	var a0 [aesBlockSize]byte
	a0[0] = ccmLenSize - 1
	copy(a0[1:1+NonceSize], nonce)

	s0 := make([]byte, aesBlockSize)
	c.block.Encrypt(s0, a0[:])
	return s0
}

// ctrXOR encrypts/decrypts data using CTR mode starting from counter 1.
func (c *CCM) ctrXOR(nonce []byte, dst, src []byte) {
	var ctr [aesBlockSize]byte
	ctr[0] = ccmLenSize - 1
	copy(ctr[1:1+NonceSize], nonce)
	ctr[aesBlockSize-1] = 1

	var keystream [aesBlockSize]byte
	for i := 0; i < len(src); i += aesBlockSize {
		c.block.Encrypt(keystream[:], ctr[:])

		end := i + aesBlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}

		incrementCounter(ctr[aesBlockSize-ccmLenSize:])
	}
}

// incrementCounter increments a big-endian counter.
func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

// CCMEncrypt is a convenience one-shot AES-128-CCM encryption.
// Returns ciphertext || MIC.
func CCMEncrypt(key, nonce, plaintext, aad []byte, micSize int) ([]byte, error) {
	ccm, err := NewCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, aad)
}

// CCMDecrypt is a convenience one-shot AES-128-CCM decrypt-and-verify.
func CCMDecrypt(key, nonce, ciphertext, aad []byte, micSize int) ([]byte, error) {
	ccm, err := NewCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, aad)
}
