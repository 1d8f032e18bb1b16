package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// AES-CMAC per RFC 4493. CMAC is the MAC underneath every mesh key
// derivation function (s1, k1, k2, k3, k4) and the virtual address hash.

const cmacRb = 0x87

// CMAC is an AES-128-CMAC instance.
type CMAC struct {
	block cipher.Block
	k1    [aesBlockSize]byte
	k2    [aesBlockSize]byte
}

// NewCMAC creates an AES-128-CMAC with the given 16-byte key.
func NewCMAC(key []byte) (*CMAC, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	c := &CMAC{block: block}

	// Subkey generation (RFC 4493 Section 2.3).
	var l [aesBlockSize]byte
	block.Encrypt(l[:], l[:])
	shiftLeft(&c.k1, &l)
	if l[0]&0x80 != 0 {
		c.k1[aesBlockSize-1] ^= cmacRb
	}
	shiftLeft(&c.k2, &c.k1)
	if c.k1[0]&0x80 != 0 {
		c.k2[aesBlockSize-1] ^= cmacRb
	}

	return c, nil
}

// Sum computes the 16-byte CMAC of msg.
func (c *CMAC) Sum(msg []byte) [aesBlockSize]byte {
	n := (len(msg) + aesBlockSize - 1) / aesBlockSize
	complete := n > 0 && len(msg)%aesBlockSize == 0
	if n == 0 {
		n = 1
	}

	// Last block: XOR with K1 if complete, pad and XOR with K2 otherwise.
	var last [aesBlockSize]byte
	tail := msg[(n-1)*aesBlockSize:]
	copy(last[:], tail)
	if complete {
		for i := range last {
			last[i] ^= c.k1[i]
		}
	} else {
		last[len(tail)] = 0x80
		for i := range last {
			last[i] ^= c.k2[i]
		}
	}

	var x [aesBlockSize]byte
	for i := 0; i < n-1; i++ {
		block := msg[i*aesBlockSize : (i+1)*aesBlockSize]
		for j := range x {
			x[j] ^= block[j]
		}
		c.block.Encrypt(x[:], x[:])
	}

	for j := range x {
		x[j] ^= last[j]
	}
	c.block.Encrypt(x[:], x[:])
	return x
}

// AESCMAC is a one-shot AES-128-CMAC.
func AESCMAC(key, msg []byte) ([aesBlockSize]byte, error) {
	c, err := NewCMAC(key)
	if err != nil {
		return [aesBlockSize]byte{}, err
	}
	return c.Sum(msg), nil
}

// shiftLeft sets dst to src shifted left one bit.
func shiftLeft(dst, src *[aesBlockSize]byte) {
	var carry byte
	for i := aesBlockSize - 1; i >= 0; i-- {
		dst[i] = src[i]<<1 | carry
		carry = src[i] >> 7
	}
}
