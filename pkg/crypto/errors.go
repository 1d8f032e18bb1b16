package crypto

import "errors"

var (
	ErrInvalidKeySize     = errors.New("crypto: invalid key size")
	ErrInvalidMICSize     = errors.New("crypto: invalid MIC size")
	ErrInvalidNonceSize   = errors.New("crypto: invalid nonce size")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than MIC")
	ErrAuthentication     = errors.New("crypto: message authentication failed")
	ErrInvalidPublicKey   = errors.New("crypto: invalid P-256 public key")
)
