package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// ErrBadCiphertextLen is returned when a ciphertext is not a multiple of the
// AES block size.
var ErrBadCiphertextLen = errors.New("crypto: ciphertext is not a multiple of the block size")

// EncryptCBC encrypts plaintext (which must already be a multiple of
// aes.BlockSize; callers are responsible for the fixed-width padding spec
// §3 describes for EncryptedSec) under key/iv using AES-CBC. key may be 16
// bytes (AES-128, used for storage-key wrapping per §4.1) or 32 bytes
// (AES-256, used for the EncryptedSec blob per §3).
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, ErrBadCiphertextLen
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBC is the inverse of EncryptCBC.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBadCiphertextLen
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}
