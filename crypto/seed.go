package crypto

import (
	"golang.org/x/crypto/pbkdf2"

	"crypto/sha512"
)

// SeedFromMnemonic implements the BIP-39 seed KDF named in §4.5 and
// Testable Property 9:
//
//	seed = PBKDF2-HMAC-SHA512(mnemonic, "mnemonic" || passphrase, 2048)
func SeedFromMnemonic(mnemonic, passphrase string) [64]byte {
	salt := "mnemonic" + passphrase
	key := pbkdf2.Key([]byte(mnemonic), []byte(salt), 2048, 64, sha512.New)
	var seed [64]byte
	copy(seed[:], key)
	return seed
}
