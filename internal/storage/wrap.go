package storage

import (
	"crypto/aes"
	"crypto/rand"
	"errors"
	"io"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// ErrBadEncryptionKey is returned when a PIN/wipe-code fails to unwrap the
// storage key it is tested against.
var ErrBadEncryptionKey = errors.New("storage: bad PIN or wipe code")

// scaStretch implements §4.1's "stretches the wrapping-key first half into
// a two-round 128-bit AES schedule for SCA hardening": the 16-byte AES key
// half is run through its own cipher twice before use, so a power trace of
// the eventual AES-CBC wrap/unwrap operates on a value that is not simply
// the PBKDF2 output, raising the cost of a correlation-power-analysis
// attack against the wrapping step itself.
func scaStretch(half [16]byte) [16]byte {
	block, err := aes.NewCipher(half[:])
	if err != nil {
		// half is always exactly 16 bytes; aes.NewCipher cannot fail.
		panic(err)
	}
	var round1, round2 [16]byte
	block.Encrypt(round1[:], half[:])
	block2, err := aes.NewCipher(round1[:])
	if err != nil {
		panic(err)
	}
	block2.Encrypt(round2[:], round1[:])
	return round2
}

// wrapAESKeyIV splits a wrapping key into the AES-128 key and IV halves
// §4.1 specifies ("low 128 bits ... AES key and the next 128 bits as the
// IV"), applying the SCA stretch to the key half only — the IV carries no
// secrecy requirement, only uniqueness per wrapping-key derivation, which
// the PBKDF2 salt already provides.
func wrapAESKeyIV(wrappingKey [crypto.WrappingKeyLen]byte) (key, iv [16]byte) {
	copy(key[:], wrappingKey[:16])
	copy(iv[:], wrappingKey[16:])
	return scaStretch(key), iv
}

// WrapKey AES-128-CBC-encrypts a 64-byte secret (storage key or wipe-code
// key) under wrappingKey, per §4.1.
func WrapKey(secret [64]byte, wrappingKey [crypto.WrappingKeyLen]byte) ([64]byte, error) {
	key, iv := wrapAESKeyIV(wrappingKey)
	ct, err := crypto.EncryptCBC(key[:], iv[:], secret[:])
	if err != nil {
		return [64]byte{}, err
	}
	var out [64]byte
	copy(out[:], ct)
	return out, nil
}

// UnwrapKey is the inverse of WrapKey.
func UnwrapKey(wrapped [64]byte, wrappingKey [crypto.WrappingKeyLen]byte) ([64]byte, error) {
	key, iv := wrapAESKeyIV(wrappingKey)
	pt, err := crypto.DecryptCBC(key[:], iv[:], wrapped[:])
	if err != nil {
		return [64]byte{}, err
	}
	var out [64]byte
	copy(out[:], pt)
	return out, nil
}

// GenerateSecretKey produces a fresh CSPRNG 64-byte key for set_pin/
// set_wipe_code (§4.1: "generate a fresh 64 B storage/wipe key via
// CSPRNG"). Uses crypto/rand directly (not fastrand) because this value
// protects the secret region at rest and must come from the platform CSPRNG
// rather than the faster, non-blocking generator used for derivation
// salts and test fixtures elsewhere.
func GenerateSecretKey() ([64]byte, error) {
	var k [64]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, err
	}
	return k, nil
}
