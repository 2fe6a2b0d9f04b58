package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"
)

// WrappingKeyLen is the width of the wrapping key produced by
// DeriveWrappingKey: two independent 128-bit halves, one used as an AES-128
// key and one as its IV (§4.1).
const WrappingKeyLen = 32

// scaIterations is the post-v16 PBKDF2 iteration count per half. The spec
// names it explicitly ("iter = 10") as a deliberately low count because the
// scheme's SCA resistance comes from the two-round AES key schedule
// stretch applied afterwards, not from PBKDF2 work factor.
const scaIterations = 10

// legacyIterations is the pre-v16 PBKDF2 iteration count used for the
// "legacy" (non-SCA-hardened) wrapping scheme that is still read (never
// written) for migration, per §9's Open Question.
const legacyIterations = 100000

// DeriveWrappingKey implements §4.1's key-wrapping derivation:
//
//	salt = hwEntropy(32) || randomSalt(32)
//	if scaHardened && pin != "":
//	    K1 = PBKDF2-HMAC-SHA256(pin, salt || be32(1), iter=10)
//	    K2 = PBKDF2-HMAC-SHA256(pin, salt || be32(2), iter=10)
//	    wrappingKey = K1 || K2
//	else if legacy:
//	    wrappingKey = SHA-512(pin)[:32]   // same two 128-bit halves, legacy KDF
//
// The v15_16_trans flag selects between the two legacy variants named in
// §9's Open Question: when false the pre-v16 scheme used 100000 PBKDF2
// iterations instead of plain SHA-512. Both legacy variants are supported
// for *reading* only — DeriveWrappingKey itself is also the one and only
// call site used by set_pin/set_wipe_code, so callers that want the new
// scheme simply pass scaHardened=true.
func DeriveWrappingKey(pin string, hwEntropy, randomSalt [32]byte, scaHardened, v15_16Trans bool) [WrappingKeyLen]byte {
	var salt [64]byte
	copy(salt[:32], hwEntropy[:])
	copy(salt[32:], randomSalt[:])

	var out [WrappingKeyLen]byte
	switch {
	case scaHardened && len(pin) > 0:
		k1 := pbkdf2.Key([]byte(pin), saltWithCounter(salt, 1), scaIterations, 16, sha256.New)
		k2 := pbkdf2.Key([]byte(pin), saltWithCounter(salt, 2), scaIterations, 16, sha256.New)
		copy(out[:16], k1)
		copy(out[16:], k2)
	case !v15_16Trans:
		// pre-v16, pre-SCA-hardening: 100000-iteration PBKDF2 over the
		// same salt construction, taken as a single 32-byte block.
		k := pbkdf2.Key([]byte(pin), salt[:], legacyIterations, WrappingKeyLen, sha256.New)
		copy(out[:], k)
	default:
		// oldest legacy scheme: wrapping_key = SHA-512(pin), truncated to
		// the two 128-bit halves the AES wrap step consumes.
		sum := Sha512([]byte(pin))
		copy(out[:], sum[:WrappingKeyLen])
	}
	return out
}

func saltWithCounter(salt [64]byte, counter uint32) []byte {
	out := make([]byte, 64+4)
	copy(out, salt[:])
	binary.BigEndian.PutUint32(out[64:], counter)
	return out
}
