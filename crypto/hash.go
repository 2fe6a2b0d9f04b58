package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
)

// HashSize is the size in bytes of a SHA-256 digest.
const HashSize = sha256.Size

// Hash is a SHA-256 digest, used throughout the storage engine for
// fingerprints (storage_key_fingerprint, sec_fingerprint, wipe_code_key_fingerprint)
// and throughout the signer for the streaming BIP-143 accumulators.
type Hash [HashSize]byte

// HashBytes returns the SHA-256 digest of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// HashAll hashes the concatenation of its arguments. Each argument is a
// byte slice.
func HashAll(items ...[]byte) Hash {
	h := sha256.New()
	for _, it := range items {
		h.Write(it)
	}
	var sum Hash
	copy(sum[:], h.Sum(nil))
	return sum
}

// DoubleSHA256 computes SHA-256(SHA-256(b)), the Bitcoin-family legacy
// sighash and txid digest used by the streaming signer (§4.7) when a coin
// has no BIP-143 forkid support.
func DoubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	return Hash(sha256.Sum256(first[:]))
}

// Sha512 returns the SHA-512 digest of b, used by the legacy pre-v16
// PIN-wrapping scheme (§4.1: "wrapping_key = SHA-512(pin)").
func Sha512(b []byte) [sha512.Size]byte {
	return sha512.Sum512(b)
}

// HMACSHA256 computes an HMAC-SHA256 of msg keyed by key.
func HMACSHA256(key, msg []byte) Hash {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var sum Hash
	copy(sum[:], mac.Sum(nil))
	return sum
}
