package crypto

// SecureWipe overwrites b with zeroes. Every confidential buffer (storage
// key, wrapping key, mnemonic, passphrase, seed, private key material) must
// be wiped on every exit path: success, failure, cancellation, and fatal.
// Mirrors the teacher's crypto.SecureWipe used in modules/wallet/wallet.go's
// spendableKey.WipeSecret.
//
//go:noinline
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare reports whether a and b are equal, in constant time
// with respect to the position of the first differing byte. Returns false
// immediately (leaking only the length, never position) if lengths differ.
// This is the memcmp_s of §9's side-channel hardening note, used for PIN
// fingerprint checks, wipe-code checks, and the signer's Phase-1/Phase-2
// checksum comparison.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
