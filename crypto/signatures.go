package crypto

import (
	"crypto/ed25519"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ErrInvalidSignature is returned if a signature does not match the data
// and public key presented for verification. Mirrors the teacher's
// crypto.ErrInvalidSignature (crypto/signatures.go).
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// RecoverableSignature is a 65-byte secp256k1 ECDSA signature in the
// compact [R(32) || S(32) || recovery-id(1)] form the signer emits to the
// host for Bitcoin-family and Ethereum transactions.
type RecoverableSignature [65]byte

// SignHashSecp256k1 produces a low-S, deterministic (RFC6979) ECDSA
// signature over digest using the given secp256k1 private key, returning
// it in recoverable form so the Ethereum signer can compute `v` (§4.8).
func SignHashSecp256k1(digest Hash, privKey [32]byte) (RecoverableSignature, error) {
	defer SecureWipe(privKey[:])
	priv, _ := btcec.PrivKeyFromBytes(privKey[:])
	sig, err := ecdsa.SignCompact(priv, digest[:], false)
	if err != nil {
		return RecoverableSignature{}, err
	}
	// btcec's SignCompact returns [recid+27 || R || S]; the streaming
	// signer and the Ethereum signer both want [R || S || recid].
	var out RecoverableSignature
	copy(out[0:32], sig[1:33])
	copy(out[32:64], sig[33:65])
	out[64] = sig[0] - 27
	return out, nil
}

// VerifySecp256k1 verifies an ECDSA signature (R||S, no recovery byte)
// against digest and a compressed public key.
func VerifySecp256k1(digest Hash, pubKeyCompressed []byte, rs []byte) error {
	pub, err := btcec.ParsePubKey(pubKeyCompressed)
	if err != nil {
		return err
	}
	if len(rs) != 64 {
		return ErrInvalidSignature
	}
	var r, s btcec.ModNScalar
	r.SetByteSlice(rs[:32])
	s.SetByteSlice(rs[32:])
	sig := ecdsa.NewSignature(&r, &s)
	if !sig.Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHashEd25519 signs digest with an Ed25519 seed-derived key. Used by
// the U2F-root attestation flow and by coins whose descriptor selects the
// Ed25519 curve.
func SignHashEd25519(digest Hash, seed [32]byte) [ed25519.SignatureSize]byte {
	defer SecureWipe(seed[:])
	priv := ed25519.NewKeyFromSeed(seed[:])
	var sig [ed25519.SignatureSize]byte
	copy(sig[:], ed25519.Sign(priv, digest[:]))
	return sig
}

// VerifyEd25519 verifies an Ed25519 signature produced by SignHashEd25519.
func VerifyEd25519(digest Hash, pub []byte, sig []byte) error {
	if !ed25519.Verify(pub, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
