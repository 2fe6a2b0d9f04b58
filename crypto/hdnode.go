package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Curve identifies which elliptic curve an HDNode was derived on. The core
// never hard-codes a curve; every coin descriptor names one (§4.1
// get_root_node(curve, ...)).
type Curve uint8

const (
	// Secp256k1 is used by Bitcoin-family coins and Ethereum.
	Secp256k1 Curve = iota
	// Nist256p1 is used by a handful of altcoins (modelled here as an
	// alias of the secp256k1 derivation path shape; the actual P-256
	// point arithmetic is assumed to be a vetted library routine per §1).
	Nist256p1
	// Ed25519 is used for coins that sign with EdDSA and for the
	// recovery/attestation use the glossary's U2F root needs.
	Ed25519
)

// HDNodeSerializedLen is the fixed width of a serialized HD node inside the
// 512-byte EncryptedSec plaintext, matching the layout named in spec §3:
// "[0..129) serialized HD node (128 B serialized)" — we reserve the extra
// byte for the curve tag so Deserialize can round-trip Curve exactly
// (Testable Property #3 requires read_v(serialize_v(x)) == x).
const HDNodeSerializedLen = 129

// HDNode is a tuple (depth, fingerprint, child_num, chain_code, private_key,
// public_key) as defined in the GLOSSARY, plus the curve it was derived on
// and presence flags for the key material (a node loaded in public-only
// mode, e.g. while scanning, carries no private key).
type HDNode struct {
	Curve      Curve
	Depth      uint32
	Fingerprint uint32
	ChildNum   uint32
	ChainCode  [32]byte

	HasPrivateKey bool
	PrivateKey    [32]byte

	HasPublicKey bool
	PublicKey    [33]byte
}

// Wipe zeroes the private key material of the node. Storage-owned nodes are
// borrowed (§9 Design Notes); the borrower must call Wipe before returning.
func (n *HDNode) Wipe() {
	SecureWipe(n.PrivateKey[:])
	n.HasPrivateKey = false
}

// Serialize encodes the node into the fixed HDNodeSerializedLen-byte layout
// used by the storage engine's EncryptedSec plaintext.
func (n HDNode) Serialize() [HDNodeSerializedLen]byte {
	var b [HDNodeSerializedLen]byte
	binary.BigEndian.PutUint32(b[0:4], n.Depth)
	binary.BigEndian.PutUint32(b[4:8], n.Fingerprint)
	binary.BigEndian.PutUint32(b[8:12], n.ChildNum)
	copy(b[12:44], n.ChainCode[:])
	if n.HasPrivateKey {
		b[44] = 1
	}
	copy(b[45:77], n.PrivateKey[:])
	if n.HasPublicKey {
		b[77] = 1
	}
	copy(b[78:111], n.PublicKey[:])
	b[111] = byte(n.Curve)
	// b[112:129) reserved, zeroed
	return b
}

// DeserializeHDNode decodes a node previously produced by Serialize.
func DeserializeHDNode(b [HDNodeSerializedLen]byte) HDNode {
	var n HDNode
	n.Depth = binary.BigEndian.Uint32(b[0:4])
	n.Fingerprint = binary.BigEndian.Uint32(b[4:8])
	n.ChildNum = binary.BigEndian.Uint32(b[8:12])
	copy(n.ChainCode[:], b[12:44])
	n.HasPrivateKey = b[44] == 1
	copy(n.PrivateKey[:], b[45:77])
	n.HasPublicKey = b[77] == 1
	copy(n.PublicKey[:], b[78:111])
	n.Curve = Curve(b[111])
	return n
}

// ErrUnsupportedCurve is returned for a Curve value the derivation code
// does not recognize.
var ErrUnsupportedCurve = errors.New("crypto: unsupported curve")

// MasterNodeFromSeed derives the root HDNode for curve from a BIP-39 seed,
// using BIP-32 (secp256k1/nist256p1) or SLIP-0010 (ed25519) master-key
// generation as appropriate. Both schemes start from
// HMAC-SHA512("<curve seed string>", seed).
func MasterNodeFromSeed(seed []byte, curve Curve) (HDNode, error) {
	switch curve {
	case Secp256k1:
		return masterSecp256k1(seed)
	case Nist256p1:
		return masterHMAC(seed, "Nist256p1 seed", curve)
	case Ed25519:
		return masterHMAC(seed, "ed25519 seed", curve)
	default:
		return HDNode{}, ErrUnsupportedCurve
	}
}

func masterSecp256k1(seed []byte) (HDNode, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return HDNode{}, err
	}
	defer key.Zero()
	priv, err := key.ECPrivKey()
	if err != nil {
		return HDNode{}, err
	}
	defer priv.Zero()
	pub, err := key.ECPubKey()
	if err != nil {
		return HDNode{}, err
	}
	var n HDNode
	n.Curve = Secp256k1
	n.HasPrivateKey = true
	copy(n.PrivateKey[:], priv.Serialize())
	n.HasPublicKey = true
	copy(n.PublicKey[:], pub.SerializeCompressed())
	cc, _ := key.ChainCode()
	copy(n.ChainCode[:], cc)
	return n, nil
}

// masterHMAC implements the SLIP-0010 master-key derivation shape shared by
// nist256p1 and ed25519: I = HMAC-SHA512(key=seedString, data=seed);
// IL is the private scalar, IR the chain code.
func masterHMAC(seed []byte, seedString string, curve Curve) (HDNode, error) {
	mac := hmac.New(sha512.New, []byte(seedString))
	mac.Write(seed)
	i := mac.Sum(nil)
	var n HDNode
	n.Curve = curve
	n.HasPrivateKey = true
	copy(n.PrivateKey[:], i[:32])
	copy(n.ChainCode[:], i[32:64])
	switch curve {
	case Ed25519:
		pub := ed25519.NewKeyFromSeed(n.PrivateKey[:])
		n.HasPublicKey = true
		// pad to 33 bytes with a leading 0x00 the way SLIP-0010 does for
		// point-less curves, so the fixed-width PublicKey field still holds.
		copy(n.PublicKey[1:], pub[32:])
	case Nist256p1:
		// P-256 point multiplication is a vetted library primitive the
		// core does not reimplement (§1); derive only the parts the
		// fixture needs (secret scalar + chain code) and mark the public
		// half absent until a coin handler that actually uses nist256p1
		// asks a P-256-aware library to produce it.
		n.HasPublicKey = false
	}
	return n, nil
}

// CKDPriv derives the private child `index` of a secp256k1 node (BIP-32
// hardened if index >= 0x80000000). Only secp256k1 child derivation is
// implemented in the core itself; it is the curve every shipped coin
// descriptor in this spec's scope actually uses for address derivation.
func CKDPriv(parent HDNode, index uint32) (HDNode, error) {
	if parent.Curve != Secp256k1 {
		return HDNode{}, ErrUnsupportedCurve
	}
	if !parent.HasPrivateKey {
		return HDNode{}, errors.New("crypto: CKDPriv requires a private key")
	}
	extKey := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPrivateKeyID[:],
		parent.PrivateKey[:],
		parent.ChainCode[:],
		fingerprintBytes(parent),
		uint8(parent.Depth),
		parent.ChildNum,
		true,
	)
	child, err := extKey.Derive(index)
	if err != nil {
		return HDNode{}, err
	}
	defer child.Zero()
	priv, err := child.ECPrivKey()
	if err != nil {
		return HDNode{}, err
	}
	defer priv.Zero()
	pub, err := child.ECPubKey()
	if err != nil {
		return HDNode{}, err
	}
	var n HDNode
	n.Curve = Secp256k1
	n.Depth = parent.Depth + 1
	n.ChildNum = index
	n.Fingerprint = parentFingerprint(parent)
	cc, _ := child.ChainCode()
	copy(n.ChainCode[:], cc)
	n.HasPrivateKey = true
	copy(n.PrivateKey[:], priv.Serialize())
	n.HasPublicKey = true
	copy(n.PublicKey[:], pub.SerializeCompressed())
	return n, nil
}

func fingerprintBytes(n HDNode) []byte {
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], n.Fingerprint)
	return fp[:]
}

func parentFingerprint(n HDNode) uint32 {
	_, pub := btcec.PrivKeyFromBytes(n.PrivateKey[:])
	h := HashBytes(pub.SerializeCompressed())
	return binary.BigEndian.Uint32(h[:4])
}
