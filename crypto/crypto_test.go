package crypto

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHDNodeSerializeRoundTrips(t *testing.T) {
	var n HDNode
	n.Curve = Ed25519
	n.Depth = 3
	n.Fingerprint = 0xdeadbeef
	n.ChildNum = 0x80000001
	for i := range n.ChainCode {
		n.ChainCode[i] = byte(i)
	}
	n.HasPrivateKey = true
	for i := range n.PrivateKey {
		n.PrivateKey[i] = byte(255 - i)
	}
	n.HasPublicKey = true
	for i := range n.PublicKey {
		n.PublicKey[i] = byte(i * 3)
	}

	got := DeserializeHDNode(n.Serialize())
	require.Equal(t, n, got)
}

func TestHDNodeWipeClearsPrivateKey(t *testing.T) {
	n := HDNode{HasPrivateKey: true}
	n.PrivateKey[0] = 0xAB
	n.Wipe()
	require.False(t, n.HasPrivateKey)
	require.True(t, bytes.Equal(n.PrivateKey[:], make([]byte, 32)))
}

func TestMasterNodeFromSeedSecp256k1(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	n, err := MasterNodeFromSeed(seed, Secp256k1)
	require.NoError(t, err)
	require.True(t, n.HasPrivateKey)
	require.True(t, n.HasPublicKey)
	require.Equal(t, Secp256k1, n.Curve)

	// Deterministic: the same seed always yields the same master node.
	n2, err := MasterNodeFromSeed(seed, Secp256k1)
	require.NoError(t, err)
	require.Equal(t, n.PrivateKey, n2.PrivateKey)
}

func TestMasterNodeFromSeedRejectsUnknownCurve(t *testing.T) {
	_, err := MasterNodeFromSeed(nil, Curve(99))
	require.ErrorIs(t, err, ErrUnsupportedCurve)
}

func TestCKDPrivDerivesDistinctChildren(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, 32)
	root, err := MasterNodeFromSeed(seed, Secp256k1)
	require.NoError(t, err)

	child0, err := CKDPriv(root, 0x80000000)
	require.NoError(t, err)
	child1, err := CKDPriv(root, 0x80000001)
	require.NoError(t, err)

	require.NotEqual(t, child0.PrivateKey, child1.PrivateKey)
	require.Equal(t, root.Depth+1, child0.Depth)
	require.Equal(t, uint32(0x80000000), child0.ChildNum)
}

func TestCKDPrivRejectsNonSecp256k1(t *testing.T) {
	_, err := CKDPriv(HDNode{Curve: Ed25519, HasPrivateKey: true}, 0)
	require.ErrorIs(t, err, ErrUnsupportedCurve)
}

func TestSignAndVerifySecp256k1(t *testing.T) {
	digest := HashBytes([]byte("transaction digest"))

	n, err := MasterNodeFromSeed([]byte("seed for verify test"), Secp256k1)
	require.NoError(t, err)
	sig, err := SignHashSecp256k1(digest, n.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, VerifySecp256k1(digest, n.PublicKey[:], sig[:64]))

	otherDigest := HashBytes([]byte("different digest"))
	require.Error(t, VerifySecp256k1(otherDigest, n.PublicKey[:], sig[:64]))
}

func TestSignAndVerifyEd25519(t *testing.T) {
	var seed [32]byte
	seed[0] = 9
	digest := HashBytes([]byte("ed25519 message"))
	sig := SignHashEd25519(digest, seed)

	pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
	require.NoError(t, VerifyEd25519(digest, pub, sig[:]))

	badDigest := HashBytes([]byte("tampered"))
	require.Error(t, VerifyEd25519(badDigest, pub, sig[:]))
}

func TestDeriveWrappingKeyIsDeterministicAndSchemeDependent(t *testing.T) {
	hw := [32]byte{1, 2, 3}
	salt := [32]byte{4, 5, 6}

	k1 := DeriveWrappingKey("1234", hw, salt, true, true)
	k2 := DeriveWrappingKey("1234", hw, salt, true, true)
	require.Equal(t, k1, k2)

	legacy := DeriveWrappingKey("1234", hw, salt, false, false)
	require.NotEqual(t, k1, legacy)

	oldest := DeriveWrappingKey("1234", hw, salt, false, true)
	require.NotEqual(t, legacy, oldest)
	require.NotEqual(t, k1, oldest)
}

func TestEncryptDecryptCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, 16)
	plaintext := bytes.Repeat([]byte{0x33}, 64)

	ct, err := EncryptCBC(key, iv, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	pt, err := DecryptCBC(key, iv, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestSeedFromMnemonicIsDeterministic(t *testing.T) {
	seed1 := SeedFromMnemonic("abandon abandon about", "")
	seed2 := SeedFromMnemonic("abandon abandon about", "")
	require.Equal(t, seed1, seed2)

	seed3 := SeedFromMnemonic("abandon abandon about", "TREZOR")
	require.NotEqual(t, seed1, seed3)
}

func TestConstantTimeCompare(t *testing.T) {
	require.True(t, ConstantTimeCompare([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeCompare([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeCompare([]byte("abc"), []byte("ab")))
}

func TestHashAllMatchesManualConcatenation(t *testing.T) {
	got := HashAll([]byte("a"), []byte("b"), []byte("c"))
	want := HashBytes([]byte("abc"))
	require.Equal(t, want, got)
}

func TestDoubleSHA256(t *testing.T) {
	got := DoubleSHA256([]byte("hello"))
	inner := HashBytes([]byte("hello"))
	want := HashBytes(inner[:])
	require.Equal(t, want, Hash(got))
}
