package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	"github.com/keepkey/keepkey-firmware-sub001/internal/flash"
	"github.com/keepkey/keepkey-firmware-sub001/internal/session"
)

type fakeHW struct{ b byte }

func (f fakeHW) Entropy32() [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = f.b
	}
	return out
}

func newSectors() [flash.NumSectors]flash.Sector {
	var s [flash.NumSectors]flash.Sector
	for i := range s {
		s[i] = flash.NewMemorySector(StorageSectorLen)
	}
	return s
}

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestInitUninitializedDevice(t *testing.T) {
	sectors := newSectors()
	e := NewEngine(flash.NewDevice(sectors), fakeHW{0x42}, nil)
	require.NoError(t, e.Init())
	require.False(t, e.IsInitialized())
}

func TestSetPinCommitReloadIsPinCorrect(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	hw := fakeHW{0x11}

	e := NewEngine(dev, hw, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())

	sess := session.New()
	secret := PlaintextSecret{Mnemonic: testMnemonic}
	require.NoError(t, e.SetPin(sess, "1234", &secret))
	require.NoError(t, e.Commit())

	// Reload from scratch over the same sectors, as a fresh boot would.
	e2 := NewEngine(flash.NewDevice(sectors), hw, nil)
	require.NoError(t, e2.Init())
	require.True(t, e2.IsInitialized())
	require.True(t, e2.Public().HasPin())

	sess2 := session.New()
	result, err := e2.IsPinCorrect(sess2, "1234")
	require.NoError(t, err)
	require.Equal(t, PinGood, result)
	require.True(t, sess2.HasStorageKey())

	decoded, err := e2.DecryptSecret(sess2)
	require.NoError(t, err)
	require.Equal(t, testMnemonic, decoded.Mnemonic)
}

func TestIsPinCorrectWrongPinDoesNotCacheKey(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	hw := fakeHW{0x22}

	e := NewEngine(dev, hw, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())
	sess := session.New()
	secret := PlaintextSecret{Mnemonic: testMnemonic}
	require.NoError(t, e.SetPin(sess, "1234", &secret))
	require.NoError(t, e.Commit())

	sess2 := session.New()
	result, err := e.IsPinCorrect(sess2, "0000")
	require.NoError(t, err)
	require.Equal(t, PinWrong, result)
	require.False(t, sess2.HasStorageKey())
}

func TestWipeCodeCollisionIsIndistinguishableFromWrongPin(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	hw := fakeHW{0x33}

	e := NewEngine(dev, hw, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())
	sess := session.New()
	secret := PlaintextSecret{Mnemonic: testMnemonic}
	require.NoError(t, e.SetPin(sess, "1234", &secret))
	require.NoError(t, e.SetWipeCode("9999"))
	require.NoError(t, e.Commit())

	require.True(t, e.IsWipeCodeCorrect("9999"))
	require.False(t, e.IsWipeCodeCorrect("1234"))

	result, err := e.IsPinCorrect(session.New(), "9999")
	require.NoError(t, err)
	require.Equal(t, PinWrong, result)
}

func TestFingerprintMismatchIsDetected(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	hw := fakeHW{0x44}

	e := NewEngine(dev, hw, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())
	sess := session.New()
	secret := PlaintextSecret{Mnemonic: testMnemonic}
	require.NoError(t, e.SetPin(sess, "1234", &secret))

	// Corrupt the recorded fingerprint directly, simulating flash bit rot.
	e.pub.SecFingerprint[0] ^= 0xFF

	_, err := e.DecryptSecret(sess)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestGetRootNodeIsDeterministicAndCurveScoped(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	hw := fakeHW{0x55}

	e := NewEngine(dev, hw, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())
	sess := session.New()
	secret := PlaintextSecret{Mnemonic: testMnemonic}
	require.NoError(t, e.SetPin(sess, "1234", &secret))

	n1, err := e.GetRootNode(sess, &secret, crypto.Secp256k1, false)
	require.NoError(t, err)
	require.True(t, n1.HasPrivateKey)

	n2, err := e.GetRootNode(sess, &secret, crypto.Secp256k1, false)
	require.NoError(t, err)
	require.Equal(t, n1.PrivateKey, n2.PrivateKey)

	n3, err := e.GetRootNode(sess, &secret, crypto.Ed25519, false)
	require.NoError(t, err)
	require.NotEqual(t, n1.PrivateKey, n3.PrivateKey)
}

func TestBackoffDuration(t *testing.T) {
	require.Equal(t, int64(0), int64(BackoffDuration(0)))
	require.Equal(t, int64(0), int64(BackoffDuration(2)))
	require.Greater(t, int64(BackoffDuration(4)), int64(0))
	require.Equal(t, int64(BackoffDuration(3)), int64(BackoffDuration(3)))
}

func TestPolicyDefaultsAndToggle(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	e := NewEngine(dev, fakeHW{0x66}, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())

	require.False(t, e.IsPolicyEnabled("ShapeShift"))
	e.SetPolicy("ShapeShift", true)
	require.True(t, e.IsPolicyEnabled("ShapeShift"))
	_, ok := e.GetPolicy("NoSuchPolicy")
	require.False(t, ok)
}

func TestWipeClearsInitializedState(t *testing.T) {
	sectors := newSectors()
	dev := flash.NewDevice(sectors)
	e := NewEngine(dev, fakeHW{0x77}, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.InitializeBlank())
	require.NoError(t, e.Commit())
	require.True(t, e.IsInitialized())

	require.NoError(t, e.Wipe())
	require.False(t, e.IsInitialized())

	e2 := NewEngine(flash.NewDevice(sectors), fakeHW{0x77}, nil)
	require.NoError(t, e2.Init())
	require.False(t, e2.IsInitialized())
}
