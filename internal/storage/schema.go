// Package storage implements the secure-storage engine of spec §4.1: the
// encrypted at-rest persistence of the master secret, PIN-derived key
// wrapping, wear-levelled flash commit (delegated to internal/flash), and
// versioned schema migration.
//
// Grounded on the teacher's modules/wallet/encrypt.go (uidEncryptionKey/
// checkMasterKey/initEncryption shape: derive a wrapping key, decrypt a
// verification blob, compare) generalized from a single Twofish-wrapped
// verification string to the PIN/wipe-code dual-key, fingerprint-checked
// scheme spec §4.1 specifies, and on original_source/lib/firmware/storage.c
// for the exact version-collapsing migration groups (v1; v2..v10; v11..v15;
// v16) and flag-bit layout.
package storage

import (
	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// SchemaVersion identifies which on-flash layout produced a PublicConfig.
type SchemaVersion uint32

// CurrentVersion is the schema version this engine always writes.
const CurrentVersion SchemaVersion = 16

const (
	// StorageSectorLen is the fixed size of one flash sector (§6).
	StorageSectorLen = 1024

	// MetadataLen is the 44-byte Metadata width of §6. EncodeBlob writes the
	// Metadata fields back to back (magic, UUID, UUIDHex: 41 bytes) with no
	// padding; this constant only sizes the blob buffer and the minimum
	// length DecodeBlob accepts.
	MetadataLen = 44

	// UUIDLen is the raw UUID width (§3 Metadata).
	UUIDLen = 12
	// UUIDStringLen is the width of the 25-char hex UUID string (§3).
	UUIDStringLen = 25

	// EncryptedSecLen is the fixed ciphertext width of EncryptedSec (§3).
	EncryptedSecLen = 512

	// PlaintextSecLen is the decrypted width backing EncryptedSecLen.
	PlaintextSecLen = 512
)

// Flag bit positions within PublicConfig.Flags, matching
// original_source/lib/firmware/storage.c's bit layout (bit 15 = sca_hardened,
// bit 16 = has_wipe_code, bit 17 = v15_16_trans were added in that order
// across schema revisions; the low bits predate this retrieval and are
// assigned contiguously here for the flags this spec actually names).
const (
	FlagHasPin = 1 << iota
	FlagHasLabel
	FlagHasLanguage
	FlagImported
	FlagPassphraseProtected
	FlagNoBackup
	FlagHasNode
	FlagHasMnemonic
	FlagHasU2FRoot
	FlagHasWipeCode
	FlagSCAHardened
	FlagV1516Trans
	FlagHasSecFingerprint
)

// Metadata is written once at first boot and never rotates (§3).
type Metadata struct {
	Magic     [4]byte
	UUID      [UUIDLen]byte
	UUIDHex   [UUIDStringLen]byte
}

// Policy is a single named, toggleable device policy (§4.9, supplemented
// from original_source/lib/firmware/policy.c's POLICY_COUNT table).
type Policy struct {
	Name    [16]byte
	Enabled bool
}

// DefaultPolicies mirrors original_source's single shipped policy
// ("ShapeShift", lib/firmware/policy.c) plus the generic exchange-gating
// policy this spec's §4.9 hook needs.
func DefaultPolicies() []Policy {
	mk := func(name string) Policy {
		var p Policy
		copy(p.Name[:], name)
		return p
	}
	return []Policy{mk("ShapeShift"), mk("ExchangeContracts")}
}

// PublicConfig is the plaintext, non-secret half of the persisted blob
// (§3). It is rewritten atomically on every commit.
type PublicConfig struct {
	Version SchemaVersion
	Flags   uint32

	PinFailedAttempts uint32
	AutoLockDelayMs   uint32

	Language string // ≤16
	Label    string // ≤48

	WrappedStorageKey      [64]byte
	StorageKeyFingerprint  [32]byte
	WrappedWipeCodeKey     [64]byte
	WipeCodeKeyFingerprint [32]byte

	U2FRoot    crypto.HDNode
	U2FCounter uint32

	RandomSalt [32]byte

	Policies []Policy

	SecFingerprint      [32]byte
	EncryptedSecVersion SchemaVersion
}

func (c *PublicConfig) flag(bit uint32) bool { return c.Flags&bit != 0 }
func (c *PublicConfig) setFlag(bit uint32, v bool) {
	if v {
		c.Flags |= bit
	} else {
		c.Flags &^= bit
	}
}

// HasPin reports Invariant A of §3: has_pin implies a non-empty PIN in the
// decrypted secret.
func (c *PublicConfig) HasPin() bool       { return c.flag(FlagHasPin) }
func (c *PublicConfig) SetHasPin(v bool)   { c.setFlag(FlagHasPin, v) }
func (c *PublicConfig) HasWipeCode() bool  { return c.flag(FlagHasWipeCode) }
func (c *PublicConfig) SetHasWipeCode(v bool) { c.setFlag(FlagHasWipeCode, v) }
func (c *PublicConfig) PassphraseProtected() bool { return c.flag(FlagPassphraseProtected) }
func (c *PublicConfig) SCAHardened() bool  { return c.flag(FlagSCAHardened) }
func (c *PublicConfig) V1516Trans() bool   { return c.flag(FlagV1516Trans) }
func (c *PublicConfig) HasSecFingerprint() bool { return c.flag(FlagHasSecFingerprint) }
func (c *PublicConfig) HasNode() bool      { return c.flag(FlagHasNode) }
func (c *PublicConfig) HasMnemonic() bool  { return c.flag(FlagHasMnemonic) }
func (c *PublicConfig) SetHasMnemonic(v bool) { c.setFlag(FlagHasMnemonic, v) }
func (c *PublicConfig) Imported() bool     { return c.flag(FlagImported) }
func (c *PublicConfig) SetImported(v bool) { c.setFlag(FlagImported, v) }
func (c *PublicConfig) NoBackup() bool     { return c.flag(FlagNoBackup) }

// PlaintextSecret is the decoded form of EncryptedSec's 512-byte plaintext
// (§3's fixed layout): HD node [0,129) || mnemonic [129,370) || session
// cache [370,445) || reserved [445,512).
type PlaintextSecret struct {
	Node     crypto.HDNode
	Mnemonic string

	SeedCached         bool
	Seed               [64]byte
	SeedUsesPassphrase bool
	Curve              string // ≤10 chars, cached alongside the seed
}

// EncodePlaintextSecret serializes a PlaintextSecret to the fixed 512-byte
// layout whose SHA-256 becomes PublicConfig.SecFingerprint (§3, Invariant
// E).
func EncodePlaintextSecret(s PlaintextSecret) [PlaintextSecLen]byte {
	var buf [PlaintextSecLen]byte
	node := s.Node.Serialize()
	copy(buf[0:129], node[:])

	mnemonic := []byte(s.Mnemonic)
	if len(mnemonic) > 240 {
		mnemonic = mnemonic[:240]
	}
	copy(buf[129:129+len(mnemonic)], mnemonic)
	// remainder of [129,370) is zero-padded by the zero-valued array.

	off := 370
	if s.SeedCached {
		buf[off] = 1
	}
	copy(buf[off+1:off+1+64], s.Seed[:])
	curve := []byte(s.Curve)
	if len(curve) > 10 {
		curve = curve[:10]
	}
	copy(buf[off+65:off+75], curve)
	if s.SeedUsesPassphrase {
		buf[off+75] = 1
	}
	// [445,512) reserved, left zero.
	return buf
}

// DecodePlaintextSecret is the inverse of EncodePlaintextSecret.
func DecodePlaintextSecret(buf [PlaintextSecLen]byte) PlaintextSecret {
	var s PlaintextSecret
	var nodeBuf [crypto.HDNodeSerializedLen]byte
	copy(nodeBuf[:], buf[0:129])
	s.Node = crypto.DeserializeHDNode(nodeBuf)

	mnEnd := 129
	for mnEnd < 370 && buf[mnEnd] != 0 {
		mnEnd++
	}
	s.Mnemonic = string(buf[129:mnEnd])

	off := 370
	s.SeedCached = buf[off] == 1
	copy(s.Seed[:], buf[off+1:off+1+64])
	curveEnd := off + 65
	for curveEnd < off+75 && buf[curveEnd] != 0 {
		curveEnd++
	}
	s.Curve = string(buf[off+65 : curveEnd])
	s.SeedUsesPassphrase = buf[off+75] == 1
	return s
}
