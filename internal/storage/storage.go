package storage

import (
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/keepkey/keepkey-firmware-sub001/build"
	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	"github.com/keepkey/keepkey-firmware-sub001/internal/flash"
	"github.com/keepkey/keepkey-firmware-sub001/internal/session"
	"github.com/keepkey/keepkey-firmware-sub001/persist"
)

// PinTestResult is the three-way result of is_pin_correct (§4.1).
type PinTestResult int

const (
	PinWrong PinTestResult = iota
	PinGood
	PinRewrap
)

// HardwareEntropy is the hardware RNG source named out of scope in §1
// ("hardware RNG sources") and referenced by §4.1's wrapping-key salt
// construction. The core only ever mixes its output with other material,
// never uses it alone.
type HardwareEntropy interface {
	Entropy32() [32]byte
}

var (
	// ErrFingerprintMismatch is the Invariant E hard-failure: the
	// decrypted secret region does not hash to the recorded
	// sec_fingerprint. Per §4.1/§7 this is a wipe-and-halt condition.
	ErrFingerprintMismatch = errors.New("storage: secret fingerprint mismatch, possible corruption or tampering")
	// ErrNotInitialized is returned by operations that require an
	// initialized storage engine.
	ErrNotInitialized = errors.New("storage: not initialized")
	// ErrNoStorageKey is returned when an operation needs the unwrapped
	// storage key but the session does not have one cached.
	ErrNoStorageKey = errors.New("storage: no storage key in session")
)

// Engine is the storage engine of §4.1. It owns the persisted PublicConfig
// and EncryptedSec shadow; SessionState (package session) is a separate,
// caller-owned structure per §9's ownership note.
type Engine struct {
	dev *flash.Device
	hw  HardwareEntropy
	log *persist.Logger

	meta        Metadata
	pub         PublicConfig
	ciphertext  [EncryptedSecLen]byte
	initialized bool

	rootCache *rootCacheEntry
}

type rootCacheEntry struct {
	curve         crypto.Curve
	usePassphrase bool
	node          crypto.HDNode
}

// NewEngine constructs an Engine over dev. hw must not be nil; log may be
// nil for tests, in which case logging calls are no-ops.
func NewEngine(dev *flash.Device, hw HardwareEntropy, log *persist.Logger) *Engine {
	return &Engine{dev: dev, hw: hw, log: log}
}

func (e *Engine) logln(args ...interface{}) {
	if e.log != nil {
		e.log.Println(args...)
	}
}

// Init locates the active sector (or concludes storage is uninitialized)
// and decodes it into the in-RAM shadow (§4.1).
func (e *Engine) Init() error {
	if err := e.dev.Init(); err != nil {
		if errors.Is(err, flash.ErrNoActiveSector) {
			e.initialized = false
			return nil // "device presents itself as blank" (§4.1 failure table)
		}
		return err
	}
	blob, err := e.dev.ActiveBlob()
	if err != nil {
		return err
	}
	meta, pub, ct, err := DecodeBlob(blob)
	if err != nil {
		return err
	}
	e.meta, e.pub, e.ciphertext = meta, pub, ct
	e.initialized = true
	return nil
}

// IsInitialized reports whether Init found a valid active sector.
func (e *Engine) IsInitialized() bool { return e.initialized }

// InitializeBlank bootstraps a brand-new device: assigns the UUID (derived
// from the host-unique-ID-register collaborator's bytes, here any 12 bytes
// of fresh entropy since the MCU register itself is a hardware
// collaborator out of scope per §1) and writes policies/defaults. The
// caller must Commit() afterwards.
func (e *Engine) InitializeBlank() error {
	if e.initialized {
		return errors.New("storage: already initialized")
	}
	copy(e.meta.Magic[:], flash.Magic[:])
	id := uuid.New()
	copy(e.meta.UUID[:], id[:UUIDLen])
	copy(e.meta.UUIDHex[:], hex.EncodeToString(e.meta.UUID[:]))

	e.pub = PublicConfig{Version: CurrentVersion}
	for _, p := range DefaultPolicies() {
		e.pub.Policies = append(e.pub.Policies, p)
	}
	var salt [32]byte
	salt = e.hw.Entropy32()
	e.pub.RandomSalt = salt
	e.initialized = true
	return nil
}

// wrappingKeyFor derives the wrapping key implied by the engine's current
// sca_hardened/v15_16_trans flags, per §4.1/§9's Open Question: the read
// side supports both legacy schemes, the write side (SetPin/SetWipeCode)
// always produces the current scheme.
func (e *Engine) wrappingKeyFor(pin string) [crypto.WrappingKeyLen]byte {
	return crypto.DeriveWrappingKey(pin, e.hw.Entropy32(), e.pub.RandomSalt, e.pub.SCAHardened(), e.pub.V1516Trans())
}

// BackoffDuration implements §4.1's PIN-failure backoff formula:
// min(2^n, 2^32-1) seconds once attempts exceeds 2, else zero.
func BackoffDuration(attemptsBeforeThisOne uint32) time.Duration {
	if attemptsBeforeThisOne <= 2 {
		return 0
	}
	n := attemptsBeforeThisOne
	var seconds uint64
	if n >= 32 {
		seconds = math.MaxUint32
	} else {
		seconds = uint64(1) << n
	}
	return time.Duration(seconds) * time.Second
}

// PreCheckBackoff increments pin_failed_attempts *before* any comparison
// (§4.1: "so an attacker who interrupts power still sees the increment")
// and returns the backoff the caller must wait out first. The caller is
// responsible for committing storage before actually waiting, so the
// incremented counter survives a power interruption during the wait.
func (e *Engine) PreCheckBackoff() time.Duration {
	d := BackoffDuration(e.pub.PinFailedAttempts)
	e.pub.PinFailedAttempts++
	return d
}

// IsPinCorrect implements §4.1's is_pin_correct: derive a wrapping key,
// unwrap the storage key, compare its fingerprint (Invariant B). On Good
// with legacy wrapping parameters it rewraps under the current scheme and
// returns PinRewrap; the caller must Commit() in that case.
func (e *Engine) IsPinCorrect(sess *session.State, pin string) (PinTestResult, error) {
	wrappingKey := e.wrappingKeyFor(pin)
	storageKey, err := UnwrapKey(e.pub.WrappedStorageKey, wrappingKey)
	if err != nil {
		return PinWrong, nil
	}
	fp := crypto.HashBytes(storageKey[:])
	if !crypto.ConstantTimeCompare(fp[:], e.pub.StorageKeyFingerprint[:]) {
		crypto.SecureWipe(storageKey[:])
		return PinWrong, nil
	}

	legacy := !e.pub.SCAHardened() || (e.pub.SCAHardened() && !e.pub.V1516Trans())
	sess.SetStorageKey(storageKey)
	sess.PinCached = true
	e.pub.PinFailedAttempts = 0

	if !legacy {
		return PinGood, nil
	}

	// PIN_REWRAP: re-wrap the same storage key under the current scheme.
	newSalt := e.hw.Entropy32()
	e.pub.RandomSalt = newSalt
	e.pub.setFlag(FlagSCAHardened, true)
	e.pub.setFlag(FlagV1516Trans, true)
	newWrappingKey := e.wrappingKeyFor(pin)
	wrapped, err := WrapKey(storageKey, newWrappingKey)
	if err != nil {
		return PinWrong, err
	}
	e.pub.WrappedStorageKey = wrapped
	return PinRewrap, nil
}

// IsWipeCodeCorrect implements §4.1's is_wipe_code_correct: tested the same
// way as a PIN, against the independent wipe-code key/fingerprint. A
// success silently wipes storage — callers must treat true exactly like an
// ordinary wrong PIN from the host's point of view (§4.4/§8 "Wipe-code
// collision").
func (e *Engine) IsWipeCodeCorrect(code string) bool {
	if !e.pub.HasWipeCode() {
		return false
	}
	wrappingKey := e.wrappingKeyFor(code)
	wipeKey, err := UnwrapKey(e.pub.WrappedWipeCodeKey, wrappingKey)
	if err != nil {
		return false
	}
	defer crypto.SecureWipe(wipeKey[:])
	fp := crypto.HashBytes(wipeKey[:])
	return crypto.ConstantTimeCompare(fp[:], e.pub.WipeCodeKeyFingerprint[:])
}

// SetPin implements §4.1's set_pin: if the session already holds an
// unwrapped storage key (the common ChangePin case), that key is reused and
// only rewrapped; otherwise (first-time PIN set) a fresh CSPRNG key is
// generated and, if secret is non-nil, the secret region is (re-)encrypted
// under it. The caller must Commit() afterwards.
func (e *Engine) SetPin(sess *session.State, pin string, secret *PlaintextSecret) error {
	storageKey := sess.StorageKey
	if !sess.HasStorageKey() {
		k, err := GenerateSecretKey()
		if err != nil {
			return err
		}
		storageKey = k
	}

	e.pub.RandomSalt = e.hw.Entropy32()
	e.pub.setFlag(FlagSCAHardened, true)
	e.pub.setFlag(FlagV1516Trans, true)
	wrappingKey := e.wrappingKeyFor(pin)
	wrapped, err := WrapKey(storageKey, wrappingKey)
	if err != nil {
		return err
	}
	e.pub.WrappedStorageKey = wrapped
	e.pub.StorageKeyFingerprint = crypto.HashBytes(storageKey[:])
	e.pub.SetHasPin(pin != "")
	e.pub.PinFailedAttempts = 0

	if secret != nil {
		if err := e.EncryptSecret(storageKey, *secret); err != nil {
			return err
		}
	}
	sess.SetStorageKey(storageKey)
	sess.PinCached = true
	return nil
}

// SetWipeCode implements §4.1's set_wipe_code: an independent fresh random
// key that protects nothing but its own fingerprint comparison.
func (e *Engine) SetWipeCode(code string) error {
	if code == "" {
		e.pub.SetHasWipeCode(false)
		crypto.SecureWipe(e.pub.WrappedWipeCodeKey[:])
		crypto.SecureWipe(e.pub.WipeCodeKeyFingerprint[:])
		return nil
	}
	wipeKey, err := GenerateSecretKey()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(wipeKey[:])
	wrappingKey := e.wrappingKeyFor(code)
	wrapped, err := WrapKey(wipeKey, wrappingKey)
	if err != nil {
		return err
	}
	e.pub.WrappedWipeCodeKey = wrapped
	e.pub.WipeCodeKeyFingerprint = crypto.HashBytes(wipeKey[:])
	e.pub.SetHasWipeCode(true)
	return nil
}

// DecryptSecret implements §3/§4.1's secret decryption and Invariant E
// fingerprint check. On a fingerprint mismatch the caller MUST wipe and
// halt (§7); DecryptSecret itself only reports the error; it does not wipe
// so that tests can observe the failure without destroying fixtures.
func (e *Engine) DecryptSecret(sess *session.State) (PlaintextSecret, error) {
	if !sess.HasStorageKey() {
		return PlaintextSecret{}, ErrNoStorageKey
	}
	key := sess.StorageKey[:32]
	iv := sess.StorageKey[32:64]
	ptBytes, err := crypto.DecryptCBC(key, iv, e.ciphertext[:])
	if err != nil {
		return PlaintextSecret{}, err
	}
	var pt [PlaintextSecLen]byte
	copy(pt[:], ptBytes)
	fp := crypto.HashBytes(pt[:])

	if e.pub.HasSecFingerprint() {
		if !crypto.ConstantTimeCompare(fp[:], e.pub.SecFingerprint[:]) {
			return PlaintextSecret{}, ErrFingerprintMismatch
		}
	} else {
		// first decode after a fresh wrap: record, don't compare.
		e.pub.SecFingerprint = fp
		e.pub.setFlag(FlagHasSecFingerprint, true)
	}

	if e.pub.EncryptedSecVersion != e.pub.Version {
		// Invariant D: ratchet forward on next successful PIN entry.
		e.pub.EncryptedSecVersion = e.pub.Version
	}

	secret := DecodePlaintextSecret(pt)
	crypto.SecureWipe(pt[:])
	return secret, nil
}

// EncryptSecret implements §3/§4.1's secret encryption: AES-256-CBC under
// storageKey (first 256 bits key, next 256 bits IV), recording the
// resulting fingerprint.
func (e *Engine) EncryptSecret(storageKey [64]byte, secret PlaintextSecret) error {
	key := storageKey[:32]
	iv := storageKey[32:64]
	pt := EncodePlaintextSecret(secret)
	ct, err := crypto.EncryptCBC(key, iv, pt[:])
	if err != nil {
		return err
	}
	copy(e.ciphertext[:], ct)
	e.pub.SecFingerprint = crypto.HashBytes(pt[:])
	e.pub.setFlag(FlagHasSecFingerprint, true)
	e.pub.EncryptedSecVersion = CurrentVersion
	e.pub.setFlag(FlagHasMnemonic, secret.Mnemonic != "")
	e.pub.setFlag(FlagHasNode, secret.Node.HasPrivateKey || secret.Node.HasPublicKey)
	crypto.SecureWipe(pt[:])
	return nil
}

// GetRootNode implements §4.1's get_root_node: either re-derive from the
// seed (BIP-39 + passphrase) or reuse a cached root, invalidating the cache
// when curve or passphrase presence changes. The returned node is a
// caller-owned copy (§9 Design Notes: "returning owning copies is
// acceptable at the cost of extra zeroization") — the caller must call
// Wipe() on it once done.
func (e *Engine) GetRootNode(sess *session.State, secret *PlaintextSecret, curve crypto.Curve, usePassphrase bool) (crypto.HDNode, error) {
	if e.rootCache != nil && e.rootCache.curve == curve && e.rootCache.usePassphrase == usePassphrase {
		return e.rootCache.node, nil
	}

	var seed [64]byte
	if sess.SeedCached && sess.SeedUsesPassphrase == usePassphrase {
		seed = sess.Seed
	} else {
		passphrase := ""
		if usePassphrase {
			passphrase = sess.Passphrase
		}
		seed = crypto.SeedFromMnemonic(secret.Mnemonic, passphrase)
		sess.SetSeed(seed, usePassphrase)
	}

	node, err := crypto.MasterNodeFromSeed(seed[:], curve)
	if err != nil {
		return crypto.HDNode{}, err
	}
	e.rootCache = &rootCacheEntry{curve: curve, usePassphrase: usePassphrase, node: node}
	return node, nil
}

// LoadDevice bulk-imports a mnemonic (recovery/loaded-device mode, §4.1
// load_device). The caller must then SetPin and Commit.
func (e *Engine) LoadDevice(sess *session.State, mnemonic string) PlaintextSecret {
	e.pub.setFlag(FlagImported, true)
	e.pub.setFlag(FlagHasMnemonic, true)
	sess.Clear(true)
	e.rootCache = nil
	return PlaintextSecret{Mnemonic: mnemonic}
}

// Reset clears the in-RAM shadow without touching flash (§4.1 reset()).
func (e *Engine) Reset() {
	e.pub = PublicConfig{}
	crypto.SecureWipe(e.ciphertext[:])
	e.initialized = false
	e.rootCache = nil
}

// Wipe clears the shadow and erases all three flash sectors (§4.1 wipe()).
func (e *Engine) Wipe() error {
	e.Reset()
	return e.dev.Wipe()
}

// Commit serializes the shadow and writes it via the flash device's
// sector-rotation protocol (§4.1 commit()).
func (e *Engine) Commit() error {
	e.pub.Version = CurrentVersion
	blob, err := EncodeBlob(e.meta, e.pub, e.ciphertext)
	if err != nil {
		return err
	}
	if err := e.dev.Commit(blob); err != nil {
		if errors.Is(err, flash.ErrCommitFailed) {
			build.Severe("storage: Error Detected. Reboot Device!")
		}
		return err
	}
	return nil
}

// GetPolicy returns the named policy and whether it exists.
func (e *Engine) GetPolicy(name string) (Policy, bool) {
	for _, p := range e.pub.Policies {
		if policyName(p) == name {
			return p, true
		}
	}
	return Policy{}, false
}

// SetPolicy enables/disables a named policy.
func (e *Engine) SetPolicy(name string, enabled bool) {
	for i, p := range e.pub.Policies {
		if policyName(p) == name {
			e.pub.Policies[i].Enabled = enabled
			return
		}
	}
}

// IsPolicyEnabled reports whether a named policy is present and enabled.
func (e *Engine) IsPolicyEnabled(name string) bool {
	p, ok := e.GetPolicy(name)
	return ok && p.Enabled
}

func policyName(p Policy) string {
	n := 0
	for n < len(p.Name) && p.Name[n] != 0 {
		n++
	}
	return string(p.Name[:n])
}

// NextU2FCounter implements §4.1's next_u2f_counter: monotonically
// increment and persist. The caller must Commit().
func (e *Engine) NextU2FCounter(sess *session.State) uint32 {
	next := sess.NextU2FCounter(e.pub.U2FCounter)
	e.pub.U2FCounter = next
	return next
}

// Public exposes a read-only view of the PublicConfig for Features/
// ApplySettings handlers.
func (e *Engine) Public() PublicConfig { return e.pub }

// HWEntropy exposes the hardware RNG source for callers that need to mix
// it with host-supplied entropy (§1 Non-goals: ResetDevice "mixes
// host-supplied entropy with a hardware source").
func (e *Engine) HWEntropy() [32]byte { return e.hw.Entropy32() }

// MutatePublic lets ApplySettings-style handlers adjust label/language/
// auto-lock fields; it is the dispatcher's job to validate lengths (§3:
// "language (≤16); label (≤48)") before calling in.
func (e *Engine) MutatePublic(fn func(*PublicConfig)) {
	fn(&e.pub)
}

// UUIDHexString returns the persisted device UUID string (§3 Metadata).
func (e *Engine) UUIDHexString() string {
	n := 0
	for n < len(e.meta.UUIDHex) && e.meta.UUIDHex[n] != 0 {
		n++
	}
	return string(e.meta.UUIDHex[:n])
}
