// Package session implements the volatile SessionState of spec §3: the
// unwrapped storage key, cached PIN/passphrase flags, the cached BIP-39
// seed, and the U2F counter shadow. Modelled as an explicit struct owned by
// the dispatcher (§9 "Global state": "model them as explicit state structs
// owned by the dispatcher"), grounded on the teacher's modules/wallet.Wallet
// fields (encrypted/unlocked/primarySeed/keys) generalized from a
// blockchain wallet's always-on key cache to a session that must be
// clearable on demand (session_clear, wipe, inactivity lock).
package session

import (
	"time"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// State is the device's volatile, RAM-only secret cache. All byte buffers
// here are confidential: every exit path that touches a State must call
// Clear, with keepPIN as needed (§5 "Memory discipline").
type State struct {
	StorageKey    [64]byte
	storageKeySet bool

	PinCached bool

	Passphrase       string
	PassphraseCached bool

	Seed               [64]byte
	SeedCached         bool
	SeedUsesPassphrase bool

	u2fCounter uint32

	lastActivity time.Time
}

// New returns a freshly cleared session.
func New() *State {
	return &State{lastActivity: time.Now()}
}

// SetStorageKey installs the just-unwrapped storage key (§4.1
// is_pin_correct Good/Rewrap path).
func (s *State) SetStorageKey(key [64]byte) {
	s.StorageKey = key
	s.storageKeySet = true
}

// HasStorageKey reports whether a storage key is currently cached.
func (s *State) HasStorageKey() bool { return s.storageKeySet }

// SetSeed caches a derived BIP-39 seed, invalidated whenever the
// passphrase-presence bit it was derived under changes (§4.1
// get_root_node: "cache invalidates when curve or passphrase presence
// changes" — the curve half of that invalidation lives in the storage
// engine's root-node cache, the seed half lives here).
func (s *State) SetSeed(seed [64]byte, usesPassphrase bool) {
	s.Seed = seed
	s.SeedCached = true
	s.SeedUsesPassphrase = usesPassphrase
}

// SetPassphrase caches the cleartext passphrase and invalidates any seed
// cached under a different passphrase presence.
func (s *State) SetPassphrase(p string) {
	s.Passphrase = p
	s.PassphraseCached = true
	if s.SeedCached && !s.SeedUsesPassphrase && p != "" {
		s.invalidateSeed()
	}
}

func (s *State) invalidateSeed() {
	crypto.SecureWipe(s.Seed[:])
	s.SeedCached = false
	s.SeedUsesPassphrase = false
}

// Touch records user/host activity for the auto-lock timer.
func (s *State) Touch(now time.Time) { s.lastActivity = now }

// Idle reports whether now - last activity has reached delay. The
// dispatcher does not call it: its PIN gate looks only at PinCached, so an
// idle session is not re-challenged.
func (s *State) Idle(now time.Time, delay time.Duration) bool {
	return now.Sub(s.lastActivity) >= delay
}

// NextU2FCounter returns the next counter value the caller should persist
// (storage.Engine.NextU2FCounter) and caches it locally so repeated
// reads within the same session are consistent.
func (s *State) NextU2FCounter(persisted uint32) uint32 {
	if persisted > s.u2fCounter {
		s.u2fCounter = persisted
	}
	s.u2fCounter++
	return s.u2fCounter
}

// Clear wipes every confidential field. keepPIN mirrors
// `session_clear(keep_pin=true)` from the Initialize-cancellation rule in
// §4.2: the PIN-cached bit survives, everything else does not.
func (s *State) Clear(keepPIN bool) {
	crypto.SecureWipe(s.StorageKey[:])
	s.storageKeySet = false

	if !keepPIN {
		s.PinCached = false
	}

	zeroString(&s.Passphrase)
	s.PassphraseCached = false

	s.invalidateSeed()
}

func zeroString(s *string) {
	// Strings are immutable in Go; the best this can do without unsafe is
	// drop the reference so the backing array becomes collectible. The
	// passphrase's bytes are therefore not overwritten here; this only
	// clears the session's copy of the reference.
	*s = ""
}
