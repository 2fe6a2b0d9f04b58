// Package passphrasesm implements the passphrase-entry state machine of
// spec §4.5: collect an optional BIP-39 passphrase from the host, enforce
// its length cap, and hand back a value that invalidates any cached seed
// derived under a different passphrase presence.
//
// Grounded on the teacher's wallet-unlock flow (modules/wallet's
// Unlock(masterKey) taking an optional secondary secret and caching
// derived state only after validating it), generalized from a single
// unlock secret to a cacheable, re-askable passphrase.
package passphrasesm

import (
	"errors"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// MaxLen is the passphrase length cap (§3: "passphrase (≤50 UTF-8 bytes,
// cleared on every lock)").
const MaxLen = 50

// ErrTooLong is returned when the host submits more than MaxLen bytes.
var ErrTooLong = errors.New("passphrasesm: passphrase exceeds maximum length")

// Machine tracks whether a passphrase has been requested for the current
// operation, so the dispatcher only asks once per unlock even across
// several messages that each need the seed (§4.5: "ask at most once per
// unlocked session").
type Machine struct {
	asked     bool
	collected bool
	value     []byte
}

// New returns a fresh, unasked machine.
func New() *Machine { return &Machine{} }

// NeedsRequest reports whether the dispatcher must still emit a
// PassphraseRequest before it can proceed.
func (m *Machine) NeedsRequest() bool { return !m.asked }

// MarkRequested records that a PassphraseRequest was sent, so a retried
// call to NeedsRequest (e.g. after a cooperative poll point) does not send
// a second one while the host is still answering the first.
func (m *Machine) MarkRequested() { m.asked = true }

// Submit validates and stores the host's PassphraseAck payload.
func (m *Machine) Submit(passphrase string) error {
	if len(passphrase) > MaxLen {
		return ErrTooLong
	}
	m.value = []byte(passphrase)
	m.collected = true
	return nil
}

// Collected reports whether Submit has succeeded.
func (m *Machine) Collected() bool { return m.collected }

// Value returns the collected passphrase. Callers must not retain the
// returned string past use; call Wipe when done with the machine.
func (m *Machine) Value() string { return string(m.value) }

// Wipe zeroes the cached passphrase bytes and resets ask/collected state,
// for use on Cancel/Initialize/lock (§4.2, §5 memory discipline).
func (m *Machine) Wipe() {
	crypto.SecureWipe(m.value)
	m.value = nil
	m.asked = false
	m.collected = false
}
