// Package pinsm implements the PIN-entry state machine of spec §4.4: a
// 3x3 keypad scrambled into a random digit layout each time it is shown, so
// a host-side shoulder-surfer or malicious host never sees which physical
// positions the user pressed map to which digits.
//
// Grounded on the teacher's deterministic-from-entropy shuffle pattern
// (modules/wallet's seed-derived address generation reseeds a PRNG from a
// fixed source the same way this reseeds a permutation from fastrand),
// adapted to Fisher-Yates over the nine keypad positions.
package pinsm

import (
	"errors"

	"github.com/NebulousLabs/fastrand"
)

const keypadSize = 9

// Kind identifies which PIN is being requested, mirrored onto the outgoing
// PinMatrixRequest (§4.4: "Current", "NewFirst", "NewSecond", "WipeCode").
type Kind int

const (
	Current Kind = iota
	NewFirst
	NewSecond
	WipeCode
)

var (
	// ErrPinTooShort is returned when a submitted sequence is empty.
	ErrPinTooShort = errors.New("pinsm: PIN must not be empty")
	// ErrPinTooLong rejects sequences beyond the device's maximum (§4.4: 50
	// digits).
	ErrPinTooLong = errors.New("pinsm: PIN exceeds maximum length")
	// ErrBadPosition is returned when a submitted digit does not correspond
	// to a position on the current keypad.
	ErrBadPosition = errors.New("pinsm: position is not on the keypad")
	// ErrMismatch is returned by Machine.Confirm when NewFirst and
	// NewSecond entries disagree.
	ErrMismatch = errors.New("pinsm: PIN confirmation does not match")
)

const maxPinLen = 50

// Matrix is one scrambled keypad layout: Matrix[position-1] is the digit
// (1-9) shown at keypad position `position` (1-9, left-to-right,
// top-to-bottom, matching the physical layout §4.4 describes).
type Matrix [keypadSize]byte

// Scramble returns a freshly randomized keypad layout.
func Scramble() Matrix {
	var m Matrix
	for i := range m {
		m[i] = byte(i + 1)
	}
	perm := fastrand.Perm(keypadSize)
	var shuffled Matrix
	for i, p := range perm {
		shuffled[i] = m[p]
	}
	return shuffled
}

// Decode maps a host-submitted position string (each byte '1'..'9') through
// layout back into the actual digit string the user intended, per §4.4:
// the host never learns the digit-to-position mapping, only positions.
func Decode(layout Matrix, positions string) (string, error) {
	if len(positions) == 0 {
		return "", ErrPinTooShort
	}
	if len(positions) > maxPinLen {
		return "", ErrPinTooLong
	}
	out := make([]byte, len(positions))
	for i := 0; i < len(positions); i++ {
		pos := positions[i]
		if pos < '1' || pos > '9' {
			return "", ErrBadPosition
		}
		out[i] = layout[pos-'1'] + '0'
	}
	return string(out), nil
}

// Machine drives the two-entry new-PIN confirmation flow (set/change PIN
// and set wipe code both ask twice, §4.4) plus the single-entry flow used
// to test an existing PIN.
type Machine struct {
	kind   Kind
	layout Matrix
	first  string
}

// New starts a fresh entry of the given kind with a newly scrambled keypad.
func New(kind Kind) *Machine {
	return &Machine{kind: kind, layout: Scramble()}
}

// Layout returns the current keypad layout to embed in the outgoing
// PinMatrixRequest.
func (m *Machine) Layout() Matrix { return m.layout }

// Kind reports which entry this machine is driving.
func (m *Machine) Kind() Kind { return m.kind }

// Submit decodes one PinMatrixAck. For Current/WipeCode it returns the
// decoded PIN directly. For NewFirst it stashes the result and reports that
// a second entry (NewSecond) is required. For NewSecond it compares against
// the stashed first entry.
func (m *Machine) Submit(positions string) (pin string, needsSecond bool, err error) {
	decoded, err := Decode(m.layout, positions)
	if err != nil {
		return "", false, err
	}
	switch m.kind {
	case Current, WipeCode:
		return decoded, false, nil
	case NewFirst:
		m.first = decoded
		m.kind = NewSecond
		m.layout = Scramble()
		return "", true, nil
	case NewSecond:
		if decoded != m.first {
			return "", false, ErrMismatch
		}
		return decoded, false, nil
	default:
		return "", false, errors.New("pinsm: unknown kind")
	}
}
