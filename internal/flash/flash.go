// Package flash implements the wear-levelled, three-sector raw storage
// abstraction of spec §4.1 ("Flash commit") and §6 ("Persisted layout").
// The physical read/write/erase primitives are the hardware collaborator
// named out of scope in spec §1 ("hardware RNG sources ... assumed
// available"); this package owns only the sector-rotation, magic-prefix,
// and CRC-verified commit protocol on top of them, grounded on the
// teacher's persist.BoltDatabase atomicity pattern (persist/boltdb.go:
// open-then-validate-metadata, fail closed on mismatch) generalized from a
// single B+tree file to three rotating raw sectors.
package flash

import (
	"bytes"
	"errors"
	"hash/crc32"
)

// MagicLen is the width of the sector's identifying prefix.
const MagicLen = 4

// Magic is the byte sequence that identifies a sector as holding the
// active, fully-committed blob (§6: "magic 'stor'").
var Magic = [MagicLen]byte{'s', 't', 'o', 'r'}

// Retries is the minimum number of commit attempts before the engine gives
// up and halts (§4.1: "RETRIES ≥ 8").
const Retries = 8

// NumSectors is the number of physically distinct, equivalent sectors the
// engine rotates through (§2, §6).
const NumSectors = 3

var (
	// ErrNoActiveSector is returned by Init when no sector carries a valid
	// magic prefix — the device presents itself as blank (§4.1's failure
	// semantics table).
	ErrNoActiveSector = errors.New("flash: no active sector found")
	// ErrCommitFailed is the terminal condition of the retry loop: every
	// attempt produced a CRC mismatch. Per §4.1 this halts the device.
	ErrCommitFailed = errors.New("flash: commit retries exhausted, halting")
	// ErrZeroCRC guards against the degenerate all-zero blob the pseudocode
	// explicitly skips ("if crc_expected == 0: continue").
	ErrZeroCRC = errors.New("flash: blob has zero CRC")
	// ErrBlobTooLarge is returned when a blob does not fit a sector.
	ErrBlobTooLarge = errors.New("flash: blob exceeds sector length")
)

// Sector is the hardware collaborator: a single erasable, byte-addressable
// region of SectorLen bytes. Implementations model one physical flash
// sector; WriteAt must only ever transition bits 1->0 between erases, as
// real NOR/NAND flash does, which is why Commit always erases before
// writing.
type Sector interface {
	// Len returns the sector's usable length in bytes.
	Len() int
	// Erase resets every byte in the sector to its erased value (0xFF on
	// real NOR flash; callers must not assume a particular value, only
	// that Erase followed by WriteAt behaves like flash programming).
	Erase() error
	// WriteAt programs len(data) bytes starting at offset. offset+len(data)
	// must not exceed Len().
	WriteAt(offset int, data []byte) error
	// ReadAll returns the sector's full current contents.
	ReadAll() ([]byte, error)
}

// Device owns NumSectors sectors and the active-sector bookkeeping.
type Device struct {
	sectors [NumSectors]Sector
	active  int // index into sectors of the currently active sector, or -1
}

// NewDevice wraps exactly NumSectors sectors.
func NewDevice(sectors [NumSectors]Sector) *Device {
	return &Device{sectors: sectors, active: -1}
}

// Init scans all sectors for a valid magic prefix and adopts the first one
// found as active. If more than one sector validates (should not happen in
// steady state, but can transiently after a torn write mid-rotation), the
// lowest index wins and the others are left untouched until the next
// Commit reclaims them — Commit always erases its target before writing,
// so stale sectors self-heal.
func (d *Device) Init() error {
	for i, s := range d.sectors {
		data, err := s.ReadAll()
		if err != nil {
			return err
		}
		if len(data) >= MagicLen && bytes.Equal(data[:MagicLen], Magic[:]) {
			d.active = i
			return nil
		}
	}
	d.active = -1
	return ErrNoActiveSector
}

// IsInitialized reports whether Init found an active sector.
func (d *Device) IsInitialized() bool {
	return d.active >= 0
}

// ActiveBlob returns the full contents of the active sector, or an error if
// no sector is active.
func (d *Device) ActiveBlob() ([]byte, error) {
	if d.active < 0 {
		return nil, ErrNoActiveSector
	}
	return d.sectors[d.active].ReadAll()
}

// Commit writes blob (which must begin with the MagicLen-byte magic
// prefix) to the next sector in round-robin order. The CRC32 of blob is
// computed once and a zero CRC is refused with ErrZeroCRC; then, for up to
// Retries attempts:
//
//	erase(next); erase(next)   // belt-and-braces
//	write_payload(next, offset=MagicLen, blob[MagicLen:])
//	write_magic(next, offset=0, blob[:MagicLen])
//	if CRC32(first len(blob) bytes of next) == crc_expected:
//	    next becomes active; the previously active sector is erased; return Ok
//	return ErrCommitFailed
//
// Erasing the previous sector leaves exactly one sector carrying the magic.
//
// The magic bytes are written last so a torn write leaves the target
// sector unparseable (Init will skip it) rather than ambiguously
// parseable.
func (d *Device) Commit(blob []byte) error {
	if len(blob) < MagicLen || !bytes.Equal(blob[:MagicLen], Magic[:]) {
		return errors.New("flash: blob missing magic prefix")
	}
	next := (d.active + 1) % NumSectors
	if len(blob) > d.sectors[next].Len() {
		return ErrBlobTooLarge
	}

	crcExpected := crc32.ChecksumIEEE(blob)
	if crcExpected == 0 {
		return ErrZeroCRC
	}

	for attempt := 0; attempt < Retries; attempt++ {
		if err := d.sectors[next].Erase(); err != nil {
			return err
		}
		// belt-and-braces: erase again before writing, so a reset between
		// the two erases still leaves the target sector blank rather than
		// half of a previous blob.
		if err := d.sectors[next].Erase(); err != nil {
			return err
		}
		if err := d.sectors[next].WriteAt(MagicLen, blob[MagicLen:]); err != nil {
			return err
		}
		if err := d.sectors[next].WriteAt(0, blob[:MagicLen]); err != nil {
			return err
		}
		written, err := d.sectors[next].ReadAll()
		if err != nil {
			return err
		}
		if crc32.ChecksumIEEE(written[:len(blob)]) == crcExpected {
			prev := d.active
			d.active = next
			if prev >= 0 && prev != next {
				return d.sectors[prev].Erase()
			}
			return nil
		}
	}
	return ErrCommitFailed
}

// Wipe erases all sectors and clears the active pointer.
func (d *Device) Wipe() error {
	for _, s := range d.sectors {
		if err := s.Erase(); err != nil {
			return err
		}
	}
	d.active = -1
	return nil
}
