package build

import "fmt"

// Critical is called when the firmware detects a condition that should be
// impossible if the code is correct: a sector-rotation index out of range,
// a CRC loop invariant broken, a buffer-size mismatch during (de)serialization.
// It never runs on attacker/host-controlled input — those paths return a
// Failure message instead. Mirrors the teacher's pkg/encoding/rivbin use of
// build.Critical for "should never happen" encoding errors.
func Critical(v ...interface{}) {
	if DEBUG {
		panic(fmt.Sprint(v...))
	}
}

// Severe behaves like Critical but is always fatal, debug build or not. Used
// by the storage engine when the flash commit retry loop is exhausted
// (§4.1), where continuing to run risks operating on a corrupted secret.
func Severe(v ...interface{}) {
	panic(fmt.Sprint(v...))
}
