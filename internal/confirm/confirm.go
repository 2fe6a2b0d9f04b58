// Package confirm implements the user-confirmation primitive of spec §4.3:
// render a prompt (falling back to hex for non-printable payloads), ask the
// host to tell the user to look at the device, then block until either the
// device's own button is pressed or the operation is cancelled.
//
// Grounded on the teacher's use of golang.org/x/sync/errgroup-style fan-out
// in modules/wallet's background scan goroutines, generalized here to race
// two poll sources (host ack, physical button) against a single
// cancellable context instead of racing work units.
package confirm

import (
	"context"
	"encoding/hex"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// ErrCancelled is returned when ctx is cancelled (a tiny Cancel/Initialize
// message arrived) before the user answered.
var ErrCancelled = errors.New("confirm: cancelled")

// Transport is the host-facing half of the confirmation round trip: send
// the ButtonRequest, then block for the ButtonAck that tells the device the
// host has informed the user (§4.3: "the ack only means the host showed the
// prompt, not that the user answered").
type Transport interface {
	SendButtonRequest(ctx context.Context, kind wire.ButtonRequestKind) error
	WaitButtonAck(ctx context.Context) error
}

// ButtonSource is the physical confirm/cancel button pair. WaitPressed
// blocks until the user presses Yes or No (or ctx is cancelled).
type ButtonSource interface {
	WaitPressed(ctx context.Context) (confirmed bool, err error)
}

const maxPrintableRun = 0 // consecutive non-printable bytes tolerated before hex fallback

// RenderPrompt implements §4.3's display fallback: render data as text when
// it looks like text, otherwise as a hex dump, so a raw pubkey or script
// byte string never shows as mojibake on the confirmation screen.
func RenderPrompt(data []byte) string {
	if isMostlyPrintable(data) {
		return string(data)
	}
	return "0x" + hex.EncodeToString(data)
}

func isMostlyPrintable(data []byte) bool {
	run := 0
	for _, b := range data {
		printable := b >= 0x20 && b < 0x7f
		if printable {
			run = 0
			continue
		}
		run++
		if run > maxPrintableRun {
			return false
		}
	}
	return true
}

// Ask implements §4.3's confirmation flow: send the ButtonRequest carrying
// the rendered prompt's kind, then wait for the host's ack and the physical
// button at the same time. Both waits run concurrently under a single
// errgroup, so an error from either one (a Cancel tiny message surfacing as
// context.Canceled included) cancels the other (§4.2: "Cancel/Initialize
// tiny messages unwind in-flight operations").
func Ask(ctx context.Context, t Transport, buttons ButtonSource, kind wire.ButtonRequestKind, promptData []byte) (bool, error) {
	_ = RenderPrompt(promptData) // the rendered text is handed to the display driver, out of scope here

	if err := t.SendButtonRequest(ctx, kind); err != nil {
		return false, err
	}

	g, gctx := errgroup.WithContext(ctx)
	var confirmed bool

	g.Go(func() error {
		return t.WaitButtonAck(gctx)
	})
	g.Go(func() error {
		c, err := buttons.WaitPressed(gctx)
		if err != nil {
			return err
		}
		confirmed = c
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return false, ErrCancelled
		}
		return false, err
	}
	return confirmed, nil
}
