package dispatcher

import (
	"context"
	"time"

	"github.com/keepkey/keepkey-firmware-sub001/internal/pinsm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

func kindString(k pinsm.Kind) string {
	switch k {
	case pinsm.NewFirst:
		return "NewFirst"
	case pinsm.NewSecond:
		return "NewSecond"
	case pinsm.WipeCode:
		return "WipeCode"
	default:
		return "Current"
	}
}

// collectPin drives one PinMatrixRequest/Ack round trip (or two, for
// NewFirst/NewSecond confirmation pairs), returning the decoded PIN once
// the machine is satisfied (§4.4).
func (d *Dispatcher) collectPin(ctx context.Context, kind pinsm.Kind) (string, error) {
	m := pinsm.New(kind)
	d.pin = m
	for {
		if err := d.t.Send(wire.MsgPinMatrixRequest, wire.PinMatrixRequest{Kind: kindString(m.Kind())}); err != nil {
			return "", err
		}
		_, payload, err := d.waitForTiny(ctx, wire.MsgPinMatrixAck)
		if err != nil {
			return "", err
		}
		var ack wire.PinMatrixAck
		if err := wire.Unmarshal(payload, &ack); err != nil {
			return "", err
		}
		pin, needsSecond, err := m.Submit(ack.Pin)
		if err != nil {
			return "", err
		}
		if !needsSecond {
			return pin, nil
		}
	}
}

// waitForTiny loops pollTiny until the expected message ID arrives,
// propagating Cancel/Initialize unwinds and rejecting anything not in the
// tiny whitelist (§4.2).
func (d *Dispatcher) waitForTiny(ctx context.Context, want wire.MessageID) (wire.MessageID, []byte, error) {
	for {
		id, payload, err := d.pollTiny(ctx)
		if err != nil {
			return 0, nil, err
		}
		if id == want {
			return id, payload, nil
		}
		// DebugLinkGetState and similar side-channel messages are
		// whitelisted but not what this wait is for; keep polling.
	}
}

// runPinChallenge implements §4.1/§4.4's authentication gate: collect the
// current PIN, apply pre-check backoff, detect wipe-code collision, and
// test it against storage.
func (d *Dispatcher) runPinChallenge(ctx context.Context, kind pinsm.Kind) (bool, error) {
	pin, err := d.collectPin(ctx, kind)
	if err != nil {
		return false, err
	}

	backoff := d.Engine.PreCheckBackoff()
	_ = d.Engine.Commit() // persist the incremented counter before any wait (§4.1)
	if backoff > 0 {
		time.Sleep(backoff) // not cancellable, per §5
	}

	if d.Engine.IsWipeCodeCorrect(pin) {
		_ = d.Engine.Wipe()
		return false, nil
	}

	result, err := d.Engine.IsPinCorrect(d.Session, pin)
	if err != nil {
		return false, err
	}
	if result == storage.PinRewrap || result == storage.PinGood {
		_ = d.Engine.Commit()
	}
	return result == storage.PinGood || result == storage.PinRewrap, nil
}
