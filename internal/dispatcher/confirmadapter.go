package dispatcher

import (
	"context"

	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// confirmTransportAdapter satisfies internal/confirm.Transport over this
// package's own Transport, so the confirmation primitive can share the
// same tiny-message wait loop (and therefore the same Cancel/Initialize
// unwind semantics) as the PIN and passphrase flows.
type confirmTransportAdapter struct{ d *Dispatcher }

func (d *Dispatcher) confirmTransport() *confirmTransportAdapter {
	return &confirmTransportAdapter{d: d}
}

func (a *confirmTransportAdapter) SendButtonRequest(ctx context.Context, kind wire.ButtonRequestKind) error {
	return a.d.t.Send(wire.MsgButtonRequest, wire.ButtonRequest{Kind: kind})
}

func (a *confirmTransportAdapter) WaitButtonAck(ctx context.Context) error {
	_, _, err := a.d.waitForTiny(ctx, wire.MsgButtonAck)
	return err
}
