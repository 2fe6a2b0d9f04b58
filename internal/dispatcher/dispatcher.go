// Package dispatcher implements the message dispatch loop of spec §4.2: a
// static (id -> handler) map, tiny-message whitelisting while a
// sub-state-machine awaits an ack, Cancel/Initialize unwind semantics, and
// variant gating (normal firmware vs. manufacturing).
//
// Grounded on the teacher's modules/*.Module request-routing convention
// (each module registers a fixed set of RPC-style handlers behind a single
// entry point in api/server.go), generalized from HTTP routes to the
// framed binary protocol of wire.Frame, with the Cancel/Initialize unwind
// rule layered on top since the teacher's daemon has no analogous
// mid-request cancellation model.
package dispatcher

import (
	"context"
	"errors"

	"github.com/keepkey/keepkey-firmware-sub001/internal/confirm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/exchange"
	"github.com/keepkey/keepkey-firmware-sub001/internal/passphrasesm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/pinsm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/session"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/persist"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// Variant gates which handlers run on which firmware build (§4.2).
type Variant int

const (
	AnyVariant Variant = iota
	MFRProhibited
	MFROnly
)

// tinyWhitelist is the set of message IDs the main loop will still match
// while a sub-state-machine is in its own wait (§4.2: "a parallel reception
// path ... only matches a whitelisted set").
var tinyWhitelist = map[wire.MessageID]bool{
	wire.MsgPinMatrixAck:      true,
	wire.MsgPassphraseAck:     true,
	wire.MsgButtonAck:         true,
	wire.MsgCharacterAck:      true,
	wire.MsgTxAck:             true,
	wire.MsgEthereumTxAck:     true,
	wire.MsgCancel:            true,
	wire.MsgInitialize:        true,
	wire.MsgDebugLinkGetState: true,
}

// ErrUnexpectedMessage is returned by the tiny-message reader when a
// message outside tinyWhitelist arrives mid-wait.
var ErrUnexpectedMessage = errors.New("dispatcher: unexpected message during sub-state-machine wait")

// Transport is the host-facing send/receive surface the dispatcher drives.
// A concrete implementation frames/deframes over wire.WriteFrame and
// wire.FrameReader; tests can substitute an in-memory fake.
type Transport interface {
	Send(id wire.MessageID, msg interface{}) error
	Recv(ctx context.Context) (wire.MessageID, []byte, error)
}

// unwindKind names the ways an operation can end (normally, by Cancel, by
// Initialize). Handlers report the last two through the ErrCancelled and
// ErrReinitialize errors; nothing in this package reads these constants.
type unwindKind int

const (
	unwindNone unwindKind = iota
	unwindCancel
	unwindInitialize
)

// Dispatcher owns every piece of mutable device state and wires the
// sub-packages together per handler.
type Dispatcher struct {
	t        Transport
	Engine   *storage.Engine
	Session  *session.State
	Buttons  confirm.ButtonSource
	Exchange *exchange.Hook
	log      *persist.Logger

	variant Variant

	pin        *pinsm.Machine
	passphrase *passphrasesm.Machine

	resetMsgStack bool
}

// New constructs a Dispatcher over an already-initialized storage engine
// and session.
func New(t Transport, engine *storage.Engine, sess *session.State, buttons confirm.ButtonSource, ex *exchange.Hook, log *persist.Logger, variant Variant) *Dispatcher {
	return &Dispatcher{t: t, Engine: engine, Session: sess, Buttons: buttons, Exchange: ex, log: log, variant: variant}
}

func (d *Dispatcher) logln(args ...interface{}) {
	if d.log != nil {
		d.log.Println(args...)
	}
}

// handlerMeta declares a handler's gating requirements (§4.2).
type handlerMeta struct {
	variant      Variant
	requiresInit bool
	requiresPin  bool
}

// runtimeHandler is a concrete (decode, execute, encode) triple. Each
// handler decodes payload itself because the wire types differ per
// message; this mirrors the teacher's per-route request-struct decoding in
// api/server.go rather than forcing a single decode signature.
type runtimeHandler func(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error)

// handlers is the static (id) -> (schema, handler, variant-gate) map
// (§4.2). Populated in init below.
var handlers map[wire.MessageID]registeredHandler

type registeredHandler struct {
	meta handlerMeta
	fn   runtimeHandler
}

func init() {
	handlers = map[wire.MessageID]registeredHandler{
		wire.MsgInitialize:       {handlerMeta{AnyVariant, false, false}, handleInitialize},
		wire.MsgCancel:           {handlerMeta{AnyVariant, false, false}, handleCancel},
		wire.MsgGetPublicKey:     {handlerMeta{AnyVariant, true, true}, handleGetPublicKey},
		wire.MsgChangePin:        {handlerMeta{AnyVariant, true, true}, handleChangePin},
		wire.MsgWipeDevice:       {handlerMeta{AnyVariant, false, false}, handleWipeDevice},
		wire.MsgApplySettings:    {handlerMeta{AnyVariant, true, true}, handleApplySettings},
		wire.MsgApplyPolicies:    {handlerMeta{AnyVariant, true, true}, handleApplyPolicies},
		wire.MsgLoadDevice:       {handlerMeta{MFRProhibited, false, false}, handleLoadDevice},
		wire.MsgCipherKeyValue:   {handlerMeta{AnyVariant, true, true}, handleCipherKeyValue},
		wire.MsgResetDevice:      {handlerMeta{AnyVariant, false, false}, handleResetDevice},
		wire.MsgRecoveryDevice:   {handlerMeta{AnyVariant, false, false}, handleRecoveryDevice},
		wire.MsgSignTx:           {handlerMeta{AnyVariant, true, true}, handleSignTx},
		wire.MsgEthereumSignTx:   {handlerMeta{AnyVariant, true, true}, handleEthereumSignTx},
	}
}

// Dispatch implements §4.2's main handler entry point: variant gate, init
// gate, then PIN gate, then the handler itself.
func (d *Dispatcher) Dispatch(ctx context.Context, id wire.MessageID, payload []byte) error {
	h, ok := handlers[id]
	if !ok {
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureUnexpectedMessage, Message: "no such handler"})
	}
	if !d.variantAllowed(h.meta.variant) {
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureUnexpectedMessage, Message: "wrong firmware variant"})
	}
	if h.meta.requiresInit && !d.Engine.IsInitialized() {
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureNotInitialized})
	}
	if h.meta.requiresPin && d.Engine.Public().HasPin() && !d.Session.PinCached {
		ok, err := d.runPinChallenge(ctx, pinsm.Current)
		if err != nil {
			return d.sendUnwindOrFailure(err)
		}
		if !ok {
			return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailurePinInvalid})
		}
	}

	replyID, reply, err := h.fn(ctx, d, payload)
	if err != nil {
		return d.sendUnwindOrFailure(err)
	}
	return d.t.Send(replyID, reply)
}

func (d *Dispatcher) variantAllowed(v Variant) bool {
	switch d.variant {
	case MFROnly:
		return v == MFROnly
	default:
		return v == AnyVariant || v == MFRProhibited
	}
}

func (d *Dispatcher) sendUnwindOrFailure(err error) error {
	switch {
	case errors.Is(err, ErrCancelled):
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureActionCancelled})
	case errors.Is(err, ErrReinitialize):
		d.Session.Clear(true)
		d.resetMsgStack = false
		return d.t.Send(wire.MsgFeatures, d.features())
	case errors.Is(err, storage.ErrFingerprintMismatch):
		d.logln("fatal: secret fingerprint mismatch, wiping")
		_ = d.Engine.Wipe()
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureFirmwareError, Message: "integrity check failed"})
	default:
		return d.t.Send(wire.MsgFailure, wire.Failure{Code: wire.FailureDataError, Message: err.Error()})
	}
}

// ErrCancelled is the unwind signal used throughout this package for a
// Cancel tiny message observed mid-operation (§4.2).
var ErrCancelled = errors.New("dispatcher: action cancelled")

// ErrReinitialize is the unwind signal for an Initialize tiny message
// observed mid-operation; unlike ErrCancelled it also clears the session
// (keeping the PIN cache) before the caller replies with Features.
var ErrReinitialize = errors.New("dispatcher: reinitialize")

// pollTiny reads one message, restricting acceptance to tinyWhitelist while
// a sub-state-machine is in its own wait, and translates Cancel/Initialize
// into the unwind errors every suspension point must handle (§4.2, §5).
func (d *Dispatcher) pollTiny(ctx context.Context) (wire.MessageID, []byte, error) {
	id, payload, err := d.t.Recv(ctx)
	if err != nil {
		return 0, nil, err
	}
	if !tinyWhitelist[id] {
		return 0, nil, ErrUnexpectedMessage
	}
	switch id {
	case wire.MsgCancel:
		return 0, nil, ErrCancelled
	case wire.MsgInitialize:
		d.resetMsgStack = true
		return 0, nil, ErrReinitialize
	}
	return id, payload, nil
}

func handleInitialize(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	d.Session.Clear(true)
	d.resetMsgStack = false
	return wire.MsgFeatures, d.features(), nil
}

func handleCancel(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	return wire.MsgFailure, wire.Failure{Code: wire.FailureActionCancelled}, nil
}

func (d *Dispatcher) features() wire.Features {
	pub := d.Engine.Public()
	policies := make([]wire.PolicyType, 0, len(pub.Policies))
	for _, p := range pub.Policies {
		policies = append(policies, wire.PolicyType{Name: policyNameOf(p), Enabled: p.Enabled})
	}
	return wire.Features{
		VendorString:         "keepkey-firmware-sub001",
		Initialized:          d.Engine.IsInitialized(),
		Label:                pub.Label,
		Language:             pub.Language,
		PinProtection:        pub.HasPin(),
		PassphraseProtection: pub.PassphraseProtected(),
		PinCached:            d.Session.PinCached,
		PassphraseCached:     d.Session.PassphraseCached,
		Imported:             pub.Imported(),
		NoBackup:             pub.NoBackup(),
		PinFailedAttempts:    pub.PinFailedAttempts,
		AutoLockDelayMs:      pub.AutoLockDelayMs,
		Policies:             policies,
		U2FCounter:           pub.U2FCounter,
		WipeCodeProtection:   pub.HasWipeCode(),
		SCAHardened:          pub.SCAHardened(),
	}
}

func policyNameOf(p storage.Policy) string {
	n := 0
	for n < len(p.Name) && p.Name[n] != 0 {
		n++
	}
	return string(p.Name[:n])
}
