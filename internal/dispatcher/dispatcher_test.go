package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-firmware-sub001/internal/flash"
	"github.com/keepkey/keepkey-firmware-sub001/internal/pinsm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/session"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/persist"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

type fakeHW struct{ b byte }

func (h fakeHW) Entropy32() [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = h.b
	}
	return out
}

type sentMsg struct {
	id  wire.MessageID
	msg interface{}
}

// fakeTransport queues a fixed inbox of (id, payload) pairs and records
// every outgoing Send. For PinMatrixAck it can instead consult a dynamic
// provider, since the correct keypad positions depend on a layout the
// dispatcher only decides at collectPin time.
type fakeTransport struct {
	sent  []sentMsg
	inbox []func() (wire.MessageID, []byte)
}

func (f *fakeTransport) Send(id wire.MessageID, msg interface{}) error {
	f.sent = append(f.sent, sentMsg{id, msg})
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) (wire.MessageID, []byte, error) {
	if len(f.inbox) == 0 {
		return 0, nil, context.Canceled
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	id, payload := next()
	return id, payload, nil
}

func (f *fakeTransport) queue(id wire.MessageID, payload []byte) {
	f.inbox = append(f.inbox, func() (wire.MessageID, []byte) { return id, payload })
}

func (f *fakeTransport) lastSent() sentMsg {
	return f.sent[len(f.sent)-1]
}

type fakeButtons struct{ confirmed bool }

func (b fakeButtons) WaitPressed(ctx context.Context) (bool, error) { return b.confirmed, nil }

func newSectors() [flash.NumSectors]flash.Sector {
	var s [flash.NumSectors]flash.Sector
	for i := range s {
		s[i] = flash.NewMemorySector(storage.StorageSectorLen)
	}
	return s
}

func newTestDispatcher(t *testing.T, initialize bool) (*Dispatcher, *fakeTransport, *storage.Engine, *session.State) {
	t.Helper()
	log, err := persist.NewLogger("test")
	require.NoError(t, err)
	dev := flash.NewDevice(newSectors())
	engine := storage.NewEngine(dev, fakeHW{0x42}, log)
	require.NoError(t, engine.Init())
	if initialize {
		require.NoError(t, engine.InitializeBlank())
		require.NoError(t, engine.Commit())
	}
	sess := session.New()
	tr := &fakeTransport{}
	d := New(tr, engine, sess, fakeButtons{confirmed: true}, nil, log, AnyVariant)
	return d, tr, engine, sess
}

// pinPositionsFor computes the keypad-position string a host would send to
// make the device decode to want, given the layout the dispatcher's
// in-flight pinsm.Machine just scrambled.
func pinPositionsFor(layout pinsm.Matrix, want string) string {
	out := make([]byte, len(want))
	for i := 0; i < len(want); i++ {
		digit := want[i] - '0'
		for pos, d := range layout {
			if d == digit {
				out[i] = byte('1' + pos)
				break
			}
		}
	}
	return string(out)
}

func TestDispatchUnknownMessageReturnsFailure(t *testing.T) {
	d, tr, _, _ := newTestDispatcher(t, false)
	err := d.Dispatch(context.Background(), wire.MessageID(9999), nil)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFailure, tr.lastSent().id)
	fail := tr.lastSent().msg.(wire.Failure)
	require.Equal(t, wire.FailureUnexpectedMessage, fail.Code)
}

func TestInitializeClearsSessionAndReturnsFeatures(t *testing.T) {
	d, tr, _, sess := newTestDispatcher(t, true)
	sess.PinCached = true
	sess.SetPassphrase("secret")

	payload, err := wire.Marshal(wire.Initialize{})
	require.NoError(t, err)
	err = d.Dispatch(context.Background(), wire.MsgInitialize, payload)
	require.NoError(t, err)

	require.Equal(t, wire.MsgFeatures, tr.lastSent().id)
	features := tr.lastSent().msg.(wire.Features)
	require.True(t, features.Initialized)
	require.True(t, sess.PinCached)
	require.False(t, sess.PassphraseCached)
}

func TestChangePinRequiresInit(t *testing.T) {
	d, tr, _, _ := newTestDispatcher(t, false)
	payload, err := wire.Marshal(wire.ChangePin{})
	require.NoError(t, err)
	err = d.Dispatch(context.Background(), wire.MsgChangePin, payload)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFailure, tr.lastSent().id)
	require.Equal(t, wire.FailureNotInitialized, tr.lastSent().msg.(wire.Failure).Code)
}

func TestWipeDeviceConfirmedClearsStorage(t *testing.T) {
	d, tr, engine, _ := newTestDispatcher(t, true)
	tr.queue(wire.MsgButtonAck, nil)

	err := d.Dispatch(context.Background(), wire.MsgWipeDevice, nil)
	require.NoError(t, err)
	require.Equal(t, wire.MsgSuccess, tr.lastSent().id)
	require.False(t, engine.IsInitialized())
}

func TestWipeDeviceCancelledLeavesStorageIntact(t *testing.T) {
	d, tr, engine, _ := newTestDispatcher(t, true)
	d.Buttons = fakeButtons{confirmed: false}
	tr.queue(wire.MsgButtonAck, nil)

	err := d.Dispatch(context.Background(), wire.MsgWipeDevice, nil)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFailure, tr.lastSent().id)
	require.Equal(t, wire.FailureActionCancelled, tr.lastSent().msg.(wire.Failure).Code)
	require.True(t, engine.IsInitialized())
}

func TestPinGateAcceptsCorrectPinAndRejectsWrongPin(t *testing.T) {
	d, tr, engine, sess := newTestDispatcher(t, true)

	require.NoError(t, engine.SetPin(sess, "4711", nil))
	require.NoError(t, engine.Commit())
	sess.Clear(false)

	// Wrong PIN first: position "1111" always decodes to four copies of
	// whatever single digit sits at keypad position 1, which can never equal
	// "4711" (which mixes three different digits), regardless of how Scramble permuted the
	// layout.
	tr.queue(wire.MsgPinMatrixAck, mustMarshal(t, wire.PinMatrixAck{Pin: "1111"}))
	req, err := wire.Marshal(wire.GetPublicKey{Curve: "secp256k1"})
	require.NoError(t, err)
	err = d.Dispatch(context.Background(), wire.MsgGetPublicKey, req)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFailure, tr.lastSent().id)
	require.Equal(t, wire.FailurePinInvalid, tr.lastSent().msg.(wire.Failure).Code)
	require.False(t, sess.PinCached)

	// Correct PIN: compute the exact position sequence for the layout the
	// next collectPin call will scramble, by pre-registering a lazy
	// provider that reads d.pin only once Dispatch has created it.
	tr.inbox = append(tr.inbox, func() (wire.MessageID, []byte) {
		positions := pinPositionsFor(d.pin.Layout(), "4711")
		return wire.MsgPinMatrixAck, mustMarshal(t, wire.PinMatrixAck{Pin: positions})
	})
	err = d.Dispatch(context.Background(), wire.MsgGetPublicKey, req)
	require.NoError(t, err)
	require.Equal(t, wire.MsgPublicKey, tr.lastSent().id)
	require.True(t, sess.PinCached)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := wire.Marshal(v)
	require.NoError(t, err)
	return b
}
