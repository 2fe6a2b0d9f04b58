package confirm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

type fakeTransport struct {
	sentKind  wire.ButtonRequestKind
	ackErr    error
	ackCalled bool
}

func (f *fakeTransport) SendButtonRequest(ctx context.Context, kind wire.ButtonRequestKind) error {
	f.sentKind = kind
	return nil
}

func (f *fakeTransport) WaitButtonAck(ctx context.Context) error {
	f.ackCalled = true
	return f.ackErr
}

type fakeButtons struct {
	confirmed bool
	err       error
}

func (b fakeButtons) WaitPressed(ctx context.Context) (bool, error) { return b.confirmed, b.err }

func TestAskReturnsTrueWhenButtonConfirms(t *testing.T) {
	tr := &fakeTransport{}
	ok, err := Ask(context.Background(), tr, fakeButtons{confirmed: true}, wire.ButtonRequestSignTx, []byte("sign?"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, tr.ackCalled)
	require.Equal(t, wire.ButtonRequestSignTx, tr.sentKind)
}

func TestAskReturnsFalseWithoutErrorWhenButtonDeclines(t *testing.T) {
	tr := &fakeTransport{}
	ok, err := Ask(context.Background(), tr, fakeButtons{confirmed: false}, wire.ButtonRequestSignTx, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAskPropagatesCancellation(t *testing.T) {
	tr := &fakeTransport{ackErr: context.Canceled}
	ok, err := Ask(context.Background(), tr, fakeButtons{confirmed: true}, wire.ButtonRequestSignTx, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.False(t, ok)
}

func TestAskPropagatesOtherTransportErrors(t *testing.T) {
	boom := errors.New("transport exploded")
	tr := &fakeTransport{ackErr: boom}
	_, err := Ask(context.Background(), tr, fakeButtons{confirmed: true}, wire.ButtonRequestSignTx, nil)
	require.ErrorIs(t, err, boom)
}

func TestRenderPromptShowsPrintableTextVerbatim(t *testing.T) {
	require.Equal(t, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", RenderPrompt([]byte("1BoatSLRHtKNngkdXEeobR76b53LETtpyT")))
}

func TestRenderPromptFallsBackToHexForBinary(t *testing.T) {
	got := RenderPrompt([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
	require.True(t, strings.HasPrefix(got, "0x"))
	require.Equal(t, "0x000102030405", got)
}
