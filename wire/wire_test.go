package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type codecSample struct {
	Flag    bool
	Small   uint8
	Mid     uint16
	Big     uint32
	Huge    uint64
	Signed  int32
	Name    string
	Payload []byte
	Fixed   [4]byte
	Numbers []uint32
	Child   *codecChild
}

type codecChild struct {
	A uint32
	B string
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := codecSample{
		Flag:    true,
		Small:   0xAB,
		Mid:     0xBEEF,
		Big:     0xCAFEBABE,
		Huge:    0x0123456789ABCDEF,
		Signed:  -42,
		Name:    "keepkeyfw",
		Payload: []byte{1, 2, 3, 4, 5},
		Fixed:   [4]byte{9, 8, 7, 6},
		Numbers: []uint32{10, 20, 30},
		Child:   &codecChild{A: 7, B: "nested"},
	}

	b, err := Marshal(in)
	require.NoError(t, err)

	var out codecSample
	require.NoError(t, Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestMarshalNilPointerRoundTrips(t *testing.T) {
	in := codecSample{Name: "no-child"}
	b, err := Marshal(in)
	require.NoError(t, err)

	var out codecSample
	require.NoError(t, Unmarshal(b, &out))
	require.Nil(t, out.Child)
}

func TestUnmarshalTruncatedReturnsError(t *testing.T) {
	in := codecSample{Name: "truncate-me"}
	b, err := Marshal(in)
	require.NoError(t, err)

	var out codecSample
	err = Unmarshal(b[:len(b)-3], &out)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUnmarshalRejectsOversizeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // declares a ~4 GiB string
	var out string
	err := Unmarshal(buf.Bytes(), &out)
	require.Error(t, err)
}

func TestWriteFrameAndReadFrameSinglePacket(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("short payload")
	require.NoError(t, WriteFrame(&buf, 0x1234, payload))

	fr := NewFrameReader(&buf)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), frame.ID)
	require.Equal(t, payload, frame.Payload)
}

func TestWriteFrameAndReadFrameMultiPacket(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0x41, 0x42, 0x43, 0x44}, 40) // 160 bytes, spans multiple packets
	require.NoError(t, WriteFrame(&buf, 7, payload))

	fr := NewFrameReader(&buf)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint16(7), frame.ID)
	require.Equal(t, payload, frame.Payload)
}

func TestReadFrameRejectsBadPrefix(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HIDPacketLen))
	fr := NewFrameReader(buf)
	_, err := fr.ReadFrame()
	require.ErrorIs(t, err, ErrBadFramePrefix)
}
