package pinsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrambleIsAPermutationOfOneToNine(t *testing.T) {
	m := Scramble()
	seen := make(map[byte]bool)
	for _, d := range m {
		require.GreaterOrEqual(t, d, byte(1))
		require.LessOrEqual(t, d, byte(9))
		require.False(t, seen[d], "digit %d repeated in layout", d)
		seen[d] = true
	}
	require.Len(t, seen, 9)
}

func TestDecodeRoundTripsThroughLayout(t *testing.T) {
	layout := Scramble()
	positions := make([]byte, 9)
	for pos, digit := range layout {
		positions[digit-1] = byte('1' + pos)
	}
	decoded, err := Decode(layout, string(positions))
	require.NoError(t, err)
	require.Equal(t, "123456789", decoded)
}

func TestDecodeRejectsEmptyAndOversizeAndBadPosition(t *testing.T) {
	layout := Scramble()
	_, err := Decode(layout, "")
	require.ErrorIs(t, err, ErrPinTooShort)

	long := make([]byte, maxPinLen+1)
	for i := range long {
		long[i] = '1'
	}
	_, err = Decode(layout, string(long))
	require.ErrorIs(t, err, ErrPinTooLong)

	_, err = Decode(layout, "0")
	require.ErrorIs(t, err, ErrBadPosition)
}

func TestMachineSingleEntryFlow(t *testing.T) {
	m := New(Current)
	positions := pinPositionsFor(m.Layout(), "4711")
	pin, needsSecond, err := m.Submit(positions)
	require.NoError(t, err)
	require.False(t, needsSecond)
	require.Equal(t, "4711", pin)
}

func TestMachineTwoEntryFlowMatches(t *testing.T) {
	m := New(NewFirst)
	first := pinPositionsFor(m.Layout(), "1234")
	_, needsSecond, err := m.Submit(first)
	require.NoError(t, err)
	require.True(t, needsSecond)
	require.Equal(t, NewSecond, m.Kind())

	second := pinPositionsFor(m.Layout(), "1234")
	pin, needsSecond, err := m.Submit(second)
	require.NoError(t, err)
	require.False(t, needsSecond)
	require.Equal(t, "1234", pin)
}

func TestMachineTwoEntryFlowMismatch(t *testing.T) {
	m := New(NewFirst)
	first := pinPositionsFor(m.Layout(), "1234")
	_, _, err := m.Submit(first)
	require.NoError(t, err)

	second := pinPositionsFor(m.Layout(), "4321")
	_, _, err = m.Submit(second)
	require.ErrorIs(t, err, ErrMismatch)
}

func pinPositionsFor(layout Matrix, want string) string {
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
