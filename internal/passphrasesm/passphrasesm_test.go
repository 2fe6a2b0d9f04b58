package passphrasesm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRequestUntilMarked(t *testing.T) {
	m := New()
	require.True(t, m.NeedsRequest())
	m.MarkRequested()
	require.False(t, m.NeedsRequest())
}

func TestSubmitStoresPassphrase(t *testing.T) {
	m := New()
	require.False(t, m.Collected())
	require.NoError(t, m.Submit("correct horse battery staple"))
	require.True(t, m.Collected())
	require.Equal(t, "correct horse battery staple", m.Value())
}

func TestSubmitRejectsTooLong(t *testing.T) {
	m := New()
	err := m.Submit(strings.Repeat("a", MaxLen+1))
	require.ErrorIs(t, err, ErrTooLong)
	require.False(t, m.Collected())
}

func TestWipeResetsState(t *testing.T) {
	m := New()
	m.MarkRequested()
	require.NoError(t, m.Submit("secret"))
	m.Wipe()
	require.True(t, m.NeedsRequest())
	require.False(t, m.Collected())
	require.Equal(t, "", m.Value())
}
