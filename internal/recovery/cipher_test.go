package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// cipherCharFor returns the cipher-alphabet byte the host must send so that
// DecodeChar resolves to the given plaintext letter under c's current
// permutation.
func cipherCharFor(c *Cipher, plain byte) byte {
	return c.Displayed()[plain-'a']
}

// typeWord types at most the first maxWordPrefix characters of word (the
// BIP-39 4-character prefix property guarantees that is always enough to
// uniquely identify it) and finishes it via auto-complete.
func typeWord(t *testing.T, c *Cipher, word string) {
	t.Helper()
	n := len(word)
	if n > maxWordPrefix {
		n = maxWordPrefix
	}
	for i := 0; i < n; i++ {
		require.NoError(t, c.AddCipherChar(cipherCharFor(c, word[i])))
		if i < n-1 {
			if w, ok := c.AutoComplete(); ok {
				require.Equal(t, word, w, "early auto-complete of %q resolved to a different word", word)
			}
		}
	}
	require.NoError(t, c.FinishWord())
}

func TestDecodeCharRoundTripsThroughPermutation(t *testing.T) {
	c := New(false, "")
	for plain := byte('a'); plain <= 'z'; plain++ {
		cipherChar := cipherCharFor(c, plain)
		got, err := c.DecodeChar(cipherChar)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestDecodeCharRejectsOutOfRange(t *testing.T) {
	c := New(false, "")
	_, err := c.DecodeChar('A')
	require.ErrorIs(t, err, ErrUnknownCipherChar)
	_, err = c.DecodeChar('1')
	require.ErrorIs(t, err, ErrUnknownCipherChar)
}

func TestDeleteCharRemovesLastDecoded(t *testing.T) {
	c := New(false, "")
	require.NoError(t, c.AddCipherChar(cipherCharFor(c, 'a')))
	require.NoError(t, c.AddCipherChar(cipherCharFor(c, 'b')))
	c.DeleteChar()
	require.Len(t, c.current, 1)
	require.Equal(t, byte('a'), c.current[0])
}

func TestRecoverValidTestVectorMnemonic(t *testing.T) {
	// A well-known BIP-39 test-vector mnemonic with a valid checksum.
	words := []string{
		"abandon", "abandon", "abandon", "abandon",
		"abandon", "abandon", "abandon", "abandon",
		"abandon", "abandon", "abandon", "about",
	}
	c := New(true, "")
	for _, w := range words {
		typeWord(t, c, w)
	}
	mnemonic, dryRunMatch, err := c.Done()
	require.NoError(t, err)
	require.False(t, dryRunMatch)
	require.Equal(t, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", mnemonic)
}

func TestDoneRejectsBadChecksumWhenEnforced(t *testing.T) {
	c := New(true, "")
	for i := 0; i < 12; i++ {
		typeWord(t, c, "zoo")
	}
	_, _, err := c.Done()
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestDryRunMatchesViaDigest(t *testing.T) {
	target := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	c := New(false, target)
	for _, w := range []string{
		"abandon", "abandon", "abandon", "abandon",
		"abandon", "abandon", "abandon", "abandon",
		"abandon", "abandon", "abandon", "about",
	} {
		typeWord(t, c, w)
	}
	_, dryRunMatch, err := c.Done()
	require.NoError(t, err)
	require.True(t, dryRunMatch)
}

func TestSubmitPlainWordAbortsAfterThreshold(t *testing.T) {
	c := New(false, "")
	for i := 0; i < uncypheredAbortThreshold; i++ {
		require.NoError(t, c.SubmitPlainWord("abandon"))
	}
	err := c.SubmitPlainWord("abandon")
	require.ErrorIs(t, err, ErrSyntaxAbort)
}

func TestSubmitPlainWordDoesNotAbortAfterCypheredWord(t *testing.T) {
	c := New(false, "")
	typeWord(t, c, "zoo")
	for i := 0; i < uncypheredAbortThreshold+2; i++ {
		require.NoError(t, c.SubmitPlainWord("abandon"))
	}
}
