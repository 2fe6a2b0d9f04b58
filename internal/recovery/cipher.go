// Package recovery implements the recovery-cipher state machine of spec
// §4.6: the device scrambles the English alphabet, the host sends
// cipher-letter acknowledgements, and the device decodes each one against
// the current permutation to reconstruct a BIP-39 mnemonic word by word.
//
// Grounded on the teacher's bip39 package (bip39/bip39.go's dichotomic
// searchDic over a sorted dictionary) for the wordlist search shape, and on
// spec §4.6/§9 for the timing-safe auto-complete and uncyphered-word abort
// rule. Mnemonic checksum validation itself is delegated to
// github.com/tyler-smith/go-bip39 (see SPEC_FULL.md's DOMAIN STACK table).
package recovery

import (
	"errors"
	"sort"
	"strings"

	"github.com/NebulousLabs/fastrand"
	"github.com/tyler-smith/go-bip39"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// maxWordPrefix is the BIP-39 prefix property: every word in the wordlist
// is uniquely identified by its first 4 characters.
const maxWordPrefix = 4

// uncypheredAbortThreshold is the number of times a host may submit a
// plaintext (undecoded) word that happens to match the wordlist before the
// recovery is aborted as a SyntaxError (§4.6).
const uncypheredAbortThreshold = 3

var (
	// ErrWordTooLong is returned when more than maxWordPrefix characters
	// are accumulated without an auto-complete match.
	ErrWordTooLong = errors.New("recovery: word exceeds 4-character prefix")
	// ErrSyntaxAbort is returned when the uncyphered-word abort condition
	// of §4.6 triggers.
	ErrSyntaxAbort = errors.New("recovery: too many uncyphered words entered, aborting")
	// ErrBadChecksum is returned by Done when the assembled mnemonic fails
	// its BIP-39 checksum and enforcement is enabled.
	ErrBadChecksum = errors.New("recovery: mnemonic fails BIP-39 checksum")
	// ErrUnknownCipherChar is returned by DecodeChar for a byte outside
	// 'a'..'z'.
	ErrUnknownCipherChar = errors.New("recovery: character is not part of the cipher alphabet")
)

// Cipher is the recovery-cipher state machine. It is not safe for
// concurrent use; the dispatcher owns exactly one instance for the
// duration of a RecoveryDevice operation (§9 "global state").
type Cipher struct {
	// permutation[i] is the plaintext letter ('a'+i) that the displayed
	// cipher letter at position i decodes to is simply permutation[i];
	// i.e. cipher letter ('a'+i) decodes to permutation[i].
	permutation [26]byte

	wordlist []string // sorted ascending, from go-bip39's English wordlist

	words           []string
	current         []byte // decoded characters of the in-progress word
	uncypheredCount int
	sawCypheredWord bool

	enforceWordlist bool
	dryRunDigest    *crypto.Hash // set when this is a dry-run recovery
}

// New creates a Cipher with a freshly scrambled permutation. enforceWordlist
// mirrors the RecoveryDevice request field of the same name: when false,
// Done() skips the BIP-39 checksum check. If dryRunMnemonic is non-empty,
// Done() compares the recovered phrase against it via digest comparison
// (§4.6's "Dry-run mode ... never exposing match success through timing").
func New(enforceWordlist bool, dryRunMnemonic string) *Cipher {
	wl := bip39.GetWordList()
	sorted := make([]string, len(wl))
	copy(sorted, wl)
	sort.Strings(sorted)

	c := &Cipher{
		wordlist:        sorted,
		enforceWordlist: enforceWordlist,
	}
	c.Scramble()
	if dryRunMnemonic != "" {
		d := crypto.HashBytes([]byte(dryRunMnemonic))
		c.dryRunDigest = &d
	}
	return c
}

// Scramble produces a new random permutation of the alphabet, shown to the
// user with a scramble animation (display concerns are out of scope; §4.6
// only asks that the permutation itself be uniformly random).
func (c *Cipher) Scramble() {
	perm := fastrand.Perm(26)
	for i, p := range perm {
		c.permutation[i] = byte('a' + p)
	}
}

// Displayed returns the cipher alphabet as currently scrambled: index i
// (0-based, 'a'+i is the plaintext letter) holds the cipher character the
// device is showing for that plaintext letter. This is the inverse of the
// decode direction and is what the UI collaborator renders.
func (c *Cipher) Displayed() [26]byte {
	var inv [26]byte
	for plain, cipher := range c.permutation {
		inv[cipher-'a'] = byte('a' + plain)
	}
	return inv
}

// DecodeChar decodes a single cipher-alphabet character sent by the host
// into its plaintext letter.
func (c *Cipher) DecodeChar(cipherChar byte) (byte, error) {
	if cipherChar < 'a' || cipherChar > 'z' {
		return 0, ErrUnknownCipherChar
	}
	return c.permutation[cipherChar-'a'], nil
}

// AddCipherChar decodes and appends one character to the in-progress word.
// If the decoded prefix uniquely matches a dictionary word, the word is NOT
// auto-accepted here — callers poll AutoComplete() after each character, as
// the real protocol does, so the host can keep sending backspaces.
func (c *Cipher) AddCipherChar(cipherChar byte) error {
	plain, err := c.DecodeChar(cipherChar)
	if err != nil {
		return err
	}
	if len(c.current) >= maxWordPrefix {
		return ErrWordTooLong
	}
	c.current = append(c.current, plain)
	c.sawCypheredWord = true
	return nil
}

// DeleteChar removes the last decoded character of the in-progress word,
// mirroring a host-side backspace.
func (c *Cipher) DeleteChar() {
	if len(c.current) > 0 {
		c.current = c.current[:len(c.current)-1]
	}
}

// AutoComplete performs a timing-safe prefix search over the wordlist: it
// always walks the entire list in a freshly randomly permuted order (§9:
// "PIN lookups against the BIP-39 wordlist iterate a freshly randomly
// permuted index table with an instruction-barrier to prevent the compiler
// from eliding the permutation") so that the number of comparisons and
// their order never depends on where in the list the match falls. It
// returns the unique completion if the current prefix matches exactly one
// wordlist entry, or ok=false otherwise.
func (c *Cipher) AutoComplete() (word string, ok bool) {
	prefix := string(c.current)
	order := fastrand.Perm(len(c.wordlist))
	matchCount := 0
	var match string
	for _, idx := range order {
		w := c.wordlist[idx]
		if strings.HasPrefix(w, prefix) {
			matchCount++
			match = w
		}
	}
	if matchCount == 1 {
		return match, true
	}
	return "", false
}

// SubmitPlainWord handles the case where the host sends an already-decoded
// (uncyphered) word directly instead of cipher characters — e.g. a user who
// typed the recovered word straight into their own UI. It counts against
// the uncyphered-abort threshold: if it is seen more than
// uncypheredAbortThreshold times and no properly cyphered word has ever
// been entered, the recovery aborts (§4.6).
func (c *Cipher) SubmitPlainWord(word string) error {
	if c.wordIndex(word) < 0 {
		return errors.New("recovery: word not found in dictionary")
	}
	c.uncypheredCount++
	if c.uncypheredCount > uncypheredAbortThreshold && !c.sawCypheredWord {
		return ErrSyntaxAbort
	}
	c.words = append(c.words, word)
	c.current = c.current[:0]
	return nil
}

// FinishWord commits the current decoded prefix as a completed word,
// requiring it to auto-complete to exactly one dictionary entry.
func (c *Cipher) FinishWord() error {
	word, ok := c.AutoComplete()
	if !ok {
		return errors.New("recovery: current prefix does not uniquely identify a word")
	}
	c.words = append(c.words, word)
	c.current = c.current[:0]
	return nil
}

// wordIndex performs the dichotomic search over the sorted wordlist,
// adapted from the teacher's bip39.searchDic.
func (c *Cipher) wordIndex(word string) int {
	i, j := 0, len(c.wordlist)
	for i != j && j-i > 1 {
		mid := (i + j) / 2
		switch {
		case c.wordlist[mid] > word:
			j = mid
		case c.wordlist[mid] < word:
			i = mid
		default:
			return mid
		}
	}
	if i < len(c.wordlist) && c.wordlist[i] == word {
		return i
	}
	return -1
}

// Done joins the recovered words into a mnemonic, validates its BIP-39
// checksum unless enforcement was disabled, and — for a dry run — compares
// it against the configured target via digest equality only.
func (c *Cipher) Done() (mnemonic string, dryRunMatch bool, err error) {
	mnemonic = strings.Join(c.words, " ")
	if c.enforceWordlist && !bip39.IsMnemonicValid(mnemonic) {
		return "", false, ErrBadChecksum
	}
	if c.dryRunDigest != nil {
		got := crypto.HashBytes([]byte(mnemonic))
		dryRunMatch = crypto.ConstantTimeCompare(got[:], c.dryRunDigest[:])
	}
	return mnemonic, dryRunMatch, nil
}
