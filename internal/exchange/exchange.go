// Package exchange implements the exchange policy hook of spec §4.9: when
// a signer output is marked as an exchange destination, its contract
// (counterparty, destination, return address, and the exchange's own
// signed response) is verified against a known issuer public key before
// the normal output confirmation runs. The outward confirmation dialogue
// is swapped for an exchange-specific one only on success; failure sets a
// sticky error and aborts the signing operation.
//
// Grounded on the teacher's siad/api request-signing verification pattern
// (modules/wallet's transaction-signing helpers validate a covered-fields
// set before trusting it), generalized from "does this input's signature
// cover what it claims to" to "does this contract's signature cover what
// the issuer actually agreed to", and on crypto/signatures.go's Ed25519
// primitives for the verification itself.
package exchange

import (
	"errors"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// ErrPolicyDisabled is returned when an exchange-typed output is seen but
// the ExchangeContracts policy (storage.DefaultPolicies) is not enabled.
var ErrPolicyDisabled = errors.New("exchange: ExchangeContracts policy is disabled")

// ErrInvalidContract is the sticky failure set when a contract's signature
// does not verify; a disabled policy is recorded as ErrPolicyDisabled.
var ErrInvalidContract = errors.New("exchange: contract verification failed")

// Contract is one exchange counterparty's signed offer: send to
// Destination, with Response describing what the user will receive in
// return, and ReturnAddress where unconverted funds go back to if the
// counterparty can't fulfil the trade.
type Contract struct {
	Counterparty  string
	Destination   []byte
	ReturnAddress []byte
	Response      []byte
	Signature     [64]byte // Ed25519 signature over the fields above
}

// PolicyChecker abstracts the storage engine's policy lookup so this
// package does not need to import internal/storage.
type PolicyChecker interface {
	IsPolicyEnabled(name string) bool
}

// PolicyName is the policy gate exchange outputs are checked against
// (storage.DefaultPolicies's "ExchangeContracts" entry).
const PolicyName = "ExchangeContracts"

// Hook drives §4.9's verify-then-confirm flow. lastErr is sticky until the
// next successful Verify or an explicit Reset, modelling "persistent
// ExchangeError" as a field the dispatcher can surface in a subsequent
// Features/Failure reply.
type Hook struct {
	issuerPubKey [32]byte
	lastErr      error
}

// New returns a Hook that trusts contracts signed by issuerPubKey.
func New(issuerPubKey [32]byte) *Hook {
	return &Hook{issuerPubKey: issuerPubKey}
}

// digest hashes the fields a contract's signature must cover, in a fixed
// order so the issuer and device always agree on what was signed.
func digest(c Contract) crypto.Hash {
	return crypto.HashAll([]byte(c.Counterparty), c.Destination, c.ReturnAddress, c.Response)
}

// Verify implements §4.9: checks the policy gate, then the Ed25519
// signature over the contract's fields. A disabled policy is recorded and
// returned as ErrPolicyDisabled, a bad signature as ErrInvalidContract;
// either becomes the sticky LastError.
func (h *Hook) Verify(policies PolicyChecker, c Contract) error {
	if !policies.IsPolicyEnabled(PolicyName) {
		h.lastErr = ErrPolicyDisabled
		return ErrPolicyDisabled
	}
	d := digest(c)
	if err := crypto.VerifyEd25519(d, h.issuerPubKey[:], c.Signature[:]); err != nil {
		h.lastErr = ErrInvalidContract
		return ErrInvalidContract
	}
	h.lastErr = nil
	return nil
}

// LastError reports the most recent sticky failure, or nil.
func (h *Hook) LastError() error { return h.lastErr }

// Reset clears the sticky error, e.g. on Initialize (§4.2's full unwind).
func (h *Hook) Reset() { h.lastErr = nil }

// ConfirmLines renders the three-line exchange-specific dialogue that
// replaces the normal output confirmation on a verified contract (§4.9:
// "success replaces the outward-facing confirmation with a three-line
// exchange-specific dialogue").
func ConfirmLines(c Contract) [3]string {
	return [3]string{
		"Exchange with " + c.Counterparty,
		"Send to " + hexOrText(c.Destination),
		"Receive: " + string(c.Response),
	}
}

func hexOrText(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c >= 0x7f {
			return hexString(b)
		}
	}
	return string(b)
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2+2*len(b))
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+2*i] = hexDigits[c>>4]
		out[2+2*i+1] = hexDigits[c&0xf]
	}
	return string(out)
}
