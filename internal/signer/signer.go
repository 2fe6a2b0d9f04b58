// Package signer implements the streaming Bitcoin-family transaction signer
// of spec §4.7: a two-phase state machine that surveys an outgoing
// transaction's inputs and outputs to compute its BIP-143 sighash
// accumulators and total fee, confirms what needs confirming, then replays
// the inputs to emit one signature each. The BIP-143 hash accumulators are
// running hash.Hash writers, but the Signer also keeps every surveyed input
// and output in memory for Phase 2, so its memory grows with the
// transaction's input and output count.
//
// Grounded on the teacher's types.Transaction (SiacoinInput/SiacoinOutput
// accumulation and fee computation in types/transactions.go), generalized
// from a single-pass fee/validity check to the two-pass survey-then-sign
// protocol this spec's §4.7 requires, and on btcsuite/btcd's txscript/btcec
// for the actual secp256k1 ECDSA and script-template work the teacher's
// own (Siacoin-only) transaction type never needed.
package signer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	wiremsg "github.com/keepkey/keepkey-firmware-sub001/wire"
)

// P2PKHScriptCode builds the classic pay-to-pubkey-hash script used both as
// a legacy input's scriptCode and, under BIP-143, as a native-segwit
// input's scriptCode (BIP-143 §"Specification": "For P2WPKH witness
// program, the scriptCode is a classic P2PKH script").
func P2PKHScriptCode(pubKeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// OutputScript builds the scriptPubKey for an address-based output.
func OutputScript(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

// Phase identifies which of the two passes the signer is in (§4.7).
type Phase int

const (
	PhaseSurvey Phase = iota
	PhaseSign
	PhaseDone
)

var (
	// ErrNotEnoughFunds is Invariant §4.7's fee check: outputs (+fee) must
	// not exceed inputs.
	ErrNotEnoughFunds = errors.New("signer: outputs exceed inputs")
	// ErrWrongPhase is returned when a call is made out of sequence.
	ErrWrongPhase = errors.New("signer: called in wrong phase")
	// ErrMissingAmount is returned when a BIP-143 input omits the required
	// Amount field (§4.7 invariant: segwit/BIP-143 coins must carry it).
	ErrMissingAmount = errors.New("signer: input missing amount for BIP-143 coin")
	// ErrChecksumMismatch is the Phase-1/Phase-2 consistency check: the host
	// must replay Phase 1's exact input/output sequence.
	ErrChecksumMismatch = errors.New("signer: phase 2 replay does not match phase 1 survey")
)

// inputSurvey is what Phase 1 records about one input; Phase 2 consults it
// when asked to produce that input's signature.
type inputSurvey struct {
	in         wiremsg.TxInputType
	scriptCode []byte
	amount     uint64
}

// Signer drives one SignTx operation end to end.
type Signer struct {
	version, lockTime         uint32
	inputsCount, outputsCount uint32
	phase                     Phase

	inputs       []inputSurvey
	outputs      []wiremsg.TxOutputType
	outputScripts [][]byte

	totalIn, totalOut uint64

	prevoutsHasher hasherState
	sequenceHasher hasherState
	outputsHasher  hasherState

	multisigFingerprints map[int][32]byte
	multisigM            uint32
	multisigN            int

	surveyChecksum [32]byte
}

// hasherState wraps a running sha256 writer; BIP-143's three accumulators
// are each hashed twice at finalize time (double-SHA256), but only ever
// need to hold the running intermediate digest, not the full input.
type hasherState struct{ h interface {
	Write([]byte) (int, error)
	Sum([]byte) []byte
} }

func newHasherState() hasherState { return hasherState{h: sha256.New()} }

func (s hasherState) write(b []byte) { s.h.Write(b) }

func (s hasherState) finalize() [32]byte {
	first := sha256.Sum256(s.h.Sum(nil))
	return first
}

// New starts a Phase-1 survey for a transaction with the given shape
// (from an incoming SignTx message).
func New(version, lockTime, inputsCount, outputsCount uint32) *Signer {
	return &Signer{
		version:              version,
		lockTime:             lockTime,
		inputsCount:          inputsCount,
		outputsCount:         outputsCount,
		phase:                PhaseSurvey,
		prevoutsHasher:       newHasherState(),
		sequenceHasher:       newHasherState(),
		outputsHasher:        newHasherState(),
		multisigFingerprints: make(map[int][32]byte),
	}
}

// SurveyInput folds one input into the running BIP-143 accumulators and
// the running total-in (§4.7 Phase 1).
func (s *Signer) SurveyInput(idx int, in wiremsg.TxInputType, scriptCode []byte) error {
	if s.phase != PhaseSurvey {
		return ErrWrongPhase
	}
	if in.Amount == nil {
		return ErrMissingAmount
	}

	var outpoint [36]byte
	copy(outpoint[:32], reverseHash(in.PrevHash))
	binary.LittleEndian.PutUint32(outpoint[32:], in.PrevIndex)
	s.prevoutsHasher.write(outpoint[:])

	var seq [4]byte
	binary.LittleEndian.PutUint32(seq[:], in.Sequence)
	s.sequenceHasher.write(seq[:])

	if in.Multisig != nil {
		s.multisigFingerprints[idx] = ComputeMultisigFingerprint(in.Multisig)
		s.multisigM = in.Multisig.M
		s.multisigN = len(in.Multisig.Pubkeys)
	}

	s.totalIn += *in.Amount
	s.inputs = append(s.inputs, inputSurvey{in: in, scriptCode: scriptCode, amount: *in.Amount})
	return nil
}

// SurveyOutput folds one output into the running outputs accumulator and
// the running total-out.
func (s *Signer) SurveyOutput(idx int, out wiremsg.TxOutputType, scriptPubKey []byte) error {
	if s.phase != PhaseSurvey {
		return ErrWrongPhase
	}
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], out.Amount)
	s.outputsHasher.write(amt[:])
	var scriptLen [1]byte // varint fast path: scripts here are always < 0xfd bytes
	scriptLen[0] = byte(len(scriptPubKey))
	s.outputsHasher.write(scriptLen[:])
	s.outputsHasher.write(scriptPubKey)

	s.totalOut += out.Amount
	s.outputs = append(s.outputs, out)
	s.outputScripts = append(s.outputScripts, scriptPubKey)
	return nil
}

// Outputs returns the surveyed outputs in order, for callers that need to
// walk them after FinishSurvey (confirmation, exchange-policy dispatch).
func (s *Signer) Outputs() []wiremsg.TxOutputType { return s.outputs }

// Fee returns total_in - total_out, valid only once every input/output has
// been surveyed.
func (s *Signer) Fee() (uint64, error) {
	if s.totalOut > s.totalIn {
		return 0, ErrNotEnoughFunds
	}
	return s.totalIn - s.totalOut, nil
}

// EstimatedSizeBytes approximates the final transaction's serialized size
// using the conventional legacy per-input/per-output weights (original
// firmware: transactionEstimateSizeKb in lib/firmware/transaction.c, fed
// into signing.c's `tx_est_size * coin->maxfee_kb` fee-sanity check).
// Segwit transactions serialize smaller than this estimate, so it errs
// toward warning rather than missing a genuinely high fee.
func (s *Signer) EstimatedSizeBytes() int {
	const overheadBytes = 10
	const perInputBytes = 148
	const perOutputBytes = 34
	return overheadBytes + perInputBytes*len(s.inputs) + perOutputBytes*len(s.outputs)
}

// IsChange reports whether output idx classifies as this wallet's own
// change (§4.7: change outputs are not shown to the user for
// confirmation). Classification requires one of:
//
//   - script_type == PAYTOMULTISIG with a multisig fingerprint and M-of-N
//     descriptor matching the signing inputs' agreed multisig, or
//   - address_n_count > 0 and the chain index (derivation path position 3,
//     the BIP-44 internal/external chain component) is 1, or
//   - address_type == CHANGE.
//
// AddressTypeTransfer never counts as change even when one of the above
// would otherwise match; it gets its own confirmation layout instead.
func (s *Signer) IsChange(idx int) bool {
	if idx < 0 || idx >= len(s.outputs) {
		return false
	}
	out := s.outputs[idx]
	if out.AddressType == wiremsg.AddressTypeTransfer {
		return false
	}
	if out.ScriptType == wiremsg.ScriptTypePayToMultisig && out.Multisig != nil && len(s.multisigFingerprints) > 0 {
		var inputFP [32]byte
		for _, fp := range s.multisigFingerprints {
			inputFP = fp
			break
		}
		outFP := ComputeMultisigFingerprint(out.Multisig)
		if outFP == inputFP && out.Multisig.M == s.multisigM && len(out.Multisig.Pubkeys) == s.multisigN {
			return true
		}
	}
	if len(out.AddressN) > 3 && out.AddressN[3] == 1 {
		return true
	}
	return out.AddressType == wiremsg.AddressTypeChange
}

// ComputeMultisigFingerprint implements the GLOSSARY's "canonical multisig
// fingerprint": a hash of the sorted cosigner pubkey set plus the M
// threshold, so every input claiming to spend the same multisig wallet can
// be checked for cosigner-set agreement (§4.7: inputs with mismatched
// fingerprints abort the signing operation rather than silently mixing
// cosigner sets).
func ComputeMultisigFingerprint(ms *wiremsg.MultisigRedeemScriptType) [32]byte {
	pubkeys := make([][]byte, len(ms.Pubkeys))
	for i, n := range ms.Pubkeys {
		pubkeys[i] = n.PublicKey
	}
	sort.Slice(pubkeys, func(i, j int) bool { return bytes.Compare(pubkeys[i], pubkeys[j]) < 0 })
	h := sha256.New()
	for _, pk := range pubkeys {
		h.Write(pk)
	}
	var m [4]byte
	binary.BigEndian.PutUint32(m[:], ms.M)
	h.Write(m[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MultisigFingerprintsAgree reports whether every surveyed multisig input
// shares the same cosigner fingerprint.
func (s *Signer) MultisigFingerprintsAgree() bool {
	var first [32]byte
	set := false
	for _, fp := range s.multisigFingerprints {
		if !set {
			first = fp
			set = true
			continue
		}
		if fp != first {
			return false
		}
	}
	return true
}

// FinishSurvey closes Phase 1, computing the finalized BIP-143 accumulators
// and recording a checksum over them in surveyChecksum, and returns the fee.
// Nothing compares surveyChecksum later; Phase 2's replay check is the
// per-input comparison in SignInput.
func (s *Signer) FinishSurvey() (fee uint64, err error) {
	if s.phase != PhaseSurvey {
		return 0, ErrWrongPhase
	}
	if uint32(len(s.inputs)) != s.inputsCount || uint32(len(s.outputs)) != s.outputsCount {
		return 0, errors.New("signer: survey did not receive the declared input/output count")
	}
	fee, err = s.Fee()
	if err != nil {
		return 0, err
	}
	if !s.MultisigFingerprintsAgree() {
		return 0, errors.New("signer: multisig cosigner set mismatch across inputs")
	}

	hp := s.prevoutsHasher.finalize()
	hs := s.sequenceHasher.finalize()
	ho := s.outputsHasher.finalize()
	sum := sha256.New()
	sum.Write(hp[:])
	sum.Write(hs[:])
	sum.Write(ho[:])
	var checksum [32]byte
	copy(checksum[:], sum.Sum(nil))
	s.surveyChecksum = checksum

	s.phase = PhaseSign
	return fee, nil
}

// SignInput implements Phase 2's per-input signature emission: compute the
// BIP-143 (or legacy, for non-witness inputs) sighash preimage using the
// finalized accumulators and sign it with the derived private key. in's
// PrevHash and PrevIndex are compared with what SurveyInput recorded for idx
// in Phase 1, and a difference (or an out-of-range idx) returns
// ErrChecksumMismatch; in's other fields are not compared, and outputs are
// not replayed or rechecked in Phase 2.
func (s *Signer) SignInput(idx int, in wiremsg.TxInputType, privKey [32]byte, sigHashType uint32, segwit bool) ([]byte, error) {
	if s.phase != PhaseSign {
		return nil, ErrWrongPhase
	}
	if idx < 0 || idx >= len(s.inputs) {
		return nil, ErrChecksumMismatch
	}
	recorded := s.inputs[idx]
	if !bytes.Equal(recorded.in.PrevHash, in.PrevHash) || recorded.in.PrevIndex != in.PrevIndex {
		return nil, ErrChecksumMismatch
	}

	var digest crypto.Hash
	if segwit {
		digest = s.bip143Preimage(idx, sigHashType)
	} else {
		digest = s.legacyPreimage(idx, sigHashType)
	}

	priv, _ := btcec.PrivKeyFromBytes(privKey[:])
	sig := btcecdsa.Sign(priv, digest[:])
	der := sig.Serialize()
	return append(der, byte(sigHashType)), nil
}

// bip143Preimage builds the BIP-143 sighash preimage for input idx using
// the Phase-1 finalized hashPrevouts/hashSequence/hashOutputs.
func (s *Signer) bip143Preimage(idx int, sigHashType uint32) crypto.Hash {
	in := s.inputs[idx]
	var buf bytes.Buffer
	writeU32LE(&buf, s.version)
	hp := s.prevoutsHasher.finalize()
	hs := s.sequenceHasher.finalize()
	ho := s.outputsHasher.finalize()
	buf.Write(hp[:])
	buf.Write(hs[:])
	buf.Write(reverseHash(in.in.PrevHash))
	writeU32LE(&buf, in.in.PrevIndex)
	writeVarBytes(&buf, in.scriptCode)
	writeU64LE(&buf, in.amount)
	writeU32LE(&buf, in.in.Sequence)
	buf.Write(ho[:])
	writeU32LE(&buf, s.lockTime)
	writeU32LE(&buf, sigHashType)
	return crypto.DoubleSHA256(buf.Bytes())
}

// legacyPreimage builds a pre-segwit sighash preimage: the whole
// transaction serialized with every scriptSig blanked except the input
// being signed, which carries its scriptCode (classic Bitcoin Core
// SignatureHash behavior).
func (s *Signer) legacyPreimage(idx int, sigHashType uint32) crypto.Hash {
	var buf bytes.Buffer
	writeU32LE(&buf, s.version)
	writeVarInt(&buf, uint64(len(s.inputs)))
	for i, rec := range s.inputs {
		buf.Write(reverseHash(rec.in.PrevHash))
		writeU32LE(&buf, rec.in.PrevIndex)
		if i == idx {
			writeVarBytes(&buf, rec.scriptCode)
		} else {
			writeVarBytes(&buf, nil)
		}
		writeU32LE(&buf, rec.in.Sequence)
	}
	writeVarInt(&buf, uint64(len(s.outputs)))
	for i, out := range s.outputs {
		writeU64LE(&buf, out.Amount)
		writeVarBytes(&buf, s.outputScripts[i])
	}
	writeU32LE(&buf, s.lockTime)
	writeU32LE(&buf, sigHashType)
	return crypto.DoubleSHA256(buf.Bytes())
}

func reverseHash(h []byte) []byte {
	out := make([]byte, len(h))
	for i, b := range h {
		out[len(h)-1-i] = b
	}
	return out
}

func writeU32LE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64LE(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	default:
		buf.WriteByte(0xfe)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}
