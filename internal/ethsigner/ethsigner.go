// Package ethsigner implements the Ethereum-family transaction signer of
// spec §4.8: RLP-encode a legacy (EIP-155-aware) transaction, hash it with
// Keccak-256, sign with secp256k1, and compute the EIP-155 `v` value. Large
// `data` payloads are collected incrementally via EthereumTxRequest/
// EthereumTxAck chunks rather than required up front.
//
// Grounded on the teacher's types.Transaction encoding conventions
// (fixed-field binary marshaling in types/transactions.go) generalized to
// RLP, and on crypto/signatures.go's SignHashSecp256k1 recoverable-signature
// shape, whose embedded recovery id is exactly what EIP-155's v computation
// needs. No third-party RLP/Ethereum library appears in any retrieved
// example's go.mod (none of the example repos touch Ethereum), so RLP is
// hand-rolled here — see DESIGN.md. Keccak-256 itself still comes from
// golang.org/x/crypto/sha3's NewLegacyKeccak256, the pre-NIST-padding
// variant Ethereum actually uses, rather than a hand-rolled hash.
package ethsigner

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/sha3"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

// MaxDataLen bounds a single transaction's calldata (§4.8: "16 MiB cap,
// matching the wire codec's own maximum message length").
const MaxDataLen = 16 * 1024 * 1024

// ChunkSize is the largest DataChunk the host is asked for at a time (§4.8:
// "1024-byte chunks").
const ChunkSize = 1024

var (
	// ErrDataTooLarge rejects a declared DataLength beyond MaxDataLen.
	ErrDataTooLarge = errors.New("ethsigner: data length exceeds maximum")
	// ErrChunkOverrun is returned when the host sends more data than it
	// declared.
	ErrChunkOverrun = errors.New("ethsigner: data chunk overruns declared length")
)

// Tx is the set of legacy-transaction fields this signer covers (§4.8); all
// numeric fields are big-endian byte strings with no leading zero byte, the
// natural form for RLP's "integer" encoding.
type Tx struct {
	Nonce    []byte
	GasPrice []byte
	GasLimit []byte
	To       []byte // 20 bytes, or empty for contract creation
	Value    []byte
	Data     []byte
	ChainID  uint32 // 0 selects pre-EIP-155 signing
}

// DataCollector accumulates a transaction's `data` field across one or more
// EthereumTxAck chunks (§4.8's streaming rule: the initial EthereumSignTx
// carries up to 1024 bytes inline; anything beyond that is requested
// incrementally so the signer never needs the whole payload resident at
// once beyond the final assembled Tx.Data).
type DataCollector struct {
	want int
	buf  []byte
}

// NewDataCollector starts a collector for a calldata field of the given
// total length, seeded with whatever arrived inline.
func NewDataCollector(totalLen uint32, initial []byte) (*DataCollector, error) {
	if totalLen > MaxDataLen {
		return nil, ErrDataTooLarge
	}
	dc := &DataCollector{want: int(totalLen)}
	dc.buf = append(dc.buf, initial...)
	if len(dc.buf) > dc.want {
		return nil, ErrChunkOverrun
	}
	return dc, nil
}

// Remaining reports how many more bytes are needed.
func (dc *DataCollector) Remaining() uint32 {
	r := dc.want - len(dc.buf)
	if r < 0 {
		return 0
	}
	return uint32(r)
}

// AddChunk folds in one EthereumTxAck.DataChunk.
func (dc *DataCollector) AddChunk(chunk []byte) error {
	if len(dc.buf)+len(chunk) > dc.want {
		return ErrChunkOverrun
	}
	dc.buf = append(dc.buf, chunk...)
	return nil
}

// Done reports whether every declared byte has arrived.
func (dc *DataCollector) Done() bool { return len(dc.buf) >= dc.want }

// Data returns the fully assembled calldata.
func (dc *DataCollector) Data() []byte { return dc.buf }

// erc20TransferSelector is the 4-byte selector for transfer(address,uint256).
var erc20TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// BuildERC20TransferData implements §4.8's ERC-20 construction: when a
// TokenShortcut is present, the actual on-chain call is an ERC-20
// `transfer` to the token contract, not a direct value transfer, so `to`
// becomes the token contract address and `value` becomes zero while the
// real recipient/amount are ABI-encoded into `data`.
func BuildERC20TransferData(to [20]byte, value []byte) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20TransferSelector[:]...)
	var addrWord [32]byte
	copy(addrWord[12:], to[:])
	data = append(data, addrWord[:]...)
	var valueWord [32]byte
	if len(value) > 32 {
		value = value[len(value)-32:]
	}
	copy(valueWord[32-len(value):], value)
	data = append(data, valueWord[:]...)
	return data
}

// Keccak256 hashes b with the Ethereum (pre-NIST-padding) variant of
// SHA-3.
func Keccak256(b []byte) crypto.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	var out crypto.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func stripLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

func rlpEncodeString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		out := make([]byte, 0, 1+len(b))
		out = append(out, byte(0x80+len(b)))
		return append(out, b...)
	}
	lenBytes := bigEndianMinimal(uint64(len(b)))
	out := make([]byte, 0, 1+len(lenBytes)+len(b))
	out = append(out, byte(0xb7+len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, b...)
}

func rlpEncodeList(items [][]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	if len(payload) < 56 {
		out := make([]byte, 0, 1+len(payload))
		out = append(out, byte(0xc0+len(payload)))
		return append(out, payload...)
	}
	lenBytes := bigEndianMinimal(uint64(len(payload)))
	out := make([]byte, 0, 1+len(lenBytes)+len(payload))
	out = append(out, byte(0xf7+len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, payload...)
}

func bigEndianMinimal(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return stripLeadingZeros(b[:])
}

func (tx Tx) rlpFields(v, r, s []byte) [][]byte {
	fields := [][]byte{
		rlpEncodeString(stripLeadingZeros(tx.Nonce)),
		rlpEncodeString(stripLeadingZeros(tx.GasPrice)),
		rlpEncodeString(stripLeadingZeros(tx.GasLimit)),
		rlpEncodeString(tx.To),
		rlpEncodeString(stripLeadingZeros(tx.Value)),
		rlpEncodeString(tx.Data),
	}
	fields = append(fields, rlpEncodeString(stripLeadingZeros(v)), rlpEncodeString(r), rlpEncodeString(s))
	return fields
}

// SigningHash implements §4.8's pre-image: the RLP encoding of the
// transaction with v/r/s replaced by (chainId, 0, 0) when EIP-155 applies,
// or omitted entirely for a pre-155 signature, then Keccak-256'd.
func (tx Tx) SigningHash() crypto.Hash {
	var fields [][]byte
	if tx.ChainID != 0 {
		fields = tx.rlpFields(bigEndianMinimal(uint64(tx.ChainID)), nil, nil)
	} else {
		fields = [][]byte{
			rlpEncodeString(stripLeadingZeros(tx.Nonce)),
			rlpEncodeString(stripLeadingZeros(tx.GasPrice)),
			rlpEncodeString(stripLeadingZeros(tx.GasLimit)),
			rlpEncodeString(tx.To),
			rlpEncodeString(stripLeadingZeros(tx.Value)),
			rlpEncodeString(tx.Data),
		}
	}
	return Keccak256(rlpEncodeList(fields))
}

// EncodeSigned implements §4.8's final wire form: the RLP list with the
// real v/r/s appended, ready to be relayed as a signed raw transaction.
func (tx Tx) EncodeSigned(v uint64, r, s []byte) []byte {
	return rlpEncodeList(tx.rlpFields(bigEndianMinimal(v), stripLeadingZeros(r), stripLeadingZeros(s)))
}

// Sign implements §4.8 end to end: hash, sign, and compute the EIP-155-aware
// v. Returns the raw signed transaction bytes alongside v/r/s individually,
// since EthereumTxRequest reports them as separate fields.
func Sign(tx Tx, privKey [32]byte) (raw []byte, v uint64, r, s []byte, err error) {
	digest := tx.SigningHash()
	sig, err := crypto.SignHashSecp256k1(digest, privKey)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	r = append([]byte(nil), sig[:32]...)
	s = append([]byte(nil), sig[32:64]...)
	recID := uint64(sig[64])

	if tx.ChainID != 0 {
		v = uint64(tx.ChainID)*2 + 35 + recID
	} else {
		v = recID + 27
	}
	raw = tx.EncodeSigned(v, r, s)
	return raw, v, r, s, nil
}
