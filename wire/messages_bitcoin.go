package wire

// This file carries the streaming-signer message set of spec §4.7/§6. The
// field names follow the shape of the real Trezor-family wire protocol
// (grounded on other_examples' messages-ethereum.pb.go for the sibling
// Ethereum set and on the teacher's types.Transaction for amount/script
// field naming), re-expressed as plain structs encoded by this package's
// own wire codec instead of protobuf.

// ScriptType classifies an input's or output's spending condition.
type ScriptType uint32

const (
	ScriptTypeSpendAddress ScriptType = iota
	ScriptTypeSpendMultisig
	ScriptTypePayToAddress
	ScriptTypePayToMultisig
	ScriptTypePayToScriptHash
	ScriptTypePayToWitness
)

// OutputAddressType classifies an output for change/transfer/exchange
// detection per §4.7/§4.9.
type OutputAddressType uint32

const (
	AddressTypeSpend OutputAddressType = iota
	AddressTypeTransfer
	AddressTypeChange
	AddressTypeExchange
)

// SignTx kicks off the streaming signer for a transaction with the given
// shape; the signer then drives the TxRequest/TxAck dialogue.
type SignTx struct {
	CoinName     string
	InputsCount  uint32
	OutputsCount uint32
	Version      uint32
	LockTime     uint32
}

// TxRequestKind tells the host what the signer needs next.
type TxRequestKind uint32

const (
	TxRequestInput TxRequestKind = iota
	TxRequestOutput
	TxRequestMeta
	TxRequestFinished
	TxRequestExtraData
)

// TxRequest asks the host for one piece of transaction data, or signals
// phase completion.
type TxRequest struct {
	Kind RequestDetails
}

// RequestDetails names which index of which (possibly previous)
// transaction is being requested, matching §4.7's "requests the input
// descriptor and the full previous transaction".
type RequestDetails struct {
	RequestKind    TxRequestKind
	RequestIndex   uint32
	TxHash         []byte // non-nil when requesting data from a *previous* tx
	SignatureIndex uint32 // set on TxRequestFinished's final chunk emission
	SerializedTx   []byte // signer's output chunk, set on responses the signer itself emits
}

// TxAck carries one requested piece of transaction data back to the
// signer.
type TxAck struct {
	Input  *TxInputType
	Output *TxOutputType
	Meta   *TxMetaType
}

// TxInputType describes one input, either of the transaction being signed
// or of a referenced previous transaction.
type TxInputType struct {
	AddressN     []uint32
	PrevHash     []byte
	PrevIndex    uint32
	ScriptSig    []byte
	Sequence     uint32
	ScriptType   ScriptType
	Amount       *uint64 // required for BIP-143 coins (§4.7 invariant)
	Multisig     *MultisigRedeemScriptType
	DecredTree   int32
}

// TxOutputType describes one output to be created.
type TxOutputType struct {
	Address          string
	AddressN         []uint32
	Amount           uint64
	ScriptType       ScriptType
	AddressType      OutputAddressType
	Multisig         *MultisigRedeemScriptType
	OpReturnData     []byte
	ExchangeContract *ExchangeContractType // set when AddressType == AddressTypeExchange
}

// ExchangeContractType carries the issuer-signed exchange contract a host
// attaches to an AddressTypeExchange output (§4.9): the counterparty this
// output trades with, the raw destination bytes, where unconverted funds
// return to, what the exchange promises in response, and the issuer's
// signature over those four fields.
type ExchangeContractType struct {
	Counterparty  string
	Destination   []byte
	ReturnAddress []byte
	Response      []byte
	Signature     [64]byte
}

// MultisigRedeemScriptType names the cosigners of a P2(W)SH multisig
// output, used both for the canonical multisig fingerprint (GLOSSARY) and
// for redeem-script compilation.
type MultisigRedeemScriptType struct {
	Pubkeys      []HDNodeWire
	Signatures   [][]byte
	M            uint32
}

// TxMetaType is a previous transaction's header (version/locktime/counts),
// requested once before its inputs/outputs are streamed.
type TxMetaType struct {
	Version      uint32
	LockTime     uint32
	InputsCount  uint32
	OutputsCount uint32
	ExtraDataLen uint32
}
