package wire

// Field names here mirror the real Trezor EthereumSignTx/EthereumTxRequest/
// EthereumTxAck message set (grounded on
// other_examples/287036a6_gorievm-go-gori__accounts-usbwallet-trezor-messages-ethereum.pb.go.go),
// re-expressed as plain structs for this firmware's own wire codec.

// EthereumSignTx requests a signature over a single Ethereum-family
// transaction (§4.8). Data larger than 1024 bytes is streamed
// incrementally via EthereumTxRequest/EthereumTxAck.
type EthereumSignTx struct {
	AddressN     []uint32
	Nonce        []byte
	GasPrice     []byte
	GasLimit     []byte
	To           []byte // 20 bytes, or empty for contract creation
	Value        []byte
	DataInitial  []byte
	DataLength   uint32
	ChainID      uint32

	TokenShortcut string // non-empty selects ERC-20 construction
	TokenTo       []byte
	TokenValue    []byte
}

// EthereumTxRequest asks the host for the next chunk of `data`, or — once
// DataLength has been fully consumed — carries the final signature.
type EthereumTxRequest struct {
	DataLength uint32 // bytes still needed; 0 once satisfied

	SignatureV uint32
	SignatureR []byte
	SignatureS []byte
	HasSignature bool
}

// EthereumTxAck carries one chunk of transaction data, at most 1024 bytes.
type EthereumTxAck struct {
	DataChunk []byte
}
