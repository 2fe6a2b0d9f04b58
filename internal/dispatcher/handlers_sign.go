package dispatcher

import (
	"context"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	"github.com/keepkey/keepkey-firmware-sub001/internal/confirm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/ethsigner"
	"github.com/keepkey/keepkey-firmware-sub001/internal/exchange"
	"github.com/keepkey/keepkey-firmware-sub001/internal/signer"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// deriveInputKey walks AddressN from the wallet's root node to the private
// key that signs one input/output (§4.7: each input/output can derive from
// a different path under the same seed).
func (d *Dispatcher) deriveInputKey(root crypto.HDNode, addressN []uint32) (crypto.HDNode, error) {
	node := root
	var err error
	for _, idx := range addressN {
		node, err = crypto.CKDPriv(node, idx)
		if err != nil {
			return crypto.HDNode{}, err
		}
	}
	return node, nil
}

func scriptTypeIsSegwit(st wire.ScriptType) bool {
	return st == wire.ScriptTypePayToWitness
}

func feeWarning(fee uint64) string {
	const hexDigits = "0123456789"
	if fee == 0 {
		return "Transaction fee: 0\nSign transaction?"
	}
	var digits []byte
	for fee > 0 {
		digits = append([]byte{hexDigits[fee%10]}, digits...)
		fee /= 10
	}
	return "High fee: " + string(digits) + " sats\nSign transaction?"
}

// coinMaxFeePerKB names each supported coin's maximum acceptable fee rate
// in satoshis per kilobyte (original firmware: coins.h's per-coin
// `maxfee_kb` field, compared in signing.c against transactionEstimateSizeKb's
// output). §4.7 triggers FeeOverThreshold when the actual fee exceeds
// tx_est_size_kb * coin.max_fee_per_kb rather than a single absolute sats
// constant, since a coin's minimum relay fee and a transaction's size both
// scale the threshold.
var coinMaxFeePerKB = map[string]uint64{
	"Bitcoin":     100000,
	"Testnet":     100000,
	"Litecoin":    500000,
	"BitcoinCash": 100000,
	"Dogecoin":    100000000,
}

const defaultMaxFeePerKB = 100000

func maxFeePerKB(coinName string) uint64 {
	if v, ok := coinMaxFeePerKB[coinName]; ok {
		return v
	}
	return defaultMaxFeePerKB
}

// feeOverThreshold implements §4.7's `tx_est_size_kb * coin.max_fee_per_kb`
// fee-sanity check.
func feeOverThreshold(fee uint64, estSizeBytes int, coinName string) bool {
	estSizeKB := (uint64(estSizeBytes) + 999) / 1000
	if estSizeKB == 0 {
		estSizeKB = 1
	}
	return fee > estSizeKB*maxFeePerKB(coinName)
}

// handleSignTx implements §4.7's two-phase streaming Bitcoin-family signer:
// request every input and output (Phase 1, the survey), confirm what needs
// confirming, then request each input again to emit its signature (Phase
// 2), all driven through the TxRequest/TxAck tiny-message dialogue.
func handleSignTx(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.SignTx
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	if err := d.ensurePassphrase(ctx); err != nil {
		return 0, nil, err
	}

	secret, err := d.Engine.DecryptSecret(d.Session)
	if err != nil {
		return 0, nil, err
	}
	root, err := d.Engine.GetRootNode(d.Session, &secret, crypto.Secp256k1, d.Session.PassphraseCached)
	if err != nil {
		return 0, nil, err
	}

	sgnr := signer.New(req.Version, req.LockTime, req.InputsCount, req.OutputsCount)

	inputs := make([]wire.TxInputType, req.InputsCount)

	for i := uint32(0); i < req.InputsCount; i++ {
		ack, err := d.requestTxPart(ctx, wire.RequestDetails{RequestKind: wire.TxRequestInput, RequestIndex: i})
		if err != nil {
			return 0, nil, err
		}
		if ack.Input == nil {
			return 0, nil, errors.New("signer: expected input in TxAck")
		}
		in := *ack.Input
		inputs[i] = in

		scriptCode, err := inputScriptCode(root, in)
		if err != nil {
			return 0, nil, err
		}
		if err := sgnr.SurveyInput(int(i), in, scriptCode); err != nil {
			return 0, nil, err
		}
	}

	for i := uint32(0); i < req.OutputsCount; i++ {
		ack, err := d.requestTxPart(ctx, wire.RequestDetails{RequestKind: wire.TxRequestOutput, RequestIndex: i})
		if err != nil {
			return 0, nil, err
		}
		if ack.Output == nil {
			return 0, nil, errors.New("signer: expected output in TxAck")
		}
		out := *ack.Output
		scriptPubKey, err := outputScriptFor(out)
		if err != nil {
			return 0, nil, err
		}
		if err := sgnr.SurveyOutput(int(i), out, scriptPubKey); err != nil {
			return 0, nil, err
		}
	}

	fee, err := sgnr.FinishSurvey()
	if err != nil {
		return 0, nil, err
	}

	for i, out := range sgnr.Outputs() {
		if sgnr.IsChange(i) {
			continue
		}
		if out.AddressType == wire.AddressTypeExchange && d.Exchange != nil {
			contract := exchangeContractFrom(out)
			if verr := d.Exchange.Verify(d.Engine, contract); verr != nil {
				return 0, nil, verr
			}
			lines := exchange.ConfirmLines(contract)
			ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestConfirmOutput, []byte(lines[0]+"\n"+lines[1]+"\n"+lines[2]))
			if err != nil {
				return 0, nil, err
			}
			if !ok {
				return 0, nil, ErrCancelled
			}
			continue
		}
		if out.AddressType == wire.AddressTypeTransfer {
			ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestConfirmOutput, []byte("Transfer to own account:\n"+out.Address))
			if err != nil {
				return 0, nil, err
			}
			if !ok {
				return 0, nil, ErrCancelled
			}
			continue
		}
		ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestConfirmOutput, []byte(out.Address))
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, ErrCancelled
		}
	}

	signPrompt := "Sign transaction?"
	requestKind := wire.ButtonRequestSignTx
	if feeOverThreshold(fee, sgnr.EstimatedSizeBytes(), req.CoinName) {
		signPrompt = feeWarning(fee)
		requestKind = wire.ButtonRequestFeeOverThreshold
	}
	ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, requestKind, []byte(signPrompt))
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrCancelled
	}

	for i := uint32(0); i < req.InputsCount; i++ {
		ack, err := d.requestTxPart(ctx, wire.RequestDetails{RequestKind: wire.TxRequestInput, RequestIndex: i})
		if err != nil {
			return 0, nil, err
		}
		if ack.Input == nil {
			return 0, nil, errors.New("signer: expected input in TxAck replay")
		}
		in := *ack.Input
		node, err := d.deriveInputKey(root, in.AddressN)
		if err != nil {
			return 0, nil, err
		}
		sig, err := sgnr.SignInput(int(i), in, node.PrivateKey, 1, scriptTypeIsSegwit(in.ScriptType))
		if err != nil {
			return 0, nil, err
		}
		if err := d.t.Send(wire.MsgTxRequest, wire.TxRequest{Kind: wire.RequestDetails{
			RequestKind:    wire.TxRequestFinished,
			RequestIndex:   i,
			SignatureIndex: i,
			SerializedTx:   sig,
		}}); err != nil {
			return 0, nil, err
		}
		if i+1 < req.InputsCount {
			if _, _, err := d.waitForTiny(ctx, wire.MsgTxAck); err != nil {
				return 0, nil, err
			}
		}
	}

	return wire.MsgSuccess, wire.Success{Message: "Transaction signed"}, nil
}

// requestTxPart sends one TxRequest and waits for the matching TxAck.
func (d *Dispatcher) requestTxPart(ctx context.Context, details wire.RequestDetails) (wire.TxAck, error) {
	if err := d.t.Send(wire.MsgTxRequest, wire.TxRequest{Kind: details}); err != nil {
		return wire.TxAck{}, err
	}
	_, payload, err := d.waitForTiny(ctx, wire.MsgTxAck)
	if err != nil {
		return wire.TxAck{}, err
	}
	var ack wire.TxAck
	if err := wire.Unmarshal(payload, &ack); err != nil {
		return wire.TxAck{}, err
	}
	return ack, nil
}

func inputScriptCode(root crypto.HDNode, in wire.TxInputType) ([]byte, error) {
	node := root
	var err error
	for _, idx := range in.AddressN {
		node, err = crypto.CKDPriv(node, idx)
		if err != nil {
			return nil, err
		}
	}
	pubKeyHash := btcutil.Hash160(node.PublicKey[:])
	return signer.P2PKHScriptCode(pubKeyHash)
}

func outputScriptFor(out wire.TxOutputType) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(out.Address, &btcutil.MainNetParams)
	if err != nil {
		return nil, err
	}
	return signer.OutputScript(addr)
}

// exchangeContractFrom extracts the issuer-signed contract a host attaches
// to an exchange output. An AddressTypeExchange output without one can
// never verify, since Hook.Verify checks a signature over its fields.
func exchangeContractFrom(out wire.TxOutputType) exchange.Contract {
	if out.ExchangeContract == nil {
		return exchange.Contract{Counterparty: out.Address}
	}
	c := out.ExchangeContract
	return exchange.Contract{
		Counterparty:  c.Counterparty,
		Destination:   c.Destination,
		ReturnAddress: c.ReturnAddress,
		Response:      c.Response,
		Signature:     c.Signature,
	}
}

// tokenMaxGasLimit names each known ERC-20 token shortcut's maximum
// allowed gas limit (§4.8: TokenShortcut construction must not let a host
// smuggle an unbounded GasLimit in alongside the constructed `transfer`
// call; a plain ERC-20 transfer never legitimately needs more than a small
// multiple of the base transaction gas cost).
var tokenMaxGasLimit = map[string]uint64{
	"USDT": 100000,
	"USDC": 100000,
	"DAI":  120000,
}

const defaultTokenMaxGasLimit = 100000

func maxGasLimitForToken(shortcut string) uint64 {
	if v, ok := tokenMaxGasLimit[shortcut]; ok {
		return v
	}
	return defaultTokenMaxGasLimit
}

func isZeroBytes(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func gasLimitExceeds(gasLimit []byte, max uint64) bool {
	return new(big.Int).SetBytes(gasLimit).Cmp(new(big.Int).SetUint64(max)) > 0
}

// handleEthereumSignTx implements §4.8: validate shape, stream in the rest
// of `data` if it exceeds the inline chunk, apply ERC-20 construction when
// a TokenShortcut is present, then sign.
func handleEthereumSignTx(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.EthereumSignTx
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	if len(req.To) != 0 && len(req.To) != 20 {
		return 0, nil, errors.New("ethsigner: to must be 20 bytes or empty")
	}
	if len(req.GasPrice)+len(req.GasLimit) > 30 {
		return 0, nil, errors.New("ethsigner: gas_price_size+gas_limit_size exceeds 30")
	}
	if req.DataLength > ethsigner.MaxDataLen {
		return 0, nil, ethsigner.ErrDataTooLarge
	}
	if req.ChainID != 0 && (req.ChainID < 1 || req.ChainID > 109) {
		return 0, nil, errors.New("ethsigner: chain_id out of range")
	}

	if err := d.ensurePassphrase(ctx); err != nil {
		return 0, nil, err
	}
	secret, err := d.Engine.DecryptSecret(d.Session)
	if err != nil {
		return 0, nil, err
	}
	root, err := d.Engine.GetRootNode(d.Session, &secret, crypto.Secp256k1, d.Session.PassphraseCached)
	if err != nil {
		return 0, nil, err
	}
	node, err := d.deriveInputKey(root, req.AddressN)
	if err != nil {
		return 0, nil, err
	}

	dc, err := ethsigner.NewDataCollector(req.DataLength, req.DataInitial)
	if err != nil {
		return 0, nil, err
	}
	for !dc.Done() {
		want := dc.Remaining()
		if want > ethsigner.ChunkSize {
			want = ethsigner.ChunkSize
		}
		if err := d.t.Send(wire.MsgEthereumTxRequest, wire.EthereumTxRequest{DataLength: want}); err != nil {
			return 0, nil, err
		}
		_, payload, err := d.waitForTiny(ctx, wire.MsgEthereumTxAck)
		if err != nil {
			return 0, nil, err
		}
		var ack wire.EthereumTxAck
		if err := wire.Unmarshal(payload, &ack); err != nil {
			return 0, nil, err
		}
		if err := dc.AddChunk(ack.DataChunk); err != nil {
			return 0, nil, err
		}
	}

	to := req.To
	value := req.Value
	data := dc.Data()
	if req.TokenShortcut != "" {
		if len(req.TokenTo) != 20 {
			return 0, nil, errors.New("ethsigner: token_to must be 20 bytes")
		}
		if !isZeroBytes(value) {
			return 0, nil, errors.New("ethsigner: token shortcut requires a zero value field")
		}
		if len(data) != 0 {
			return 0, nil, errors.New("ethsigner: token shortcut requires an empty data field")
		}
		if gasLimitExceeds(req.GasLimit, maxGasLimitForToken(req.TokenShortcut)) {
			return 0, nil, errors.New("ethsigner: gas limit exceeds token shortcut maximum")
		}
		var tokenTo [20]byte
		copy(tokenTo[:], req.TokenTo)
		data = ethsigner.BuildERC20TransferData(tokenTo, req.TokenValue)
		value = nil
	}

	promptTo := to
	if req.TokenShortcut != "" {
		promptTo = req.TokenTo
	}
	ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestSignTx, promptTo)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrCancelled
	}

	tx := ethsigner.Tx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		GasLimit: req.GasLimit,
		To:       to,
		Value:    value,
		Data:     data,
		ChainID:  req.ChainID,
	}
	_, v, r, s, err := ethsigner.Sign(tx, node.PrivateKey)
	if err != nil {
		return 0, nil, err
	}

	return wire.MsgEthereumTxRequest, wire.EthereumTxRequest{
		HasSignature: true,
		SignatureV:   uint32(v),
		SignatureR:   r,
		SignatureS:   s,
	}, nil
}
