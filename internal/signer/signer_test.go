package signer

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	wiremsg "github.com/keepkey/keepkey-firmware-sub001/wire"
)

func samplePrivKey() [32]byte {
	var k [32]byte
	k[31] = 1
	return k
}

func pubKeyHashFor(priv [32]byte) []byte {
	_, pub := btcec.PrivKeyFromBytes(priv[:])
	comp := pub.SerializeCompressed()
	h, _ := P2PKHScriptCode(comp[:20]) // stand-in hash160 for test purposes
	return h
}

func TestSurveyThenSignLegacySingleInput(t *testing.T) {
	priv := samplePrivKey()
	scriptCode, err := P2PKHScriptCode(make([]byte, 20))
	require.NoError(t, err)

	s := New(1, 0, 1, 1)
	amount := uint64(100000)
	in := wiremsg.TxInputType{
		PrevHash:  bytes.Repeat([]byte{0xAB}, 32),
		PrevIndex: 0,
		Sequence:  0xffffffff,
		Amount:    &amount,
	}
	require.NoError(t, s.SurveyInput(0, in, scriptCode))

	out := wiremsg.TxOutputType{Amount: 90000, AddressType: wiremsg.AddressTypeSpend}
	require.NoError(t, s.SurveyOutput(0, out, make([]byte, 25)))

	fee, err := s.FinishSurvey()
	require.NoError(t, err)
	require.Equal(t, uint64(10000), fee)

	sig, err := s.SignInput(0, in, priv, 1, false)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
	require.Equal(t, byte(1), sig[len(sig)-1])
}

func TestSignInputRejectsReplayMismatch(t *testing.T) {
	scriptCode, err := P2PKHScriptCode(make([]byte, 20))
	require.NoError(t, err)

	s := New(1, 0, 1, 1)
	amount := uint64(50000)
	in := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x01}, 32), PrevIndex: 0, Amount: &amount}
	require.NoError(t, s.SurveyInput(0, in, scriptCode))
	out := wiremsg.TxOutputType{Amount: 40000}
	require.NoError(t, s.SurveyOutput(0, out, make([]byte, 25)))
	_, err = s.FinishSurvey()
	require.NoError(t, err)

	tampered := in
	tampered.PrevHash = bytes.Repeat([]byte{0x02}, 32)
	_, err = s.SignInput(0, tampered, samplePrivKey(), 1, false)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestFinishSurveyRejectsInsufficientFunds(t *testing.T) {
	s := New(1, 0, 1, 1)
	amount := uint64(1000)
	in := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x03}, 32), Amount: &amount}
	require.NoError(t, s.SurveyInput(0, in, nil))
	out := wiremsg.TxOutputType{Amount: 5000}
	require.NoError(t, s.SurveyOutput(0, out, nil))
	_, err := s.FinishSurvey()
	require.ErrorIs(t, err, ErrNotEnoughFunds)
}

func TestMultisigFingerprintAgreement(t *testing.T) {
	ms1 := &wiremsg.MultisigRedeemScriptType{
		Pubkeys: []wiremsg.HDNodeWire{{PublicKey: []byte{0x02, 0x01}}, {PublicKey: []byte{0x03, 0x02}}},
		M:       2,
	}
	ms2 := &wiremsg.MultisigRedeemScriptType{
		Pubkeys: []wiremsg.HDNodeWire{{PublicKey: []byte{0x03, 0x02}}, {PublicKey: []byte{0x02, 0x01}}},
		M:       2,
	}
	require.Equal(t, ComputeMultisigFingerprint(ms1), ComputeMultisigFingerprint(ms2))

	s := New(1, 0, 2, 1)
	amount := uint64(10000)
	in0 := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x04}, 32), Amount: &amount, Multisig: ms1}
	in1 := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x05}, 32), PrevIndex: 1, Amount: &amount, Multisig: ms2}
	require.NoError(t, s.SurveyInput(0, in0, nil))
	require.NoError(t, s.SurveyInput(1, in1, nil))
	require.True(t, s.MultisigFingerprintsAgree())

	ms3 := &wiremsg.MultisigRedeemScriptType{
		Pubkeys: []wiremsg.HDNodeWire{{PublicKey: []byte{0x02, 0x99}}, {PublicKey: []byte{0x03, 0x02}}},
		M:       2,
	}
	s2 := New(1, 0, 2, 1)
	in2 := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x06}, 32), Amount: &amount, Multisig: ms1}
	in3 := wiremsg.TxInputType{PrevHash: bytes.Repeat([]byte{0x07}, 32), PrevIndex: 1, Amount: &amount, Multisig: ms3}
	require.NoError(t, s2.SurveyInput(0, in2, nil))
	require.NoError(t, s2.SurveyInput(1, in3, nil))
	require.False(t, s2.MultisigFingerprintsAgree())
}

func TestIsChangeByChainIndex(t *testing.T) {
	s := New(1, 0, 0, 2)
	internal := wiremsg.TxOutputType{
		AddressN: []uint32{0x80000054, 0x80000000, 0x80000000, 1, 5},
	}
	external := wiremsg.TxOutputType{
		AddressN: []uint32{0x80000054, 0x80000000, 0x80000000, 0, 5},
	}
	require.NoError(t, s.SurveyOutput(0, internal, nil))
	require.NoError(t, s.SurveyOutput(1, external, nil))
	require.True(t, s.IsChange(0))
	require.False(t, s.IsChange(1))
}

func TestIsChangeByExplicitAddressType(t *testing.T) {
	s := New(1, 0, 0, 1)
	out := wiremsg.TxOutputType{AddressType: wiremsg.AddressTypeChange}
	require.NoError(t, s.SurveyOutput(0, out, nil))
	require.True(t, s.IsChange(0))
}

func TestIsChangeNeverForTransfer(t *testing.T) {
	s := New(1, 0, 0, 1)
	out := wiremsg.TxOutputType{
		AddressType: wiremsg.AddressTypeTransfer,
		AddressN:    []uint32{0x80000054, 0x80000000, 0x80000000, 1, 5},
	}
	require.NoError(t, s.SurveyOutput(0, out, nil))
	require.False(t, s.IsChange(0))
}

func TestIsChangeByMatchingMultisigFingerprint(t *testing.T) {
	s := New(1, 0, 1, 1)
	ms := &wiremsg.MultisigRedeemScriptType{
		Pubkeys: []wiremsg.HDNodeWire{{PublicKey: []byte{0x02, 0x01}}, {PublicKey: []byte{0x03, 0x02}}},
		M:       2,
	}
	amount := uint64(1000)
	in := wiremsg.TxInputType{Amount: &amount, Multisig: ms}
	require.NoError(t, s.SurveyInput(0, in, nil))

	sameMultisig := wiremsg.TxOutputType{ScriptType: wiremsg.ScriptTypePayToMultisig, Multisig: ms}
	require.NoError(t, s.SurveyOutput(0, sameMultisig, nil))
	require.True(t, s.IsChange(0))
}
