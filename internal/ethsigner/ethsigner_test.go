package ethsigner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
)

func TestDataCollectorStreamsChunks(t *testing.T) {
	dc, err := NewDataCollector(10, []byte{1, 2, 3})
	require.NoError(t, err)
	require.False(t, dc.Done())
	require.Equal(t, uint32(7), dc.Remaining())

	require.NoError(t, dc.AddChunk([]byte{4, 5, 6, 7}))
	require.False(t, dc.Done())

	require.NoError(t, dc.AddChunk([]byte{8, 9, 10}))
	require.True(t, dc.Done())
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, dc.Data())
}

func TestDataCollectorRejectsOverrun(t *testing.T) {
	dc, err := NewDataCollector(4, nil)
	require.NoError(t, err)
	err = dc.AddChunk([]byte{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, ErrChunkOverrun)
}

func TestNewDataCollectorRejectsTooLarge(t *testing.T) {
	_, err := NewDataCollector(MaxDataLen+1, nil)
	require.ErrorIs(t, err, ErrDataTooLarge)
}

func TestBuildERC20TransferData(t *testing.T) {
	var to [20]byte
	for i := range to {
		to[i] = byte(i + 1)
	}
	data := BuildERC20TransferData(to, []byte{0x01, 0x00})
	require.Len(t, data, 4+32+32)
	require.Equal(t, erc20TransferSelector[:], data[:4])
	require.Equal(t, to[:], data[4+12:4+32])
}

func TestSignProducesEIP155V(t *testing.T) {
	var priv [32]byte
	priv[31] = 7

	tx := Tx{
		Nonce:    []byte{0x01},
		GasPrice: []byte{0x04, 0xa8, 0x17, 0xc8, 0x00},
		GasLimit: []byte{0x52, 0x08},
		To:       make([]byte, 20),
		Value:    []byte{0x0d, 0xe0, 0xb6, 0xb3, 0xa7, 0x64, 0x00, 0x00},
		ChainID:  1,
	}
	raw, v, r, s, err := Sign(tx, priv)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Len(t, r, 32)
	require.Len(t, s, 32)
	require.True(t, v == 37 || v == 38)
}

func TestSignPre155OmitsChainID(t *testing.T) {
	var priv [32]byte
	priv[31] = 9
	tx := Tx{Nonce: []byte{0x00}, GasPrice: []byte{0x01}, GasLimit: []byte{0x52, 0x08}, To: make([]byte, 20), Value: []byte{0x01}}
	_, v, _, _, err := Sign(tx, priv)
	require.NoError(t, err)
	require.True(t, v == 27 || v == 28)
}

func TestKeccak256KnownVector(t *testing.T) {
	// Keccak-256("") per the well-known empty-input test vector.
	got := Keccak256(nil)
	want := crypto.Hash{
		0xc5, 0xd2, 0x46, 0x01, 0x86, 0xf7, 0x23, 0x3c, 0x92, 0x7e, 0x7d, 0xb2, 0xdc, 0xc7, 0x03, 0xc0,
		0xe5, 0x00, 0xb6, 0x53, 0xca, 0x82, 0x27, 0x3b, 0x7b, 0xfa, 0xd8, 0x04, 0x5d, 0x85, 0xa4, 0x70,
	}
	require.Equal(t, want, got)
}
