package ingest

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

func TestDecodeEvent(t *testing.T) {
	payload := []byte(`{
		"hash": "0xabc",
		"from_address": "0xAAA",
		"to_address": "0xBBB",
		"value": "1500.5",
		"timestamp": "2025-03-01T10:00:00Z"
	}`)
	tx, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", tx.Hash)
	assert.Equal(t, "1500.5", tx.Value.String())
	assert.Equal(t, models.TxTypeTransfer, tx.TransactionType, "missing type defaults to transfer")
}

func TestDecodeEventRejectsMalformedPayloads(t *testing.T) {
	cases := map[string][]byte{
		"not json":          []byte("{oops"),
		"missing hash":      []byte(`{"from_address":"a","to_address":"b","timestamp":"2025-03-01T10:00:00Z"}`),
		"missing sender":    []byte(`{"hash":"0x1","to_address":"b","timestamp":"2025-03-01T10:00:00Z"}`),
		"missing timestamp": []byte(`{"hash":"0x1","from_address":"a","to_address":"b"}`),
	}
	for name, payload := range cases {
		_, err := DecodeEvent(payload)
		assert.Error(t, err, name)
	}
}

func TestEventFromChainTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(1)
	signer := types.LatestSignerForChainID(chainID)

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	raw := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(2_000_000_000_000_000_000), // 2 ether
		Gas:      21000,
		GasPrice: big.NewInt(30_000_000_000), // 30 gwei
	})
	signed, err := types.SignTx(raw, signer, key)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	event, err := EventFromChainTx(signed, signer, 123, at)
	require.NoError(t, err)

	assert.Equal(t, signed.Hash().Hex(), event.Hash)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), event.FromAddress)
	assert.Equal(t, to.Hex(), event.ToAddress)
	assert.Equal(t, "2", event.Value.String())
	assert.Equal(t, "30", event.GasPrice.String())
	assert.Equal(t, uint64(123), event.BlockNumber)
	assert.Equal(t, models.TxTypeTransfer, event.TransactionType)
}

func TestEventFromChainTxContractCreation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1))

	raw := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      100000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     []byte{0x60, 0x60},
	})
	signed, err := types.SignTx(raw, signer, key)
	require.NoError(t, err)

	event, err := EventFromChainTx(signed, signer, 1, time.Now())
	require.NoError(t, err)
	assert.Empty(t, event.ToAddress)
	assert.Equal(t, models.TxTypeContractInteraction, event.TransactionType)
}

func TestDecodeEventAcceptsContractCreation(t *testing.T) {
	payload := []byte(`{
		"hash": "0xdef",
		"from_address": "0xAAA",
		"value": "0",
		"timestamp": "2025-03-01T10:00:00Z",
		"transaction_type": "CONTRACT_INTERACTION"
	}`)
	tx, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Empty(t, tx.ToAddress)
	assert.Equal(t, models.TxTypeContractInteraction, tx.TransactionType)
}
