package ethereum

import (
	"math/big"
	"testing"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = common.HexToAddress("0x2C724d1FcA1B3D471EBAa004a054621aF85D417C")

func newTestClient(t *testing.T) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client, err := NewClient("http://localhost:8545", testToken, key)
	require.NoError(t, err)
	client.chainID = big.NewInt(1)
	return client
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))
}

func TestParsePrivateKey_rejectsPlaceholders(t *testing.T) {
	for _, hexKey := range []string{"", "  ", "0x", "0xPrivateKey", "0xYOUR_PRIVATE_KEY_HERE"} {
		_, err := ParsePrivateKey(hexKey)
		require.Error(t, err, "key %q", hexKey)
	}
}

func TestSignTransfer_dynamicFee(t *testing.T) {
	client := newTestClient(t)
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	amount := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	fees := entities.FeeFields{
		Kind:                 entities.FeeEIP1559,
		MaxFeePerGas:         big.NewInt(21_500_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_500_000_000),
	}
	tx, err := client.SignTransfer(to, amount, 7, 60_000, fees)
	require.NoError(t, err)

	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, testToken, *tx.To())
	assert.Equal(t, big.NewInt(0), tx.Value())
	assert.Equal(t, big.NewInt(21_500_000_000), tx.GasFeeCap())
	assert.Equal(t, big.NewInt(1_500_000_000), tx.GasTipCap())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, client.Sender(), sender)
}

func TestSignTransfer_legacy(t *testing.T) {
	client := newTestClient(t)
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	fees := entities.FeeFields{Kind: entities.FeeLegacy, GasPrice: big.NewInt(5_000_000_000)}
	tx, err := client.SignTransfer(to, big.NewInt(1), 0, 120_000, fees)
	require.NoError(t, err)

	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, big.NewInt(5_000_000_000), tx.GasPrice())
}

func TestSignTransfer_requiresChainID(t *testing.T) {
	client := newTestClient(t)
	client.chainID = nil

	_, err := client.SignTransfer(testToken, big.NewInt(1), 0, 0, entities.FeeFields{Kind: entities.FeeLegacy, GasPrice: big.NewInt(1)})
	require.Error(t, err)
}

func TestDecodeTransferEvent(t *testing.T) {
	client := newTestClient(t)
	from := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	value := big.NewInt(123456)

	receipt := &types.Receipt{
		Logs: []*types.Log{
			{
				// unrelated log from another contract
				Address: common.HexToAddress("0x0000000000000000000000000000000000000001"),
			},
			{
				Address: testToken,
				Topics: []common.Hash{
					client.erc20.Events["Transfer"].ID,
					common.BytesToHash(from.Bytes()),
					common.BytesToHash(to.Bytes()),
				},
				Data: common.LeftPadBytes(value.Bytes(), 32),
			},
		},
	}

	event, err := client.DecodeTransferEvent(receipt)
	require.NoError(t, err)
	assert.Equal(t, from, event.From)
	assert.Equal(t, to, event.To)
	assert.Equal(t, value, event.Value)
}

func TestDecodeTransferEvent_noMatchingLog(t *testing.T) {
	client := newTestClient(t)

	_, err := client.DecodeTransferEvent(&types.Receipt{})
	require.Error(t, err)

	_, err = client.DecodeTransferEvent(nil)
	require.Error(t, err)
}
