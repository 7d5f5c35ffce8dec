// Package ethereum is the ledger client: JSON-RPC transport, ERC-20 calls,
// transaction signing and receipt polling for a single sender account.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/battledoge/batch-transfer/entities"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Minimal ERC-20 ABI: metadata reads, balance, transfer and the Transfer
// event. Enough for a token batch sender.
const erc20ABI = `[
{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"a","type":"address"}],"outputs":[{"type":"uint256"}]},
{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
{"anonymous":false,"type":"event","name":"Transfer","inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}]}
]`

type Client struct {
	eth     *ethclient.Client
	erc20   abi.ABI
	token   common.Address
	key     *ecdsa.PrivateKey
	sender  common.Address
	chainID *big.Int
}

// ParsePrivateKey loads the sender key from hex. A missing or placeholder
// value fails here, before anything touches the network.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key is not set")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key (still the placeholder?)")
	}
	return key, nil
}

func NewClient(rpcURL string, token common.Address, key *ecdsa.PrivateKey) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is not set")
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing rpc endpoint")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "parsing erc20 abi")
	}
	return &Client{
		eth:    eth,
		erc20:  parsed,
		token:  token,
		key:    key,
		sender: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Probe checks endpoint liveness and pins the chain id used for signing.
func (c *Client) Probe(ctx context.Context) error {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "reading chain id")
	}
	c.chainID = chainID
	return nil
}

func (c *Client) ChainID() *big.Int      { return c.chainID }
func (c *Client) Sender() common.Address { return c.sender }
func (c *Client) Token() common.Address  { return c.token }

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	number, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "reading latest block number")
	}
	return number, nil
}

// LatestBaseFee returns the base fee of the latest block, or nil on chains
// that predate the fee market.
func (c *Client) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "reading latest header")
	}
	return header.BaseFee, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading suggested gas price")
	}
	return price, nil
}

func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, c.sender, nil)
	if err != nil {
		return nil, errors.Wrap(err, "reading native balance")
	}
	return balance, nil
}

func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return 0, errors.Wrap(err, "reading pending nonce")
	}
	return nonce, nil
}

func (c *Client) TokenName(ctx context.Context) (string, error) {
	var name string
	err := c.callToken(ctx, &name, "name")
	return name, err
}

func (c *Client) TokenSymbol(ctx context.Context) (string, error) {
	var symbol string
	err := c.callToken(ctx, &symbol, "symbol")
	return symbol, err
}

func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	var decimals uint8
	err := c.callToken(ctx, &decimals, "decimals")
	return decimals, err
}

func (c *Client) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.callToken(ctx, &balance, "balanceOf", owner)
	return balance, err
}

func (c *Client) callToken(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "packing %s call", method)
	}
	result, err := c.eth.CallContract(ctx, goethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return errors.Wrapf(err, "calling token %s", method)
	}
	if err := c.erc20.UnpackIntoInterface(out, method, result); err != nil {
		return errors.Wrapf(err, "unpacking %s result", method)
	}
	return nil
}

// EstimateTransferGas asks the node for a gas estimate of transfer(to, amount)
// from the sender account.
func (c *Client) EstimateTransferGas(ctx context.Context, to common.Address, amount *big.Int) (uint64, error) {
	data, err := c.erc20.Pack("transfer", to, amount)
	if err != nil {
		return 0, errors.Wrap(err, "packing transfer call")
	}
	gas, err := c.eth.EstimateGas(ctx, goethereum.CallMsg{
		From: c.sender,
		To:   &c.token,
		Data: data,
	})
	if err != nil {
		return 0, errors.Wrap(err, "estimating gas")
	}
	return gas, nil
}

// SignTransfer builds and signs a transfer(to, amount) transaction locally.
// The fee kind selects between a dynamic-fee and a legacy transaction.
func (c *Client) SignTransfer(to common.Address, amount *big.Int, nonce uint64, gasLimit uint64, fees entities.FeeFields) (*types.Transaction, error) {
	if c.chainID == nil {
		return nil, errors.New("chain id unknown, probe the endpoint first")
	}
	data, err := c.erc20.Pack("transfer", to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "packing transfer call")
	}

	var tx *types.Transaction
	switch fees.Kind {
	case entities.FeeEIP1559:
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: fees.MaxPriorityFeePerGas,
			GasFeeCap: fees.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &c.token,
			Value:     big.NewInt(0),
			Data:      data,
		})
	case entities.FeeLegacy:
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &c.token,
			Value:    big.NewInt(0),
			Data:     data,
		})
	default:
		return nil, errors.Errorf("unknown fee kind %d", fees.Kind)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, errors.Wrap(err, "signing transaction")
	}
	return signed, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, errors.Wrap(err, "broadcasting transaction")
	}
	return tx.Hash(), nil
}

// WaitForReceipt polls for the receipt of hash until timeout. The returned
// outcome is a closed set: confirmed, reverted, timed out or failed; in all
// of them the broadcast transaction has consumed its nonce.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout, pollInterval time.Duration) entities.ReceiptOutcome {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return entities.ReceiptOutcome{Kind: entities.ReceiptFailed, Err: ctx.Err()}
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, hash)
			if err != nil {
				// not yet mined, or a transient rpc error; keep polling
				continue
			}
			outcome := entities.ReceiptOutcome{
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Receipt:     receipt,
			}
			if receipt.Status == types.ReceiptStatusSuccessful {
				outcome.Kind = entities.ReceiptConfirmed
			} else {
				outcome.Kind = entities.ReceiptReverted
			}
			return outcome
		}
	}
	return entities.ReceiptOutcome{Kind: entities.ReceiptTimedOut}
}

// DecodeTransferEvent extracts the first Transfer log emitted by the token in
// the given receipt.
func (c *Client) DecodeTransferEvent(receipt *types.Receipt) (*entities.TransferEvent, error) {
	if receipt == nil {
		return nil, errors.New("nil receipt")
	}
	transferID := c.erc20.Events["Transfer"].ID
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != c.token || len(logEntry.Topics) != 3 || logEntry.Topics[0] != transferID {
			continue
		}
		values, err := c.erc20.Unpack("Transfer", logEntry.Data)
		if err != nil {
			return nil, errors.Wrap(err, "unpacking transfer event")
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return nil, errors.New("unexpected transfer event value type")
		}
		return &entities.TransferEvent{
			From:  common.BytesToAddress(logEntry.Topics[1].Bytes()),
			To:    common.BytesToAddress(logEntry.Topics[2].Bytes()),
			Value: value,
		}, nil
	}
	return nil, errors.New("no transfer event in receipt")
}
