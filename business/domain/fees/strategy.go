// Package fees decides the fee fields for the next transaction. The chain is
// probed fresh on every call: the base fee changes block to block.
package fees

import (
	"context"
	"math/big"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/pkg/errors"
)

// DefaultPriorityFee is 1.5 gwei, applied when no override is configured.
var DefaultPriorityFee = big.NewInt(1_500_000_000)

const DefaultMaxFeeMultiplier = 2.0

// ChainReader supplies the current fee conditions of the network.
type ChainReader interface {
	// LatestBaseFee returns the base fee of the latest block, or nil on
	// chains without a fee market.
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Strategy computes the fee fields for the next transaction.
type Strategy interface {
	ComputeFees(ctx context.Context) (entities.FeeFields, error)
}

// DynamicStrategy picks EIP-1559 fees when the chain exposes a base fee and
// falls back to the suggested legacy gas price otherwise.
type DynamicStrategy struct {
	chain       ChainReader
	multiplier  float64
	priorityFee *big.Int
}

func NewDynamicStrategy(chain ChainReader, multiplier float64, priorityFee *big.Int) *DynamicStrategy {
	if multiplier <= 0 {
		multiplier = DefaultMaxFeeMultiplier
	}
	if priorityFee == nil || priorityFee.Sign() <= 0 {
		priorityFee = DefaultPriorityFee
	}
	return &DynamicStrategy{
		chain:       chain,
		multiplier:  multiplier,
		priorityFee: priorityFee,
	}
}

// ComputeFees returns maxFeePerGas = floor(baseFee * multiplier) + priority
// on fee-market chains, or the suggested gas price unchanged on legacy
// chains. Query failures propagate to the caller.
func (s *DynamicStrategy) ComputeFees(ctx context.Context) (entities.FeeFields, error) {
	baseFee, err := s.chain.LatestBaseFee(ctx)
	if err != nil {
		return entities.FeeFields{}, errors.Wrap(err, "reading latest base fee")
	}

	if baseFee == nil {
		gasPrice, err := s.chain.SuggestGasPrice(ctx)
		if err != nil {
			return entities.FeeFields{}, errors.Wrap(err, "reading suggested gas price")
		}
		return entities.FeeFields{
			Kind:     entities.FeeLegacy,
			GasPrice: gasPrice,
		}, nil
	}

	maxFee := scale(baseFee, s.multiplier)
	maxFee.Add(maxFee, s.priorityFee)
	return entities.FeeFields{
		Kind:                 entities.FeeEIP1559,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(s.priorityFee),
	}, nil
}

// scale multiplies a wei amount by a float factor, truncating the result.
func scale(amount *big.Int, factor float64) *big.Int {
	product := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(factor))
	scaled, _ := product.Int(nil)
	return scaled
}
