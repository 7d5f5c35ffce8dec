package fees

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMock = errors.New("mock error")

type FakeChainReader struct {
	baseFee         *big.Int
	gasPrice        *big.Int
	baseFeeErr      error
	gasPriceErr     error
	baseFeeQueries  int
	gasPriceQueries int
	baseFeePerQuery []*big.Int // when set, returned in sequence
}

func (f *FakeChainReader) LatestBaseFee(_ context.Context) (*big.Int, error) {
	defer func() { f.baseFeeQueries++ }()
	if f.baseFeeErr != nil {
		return nil, f.baseFeeErr
	}
	if f.baseFeePerQuery != nil {
		return f.baseFeePerQuery[f.baseFeeQueries], nil
	}
	return f.baseFee, nil
}

func (f *FakeChainReader) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	f.gasPriceQueries++
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return f.gasPrice, nil
}

func TestDynamicStrategy_feeMarketChain(t *testing.T) {
	// baseFee 10 gwei, multiplier 2.0, priority 1.5 gwei -> 21.5 gwei
	chain := &FakeChainReader{baseFee: big.NewInt(10_000_000_000)}
	strategy := NewDynamicStrategy(chain, 2.0, nil)

	fields, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entities.FeeEIP1559, fields.Kind)
	assert.Equal(t, big.NewInt(21_500_000_000), fields.MaxFeePerGas)
	assert.Equal(t, big.NewInt(1_500_000_000), fields.MaxPriorityFeePerGas)
	assert.Nil(t, fields.GasPrice)
}

func TestDynamicStrategy_multiplierTruncates(t *testing.T) {
	chain := &FakeChainReader{baseFee: big.NewInt(333)}
	strategy := NewDynamicStrategy(chain, 1.5, big.NewInt(1))

	fields, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)

	// floor(333 * 1.5) + 1 = 499 + 1
	assert.Equal(t, big.NewInt(500), fields.MaxFeePerGas)
}

func TestDynamicStrategy_priorityFeeOverride(t *testing.T) {
	chain := &FakeChainReader{baseFee: big.NewInt(10)}
	strategy := NewDynamicStrategy(chain, 2.0, big.NewInt(7))

	fields, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(27), fields.MaxFeePerGas)
	assert.Equal(t, big.NewInt(7), fields.MaxPriorityFeePerGas)
}

func TestDynamicStrategy_legacyChain(t *testing.T) {
	chain := &FakeChainReader{gasPrice: big.NewInt(5_000_000_000)}
	strategy := NewDynamicStrategy(chain, 2.0, nil)

	fields, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entities.FeeLegacy, fields.Kind)
	assert.Equal(t, big.NewInt(5_000_000_000), fields.GasPrice)
	assert.Nil(t, fields.MaxFeePerGas)
}

func TestDynamicStrategy_queriesFreshEveryCall(t *testing.T) {
	chain := &FakeChainReader{baseFeePerQuery: []*big.Int{
		big.NewInt(100), big.NewInt(200),
	}}
	strategy := NewDynamicStrategy(chain, 1.0, big.NewInt(0))

	first, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)
	second, err := strategy.ComputeFees(context.Background())
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(100+1_500_000_000), first.MaxFeePerGas)
	assert.Equal(t, big.NewInt(200+1_500_000_000), second.MaxFeePerGas)
	assert.Equal(t, 2, chain.baseFeeQueries)
}

func TestDynamicStrategy_errorsPropagate(t *testing.T) {
	chain := &FakeChainReader{baseFeeErr: errMock}
	strategy := NewDynamicStrategy(chain, 2.0, nil)
	_, err := strategy.ComputeFees(context.Background())
	require.ErrorIs(t, err, errMock)

	chain = &FakeChainReader{gasPriceErr: errMock}
	strategy = NewDynamicStrategy(chain, 2.0, nil)
	_, err = strategy.ComputeFees(context.Background())
	require.ErrorIs(t, err, errMock)
}
