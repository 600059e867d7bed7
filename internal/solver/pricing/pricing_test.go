package pricing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair() Pair {
	return Pair{
		InputToken:  common.HexToAddress("0x1111000000000000000000000000000000EEEE"),
		OutputToken: common.HexToAddress("0x2222000000000000000000000000000000EEEE"),
	}
}

func TestPriceExactInputAppliesSpread(t *testing.T) {
	e := NewEngine()
	pair := testPair()
	e.SetPair(pair, PairConfig{
		Price:          decimal.NewFromInt(2), // 2 output per input
		SpreadBps:      100,                   // 1%
		InputDecimals:  18,
		OutputDecimals: 6,
	})

	// 1 whole input token (10^18 smallest units).
	fixed := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	inputAmount, outputAmount, err := e.Price(pair, quote.ExactInput, fixed)
	require.NoError(t, err)
	assert.Equal(t, fixed, inputAmount)
	// 1 * 2 * 0.99 = 1.98 output tokens -> 1_980_000 (6 decimals).
	assert.Equal(t, big.NewInt(1_980_000), outputAmount)
}

func TestPriceExactOutputAppliesSpread(t *testing.T) {
	e := NewEngine()
	pair := testPair()
	e.SetPair(pair, PairConfig{
		Price:          decimal.NewFromInt(2),
		SpreadBps:      100,
		InputDecimals:  18,
		OutputDecimals: 6,
	})

	// Request 2 whole output tokens (2_000_000 at 6 decimals).
	fixed := big.NewInt(2_000_000)
	inputAmount, outputAmount, err := e.Price(pair, quote.ExactOutput, fixed)
	require.NoError(t, err)
	assert.Equal(t, fixed, outputAmount)
	assert.True(t, inputAmount.Sign() > 0)
	// inputAmount should be slightly less than 1 whole input token (2/2.02 ~ 0.9901).
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.True(t, inputAmount.Cmp(oneToken) < 0)
}

func TestPriceRejectsUnsupportedPair(t *testing.T) {
	e := NewEngine()
	_, _, err := e.Price(testPair(), quote.ExactInput, big.NewInt(1))
	assert.Error(t, err)
}

func TestPriceRejectsFixedSideOverflow(t *testing.T) {
	e := NewEngine()
	pair := testPair()
	e.SetPair(pair, PairConfig{Price: decimal.NewFromInt(1), InputDecimals: 18, OutputDecimals: 18})

	tooBig := new(big.Int).Lsh(big.NewInt(1), 129)
	_, _, err := e.Price(pair, quote.ExactInput, tooBig)
	assert.Error(t, err)
}

func TestPriceRejectsBelowMinimumOrder(t *testing.T) {
	e := NewEngine()
	pair := testPair()
	e.SetPair(pair, PairConfig{Price: decimal.NewFromInt(1), InputDecimals: 18, OutputDecimals: 6})

	_, _, err := e.Price(pair, quote.ExactInput, big.NewInt(1))
	assert.Error(t, err)
}

func TestPriceRejectsUSDCeiling(t *testing.T) {
	e := NewEngine()
	pair := testPair()
	e.SetPair(pair, PairConfig{
		Price:           decimal.NewFromInt(1),
		InputDecimals:   18,
		OutputDecimals:  18,
		USDPerInputUnit: decimal.NewFromInt(1),
		MaxUSDNotional:  decimal.NewFromInt(100),
	})

	// 1000 whole input tokens, far above the $100 ceiling at $1/token.
	fixed := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	_, _, err := e.Price(pair, quote.ExactInput, fixed)
	assert.Error(t, err)
}
