// Package pricing implements the reference solver's pricing core:
// given a requested pair and fixed side, compute the other side's amount
// with a configurable spread, then apply the protocol's rejection rules
// (unsupported pair, minimum order, USD notional ceiling, fixed-side
// overflow).
//
// A reference price is held as a decimal.Decimal price level; rejection
// checks run sequentially, each with its own metrics counter.
package pricing

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/metrics"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/shopspring/decimal"
)

// Pair identifies a tradeable token pair this solver quotes.
type Pair struct {
	InputToken  common.Address
	OutputToken common.Address
}

// maxFixedSideAmount is the protocol ceiling on the side of the trade the
// requester fixes; a request for more than this is rejected rather than
// risking silent overflow in downstream 256-bit arithmetic.
var maxFixedSideAmount = new(big.Int).Lsh(big.NewInt(1), 128)

// PairConfig is one quoted pair's pricing parameters.
type PairConfig struct {
	// Price is the mid-market exchange rate: whole output tokens per one
	// whole input token.
	Price decimal.Decimal
	// SpreadBps widens the mid-market price in the solver's favor.
	SpreadBps int64
	InputDecimals  uint8
	OutputDecimals uint8
	// USDPerInputUnit is the USD value of one whole input token, used only
	// to enforce MaxUSDNotional.
	USDPerInputUnit decimal.Decimal
	// MaxUSDNotional rejects quotes above this USD size; zero disables the
	// check.
	MaxUSDNotional decimal.Decimal
}

// Engine holds the solver's quoted pairs and produces priced amounts.
type Engine struct {
	mu    sync.RWMutex
	pairs map[Pair]PairConfig
}

func NewEngine() *Engine {
	return &Engine{pairs: make(map[Pair]PairConfig)}
}

// SetPair installs or replaces a pair's pricing configuration.
func (e *Engine) SetPair(pair Pair, cfg PairConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairs[pair] = cfg
}

// RemovePair stops quoting a pair.
func (e *Engine) RemovePair(pair Pair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pairs, pair)
}

// Price computes the other side's amount for a fixed-side request,
// applying the spread in the solver's favor and the protocol's rejection
// rules. fixedAmount is inputAmount for EXACT_INPUT, outputAmount for
// EXACT_OUTPUT.
func (e *Engine) Price(pair Pair, orderType quote.OrderType, fixedAmount *big.Int) (inputAmount, outputAmount *big.Int, err error) {
	if fixedAmount == nil || fixedAmount.Sign() <= 0 {
		metrics.PricingRejects.WithLabelValues("non_positive_amount").Inc()
		return nil, nil, fmt.Errorf("pricing: fixed amount must be positive")
	}
	if fixedAmount.Cmp(maxFixedSideAmount) > 0 {
		metrics.PricingRejects.WithLabelValues("fixed_side_overflow").Inc()
		return nil, nil, fmt.Errorf("pricing: fixed side amount exceeds 2^128")
	}

	e.mu.RLock()
	cfg, ok := e.pairs[pair]
	e.mu.RUnlock()
	if !ok {
		metrics.PricingRejects.WithLabelValues("unsupported_pair").Inc()
		return nil, nil, fmt.Errorf("pricing: unsupported pair %s/%s", pair.InputToken.Hex(), pair.OutputToken.Hex())
	}
	if cfg.Price.Sign() <= 0 {
		metrics.PricingRejects.WithLabelValues("unsupported_pair").Inc()
		return nil, nil, fmt.Errorf("pricing: pair %s/%s has no reference price", pair.InputToken.Hex(), pair.OutputToken.Hex())
	}

	spread := decimal.NewFromInt(cfg.SpreadBps).Div(decimal.NewFromInt(10_000))
	one := decimal.NewFromInt(1)

	switch orderType {
	case quote.ExactInput:
		inputAmount = fixedAmount
		humanInput := toHuman(fixedAmount, cfg.InputDecimals)
		effectivePrice := cfg.Price.Mul(one.Sub(spread))
		humanOutput := humanInput.Mul(effectivePrice)
		outputAmount = fromHumanFloor(humanOutput, cfg.OutputDecimals)
	case quote.ExactOutput:
		outputAmount = fixedAmount
		humanOutput := toHuman(fixedAmount, cfg.OutputDecimals)
		effectivePrice := cfg.Price.Mul(one.Add(spread))
		humanInput := humanOutput.Div(effectivePrice)
		inputAmount = fromHumanCeil(humanInput, cfg.InputDecimals)
	default:
		return nil, nil, fmt.Errorf("pricing: unknown order type %d", orderType)
	}

	if outputAmount.Cmp(quote.MinOrder) < 0 {
		metrics.PricingRejects.WithLabelValues("below_minimum_order").Inc()
		return nil, nil, fmt.Errorf("pricing: outputAmount below protocol minimum")
	}

	if !cfg.MaxUSDNotional.IsZero() {
		humanInput := toHuman(inputAmount, cfg.InputDecimals)
		notional := humanInput.Mul(cfg.USDPerInputUnit)
		if notional.GreaterThan(cfg.MaxUSDNotional) {
			metrics.PricingRejects.WithLabelValues("usd_ceiling").Inc()
			return nil, nil, fmt.Errorf("pricing: notional %s exceeds USD ceiling %s", notional.String(), cfg.MaxUSDNotional.String())
		}
	}

	return inputAmount, outputAmount, nil
}

func toHuman(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func fromHumanFloor(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).Floor().BigInt()
}

func fromHumanCeil(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).Ceil().BigInt()
}
