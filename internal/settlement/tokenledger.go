package settlement

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errInsufficientBalance = errors.New("settlement: insufficient balance for transfer")

// TokenLedger is an in-memory balance sheet for ERC-20-shaped balances,
// standing in for the real chain state a deployed settlement contract
// would read via eth_call. Transfer applies each token's configured
// transfer fee (if any) so callers can exercise the balance-difference
// accounting fee-on-transfer tokens demand without needing a live EVM.
type TokenLedger struct {
	mu        sync.Mutex
	balances  map[common.Address]map[common.Address]*big.Int // token -> holder -> balance
	feeBps    map[common.Address]int64                        // token -> transfer fee, bps
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		feeBps:   make(map[common.Address]int64),
	}
}

// SetTransferFeeBps configures a token to deduct feeBps/10000 on every
// transfer, simulating a fee-on-transfer token for tests.
func (l *TokenLedger) SetTransferFeeBps(token common.Address, feeBps int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeBps[token] = feeBps
}

// Credit mints balance out of nothing — used only to seed test fixtures
// and to model a user funding their own wallet before a deposit.
func (l *TokenLedger) Credit(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(token, holder, amount)
}

// BalanceOf returns holder's balance of token, zero if never credited.
func (l *TokenLedger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.getLocked(token, holder))
}

// Transfer moves amount of token from -> to, applying the token's transfer
// fee if configured, and returns the amount actually received by to (the
// balance-difference result callers must use instead of the nominal
// amount).
func (l *TokenLedger) Transfer(token, from, to common.Address, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.getLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return nil, errInsufficientBalance
	}

	before := new(big.Int).Set(l.getLocked(token, to))
	l.subLocked(token, from, amount)

	received := new(big.Int).Set(amount)
	if feeBps, ok := l.feeBps[token]; ok && feeBps > 0 {
		fee := new(big.Int).Mul(amount, big.NewInt(feeBps))
		fee.Div(fee, big.NewInt(10_000))
		received = new(big.Int).Sub(amount, fee)
	}
	l.addLocked(token, to, received)

	after := l.getLocked(token, to)
	return new(big.Int).Sub(after, before), nil
}

func (l *TokenLedger) addLocked(token, holder common.Address, amount *big.Int) {
	byHolder, ok := l.balances[token]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		l.balances[token] = byHolder
	}
	cur, ok := byHolder[holder]
	if !ok {
		cur = big.NewInt(0)
	}
	byHolder[holder] = new(big.Int).Add(cur, amount)
}

func (l *TokenLedger) subLocked(token, holder common.Address, amount *big.Int) {
	cur := l.getLocked(token, holder)
	l.balances[token][holder] = new(big.Int).Sub(cur, amount)
}

func (l *TokenLedger) getLocked(token, holder common.Address) *big.Int {
	byHolder, ok := l.balances[token]
	if !ok {
		return big.NewInt(0)
	}
	cur, ok := byHolder[holder]
	if !ok {
		return big.NewInt(0)
	}
	return cur
}
