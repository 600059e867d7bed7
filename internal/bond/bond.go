// Package bond implements the bond ledger: per-solver (total, reserved)
// accounting with a basis-points reservation rule and a
// timelocked unstake. Storage is a map-plus-mutex ledger; amounts here are
// 256-bit token quantities (math/big) rather than floating-point USD
// figures.
package bond

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
)

// ReservationBps is the fraction of an order's outputAmount held against
// that order while it is open.
const ReservationBps = 500

// UnstakeDelay is the timelock applied to a requested unstake.
const UnstakeDelay = 7 * 24 * time.Hour

// MinBond is the minimum totalBond a solver must carry to be registered,
// in the bond token's smallest unit.
var MinBond = big.NewInt(1_000_000_000)

var bpsDenominator = big.NewInt(10_000)

// Reserve computes reserve(outputAmount) = outputAmount * 500 / 10_000.
func Reserve(outputAmount *big.Int) *big.Int {
	r := new(big.Int).Mul(outputAmount, big.NewInt(ReservationBps))
	return r.Div(r, bpsDenominator)
}

// Record is one solver's bond state.
type Record struct {
	TotalBond         *big.Int
	ReservedBond      *big.Int
	Registered        bool
	PendingUnstake    bool
	UnstakeAmount     *big.Int
	UnstakeUnlockTime int64
}

func zeroRecord() *Record {
	return &Record{TotalBond: big.NewInt(0), ReservedBond: big.NewInt(0), UnstakeAmount: big.NewInt(0)}
}

// Ledger is the in-process BondLedger. Every state-changing method holds
// the same ledger-wide mutex; on-chain this is free (single transaction
// scope) and off-chain this is the required single-writer guarantee.
type Ledger struct {
	mu      sync.RWMutex
	records map[common.Address]*Record
}

func New() *Ledger {
	return &Ledger{records: make(map[common.Address]*Record)}
}

func (l *Ledger) recordFor(solver common.Address) *Record {
	r, ok := l.records[solver]
	if !ok {
		r = zeroRecord()
		l.records[solver] = r
	}
	return r
}

// Get returns a copy of solver's record and whether it exists.
func (l *Ledger) Get(solver common.Address) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[solver]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// AvailableBond = totalBond - reservedBond.
func (l *Ledger) AvailableBond(solver common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[solver]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(r.TotalBond, r.ReservedBond)
}

// Register transfers amount in as a solver's initial bond.
func (l *Ledger) Register(solver common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.recordFor(solver)
	if r.Registered {
		return apperrors.New(apperrors.ErrSolverAlreadyRegistered, "solver already registered", nil)
	}
	if amount.Cmp(MinBond) < 0 {
		return apperrors.New(apperrors.ErrBelowMinimumBond, "bond below MIN_BOND", nil)
	}

	r.TotalBond = new(big.Int).Set(amount)
	r.Registered = true
	return nil
}

// Add increases an already-registered solver's total bond.
func (l *Ledger) Add(solver common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[solver]
	if !ok || !r.Registered {
		return apperrors.New(apperrors.ErrSolverNotRegistered, "solver not registered", nil)
	}
	r.TotalBond = new(big.Int).Add(r.TotalBond, amount)
	return nil
}

// CheckReserve reports InsufficientBond without mutating state — used by
// the atomic address-deposit settle path, which checks rather than reserves.
func (l *Ledger) CheckReserve(solver common.Address, outputAmount *big.Int) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkReserveLocked(solver, outputAmount)
}

func (l *Ledger) checkReserveLocked(solver common.Address, outputAmount *big.Int) error {
	r, ok := l.records[solver]
	if !ok || !r.Registered {
		return apperrors.New(apperrors.ErrSolverNotRegistered, "solver not registered", nil)
	}
	available := new(big.Int).Sub(r.TotalBond, r.ReservedBond)
	if available.Cmp(Reserve(outputAmount)) < 0 {
		return apperrors.New(apperrors.ErrInsufficientBond, "insufficient available bond", nil)
	}
	return nil
}

// ReserveFor checks then increments reservedBond — used by the deposit path,
// which holds the reservation until fill or refund.
func (l *Ledger) ReserveFor(solver common.Address, outputAmount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkReserveLocked(solver, outputAmount); err != nil {
		return err
	}
	r := l.records[solver]
	r.ReservedBond = new(big.Int).Add(r.ReservedBond, Reserve(outputAmount))
	return nil
}

// Release decrements reservedBond by reserve(outputAmount), called after a
// successful fill.
func (l *Ledger) Release(solver common.Address, outputAmount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[solver]
	if !ok {
		return
	}
	r.ReservedBond = new(big.Int).Sub(r.ReservedBond, Reserve(outputAmount))
	if r.ReservedBond.Sign() < 0 {
		r.ReservedBond = big.NewInt(0)
	}
}

// Slash decrements totalBond (and reservedBond, clamped at zero) by
// min(reserve(outputAmount), totalBond); returns the amount actually slashed.
func (l *Ledger) Slash(solver common.Address, outputAmount *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[solver]
	if !ok {
		return big.NewInt(0)
	}

	want := Reserve(outputAmount)
	slashed := want
	if r.TotalBond.Cmp(want) < 0 {
		slashed = new(big.Int).Set(r.TotalBond)
	}

	r.TotalBond = new(big.Int).Sub(r.TotalBond, slashed)
	r.ReservedBond = new(big.Int).Sub(r.ReservedBond, slashed)
	if r.ReservedBond.Sign() < 0 {
		r.ReservedBond = big.NewInt(0)
	}
	return slashed
}

// RequestUnstake records a pending unstake, failing if one already exists,
// the available bond is insufficient, or the remainder would fall below
// MinBond.
func (l *Ledger) RequestUnstake(solver common.Address, amount *big.Int, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[solver]
	if !ok || !r.Registered {
		return apperrors.New(apperrors.ErrSolverNotRegistered, "solver not registered", nil)
	}
	if r.PendingUnstake {
		return apperrors.New(apperrors.ErrPendingUnstakeExists, "a pending unstake already exists", nil)
	}
	available := new(big.Int).Sub(r.TotalBond, r.ReservedBond)
	if available.Cmp(amount) < 0 {
		return apperrors.New(apperrors.ErrInsufficientBond, "insufficient available bond for unstake", nil)
	}
	remainder := new(big.Int).Sub(r.TotalBond, amount)
	if remainder.Cmp(MinBond) < 0 {
		return apperrors.New(apperrors.ErrBelowMinimumBond, "unstake would drop below MIN_BOND", nil)
	}

	r.PendingUnstake = true
	r.UnstakeAmount = new(big.Int).Set(amount)
	r.UnstakeUnlockTime = now.Add(UnstakeDelay).Unix()
	return nil
}

// CancelUnstake clears a pending unstake.
func (l *Ledger) CancelUnstake(solver common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[solver]
	if !ok || !r.PendingUnstake {
		return apperrors.New(apperrors.ErrNoPendingUnstake, "no pending unstake", nil)
	}
	r.PendingUnstake = false
	r.UnstakeAmount = big.NewInt(0)
	r.UnstakeUnlockTime = 0
	return nil
}

// ExecuteUnstake finalizes a matured unstake, decrementing totalBond.
func (l *Ledger) ExecuteUnstake(solver common.Address, now time.Time) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[solver]
	if !ok || !r.PendingUnstake {
		return nil, apperrors.New(apperrors.ErrNoPendingUnstake, "no pending unstake", nil)
	}
	if now.Unix() < r.UnstakeUnlockTime {
		return nil, apperrors.New(apperrors.ErrUnstakeNotReady, "unstake timelock has not elapsed", nil)
	}

	amount := r.UnstakeAmount
	r.TotalBond = new(big.Int).Sub(r.TotalBond, amount)
	r.PendingUnstake = false
	r.UnstakeAmount = big.NewInt(0)
	r.UnstakeUnlockTime = 0
	return amount, nil
}
