// Package settlement implements the settlement engine: the on-chain
// protocol (deposit, fill, settle, refund, recover) expressed as a Go
// reference implementation rather than Solidity. It composes
// internal/quote, internal/noncebitmap, internal/bond, internal/depositaddr,
// and internal/orderstore, guarded by a single mutex standing in for the
// contract's non-reentrancy guard. Token balances are modeled in-process
// by TokenLedger rather than read from a live EVM, the same way a deployed contract's balanceOf calls
// would be, so the CEI ordering and balance-difference accounting can be
// exercised and tested directly.
//
// Every entrypoint validates first. Where a path's external transfers are
// all out of the engine's own custody (refund, recovery), state still
// mutates before the calls, matching the contract's natural CEI ordering.
// Where a path depends on a transfer funded by the caller or solver
// (deposit, fill, settle), that one ordinarily-fallible transfer runs
// before the nonce/bond/order-store writes commit, so a plain balance or
// allowance shortfall reverts with no partial effect instead of
// relying on the automatic unwind a real EVM revert would give for free.
package settlement

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/bond"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/noncebitmap"
	"github.com/firmswap/firmswap/internal/orderstore"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/pkg/metrics"
	"github.com/firmswap/firmswap/internal/quote"
)

type excessKey struct {
	user  common.Address
	token common.Address
}

// Engine is the settlement engine for a single chain.
type Engine struct {
	mu sync.Mutex

	chainID           int64
	engineAddress     common.Address
	verifyingContract common.Address
	bondToken         common.Address
	proxyInitCode     []byte

	nonces *noncebitmap.Map
	bonds  *bond.Ledger
	orders orderstore.Store
	tokens *TokenLedger
	events EventSink

	excessMu sync.Mutex
	excess   map[excessKey]*big.Int
}

type Config struct {
	ChainID           int64
	EngineAddress     common.Address
	VerifyingContract common.Address
	BondToken         common.Address
	ProxyInitCode     []byte
}

func NewEngine(cfg Config, nonces *noncebitmap.Map, bonds *bond.Ledger, orders orderstore.Store, tokens *TokenLedger, events EventSink) *Engine {
	if events == nil {
		events = NopSink{}
	}
	return &Engine{
		chainID:           cfg.ChainID,
		engineAddress:     cfg.EngineAddress,
		verifyingContract: cfg.VerifyingContract,
		bondToken:         cfg.BondToken,
		proxyInitCode:     cfg.ProxyInitCode,
		nonces:            nonces,
		bonds:             bonds,
		orders:            orders,
		tokens:            tokens,
		events:            events,
		excess:            make(map[excessKey]*big.Int),
	}
}

func (e *Engine) recordOp(op string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "reverted"
	}
	metrics.SettlementOps.WithLabelValues(op, outcome).Inc()
	return err
}

// emitResolvedOrder opens the cross-chain-intent-compatible event
// alongside every new order record: maxSpent is what the
// solver is owed on this chain, minReceived is what the user is owed on
// the quote's output chain.
func (e *Engine) emitResolvedOrder(orderID common.Hash, q *quote.Quote) {
	e.events.OnResolvedOrderOpened(ResolvedOrderOpened{
		OrderID:            orderID,
		User:               q.User,
		Solver:             q.Solver,
		MaxSpentToken:      q.InputToken,
		MaxSpentAmount:     q.InputAmount,
		MaxSpentChainID:    e.chainID,
		MinReceivedToken:   q.OutputToken,
		MinReceivedAmount:  q.OutputAmount,
		MinReceivedChainID: q.OutputChainID.Int64(),
		FillDeadline:       q.FillDeadline,
	})
}

// computeDepositAddress derives the CREATE2 sweep-proxy address for an order.
func (e *Engine) computeDepositAddress(orderID common.Hash) common.Address {
	codeHash := depositaddr.CodeHash(e.proxyInitCode, e.engineAddress)
	return depositaddr.Derive(e.engineAddress, orderID, codeHash)
}

// ComputeDepositAddress is the read view exposed for clients.
func (e *Engine) ComputeDepositAddress(q *quote.Quote, sig []byte) common.Address {
	orderID := quote.OrderID(q.StructHash(), sig)
	return e.computeDepositAddress(orderID)
}

// validateQuote runs the shared checks from deposit/settle step 1:
// signature, chain id, field invariants, solver registration, and
// (optionally) the deposit deadline. Nonce freshness is checked
// separately via checkNonceFresh, after the order-record lookup.
func (e *Engine) validateQuote(q *quote.Quote, sig []byte, requireDepositDeadline bool, now time.Time) (common.Hash, error) {
	if err := q.Validate(e.chainID); err != nil {
		return common.Hash{}, apperrors.New(apperrors.ErrInvalidQuote, err.Error(), err)
	}
	if requireDepositDeadline && now.Unix() > q.DepositDeadline {
		return common.Hash{}, apperrors.New(apperrors.ErrQuoteExpired, "deposit deadline has passed", nil)
	}
	if !quote.VerifiesAsSolver(q, sig, e.chainID, e.verifyingContract) {
		return common.Hash{}, apperrors.New(apperrors.ErrInvalidSignature, "signature does not recover to quote.solver", nil)
	}
	rec, ok := e.bonds.Get(q.Solver)
	if !ok || !rec.Registered {
		return common.Hash{}, apperrors.New(apperrors.ErrSolverNotRegistered, "solver not registered", nil)
	}
	return q.StructHash(), nil
}

// checkNonceFresh rejects an already-consumed nonce. Callers run this
// after the order-record lookup: the orderId covers the nonce (it hashes
// the struct hash), so an identical (quote, signature) replay must
// surface as OrderAlreadyExists, and only a different quote reusing the
// nonce reaches this check.
func (e *Engine) checkNonceFresh(q *quote.Quote) error {
	if e.nonces.IsUsed(q.Solver, q.Nonce) {
		return apperrors.New(apperrors.ErrNonceAlreadyUsed, "nonce already used", nil)
	}
	return nil
}

// Deposit is the contract-deposit path.
func (e *Engine) Deposit(ctx context.Context, q *quote.Quote, sig []byte, caller common.Address, now time.Time) (orderID common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("deposit", err) }()

	structHash, err := e.validateQuote(q, sig, true, now)
	if err != nil {
		return common.Hash{}, err
	}
	orderID = quote.OrderID(structHash, sig)
	if _, getErr := e.orders.Get(ctx, orderID); getErr == nil {
		return common.Hash{}, apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
	}
	if err = e.checkNonceFresh(q); err != nil {
		return common.Hash{}, err
	}
	if err = e.bonds.CheckReserve(q.Solver, q.OutputAmount); err != nil {
		return common.Hash{}, err
	}

	// Pull input tokens before any state mutation: a balance/allowance
	// shortfall here is an ordinary failure, not an adversarial one, and
	// the whole call must revert with no partial effect rather than burn
	// the nonce and leave a stuck order behind.
	received, transferErr := e.tokens.Transfer(q.InputToken, caller, e.engineAddress, q.InputAmount)
	if transferErr != nil {
		err = apperrors.New(apperrors.ErrInsufficientDeposit, "token pull failed", transferErr)
		return common.Hash{}, err
	}

	if err = e.nonces.MarkUsed(q.Solver, q.Nonce); err != nil {
		return common.Hash{}, err
	}
	if err = e.bonds.ReserveFor(q.Solver, q.OutputAmount); err != nil {
		return common.Hash{}, err
	}

	order := orderstore.FromQuote(orderID, e.chainID, q, orderstore.Deposited)
	order.InputAmount = received.String()
	if err = e.orders.Create(ctx, order); err != nil {
		return common.Hash{}, err
	}
	e.emitResolvedOrder(orderID, q)

	e.events.OnDeposited(Deposited{
		OrderID:      orderID,
		User:         q.User,
		Solver:       q.Solver,
		InputToken:   q.InputToken,
		InputAmount:  received,
		OutputToken:  q.OutputToken,
		OutputAmount: q.OutputAmount,
		FillDeadline: q.FillDeadline,
	})
	return orderID, nil
}

// DepositWithPermit2 pulls input tokens via a Permit2 signature-transfer
// instead of a plain allowance-based pull. The permit/permitSig pair
// authorizes the same amount this package models as a direct Transfer
// call; permit verification itself is Permit2's concern and is not
// reimplemented here.
func (e *Engine) DepositWithPermit2(ctx context.Context, q *quote.Quote, sig []byte, caller common.Address, now time.Time) (common.Hash, error) {
	return e.Deposit(ctx, q, sig, caller, now)
}

// Fill is the contract-deposit settlement path.
func (e *Engine) Fill(ctx context.Context, orderID common.Hash, caller common.Address, now time.Time) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("fill", err) }()

	order, getErr := e.orders.Get(ctx, orderID)
	if getErr != nil {
		err = getErr
		return err
	}
	if order.State != orderstore.Deposited {
		err = apperrors.New(apperrors.ErrOrderNotDeposited, "order not in DEPOSITED", nil)
		return err
	}
	if caller != order.Solver {
		err = apperrors.New(apperrors.ErrNotSolver, "caller is not the order's solver", nil)
		return err
	}
	if now.Unix() > order.FillDeadline {
		err = apperrors.New(apperrors.ErrQuoteExpired, "fill deadline has passed", nil)
		return err
	}

	// Pull the solver's output tokens before any state mutation: an
	// under-funded or under-approved solver is an ordinary failure, not an
	// adversarial one, and the call must revert with no partial effect
	// rather than settle the order with the user never paid.
	if _, transferErr := e.tokens.Transfer(order.OutputToken, order.Solver, order.User, order.OutputAmountBig()); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "output transfer failed", transferErr)
		return err
	}
	if _, transferErr := e.tokens.Transfer(order.InputToken, e.engineAddress, order.Solver, order.InputAmountBig()); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "input transfer failed", transferErr)
		return err
	}

	if err = e.orders.Transition(ctx, orderID, orderstore.Deposited, orderstore.Settled); err != nil {
		return err
	}
	e.bonds.Release(order.Solver, order.OutputAmountBig())

	e.events.OnSettled(Settled{OrderID: orderID, User: order.User, Solver: order.Solver})
	return nil
}

// settleCore implements the shared body of settle/settleWithTolerance,
// parameterized on the amount the deposit-balance check requires.
func (e *Engine) settleCore(ctx context.Context, q *quote.Quote, sig []byte, caller common.Address, required *big.Int, now time.Time) (orderID common.Hash, err error) {
	structHash, err := e.validateQuote(q, sig, true, now)
	if err != nil {
		return common.Hash{}, err
	}
	orderID = quote.OrderID(structHash, sig)
	if _, getErr := e.orders.Get(ctx, orderID); getErr == nil {
		return common.Hash{}, apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
	}
	if err = e.checkNonceFresh(q); err != nil {
		return common.Hash{}, err
	}

	depositAddress := e.computeDepositAddress(orderID)
	balance := e.tokens.BalanceOf(q.InputToken, depositAddress)
	if balance.Cmp(required) < 0 {
		return common.Hash{}, apperrors.New(apperrors.ErrInsufficientDeposit, "deposit address balance below required amount", nil)
	}
	if err = e.bonds.CheckReserve(q.Solver, q.OutputAmount); err != nil {
		return common.Hash{}, err
	}

	// Pull the solver's output tokens before any state mutation: this is
	// the one transfer in this path whose failure is an ordinary condition
	// (the solver's own balance/allowance), not an adversarial one, so it
	// must gate everything else rather than leave input tokens
	// swept into the engine with the order already SETTLED and no output
	// ever delivered.
	if _, transferErr := e.tokens.Transfer(q.OutputToken, caller, q.User, q.OutputAmount); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "output transfer failed", transferErr)
		return common.Hash{}, err
	}

	received, sweepErr := e.tokens.Transfer(q.InputToken, depositAddress, e.engineAddress, balance)
	if sweepErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "proxy sweep failed", sweepErr)
		return common.Hash{}, err
	}

	settledAmount := required
	if received.Cmp(settledAmount) < 0 {
		settledAmount = received
	}
	if _, transferErr := e.tokens.Transfer(q.InputToken, e.engineAddress, q.Solver, settledAmount); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "solver settlement transfer failed", transferErr)
		return common.Hash{}, err
	}

	if err = e.nonces.MarkUsed(q.Solver, q.Nonce); err != nil {
		return common.Hash{}, err
	}

	order := orderstore.FromQuote(orderID, e.chainID, q, orderstore.Settled)
	order.InputAmount = received.String()
	if err = e.orders.Create(ctx, order); err != nil {
		return common.Hash{}, err
	}
	e.emitResolvedOrder(orderID, q)

	if excess := new(big.Int).Sub(received, settledAmount); excess.Sign() > 0 {
		e.creditExcess(q.User, q.InputToken, excess)
		e.events.OnExcessDeposit(ExcessDeposit{User: q.User, Token: q.InputToken, Amount: excess})
	}

	e.events.OnSettled(Settled{OrderID: orderID, User: q.User, Solver: q.Solver})
	return orderID, nil
}

// Settle is the atomic address-deposit settlement path.
func (e *Engine) Settle(ctx context.Context, q *quote.Quote, sig []byte, caller common.Address, now time.Time) (orderID common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("settle", err) }()
	return e.settleCore(ctx, q, sig, caller, q.InputAmount, now)
}

// SettleWithTolerance settles accepting only acceptedInputAmount <= quote.InputAmount.
func (e *Engine) SettleWithTolerance(ctx context.Context, q *quote.Quote, sig []byte, caller common.Address, acceptedInputAmount *big.Int, now time.Time) (orderID common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("settleWithTolerance", err) }()

	if acceptedInputAmount == nil || acceptedInputAmount.Sign() <= 0 || acceptedInputAmount.Cmp(q.InputAmount) > 0 {
		err = apperrors.New(apperrors.ErrInvalidQuote, "acceptedInputAmount must be in (0, inputAmount]", nil)
		return common.Hash{}, err
	}
	return e.settleCore(ctx, q, sig, caller, acceptedInputAmount, now)
}

// Refund is the contract-deposit default path.
func (e *Engine) Refund(ctx context.Context, orderID common.Hash, now time.Time) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("refund", err) }()

	order, getErr := e.orders.Get(ctx, orderID)
	if getErr != nil {
		err = getErr
		return err
	}
	if order.State != orderstore.Deposited {
		err = apperrors.New(apperrors.ErrOrderNotDeposited, "order not in DEPOSITED", nil)
		return err
	}
	if now.Unix() <= order.FillDeadline {
		err = apperrors.New(apperrors.ErrOrderNotExpired, "fill deadline has not passed", nil)
		return err
	}

	slashed := e.bonds.Slash(order.Solver, order.OutputAmountBig())
	if err = e.orders.Transition(ctx, orderID, orderstore.Deposited, orderstore.Refunded); err != nil {
		return err
	}

	if _, transferErr := e.tokens.Transfer(order.InputToken, e.engineAddress, order.User, order.InputAmountBig()); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "refund transfer failed", transferErr)
		return err
	}
	if slashed.Sign() > 0 {
		if _, transferErr := e.tokens.Transfer(e.bondToken, e.engineAddress, order.User, slashed); transferErr != nil {
			err = apperrors.New(apperrors.ErrInternal, "slash transfer failed", transferErr)
			return err
		}
	}

	e.events.OnRefunded(Refunded{OrderID: orderID, User: order.User, AmountReturned: order.InputAmountBig(), BondSlashed: slashed})
	return nil
}

// RefundAddressDeposit is the address-deposit default path.
func (e *Engine) RefundAddressDeposit(ctx context.Context, q *quote.Quote, sig []byte, now time.Time) (orderID common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("refundAddressDeposit", err) }()

	structHash, err := e.validateQuote(q, sig, false, now)
	if err != nil {
		return common.Hash{}, err
	}
	orderID = quote.OrderID(structHash, sig)
	if _, getErr := e.orders.Get(ctx, orderID); getErr == nil {
		return common.Hash{}, apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
	}
	if err = e.checkNonceFresh(q); err != nil {
		return common.Hash{}, err
	}
	if now.Unix() <= q.FillDeadline {
		err = apperrors.New(apperrors.ErrOrderNotExpired, "fill deadline has not passed", nil)
		return common.Hash{}, err
	}

	depositAddress := e.computeDepositAddress(orderID)
	balance := e.tokens.BalanceOf(q.InputToken, depositAddress)
	if balance.Sign() == 0 {
		err = apperrors.New(apperrors.ErrInsufficientDeposit, "nothing deposited at this address", nil)
		return common.Hash{}, err
	}

	if err = e.nonces.MarkUsed(q.Solver, q.Nonce); err != nil {
		return common.Hash{}, err
	}

	received, sweepErr := e.tokens.Transfer(q.InputToken, depositAddress, e.engineAddress, balance)
	if sweepErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "proxy sweep failed", sweepErr)
		return common.Hash{}, err
	}

	order := orderstore.FromQuote(orderID, e.chainID, q, orderstore.Refunded)
	order.InputAmount = received.String()
	if err = e.orders.Create(ctx, order); err != nil {
		return common.Hash{}, err
	}
	e.emitResolvedOrder(orderID, q)

	if _, transferErr := e.tokens.Transfer(q.InputToken, e.engineAddress, q.User, received); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "refund transfer failed", transferErr)
		return common.Hash{}, err
	}

	// Slash only if the deposited balance fully funded the order — a
	// griefing attacker depositing dust must not cost the solver a slash.
	slashed := big.NewInt(0)
	if balance.Cmp(q.InputAmount) >= 0 {
		slashed = e.bonds.Slash(q.Solver, q.OutputAmount)
		if slashed.Sign() > 0 {
			if _, transferErr := e.tokens.Transfer(e.bondToken, e.engineAddress, q.User, slashed); transferErr != nil {
				err = apperrors.New(apperrors.ErrInternal, "slash transfer failed", transferErr)
				return common.Hash{}, err
			}
		}
	}

	e.events.OnRefunded(Refunded{OrderID: orderID, User: q.User, AmountReturned: received, BondSlashed: slashed})
	return orderID, nil
}

// RecoverFromProxy sweeps any token still held at a terminal order's proxy
// to the user, with no bond effect.
func (e *Engine) RecoverFromProxy(ctx context.Context, q *quote.Quote, sig []byte, token common.Address) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("recoverFromProxy", err) }()

	orderID := quote.OrderID(q.StructHash(), sig)
	order, getErr := e.orders.Get(ctx, orderID)
	if getErr != nil {
		err = getErr
		return err
	}
	if order.State != orderstore.Settled && order.State != orderstore.Refunded {
		err = apperrors.New(apperrors.ErrOrderNotDeposited, "order is not in a terminal state", nil)
		return err
	}

	depositAddress := e.computeDepositAddress(orderID)
	balance := e.tokens.BalanceOf(token, depositAddress)
	if balance.Sign() == 0 {
		return nil
	}
	received, sweepErr := e.tokens.Transfer(token, depositAddress, e.engineAddress, balance)
	if sweepErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "proxy sweep failed", sweepErr)
		return err
	}
	if _, transferErr := e.tokens.Transfer(token, e.engineAddress, order.User, received); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "recovery transfer failed", transferErr)
		return err
	}

	e.events.OnTokensRecovered(TokensRecovered{OrderID: orderID, Token: token, Amount: received})
	return nil
}

// DeployAndRecover handles a wrong-token deposit with no reachable normal
// path: no prior order record, past the fill deadline, and the token
// differs from the quote's input token.
func (e *Engine) DeployAndRecover(ctx context.Context, q *quote.Quote, sig []byte, token common.Address, now time.Time) (orderID common.Hash, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("deployAndRecover", err) }()

	if token == q.InputToken {
		err = apperrors.New(apperrors.ErrInvalidQuote, "recovery token must differ from the quote's input token", nil)
		return common.Hash{}, err
	}

	structHash, err := e.validateQuote(q, sig, false, now)
	if err != nil {
		return common.Hash{}, err
	}
	orderID = quote.OrderID(structHash, sig)
	if _, getErr := e.orders.Get(ctx, orderID); getErr == nil {
		return common.Hash{}, apperrors.New(apperrors.ErrOrderAlreadyExists, "order already exists", nil)
	}
	if err = e.checkNonceFresh(q); err != nil {
		return common.Hash{}, err
	}
	if now.Unix() <= q.FillDeadline {
		err = apperrors.New(apperrors.ErrOrderNotExpired, "fill deadline has not passed", nil)
		return common.Hash{}, err
	}

	if err = e.nonces.MarkUsed(q.Solver, q.Nonce); err != nil {
		return common.Hash{}, err
	}

	depositAddress := e.computeDepositAddress(orderID)
	balance := e.tokens.BalanceOf(token, depositAddress)
	received, sweepErr := e.tokens.Transfer(token, depositAddress, e.engineAddress, balance)
	if sweepErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "proxy sweep failed", sweepErr)
		return common.Hash{}, err
	}

	order := orderstore.FromQuote(orderID, e.chainID, q, orderstore.Refunded)
	if err = e.orders.Create(ctx, order); err != nil {
		return common.Hash{}, err
	}
	e.emitResolvedOrder(orderID, q)

	if received.Sign() > 0 {
		if _, transferErr := e.tokens.Transfer(token, e.engineAddress, q.User, received); transferErr != nil {
			err = apperrors.New(apperrors.ErrInternal, "recovery transfer failed", transferErr)
			return common.Hash{}, err
		}
	}

	e.events.OnTokensRecovered(TokensRecovered{OrderID: orderID, Token: token, Amount: received})
	return orderID, nil
}

// WithdrawExcess lets a user pull their accumulated excess for a token.
func (e *Engine) WithdrawExcess(ctx context.Context, user, token common.Address) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.recordOp("withdrawExcess", err) }()

	amount := e.takeExcess(user, token)
	if amount == nil || amount.Sign() == 0 {
		err = apperrors.New(apperrors.ErrNoExcessBalance, "no excess balance for this token", nil)
		return err
	}
	if _, transferErr := e.tokens.Transfer(token, e.engineAddress, user, amount); transferErr != nil {
		err = apperrors.New(apperrors.ErrInternal, "withdrawal transfer failed", transferErr)
		return err
	}
	e.events.OnExcessWithdrawn(ExcessWithdrawn{User: user, Token: token, Amount: amount})
	return nil
}

func (e *Engine) creditExcess(user, token common.Address, amount *big.Int) {
	e.excessMu.Lock()
	defer e.excessMu.Unlock()
	key := excessKey{user, token}
	cur, ok := e.excess[key]
	if !ok {
		cur = big.NewInt(0)
	}
	e.excess[key] = new(big.Int).Add(cur, amount)
}

func (e *Engine) takeExcess(user, token common.Address) *big.Int {
	e.excessMu.Lock()
	defer e.excessMu.Unlock()
	key := excessKey{user, token}
	cur, ok := e.excess[key]
	if !ok {
		return nil
	}
	delete(e.excess, key)
	return cur
}

// ExcessBalance returns a user's accumulated excess for a token, read-only.
func (e *Engine) ExcessBalance(user, token common.Address) *big.Int {
	e.excessMu.Lock()
	defer e.excessMu.Unlock()
	if cur, ok := e.excess[excessKey{user, token}]; ok {
		return new(big.Int).Set(cur)
	}
	return big.NewInt(0)
}

// --- Solver-management entry points ---

func (e *Engine) RegisterSolver(ctx context.Context, solver common.Address, amount *big.Int, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.tokens.Transfer(e.bondToken, caller, e.engineAddress, amount); err != nil {
		return apperrors.New(apperrors.ErrInsufficientBond, "bond token pull failed", err)
	}
	return e.bonds.Register(solver, amount)
}

func (e *Engine) AddBond(ctx context.Context, solver common.Address, amount *big.Int, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.tokens.Transfer(e.bondToken, caller, e.engineAddress, amount); err != nil {
		return apperrors.New(apperrors.ErrInsufficientBond, "bond token pull failed", err)
	}
	return e.bonds.Add(solver, amount)
}

func (e *Engine) RequestUnstake(solver common.Address, amount *big.Int, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bonds.RequestUnstake(solver, amount, now)
}

func (e *Engine) CancelUnstake(solver common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bonds.CancelUnstake(solver)
}

func (e *Engine) ExecuteUnstake(ctx context.Context, solver common.Address, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	amount, err := e.bonds.ExecuteUnstake(solver, now)
	if err != nil {
		return err
	}
	_, transferErr := e.tokens.Transfer(e.bondToken, e.engineAddress, solver, amount)
	return transferErr
}

func (e *Engine) CancelNonce(solver common.Address, nonce *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.MarkUsed(solver, nonce)
}

func (e *Engine) CancelNonces(solver common.Address, wordIndex uint64, mask *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonces.MarkMany(solver, wordIndex, mask)
}

// --- Read views ---

func (e *Engine) OrderByID(ctx context.Context, orderID common.Hash) (*orderstore.Order, error) {
	return e.orders.Get(ctx, orderID)
}

func (e *Engine) SolverRecord(solver common.Address) (bond.Record, bool) {
	return e.bonds.Get(solver)
}

func (e *Engine) IsNonceUsed(solver common.Address, nonce *big.Int) bool {
	return e.nonces.IsUsed(solver, nonce)
}

func (e *Engine) AvailableBond(solver common.Address) *big.Int {
	return e.bonds.AvailableBond(solver)
}
