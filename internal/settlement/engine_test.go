package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/firmswap/firmswap/internal/bond"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/noncebitmap"
	"github.com/firmswap/firmswap/internal/orderstore"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures every emitted event so tests can assert on them
// without wiring a real transport, mirroring wsfeed's Message shape.
type recordingSink struct {
	deposited []Deposited
	settled   []Settled
	refunded  []Refunded
	recovered []TokensRecovered
	excess    []ExcessDeposit
	withdrawn []ExcessWithdrawn
	resolved  []ResolvedOrderOpened
}

func (s *recordingSink) OnDeposited(e Deposited)                     { s.deposited = append(s.deposited, e) }
func (s *recordingSink) OnSettled(e Settled)                         { s.settled = append(s.settled, e) }
func (s *recordingSink) OnRefunded(e Refunded)                       { s.refunded = append(s.refunded, e) }
func (s *recordingSink) OnTokensRecovered(e TokensRecovered)         { s.recovered = append(s.recovered, e) }
func (s *recordingSink) OnExcessDeposit(e ExcessDeposit)             { s.excess = append(s.excess, e) }
func (s *recordingSink) OnExcessWithdrawn(e ExcessWithdrawn)         { s.withdrawn = append(s.withdrawn, e) }
func (s *recordingSink) OnResolvedOrderOpened(e ResolvedOrderOpened) { s.resolved = append(s.resolved, e) }

const testChainID = int64(1)

var (
	engineAddress     = common.HexToAddress("0xE000000000000000000000000000000000000E")
	verifyingContract = common.HexToAddress("0xC000000000000000000000000000000000000C")
	bondToken         = common.HexToAddress("0xB000000000000000000000000000000000000B")
	inputToken        = common.HexToAddress("0x1111111111111111111111111111111111111A")
	outputToken       = common.HexToAddress("0x2222222222222222222222222222222222222B")
)

// testSolver bundles a signing key with its on-chain address so tests can
// sign quotes and register the same address as a bonded solver.
type testSolver struct {
	key     *quote.Signer
	address common.Address
}

func newTestSolver(t *testing.T) testSolver {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]
	signer, err := quote.NewSigner(keyHex, testChainID, verifyingContract)
	require.NoError(t, err)
	return testSolver{key: signer, address: signer.Address()}
}

type testHarness struct {
	engine *Engine
	tokens *TokenLedger
	bonds  *bond.Ledger
	sink   *recordingSink
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	tokens := NewTokenLedger()
	bonds := bond.New()
	sink := &recordingSink{}
	engine := NewEngine(Config{
		ChainID:           testChainID,
		EngineAddress:     engineAddress,
		VerifyingContract: verifyingContract,
		BondToken:         bondToken,
		ProxyInitCode:     depositaddr.ProxyInitCode,
	}, noncebitmap.New(), bonds, orderstore.NewMemoryStore(), tokens, sink)
	return &testHarness{engine: engine, tokens: tokens, bonds: bonds, sink: sink}
}

// registerSolver funds and registers solver with the minimum bond.
func (h *testHarness) registerSolver(t *testing.T, ctx context.Context, solver common.Address) {
	t.Helper()
	h.tokens.Credit(bondToken, solver, bond.MinBond)
	require.NoError(t, h.engine.RegisterSolver(ctx, solver, bond.MinBond, solver))
}

func sampleQuote(solver, user common.Address, orderType quote.OrderType, now time.Time) *quote.Quote {
	return &quote.Quote{
		Solver:          solver,
		User:            user,
		InputToken:      inputToken,
		InputAmount:     big.NewInt(1_000_000_000),
		OutputToken:     outputToken,
		OutputAmount:    big.NewInt(200_000_000),
		OrderType:       orderType,
		OutputChainID:   big.NewInt(testChainID),
		DepositDeadline: now.Unix() + 300,
		FillDeadline:    now.Unix() + 600,
		Nonce:           big.NewInt(1),
	}
}

// --- S1: happy-path contract deposit + fill (EXACT_OUTPUT) ---

func TestScenario1_DepositAndFillHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0xAAAA000000000000000000000000000000000A")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	h.tokens.Credit(inputToken, user, q.InputAmount)

	orderID, err := h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)

	reserved := bond.Reserve(q.OutputAmount)
	rec, ok := h.bonds.Get(solver.address)
	require.True(t, ok)
	assert.Equal(t, 0, rec.ReservedBond.Cmp(reserved), "output reserved at deposit time")
	assert.True(t, rec.ReservedBond.Cmp(rec.TotalBond) <= 0, "reservedBond must never exceed totalBond")

	require.Len(t, h.sink.deposited, 1)
	require.Len(t, h.sink.resolved, 1)
	assert.Equal(t, orderID, h.sink.resolved[0].OrderID)

	h.tokens.Credit(outputToken, solver.address, q.OutputAmount)
	require.NoError(t, h.engine.Fill(ctx, orderID, solver.address, now))

	rec, _ = h.bonds.Get(solver.address)
	assert.Equal(t, 0, rec.ReservedBond.Sign(), "reservation released after fill")
	assert.Equal(t, 0, h.tokens.BalanceOf(outputToken, user).Cmp(q.OutputAmount))
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, solver.address).Cmp(q.InputAmount))

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Settled, order.State)

	require.Len(t, h.sink.settled, 1)
	assert.Equal(t, orderID, h.sink.settled[0].OrderID)
}

// --- S3: refund after default slashes the solver's bond ---

func TestScenario3_RefundAfterDefaultSlashesBond(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x3333000000000000000000000000000000003C")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	h.tokens.Credit(inputToken, user, q.InputAmount)
	orderID, err := h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)

	recBefore, _ := h.bonds.Get(solver.address)

	past := now.Add(time.Duration(q.FillDeadline-now.Unix()+1) * time.Second)
	require.NoError(t, h.engine.Refund(ctx, orderID, past))

	recAfter, _ := h.bonds.Get(solver.address)
	assert.True(t, recAfter.TotalBond.Cmp(recBefore.TotalBond) < 0, "total bond decreases on slash")
	assert.Equal(t, 0, recAfter.ReservedBond.Sign(), "reservation cleared on refund")

	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, user).Cmp(q.InputAmount), "user gets input back")
	slashed := new(big.Int).Sub(recBefore.TotalBond, recAfter.TotalBond)
	assert.True(t, slashed.Sign() > 0)
	assert.Equal(t, 0, h.tokens.BalanceOf(bondToken, user).Cmp(slashed), "slashed bond paid to user")

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Refunded, order.State)
	require.Len(t, h.sink.refunded, 1)
	assert.Equal(t, 0, h.sink.refunded[0].BondSlashed.Cmp(slashed))

	// terminal-state irreversibility: a second refund must fail.
	err = h.engine.Refund(ctx, orderID, past)
	require.Error(t, err)
}

// --- S4: address-deposit settle with excess, followed by withdrawal ---

func TestScenario4_SettleAddressDepositWithExcessWithdrawal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x4444000000000000000000000000000000004D")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactInput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	depositAddress := h.engine.ComputeDepositAddress(q, sig)
	excess := big.NewInt(12_345)
	deposited := new(big.Int).Add(q.InputAmount, excess)
	h.tokens.Credit(inputToken, depositAddress, deposited)
	h.tokens.Credit(outputToken, solver.address, q.OutputAmount)

	orderID, err := h.engine.Settle(ctx, q, sig, solver.address, now)
	require.NoError(t, err)

	assert.Equal(t, 0, h.tokens.BalanceOf(outputToken, user).Cmp(q.OutputAmount))
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, solver.address).Cmp(q.InputAmount))
	assert.Equal(t, 0, h.engine.ExcessBalance(user, inputToken).Cmp(excess))
	require.Len(t, h.sink.excess, 1)

	require.NoError(t, h.engine.WithdrawExcess(ctx, user, inputToken))
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, user).Cmp(excess))
	assert.Equal(t, 0, h.engine.ExcessBalance(user, inputToken).Sign(), "excess cleared after withdrawal")

	// a second withdrawal with nothing left must fail.
	err = h.engine.WithdrawExcess(ctx, user, inputToken)
	require.Error(t, err)

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Settled, order.State)
}

func TestSettleWithToleranceAcceptsPartialDeposit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0xDDDD000000000000000000000000000000004D")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactInput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	accepted := new(big.Int).Sub(q.InputAmount, big.NewInt(50_000))
	depositAddress := h.engine.ComputeDepositAddress(q, sig)
	h.tokens.Credit(inputToken, depositAddress, accepted)
	h.tokens.Credit(outputToken, solver.address, q.OutputAmount)

	// the plain settle path must reject: deposit below quote.inputAmount.
	_, err = h.engine.Settle(ctx, q, sig, solver.address, now)
	require.Error(t, err)

	orderID, err := h.engine.SettleWithTolerance(ctx, q, sig, solver.address, accepted, now)
	require.NoError(t, err)

	assert.Equal(t, 0, h.tokens.BalanceOf(outputToken, user).Cmp(q.OutputAmount), "user still receives the full output amount")
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, solver.address).Cmp(accepted))

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Settled, order.State)

	// accepted amounts outside (0, inputAmount] are invalid.
	q2 := sampleQuote(solver.address, user, quote.ExactInput, now)
	q2.Nonce = big.NewInt(2)
	sig2, err := solver.key.Sign(q2)
	require.NoError(t, err)
	tooMuch := new(big.Int).Add(q2.InputAmount, big.NewInt(1))
	_, err = h.engine.SettleWithTolerance(ctx, q2, sig2, solver.address, tooMuch, now)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrInvalidQuote, appErr.Type)
}

func TestDeployAndRecoverSweepsWrongToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0xEEEE000000000000000000000000000000005D")
	wrongToken := common.HexToAddress("0x9999999999999999999999999999999999999D")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)
	recBefore, _ := h.bonds.Get(solver.address)

	q := sampleQuote(solver.address, user, quote.ExactInput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	depositAddress := h.engine.ComputeDepositAddress(q, sig)
	stranded := big.NewInt(777)
	h.tokens.Credit(wrongToken, depositAddress, stranded)

	// recovering the quote's own input token via this path is invalid.
	past := now.Add(time.Duration(q.FillDeadline-now.Unix()+1) * time.Second)
	_, err = h.engine.DeployAndRecover(ctx, q, sig, inputToken, past)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrInvalidQuote, appErr.Type)

	// before the fill deadline the path is unreachable.
	_, err = h.engine.DeployAndRecover(ctx, q, sig, wrongToken, now)
	require.Error(t, err)

	orderID, err := h.engine.DeployAndRecover(ctx, q, sig, wrongToken, past)
	require.NoError(t, err)

	assert.Equal(t, 0, h.tokens.BalanceOf(wrongToken, user).Cmp(stranded), "stranded token swept to user")
	recAfter, _ := h.bonds.Get(solver.address)
	assert.Equal(t, 0, recBefore.TotalBond.Cmp(recAfter.TotalBond), "wrong-token recovery must not slash")

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Refunded, order.State)
	assert.True(t, h.engine.IsNonceUsed(solver.address, q.Nonce), "recovery consumes the nonce")
	require.Len(t, h.sink.recovered, 1)
}

// --- S5: griefing protection on dust address deposits ---

func TestScenario5_RefundAddressDepositDustCausesNoSlash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x5555000000000000000000000000000000005E")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)
	recBefore, _ := h.bonds.Get(solver.address)

	q := sampleQuote(solver.address, user, quote.ExactInput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	depositAddress := h.engine.ComputeDepositAddress(q, sig)
	dust := big.NewInt(1)
	h.tokens.Credit(inputToken, depositAddress, dust)

	past := now.Add(time.Duration(q.FillDeadline-now.Unix()+1) * time.Second)
	orderID, err := h.engine.RefundAddressDeposit(ctx, q, sig, past)
	require.NoError(t, err)

	recAfter, _ := h.bonds.Get(solver.address)
	assert.Equal(t, 0, recBefore.TotalBond.Cmp(recAfter.TotalBond), "dust deposit must not cost the solver a slash")
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, user).Cmp(dust))

	require.Len(t, h.sink.refunded, 1)
	assert.Equal(t, 0, h.sink.refunded[0].BondSlashed.Sign(), "no slash recorded")

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Refunded, order.State)
}

// --- S6: replay rejection ---

func TestScenario6_ReplayRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x6666000000000000000000000000000000006F")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	h.tokens.Credit(inputToken, user, new(big.Int).Mul(q.InputAmount, big.NewInt(2)))

	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)

	// an identical (quote, signature) replay derives the same orderId, so
	// the existing record rejects it before the nonce check runs.
	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrOrderAlreadyExists, appErr.Type)

	// same nonce, different quote content must also be rejected for nonce reuse.
	q2 := sampleQuote(solver.address, user, quote.ExactOutput, now)
	q2.OutputAmount = big.NewInt(250_000_000)
	sig2, err := solver.key.Sign(q2)
	require.NoError(t, err)

	_, err = h.engine.Deposit(ctx, q2, sig2, user, now)
	require.Error(t, err)
	appErr2, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrNonceAlreadyUsed, appErr2.Type)
}

// --- universal invariants ---

func TestInvariant_AvailableBondEqualsTotalMinusReserved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x7777000000000000000000000000000000007A")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)
	h.tokens.Credit(inputToken, user, q.InputAmount)

	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)

	rec, ok := h.bonds.Get(solver.address)
	require.True(t, ok)
	want := new(big.Int).Sub(rec.TotalBond, rec.ReservedBond)
	assert.Equal(t, 0, want.Cmp(h.engine.AvailableBond(solver.address)))
}

// --- atomicity: a failing token transfer must leave no partial state ---

func TestDepositRevertsNonceAndOrderOnInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x9999000000000000000000000000000000009C")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)
	// user never funded: the input-token pull must fail.

	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.Error(t, err)

	assert.False(t, h.engine.IsNonceUsed(solver.address, q.Nonce), "a failed deposit must not consume the nonce")
	assert.Equal(t, 0, h.bonds.AvailableBond(solver.address).Cmp(bond.MinBond), "a failed deposit must not reserve bond")

	orderID := quote.OrderID(q.StructHash(), sig)
	_, err = h.engine.OrderByID(ctx, orderID)
	require.Error(t, err, "a failed deposit must not leave an order record behind")

	// the nonce must still be usable: retrying after funding the user succeeds.
	h.tokens.Credit(inputToken, user, q.InputAmount)
	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)
}

func TestFillRevertsOrderStateWhenSolverCannotPayOutput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	h.tokens.Credit(inputToken, user, q.InputAmount)
	orderID, err := h.engine.Deposit(ctx, q, sig, user, now)
	require.NoError(t, err)

	recBefore, _ := h.bonds.Get(solver.address)

	// solver never funded its output-token balance: fill must revert.
	err = h.engine.Fill(ctx, orderID, solver.address, now)
	require.Error(t, err)

	order, err := h.engine.OrderByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderstore.Deposited, order.State, "a failed fill must leave the order DEPOSITED, not stuck SETTLED")

	recAfter, _ := h.bonds.Get(solver.address)
	assert.Equal(t, 0, recBefore.ReservedBond.Cmp(recAfter.ReservedBond), "a failed fill must not release the reservation")

	// retrying after funding the solver succeeds, proving the order survived.
	h.tokens.Credit(outputToken, solver.address, q.OutputAmount)
	require.NoError(t, h.engine.Fill(ctx, orderID, solver.address, now))
}

func TestSettleRevertsOrderAndNonceWhenSolverCannotPayOutput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0xBBBB000000000000000000000000000000BBBB")
	now := time.Now()

	h.registerSolver(t, ctx, solver.address)

	q := sampleQuote(solver.address, user, quote.ExactInput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)

	depositAddress := h.engine.ComputeDepositAddress(q, sig)
	h.tokens.Credit(inputToken, depositAddress, q.InputAmount)
	// solver's output-token balance is never funded.

	_, err = h.engine.Settle(ctx, q, sig, solver.address, now)
	require.Error(t, err)

	assert.False(t, h.engine.IsNonceUsed(solver.address, q.Nonce), "a failed settle must not consume the nonce")
	assert.Equal(t, 0, h.tokens.BalanceOf(inputToken, depositAddress).Cmp(q.InputAmount), "a failed settle must not sweep the deposit address")

	orderID := quote.OrderID(q.StructHash(), sig)
	_, err = h.engine.OrderByID(ctx, orderID)
	require.Error(t, err, "a failed settle must not leave an order record behind")

	// retrying after funding the solver succeeds.
	h.tokens.Credit(outputToken, solver.address, q.OutputAmount)
	_, err = h.engine.Settle(ctx, q, sig, solver.address, now)
	require.NoError(t, err)
}

func TestDepositRejectsUnregisteredSolver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	solver := newTestSolver(t)
	user := common.HexToAddress("0x8888000000000000000000000000000000008B")
	now := time.Now()

	q := sampleQuote(solver.address, user, quote.ExactOutput, now)
	sig, err := solver.key.Sign(q)
	require.NoError(t, err)
	h.tokens.Credit(inputToken, user, q.InputAmount)

	_, err = h.engine.Deposit(ctx, q, sig, user, now)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrSolverNotRegistered, appErr.Type)
}
