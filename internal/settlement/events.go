package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventSink receives the settlement engine's emitted events, the
// same events internal/wsfeed pushes to subscribers. A nil sink is valid;
// the engine simply drops events.
type EventSink interface {
	OnDeposited(e Deposited)
	OnSettled(e Settled)
	OnRefunded(e Refunded)
	OnTokensRecovered(e TokensRecovered)
	OnExcessDeposit(e ExcessDeposit)
	OnExcessWithdrawn(e ExcessWithdrawn)
	OnResolvedOrderOpened(e ResolvedOrderOpened)
}

type Deposited struct {
	OrderID      common.Hash
	User         common.Address
	Solver       common.Address
	InputToken   common.Address
	InputAmount  *big.Int
	OutputToken  common.Address
	OutputAmount *big.Int
	FillDeadline int64
}

type Settled struct {
	OrderID common.Hash
	User    common.Address
	Solver  common.Address
}

type Refunded struct {
	OrderID      common.Hash
	User         common.Address
	AmountReturned *big.Int
	BondSlashed  *big.Int
}

type TokensRecovered struct {
	OrderID common.Hash
	Token   common.Address
	Amount  *big.Int
}

type ExcessDeposit struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

type ExcessWithdrawn struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

// ResolvedOrderOpened mirrors the ERC-7683-style resolved cross-chain
// order event opened alongside every new order: the
// same (user, solver, tokens, amounts) already on the order, reshaped so a
// generic cross-chain-intent indexer can parse it without knowing
// FirmSwap's own event shapes. MaxSpent names the input side the solver is
// owed on this chain; MinReceived names the output side owed to the user
// on the output chain. This is observational only — no cross-chain
// execution happens here.
type ResolvedOrderOpened struct {
	OrderID      common.Hash
	User         common.Address
	Solver       common.Address
	MaxSpentToken   common.Address
	MaxSpentAmount  *big.Int
	MaxSpentChainID int64
	MinReceivedToken   common.Address
	MinReceivedAmount  *big.Int
	MinReceivedChainID int64
	FillDeadline int64
}

// MultiSink fans every event out to each of its sinks in order, letting a
// single engine feed e.g. both the websocket push feed and the reference
// solver's deposit-watcher log.
type MultiSink []EventSink

func (m MultiSink) OnDeposited(e Deposited) {
	for _, s := range m {
		s.OnDeposited(e)
	}
}
func (m MultiSink) OnSettled(e Settled) {
	for _, s := range m {
		s.OnSettled(e)
	}
}
func (m MultiSink) OnRefunded(e Refunded) {
	for _, s := range m {
		s.OnRefunded(e)
	}
}
func (m MultiSink) OnTokensRecovered(e TokensRecovered) {
	for _, s := range m {
		s.OnTokensRecovered(e)
	}
}
func (m MultiSink) OnExcessDeposit(e ExcessDeposit) {
	for _, s := range m {
		s.OnExcessDeposit(e)
	}
}
func (m MultiSink) OnExcessWithdrawn(e ExcessWithdrawn) {
	for _, s := range m {
		s.OnExcessWithdrawn(e)
	}
}
func (m MultiSink) OnResolvedOrderOpened(e ResolvedOrderOpened) {
	for _, s := range m {
		s.OnResolvedOrderOpened(e)
	}
}

// NopSink discards every event; the zero value is ready to use.
type NopSink struct{}

func (NopSink) OnDeposited(Deposited)                     {}
func (NopSink) OnSettled(Settled)                         {}
func (NopSink) OnRefunded(Refunded)                       {}
func (NopSink) OnTokensRecovered(TokensRecovered)         {}
func (NopSink) OnExcessDeposit(ExcessDeposit)             {}
func (NopSink) OnExcessWithdrawn(ExcessWithdrawn)         {}
func (NopSink) OnResolvedOrderOpened(ResolvedOrderOpened) {}
