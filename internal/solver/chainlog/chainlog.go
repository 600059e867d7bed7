// Package chainlog stands in for the block-indexed event log a real
// ethclient would expose to internal/solver/watcher: in production the
// watcher polls eth_getLogs between two block numbers, but this reference
// implementation's settlement engine is an in-process Go value rather
// than a deployed contract. Log records every Deposited event the engine emits under a monotonically
// increasing block number, so the watcher's poll-between-blocks shape
// still applies unchanged against a local engine.
package chainlog

import (
	"context"
	"sync"

	"github.com/firmswap/firmswap/internal/settlement"
)

type entry struct {
	block uint64
	event settlement.Deposited
}

// Log implements settlement.EventSink (recording only Deposited events;
// every other event is dropped, matching a real deployment where the
// watcher only cares about Deposited) plus the watcher.BlockSource and
// watcher.DepositFilter interfaces over the recorded log.
type Log struct {
	mu      sync.Mutex
	entries []entry
	head    uint64
}

func New() *Log {
	return &Log{}
}

// BlockNumber reports the current synthetic chain head: one "block" per
// Deposited event recorded so far.
func (l *Log) BlockNumber(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}

// FilterDeposited returns every Deposited event recorded in
// [fromBlock, toBlock], mirroring an eth_getLogs range query.
func (l *Log) FilterDeposited(_ context.Context, fromBlock, toBlock uint64) ([]settlement.Deposited, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []settlement.Deposited
	for _, e := range l.entries {
		if e.block >= fromBlock && e.block <= toBlock {
			out = append(out, e.event)
		}
	}
	return out, nil
}

// OnDeposited appends e to the log under the next synthetic block number.
func (l *Log) OnDeposited(e settlement.Deposited) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head++
	l.entries = append(l.entries, entry{block: l.head, event: e})
}

func (l *Log) OnSettled(settlement.Settled)                         {}
func (l *Log) OnRefunded(settlement.Refunded)                       {}
func (l *Log) OnTokensRecovered(settlement.TokensRecovered)         {}
func (l *Log) OnExcessDeposit(settlement.ExcessDeposit)             {}
func (l *Log) OnExcessWithdrawn(settlement.ExcessWithdrawn)         {}
func (l *Log) OnResolvedOrderOpened(settlement.ResolvedOrderOpened) {}
