// Package watcher implements the reference solver's deposit monitor:
// poll the settlement engine's Deposited event log between the
// last-seen block and the current head at a fixed interval, and enqueue a
// fill job for every event targeting this solver whose fill deadline has
// not yet passed.
//
// This polls rather than subscribing to internal/wsfeed's push stream,
// since there is no live connection to keep alive here; the loop is a
// single ticker rather than a reconnect loop.
package watcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/pkg/metrics"
	"github.com/firmswap/firmswap/internal/settlement"
)

// DefaultPollInterval is how often the watcher checks for new blocks.
const DefaultPollInterval = 5 * time.Second

// BlockSource reports the current chain head, the same role
// ethclient.Client.BlockNumber plays in production.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// DepositFilter returns Deposited events emitted in [fromBlock, toBlock]
// for the settlement engine this watcher tracks.
type DepositFilter interface {
	FilterDeposited(ctx context.Context, fromBlock, toBlock uint64) ([]settlement.Deposited, error)
}

// FillEnqueuer accepts a deposit event to be filled; internal/solver/filler
// implements this.
type FillEnqueuer interface {
	Enqueue(event settlement.Deposited)
}

// Watcher polls for deposits addressed to one solver and hands qualifying
// ones to a fill queue.
type Watcher struct {
	solver   common.Address
	blocks   BlockSource
	filter   DepositFilter
	queue    FillEnqueuer
	interval time.Duration
	lastSeen uint64
}

func New(solver common.Address, blocks BlockSource, filter DepositFilter, queue FillEnqueuer, startBlock uint64) *Watcher {
	return &Watcher{solver: solver, blocks: blocks, filter: filter, queue: queue, interval: DefaultPollInterval, lastSeen: startBlock}
}

// WithPollInterval overrides the default poll interval (e.g. from
// config.SolverConfig.WatcherPollInterval). A non-positive d leaves the
// default in place.
func (w *Watcher) WithPollInterval(d time.Duration) *Watcher {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Run polls until ctx is cancelled, sleeping interval between polls.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.PollOnce(ctx, time.Now()); err != nil {
				logger.Warn("watcher: poll failed", "solver", w.solver.Hex(), "error", err)
			}
		}
	}
}

// PollOnce runs a single poll cycle and returns how many fill jobs were
// enqueued. Exposed separately from Run so tests can drive it directly
// without a ticker.
func (w *Watcher) PollOnce(ctx context.Context, now time.Time) (int, error) {
	head, err := w.blocks.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head <= w.lastSeen {
		return 0, nil
	}

	events, err := w.filter.FilterDeposited(ctx, w.lastSeen+1, head)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, e := range events {
		if e.Solver != w.solver {
			continue
		}
		if e.FillDeadline <= now.Unix() {
			logger.Warn("watcher: skipping deposit past its fill deadline", "order_id", e.OrderID.Hex())
			continue
		}
		w.queue.Enqueue(e)
		enqueued++
	}

	w.lastSeen = head
	metrics.SolverWatcherLastBlock.Set(float64(head))
	return enqueued, nil
}
