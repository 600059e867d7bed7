// Package filler implements the reference solver's strictly serial fill
// queue: at most one in-flight fill transaction per solver address at any
// time, since concurrent submissions from the same EOA
// would contend for the same account nonce.
//
// A buffered channel feeds a single consumer goroutine that drains jobs
// in arrival order, one queue per solver identity, running each job to
// completion (including on-chain confirmation) before taking the next.
package filler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/pkg/metrics"
	"github.com/firmswap/firmswap/internal/settlement"
)

// DefaultQueueDepth bounds the backlog of fill jobs awaiting the serial
// worker; a watcher producing faster than the filler drains should block
// rather than grow unbounded.
const DefaultQueueDepth = 256

// Balancer checks the solver's output-token balance and allowance before a
// fill, setting allowance if needed — the filler's pre-submission
// preflight.
type Balancer interface {
	EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Submitter sends the fill transaction and waits for its inclusion. It is
// called with at most one job in flight at a time per Queue.
type Submitter interface {
	Fill(ctx context.Context, orderID common.Hash) error
}

// Queue drains settlement.Deposited events for one solver identity
// strictly in arrival order, running each fill to completion before
// starting the next.
type Queue struct {
	solver    common.Address
	outputOf  func(common.Hash) (token common.Address, amount *big.Int, ok bool)
	balancer  Balancer
	submitter Submitter
	jobs      chan settlement.Deposited
	done      chan struct{}
}

// New builds a Queue for solver, backed by a channel of depth capacity.
// outputOf resolves an order id to the output token/amount the preflight
// balance check needs; in production this is the settlement engine's read
// view (OrderByID), narrowed to the two fields the filler cares about.
func New(solver common.Address, capacity int, balancer Balancer, submitter Submitter, outputOf func(common.Hash) (common.Address, *big.Int, bool)) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueDepth
	}
	return &Queue{
		solver:    solver,
		outputOf:  outputOf,
		balancer:  balancer,
		submitter: submitter,
		jobs:      make(chan settlement.Deposited, capacity),
		done:      make(chan struct{}),
	}
}

// Enqueue appends a deposit event to the tail of the queue. Implements
// watcher.FillEnqueuer. Blocks if the queue is at capacity, applying
// backpressure to the watcher rather than dropping jobs silently.
func (q *Queue) Enqueue(event settlement.Deposited) {
	q.jobs <- event
	metrics.SolverFillQueueDepth.Set(float64(len(q.jobs)))
}

// Run drains the queue until ctx is cancelled or the queue is closed,
// processing jobs one at a time in arrival order.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, job)
			metrics.SolverFillQueueDepth.Set(float64(len(q.jobs)))
		}
	}
}

// Close stops accepting new jobs; Run drains whatever remains queued, then
// returns.
func (q *Queue) Close() {
	close(q.jobs)
	<-q.done
}

func (q *Queue) process(ctx context.Context, job settlement.Deposited) {
	token, amount, ok := q.outputOf(job.OrderID)
	if !ok {
		token, amount = job.OutputToken, job.OutputAmount
	}

	balance, err := q.balancer.BalanceOf(ctx, token, q.solver)
	if err != nil {
		logger.Warn("filler: balance check failed", "order_id", job.OrderID.Hex(), "error", err)
		metrics.SolverFillsSubmitted.WithLabelValues("balance_check_failed").Inc()
		return
	}
	if balance.Cmp(amount) < 0 {
		logger.Warn("filler: insufficient output-token balance, skipping fill",
			"order_id", job.OrderID.Hex(), "have", balance.String(), "need", amount.String())
		metrics.SolverFillsSubmitted.WithLabelValues("insufficient_balance").Inc()
		return
	}
	if err := q.balancer.EnsureAllowance(ctx, token, q.solver, amount); err != nil {
		logger.Warn("filler: failed to set allowance", "order_id", job.OrderID.Hex(), "error", err)
		metrics.SolverFillsSubmitted.WithLabelValues("allowance_failed").Inc()
		return
	}

	if err := q.submitter.Fill(ctx, job.OrderID); err != nil {
		logger.Warn("filler: fill submission failed", "order_id", job.OrderID.Hex(), "error", err)
		metrics.SolverFillsSubmitted.WithLabelValues("submit_failed").Inc()
		return
	}
	metrics.SolverFillsSubmitted.WithLabelValues("ok").Inc()
}
