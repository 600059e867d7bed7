// Package nonce implements the reference solver's nonce allocator: a
// single-writer counter seeded by a bounded scan of the settlement engine
// for the first unused nonce, then incremented locally for every quote
// signed thereafter.
//
// First call fetches and caches the seed, later calls increment the
// cached value locally rather than re-querying.
package nonce

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ScanWindow bounds the initial on-chain scan for an unused nonce.
// Heavy-volume deployments should persist the last-used nonce rather
// than rescan this window on every restart.
const ScanWindow = 1000

// Source reports whether a given nonce has already been consumed, backed
// by the settlement engine's read view (isNonceUsed) in production and a
// fake in tests.
type Source interface {
	IsNonceUsed(ctx context.Context, solver common.Address, nonce *big.Int) (bool, error)
}

// Allocator hands out strictly increasing, never-repeated nonces for one
// solver address. A single instance must be shared by every caller that
// signs quotes for that solver.
type Allocator struct {
	mu          sync.Mutex
	solver      common.Address
	source      Source
	next        *big.Int
	initialized bool
}

func NewAllocator(solver common.Address, source Source) *Allocator {
	return &Allocator{solver: solver, source: source}
}

// Next returns the next nonce to sign into a quote and advances the
// counter. The first call performs the bounded on-chain scan; later calls
// are pure local increments.
func (a *Allocator) Next(ctx context.Context) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		seed, err := a.scan(ctx)
		if err != nil {
			return nil, err
		}
		a.next = seed
		a.initialized = true
	}

	n := new(big.Int).Set(a.next)
	a.next = new(big.Int).Add(a.next, big.NewInt(1))
	return n, nil
}

// scan walks nonce 0..ScanWindow-1 looking for the first one the engine
// has not yet marked used.
func (a *Allocator) scan(ctx context.Context) (*big.Int, error) {
	for i := int64(0); i < ScanWindow; i++ {
		candidate := big.NewInt(i)
		used, err := a.source.IsNonceUsed(ctx, a.solver, candidate)
		if err != nil {
			return nil, fmt.Errorf("nonce scan: %w", err)
		}
		if !used {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("nonce scan: all %d nonces in the initial window are used; persist the last-used nonce instead of rescanning", ScanWindow)
}
