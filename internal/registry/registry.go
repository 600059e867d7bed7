// Package registry implements the off-chain, per-chain solver registry:
// a persistent directory of solver endpoints, upserted on register,
// bounded by a per-chain cap, gated by EIP-191 signed auth and
// SSRF-safe endpoint validation, with optional on-chain bond verification.
//
// Per-key map + mutex, repo-backed fallback on a cache miss,
// upsert-on-register. The registry composes internal/chainreader for the
// on-chain bond check.
package registry

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
)

// Record is one registered solver's directory entry.
type Record struct {
	ChainID      int64
	Address      common.Address
	Endpoint     string
	Name         string
	RegisteredAt time.Time
	Active       bool
}

func (r Record) key() recordKey {
	return recordKey{chainID: r.ChainID, address: strings.ToLower(r.Address.Hex())}
}

type recordKey struct {
	chainID int64
	address string
}

// Store is the persistence interface backing the registry's directory.
type Store interface {
	Upsert(ctx context.Context, r Record) error
	Delete(ctx context.Context, chainID int64, address common.Address) error
	Get(ctx context.Context, chainID int64, address common.Address) (Record, bool, error)
	ListByChain(ctx context.Context, chainID int64) ([]Record, error)
	CountByChain(ctx context.Context, chainID int64) (int, error)
}

// BondVerifier checks a candidate solver's on-chain bond before allowing
// registration, when an on-chain bond query is available. A nil
// BondVerifier skips the check entirely.
type BondVerifier interface {
	TotalBondOf(ctx context.Context, bondContract, solver common.Address) (*big.Int, error)
}

// DefaultMaxSolversPerChain bounds the directory size when no cap is
// configured; registrations of new solvers past the cap are rejected.
const DefaultMaxSolversPerChain = 256

// Registry is the solver directory for one deployment (all configured
// chains share a Store; the cap and bond contract are applied per chain id
// passed to each call).
type Registry struct {
	store        Store
	bondVerifier BondVerifier
	maxPerChain  int
	endpointAuth EndpointValidator
	minBond      *big.Int
	bondContract func(chainID int64) (common.Address, bool)

	mu sync.Mutex // serializes register/unregister per process
}

type Config struct {
	MaxPerChain  int
	MinBond      *big.Int
	BondContract func(chainID int64) (common.Address, bool)
}

func New(store Store, bondVerifier BondVerifier, endpointAuth EndpointValidator, cfg Config) *Registry {
	max := cfg.MaxPerChain
	if max <= 0 {
		max = DefaultMaxSolversPerChain
	}
	minBond := cfg.MinBond
	if minBond == nil {
		minBond = big.NewInt(1_000_000_000)
	}
	return &Registry{
		store:        store,
		bondVerifier: bondVerifier,
		maxPerChain:  max,
		endpointAuth: endpointAuth,
		minBond:      minBond,
		bondContract: cfg.BondContract,
	}
}

// Register upserts a solver after validating its auth signature, endpoint
// safety, per-chain capacity, and (if configured) on-chain bond.
func (r *Registry) Register(ctx context.Context, chainID int64, req RegisterRequest, now time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	address, err := VerifyRegistration(req, now)
	if err != nil {
		return Record{}, err
	}

	if err := r.endpointAuth.Validate(ctx, req.Endpoint); err != nil {
		return Record{}, apperrors.New(apperrors.ErrInvalidRequest, "endpoint failed safety validation", err)
	}

	existing, found, err := r.store.Get(ctx, chainID, address)
	if err != nil {
		return Record{}, apperrors.New(apperrors.ErrInternal, "registry lookup failed", err)
	}
	if !found {
		count, err := r.store.CountByChain(ctx, chainID)
		if err != nil {
			return Record{}, apperrors.New(apperrors.ErrInternal, "registry count failed", err)
		}
		if count >= r.maxPerChain {
			return Record{}, apperrors.New(apperrors.ErrInvalidRequest, "chain has reached its maximum solver count", nil)
		}
	}

	if r.bondVerifier != nil && r.bondContract != nil {
		if bondContract, ok := r.bondContract(chainID); ok {
			total, err := r.bondVerifier.TotalBondOf(ctx, bondContract, address)
			if err != nil {
				return Record{}, apperrors.New(apperrors.ErrUpstream, "on-chain bond check failed", err)
			}
			if total.Cmp(r.minBond) < 0 {
				return Record{}, apperrors.New(apperrors.ErrBelowMinimumBond, "solver's on-chain bond is below MIN_BOND", nil)
			}
		}
	}

	registeredAt := existing.RegisteredAt
	if !found {
		registeredAt = now
	}
	rec := Record{
		ChainID:      chainID,
		Address:      address,
		Endpoint:     req.Endpoint,
		Name:         req.Name,
		RegisteredAt: registeredAt,
		Active:       true,
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		return Record{}, apperrors.New(apperrors.ErrInternal, "registry upsert failed", err)
	}
	return rec, nil
}

// Unregister removes a solver after validating its auth signature.
func (r *Registry) Unregister(ctx context.Context, chainID int64, claimed common.Address, req UnregisterRequest, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	address, err := VerifyUnregistration(claimed, req, now)
	if err != nil {
		return err
	}
	if _, found, err := r.store.Get(ctx, chainID, address); err != nil {
		return apperrors.New(apperrors.ErrInternal, "registry lookup failed", err)
	} else if !found {
		return apperrors.New(apperrors.ErrNotFound, "solver not registered on this chain", nil)
	}
	if err := r.store.Delete(ctx, chainID, address); err != nil {
		return apperrors.New(apperrors.ErrInternal, "registry delete failed", err)
	}
	return nil
}

// List returns all active solvers registered on chainID.
func (r *Registry) List(ctx context.Context, chainID int64) ([]Record, error) {
	recs, err := r.store.ListByChain(ctx, chainID)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "registry list failed", err)
	}
	return recs, nil
}

// Get returns one solver's registration, if any, scoped to chainID.
func (r *Registry) Get(ctx context.Context, chainID int64, address common.Address) (Record, bool, error) {
	rec, found, err := r.store.Get(ctx, chainID, address)
	if err != nil {
		return Record{}, false, apperrors.New(apperrors.ErrInternal, "registry lookup failed", err)
	}
	return rec, found, nil
}

func invalidAddress(addr string) error {
	return apperrors.New(apperrors.ErrInvalidRequest, fmt.Sprintf("invalid address %q", addr), nil)
}
