// Package chainreader provides cached, retried on-chain reads; the server
// uses it for the solver registry's bond verification at registration
// (EIP-712 quote verification and deposit-address derivation happen
// off-chain in the aggregator): a lazy ethclient dial, a
// bounded-retry loop with linear backoff, and a TTL cache keyed by call.
package chainreader

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{"constant":true,"inputs":[{"name":"who","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"solver","type":"address"}],"name":"totalBondOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`))
	if err != nil {
		panic("chainreader: invalid embedded abi: " + err.Error())
	}
}

type cacheEntry struct {
	value   *big.Int
	expires time.Time
}

// Reader performs cached, retried read-only contract calls against a single
// chain's RPC endpoint.
type Reader struct {
	rpcURL  string
	mu      sync.Mutex
	client  *ethclient.Client
	cache   map[string]cacheEntry
	ttl     time.Duration
	timeout time.Duration
	retries int
}

func New(rpcURL string, ttl, timeout time.Duration, retries int) *Reader {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Reader{
		rpcURL:  strings.TrimSpace(rpcURL),
		cache:   make(map[string]cacheEntry),
		ttl:     ttl,
		timeout: timeout,
		retries: retries,
	}
}

// BalanceOf reads ERC20(token).balanceOf(holder). Nothing in this module
// calls it: the in-process settlement engine and the reference solver
// read balances from settlement.TokenLedger instead.
func (r *Reader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	key := "balanceOf:" + token.Hex() + ":" + holder.Hex()
	return r.callUint256Cached(ctx, key, token, data)
}

// TotalBondOf reads a configured bond contract's totalBondOf(solver), used
// by the registry's optional on-chain bond verification at registration.
func (r *Reader) TotalBondOf(ctx context.Context, bondContract, solver common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("totalBondOf", solver)
	if err != nil {
		return nil, fmt.Errorf("pack totalBondOf: %w", err)
	}
	key := "totalBondOf:" + bondContract.Hex() + ":" + solver.Hex()
	return r.callUint256Cached(ctx, key, bondContract, data)
}

func (r *Reader) callUint256Cached(ctx context.Context, key string, to common.Address, data []byte) (*big.Int, error) {
	if hit, ok := r.cacheGet(key); ok {
		return hit, nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		client, err := r.getClient(attemptCtx)
		if err != nil {
			cancel()
			lastErr = err
			if !shouldRetry(ctx, attempt, r.retries) {
				break
			}
			continue
		}

		msg := ethereum.CallMsg{To: &to, Data: data}
		output, err := client.CallContract(attemptCtx, msg, nil)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("rpc call failed: %w", err)
			if !shouldRetry(ctx, attempt, r.retries) {
				break
			}
			continue
		}

		value := new(big.Int).SetBytes(output)
		r.cacheSet(key, value)
		return value, nil
	}
	return nil, lastErr
}

func (r *Reader) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := ethclient.DialContext(ctx, r.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	r.client = client
	return r.client, nil
}

func (r *Reader) cacheGet(key string) (*big.Int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(r.cache, key)
		return nil, false
	}
	return entry.value, true
}

func (r *Reader) cacheSet(key string, value *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{value: value, expires: time.Now().Add(r.ttl)}
}

func shouldRetry(ctx context.Context, attempt, max int) bool {
	if attempt >= max {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	return true
}
