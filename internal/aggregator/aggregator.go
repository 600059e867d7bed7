// Package aggregator implements the quote aggregator: fan-out to
// registered solvers with a per-call timeout, response validation,
// signature verification, and best-price ranking.
//
// The outbound client tunes MaxIdleConns/MaxIdleConnsPerHost/
// IdleConnTimeout; dispatch follows a "fan out to many, collect what
// returns before the deadline" shape. Validation runs as a sequence of
// terse checks, one rejection reason per miss; responses are not
// deduplicated.
package aggregator

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/pkg/metrics"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/firmswap/firmswap/internal/registry"
	"github.com/firmswap/firmswap/internal/wire"
	"github.com/google/uuid"
)

// DepositMode mirrors the wire request's depositMode discriminant.
type DepositMode string

const (
	DepositModeContract DepositMode = "CONTRACT"
	DepositModeAddress  DepositMode = "ADDRESS"
)

// DefaultDepositWindow / DefaultFillWindow are the fallback windows used
// when a request does not specify one.
const (
	DefaultDepositWindow = 5 * time.Minute
	DefaultFillWindow    = 2 * time.Minute
)

// MaxFanOut bounds how many registered solvers are dispatched to per
// request.
const MaxFanOut = 32

// QuoteTimeout bounds each individual solver call.
const QuoteTimeout = 2 * time.Second

// Request is the aggregator's input, derived from the wire QuoteRequest.
type Request struct {
	InputToken         common.Address
	OutputToken        common.Address
	OrderType          quote.OrderType
	Amount             *big.Int
	User               common.Address
	OriginChainID      int64
	DestinationChainID int64
	DepositWindow      time.Duration
	DepositMode        DepositMode
}

// RankedQuote pairs a quote with its solver signature and (for the winner
// only, in address-deposit mode) a derived deposit address.
type RankedQuote struct {
	Quote          *quote.Quote
	Signature      []byte // stripped for alternatives unless operator policy overrides
	DepositAddress *common.Address
}

// Result is the aggregator's output: the best quote plus ranked
// alternatives with signatures stripped, or "none" if nothing survived.
type Result struct {
	Best         *RankedQuote
	Alternatives []RankedQuote
}

// SolverClient dispatches a single quote request to one solver endpoint.
// The production implementation is an HTTP POST to {endpoint}/quote;
// tests substitute a fake.
type SolverClient interface {
	RequestQuote(ctx context.Context, endpoint string, req wire.SolverQuoteRequest) (wire.SolverQuoteResponse, error)
}

// SolverSource lists the chain's currently active registered solvers,
// scoped per chain id.
type SolverSource interface {
	List(ctx context.Context, chainID int64) ([]registry.Record, error)
}

// Config configures one Aggregator instance for a single chain's
// verifying contract and deposit-address derivation inputs.
type Config struct {
	ChainID                      int64
	VerifyingContract            common.Address
	EngineAddress                common.Address
	ProxyInitCode                []byte
	IncludeAlternativeSignatures bool // operator policy toggle
}

// Aggregator fans a quote request out to registered solvers and ranks the
// surviving, signature-verified responses.
type Aggregator struct {
	cfg           Config
	solvers       SolverSource
	client        SolverClient
	endpointCheck registry.EndpointValidator // re-validated just before each dispatch
}

func New(cfg Config, solvers SolverSource, client SolverClient, endpointCheck registry.EndpointValidator) *Aggregator {
	return &Aggregator{cfg: cfg, solvers: solvers, client: client, endpointCheck: endpointCheck}
}

// Quote runs the full fan-out/validate/rank pipeline and returns the
// best surviving quote, or (nil, nil) if none survived (the "none" result).
func (a *Aggregator) Quote(ctx context.Context, req Request, now time.Time) (*Result, error) {
	if req.OriginChainID != a.cfg.ChainID {
		return nil, apperrors.New(apperrors.ErrWrongChain, "originChainId does not match this route's chain", nil)
	}
	if a.cfg.VerifyingContract == (common.Address{}) {
		return nil, apperrors.New(apperrors.ErrVerifierMissing, "no verifying contract configured for this chain", nil)
	}

	candidates, err := a.solvers.List(ctx, req.OriginChainID)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInternal, "solver registry lookup failed", err)
	}
	if len(candidates) == 0 {
		metrics.AggregatorRequests.WithLabelValues("no_solvers").Inc()
		return nil, nil
	}
	if len(candidates) > MaxFanOut {
		candidates = candidates[:MaxFanOut]
	}

	depositWindow := req.DepositWindow
	if depositWindow <= 0 {
		depositWindow = DefaultDepositWindow
	}
	depositDeadline := now.Add(depositWindow)
	fillDeadline := depositDeadline.Add(DefaultFillWindow)

	solverReq := wire.SolverQuoteRequest{
		InputToken:      req.InputToken.Hex(),
		OutputToken:     req.OutputToken.Hex(),
		OrderType:       req.OrderType.String(),
		Amount:          req.Amount.String(),
		UserAddress:     req.User.Hex(),
		ChainID:         req.OriginChainID,
		DepositDeadline: depositDeadline.Unix(),
		FillDeadline:    fillDeadline.Unix(),
	}

	requestID := uuid.NewString()
	responses := a.dispatch(ctx, requestID, candidates, solverReq)

	verified := a.validateAndVerify(responses, req, now)
	if len(verified) == 0 {
		metrics.AggregatorRequests.WithLabelValues("none_verified").Inc()
		return nil, nil
	}

	ranked := rank(verified, req.OrderType)
	best := ranked[0]

	if req.DepositMode == DepositModeAddress {
		orderID := quote.OrderID(best.Quote.StructHash(), best.Signature)
		codeHash := depositaddr.CodeHash(a.cfg.ProxyInitCode, a.cfg.EngineAddress)
		addr := depositaddr.Derive(a.cfg.EngineAddress, orderID, codeHash)
		best.DepositAddress = &addr
	}

	alternatives := make([]RankedQuote, 0, len(ranked)-1)
	for _, alt := range ranked[1:] {
		altCopy := alt
		if !a.cfg.IncludeAlternativeSignatures {
			altCopy.Signature = nil // prevent signature harvesting
		}
		altCopy.DepositAddress = nil
		alternatives = append(alternatives, altCopy)
	}

	metrics.AggregatorRequests.WithLabelValues("ok").Inc()
	return &Result{Best: &best, Alternatives: alternatives}, nil
}

type solverResponse struct {
	dto wire.SolverQuoteResponse
	ok  bool
}

// dispatch fans solverReq out to every candidate in parallel, each bounded
// by QuoteTimeout and independently cancellable.
func (a *Aggregator) dispatch(ctx context.Context, requestID string, candidates []registry.Record, solverReq wire.SolverQuoteRequest) []solverResponse {
	results := make([]solverResponse, len(candidates))
	var wg sync.WaitGroup
	wg.Add(len(candidates))

	for i, c := range candidates {
		go func(i int, c registry.Record) {
			defer wg.Done()

			if err := a.endpointCheck.Validate(ctx, c.Endpoint); err != nil {
				logger.Warn("aggregator: endpoint failed re-validation before dispatch",
					"request_id", requestID, "solver", c.Address.Hex(), "error", err)
				metrics.AggregatorFanout.WithLabelValues("ssrf_rejected").Inc()
				return
			}

			callCtx, cancel := context.WithTimeout(ctx, QuoteTimeout)
			defer cancel()

			resp, err := a.client.RequestQuote(callCtx, c.Endpoint, solverReq)
			if err != nil {
				logger.Warn("aggregator: solver call failed",
					"request_id", requestID, "solver", c.Address.Hex(), "endpoint", c.Endpoint, "error", err)
				metrics.AggregatorFanout.WithLabelValues("failed").Inc()
				return
			}
			metrics.AggregatorFanout.WithLabelValues("succeeded").Inc()
			results[i] = solverResponse{dto: resp, ok: true}
		}(i, c)
	}

	wg.Wait()
	return results
}

// validatedQuote pairs a parsed quote with its raw signature bytes.
type validatedQuote struct {
	quote *quote.Quote
	sig   []byte
}

// validateAndVerify applies field validation, then EIP-712
// signature verification against the configured verifying contract.
func (a *Aggregator) validateAndVerify(responses []solverResponse, req Request, now time.Time) []validatedQuote {
	out := make([]validatedQuote, 0, len(responses))
	for _, r := range responses {
		if !r.ok {
			continue
		}
		q, err := r.dto.Quote.ToQuote()
		if err != nil {
			logger.Warn("aggregator: malformed quote in solver response", "error", err)
			metrics.AggregatorFanout.WithLabelValues("rejected_malformed").Inc()
			continue
		}
		if q.User != req.User {
			logger.Warn("aggregator: quote user mismatch")
			metrics.AggregatorFanout.WithLabelValues("rejected_validation").Inc()
			continue
		}
		if !strings.EqualFold(q.InputToken.Hex(), req.InputToken.Hex()) || !strings.EqualFold(q.OutputToken.Hex(), req.OutputToken.Hex()) {
			logger.Warn("aggregator: quote token mismatch")
			metrics.AggregatorFanout.WithLabelValues("rejected_validation").Inc()
			continue
		}
		if q.DepositDeadline <= now.Unix() {
			logger.Warn("aggregator: quote deposit deadline already elapsed")
			metrics.AggregatorFanout.WithLabelValues("rejected_validation").Inc()
			continue
		}
		if q.InputAmount == nil || q.InputAmount.Sign() <= 0 || q.OutputAmount == nil || q.OutputAmount.Sign() <= 0 {
			logger.Warn("aggregator: quote amount not strictly positive")
			metrics.AggregatorFanout.WithLabelValues("rejected_validation").Inc()
			continue
		}

		sig, err := decodeSignature(r.dto.Signature)
		if err != nil {
			logger.Warn("aggregator: invalid signature encoding", "error", err)
			metrics.AggregatorFanout.WithLabelValues("rejected_signature").Inc()
			continue
		}
		if !quote.VerifiesAsSolver(q, sig, a.cfg.ChainID, a.cfg.VerifyingContract) {
			logger.Warn("aggregator: signature does not verify against configured contract")
			metrics.AggregatorFanout.WithLabelValues("rejected_signature").Inc()
			continue
		}

		out = append(out, validatedQuote{quote: q, sig: sig})
	}
	return out
}

// rank orders verified quotes: EXACT_INPUT descending by
// outputAmount, EXACT_OUTPUT ascending by inputAmount, ties broken by
// arrival order (a stable sort preserves that automatically).
func rank(verified []validatedQuote, orderType quote.OrderType) []RankedQuote {
	ranked := make([]RankedQuote, len(verified))
	for i, v := range verified {
		ranked[i] = RankedQuote{Quote: v.quote, Signature: v.sig}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if orderType == quote.ExactOutput {
			return ranked[i].Quote.InputAmount.Cmp(ranked[j].Quote.InputAmount) < 0
		}
		return ranked[i].Quote.OutputAmount.Cmp(ranked[j].Quote.OutputAmount) > 0
	})
	return ranked
}
