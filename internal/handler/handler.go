// Package handler implements the gin HTTP handlers for FirmSwap's
// external surface: quote requests, order status, and solver directory
// management, one handler instance shared by every configured chain.
//
// A thin layer: bind the wire request, call the owning service, map the
// result (or error) straight onto the gin context. No business logic
// lives here.
package handler

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/firmswap/firmswap/internal/aggregator"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/firmswap/firmswap/internal/registry"
	"github.com/firmswap/firmswap/internal/settlement"
	"github.com/firmswap/firmswap/internal/wire"
	"github.com/gin-gonic/gin"
)

// ChainServices bundles the per-chain components a quote/order request is
// routed to once its chain id is resolved.
type ChainServices struct {
	Engine     *settlement.Engine
	Aggregator *aggregator.Aggregator
}

// Handler wires the settlement engines, aggregators, and solver registry
// behind the HTTP surface. The registry is shared across chains (it scopes
// every lookup by chain id itself); engines and
// aggregators are one pair per configured chain.
type Handler struct {
	chains   map[int64]ChainServices
	registry *registry.Registry
}

func New(chains map[int64]ChainServices, reg *registry.Registry) *Handler {
	return &Handler{chains: chains, registry: reg}
}

func (h *Handler) pathChainID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		return 0, apperrors.NewInvalidRequest("chainId must be an integer")
	}
	return id, nil
}

func (h *Handler) servicesFor(chainID int64) (ChainServices, error) {
	cs, ok := h.chains[chainID]
	if !ok {
		return ChainServices{}, apperrors.New(apperrors.ErrNotFound, "unknown chain id", nil)
	}
	return cs, nil
}

// Health answers GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "firmswap"})
}

// Quote answers POST /v1/{chainId}/quote: runs the aggregator's
// fan-out/rank pipeline and returns the winning quote plus alternatives.
func (h *Handler) Quote(c *gin.Context) {
	chainID, err := h.pathChainID(c)
	if err != nil {
		c.Error(err)
		return
	}
	cs, err := h.servicesFor(chainID)
	if err != nil {
		c.Error(err)
		return
	}

	var req wire.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if !common.IsHexAddress(req.InputToken) || !common.IsHexAddress(req.OutputToken) || !common.IsHexAddress(req.UserAddress) {
		c.Error(apperrors.NewInvalidRequest("inputToken, outputToken, and userAddress must be valid addresses"))
		return
	}
	orderType, err := quote.ParseOrderType(req.OrderType)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		c.Error(apperrors.NewInvalidRequest("amount must be a positive base-10 integer"))
		return
	}

	depositMode := aggregator.DepositModeContract
	if req.DepositMode == "ADDRESS" {
		depositMode = aggregator.DepositModeAddress
	}

	now := time.Now()
	result, err := cs.Aggregator.Quote(c.Request.Context(), aggregator.Request{
		InputToken:         common.HexToAddress(req.InputToken),
		OutputToken:        common.HexToAddress(req.OutputToken),
		OrderType:          orderType,
		Amount:             amount,
		User:               common.HexToAddress(req.UserAddress),
		OriginChainID:      req.OriginChainID,
		DestinationChainID: req.DestinationChainID,
		DepositWindow:      time.Duration(req.DepositWindow) * time.Second,
		DepositMode:        depositMode,
	}, now)
	if err != nil {
		c.Error(err)
		return
	}
	if result == nil {
		c.Error(apperrors.New(apperrors.ErrNoSolvers, "no solver returned a valid quote", nil))
		return
	}

	resp := wire.QuoteResponse{
		Quote:           wire.FromQuote(result.Best.Quote),
		SolverSignature: hexutil.Encode(result.Best.Signature),
	}
	if result.Best.DepositAddress != nil {
		resp.DepositAddress = result.Best.DepositAddress.Hex()
	}
	resp.AlternativeQuotes = make([]wire.AltQuote, 0, len(result.Alternatives))
	for _, alt := range result.Alternatives {
		altDTO := wire.AltQuote{Quote: wire.FromQuote(alt.Quote)}
		if alt.Signature != nil {
			altDTO.Signature = hexutil.Encode(alt.Signature)
		}
		resp.AlternativeQuotes = append(resp.AlternativeQuotes, altDTO)
	}
	c.JSON(http.StatusOK, resp)
}

// OrderStatus answers GET /v1/{chainId}/order/{orderId}.
func (h *Handler) OrderStatus(c *gin.Context) {
	chainID, err := h.pathChainID(c)
	if err != nil {
		c.Error(err)
		return
	}
	cs, err := h.servicesFor(chainID)
	if err != nil {
		c.Error(err)
		return
	}

	raw := c.Param("orderId")
	if _, err := hexutil.Decode(raw); err != nil {
		c.Error(apperrors.NewInvalidRequest("orderId must be a 0x-prefixed hex hash"))
		return
	}

	order, err := cs.Engine.OrderByID(c.Request.Context(), common.HexToHash(raw))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, wire.OrderStatusResponse{
		OrderID:      order.OrderID.Hex(),
		State:        string(order.State),
		User:         order.User.Hex(),
		Solver:       order.Solver.Hex(),
		InputToken:   order.InputToken.Hex(),
		InputAmount:  order.InputAmount,
		OutputToken:  order.OutputToken.Hex(),
		OutputAmount: order.OutputAmount,
		FillDeadline: order.FillDeadline,
	})
}

// RegisterSolver answers POST /v1/{chainId}/solvers/register.
func (h *Handler) RegisterSolver(c *gin.Context) {
	chainID, err := h.pathChainID(c)
	if err != nil {
		c.Error(err)
		return
	}

	var req wire.RegisterSolverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	rec, err := h.registry.Register(c.Request.Context(), chainID, registry.RegisterRequest{
		Address:   req.Address,
		Endpoint:  req.Endpoint,
		Name:      req.Name,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	}, time.Now())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toSolverDTO(rec))
}

// UnregisterSolver answers DELETE /v1/{chainId}/solvers/{address}.
func (h *Handler) UnregisterSolver(c *gin.Context) {
	chainID, err := h.pathChainID(c)
	if err != nil {
		c.Error(err)
		return
	}

	addrParam := c.Param("address")
	if !common.IsHexAddress(addrParam) {
		c.Error(apperrors.NewInvalidRequest("address must be a valid solver address"))
		return
	}
	claimed := common.HexToAddress(addrParam)

	var req wire.UnregisterSolverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	if err := h.registry.Unregister(c.Request.Context(), chainID, claimed, registry.UnregisterRequest{
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	}, time.Now()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}

// ListSolvers answers GET /v1/{chainId}/solvers.
func (h *Handler) ListSolvers(c *gin.Context) {
	chainID, err := h.pathChainID(c)
	if err != nil {
		c.Error(err)
		return
	}

	recs, err := h.registry.List(c.Request.Context(), chainID)
	if err != nil {
		c.Error(err)
		return
	}

	dtos := make([]wire.SolverDTO, 0, len(recs))
	for _, r := range recs {
		dtos = append(dtos, toSolverDTO(r))
	}
	c.JSON(http.StatusOK, gin.H{"solvers": dtos})
}

func toSolverDTO(r registry.Record) wire.SolverDTO {
	return wire.SolverDTO{
		Address:          r.Address.Hex(),
		Endpoint:         r.Endpoint,
		Name:             r.Name,
		RegisteredAtUnix: r.RegisteredAt.Unix(),
		Active:           r.Active,
	}
}
