// Package quoteapi is the reference solver's own {endpoint}/quote HTTP
// handler: the counterpart the aggregator's SolverClient calls into. It prices the request, assigns a nonce, signs the resulting quote,
// and returns it in the SolverQuoteResponse shape.
//
// A thin handler: bind the request, call the owning core, map the result
// (or error) onto the gin context.
package quoteapi

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/firmswap/firmswap/internal/solver/nonce"
	"github.com/firmswap/firmswap/internal/solver/pricing"
	"github.com/firmswap/firmswap/internal/wire"
	"github.com/gin-gonic/gin"
)

// Handler serves this solver's /quote endpoint for a single chain.
type Handler struct {
	chainID int64
	pricer  *pricing.Engine
	nonces  *nonce.Allocator
	signer  *quote.Signer
}

func New(chainID int64, pricer *pricing.Engine, nonces *nonce.Allocator, signer *quote.Signer) *Handler {
	return &Handler{chainID: chainID, pricer: pricer, nonces: nonces, signer: signer}
}

// Quote answers POST /quote with a freshly priced, signed quote.
func (h *Handler) Quote(c *gin.Context) {
	var req wire.SolverQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if !common.IsHexAddress(req.InputToken) || !common.IsHexAddress(req.OutputToken) || !common.IsHexAddress(req.UserAddress) {
		c.JSON(http.StatusBadRequest, apperrors.NewInvalidRequest("inputToken, outputToken, and userAddress must be valid addresses"))
		return
	}
	if req.ChainID != h.chainID {
		c.JSON(http.StatusBadRequest, apperrors.New(apperrors.ErrWrongChain, "solver does not quote for this chain", nil))
		return
	}
	orderType, err := quote.ParseOrderType(req.OrderType)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.NewInvalidRequest(err.Error()))
		return
	}
	fixedAmount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || fixedAmount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, apperrors.NewInvalidRequest("amount must be a positive base-10 integer"))
		return
	}

	pair := pricing.Pair{
		InputToken:  common.HexToAddress(req.InputToken),
		OutputToken: common.HexToAddress(req.OutputToken),
	}
	inputAmount, outputAmount, err := h.pricer.Price(pair, orderType, fixedAmount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, apperrors.New(apperrors.ErrInvalidQuote, err.Error(), err))
		return
	}

	n, err := h.nonces.Next(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, apperrors.New(apperrors.ErrInternal, "nonce allocation failed", err))
		return
	}

	q := &quote.Quote{
		Solver:          h.signer.Address(),
		User:            common.HexToAddress(req.UserAddress),
		InputToken:      pair.InputToken,
		InputAmount:     inputAmount,
		OutputToken:     pair.OutputToken,
		OutputAmount:    outputAmount,
		OrderType:       orderType,
		OutputChainID:   big.NewInt(h.chainID),
		DepositDeadline: req.DepositDeadline,
		FillDeadline:    req.FillDeadline,
		Nonce:           n,
	}
	if err := q.Validate(h.chainID); err != nil {
		c.JSON(http.StatusUnprocessableEntity, apperrors.New(apperrors.ErrInvalidQuote, err.Error(), err))
		return
	}

	sig, err := h.signer.Sign(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apperrors.New(apperrors.ErrInternal, "signing failed", err))
		return
	}

	c.JSON(http.StatusOK, wire.SolverQuoteResponse{
		Quote:     wire.FromQuote(q),
		Signature: hexutil.Encode(sig),
	})
}
