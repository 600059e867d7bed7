// Package wire defines the JSON wire shapes: the external
// request and response bodies exchanged between clients, the aggregator, and
// solver endpoints. Fields use gin binding tags and string-encoded
// bigints so 256-bit amounts survive JSON's float64 ceiling.
package wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/quote"
)

// QuoteRequest is the client-facing POST /v1/{chainId}/quote body.
type QuoteRequest struct {
	InputToken        string `json:"inputToken" binding:"required"`
	OutputToken       string `json:"outputToken" binding:"required"`
	OrderType         string `json:"orderType" binding:"required,oneof=EXACT_INPUT EXACT_OUTPUT"`
	Amount            string `json:"amount" binding:"required"`
	UserAddress       string `json:"userAddress" binding:"required"`
	OriginChainID     int64  `json:"originChainId" binding:"required"`
	DestinationChainID int64 `json:"destinationChainId" binding:"required"`
	DepositWindow     int64  `json:"depositWindow,omitempty"`
	DepositMode       string `json:"depositMode" binding:"required,oneof=CONTRACT ADDRESS"`
}

// SolverQuoteRequest is the body the aggregator forwards to each solver's
// {endpoint}/quote.
type SolverQuoteRequest struct {
	InputToken      string `json:"inputToken"`
	OutputToken     string `json:"outputToken"`
	OrderType       string `json:"orderType"`
	Amount          string `json:"amount"`
	UserAddress     string `json:"userAddress"`
	ChainID         int64  `json:"chainId"`
	DepositDeadline int64  `json:"depositDeadline"`
	FillDeadline    int64  `json:"fillDeadline"`
}

// SolverQuoteResponse is what a solver's {endpoint}/quote returns.
type SolverQuoteResponse struct {
	Quote     QuoteDTO `json:"quote"`
	Signature string   `json:"signature"`
}

// QuoteDTO is the serialized form of internal/quote.Quote: string bigints,
// EIP-55 checksummed hex addresses.
type QuoteDTO struct {
	Solver          string `json:"solver"`
	User            string `json:"user"`
	InputToken      string `json:"inputToken"`
	InputAmount     string `json:"inputAmount"`
	OutputToken     string `json:"outputToken"`
	OutputAmount    string `json:"outputAmount"`
	OrderType       string `json:"orderType"`
	OutputChainID   string `json:"outputChainId"`
	DepositDeadline int64  `json:"depositDeadline"`
	FillDeadline    int64  `json:"fillDeadline"`
	Nonce           string `json:"nonce"`
}

// ToQuote parses the wire DTO into the domain Quote, the codec's input
// type. Used by the aggregator parsing a solver's response and by
// cmd/inspector parsing a quote file.
func (d QuoteDTO) ToQuote() (*quote.Quote, error) {
	orderType, err := quote.ParseOrderType(d.OrderType)
	if err != nil {
		return nil, err
	}
	inputAmount, ok := new(big.Int).SetString(d.InputAmount, 10)
	if !ok {
		return nil, errInvalidBigInt("inputAmount")
	}
	outputAmount, ok := new(big.Int).SetString(d.OutputAmount, 10)
	if !ok {
		return nil, errInvalidBigInt("outputAmount")
	}
	outputChainID, ok := new(big.Int).SetString(d.OutputChainID, 10)
	if !ok {
		return nil, errInvalidBigInt("outputChainId")
	}
	nonce, ok := new(big.Int).SetString(d.Nonce, 10)
	if !ok {
		return nil, errInvalidBigInt("nonce")
	}
	if !common.IsHexAddress(d.Solver) || !common.IsHexAddress(d.User) ||
		!common.IsHexAddress(d.InputToken) || !common.IsHexAddress(d.OutputToken) {
		return nil, errInvalidBigInt("address field")
	}

	return &quote.Quote{
		Solver:          common.HexToAddress(d.Solver),
		User:            common.HexToAddress(d.User),
		InputToken:      common.HexToAddress(d.InputToken),
		InputAmount:     inputAmount,
		OutputToken:     common.HexToAddress(d.OutputToken),
		OutputAmount:    outputAmount,
		OrderType:       orderType,
		OutputChainID:   outputChainID,
		DepositDeadline: d.DepositDeadline,
		FillDeadline:    d.FillDeadline,
		Nonce:           nonce,
	}, nil
}

// FromQuote serializes a domain Quote for the wire.
func FromQuote(q *quote.Quote) QuoteDTO {
	return QuoteDTO{
		Solver:          q.Solver.Hex(),
		User:            q.User.Hex(),
		InputToken:      q.InputToken.Hex(),
		InputAmount:     q.InputAmount.String(),
		OutputToken:     q.OutputToken.Hex(),
		OutputAmount:    q.OutputAmount.String(),
		OrderType:       q.OrderType.String(),
		OutputChainID:   q.OutputChainID.String(),
		DepositDeadline: q.DepositDeadline,
		FillDeadline:    q.FillDeadline,
		Nonce:           q.Nonce.String(),
	}
}

type invalidBigIntError string

func (e invalidBigIntError) Error() string { return "wire: invalid value for " + string(e) }

func errInvalidBigInt(field string) error { return invalidBigIntError(field) }

// QuoteResponse is the aggregator's POST /v1/{chainId}/quote reply.
type QuoteResponse struct {
	Quote             QuoteDTO   `json:"quote"`
	SolverSignature   string     `json:"solverSignature"`
	DepositAddress    string     `json:"depositAddress,omitempty"`
	AlternativeQuotes []AltQuote `json:"alternativeQuotes"`
}

// AltQuote is a non-winning quote with its signature stripped.
type AltQuote struct {
	Quote     QuoteDTO `json:"quote"`
	Signature string   `json:"signature,omitempty"`
}

// OrderStatusResponse is the GET /v1/{chainId}/order/{orderId} reply.
type OrderStatusResponse struct {
	OrderID      string `json:"orderId"`
	State        string `json:"state"`
	User         string `json:"user"`
	Solver       string `json:"solver"`
	InputToken   string `json:"inputToken"`
	InputAmount  string `json:"inputAmount"`
	OutputToken  string `json:"outputToken"`
	OutputAmount string `json:"outputAmount"`
	FillDeadline int64  `json:"fillDeadline"`
}

// RegisterSolverRequest is the POST /v1/{chainId}/solvers/register body.
type RegisterSolverRequest struct {
	Address   string `json:"address" binding:"required"`
	Endpoint  string `json:"endpoint" binding:"required"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// UnregisterSolverRequest is the DELETE /v1/{chainId}/solvers/{address} body.
type UnregisterSolverRequest struct {
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// SolverDTO is one entry of GET /v1/{chainId}/solvers.
type SolverDTO struct {
	Address            string `json:"address"`
	Endpoint           string `json:"endpoint"`
	Name               string `json:"name"`
	RegisteredAtUnix   int64  `json:"registeredAt"`
	Active             bool   `json:"active"`
}
