// Package quote implements the canonical encoding, EIP-712 digest, and order
// id derivation for FirmSwap quotes. It is imported by the
// settlement engine, the aggregator, and the reference solver so all three
// produce byte-identical digests.
package quote

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderType mirrors the on-chain uint8 discriminant.
type OrderType uint8

const (
	ExactInput  OrderType = 0
	ExactOutput OrderType = 1
)

func (t OrderType) String() string {
	if t == ExactOutput {
		return "EXACT_OUTPUT"
	}
	return "EXACT_INPUT"
}

func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "EXACT_INPUT":
		return ExactInput, nil
	case "EXACT_OUTPUT":
		return ExactOutput, nil
	default:
		return 0, errors.New("unknown order type")
	}
}

// MinOrder is the protocol minimum for a quote's outputAmount, in the
// output token's smallest unit.
var MinOrder = big.NewInt(1_000_000)

// Quote is the unit of price commitment. All integer fields are
// 256-bit unsigned on the wire and on-chain; depositDeadline/fillDeadline
// are unix seconds stored here as int64 but encoded as uint32 words.
type Quote struct {
	Solver          common.Address
	User            common.Address
	InputToken      common.Address
	InputAmount     *big.Int
	OutputToken     common.Address
	OutputAmount    *big.Int
	OrderType       OrderType
	OutputChainID   *big.Int
	DepositDeadline int64
	FillDeadline    int64
	Nonce           *big.Int
}

// Validate checks the field invariants that do not depend on
// chain state (nonce-used, solver-registered are checked by the engine).
func (q *Quote) Validate(currentChainID int64) error {
	if q.InputAmount == nil || q.InputAmount.Sign() <= 0 {
		return errors.New("inputAmount must be > 0")
	}
	if q.OutputAmount == nil || q.OutputAmount.Sign() <= 0 {
		return errors.New("outputAmount must be > 0")
	}
	if q.OutputAmount.Cmp(MinOrder) < 0 {
		return errors.New("outputAmount below protocol minimum")
	}
	if q.FillDeadline <= q.DepositDeadline {
		return errors.New("fillDeadline must be after depositDeadline")
	}
	if q.OutputChainID == nil || q.OutputChainID.Cmp(big.NewInt(currentChainID)) != 0 {
		return errors.New("outputChainId must equal the current chain")
	}
	return nil
}
