package quote

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// EIP712DomainTypeHash is keccak256 of the EIP712Domain type string.
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// QuoteTypeHash is keccak256 of the literal FirmSwapQuote type string.
	QuoteTypeHash = crypto.Keccak256Hash([]byte("FirmSwapQuote(address solver,address user,address inputToken,uint256 inputAmount,address outputToken,uint256 outputAmount,uint8 orderType,uint256 outputChainId,uint32 depositDeadline,uint32 fillDeadline,uint256 nonce)"))

	domainNameHash    = crypto.Keccak256Hash([]byte("FirmSwap"))
	domainVersionHash = crypto.Keccak256Hash([]byte("1"))
)

// DomainSeparator computes keccak256(encode(EIP712DomainTypehash,
// keccak256("FirmSwap"), keccak256("1"), chainId, verifyingContract)).
func DomainSeparator(chainID int64, verifyingContract common.Address) common.Hash {
	data := make([]byte, 32*5)
	copy(data[0:32], EIP712DomainTypeHash.Bytes())
	copy(data[32:64], domainNameHash.Bytes())
	copy(data[64:96], domainVersionHash.Bytes())
	copy(data[96:128], math.U256Bytes(big.NewInt(chainID)))
	copy(data[128+12:160], verifyingContract.Bytes())
	return crypto.Keccak256Hash(data)
}

// StructHash encodes the quote's 11 fields in declaration order as
// left-padded 32-byte words behind the type hash.
func (q *Quote) StructHash() common.Hash {
	data := make([]byte, 32*12)

	copy(data[0:32], QuoteTypeHash.Bytes())
	copy(data[32+12:64], q.Solver.Bytes())
	copy(data[64+12:96], q.User.Bytes())
	copy(data[96+12:128], q.InputToken.Bytes())
	copy(data[128:160], math.U256Bytes(q.InputAmount))
	copy(data[160+12:192], q.OutputToken.Bytes())
	copy(data[192:224], math.U256Bytes(q.OutputAmount))
	copy(data[224:256], math.U256Bytes(big.NewInt(int64(q.OrderType))))
	copy(data[256:288], math.U256Bytes(q.OutputChainID))
	copy(data[288:320], math.U256Bytes(big.NewInt(q.DepositDeadline)))
	copy(data[320:352], math.U256Bytes(big.NewInt(q.FillDeadline)))
	copy(data[352:384], math.U256Bytes(q.Nonce))

	return crypto.Keccak256Hash(data)
}

// Digest is the typed-data digest: keccak256(0x1901 || domainSeparator ||
// structHash). Both chains and off-chain implementations must agree
// on chainID and verifyingContract to produce the same digest.
func (q *Quote) Digest(chainID int64, verifyingContract common.Address) common.Hash {
	domainSeparator := DomainSeparator(chainID, verifyingContract)
	structHash := q.StructHash()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// OrderID derives orderId = keccak256(encode(quoteHash, keccak256(solverSignature))).
func OrderID(quoteHash common.Hash, solverSignature []byte) common.Hash {
	sigHash := crypto.Keccak256Hash(solverSignature)
	return crypto.Keccak256Hash(quoteHash.Bytes(), sigHash.Bytes())
}
