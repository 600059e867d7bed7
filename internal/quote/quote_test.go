package quote

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad test fixture int: " + s)
	}
	return n
}

func newTestSigner(t *testing.T, chainID int64, verifyingContract common.Address) *Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]

	s, err := NewSigner(keyHex, chainID, verifyingContract)
	require.NoError(t, err)
	return s
}

func sampleQuote(solver common.Address) *Quote {
	now := time.Now().Unix()
	return &Quote{
		Solver:          solver,
		User:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		InputToken:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		InputAmount:     mustBigInt("1148000000000000000000"),
		OutputToken:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		OutputAmount:    big.NewInt(200_000000),
		OrderType:       ExactOutput,
		OutputChainID:   big.NewInt(1),
		DepositDeadline: now + 300,
		FillDeadline:    now + 420,
		Nonce:           big.NewInt(0),
	}
}

func TestSignAndRecover(t *testing.T) {
	verifyingContract := common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead")
	signer := newTestSigner(t, 1, verifyingContract)
	q := sampleQuote(signer.Address())

	sig, err := signer.Sign(q)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	recovered, err := Recover(q, sig, 1, verifyingContract)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
	assert.True(t, VerifiesAsSolver(q, sig, 1, verifyingContract))
}

func TestRecoverFailsOnWrongChain(t *testing.T) {
	verifyingContract := common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead")
	signer := newTestSigner(t, 1, verifyingContract)
	q := sampleQuote(signer.Address())

	sig, err := signer.Sign(q)
	require.NoError(t, err)

	assert.False(t, VerifiesAsSolver(q, sig, 137, verifyingContract))
}

func TestStructHashDeterministic(t *testing.T) {
	q1 := sampleQuote(common.HexToAddress("0x4444444444444444444444444444444444444444"))
	q2 := sampleQuote(common.HexToAddress("0x4444444444444444444444444444444444444444"))
	q2.Nonce = new(big.Int).Set(q1.Nonce)
	q2.DepositDeadline = q1.DepositDeadline
	q2.FillDeadline = q1.FillDeadline

	assert.Equal(t, q1.StructHash(), q2.StructHash())

	q2.Nonce = big.NewInt(1)
	assert.NotEqual(t, q1.StructHash(), q2.StructHash())
}

func TestOrderIDDerivation(t *testing.T) {
	q := sampleQuote(common.HexToAddress("0x5555555555555555555555555555555555555555"))
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i)
	}

	id1 := OrderID(q.StructHash(), sig)
	id2 := OrderID(q.StructHash(), sig)
	assert.Equal(t, id1, id2)

	sig[0] = 0xff
	id3 := OrderID(q.StructHash(), sig)
	assert.NotEqual(t, id1, id3)
}

func TestValidateFieldInvariants(t *testing.T) {
	q := sampleQuote(common.HexToAddress("0x6666666666666666666666666666666666666666"))
	require.NoError(t, q.Validate(1))

	bad := *q
	bad.OutputAmount = big.NewInt(1)
	assert.Error(t, bad.Validate(1))

	bad2 := *q
	bad2.FillDeadline = bad2.DepositDeadline
	assert.Error(t, bad2.Validate(1))

	bad3 := *q
	bad3.OutputChainID = big.NewInt(137)
	assert.Error(t, bad3.Validate(1))
}
