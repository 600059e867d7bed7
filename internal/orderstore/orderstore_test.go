package orderstore

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder(id common.Hash) *Order {
	return FromQuote(id, 1, &quote.Quote{
		Solver:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		User:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		InputToken:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		InputAmount:  big.NewInt(1000),
		OutputToken:  common.HexToAddress("0x4444444444444444444444444444444444444444"),
		OutputAmount: big.NewInt(200),
		OrderType:    quote.ExactOutput,
		FillDeadline: 100,
	}, Deposited)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := common.HexToHash("0x01")

	require.NoError(t, store.Create(ctx, sampleOrder(id)))

	err := store.Create(ctx, sampleOrder(id))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrOrderAlreadyExists, appErr.Type)
}

func TestTransitionEnforcesExpectedState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := common.HexToHash("0x02")
	require.NoError(t, store.Create(ctx, sampleOrder(id)))

	require.NoError(t, store.Transition(ctx, id, Deposited, Settled))

	err := store.Transition(ctx, id, Deposited, Settled)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrOrderNotDeposited, appErr.Type)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Settled, got.State)
}

func TestGetUnknownOrderFails(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), common.HexToHash("0xdead"))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrOrderNotFound, appErr.Type)
}
