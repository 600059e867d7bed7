package bond

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var solver = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func TestRegisterRejectsBelowMinimum(t *testing.T) {
	l := New()
	err := l.Register(solver, big.NewInt(1))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrBelowMinimumBond, appErr.Type)
}

func TestReserveAndRelease(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, big.NewInt(2_000_000_000)))

	output := big.NewInt(200_000000) // 200 * 1e6
	require.NoError(t, l.ReserveFor(solver, output))

	rec, ok := l.Get(solver)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(10_000000), rec.ReservedBond) // 5% of 200e6
	assert.True(t, rec.ReservedBond.Cmp(rec.TotalBond) <= 0)

	l.Release(solver, output)
	rec, _ = l.Get(solver)
	assert.Equal(t, int64(0), rec.ReservedBond.Int64())
}

func TestSlashOnDefault(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, big.NewInt(2_000_000_000)))
	output := big.NewInt(200_000000)
	require.NoError(t, l.ReserveFor(solver, output))

	slashed := l.Slash(solver, output)
	assert.Equal(t, big.NewInt(10_000000), slashed)

	rec, _ := l.Get(solver)
	assert.Equal(t, big.NewInt(1_990_000_000), rec.TotalBond)
	assert.Equal(t, int64(0), rec.ReservedBond.Int64())
}

func TestSlashClampedToTotalBond(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, MinBond))
	// Reservation (5% of a huge output) would exceed totalBond; slash clamps.
	huge := new(big.Int).Mul(MinBond, big.NewInt(1000))
	slashed := l.Slash(solver, huge)

	rec, _ := l.Get(solver)
	assert.Equal(t, int64(0), rec.TotalBond.Int64())
	assert.Equal(t, slashed, MinBond)
}

func TestUnstakeLifecycle(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, big.NewInt(2_000_000_000)))

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, l.RequestUnstake(solver, big.NewInt(500_000_000), now))

	err := l.RequestUnstake(solver, big.NewInt(1), now)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrPendingUnstakeExists, appErr.Type)

	_, err = l.ExecuteUnstake(solver, now)
	require.Error(t, err)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrUnstakeNotReady, appErr.Type)

	matured := now.Add(UnstakeDelay)
	amount, err := l.ExecuteUnstake(solver, matured)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500_000_000), amount)

	rec, _ := l.Get(solver)
	assert.Equal(t, big.NewInt(1_500_000_000), rec.TotalBond)
	assert.False(t, rec.PendingUnstake)
}

func TestUnstakeRejectsBelowMinimumRemainder(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, MinBond))
	err := l.RequestUnstake(solver, big.NewInt(1), time.Now())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrBelowMinimumBond, appErr.Type)
}

func TestReservedNeverExceedsTotal(t *testing.T) {
	l := New()
	require.NoError(t, l.Register(solver, big.NewInt(1_000_000_000)))
	// Output whose 5% reservation would exceed available bond.
	err := l.ReserveFor(solver, big.NewInt(25_000_000_000))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrInsufficientBond, appErr.Type)

	rec, _ := l.Get(solver)
	assert.True(t, rec.ReservedBond.Cmp(rec.TotalBond) <= 0)
}
