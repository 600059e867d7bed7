package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllEndpoints struct{}

func (allowAllEndpoints) Validate(context.Context, string) error { return nil }

func TestRegisterAndList(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	reg := New(NewMemoryStore(), nil, allowAllEndpoints{}, Config{})
	now := time.Now()
	sig, err := SignRegistration(key, address, "https://solver.example.com", now.UnixMilli())
	require.NoError(t, err)

	rec, err := reg.Register(context.Background(), 1, RegisterRequest{
		Address: address, Endpoint: "https://solver.example.com", Timestamp: now.UnixMilli(), Signature: sig,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "https://solver.example.com", rec.Endpoint)

	list, err := reg.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	otherChain, err := reg.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, otherChain, "registration scoped to chainId must not leak to another chain")
}

func TestRegisterRejectsWrongSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	reg := New(NewMemoryStore(), nil, allowAllEndpoints{}, Config{})
	now := time.Now()
	sig, err := SignRegistration(otherKey, address, "https://solver.example.com", now.UnixMilli())
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), 1, RegisterRequest{
		Address: address, Endpoint: "https://solver.example.com", Timestamp: now.UnixMilli(), Signature: sig,
	}, now)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrInvalidSignature, appErr.Type)
}

func TestRegisterRejectsStaleTimestamp(t *testing.T) {
	key, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	reg := New(NewMemoryStore(), nil, allowAllEndpoints{}, Config{})
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	sig, err := SignRegistration(key, address, "https://solver.example.com", stale.UnixMilli())
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), 1, RegisterRequest{
		Address: address, Endpoint: "https://solver.example.com", Timestamp: stale.UnixMilli(), Signature: sig,
	}, now)
	require.Error(t, err)
}

func TestRegisterRejectsPastCap(t *testing.T) {
	reg := New(NewMemoryStore(), nil, allowAllEndpoints{}, Config{MaxPerChain: 1})
	now := time.Now()

	key1, _ := crypto.GenerateKey()
	addr1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	sig1, _ := SignRegistration(key1, addr1, "https://a.example.com", now.UnixMilli())
	_, err := reg.Register(context.Background(), 1, RegisterRequest{Address: addr1, Endpoint: "https://a.example.com", Timestamp: now.UnixMilli(), Signature: sig1}, now)
	require.NoError(t, err)

	key2, _ := crypto.GenerateKey()
	addr2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()
	sig2, _ := SignRegistration(key2, addr2, "https://b.example.com", now.UnixMilli())
	_, err = reg.Register(context.Background(), 1, RegisterRequest{Address: addr2, Endpoint: "https://b.example.com", Timestamp: now.UnixMilli(), Signature: sig2}, now)
	require.Error(t, err)
}

func TestUnregister(t *testing.T) {
	key, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(key.PublicKey)

	reg := New(NewMemoryStore(), nil, allowAllEndpoints{}, Config{})
	now := time.Now()
	sig, _ := SignRegistration(key, address.Hex(), "https://solver.example.com", now.UnixMilli())
	_, err := reg.Register(context.Background(), 1, RegisterRequest{Address: address.Hex(), Endpoint: "https://solver.example.com", Timestamp: now.UnixMilli(), Signature: sig}, now)
	require.NoError(t, err)

	unregSig, _ := SignUnregistration(key, address.Hex(), now.UnixMilli())
	err = reg.Unregister(context.Background(), 1, address, UnregisterRequest{Timestamp: now.UnixMilli(), Signature: unregSig}, now)
	require.NoError(t, err)

	_, found, err := reg.Get(context.Background(), 1, address)
	require.NoError(t, err)
	assert.False(t, found)
}
