package chainreader

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheHitAvoidsExpiry(t *testing.T) {
	r := New("http://localhost:1", time.Minute, time.Second, 0)
	r.cacheSet("k", big.NewInt(42))

	v, ok := r.cacheGet("k")
	assert.True(t, ok)
	assert.Equal(t, big.NewInt(42), v)
}

func TestCacheExpires(t *testing.T) {
	r := New("http://localhost:1", time.Millisecond, time.Second, 0)
	r.cacheSet("k", big.NewInt(1))
	time.Sleep(5 * time.Millisecond)

	_, ok := r.cacheGet("k")
	assert.False(t, ok)
}

func TestShouldRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, shouldRetry(ctx, 0, 3))
}

func TestShouldRetryRespectsMax(t *testing.T) {
	ctx := context.Background()
	assert.False(t, shouldRetry(ctx, 2, 2))
}
