package peerpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/chainiface"
)

func TestDiscoverPopulatesPriorityChain(t *testing.T) {
	driver := chainiface.NewMemDriver()
	driver.Hints["store1"] = []chainiface.CoinHint{{Address: "peer-from-chain"}}

	pool := New()
	err := pool.Discover(context.Background(), Sources{
		TrustedNode:     "trusted",
		Localhost:       "localhost",
		IntroducerHosts: []string{"intro1", "intro2"},
		ChainDriver:     driver,
		StoreID:         "store1",
	})
	require.NoError(t, err)

	snap := pool.Snapshot()
	require.Contains(t, snap, "trusted")
	require.Contains(t, snap, "localhost")
	require.Contains(t, snap, "intro1")
	require.Contains(t, snap, "peer-from-chain")
}

func TestNextRoundRobins(t *testing.T) {
	pool := New()
	pool.addPeer("a", defaultWeight)
	pool.addPeer("b", defaultWeight)

	first, ok := pool.Next()
	require.True(t, ok)
	second, ok := pool.Next()
	require.True(t, ok)
	third, ok := pool.Next()
	require.True(t, ok)
	require.Equal(t, first, third)
	require.NotEqual(t, first, second)
}

func TestMarkFailureEvictsAtZeroWeight(t *testing.T) {
	pool := New()
	pool.addPeer("a", 1)
	pool.MarkFailure("a")

	_, ok := pool.Next()
	require.False(t, ok)
}

func TestDoRetriesOnFailure(t *testing.T) {
	pool := New()
	pool.addPeer("a", 3)
	pool.addPeer("b", 3)

	attempts := 0
	err := pool.Do(context.Background(), func(ctx context.Context, addr string) error {
		attempts++
		if addr == "a" {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts, 1)
}
