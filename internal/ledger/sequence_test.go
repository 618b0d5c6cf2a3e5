package ledger_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clinicsync/internal/ledger"
)

func TestCounterContinuesAfterSeed(t *testing.T) {
	c := ledger.NewCounter(41)
	require.Equal(t, int64(42), c.Next())
	require.Equal(t, int64(43), c.Next())
}

func TestCounterIsSafeForConcurrentUse(t *testing.T) {
	const goroutines = 32
	const perGoroutine = 100

	c := ledger.NewCounter(0)
	results := make([][]int64, goroutines)

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				results[g] = append(results[g], c.Next())
			}
		}()
	}
	wg.Wait()

	var all []int64
	for _, r := range results {
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	require.Len(t, all, goroutines*perGoroutine)
	for i, v := range all {
		require.Equal(t, int64(i+1), v, "sequence numbers must be dense and unique")
	}
}
