package ledger

import (
	"context"
	"fmt"
	"sync"
)

// SequenceAuthority hands out strictly increasing sequence numbers. It is the
// single serialization point for every appender in the process. Tests supply
// a deterministic fake; multi-instance deployments swap in a shared authority
// (store-native sequence or counter service).
type SequenceAuthority interface {
	Next() int64
}

// Counter is the in-process authority: a mutex-guarded counter seeded from
// the store's maximum persisted sequence before any request is served, so no
// number is ever reused across restarts.
type Counter struct {
	mu   sync.Mutex
	last int64
}

// NewCounter returns a counter that continues after seed.
func NewCounter(seed int64) *Counter {
	return &Counter{last: seed}
}

// SeedCounter builds a Counter from the store's max persisted sequence.
func SeedCounter(ctx context.Context, store Store) (*Counter, error) {
	max, err := store.MaxSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed sequence counter: %w", err)
	}
	return NewCounter(max), nil
}

func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}
