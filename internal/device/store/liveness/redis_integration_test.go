//go:build integration

package liveness_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicsync/internal/device/store/liveness"
	"clinicsync/pkg/testutil/containers"
)

func TestRedisTracker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	t.Run("touched devices are online until the ttl expires", func(t *testing.T) {
		tracker := liveness.NewRedisTracker(rc.Client, time.Second)
		require.NoError(t, tracker.Touch(ctx, "t1", "d1", time.Now().UTC()))

		online, err := tracker.Online(ctx, "t1", []string{"d1", "d2"})
		require.NoError(t, err)
		require.True(t, online["d1"])
		require.False(t, online["d2"])

		time.Sleep(1500 * time.Millisecond)
		online, err = tracker.Online(ctx, "t1", []string{"d1"})
		require.NoError(t, err)
		require.False(t, online["d1"])
	})

	t.Run("liveness is tenant scoped", func(t *testing.T) {
		tracker := liveness.NewRedisTracker(rc.Client, time.Minute)
		require.NoError(t, tracker.Touch(ctx, "t1", "d1", time.Now().UTC()))

		online, err := tracker.Online(ctx, "t2", []string{"d1"})
		require.NoError(t, err)
		require.False(t, online["d1"])
	})

	t.Run("empty lookup returns empty map", func(t *testing.T) {
		tracker := liveness.NewRedisTracker(rc.Client, time.Minute)
		online, err := tracker.Online(ctx, "t1", nil)
		require.NoError(t, err)
		require.Empty(t, online)
	})
}
