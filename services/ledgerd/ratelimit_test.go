package ledgerd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(1, 2)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("a"))
	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))
	require.True(t, limiter.allow("b"))

	now = now.Add(time.Second)
	require.True(t, limiter.allow("a"))
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("a"))
	now = now.Add(2 * visitorIdleTTL)
	require.True(t, limiter.allow("b"))
	require.Len(t, limiter.visitors, 1)
}
