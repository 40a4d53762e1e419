package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	ok, _ := limiter.Allow("a")
	require.True(t, ok, "first request passes")
	ok, wait := limiter.Allow("a")
	require.False(t, ok, "second request is limited")
	require.Equal(t, time.Minute, wait)

	now = now.Add(time.Minute)
	ok, _ = limiter.Allow("a")
	require.True(t, ok, "request after the window passes")
}

func TestWindowLimiterEmptyKeySharesBucket(t *testing.T) {
	limiter := newSimpleRateLimiter(1, time.Minute, nil)
	ok, _ := limiter.Allow("")
	require.True(t, ok)
	ok, _ = limiter.Allow("  ")
	require.False(t, ok, "blank keys share the unknown bucket")
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	require.Nil(t, newSimpleRateLimiter(0, time.Minute, nil))
	require.Nil(t, newSimpleRateLimiter(5, 0, nil))
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		1500 * time.Millisecond: 2,
		40 * time.Second:        40,
	}
	for wait, want := range cases {
		require.Equal(t, want, retryAfterSeconds(wait), wait.String())
	}
}
