package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiterBurst(t *testing.T) {
	limiter := newRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(), "message %d", i)
	}
	assert.False(t, limiter.Allow())
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := newRateLimiter(2, 100*time.Millisecond)
	assert.Equal(t, rate.Every(50*time.Millisecond), limiter.Limit())

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	assert.Eventually(t, limiter.Allow, time.Second, 10*time.Millisecond)
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := newRateLimiter(0, 0)

	assert.Equal(t, 1, limiter.Burst())
	assert.Equal(t, rate.Every(time.Second), limiter.Limit())
}
