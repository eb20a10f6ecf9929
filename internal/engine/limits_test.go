// ABOUTME: Tests for the engine's per-key rate limiters.
// ABOUTME: Keys are independent, refill over the window, and idle keys are forgotten.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_PerKey(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k := newKeyedLimiter(RateLimit{Count: 3, Window: 10 * time.Minute})

	for i := 0; i < 3; i++ {
		assert.True(t, k.Allow("+254712345678", now))
	}
	assert.False(t, k.Allow("+254712345678", now))
	assert.True(t, k.Allow("+254700000001", now), "other keys have their own bucket")

	// One event comes back per Window/Count.
	assert.True(t, k.Allow("+254712345678", now.Add(201*time.Second)))
	assert.False(t, k.Allow("+254712345678", now.Add(201*time.Second)))
}

func TestKeyedLimiter_ForgetsIdleKeys(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k := newKeyedLimiter(RateLimit{Count: 3, Window: 10 * time.Minute})

	k.Allow("a", now)
	k.Allow("b", now.Add(5*time.Minute))
	assert.Equal(t, 2, k.Len())

	// "a" has been idle for a full refill; "b" has not.
	k.Allow("c", now.Add(10*time.Minute))
	assert.Equal(t, 2, k.Len())

	k.Allow("c", now.Add(30*time.Minute))
	assert.Equal(t, 1, k.Len())
}

func TestKeyedLimiter_EvictionKeepsLimit(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k := newKeyedLimiter(RateLimit{Count: 2, Window: time.Minute})

	assert.True(t, k.Allow("u", now))
	assert.True(t, k.Allow("u", now))
	// Other traffic sweeps before the bucket has refilled; "u" must stay.
	k.Allow("v", now.Add(10*time.Second))
	assert.False(t, k.Allow("u", now.Add(10*time.Second)))
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	k := newKeyedLimiter(RateLimit{})
	assert.Nil(t, k)
	for i := 0; i < 100; i++ {
		assert.True(t, k.Allow("u", time.Now()))
	}
	assert.Zero(t, k.Len())
}

func TestRateLimit_Burst(t *testing.T) {
	rl := RateLimit{Count: 5, Window: 5 * time.Minute, Burst: 2}
	assert.Equal(t, 2, rl.burst())
	assert.Equal(t, 2*time.Minute, rl.refill())

	rl.Burst = 0
	assert.Equal(t, 5, rl.burst())
	assert.Equal(t, 5*time.Minute, rl.refill())
}
