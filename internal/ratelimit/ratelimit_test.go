package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaybroker/brokerd/internal/ratelimit"
)

// TestS4_RateLimit mirrors spec.md §8 scenario S4: max=2, window=60s,
// cooldown=0. Three messages from alice within 10s: first two allowed,
// third rejected.
func TestS4_RateLimit(t *testing.T) {
	l := ratelimit.New(true, 2, 60*time.Second, 0)
	base := time.Now()

	assert.True(t, l.TryAcquire("alice", base))
	assert.True(t, l.TryAcquire("alice", base.Add(3*time.Second)))
	assert.False(t, l.TryAcquire("alice", base.Add(9*time.Second)))
}

func TestTryAcquire_WindowSlidesOut(t *testing.T) {
	l := ratelimit.New(true, 1, 10*time.Second, 0)
	base := time.Now()

	assert.True(t, l.TryAcquire("alice", base))
	assert.False(t, l.TryAcquire("alice", base.Add(5*time.Second)))
	assert.True(t, l.TryAcquire("alice", base.Add(11*time.Second)))
}

func TestTryAcquire_CooldownEnforced(t *testing.T) {
	l := ratelimit.New(true, 100, time.Minute, 5*time.Second)
	base := time.Now()

	assert.True(t, l.TryAcquire("alice", base))
	assert.False(t, l.TryAcquire("alice", base.Add(2*time.Second)))
	assert.True(t, l.TryAcquire("alice", base.Add(6*time.Second)))
}

func TestTryAcquire_PerAgentIsolation(t *testing.T) {
	l := ratelimit.New(true, 1, time.Minute, 0)
	base := time.Now()

	assert.True(t, l.TryAcquire("alice", base))
	assert.True(t, l.TryAcquire("bob", base))
}

func TestTryAcquire_DisabledAlwaysAllows(t *testing.T) {
	l := ratelimit.New(false, 1, time.Minute, 0)
	base := time.Now()

	assert.True(t, l.TryAcquire("alice", base))
	assert.True(t, l.TryAcquire("alice", base))
	assert.True(t, l.TryAcquire("alice", base))
}
