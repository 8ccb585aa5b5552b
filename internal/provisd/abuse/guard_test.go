package abuse

import (
	"testing"
	"time"

	"github.com/provisboard/provisd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuard() (*Guard, *time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	g := New(map[string]Class{
		"command": {Window: time.Minute, MaxCount: 10, BlockFor: 5 * time.Minute},
	})
	g.now = func() time.Time { return now }
	return g, &now
}

func TestCheck_AllowsUpToLimit(t *testing.T) {
	g, _ := testGuard()

	for i := 0; i < 10; i++ {
		retryAfter, allowed := g.Check("198.51.100.7", "command")
		assert.True(t, allowed, "request %d within the limit must be allowed", i+1)
		assert.Zero(t, retryAfter)
	}
}

func TestCheck_EleventhRequestBlocks(t *testing.T) {
	g, now := testGuard()

	for i := 0; i < 10; i++ {
		_, allowed := g.Check("198.51.100.7", "command")
		require.True(t, allowed)
	}

	retryAfter, allowed := g.Check("198.51.100.7", "command")
	assert.False(t, allowed, "the 11th request within the window must be denied")
	assert.Positive(t, retryAfter)

	// The block holds even after the counting window has elapsed
	*now = now.Add(2 * time.Minute)
	retryAfter, allowed = g.Check("198.51.100.7", "command")
	assert.False(t, allowed, "block outlives window resets")
	assert.Equal(t, 3*time.Minute, retryAfter)

	// After the block duration the identity is allowed again
	*now = now.Add(3*time.Minute + time.Second)
	_, allowed = g.Check("198.51.100.7", "command")
	assert.True(t, allowed)
}

func TestCheck_WindowSlides(t *testing.T) {
	g, now := testGuard()

	for i := 0; i < 10; i++ {
		_, allowed := g.Check("198.51.100.7", "command")
		require.True(t, allowed)
	}

	// After the window has elapsed the counter has reset naturally
	*now = now.Add(61 * time.Second)
	_, allowed := g.Check("198.51.100.7", "command")
	assert.True(t, allowed)
}

func TestCheck_IdentitiesIndependent(t *testing.T) {
	g, _ := testGuard()

	for i := 0; i < 11; i++ {
		g.Check("198.51.100.7", "command")
	}

	_, allowed := g.Check("203.0.113.9", "command")
	assert.True(t, allowed, "one identity's block must not affect another")
}

func TestCheck_UnconfiguredClassAllowed(t *testing.T) {
	g, _ := testGuard()

	for i := 0; i < 100; i++ {
		_, allowed := g.Check("198.51.100.7", "unconfigured")
		assert.True(t, allowed)
	}
}

func TestRecord_FailuresCountExtra(t *testing.T) {
	g, _ := testGuard()

	// 5 admitted attempts, each recorded as failed: 10 hits total
	for i := 0; i < 5; i++ {
		_, allowed := g.Check("198.51.100.7", "command")
		require.True(t, allowed)
		g.Record("198.51.100.7", "command", false)
	}

	_, allowed := g.Check("198.51.100.7", "command")
	assert.False(t, allowed, "failure outcomes must exhaust the window faster")
}

func TestRecord_SuccessIsFree(t *testing.T) {
	g, _ := testGuard()

	for i := 0; i < 10; i++ {
		_, allowed := g.Check("198.51.100.7", "command")
		require.True(t, allowed)
		g.Record("198.51.100.7", "command", true)
	}

	// Without failure weighting the 10 checks alone sit exactly at the limit
	_, allowed := g.Check("198.51.100.7", "command")
	assert.False(t, allowed)
}

func TestUnblock(t *testing.T) {
	g, _ := testGuard()

	for i := 0; i < 11; i++ {
		g.Check("198.51.100.7", "command")
	}
	_, allowed := g.Check("198.51.100.7", "command")
	require.False(t, allowed)

	g.Unblock("198.51.100.7", "command")

	_, allowed = g.Check("198.51.100.7", "command")
	assert.True(t, allowed, "explicit unblock lifts the block immediately")
}

func TestSweep_KeepsBlockedEntries(t *testing.T) {
	g, now := testGuard()

	for i := 0; i < 11; i++ {
		g.Check("blocked-one", "command")
	}
	g.Check("idle-one", "command")

	// Move past the counting window but stay inside the block window
	*now = now.Add(2 * time.Minute)
	g.sweep()

	g.mu.Lock()
	_, blockedKept := g.entries[entryKey{identity: "blocked-one", action: "command"}]
	_, idleKept := g.entries[entryKey{identity: "idle-one", action: "command"}]
	g.mu.Unlock()

	assert.True(t, blockedKept, "sweep must not evict an entry inside its block window")
	assert.False(t, idleKept, "sweep evicts entries with an empty window and no block")

	// Still blocked after the sweep
	_, allowed := g.Check("blocked-one", "command")
	assert.False(t, allowed)
}

func TestNewFromConfig(t *testing.T) {
	g := NewFromConfig(&config.AbuseConfig{
		Classes: map[string]config.AbuseClassConfig{
			"delivery": {Window: "1m", MaxCount: 2, BlockFor: "1m"},
		},
	})

	_, allowed := g.Check("198.51.100.7", "delivery")
	assert.True(t, allowed)
	_, allowed = g.Check("198.51.100.7", "delivery")
	assert.True(t, allowed)
	_, allowed = g.Check("198.51.100.7", "delivery")
	assert.False(t, allowed)
}
