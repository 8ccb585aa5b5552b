// Package abuse provides sliding-window rate limiting with temporary
// blocking per (identity, action class).
package abuse

import (
	"context"
	"sync"
	"time"

	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/logger"
)

// Class configures one action class
type Class struct {
	Window   time.Duration
	MaxCount int
	BlockFor time.Duration
}

// Guard tracks request counts per (identity, action class) over a sliding
// window and blocks an identity once the class limit is exceeded. Counting
// state and blocking state are independent: the window forgetting old hits
// does not lift a block, only block expiry or an explicit Unblock does.
type Guard struct {
	mu      sync.Mutex
	classes map[string]Class
	entries map[entryKey]*entry
	logger  *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

type entryKey struct {
	identity string
	action   string
}

type entry struct {
	hits         []time.Time
	blockedUntil time.Time
}

// New creates a guard with the given action classes
func New(classes map[string]Class) *Guard {
	return &Guard{
		classes: classes,
		entries: make(map[entryKey]*entry),
		logger:  logger.WithField("component", "abuse-guard"),
		now:     time.Now,
	}
}

// NewFromConfig creates a guard from validated configuration
func NewFromConfig(cfg *config.AbuseConfig) *Guard {
	classes := make(map[string]Class, len(cfg.Classes))
	for name, c := range cfg.Classes {
		classes[name] = Class{
			Window:   config.MustDuration(c.Window),
			MaxCount: c.MaxCount,
			BlockFor: config.MustDuration(c.BlockFor),
		}
	}
	return New(classes)
}

// Check records one attempt for (identity, action) and reports whether it is
// allowed. When blocked, retryAfter is the positive time remaining until the
// block lifts. Unconfigured action classes are always allowed.
func (g *Guard) Check(identity, action string) (retryAfter time.Duration, allowed bool) {
	class, configured := g.classes[action]
	if !configured {
		return 0, true
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(identity, action)

	if e.blockedUntil.After(now) {
		return e.blockedUntil.Sub(now), false
	}

	e.hits = trimBefore(e.hits, now.Add(-class.Window))
	e.hits = append(e.hits, now)

	if len(e.hits) > class.MaxCount {
		e.blockedUntil = now.Add(class.BlockFor)
		e.hits = nil
		g.logger.Warn("identity blocked",
			"identity", identity,
			"action", action,
			"blockFor", class.BlockFor)
		return class.BlockFor, false
	}

	return 0, true
}

// Record notes the outcome of an attempt already admitted by Check. Failed
// outcomes count an extra hit so that repeated bad requests (invalid tokens,
// unknown artifacts) exhaust the window faster than honest traffic.
func (g *Guard) Record(identity, action string, ok bool) {
	if ok {
		return
	}
	class, configured := g.classes[action]
	if !configured {
		return
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(identity, action)
	if e.blockedUntil.After(now) {
		return
	}

	e.hits = trimBefore(e.hits, now.Add(-class.Window))
	e.hits = append(e.hits, now)
	if len(e.hits) > class.MaxCount {
		e.blockedUntil = now.Add(class.BlockFor)
		e.hits = nil
	}
}

// Unblock lifts a block explicitly and clears the counting window
func (g *Guard) Unblock(identity, action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, entryKey{identity: identity, action: action})
}

// Run sweeps expired entries until ctx is done. An entry still inside its
// block window is never evicted, whatever its hit history looks like.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Guard) sweep() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, e := range g.entries {
		if e.blockedUntil.After(now) {
			continue
		}
		class, configured := g.classes[key.action]
		if !configured {
			delete(g.entries, key)
			continue
		}
		if len(trimBefore(e.hits, now.Add(-class.Window))) == 0 {
			delete(g.entries, key)
		}
	}
}

// entry returns the tracked entry for a key, creating it if needed.
// Callers must hold g.mu.
func (g *Guard) entry(identity, action string) *entry {
	key := entryKey{identity: identity, action: action}
	e, exists := g.entries[key]
	if !exists {
		e = &entry{}
		g.entries[key] = e
	}
	return e
}

func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	out := make([]time.Time, len(hits)-i)
	copy(out, hits[i:])
	return out
}
