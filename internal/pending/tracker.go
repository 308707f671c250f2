// Package pending tracks clarification questions the bot has asked and is
// still waiting on. An entry is consumed exactly once: the first short reply
// in the same conversation claims it, later replies start fresh.
package pending

import (
	"sync"
	"time"

	"github.com/ospreybot/osprey/internal/channel"
	"github.com/ospreybot/osprey/internal/search"
)

// Clarification is an unanswered question tied to one conversation.
type Clarification struct {
	Key       channel.Key
	Mode      search.Mode
	Query     string
	CreatedAt time.Time
}

// Tracker holds at most one Clarification per conversation with a TTL.
type Tracker struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[channel.Key]Clarification

	now func() time.Time
}

// NewTracker creates a Tracker. A non-positive ttl falls back to 5 minutes.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tracker{
		ttl:     ttl,
		entries: make(map[channel.Key]Clarification),
		now:     time.Now,
	}
}

// Set records a clarification for the conversation, replacing any earlier
// one that was never answered.
func (t *Tracker) Set(key channel.Key, mode search.Mode, query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = Clarification{
		Key:       key,
		Mode:      mode,
		Query:     query,
		CreatedAt: t.now(),
	}
}

// Take removes and returns the conversation's clarification. The removal
// happens under the same lock as the lookup, so concurrent callers cannot
// both claim the entry. Expired entries are dropped and reported as absent.
func (t *Tracker) Take(key channel.Key) (Clarification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[key]
	if !ok {
		return Clarification{}, false
	}
	delete(t.entries, key)
	if t.now().Sub(c.CreatedAt) > t.ttl {
		return Clarification{}, false
	}
	return c, true
}

// Clear drops the conversation's clarification without returning it.
func (t *Tracker) Clear(key channel.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Sweep removes entries that expired before now.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.entries {
		if now.Sub(c.CreatedAt) > t.ttl {
			delete(t.entries, key)
		}
	}
}
