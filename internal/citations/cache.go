// Package citations remembers the results behind the bot's latest search
// reply per conversation, so a follow-up "/source <claim>" can point at the
// pages a statement came from.
package citations

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ospreybot/osprey/internal/channel"
	"github.com/ospreybot/osprey/internal/search"
)

// MaxMatches bounds how many sources a single claim lookup returns.
const MaxMatches = 3

// substringBoost dominates any token-overlap score, so a verbatim claim
// always outranks fuzzy matches.
const substringBoost = 100

type entry struct {
	set      search.ResultSet
	storedAt time.Time
}

// Cache stores the most recent ResultSet per conversation with a TTL.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[channel.Key]entry

	now func() time.Time
}

// NewCache creates a Cache. A non-positive ttl falls back to 15 minutes.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[channel.Key]entry),
		now:     time.Now,
	}
}

// Put replaces the conversation's remembered results.
func (c *Cache) Put(key channel.Key, set search.ResultSet) {
	if set.Empty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{set: set, storedAt: c.now()}
}

// Get returns the conversation's remembered results, dropping them when
// expired.
func (c *Cache) Get(key channel.Key) (search.ResultSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return search.ResultSet{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return search.ResultSet{}, false
	}
	return e.set, true
}

// Clear drops the conversation's remembered results.
func (c *Cache) Clear(key channel.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes entries that expired before now.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

// Find scores the remembered results against a claim and returns up to
// MaxMatches sources, best first. A result whose title or snippet contains
// the whole claim gets a flat boost; otherwise the score is the number of
// claim tokens appearing in the result text. Results sharing a URL collapse
// to the first one seen.
func (c *Cache) Find(key channel.Key, claim string) []search.Result {
	set, ok := c.Get(key)
	if !ok {
		return nil
	}

	claim = strings.ToLower(strings.TrimSpace(claim))
	claimTokens := tokenize(claim)
	if claim == "" {
		return nil
	}

	type scored struct {
		result search.Result
		score  int
		index  int
	}

	var candidates []scored
	seen := make(map[string]bool)
	for i, r := range set.Results {
		urlKey := strings.ToLower(strings.TrimSpace(r.URL))
		if urlKey == "" || seen[urlKey] {
			continue
		}

		text := strings.ToLower(r.Title + " " + r.Snippet)
		score := 0
		if strings.Contains(text, claim) {
			score += substringBoost
		}
		textTokens := tokenSet(text)
		for _, tok := range claimTokens {
			if textTokens[tok] {
				score++
			}
		}
		if score == 0 {
			continue
		}
		seen[urlKey] = true
		candidates = append(candidates, scored{result: r, score: score, index: i})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].index < candidates[b].index
	})

	var matches []search.Result
	for _, s := range candidates {
		matches = append(matches, s.result)
		if len(matches) == MaxMatches {
			break
		}
	}
	return matches
}

// tokenize splits lowercased text into alphanumeric runs, keeping only
// tokens long enough to carry meaning.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text) {
		set[tok] = true
	}
	return set
}
