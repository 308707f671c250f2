// Package conversation keeps a rolling per-chat message history with expiry.
package conversation

import (
	"sync"
	"time"

	"github.com/ospreybot/osprey/internal/channel"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation, oldest first in the stored sequence.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

type entry struct {
	turns        []Turn
	lastActivity time.Time
}

// Store holds per-conversation histories bounded in length and age.
// Expiry is lazy: entries are checked against the TTL on access, with an
// optional Sweep for the periodic sweeper. Safe for concurrent use.
type Store struct {
	maxTurns int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[channel.Key]*entry

	now func() time.Time
}

// NewStore creates a Store bounded to maxTurns user/assistant pairs per
// conversation, expiring conversations idle longer than ttl.
func NewStore(maxTurns int, ttl time.Duration) *Store {
	if maxTurns < 1 {
		maxTurns = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		maxTurns: maxTurns,
		ttl:      ttl,
		entries:  make(map[channel.Key]*entry),
		now:      time.Now,
	}
}

// Append adds a turn to the conversation, truncating the oldest turns when
// the bound is exceeded, and refreshes last activity.
func (s *Store) Append(key channel.Key, turn Turn) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil || s.expiredLocked(e, now) {
		e = &entry{}
		s.entries[key] = e
	}
	e.turns = append(e.turns, turn)

	maxMessages := s.maxTurns * 2
	if len(e.turns) > maxMessages {
		e.turns = append(e.turns[:0:0], e.turns[len(e.turns)-maxMessages:]...)
	}
	e.lastActivity = now
}

// AppendExchange records one user/assistant pair.
func (s *Store) AppendExchange(key channel.Key, userText, assistantText string) {
	now := s.now()
	s.Append(key, Turn{Role: RoleUser, Text: userText, Timestamp: now})
	s.Append(key, Turn{Role: RoleAssistant, Text: assistantText, Timestamp: now})
}

// Recent returns up to the last n turns in chronological order, or nil if
// the key is absent or expired. Reading refreshes last activity.
func (s *Store) Recent(key channel.Key, n int) []Turn {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		return nil
	}
	if s.expiredLocked(e, now) {
		delete(s.entries, key)
		return nil
	}
	e.lastActivity = now

	if n <= 0 || n > len(e.turns) {
		n = len(e.turns)
	}
	out := make([]Turn, n)
	copy(out, e.turns[len(e.turns)-n:])
	return out
}

// Sweep removes conversations idle past the TTL.
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if s.expiredLocked(e, now) {
			delete(s.entries, key)
		}
	}
}

func (s *Store) expiredLocked(e *entry, now time.Time) bool {
	return now.Sub(e.lastActivity) > s.ttl
}
