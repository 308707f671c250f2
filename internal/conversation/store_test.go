package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospreybot/osprey/internal/channel"
)

var testKey = channel.Key{Channel: "telegram", ChatID: "42"}

func newTestStore(maxTurns int, ttl time.Duration) (*Store, *time.Time) {
	s := NewStore(maxTurns, ttl)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestRecentEmptyForUnknownKey(t *testing.T) {
	s, _ := newTestStore(3, time.Minute)
	assert.Nil(t, s.Recent(testKey, 10))
}

func TestAppendAndRecentChronological(t *testing.T) {
	s, _ := newTestStore(3, time.Minute)

	s.AppendExchange(testKey, "hello", "hi there")
	s.AppendExchange(testKey, "how are you", "fine")

	turns := s.Recent(testKey, 10)
	require.Len(t, turns, 4)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, RoleAssistant, turns[3].Role)
	assert.Equal(t, "fine", turns[3].Text)
}

func TestBoundTruncatesOldestFirst(t *testing.T) {
	s, _ := newTestStore(2, time.Minute)

	for i := 0; i < 5; i++ {
		s.AppendExchange(testKey, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := s.Recent(testKey, 100)
	require.Len(t, turns, 4) // 2 pairs
	assert.Equal(t, "q3", turns[0].Text)
	assert.Equal(t, "a3", turns[1].Text)
	assert.Equal(t, "q4", turns[2].Text)
	assert.Equal(t, "a4", turns[3].Text)
}

func TestBoundIsCountedInPairs(t *testing.T) {
	// maxTurns counts user/assistant pairs; the stored message bound is
	// exactly twice that, so callers size the store in pairs directly.
	s, _ := newTestStore(6, time.Minute)

	for i := 0; i < 30; i++ {
		s.AppendExchange(testKey, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := s.Recent(testKey, 0)
	assert.Len(t, turns, 12)
}

func TestRecentLimitsToLastN(t *testing.T) {
	s, _ := newTestStore(5, time.Minute)
	s.AppendExchange(testKey, "q1", "a1")
	s.AppendExchange(testKey, "q2", "a2")

	turns := s.Recent(testKey, 2)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[0].Text)
	assert.Equal(t, "a2", turns[1].Text)
}

func TestExpiryOnAccess(t *testing.T) {
	s, now := newTestStore(3, time.Minute)
	s.AppendExchange(testKey, "hello", "hi")

	*now = now.Add(2 * time.Minute)
	assert.Nil(t, s.Recent(testKey, 10))
}

func TestAccessRefreshesActivity(t *testing.T) {
	s, now := newTestStore(3, time.Minute)
	s.AppendExchange(testKey, "hello", "hi")

	*now = now.Add(40 * time.Second)
	require.NotNil(t, s.Recent(testKey, 10))

	*now = now.Add(40 * time.Second)
	assert.NotNil(t, s.Recent(testKey, 10), "read should have refreshed the TTL")
}

func TestSweepRemovesIdleConversations(t *testing.T) {
	s, now := newTestStore(3, time.Minute)
	s.AppendExchange(testKey, "hello", "hi")
	other := channel.Key{Channel: "discord", ChatID: "99"}
	s.AppendExchange(other, "yo", "hey")

	s.Sweep(now.Add(2 * time.Minute))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.entries)
}

func TestSeparateKeysIsolated(t *testing.T) {
	s, _ := newTestStore(3, time.Minute)
	a := channel.Key{Channel: "telegram", ChatID: "1"}
	b := channel.Key{Channel: "telegram", ChatID: "2"}

	s.AppendExchange(a, "qa", "aa")
	s.AppendExchange(b, "qb", "ab")

	assert.Equal(t, "qa", s.Recent(a, 10)[0].Text)
	assert.Equal(t, "qb", s.Recent(b, 10)[0].Text)
}
