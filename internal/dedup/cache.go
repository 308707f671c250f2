// Package dedup suppresses re-processing of repeated webhook deliveries.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ospreybot/osprey/internal/channel"
)

// timestampBucket groups deliveries without a platform message id into
// windows so retried sends hash identically.
const timestampBucket = 30 * time.Second

// Fingerprint is the deterministic dedup identity for one inbound delivery.
type Fingerprint string

// FingerprintOf derives the fingerprint for a message: the platform message
// id when present, otherwise a hash of sender, chat, text, and a bucketed
// timestamp.
func FingerprintOf(msg channel.InboundMessage) Fingerprint {
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		return Fingerprint(fmt.Sprintf("%s:%s:%s", msg.Channel, msg.ChatID, id))
	}
	bucket := msg.ReceivedAt.Truncate(timestampBucket).Unix()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s|%d",
		msg.Channel, msg.ChatID, msg.Sender.ID, msg.Text, bucket))
	return Fingerprint(hex.EncodeToString(sum[:16]))
}

// Cache records seen fingerprints for a fixed retention window. It is safe
// for concurrent use.
type Cache struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[Fingerprint]time.Time

	now func() time.Time
}

// NewCache creates a Cache with the given retention window.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		ttl:  ttl,
		seen: make(map[Fingerprint]time.Time),
		now:  time.Now,
	}
}

// Accept reports whether the fingerprint has not been seen within the
// retention window, recording it on acceptance. A false return means the
// delivery is a duplicate and must not be processed or replied to.
func (c *Cache) Accept(fp Fingerprint) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(now)

	if expires, ok := c.seen[fp]; ok && expires.After(now) {
		return false
	}
	c.seen[fp] = now.Add(c.ttl)
	return true
}

// Sweep removes expired entries. Accept already purges opportunistically;
// this exists for the periodic sweeper.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(now)
}

func (c *Cache) purgeLocked(now time.Time) {
	for fp, expires := range c.seen {
		if !expires.After(now) {
			delete(c.seen, fp)
		}
	}
}
