package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ospreybot/osprey/internal/channel"
)

func TestKeyLocksSerializeSameKey(t *testing.T) {
	locks := newKeyLocks()
	key := channel.Key{Channel: "telegram", ChatID: "1"}

	var active, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestKeyLocksDifferentKeysRunInParallel(t *testing.T) {
	locks := newKeyLocks()
	keyA := channel.Key{Channel: "telegram", ChatID: "a"}
	keyB := channel.Key{Channel: "telegram", ChatID: "b"}

	unlockA := locks.Lock(keyA)
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB := locks.Lock(keyB)
		close(acquired)
		unlockB()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock for an unrelated key blocked behind a held lock")
	}
}

func TestKeyLocksEntryRemovedAfterLastUnlock(t *testing.T) {
	locks := newKeyLocks()
	key := channel.Key{Channel: "telegram", ChatID: "1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			unlock()
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestHandleMessageSerializesPerConversation(t *testing.T) {
	f := newFixture(t, nil)

	var active, overlaps int32
	f.completer.hook = func() {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	msgs := make([]channel.InboundMessage, 8)
	for i := range msgs {
		msgs[i] = inbound("hello there friend")
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(m channel.InboundMessage) {
			defer wg.Done()
			_, err := f.engine.HandleMessage(context.Background(), m)
			assert.NoError(t, err)
		}(msg)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlaps))
	assert.Equal(t, 8, f.completer.calls)
}
