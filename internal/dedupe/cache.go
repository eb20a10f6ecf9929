// ABOUTME: TTL cache of platform message IDs already handed to the engine.
// ABOUTME: Drops adapter redeliveries so a message never runs two turns.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

type seenMessage struct {
	key    string
	seenAt time.Time
}

// Config configures a Cache.
type Config struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
	Now             func() time.Time
}

// Cache remembers (channel, message ID) pairs for a TTL, bounded by size.
// The oldest entry is evicted first when full.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background expiry loop.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

func key(channel, messageID string) string {
	return channel + "\x00" + messageID
}

// Seen reports whether the message was already recorded and not expired,
// recording it if not. An empty message ID is never considered a duplicate.
func (c *Cache) Seen(channel, messageID string) bool {
	if messageID == "" {
		return false
	}
	k := key(channel, messageID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		m := el.Value.(*seenMessage)
		if now.Sub(m.seenAt) < c.ttl {
			return true
		}
		// Expired: treat as new and refresh its position.
		m.seenAt = now
		c.order.MoveToBack(el)
		return false
	}

	if len(c.index) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.index[k] = c.order.PushBack(&seenMessage{key: k, seenAt: now})
	return false
}

// Len reports the number of remembered messages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*seenMessage).key)
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// expire drops entries older than the TTL. Entries are ordered by seenAt,
// so the scan stops at the first live one.
func (c *Cache) expire() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		m := el.Value.(*seenMessage)
		if now.Sub(m.seenAt) < c.ttl {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, m.key)
		el = next
	}
}

// Close stops the expiry loop. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
