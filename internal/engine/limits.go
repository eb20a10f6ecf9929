// ABOUTME: Per-key rate limiters that live in the engine, not in sessions.
// ABOUTME: Limits survive logout and expiry; idle keys are forgotten once their bucket is full again.

package engine

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit allows Count events per Window with bursts up to Burst.
// A zero Count disables the limit.
type RateLimit struct {
	Count  int
	Window time.Duration
	Burst  int
}

func (r RateLimit) enabled() bool { return r.Count > 0 && r.Window > 0 }

func (r RateLimit) limit() rate.Limit {
	return rate.Every(r.Window / time.Duration(r.Count))
}

func (r RateLimit) burst() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return r.Count
}

// refill is how long an emptied bucket takes to fill up again.
func (r RateLimit) refill() time.Duration {
	return time.Duration(r.burst()) * r.Window / time.Duration(r.Count)
}

type limiterEntry struct {
	key      string
	limiter  *rate.Limiter
	lastUsed time.Time
}

// keyedLimiter applies one RateLimit independently to each key, such as a
// phone number or a user ID. A key unused for a full refill period holds a
// full bucket, so dropping it changes nothing.
type keyedLimiter struct {
	limit RateLimit
	idle  time.Duration

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // least recently used at front
}

// newKeyedLimiter returns nil for a disabled limit; a nil keyedLimiter
// allows everything.
func newKeyedLimiter(rl RateLimit) *keyedLimiter {
	if !rl.enabled() {
		return nil
	}
	return &keyedLimiter{
		limit: rl,
		idle:  rl.refill(),
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Allow reports whether one more event for key may happen at now.
func (k *keyedLimiter) Allow(key string, now time.Time) bool {
	if k == nil {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	k.evictLocked(now)

	var ent *limiterEntry
	if el, ok := k.index[key]; ok {
		ent = el.Value.(*limiterEntry)
		k.order.MoveToBack(el)
	} else {
		ent = &limiterEntry{key: key, limiter: rate.NewLimiter(k.limit.limit(), k.limit.burst())}
		k.index[key] = k.order.PushBack(ent)
	}
	if now.After(ent.lastUsed) {
		ent.lastUsed = now
	}
	return ent.limiter.AllowN(now, 1)
}

// Len returns the number of keys being tracked.
func (k *keyedLimiter) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.index)
}

func (k *keyedLimiter) evictLocked(now time.Time) {
	for el := k.order.Front(); el != nil; el = k.order.Front() {
		ent := el.Value.(*limiterEntry)
		if now.Sub(ent.lastUsed) < k.idle {
			return
		}
		k.order.Remove(el)
		delete(k.index, ent.key)
	}
}
