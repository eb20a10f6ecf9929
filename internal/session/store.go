// ABOUTME: Concurrent in-memory session store keyed by channel-scoped user ID.
// ABOUTME: Sharded by xxhash; each user has an exclusive lease for the length of a turn.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

// entry owns one user's session. mu is the per-user lock held by a Lease.
type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Info is a point-in-time summary of a session used by the reaper and diagnostics.
type Info struct {
	UserID       string
	Channel      string
	State        State
	LastActivity time.Time
	Version      uint64
}

// StoreConfig configures a Store.
type StoreConfig struct {
	HistoryLimit int
	Shards       int
	Now          func() time.Time
}

// Store holds at most one session per user ID.
type Store struct {
	shards       []*shard
	historyLimit int
	now          func() time.Time
	logger       *slog.Logger
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	st := &Store{
		shards:       make([]*shard, n),
		historyLimit: cfg.HistoryLimit,
		now:          now,
		logger:       slog.Default().With("component", "session_store"),
	}
	for i := range st.shards {
		st.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return st
}

func (st *Store) shardFor(userID string) *shard {
	return st.shards[xxhash.Sum64String(userID)%uint64(len(st.shards))]
}

// lookup returns the entry for userID, creating a fresh init session if
// create is set and none exists.
func (st *Store) lookup(userID, channel string, create bool) *entry {
	sh := st.shardFor(userID)

	sh.mu.RLock()
	e, ok := sh.entries[userID]
	sh.mu.RUnlock()
	if ok || !create {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[userID]; ok {
		return e
	}
	e = &entry{session: New(userID, channel, st.historyLimit, st.now())}
	sh.entries[userID] = e
	st.logger.Debug("session created", "user_id", userID, "channel", channel)
	return e
}

// lock returns the locked, live entry for userID. The caller must unlock it.
func (st *Store) lock(userID, channel string) *entry {
	for {
		e := st.lookup(userID, channel, true)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		// Deleted between lookup and lock; a new entry will be created.
		e.mu.Unlock()
	}
}

// remove drops e from its shard. The caller holds e.mu.
func (st *Store) remove(userID string, e *entry) {
	sh := st.shardFor(userID)
	sh.mu.Lock()
	if sh.entries[userID] == e {
		delete(sh.entries, userID)
	}
	sh.mu.Unlock()
	e.removed = true
}

// GetOrCreate returns a copy of the user's session, creating an init session
// if none exists.
func (st *Store) GetOrCreate(userID string) *Session {
	e := st.lock(userID, "")
	defer e.mu.Unlock()
	return e.session.Clone()
}

// Get returns a copy of the user's session, or false if there is none.
func (st *Store) Get(userID string) (*Session, bool) {
	e := st.lookup(userID, "", false)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	return e.session.Clone(), true
}

// Save atomically replaces the stored session for s.UserID.
func (st *Store) Save(s *Session) {
	e := st.lock(s.UserID, s.Channel)
	defer e.mu.Unlock()
	st.replace(e, s)
}

func (st *Store) replace(e *entry, s *Session) {
	c := s.Clone()
	c.Version = e.session.Version + 1
	s.Version = c.Version
	e.session = c
}

// Delete removes the user's session, waiting for any in-flight turn to finish.
// It reports whether a session existed.
func (st *Store) Delete(userID string) bool {
	e := st.lookup(userID, "", false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	st.remove(userID, e)
	return true
}

// CompareAndDelete removes the session only if it is not leased and its
// version still equals version. It never blocks on an in-flight turn.
func (st *Store) CompareAndDelete(userID string, version uint64) bool {
	e := st.lookup(userID, "", false)
	if e == nil {
		return false
	}
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	if e.removed || e.session.Version != version {
		return false
	}
	st.remove(userID, e)
	return true
}

// Snapshot summarizes every session not currently leased.
func (st *Store) Snapshot() []Info {
	var out []Info
	for _, sh := range st.shards {
		sh.mu.RLock()
		for id, e := range sh.entries {
			if !e.mu.TryLock() {
				continue
			}
			s := e.session
			out = append(out, Info{
				UserID:       id,
				Channel:      s.Channel,
				State:        s.State,
				LastActivity: s.LastActivity,
				Version:      s.Version,
			})
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return out
}

// Count reports the number of live sessions.
func (st *Store) Count() int {
	n := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Acquire takes the user's exclusive lease, creating an init session if needed.
// Turns for the same user are serialized by the lease; other users are unaffected.
func (st *Store) Acquire(userID, channel string) *Lease {
	e := st.lock(userID, channel)
	return &Lease{
		store:   st,
		userID:  userID,
		entry:   e,
		working: e.session.Clone(),
	}
}

// Lease is exclusive access to one session for the duration of a turn.
type Lease struct {
	store    *Store
	userID   string
	entry    *entry
	working  *Session
	released bool
}

// Session returns the working copy. Changes are discarded unless Save is called.
func (l *Lease) Session() *Session { return l.working }

// Save commits the working copy.
func (l *Lease) Save() {
	if l.released || l.entry.removed {
		return
	}
	l.store.replace(l.entry, l.working)
}

// Delete removes the session from the store.
func (l *Lease) Delete() {
	if l.released || l.entry.removed {
		return
	}
	l.store.remove(l.userID, l.entry)
}

// Release gives up the lease. It is safe to call more than once.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.entry.mu.Unlock()
}
