// Package tracker implements the in-memory voice session tracker.
// State is scoped to the running process: every start begins with an empty
// map, and in-flight sessions are silently lost on restart. Gateway dispatch
// may deliver enter/leave concurrently for different users, so the map is
// sharded with a per-shard mutex keyed by user ID; a leave's duration read
// can never race a concurrent enter's overwrite for the same user.
package tracker

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shiva-hub/shiva-voice-hub/internal/domain/session"
	"github.com/shiva-hub/shiva-voice-hub/internal/domain/shared"
)

// shardCount is a power of two so the hash can be masked.
const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[shared.UserID]session.Session
}

// MemoryTracker implements session.Tracker.
type MemoryTracker struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Option configures the tracker.
type Option func(*MemoryTracker)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *MemoryTracker) {
		t.now = now
	}
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker(opts ...Option) *MemoryTracker {
	t := &MemoryTracker{now: time.Now}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[shared.UserID]session.Session)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTracker) shardFor(userID shared.UserID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return t.shards[h.Sum32()&(shardCount-1)]
}

// Enter implements session.Tracker. A second enter for an already-tracked
// user overwrites the start timestamp; only the latest start governs the
// next leave's duration.
func (t *MemoryTracker) Enter(userID shared.UserID, guildID shared.GuildID, channelID shared.ChannelID) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[userID] = session.Session{
		UserID:    userID,
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: t.now(),
	}
}

// Leave implements session.Tracker.
func (t *MemoryTracker) Leave(userID shared.UserID) (session.Session, bool) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return session.Session{}, false
	}
	delete(s.sessions, userID)
	return sess, true
}

// Discard implements session.Tracker.
func (t *MemoryTracker) Discard(userID shared.UserID) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Active implements session.Tracker.
func (t *MemoryTracker) Active(userID shared.UserID) (session.Session, bool) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	return sess, ok
}

// Len implements session.Tracker.
func (t *MemoryTracker) Len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.sessions)
		s.mu.Unlock()
	}
	return total
}

// Sweep implements session.Tracker. Removes sessions older than maxAge;
// their time is forfeit, matching the restart-loses-sessions contract.
func (t *MemoryTracker) Sweep(maxAge time.Duration) int {
	now := t.now()
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for userID, sess := range s.sessions {
			if sess.Age(now) > maxAge {
				delete(s.sessions, userID)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
