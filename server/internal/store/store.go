package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/queuelab/queuelab/pkg/types"
)

// Entry is the latest observation of one source and the time it arrived.
type Entry struct {
	Observation types.Observation `json:"observation"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store is a thread-safe in-memory observation store keyed by source_id.
// A background goroutine (Run) evicts sources that stopped reporting.
// A TTL of zero disables expiry.
type Store struct {
	mu   sync.RWMutex
	data map[string]Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the observation for obs.SourceID and returns the
// stored entry.
func (s *Store) Put(obs types.Observation) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Entry{Observation: obs, UpdatedAt: s.now()}
	s.data[obs.SourceID] = e
	return e
}

// Get returns the live entry for sourceID. Entries past the TTL are reported
// as missing even before Evict removes them.
func (s *Store) Get(sourceID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[sourceID]
	if !ok || !s.live(e, s.now()) {
		return Entry{}, false
	}
	return e, true
}

// List returns all live entries ordered by source ID.
func (s *Store) List() []Entry {
	s.mu.RLock()
	now := s.now()
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.live(e, now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Observation.SourceID < out[j].Observation.SourceID
	})
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale sources every half TTL (minimum 1 second) until ctx is
// cancelled. With expiry disabled it only waits for cancellation.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale sources", "count", n)
			}
		}
	}
}

func (s *Store) live(e Entry, now time.Time) bool {
	if s.ttl <= 0 {
		return true
	}
	return e.UpdatedAt.After(now.Add(-s.ttl))
}
