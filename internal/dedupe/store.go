// ABOUTME: Thread-safe TTL fingerprint store that collapses duplicate mutation attempts.
// ABOUTME: CheckAndMark is atomic so concurrent duplicates cannot both observe fresh.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultWindow is the deduplication window applied when none is configured.
const DefaultWindow = 30 * time.Second

// entry stores the timestamp and list element for a recorded fingerprint.
type entry struct {
	timestamp time.Time
	element   *list.Element
}

// Store tracks mutation fingerprints for the deduplication window. A
// doubly-linked list maintains insertion order for O(1) eviction when the
// size cap is reached. Expired entries are evicted lazily on access and
// swept by a background goroutine.
type Store struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // fingerprints in insertion order, oldest at front
	window  time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a store with the given dedup window and maximum entry count.
// Non-positive arguments fall back to defaults.
func New(window time.Duration, maxSize int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	s := &Store{
		seen:    make(map[string]*entry),
		order:   list.New(),
		window:  window,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// CheckAndRecord atomically consults and updates the store. It returns
// true if the fingerprint was recorded within the window (duplicate: the
// mutation must not execute again) and false if it is fresh and is now
// recorded. The check and the record are a single critical section, so at
// most one concurrent caller per fingerprint observes fresh.
func (s *Store) CheckAndRecord(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.seen[fingerprint]
	if ok {
		if time.Since(e.timestamp) < s.window {
			return true
		}
		// Expired: evict lazily and fall through to re-record.
		s.order.Remove(e.element)
		delete(s.seen, fingerprint)
	}

	s.recordLocked(fingerprint)
	return false
}

// Seen reports whether a fingerprint is recorded and unexpired, without
// recording it.
func (s *Store) Seen(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.seen[fingerprint]
	return ok && time.Since(e.timestamp) < s.window
}

// Len returns the number of recorded fingerprints, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// recordLocked inserts a fingerprint. Must be called with mu held.
func (s *Store) recordLocked(fingerprint string) {
	if len(s.seen) >= s.maxSize {
		s.evictOldestLocked()
	}
	elem := s.order.PushBack(fingerprint)
	s.seen[fingerprint] = &entry{timestamp: time.Now(), element: elem}
}

// evictOldestLocked removes the oldest entry. Must be called with mu held.
func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	fp, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, fp)
}

// sweep periodically removes expired fingerprints so a quiet store does
// not hold memory for fingerprints nobody will check again.
func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.done:
			return
		}
	}
}

func (s *Store) runSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for fp, e := range s.seen {
		if now.Sub(e.timestamp) >= s.window {
			s.order.Remove(e.element)
			delete(s.seen, fp)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
