package windowstore

import (
	"context"
	"sync"
	"time"
)

type record struct {
	actor string
	at    time.Time
}

type MemWindowStore struct {
	mu        sync.Mutex
	Histories map[string][]record
}

var _ WindowStore = (*MemWindowStore)(nil)

func NewMemWindowStore() *MemWindowStore {
	return &MemWindowStore{
		Histories: make(map[string][]record),
	}
}

// must be called with lock held
func (s *MemWindowStore) prune(key string, at time.Time, window time.Duration) []record {
	hist := s.Histories[key]
	kept := hist[:0]
	for _, r := range hist {
		if at.Sub(r.at) < window {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(s.Histories, key)
		return nil
	}
	s.Histories[key] = kept
	return kept
}

func countActor(hist []record, actor string) int {
	n := 0
	for _, r := range hist {
		if r.actor == actor {
			n++
		}
	}
	return n
}

func (s *MemWindowStore) RecordAndCount(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(kind, server)
	s.Histories[key] = append(s.Histories[key], record{actor: actor, at: at})
	hist := s.prune(key, at, window)
	return countActor(hist, actor), nil
}

func (s *MemWindowStore) Count(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.prune(historyKey(kind, server), at, window)
	return countActor(hist, actor), nil
}

// Number of records retained for a (kind, server) pair, for any actor.
func (s *MemWindowStore) Len(kind, server string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Histories[historyKey(kind, server)])
}
