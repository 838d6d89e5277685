package outcomestore

import (
	"context"
	"sync"
	"time"
)

type MemOutcomeStore struct {
	mu       sync.RWMutex
	Outcomes []ActionOutcome
}

var _ OutcomeStore = (*MemOutcomeStore)(nil)

func NewMemOutcomeStore() *MemOutcomeStore {
	return &MemOutcomeStore{}
}

func (s *MemOutcomeStore) Save(ctx context.Context, o *ActionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *o
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.Outcomes = append(s.Outcomes, rec)
	return nil
}

func (s *MemOutcomeStore) ListByServer(ctx context.Context, serverID string, limit int) ([]ActionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ActionOutcome
	for i := len(s.Outcomes) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.Outcomes[i].ServerID == serverID {
			out = append(out, s.Outcomes[i])
		}
	}
	return out, nil
}

func (s *MemOutcomeStore) CountPunishments(ctx context.Context, serverID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.Outcomes {
		if o.ServerID == serverID && o.Punished && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// All saved outcomes, oldest first.
func (s *MemOutcomeStore) All() []ActionOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActionOutcome, len(s.Outcomes))
	copy(out, s.Outcomes)
	return out
}
