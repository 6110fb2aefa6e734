package settlement

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

func (s *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = cloneIntent(intent)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return cloneIntent(intent), nil
}

func (s *MemoryStore) Update(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; !ok {
		return ErrIntentNotFound
	}
	s.intents[intent.ID] = cloneIntent(intent)
	return nil
}

func (s *MemoryStore) ListByIdentity(ctx context.Context, identity string, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Intent
	for _, intent := range s.intents {
		if intent.Identity == identity {
			out = append(out, cloneIntent(intent))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneIntent(intent *Intent) *Intent {
	c := *intent
	c.Simulation.Route = append([]string(nil), intent.Simulation.Route...)
	if intent.ApprovedAt != nil {
		t := *intent.ApprovedAt
		c.ApprovedAt = &t
	}
	if intent.CompletedAt != nil {
		t := *intent.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
