package automation

import (
	"context"
	"errors"
	"sync"
)

// ErrStateNotFound is returned when no record exists for a state key.
var ErrStateNotFound = errors.New("automation: state not found")

// Keys under which controller state is persisted.
const (
	stateKeyConfig    = "automation_config"
	stateKeyMetrics   = "performance_metrics"
	stateKeyEmergency = "emergency_state"
)

// StateStore persists controller state as serialized records keyed by name,
// so config, metrics, and the stop switch survive restarts.
type StateStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// MemoryStateStore is an in-memory StateStore for tests and development.
type MemoryStateStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{values: make(map[string][]byte)}
}

func (s *MemoryStateStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStateStore) Save(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return nil
}
