package session

import (
	"context"
	"sync"
)

// Compile-time check that MemoryEventStore implements EventStore.
var _ EventStore = (*MemoryEventStore)(nil)

// MemoryEventStore is an in-memory rotation event log for demo/development
// mode.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*RotationEvent
}

// NewMemoryEventStore creates an empty in-memory event log.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (m *MemoryEventStore) Append(ctx context.Context, event *RotationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryEventStore) List(ctx context.Context, identity string) ([]*RotationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*RotationEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if identity != "" && e.Identity != identity {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
