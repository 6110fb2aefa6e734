package policy

import (
	"context"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory policy store for demo/development mode.
type MemoryStore struct {
	policies map[string]*SigningPolicy
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*SigningPolicy),
	}
}

func (m *MemoryStore) Get(ctx context.Context, identity string) (*SigningPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[identity]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := clonePolicy(p)
	return cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, p *SigningPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies[p.Identity] = clonePolicy(p)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[identity]; !ok {
		return ErrPolicyNotFound
	}
	delete(m.policies, identity)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*SigningPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SigningPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, clonePolicy(p))
	}
	return out, nil
}

// clonePolicy deep-copies a policy so callers never share slice backing
// arrays with the store.
func clonePolicy(p *SigningPolicy) *SigningPolicy {
	cp := *p
	cp.AllowedChains = append([]int64(nil), p.AllowedChains...)
	cp.AllowedTokens = append([]string(nil), p.AllowedTokens...)
	return &cp
}
