// Package session manages the delegated signing credentials the agent holds.
//
// A credential authorizes signing for one identity on one chain until its
// expiration. The rotation manager refreshes credentials on a schedule and,
// on security rotations, revokes stale resource grants. Credentials are held
// in memory only; they are short-lived secrets and never touch the database.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/idgen"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Errors
var (
	ErrNoValidSession = errors.New("session: no valid session")
	ErrInvalidChain   = errors.New("session: invalid chain name")
)

var chainNameRegex = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)

// DefaultTTL is the credential lifetime when the caller does not pick one.
const DefaultTTL = time.Hour

// Credential authorizes delegated signing for an identity on a chain.
type Credential struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Chain     string    `json:"chain"`
	Token     string    `json:"-"` // opaque credential material, never serialized
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the credential is past its expiration at t.
func (c *Credential) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// Manager holds active credentials keyed by identity and chain.
type Manager struct {
	mu    sync.RWMutex
	creds map[string]*Credential
	now   func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty credential manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		creds: make(map[string]*Credential),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func credKey(identity, chain string) string {
	return identity + "_" + chain
}

// Create mints a credential for identity on chain. A zero expiresAt applies
// the default TTL. An existing credential for the pair is replaced.
func (m *Manager) Create(ctx context.Context, identity, chain string, expiresAt time.Time) (*Credential, error) {
	if !validation.IsValidIdentity(identity) {
		return nil, fmt.Errorf("session: invalid identity format")
	}
	if chain == "" || !chainNameRegex.MatchString(chain) {
		return nil, ErrInvalidChain
	}

	now := m.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultTTL)
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("session: expiration must be in the future")
	}

	cred := &Credential{
		ID:        idgen.WithPrefix("sess_"),
		Identity:  identity,
		Chain:     chain,
		Token:     idgen.Hex(32),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	m.mu.Lock()
	m.creds[credKey(identity, chain)] = cred
	active := len(m.creds)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(active))
	logging.L(ctx).Info("session created",
		slog.String("session_id", cred.ID),
		slog.String("chain", chain),
		slog.Time("expires_at", expiresAt))
	cp := *cred
	return &cp, nil
}

// Get returns the credential for the pair, or ErrNoValidSession when missing
// or expired.
func (m *Manager) Get(identity, chain string) (*Credential, error) {
	m.mu.RLock()
	cred, ok := m.creds[credKey(identity, chain)]
	m.mu.RUnlock()

	if !ok || cred.Expired(m.now()) {
		return nil, ErrNoValidSession
	}
	cp := *cred
	return &cp, nil
}

// IsValid reports whether an unexpired credential exists for the pair.
func (m *Manager) IsValid(identity, chain string) bool {
	_, err := m.Get(identity, chain)
	return err == nil
}

// Refresh replaces the pair's credential with a fresh one of the same
// lifetime as the default TTL.
func (m *Manager) Refresh(ctx context.Context, identity, chain string) (*Credential, error) {
	m.mu.Lock()
	delete(m.creds, credKey(identity, chain))
	m.mu.Unlock()
	return m.Create(ctx, identity, chain, time.Time{})
}

// Revoke removes the pair's credential if present.
func (m *Manager) Revoke(identity, chain string) {
	m.mu.Lock()
	delete(m.creds, credKey(identity, chain))
	active := len(m.creds)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(active))
}

// Active returns copies of all unexpired credentials.
func (m *Manager) Active() []Credential {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Credential, 0, len(m.creds))
	for _, cred := range m.creds {
		if !cred.Expired(now) {
			out = append(out, *cred)
		}
	}
	return out
}

// ActiveFor returns the first unexpired credential for an identity across
// chains, or ErrNoValidSession.
func (m *Manager) ActiveFor(identity string) (*Credential, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cred := range m.creds {
		if cred.Identity == identity && !cred.Expired(now) {
			cp := *cred
			return &cp, nil
		}
	}
	return nil, ErrNoValidSession
}

// ClearExpired drops expired credentials and returns how many were removed.
func (m *Manager) ClearExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, cred := range m.creds {
		if cred.Expired(now) {
			delete(m.creds, key)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.creds)))
	return removed
}
