package session

import (
	"sync"
	"time"
)

// Grant is a resource permission attached to an identity's delegation.
type Grant struct {
	Resource  string    `json:"resource"`
	Ability   string    `json:"ability"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"` // zero = no expiry
}

// Grants tracks resource permissions per identity.
type Grants struct {
	mu         sync.RWMutex
	byIdentity map[string][]Grant
	now        func() time.Time
}

// NewGrants creates an empty grant registry.
func NewGrants(now func() time.Time) *Grants {
	if now == nil {
		now = time.Now
	}
	return &Grants{
		byIdentity: make(map[string][]Grant),
		now:        now,
	}
}

// Add records a grant for the identity. Duplicate resource/ability pairs
// refresh the grant timestamp.
func (g *Grants) Add(identity, resource, ability string, expiresAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.byIdentity[identity]
	for i, gr := range grants {
		if gr.Resource == resource && gr.Ability == ability {
			grants[i].GrantedAt = g.now().UTC()
			grants[i].ExpiresAt = expiresAt
			return
		}
	}
	g.byIdentity[identity] = append(grants, Grant{
		Resource:  resource,
		Ability:   ability,
		GrantedAt: g.now().UTC(),
		ExpiresAt: expiresAt,
	})
}

// Revoke removes a single grant, reporting whether it existed.
func (g *Grants) Revoke(identity, resource, ability string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.byIdentity[identity]
	for i, gr := range grants {
		if gr.Resource == resource && gr.Ability == ability {
			g.byIdentity[identity] = append(grants[:i], grants[i+1:]...)
			return true
		}
	}
	return false
}

// List returns copies of the identity's grants.
func (g *Grants) List(identity string) []Grant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Grant(nil), g.byIdentity[identity]...)
}

// RevokeOlderThan removes grants issued before cutoff and returns how many
// were revoked. Used by security rotations to invalidate stale delegations.
func (g *Grants) RevokeOlderThan(identity string, cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	grants := g.byIdentity[identity]
	kept := grants[:0]
	revoked := 0
	for _, gr := range grants {
		if gr.GrantedAt.Before(cutoff) {
			revoked++
			continue
		}
		kept = append(kept, gr)
	}
	g.byIdentity[identity] = kept
	return revoked
}

// CleanupExpired removes grants past their expiry across all identities.
func (g *Grants) CleanupExpired() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for identity, grants := range g.byIdentity {
		kept := grants[:0]
		for _, gr := range grants {
			if !gr.ExpiresAt.IsZero() && !now.Before(gr.ExpiresAt) {
				removed++
				continue
			}
			kept = append(kept, gr)
		}
		g.byIdentity[identity] = kept
	}
	return removed
}
