package session

import (
	"context"
	"testing"
	"time"
)

const testIdentity = "0x" +
	"04bfcab3aac1fdbb0216d22e67eca4b4e1c6e9346f1b1c2c8a2a4b9b5e3d1f0a9" +
	"c8b7a6f5e4d3c2b1a09f8e7d6c5b4a39281706554433221100998877665544332"

func TestManager_CreateAndGet(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewManager(WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	cred, err := m.Create(ctx, testIdentity, "ethereum", time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cred.Token == "" || cred.ID == "" {
		t.Error("credential missing token or id")
	}
	if !cred.ExpiresAt.Equal(clock.UTC().Add(DefaultTTL)) {
		t.Errorf("expiresAt = %v, want clock+1h", cred.ExpiresAt)
	}

	got, err := m.Get(testIdentity, "ethereum")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != cred.ID {
		t.Errorf("got different credential: %s vs %s", got.ID, cred.ID)
	}

	if _, err := m.Get(testIdentity, "polygon"); err != ErrNoValidSession {
		t.Errorf("Get other chain: %v, want ErrNoValidSession", err)
	}
}

func TestManager_RejectsBadInput(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	if _, err := m.Create(ctx, "0xnothex", "ethereum", time.Time{}); err == nil {
		t.Error("accepted invalid identity")
	}
	if _, err := m.Create(ctx, testIdentity, "eth mainnet!", time.Time{}); err != ErrInvalidChain {
		t.Errorf("chain with spaces: %v, want ErrInvalidChain", err)
	}
	if _, err := m.Create(ctx, testIdentity, "ethereum", time.Now().Add(-time.Minute)); err == nil {
		t.Error("accepted past expiration")
	}
}

func TestManager_Expiry(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewManager(WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if _, err := m.Create(ctx, testIdentity, "ethereum", clock.Add(10*time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !m.IsValid(testIdentity, "ethereum") {
		t.Fatal("fresh credential invalid")
	}

	clock = clock.Add(11 * time.Minute)
	if m.IsValid(testIdentity, "ethereum") {
		t.Error("expired credential still valid")
	}
	if _, err := m.Get(testIdentity, "ethereum"); err != ErrNoValidSession {
		t.Errorf("Get expired: %v, want ErrNoValidSession", err)
	}

	if removed := m.ClearExpired(); removed != 1 {
		t.Errorf("ClearExpired removed %d, want 1", removed)
	}
}

func TestManager_RefreshReplacesCredential(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	first, err := m.Create(ctx, testIdentity, "ethereum", time.Time{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := m.Refresh(ctx, testIdentity, "ethereum")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.ID == first.ID || second.Token == first.Token {
		t.Error("refresh reused credential material")
	}

	got, err := m.Get(testIdentity, "ethereum")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("stored credential is %s, want refreshed %s", got.ID, second.ID)
	}
}

func TestGrants_RevokeOlderThan(t *testing.T) {
	clock := time.Unix(0, 0)
	g := NewGrants(func() time.Time { return clock })

	g.Add(testIdentity, "signing", "pkp-sign", time.Time{})
	clock = clock.Add(2 * time.Hour)
	g.Add(testIdentity, "actions", "execute", time.Time{})

	// Cutoff at t+1h revokes only the first grant.
	revoked := g.RevokeOlderThan(testIdentity, time.Unix(0, 0).Add(time.Hour))
	if revoked != 1 {
		t.Fatalf("revoked %d, want 1", revoked)
	}
	left := g.List(testIdentity)
	if len(left) != 1 || left[0].Resource != "actions" {
		t.Errorf("remaining grants = %+v", left)
	}
}

func TestGrants_CleanupExpired(t *testing.T) {
	clock := time.Unix(0, 0)
	g := NewGrants(func() time.Time { return clock })

	g.Add(testIdentity, "signing", "pkp-sign", time.Unix(100, 0))
	g.Add(testIdentity, "actions", "execute", time.Time{}) // no expiry

	clock = time.Unix(200, 0)
	if removed := g.CleanupExpired(); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if got := g.List(testIdentity); len(got) != 1 || got[0].Resource != "actions" {
		t.Errorf("remaining grants = %+v", got)
	}
}
