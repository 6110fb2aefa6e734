package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	sp := &SigningPolicy{
		Identity:            "0xabc",
		MaxAmount:           75,
		AllowedChains:       []int64{1, 137},
		RequireGasBelowGwei: 120,
		AllowedTokens:       []string{"ETH", "USDC"},
		CooldownSeconds:     60,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := store.Put(ctx, sp); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MaxAmount != 75 {
		t.Errorf("MaxAmount = %v, want 75", got.MaxAmount)
	}
	if len(got.AllowedChains) != 2 || got.AllowedChains[1] != 137 {
		t.Errorf("AllowedChains = %v, want [1 137]", got.AllowedChains)
	}
	if len(got.AllowedTokens) != 2 || got.AllowedTokens[0] != "ETH" {
		t.Errorf("AllowedTokens = %v, want [ETH USDC]", got.AllowedTokens)
	}

	// Upsert replaces the existing row.
	sp.MaxAmount = 25
	sp.UpdatedAt = now.Add(time.Minute)
	if err := store.Put(ctx, sp); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, err = store.Get(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.MaxAmount != 25 {
		t.Errorf("MaxAmount after update = %v, want 25", got.MaxAmount)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	_, err := store.Get(context.Background(), "0xmissing")
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("Get missing = %v, want ErrPolicyNotFound", err)
	}
}

func TestPostgresStore_DeleteAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"0xaaa", "0xbbb"} {
		sp := &SigningPolicy{Identity: id, MaxAmount: 10, CreatedAt: now, UpdatedAt: now}
		if err := store.Put(ctx, sp); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
		now = now.Add(time.Second)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d policies, want 2", len(all))
	}
	if all[0].Identity != "0xaaa" {
		t.Errorf("List order: first = %s, want 0xaaa", all[0].Identity)
	}

	if err := store.Delete(ctx, "0xaaa"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "0xaaa"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("second Delete = %v, want ErrPolicyNotFound", err)
	}
}
