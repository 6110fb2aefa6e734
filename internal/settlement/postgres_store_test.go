package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/testutil"
)

func TestPostgresStore_CreateGetUpdate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	intent := &Intent{
		ID:       "intent-1",
		Identity: "0xaaa",
		Simulation: Simulation{
			ID:            "sim-1",
			FromChain:     1,
			ToChain:       137,
			Token:         "USDC",
			Amount:        "25.00",
			EstimatedFees: "0.45",
			EstimatedTime: 180,
			Route:         []string{"ethereum", "polygon"},
		},
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := store.Create(ctx, intent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "intent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, StatusPending)
	}
	if got.Simulation.ToChain != 137 || got.Simulation.Amount != "25.00" {
		t.Errorf("Simulation not preserved: %+v", got.Simulation)
	}
	if len(got.Simulation.Route) != 2 {
		t.Errorf("Route = %v, want 2 hops", got.Simulation.Route)
	}

	approved := now.Add(time.Minute)
	got.Status = StatusApproved
	got.ApprovedAt = &approved
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err = store.Get(ctx, "intent-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Status != StatusApproved {
		t.Errorf("Status after update = %s, want %s", got.Status, StatusApproved)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(approved) {
		t.Errorf("ApprovedAt = %v, want %v", got.ApprovedAt, approved)
	}
}

func TestPostgresStore_MissingIntent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("Get missing = %v, want ErrIntentNotFound", err)
	}
	if err := store.Update(ctx, &Intent{ID: "nope", Status: StatusFailed}); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("Update missing = %v, want ErrIntentNotFound", err)
	}
}

func TestPostgresStore_ListByIdentity(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"intent-a", "intent-b", "intent-c"} {
		intent := &Intent{
			ID:         id,
			Identity:   "0xaaa",
			Simulation: Simulation{ID: "sim", Token: "ETH", Amount: "1"},
			Status:     StatusPending,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, intent); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := store.ListByIdentity(ctx, "0xaaa", 2)
	if err != nil {
		t.Fatalf("ListByIdentity: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d intents, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "intent-c" {
		t.Errorf("first = %s, want intent-c", got[0].ID)
	}

	other, err := store.ListByIdentity(ctx, "0xbbb", 10)
	if err != nil {
		t.Fatalf("ListByIdentity other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("got %d intents for other identity, want 0", len(other))
	}
}
