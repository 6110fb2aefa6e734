package session

import (
	"context"
	"testing"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/testutil"
)

func TestPostgresEventStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresEventStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	events := []*RotationEvent{
		{ID: "rot-1", Identity: "0xaaa", OldSessionID: "s1", NewSessionID: "s2", Reason: ReasonScheduled, Timestamp: base},
		{ID: "rot-2", Identity: "0xaaa", OldSessionID: "s2", NewSessionID: "s3", Reason: ReasonSecurity, Timestamp: base.Add(time.Minute)},
		{ID: "rot-3", Identity: "0xbbb", OldSessionID: "", NewSessionID: "s4", Reason: ReasonManual, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append %s: %v", e.ID, err)
		}
	}

	got, err := store.List(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d events, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "rot-2" || got[1].ID != "rot-1" {
		t.Errorf("List order = [%s %s], want [rot-2 rot-1]", got[0].ID, got[1].ID)
	}
	if got[0].Reason != ReasonSecurity {
		t.Errorf("Reason = %s, want %s", got[0].Reason, ReasonSecurity)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List all returned %d events, want 3", len(all))
	}
}
