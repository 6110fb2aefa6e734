package session

import "context"

// EventStore persists rotation events.
type EventStore interface {
	Append(ctx context.Context, event *RotationEvent) error
	// List returns events newest first; empty identity means all identities.
	List(ctx context.Context, identity string) ([]*RotationEvent, error)
}
