package policy

import "context"

// Store persists signing policies keyed by identity.
type Store interface {
	Get(ctx context.Context, identity string) (*SigningPolicy, error)
	Put(ctx context.Context, p *SigningPolicy) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]*SigningPolicy, error)
}
