package settlement

import "context"

// Store persists settlement intents. Terminal intents are retained for
// audit and returned by ListByIdentity.
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, intent *Intent) error
	ListByIdentity(ctx context.Context, identity string, limit int) ([]*Intent, error)
}
