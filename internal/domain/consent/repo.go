package consent

import "context"

type Repository interface {
	// GetByScopeKey returns the consent row for a key, or ErrNotFound.
	GetByScopeKey(ctx context.Context, scopeKey string) (*Consent, error)
	// Upsert inserts the row or, when the scope key already exists, replaces
	// its gate state in place.
	Upsert(ctx context.Context, c *Consent) error
}
