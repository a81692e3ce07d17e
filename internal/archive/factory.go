package archive

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed archive. Without a database URL there
// is no archive and the returned Store is nil.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
