package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// ResolveToken implements [storage.TokenResolver] with a single joined lookup
// against api_tokens and users.
func (s *Store) ResolveToken(ctx context.Context, token string) (storage.Tenant, error) {
	const q = `
		SELECT u.id, u.email, u.name
		FROM   api_tokens t
		JOIN   users u ON u.id = t.user_id
		WHERE  t.token = $1`

	var tenant storage.Tenant
	err := s.db.QueryRow(ctx, q, token).Scan(&tenant.ID, &tenant.Email, &tenant.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Tenant{}, fmt.Errorf("postgres: resolve token: %w", apperr.ErrInvalidCredential)
	}
	if err != nil {
		return storage.Tenant{}, storeErr("resolve token", err)
	}
	return tenant, nil
}
