package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateShareGrant persists a grant and returns its opaque token. Views
// below zero mean unlimited.
func (s *Store) CreateShareGrant(ctx context.Context, userEmail, target string, isFolder bool, mnemonic string, views int) (string, error) {
	token := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_grants (token, user_email, target, is_folder, mnemonic, views)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token, userEmail, target, isFolder, mnemonic, views)
	if err != nil {
		return "", fmt.Errorf("insert share grant: %w", err)
	}
	return token, nil
}

// ShareGrantByToken resolves a token into its grant. Each successful
// resolution consumes one view when a view limit is set; the grant is
// removed once its views run out.
func (s *Store) ShareGrantByToken(ctx context.Context, token string) (*ShareGrant, error) {
	var g ShareGrant
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_email, target, is_folder, mnemonic, views, created_at
		 FROM share_grants WHERE token = $1`, token).
		Scan(&g.Token, &g.UserEmail, &g.Target, &g.IsFolder, &g.Mnemonic, &g.Views, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query share grant: %w", err)
	}

	if g.Views == 0 {
		// Exhausted grant left behind by a crashed cleanup; treat as gone.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM share_grants WHERE token = $1`, token)
		return nil, fmt.Errorf("share token exhausted: %w", ErrNotFound)
	}
	if g.Views > 0 {
		if g.Views == 1 {
			_, err = s.db.ExecContext(ctx, `DELETE FROM share_grants WHERE token = $1`, token)
		} else {
			_, err = s.db.ExecContext(ctx,
				`UPDATE share_grants SET views = views - 1 WHERE token = $1`, token)
		}
		if err != nil {
			return nil, fmt.Errorf("consume share view: %w", err)
		}
	}

	return &g, nil
}
