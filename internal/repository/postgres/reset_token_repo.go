// internal/repository/postgres/reset_token_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"carelink-service/internal/domain/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ResetTokenRepository struct {
	db *pgxpool.Pool
}

func NewResetTokenRepository(db *pgxpool.Pool) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Create stores a password reset token.
func (r *ResetTokenRepository) Create(ctx context.Context, t *auth.ResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, t.UserID, t.Token, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// Find retrieves an unused, unexpired reset token.
func (r *ResetTokenRepository) Find(ctx context.Context, token string) (*auth.ResetToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`
	var t auth.ResetToken
	err := r.db.QueryRow(ctx, query, token).Scan(
		&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reset token: %w", err)
	}
	return &t, nil
}

// MarkUsed consumes a reset token so it cannot be replayed.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id int64) error {
	query := `
		UPDATE password_reset_tokens
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
