package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResetRepo stores hashed password reset tokens, at most one per user
type ResetRepo interface {
	Replace(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string) (uuid.UUID, error)
}

type resetRepo struct {
	db *sql.DB
}

// NewResetRepo creates a new ResetRepo instance
func NewResetRepo(db *sql.DB) ResetRepo {
	return &resetRepo{db: db}
}

// Replace drops any previous token of the user and stores the new one
func (r *resetRepo) Replace(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete reset tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return tx.Commit()
}

// Consume deletes the token and returns its user. Unknown and expired tokens yield ErrNotFound.
func (r *resetRepo) Consume(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var (
		userIDStr string
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM password_reset_tokens
		WHERE token_hash = $1
		RETURNING user_id, expires_at
	`, tokenHash).Scan(&userIDStr, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("reset token: %w", ErrNotFound)
		}
		return uuid.Nil, fmt.Errorf("consume reset token: %w", err)
	}
	if !time.Now().Before(expiresAt) {
		return uuid.Nil, fmt.Errorf("reset token expired: %w", ErrNotFound)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user ID: %w", err)
	}
	return userID, nil
}
