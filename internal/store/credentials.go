package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

type CredentialRepository struct {
	db *sqlx.DB
}

var _ credentials.Store = (*CredentialRepository)(nil)

func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// ListCredentials returns every credential in insertion order.
func (r *CredentialRepository) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	var out []models.Credential
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, username, secret, email, active, last_used_at FROM credentials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func (r *CredentialRepository) TouchCredential(ctx context.Context, username string, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = $2 WHERE username = $1`, username, usedAt)
	return affectedOne(res, err, "touch credential "+username)
}

func (r *CredentialRepository) SetCredentialActive(ctx context.Context, username string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET active = $2 WHERE username = $1`, username, active)
	return affectedOne(res, err, "set credential active "+username)
}

// AddCredential inserts c unless its username exists already.
func (r *CredentialRepository) AddCredential(ctx context.Context, c models.Credential) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO credentials (username, secret, email, active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username) DO NOTHING`, c.Username, c.Secret, c.Email, c.Active)
	if err != nil {
		return false, fmt.Errorf("add credential %s: %w", c.Username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fault.New(fault.NotFound, op, sql.ErrNoRows)
	}
	return nil
}
