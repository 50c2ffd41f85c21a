package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// CredentialRepo stores encrypted broker tokens. Plaintext never reaches
// this layer; callers go through the secret store first.
type CredentialRepo struct{ Pool PgxPool }

// NewCredentialRepo constructs a CredentialRepo with the given pool.
func NewCredentialRepo(p PgxPool) *CredentialRepo { return &CredentialRepo{Pool: p} }

// Store upserts the ciphertext for (user, provider).
func (r *CredentialRepo) Store(ctx domain.Context, c domain.Credential) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO credentials (id, user_id, provider, ciphertext, created_at) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, provider) DO UPDATE SET ciphertext=EXCLUDED.ciphertext, created_at=EXCLUDED.created_at`
	if _, err := r.Pool.Exec(ctx, q, id, c.UserID, c.Provider, c.Ciphertext, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("op=credential.store: %w", err)
	}
	return id, nil
}

// Get loads the ciphertext for (user, provider).
func (r *CredentialRepo) Get(ctx domain.Context, userID, provider string) (domain.Credential, error) {
	q := `SELECT id, user_id, provider, ciphertext, created_at FROM credentials WHERE user_id=$1 AND provider=$2`
	var c domain.Credential
	err := r.Pool.QueryRow(ctx, q, userID, provider).Scan(&c.ID, &c.UserID, &c.Provider, &c.Ciphertext, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, fmt.Errorf("op=credential.get: %w", domain.ErrNotFound)
		}
		return domain.Credential{}, fmt.Errorf("op=credential.get: %w", err)
	}
	return c, nil
}

// Delete removes the credential on broker disconnect.
func (r *CredentialRepo) Delete(ctx domain.Context, userID, provider string) error {
	q := `DELETE FROM credentials WHERE user_id=$1 AND provider=$2`
	tag, err := r.Pool.Exec(ctx, q, userID, provider)
	if err != nil {
		return fmt.Errorf("op=credential.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=credential.delete: %w", domain.ErrNotFound)
	}
	return nil
}
