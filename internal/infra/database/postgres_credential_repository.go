// internal/infra/database/postgres_credential_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"post_scheduler/internal/domain/publisher"
)

// PostgresCredentialStore reads platform tokens. Writing them belongs to the OAuth flow.
type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

func (r *PostgresCredentialStore) HasValidCredential(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM linkedin_credentials WHERE user_id = $1 AND expires_at > NOW())`, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("error checking credential for user %d: %w", userID, err)
	}
	return ok, nil
}

func (r *PostgresCredentialStore) Get(ctx context.Context, userID int64) (*publisher.Credential, error) {
	c := &publisher.Credential{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT member_urn, access_token FROM linkedin_credentials WHERE user_id = $1 AND expires_at > NOW()`, userID,
	).Scan(&c.MemberURN, &c.AccessToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, publisher.ErrCredentialMissing
		}
		return nil, fmt.Errorf("error getting credential for user %d: %w", userID, err)
	}
	return c, nil
}
