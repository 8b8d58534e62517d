package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Identity is a persistent participant with a display name and a hashed secret.
type Identity struct {
	ID          int64
	DisplayName string
	SecretHash  string
	CreatedAt   time.Time
}

const insertIdentity = `INSERT INTO identities (display_name, secret_hash, created_at) VALUES (?, ?, ?) RETURNING id`

const selectIdentityByName = `SELECT id, display_name, secret_hash, created_at FROM identities WHERE display_name = ?`

func (s *Store) CreateIdentity(ctx context.Context, displayName, secretHash string) (Identity, error) {
	created := s.clock.Now()
	identity := Identity{
		DisplayName: displayName,
		SecretHash:  secretHash,
		CreatedAt:   time.UnixMilli(created.UnixMilli()).UTC(),
	}

	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(insertIdentity), displayName, secretHash, created.UnixMilli())
	if err := row.Scan(&identity.ID); err != nil {
		if isUniqueViolation(err) {
			return Identity{}, ErrDuplicateDisplayName
		}
		return Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}
	return identity, nil
}

func (s *Store) IdentityByDisplayName(ctx context.Context, displayName string) (Identity, error) {
	var (
		identity  Identity
		createdAt int64
	)
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectIdentityByName), displayName)
	if err := row.Scan(&identity.ID, &identity.DisplayName, &identity.SecretHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}
	identity.CreatedAt = time.UnixMilli(createdAt).UTC()
	return identity, nil
}
