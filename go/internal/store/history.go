package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryRecord ties an archived drawing to an identity that witnessed it.
type HistoryRecord struct {
	ID           int64
	IdentityID   int64
	RoomID       string
	ArtifactHash string
	Timestamp    time.Time
}

const insertHistory = `INSERT INTO history (identity_id, room_id, artifact_hash, recorded_at) VALUES (?, ?, ?, ?)`

const selectHistoryByIdentity = `
	SELECT id, identity_id, room_id, artifact_hash, recorded_at
	FROM history
	WHERE identity_id = ?
	ORDER BY recorded_at DESC, id DESC`

// AppendHistory inserts every record in one transaction, stamping them with the current time.
// Caller-supplied timestamps are ignored.
func (s *Store) AppendHistory(ctx context.Context, records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := s.clock.Now().UnixMilli()
	query := s.dialect.Rebind(insertHistory)

	return s.runTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare history insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.IdentityID, r.RoomID, r.ArtifactHash, now); err != nil {
				return fmt.Errorf("failed to insert history record: %w", err)
			}
		}
		return nil
	})
}

// RecordArchive gives every identity one record of hash.
func (s *Store) RecordArchive(ctx context.Context, roomID, hash string, identityIDs []int64) error {
	records := make([]HistoryRecord, 0, len(identityIDs))
	for _, id := range identityIDs {
		records = append(records, HistoryRecord{IdentityID: id, RoomID: roomID, ArtifactHash: hash})
	}
	return s.AppendHistory(ctx, records)
}

// HistoryByIdentity lists records newest first.
func (s *Store) HistoryByIdentity(ctx context.Context, identityID int64) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectHistoryByIdentity), identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []HistoryRecord{}
	for rows.Next() {
		var (
			r          HistoryRecord
			recordedAt int64
		)
		if err := rows.Scan(&r.ID, &r.IdentityID, &r.RoomID, &r.ArtifactHash, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Timestamp = time.UnixMilli(recordedAt).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

// HistoryByDisplayName resolves the identity first, so an unknown name yields ErrIdentityNotFound.
func (s *Store) HistoryByDisplayName(ctx context.Context, displayName string) ([]HistoryRecord, error) {
	identity, err := s.IdentityByDisplayName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return s.HistoryByIdentity(ctx, identity.ID)
}
