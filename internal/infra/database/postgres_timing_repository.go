// internal/infra/database/postgres_timing_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"post_scheduler/internal/domain/timing"
)

// PostgresProfileCache stores one timing profile per user as JSONB.
type PostgresProfileCache struct {
	db *sql.DB
}

func NewPostgresProfileCache(db *sql.DB) *PostgresProfileCache {
	return &PostgresProfileCache{db: db}
}

func (r *PostgresProfileCache) Get(ctx context.Context, userID int64) (*timing.CachedProfile, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT profile, updated_at FROM optimal_time_profiles WHERE user_id = $1`, userID,
	).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, timing.ErrProfileNotFound
		}
		return nil, fmt.Errorf("error getting timing profile for user %d: %w", userID, err)
	}

	profile := &timing.TimingProfile{}
	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("error decoding timing profile for user %d: %w", userID, err)
	}
	return &timing.CachedProfile{Profile: profile, UpdatedAt: updatedAt}, nil
}

func (r *PostgresProfileCache) Upsert(ctx context.Context, profile *timing.TimingProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("error encoding timing profile for user %d: %w", profile.UserID, err)
	}
	query := `INSERT INTO optimal_time_profiles (user_id, profile, confidence, updated_at)
               VALUES ($1, $2, $3, NOW())
               ON CONFLICT (user_id) DO UPDATE
               SET profile = EXCLUDED.profile, confidence = EXCLUDED.confidence, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, profile.UserID, raw, string(profile.Confidence)); err != nil {
		return fmt.Errorf("error upserting timing profile for user %d: %w", profile.UserID, err)
	}
	return nil
}

func (r *PostgresProfileCache) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM optimal_time_profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("error deleting timing profile for user %d: %w", userID, err)
	}
	return nil
}

func (r *PostgresProfileCache) ListStaleUsers(ctx context.Context, updatedBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM optimal_time_profiles WHERE updated_at < $1 ORDER BY updated_at ASC LIMIT $2`,
		updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying stale timing profiles: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning stale profile row: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale profile rows: %w", err)
	}
	return users, nil
}
