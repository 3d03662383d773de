// internal/infra/database/postgres_schedule_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"post_scheduler/internal/domain/schedule"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const scheduledPostColumns = `id, user_id, post_id, scheduled_for, status, priority, optimal_slot,
               error_detail, external_id, external_url, created_at, updated_at, posted_at`

type PostgresScheduleRepository struct {
	db *sql.DB
}

func NewPostgresScheduleRepository(db *sql.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledPost(row rowScanner) (*schedule.ScheduledPost, error) {
	sp := &schedule.ScheduledPost{}
	err := row.Scan(
		&sp.ID, &sp.UserID, &sp.PostID, &sp.ScheduledFor, &sp.Status, &sp.Priority, &sp.OptimalSlot,
		&sp.ErrorDetail, &sp.ExternalID, &sp.ExternalURL, &sp.CreatedAt, &sp.UpdatedAt, &sp.PostedAt,
	)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func scanScheduledPosts(rows *sql.Rows) ([]*schedule.ScheduledPost, error) {
	out := make([]*schedule.ScheduledPost, 0)
	for rows.Next() {
		sp, err := scanScheduledPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning scheduled post row: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled post rows: %w", err)
	}
	return out, nil
}

func (r *PostgresScheduleRepository) Create(ctx context.Context, sp *schedule.ScheduledPost) error {
	query := `INSERT INTO scheduled_posts (id, user_id, post_id, scheduled_for, status, priority, optimal_slot)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		sp.ID, sp.UserID, sp.PostID, sp.ScheduledFor, sp.Status, sp.Priority, sp.OptimalSlot,
	).Scan(&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating scheduled post: %w", err)
	}
	return nil
}

func (r *PostgresScheduleRepository) CreateBatch(ctx context.Context, sps []*schedule.ScheduledPost) error {
	if len(sps) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for batch create: %w", err)
	}
	defer txn.Rollback() // no-op after commit

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO scheduled_posts (id, user_id, post_id, scheduled_for, status, priority, optimal_slot)
                                         VALUES ($1, $2, $3, $4, $5, $6, $7)
                                         RETURNING created_at, updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for batch create: %w", err)
	}
	defer stmt.Close()

	for _, sp := range sps {
		err := stmt.QueryRowContext(ctx, sp.ID, sp.UserID, sp.PostID, sp.ScheduledFor, sp.Status, sp.Priority, sp.OptimalSlot).
			Scan(&sp.CreatedAt, &sp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("error in batch create (post %d at %s): %w", sp.PostID, sp.ScheduledFor.Format(time.RFC3339), err)
		}
	}

	return txn.Commit()
}

func (r *PostgresScheduleRepository) GetByID(ctx context.Context, id string) (*schedule.ScheduledPost, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, schedule.ErrScheduledPostNotFound
	}
	query := `SELECT ` + scheduledPostColumns + ` FROM scheduled_posts WHERE id = $1`
	sp, err := scanScheduledPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schedule.ErrScheduledPostNotFound
		}
		return nil, fmt.Errorf("error getting scheduled post by ID: %w", err)
	}
	return sp, nil
}

func (r *PostgresScheduleRepository) ListByUser(ctx context.Context, userID int64, status schedule.Status, limit int) ([]*schedule.ScheduledPost, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + scheduledPostColumns + `
               FROM scheduled_posts
               WHERE user_id = $1 AND ($2::text = '' OR status = $2::text)
               ORDER BY scheduled_for ASC
               LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("error querying scheduled posts by user: %w", err)
	}
	defer rows.Close()
	return scanScheduledPosts(rows)
}

// ClaimDue stamps a claim token on due pending rows in one statement. FOR UPDATE SKIP LOCKED
// lets concurrent sweeps (or instances) split the work without ever sharing a row.
func (r *PostgresScheduleRepository) ClaimDue(ctx context.Context, f schedule.ClaimFilter) ([]*schedule.ScheduledPost, error) {
	query := `UPDATE scheduled_posts
               SET claim_token = $1, claimed_at = NOW(), updated_at = NOW()
               WHERE status = 'pending' AND claim_token IS NULL AND id IN (
                   SELECT sp.id FROM scheduled_posts sp
                   LEFT JOIN user_settings us ON us.user_id = sp.user_id
                   WHERE sp.status = 'pending'
                     AND sp.claim_token IS NULL
                     AND sp.scheduled_for <= $2
                     AND ($3::text = '' OR sp.optimal_slot = $3::text)
                     AND (NOT $4::boolean OR COALESCE(us.auto_post_enabled, FALSE))
                   ORDER BY sp.scheduled_for ASC
                   LIMIT $5
                   FOR UPDATE OF sp SKIP LOCKED
               )
               RETURNING ` + scheduledPostColumns
	rows, err := r.db.QueryContext(ctx, query, f.Token, f.DueBy, f.SlotLabel, f.AutoOnly, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("error claiming due scheduled posts: %w", err)
	}
	defer rows.Close()

	claimed, err := scanScheduledPosts(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(claimed, func(i, j int) bool { return claimed[i].ScheduledFor.Before(claimed[j].ScheduledFor) })
	return claimed, nil
}

func (r *PostgresScheduleRepository) MarkPosted(ctx context.Context, id, token, externalID, url string, postedAt time.Time) error {
	query := `UPDATE scheduled_posts
               SET status = 'posted', external_id = $3, external_url = $4, posted_at = $5,
                   error_detail = NULL, updated_at = NOW()
               WHERE id = $1 AND status = 'pending' AND claim_token = $2`
	res, err := r.db.ExecContext(ctx, query, id, token, externalID, url, postedAt)
	if err != nil {
		return fmt.Errorf("error marking scheduled post %s posted: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *PostgresScheduleRepository) MarkFailed(ctx context.Context, id, token, reason string) error {
	query := `UPDATE scheduled_posts
               SET status = 'failed', error_detail = $3, updated_at = NOW()
               WHERE id = $1 AND status = 'pending' AND claim_token = $2`
	res, err := r.db.ExecContext(ctx, query, id, token, reason)
	if err != nil {
		return fmt.Errorf("error marking scheduled post %s failed: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *PostgresScheduleRepository) FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) (int64, error) {
	query := `UPDATE scheduled_posts
               SET status = 'failed', error_detail = $2, updated_at = NOW()
               WHERE status = 'pending' AND claim_token IS NOT NULL AND claimed_at < $1`
	res, err := r.db.ExecContext(ctx, query, claimedBefore, reason)
	if err != nil {
		return 0, fmt.Errorf("error failing stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n, nil
}

func (r *PostgresScheduleRepository) Cancel(ctx context.Context, userID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return schedule.ErrScheduledPostNotFound
	}
	query := `UPDATE scheduled_posts SET status = 'cancelled', updated_at = NOW()
               WHERE id = $1 AND user_id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("error cancelling scheduled post %s: %w", id, err)
	}
	return r.explainNoop(ctx, res, userID, id)
}

func (r *PostgresScheduleRepository) Reschedule(ctx context.Context, userID int64, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return schedule.ErrScheduledPostNotFound
	}
	query := `UPDATE scheduled_posts SET scheduled_for = $3, optimal_slot = NULL, updated_at = NOW()
               WHERE id = $1 AND user_id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("error rescheduling scheduled post %s: %w", id, err)
	}
	return r.explainNoop(ctx, res, userID, id)
}

// ApplyBulk locks every target row, checks that all are pending, and only then mutates.
func (r *PostgresScheduleRepository) ApplyBulk(ctx context.Context, userID int64, ids []string, action schedule.BulkAction) (int64, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for bulk %s: %w", action.Kind, err)
	}
	defer txn.Rollback()

	rows, err := txn.QueryContext(ctx,
		`SELECT id, status FROM scheduled_posts WHERE user_id = $1 AND id = ANY($2::uuid[]) FOR UPDATE`,
		userID, pq.Array(valid))
	if err != nil {
		return 0, fmt.Errorf("error locking scheduled posts for bulk %s: %w", action.Kind, err)
	}
	found := make([]*schedule.ScheduledPost, 0, len(valid))
	for rows.Next() {
		sp := &schedule.ScheduledPost{}
		if err := rows.Scan(&sp.ID, &sp.Status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("error scanning locked scheduled post: %w", err)
		}
		found = append(found, sp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating locked scheduled posts: %w", err)
	}
	rows.Close()

	if err := schedule.CheckBulkPending(ids, found); err != nil {
		return 0, err
	}

	var res sql.Result
	switch action.Kind {
	case schedule.BulkCancel:
		res, err = txn.ExecContext(ctx,
			`UPDATE scheduled_posts SET status = 'cancelled', updated_at = NOW()
              WHERE user_id = $1 AND id = ANY($2::uuid[]) AND status = 'pending'`,
			userID, pq.Array(valid))
	case schedule.BulkReschedule:
		res, err = txn.ExecContext(ctx,
			`UPDATE scheduled_posts SET scheduled_for = $3, optimal_slot = NULL, updated_at = NOW()
              WHERE user_id = $1 AND id = ANY($2::uuid[]) AND status = 'pending'`,
			userID, pq.Array(valid), action.ScheduledFor)
	case schedule.BulkReprioritize:
		res, err = txn.ExecContext(ctx,
			`UPDATE scheduled_posts SET priority = $3, updated_at = NOW()
              WHERE user_id = $1 AND id = ANY($2::uuid[]) AND status = 'pending'`,
			userID, pq.Array(valid), action.Priority)
	default:
		return 0, fmt.Errorf("%w: unknown bulk action %q", schedule.ErrInvalidScheduleRequest, action.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("error applying bulk %s: %w", action.Kind, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	if n != int64(len(valid)) {
		return 0, fmt.Errorf("bulk %s touched %d of %d rows, rolled back", action.Kind, n, len(valid))
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk %s: %w", action.Kind, err)
	}
	return n, nil
}

// explainNoop turns a zero-row conditional update into not-found or not-pending.
func (r *PostgresScheduleRepository) explainNoop(ctx context.Context, res sql.Result, userID int64, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status schedule.Status
	err = r.db.QueryRowContext(ctx, `SELECT status FROM scheduled_posts WHERE id = $1 AND user_id = $2`, id, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.ErrScheduledPostNotFound
		}
		return fmt.Errorf("error checking scheduled post %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", schedule.ErrNotPending, id, status)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", schedule.ErrTransitionLost, id)
	}
	return nil
}
