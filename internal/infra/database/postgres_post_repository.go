// internal/infra/database/postgres_post_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"post_scheduler/internal/domain/post"

	"github.com/lib/pq"
)

const postColumns = `id, user_id, content_type, payload, hashtags, status, external_id, external_url,
               published_at, created_at, updated_at`

type PostgresPostRepository struct {
	db *sql.DB
}

func NewPostgresPostRepository(db *sql.DB) *PostgresPostRepository {
	return &PostgresPostRepository{db: db}
}

func scanPost(row rowScanner) (*post.Post, error) {
	p := &post.Post{}
	var (
		contentType string
		payload     []byte
		hashtags    pq.StringArray
	)
	err := row.Scan(&p.ID, &p.UserID, &contentType, &payload, &hashtags, &p.Status,
		&p.ExternalID, &p.ExternalURL, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Hashtags = []string(hashtags)

	// A corrupt payload still yields the row; Validate rejects it before publishing.
	content, err := post.UnmarshalContent(post.ContentType(contentType), payload)
	if err == nil {
		p.Content = content
	}
	return p, nil
}

func (r *PostgresPostRepository) GetByID(ctx context.Context, id int64) (*post.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, post.ErrPostNotFound
		}
		return nil, fmt.Errorf("error getting post by ID %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresPostRepository) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*post.Post, error) {
	if len(ids) == 0 {
		return []*post.Post{}, nil
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 AND id = ANY($2) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying posts by IDs: %w", err)
	}
	defer rows.Close()

	out := make([]*post.Post, 0, len(ids))
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning post row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return out, nil
}

// MarkScheduled moves draft posts to scheduled. Posts in any other state are left alone.
func (r *PostgresPostRepository) MarkScheduled(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE posts SET status = 'scheduled', updated_at = NOW() WHERE id = ANY($1) AND status = 'draft'`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("error marking posts scheduled: %w", err)
	}
	return nil
}

func (r *PostgresPostRepository) MarkPublished(ctx context.Context, id int64, externalID, url string, publishedAt time.Time) error {
	query := `UPDATE posts
               SET status = 'published', external_id = $2, external_url = $3, published_at = $4, updated_at = NOW()
               WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, externalID, url, publishedAt)
	if err != nil {
		return fmt.Errorf("error marking post %d published: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return post.ErrPostNotFound
	}
	return nil
}

func (r *PostgresPostRepository) CreateAnalyticsPlaceholder(ctx context.Context, a *post.Analytics) error {
	query := `INSERT INTO post_analytics (post_id, likes, comments, shares, impressions, clicks, engagement_rate, last_updated)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               ON CONFLICT (post_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, a.PostID, a.Likes, a.Comments, a.Shares, a.Impressions, a.Clicks,
		a.EngagementRate, a.LastUpdated)
	if err != nil {
		return fmt.Errorf("error creating analytics placeholder for post %d: %w", a.PostID, err)
	}
	return nil
}

// ListObservations buckets published posts by local hour and weekday. Posts with zero
// impressions carry no signal and are skipped.
func (r *PostgresPostRepository) ListObservations(ctx context.Context, userID int64, since time.Time, timezone string) ([]post.Observation, error) {
	query := `SELECT p.id,
                      EXTRACT(HOUR FROM p.published_at AT TIME ZONE $3)::int,
                      EXTRACT(DOW FROM p.published_at AT TIME ZONE $3)::int,
                      p.content_type,
                      a.likes, a.comments, a.shares, a.impressions
               FROM posts p
               JOIN post_analytics a ON a.post_id = p.id
               WHERE p.user_id = $1
                 AND p.status = 'published'
                 AND p.published_at >= $2
                 AND a.impressions > 0
               ORDER BY p.published_at ASC`
	rows, err := r.db.QueryContext(ctx, query, userID, since, timezone)
	if err != nil {
		return nil, fmt.Errorf("error querying observations for user %d: %w", userID, err)
	}
	defer rows.Close()

	out := make([]post.Observation, 0)
	for rows.Next() {
		var (
			o                                   post.Observation
			dow                                 int
			contentType                         string
			likes, comments, shares, impression int64
		)
		if err := rows.Scan(&o.PostID, &o.Hour, &dow, &contentType, &likes, &comments, &shares, &impression); err != nil {
			return nil, fmt.Errorf("error scanning observation row: %w", err)
		}
		o.Weekday = time.Weekday(dow)
		o.ContentType = post.ContentType(contentType)
		o.Impressions = impression
		o.TotalEngagement = likes + comments + shares
		o.EngagementRate = post.EngagementRate(likes, comments, shares, impression)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observation rows: %w", err)
	}
	return out, nil
}
