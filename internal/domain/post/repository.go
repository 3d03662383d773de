// internal/domain/post/repository.go
package post

import (
	"context"
	"time"
)

// Repository defines the operations the scheduling core needs on posts and analytics.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Post, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*Post, error)
	MarkScheduled(ctx context.Context, ids []int64) error
	MarkPublished(ctx context.Context, id int64, externalID, url string, publishedAt time.Time) error

	// CreateAnalyticsPlaceholder inserts a zero-count analytics row; an existing row is left untouched.
	CreateAnalyticsPlaceholder(ctx context.Context, a *Analytics) error

	// ListObservations returns the user's published-and-measured posts since the given instant,
	// with hour and weekday computed in the named IANA timezone.
	ListObservations(ctx context.Context, userID int64, since time.Time, timezone string) ([]Observation, error)
}
