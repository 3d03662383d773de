// internal/domain/post/post.go
package post

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrPostNotFound       = errors.New("post not found")
	ErrInvalidContent     = errors.New("invalid post content")
	ErrUnknownContentType = errors.New("unknown content type")
)

// Status is the lifecycle of the content entity itself, independent of any schedule.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
)

// Post is a piece of generated or user-written content owned by one user.
// Corresponds to the 'posts' table.
type Post struct {
	ID          int64
	UserID      int64
	Content     Content
	Hashtags    []string
	Status      Status
	ExternalID  sql.NullString // Platform post identifier once published
	ExternalURL sql.NullString
	PublishedAt sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentType is a shortcut for p.Content.Type() that tolerates a nil body.
func (p *Post) ContentType() ContentType {
	if p == nil || p.Content == nil {
		return ""
	}
	return p.Content.Type()
}

// Observation is one measured historical post, reduced to what the slot scorer needs.
// Hour and Weekday are in the region's local time.
type Observation struct {
	PostID          int64
	Hour            int
	Weekday         time.Weekday
	ContentType     ContentType
	EngagementRate  float64
	Impressions     int64
	TotalEngagement int64 // likes + comments + shares
}

// Analytics holds the platform counters for a published post.
// Corresponds to the 'post_analytics' table.
type Analytics struct {
	PostID         int64
	Likes          int64
	Comments       int64
	Shares         int64
	Impressions    int64
	Clicks         int64
	EngagementRate float64
	LastUpdated    time.Time
}

// EngagementRate is (likes+comments+shares)/impressions, or 0 when there are no impressions.
func EngagementRate(likes, comments, shares, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(likes+comments+shares) / float64(impressions)
}

// NewAnalyticsPlaceholder returns the zero-count row created right after publishing.
func NewAnalyticsPlaceholder(postID int64, now time.Time) *Analytics {
	return &Analytics{PostID: postID, LastUpdated: now}
}
