// internal/domain/timing/repository.go
package timing

import (
	"context"
	"time"
)

// CachedProfile is a stored profile with its cache timestamp.
type CachedProfile struct {
	Profile   *TimingProfile
	UpdatedAt time.Time
}

// Fresh reports whether the cache entry is younger than window at now.
func (c *CachedProfile) Fresh(now time.Time, window time.Duration) bool {
	return c != nil && c.Profile != nil && now.Sub(c.UpdatedAt) < window
}

// ProfileCache persists one profile per user, keyed by user id.
type ProfileCache interface {
	Get(ctx context.Context, userID int64) (*CachedProfile, error)
	Upsert(ctx context.Context, profile *TimingProfile) error
	Delete(ctx context.Context, userID int64) error
	// ListStaleUsers returns users whose profile was last written before the cutoff.
	ListStaleUsers(ctx context.Context, updatedBefore time.Time, limit int) ([]int64, error)
}
