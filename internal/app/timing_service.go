// internal/app/timing_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"post_scheduler/internal/domain/timing"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	revalidateBatchSize = 200
	profileBuildTimeout = 2 * time.Minute
)

// TimingService serves cached timing profiles and plans calendars from them.
type TimingService struct {
	builder      *ProfileBuilder
	cache        timing.ProfileCache
	planner      *timing.Planner
	lookbackDays int
	freshness    time.Duration
	recorder     ProfileRecorder
	builds       singleflight.Group
	buildTimeout time.Duration
	now          func() time.Time
	logger       *logrus.Entry
}

func NewTimingService(
	builder *ProfileBuilder,
	cache timing.ProfileCache,
	planner *timing.Planner,
	lookbackDays int,
	freshness time.Duration,
	recorder ProfileRecorder,
	logger *logrus.Entry,
) *TimingService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &TimingService{
		builder:      builder,
		cache:        cache,
		planner:      planner,
		lookbackDays: lookbackDays,
		freshness:    freshness,
		recorder:     recorder,
		buildTimeout: profileBuildTimeout,
		now:          time.Now,
		logger:       logger,
	}
}

// Profile returns the user's cached profile if it is inside the freshness window,
// otherwise builds a new one and writes it back. Concurrent callers for the same
// user share a single build.
func (s *TimingService) Profile(ctx context.Context, userID int64, forceRefresh bool) (*timing.TimingProfile, error) {
	log := s.logger.WithField("user_id", userID)

	if !forceRefresh {
		cached, err := s.cache.Get(ctx, userID)
		switch {
		case err == nil && cached.Fresh(s.now(), s.freshness):
			log.Debug("Serving cached timing profile")
			return cached.Profile, nil
		case err != nil && !errors.Is(err, timing.ErrProfileNotFound):
			// The cache is disposable; a read failure only costs a rebuild.
			log.WithError(err).Warn("Failed to read cached timing profile, rebuilding")
		}
	}

	// The build is shared, so it must outlive the caller that happened to start it.
	ch := s.builds.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
		defer cancel()

		start := time.Now()
		profile, err := s.builder.Build(buildCtx, userID, s.lookbackDays)
		if err != nil {
			return nil, err
		}
		s.recorder.ObserveProfileBuild(profile.Confidence, time.Since(start))
		if err := s.cache.Upsert(buildCtx, profile); err != nil {
			log.WithError(err).Warn("Failed to cache timing profile")
		}
		return profile, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		log.WithError(err).Error("Failed to build timing profile")
		return nil, err
	}
	if shared {
		log.Debug("Joined in-flight timing profile build")
	}
	return v.(*timing.TimingProfile), nil
}

// Refresh rebuilds a profile regardless of cache age.
func (s *TimingService) Refresh(ctx context.Context, userID int64) (*timing.TimingProfile, error) {
	return s.Profile(ctx, userID, true)
}

// Invalidate drops a user's cached profile; the next read rebuilds it.
func (s *TimingService) Invalidate(ctx context.Context, userID int64) error {
	if err := s.cache.Delete(ctx, userID); err != nil && !errors.Is(err, timing.ErrProfileNotFound) {
		return fmt.Errorf("failed to invalidate timing profile for user %d: %w", userID, err)
	}
	return nil
}

// RevalidateStale rebuilds every cached profile older than the freshness window.
// A failure for one user is logged and does not stop the others.
func (s *TimingService) RevalidateStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.freshness)
	users, err := s.cache.ListStaleUsers(ctx, cutoff, revalidateBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale timing profiles: %w", err)
	}

	refreshed := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.Refresh(ctx, userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to revalidate timing profile")
			continue
		}
		refreshed++
	}
	s.logger.WithFields(logrus.Fields{"stale": len(users), "refreshed": refreshed}).Info("Timing profile revalidation finished")
	return refreshed, nil
}

// Plan builds the user's calendar for the next daysAhead days.
func (s *TimingService) Plan(ctx context.Context, userID int64, daysAhead, postsPerDay int) ([]timing.PlannedSlot, error) {
	profile, err := s.Profile(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	return s.planner.Plan(profile, daysAhead, postsPerDay, s.now())
}
