// internal/app/ports.go
package app

import (
	"context"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"
)

// ObservationSource is the slice of the post repository the profile builder reads.
type ObservationSource interface {
	ListObservations(ctx context.Context, userID int64, since time.Time, timezone string) ([]post.Observation, error)
}

// SlotPlanner produces concrete future slots for a user.
type SlotPlanner interface {
	Plan(ctx context.Context, userID int64, daysAhead, postsPerDay int) ([]timing.PlannedSlot, error)
}

// FailureNotifier is told about every row the execution loop fails.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, sp *schedule.ScheduledPost, reason string) error
}

// SweepRecorder receives the outcome of every sweep.
type SweepRecorder interface {
	ObserveSweep(kind string, elapsed time.Duration, res SweepResult)
}

// ProfileRecorder receives every completed profile build.
type ProfileRecorder interface {
	ObserveProfileBuild(confidence timing.Confidence, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveSweep(string, time.Duration, SweepResult)         {}
func (noopRecorder) ObserveProfileBuild(timing.Confidence, time.Duration) {}
