// internal/domain/schedule/scheduled_post.go
package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"post_scheduler/internal/domain/timing"
)

var (
	ErrScheduledPostNotFound  = errors.New("scheduled post not found")
	ErrInvalidScheduleRequest = errors.New("invalid schedule request")
	ErrNotPending             = errors.New("scheduled post is not pending")
	// ErrTransitionLost means a conditional status update matched no row: another
	// worker, a cancellation, or a stale-claim sweep got there first.
	ErrTransitionLost = errors.New("scheduled post transition lost")
)

// PreconditionError lists the ids that blocked a bulk action.
type PreconditionError struct {
	NotPending []string
	NotFound   []string
}

func (e *PreconditionError) Error() string {
	var parts []string
	if len(e.NotPending) > 0 {
		parts = append(parts, fmt.Sprintf("not pending: %s", strings.Join(e.NotPending, ", ")))
	}
	if len(e.NotFound) > 0 {
		parts = append(parts, fmt.Sprintf("not found: %s", strings.Join(e.NotFound, ", ")))
	}
	return "bulk action rejected (" + strings.Join(parts, "; ") + ")"
}

func (e *PreconditionError) Unwrap() error { return ErrNotPending }

// ScheduledPost is a request to publish one post at one instant.
// Corresponds to the 'scheduled_posts' table.
type ScheduledPost struct {
	ID           string
	UserID       int64
	PostID       int64
	ScheduledFor time.Time
	Status       Status
	Priority     Priority
	OptimalSlot  sql.NullString // Slot label when the time came from the planner
	ErrorDetail  sql.NullString
	ExternalID   sql.NullString
	ExternalURL  sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PostedAt     sql.NullTime
}

// NewScheduledPost validates a creation request and returns a pending row.
// The target must be strictly after now; a label, when given, must be a canonical slot.
func NewScheduledPost(id string, userID, postID int64, at time.Time, priority, slot string, now time.Time) (*ScheduledPost, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidScheduleRequest)
	}
	if postID <= 0 {
		return nil, fmt.Errorf("%w: missing post", ErrInvalidScheduleRequest)
	}
	if at.IsZero() || !at.After(now) {
		return nil, fmt.Errorf("%w: scheduled time %s is not in the future", ErrInvalidScheduleRequest, at.Format(time.RFC3339))
	}
	p, err := ParsePriority(priority)
	if err != nil {
		return nil, err
	}
	sp := &ScheduledPost{
		ID:           id,
		UserID:       userID,
		PostID:       postID,
		ScheduledFor: at,
		Status:       StatusPending,
		Priority:     p,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if slot != "" {
		label, err := timing.ParseSlotLabel(slot)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScheduleRequest, err)
		}
		sp.OptimalSlot = sql.NullString{String: string(label), Valid: true}
	}
	return sp, nil
}

// CheckBulkPending verifies every requested id is present in found and pending.
// It is the all-or-nothing precondition for bulk cancel/reschedule/reprioritize.
func CheckBulkPending(ids []string, found []*ScheduledPost) error {
	byID := make(map[string]*ScheduledPost, len(found))
	for _, sp := range found {
		byID[sp.ID] = sp
	}
	perr := &PreconditionError{}
	for _, id := range ids {
		sp, ok := byID[id]
		if !ok {
			perr.NotFound = append(perr.NotFound, id)
			continue
		}
		if sp.Status != StatusPending {
			perr.NotPending = append(perr.NotPending, id)
		}
	}
	if len(perr.NotFound) > 0 || len(perr.NotPending) > 0 {
		sort.Strings(perr.NotFound)
		sort.Strings(perr.NotPending)
		return perr
	}
	return nil
}
