// internal/domain/schedule/repository.go
package schedule

import (
	"context"
	"time"
)

// ClaimFilter selects due pending rows for one sweep.
type ClaimFilter struct {
	DueBy     time.Time // scheduled_for <= DueBy (now plus grace)
	Limit     int
	Token     string // claim token written onto claimed rows
	SlotLabel string // optional: only rows bound to this label
	AutoOnly  bool   // optional: only users with auto-posting enabled
}

// BulkKind is the mutation applied by a bulk action.
type BulkKind string

const (
	BulkCancel       BulkKind = "cancel"
	BulkReschedule   BulkKind = "reschedule"
	BulkReprioritize BulkKind = "reprioritize"
)

// BulkAction is one all-or-nothing mutation over many rows.
type BulkAction struct {
	Kind         BulkKind
	ScheduledFor time.Time // for BulkReschedule
	Priority     Priority  // for BulkReprioritize
}

// Repository defines the persistence operations for scheduled posts.
// Every status change is a conditional update guarded on status = 'pending'.
type Repository interface {
	Create(ctx context.Context, sp *ScheduledPost) error
	CreateBatch(ctx context.Context, sps []*ScheduledPost) error
	GetByID(ctx context.Context, id string) (*ScheduledPost, error)
	ListByUser(ctx context.Context, userID int64, status Status, limit int) ([]*ScheduledPost, error)

	// ClaimDue atomically marks up to Limit due pending rows with the claim token and
	// returns them oldest-due first. Rows already claimed are skipped.
	ClaimDue(ctx context.Context, f ClaimFilter) ([]*ScheduledPost, error)
	// MarkPosted and MarkFailed succeed only if the row is still pending and holds token.
	MarkPosted(ctx context.Context, id, token, externalID, url string, postedAt time.Time) error
	MarkFailed(ctx context.Context, id, token, reason string) error
	// FailStaleClaims fails pending rows whose claim is older than claimedBefore.
	FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) (int64, error)

	Cancel(ctx context.Context, userID int64, id string) error
	Reschedule(ctx context.Context, userID int64, id string, at time.Time) error
	// ApplyBulk rejects the whole batch with *PreconditionError if any id is missing or not pending.
	ApplyBulk(ctx context.Context, userID int64, ids []string, action BulkAction) (int64, error)
}
