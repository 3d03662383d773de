// internal/domain/schedule/status.go
package schedule

import (
	"fmt"
	"strings"
)

// Status is the state of a ScheduledPost.
// pending is the only non-terminal state; posted, failed and cancelled are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusPosted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusPosted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders posts competing for attention in listings. It does not change sweep order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts the three priorities; an empty value means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidScheduleRequest, s)
	}
}
