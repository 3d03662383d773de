// internal/app/schedule_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/schedule"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ScheduleRequest is a direct user request to publish a post at a given instant.
type ScheduleRequest struct {
	UserID       int64
	PostID       int64
	ScheduledFor time.Time
	Priority     string
	SlotLabel    string
}

// ScheduleService owns creation and the explicit user mutations of scheduled posts.
// Status changes made by the execution loop live in PublishService.
type ScheduleService struct {
	repo    schedule.Repository
	posts   post.Repository
	planner SlotPlanner
	newID   func() string
	now     func() time.Time
	logger  *logrus.Entry
}

func NewScheduleService(repo schedule.Repository, posts post.Repository, planner SlotPlanner, logger *logrus.Entry) *ScheduleService {
	return &ScheduleService{
		repo:    repo,
		posts:   posts,
		planner: planner,
		newID:   uuid.NewString,
		now:     time.Now,
		logger:  logger,
	}
}

// SchedulePost validates the request and creates a pending row.
func (s *ScheduleService) SchedulePost(ctx context.Context, req ScheduleRequest) (*schedule.ScheduledPost, error) {
	log := s.logger.WithFields(logrus.Fields{"user_id": req.UserID, "post_id": req.PostID})

	sp, err := schedule.NewScheduledPost(s.newID(), req.UserID, req.PostID, req.ScheduledFor, req.Priority, req.SlotLabel, s.now())
	if err != nil {
		log.WithError(err).Info("Rejected schedule request")
		return nil, err
	}

	p, err := s.posts.GetByID(ctx, req.PostID)
	if err != nil {
		if errors.Is(err, post.ErrPostNotFound) {
			return nil, fmt.Errorf("%w: post %d does not exist", schedule.ErrInvalidScheduleRequest, req.PostID)
		}
		return nil, fmt.Errorf("failed to load post %d: %w", req.PostID, err)
	}
	if err := checkSchedulable(p, req.UserID); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sp); err != nil {
		log.WithError(err).Error("Failed to create scheduled post")
		return nil, fmt.Errorf("failed to create scheduled post: %w", err)
	}
	if err := s.posts.MarkScheduled(ctx, []int64{p.ID}); err != nil {
		log.WithError(err).Warn("Failed to mark post as scheduled")
	}

	log.WithFields(logrus.Fields{
		"scheduled_post_id": sp.ID,
		"scheduled_for":     sp.ScheduledFor.Format(time.RFC3339),
	}).Info("Post scheduled")
	return sp, nil
}

// AutoSchedule plans the user's next slots and assigns postIDs to them in order.
func (s *ScheduleService) AutoSchedule(ctx context.Context, userID int64, postIDs []int64, daysAhead, postsPerDay int) ([]*schedule.ScheduledPost, error) {
	log := s.logger.WithFields(logrus.Fields{"user_id": userID, "posts": len(postIDs)})
	if len(postIDs) == 0 {
		return nil, fmt.Errorf("%w: no posts to schedule", schedule.ErrInvalidScheduleRequest)
	}
	if dup := firstDuplicate(postIDs); dup != 0 {
		return nil, fmt.Errorf("%w: post %d listed twice", schedule.ErrInvalidScheduleRequest, dup)
	}

	slots, err := s.planner.Plan(ctx, userID, daysAhead, postsPerDay)
	if err != nil {
		return nil, fmt.Errorf("failed to plan slots: %w", err)
	}
	if len(slots) < len(postIDs) {
		return nil, fmt.Errorf("%w: only %d slots available in the next %d days for %d posts",
			schedule.ErrInvalidScheduleRequest, len(slots), daysAhead, len(postIDs))
	}

	found, err := s.posts.ListByIDs(ctx, userID, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load posts: %w", err)
	}
	byID := make(map[int64]*post.Post, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	now := s.now()
	created := make([]*schedule.ScheduledPost, 0, len(postIDs))
	for i, id := range postIDs {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: post %d does not exist", schedule.ErrInvalidScheduleRequest, id)
		}
		if err := checkSchedulable(p, userID); err != nil {
			return nil, err
		}
		slot := slots[i]
		sp, err := schedule.NewScheduledPost(s.newID(), userID, id, slot.At, string(schedule.PriorityNormal), string(slot.Label), now)
		if err != nil {
			return nil, err
		}
		created = append(created, sp)
	}

	if err := s.repo.CreateBatch(ctx, created); err != nil {
		log.WithError(err).Error("Failed to create auto-scheduled posts")
		return nil, fmt.Errorf("failed to create scheduled posts: %w", err)
	}
	if err := s.posts.MarkScheduled(ctx, postIDs); err != nil {
		log.WithError(err).Warn("Failed to mark posts as scheduled")
	}
	log.WithField("first_slot", created[0].ScheduledFor.Format(time.RFC3339)).Info("Posts auto-scheduled")
	return created, nil
}

// List returns the user's scheduled posts, earliest first. An empty status lists all.
func (s *ScheduleService) List(ctx context.Context, userID int64, status schedule.Status, limit int) ([]*schedule.ScheduledPost, error) {
	rows, err := s.repo.ListByUser(ctx, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled posts for user %d: %w", userID, err)
	}
	return rows, nil
}

// Cancel moves one pending row to cancelled. Cancelling a terminal row is rejected.
func (s *ScheduleService) Cancel(ctx context.Context, userID int64, id string) error {
	if err := s.repo.Cancel(ctx, userID, id); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "scheduled_post_id": id}).Info("Scheduled post cancelled")
	return nil
}

// Reschedule moves one pending row to a new future instant.
func (s *ScheduleService) Reschedule(ctx context.Context, userID int64, id string, at time.Time) error {
	if !at.After(s.now()) {
		return fmt.Errorf("%w: scheduled time %s is not in the future", schedule.ErrInvalidScheduleRequest, at.Format(time.RFC3339))
	}
	if err := s.repo.Reschedule(ctx, userID, id, at); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "scheduled_post_id": id, "scheduled_for": at.Format(time.RFC3339)}).Info("Scheduled post rescheduled")
	return nil
}

// BulkCancel cancels every id or none of them.
func (s *ScheduleService) BulkCancel(ctx context.Context, userID int64, ids []string) (int64, error) {
	return s.bulk(ctx, userID, ids, schedule.BulkAction{Kind: schedule.BulkCancel})
}

// BulkReschedule moves every id to at, or none of them.
func (s *ScheduleService) BulkReschedule(ctx context.Context, userID int64, ids []string, at time.Time) (int64, error) {
	if !at.After(s.now()) {
		return 0, fmt.Errorf("%w: scheduled time %s is not in the future", schedule.ErrInvalidScheduleRequest, at.Format(time.RFC3339))
	}
	return s.bulk(ctx, userID, ids, schedule.BulkAction{Kind: schedule.BulkReschedule, ScheduledFor: at})
}

// BulkReprioritize sets the priority of every id, or none of them.
func (s *ScheduleService) BulkReprioritize(ctx context.Context, userID int64, ids []string, priority string) (int64, error) {
	p, err := schedule.ParsePriority(priority)
	if err != nil {
		return 0, err
	}
	return s.bulk(ctx, userID, ids, schedule.BulkAction{Kind: schedule.BulkReprioritize, Priority: p})
}

func (s *ScheduleService) bulk(ctx context.Context, userID int64, ids []string, action schedule.BulkAction) (int64, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no scheduled posts selected", schedule.ErrInvalidScheduleRequest)
	}
	log := s.logger.WithFields(logrus.Fields{"user_id": userID, "action": action.Kind, "count": len(ids)})

	n, err := s.repo.ApplyBulk(ctx, userID, ids, action)
	if err != nil {
		var perr *schedule.PreconditionError
		if errors.As(err, &perr) {
			log.WithError(err).Info("Bulk action rejected")
		} else {
			log.WithError(err).Error("Bulk action failed")
		}
		return 0, err
	}
	log.WithField("updated", n).Info("Bulk action applied")
	return n, nil
}

func checkSchedulable(p *post.Post, userID int64) error {
	if p.UserID != userID {
		return fmt.Errorf("%w: post %d does not belong to user %d", schedule.ErrInvalidScheduleRequest, p.ID, userID)
	}
	if p.Status == post.StatusPublished {
		return fmt.Errorf("%w: post %d is already published", schedule.ErrInvalidScheduleRequest, p.ID)
	}
	if err := post.Validate(p.Content); err != nil {
		return fmt.Errorf("%w: %v", schedule.ErrInvalidScheduleRequest, err)
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func firstDuplicate(ids []int64) int64 {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return 0
}
