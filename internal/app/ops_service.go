package app

import (
	"context"
	"errors"
	"fmt"

	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"

	"github.com/sirupsen/logrus"
)

var ErrOperatorNotAuthorized = errors.New("performing user is not authorized as an operator")

const opsListLimit = 20

// JobRunner is the slice of the job registry operators can drive.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	StartJob(name string) error
	StopJob(name string) error
	Enabled(name string) bool
	Names() []string
}

// JobState is one registry entry as shown to an operator.
type JobState struct {
	Name    string
	Enabled bool
}

// OpsService backs the operator console. Every call checks the performing user first.
type OpsService struct {
	schedules  *ScheduleService
	timing     *TimingService
	jobs       JobRunner
	operatorID int64
	logger     *logrus.Entry
}

func NewOpsService(schedules *ScheduleService, timingService *TimingService, jobs JobRunner, operatorID int64, logger *logrus.Entry) *OpsService {
	return &OpsService{
		schedules:  schedules,
		timing:     timingService,
		jobs:       jobs,
		operatorID: operatorID,
		logger:     logger,
	}
}

func (s *OpsService) authorize(performingID int64) error {
	if s.operatorID == 0 || performingID != s.operatorID {
		return ErrOperatorNotAuthorized
	}
	return nil
}

// Pending lists a user's pending scheduled posts.
func (s *OpsService) Pending(ctx context.Context, performingID, userID int64) ([]*schedule.ScheduledPost, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	return s.schedules.List(ctx, userID, schedule.StatusPending, opsListLimit)
}

// Cancel cancels one pending row on behalf of a user.
func (s *OpsService) Cancel(ctx context.Context, performingID, userID int64, id string) error {
	if err := s.authorize(performingID); err != nil {
		return err
	}
	if err := s.schedules.Cancel(ctx, userID, id); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"operator_id": performingID, "user_id": userID, "scheduled_post_id": id}).Info("Operator cancelled scheduled post")
	return nil
}

// Plan previews a user's calendar without creating anything.
func (s *OpsService) Plan(ctx context.Context, performingID, userID int64, daysAhead, postsPerDay int) ([]timing.PlannedSlot, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	return s.timing.Plan(ctx, userID, daysAhead, postsPerDay)
}

// Profile returns a user's timing profile, rebuilding it when refresh is set.
func (s *OpsService) Profile(ctx context.Context, performingID, userID int64, refresh bool) (*timing.TimingProfile, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	return s.timing.Profile(ctx, userID, refresh)
}

// Jobs lists the registry.
func (s *OpsService) Jobs(performingID int64) ([]JobState, error) {
	if err := s.authorize(performingID); err != nil {
		return nil, err
	}
	names := s.jobs.Names()
	out := make([]JobState, 0, len(names))
	for _, n := range names {
		out = append(out, JobState{Name: n, Enabled: s.jobs.Enabled(n)})
	}
	return out, nil
}

// RunJob runs a job synchronously outside its schedule.
func (s *OpsService) RunJob(ctx context.Context, performingID int64, name string) error {
	if err := s.authorize(performingID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"operator_id": performingID, "job": name}).Info("Operator triggered job")
	if err := s.jobs.RunNow(ctx, name); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

// SetJobEnabled pauses or resumes a job.
func (s *OpsService) SetJobEnabled(performingID int64, name string, enabled bool) error {
	if err := s.authorize(performingID); err != nil {
		return err
	}
	var err error
	if enabled {
		err = s.jobs.StartJob(name)
	} else {
		err = s.jobs.StopJob(name)
	}
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"operator_id": performingID, "job": name, "enabled": enabled}).Info("Operator changed job state")
	return nil
}
