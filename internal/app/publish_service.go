// internal/app/publish_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/publisher"
	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const staleClaimReason = "publish outcome unknown: the worker did not finish within the claim timeout; check the profile and reschedule if the post is missing"

// SweepConfig bounds one execution-loop sweep.
type SweepConfig struct {
	BatchSize      int
	Grace          time.Duration
	ClaimTimeout   time.Duration
	PublishTimeout time.Duration
}

// DefaultSweepConfig mirrors the configuration defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		BatchSize:      10,
		Grace:          time.Minute,
		ClaimTimeout:   15 * time.Minute,
		PublishTimeout: 30 * time.Second,
	}
}

// SweepResult counts what happened to the rows claimed by one sweep.
type SweepResult struct {
	Claimed int
	Posted  int
	Failed  int
	Lost    int // conditional update matched nothing; another actor already moved the row
}

type rowOutcome int

const (
	outcomePosted rowOutcome = iota
	outcomeFailed
	outcomeLost
)

// PublishService is the execution loop: it turns due pending rows into posted or failed rows.
type PublishService struct {
	schedules schedule.Repository
	posts     post.Repository
	creds     publisher.CredentialChecker
	publisher publisher.Publisher
	notifier  FailureNotifier
	recorder  SweepRecorder
	cfg       SweepConfig
	now       func() time.Time
	newToken  func() string
	logger    *logrus.Entry
}

func NewPublishService(
	schedules schedule.Repository,
	posts post.Repository,
	creds publisher.CredentialChecker,
	pub publisher.Publisher,
	notifier FailureNotifier,
	recorder SweepRecorder,
	cfg SweepConfig,
	logger *logrus.Entry,
) *PublishService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	defaults := DefaultSweepConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaults.ClaimTimeout
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &PublishService{
		schedules: schedules,
		posts:     posts,
		creds:     creds,
		publisher: pub,
		notifier:  notifier,
		recorder:  recorder,
		cfg:       cfg,
		now:       time.Now,
		newToken:  uuid.NewString,
		logger:    logger,
	}
}

// SweepDue processes every due pending row, up to the batch size, oldest first.
func (s *PublishService) SweepDue(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx, "due", schedule.ClaimFilter{})
}

// SweepSlot processes due rows bound to label for users with auto-posting enabled.
// It is fired at each canonical slot time.
func (s *PublishService) SweepSlot(ctx context.Context, label timing.SlotLabel) (SweepResult, error) {
	if _, err := timing.ParseSlotLabel(string(label)); err != nil {
		return SweepResult{}, err
	}
	return s.sweep(ctx, "slot_"+string(label), schedule.ClaimFilter{SlotLabel: string(label), AutoOnly: true})
}

// RecoverStaleClaims fails rows whose publish attempt never reported back. They are
// not retried: the publish may have gone through, and a duplicate post is worse than
// a visible failure.
func (s *PublishService) RecoverStaleClaims(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.ClaimTimeout)
	n, err := s.schedules.FailStaleClaims(ctx, cutoff, staleClaimReason)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale claims: %w", err)
	}
	if n > 0 {
		s.logger.WithField("count", n).Warn("Failed scheduled posts with stale claims")
	}
	return n, nil
}

func (s *PublishService) sweep(ctx context.Context, kind string, f schedule.ClaimFilter) (SweepResult, error) {
	start := time.Now()
	log := s.logger.WithField("sweep", kind)

	f.DueBy = s.now().Add(s.cfg.Grace)
	f.Limit = s.cfg.BatchSize
	f.Token = s.newToken()

	rows, err := s.schedules.ClaimDue(ctx, f)
	if err != nil {
		log.WithError(err).Error("Failed to claim due scheduled posts")
		return SweepResult{}, fmt.Errorf("failed to claim due scheduled posts: %w", err)
	}

	res := SweepResult{Claimed: len(rows)}
	for _, sp := range rows {
		switch s.processRow(ctx, f.Token, sp) {
		case outcomePosted:
			res.Posted++
		case outcomeFailed:
			res.Failed++
		case outcomeLost:
			res.Lost++
		}
	}

	s.recorder.ObserveSweep(kind, time.Since(start), res)
	if res.Claimed > 0 {
		log.WithFields(logrus.Fields{
			"claimed": res.Claimed,
			"posted":  res.Posted,
			"failed":  res.Failed,
			"lost":    res.Lost,
		}).Info("Sweep finished")
	} else {
		log.Debug("Sweep found nothing due")
	}
	return res, nil
}

// processRow handles one claimed row. Any failure, including a panic in a
// collaborator, is recorded on that row only.
func (s *PublishService) processRow(ctx context.Context, token string, sp *schedule.ScheduledPost) (outcome rowOutcome) {
	log := s.logger.WithFields(logrus.Fields{
		"scheduled_post_id": sp.ID,
		"user_id":           sp.UserID,
		"post_id":           sp.PostID,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered panic while publishing scheduled post")
			outcome = s.fail(ctx, log, token, sp, fmt.Sprintf("internal error while publishing: %v", r))
		}
	}()

	ok, err := s.creds.HasValidCredential(ctx, sp.UserID)
	if err != nil {
		return s.fail(ctx, log, token, sp, fmt.Sprintf("credential check failed: %v", err))
	}
	if !ok {
		return s.fail(ctx, log, token, sp, fmt.Sprintf("%v: user %d must reconnect their LinkedIn account and reschedule", publisher.ErrCredentialMissing, sp.UserID))
	}

	p, err := s.posts.GetByID(ctx, sp.PostID)
	if err != nil {
		return s.fail(ctx, log, token, sp, fmt.Sprintf("content unavailable: %v", err))
	}
	if p.Status == post.StatusPublished {
		return s.fail(ctx, log, token, sp, fmt.Sprintf("post %d was already published", p.ID))
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	result, err := s.publisher.Publish(pubCtx, sp.UserID, p)
	timedOut := errors.Is(pubCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		reason := err.Error()
		if timedOut || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, publisher.ErrPublishTimeout) {
			reason = fmt.Sprintf("%v: no response within %s", publisher.ErrPublishTimeout, s.cfg.PublishTimeout)
		}
		return s.fail(ctx, log, token, sp, reason)
	}

	postedAt := s.now()
	outcome = outcomePosted
	err = s.schedules.MarkPosted(ctx, sp.ID, token, result.ExternalID, result.URL, postedAt)
	if err != nil && !errors.Is(err, schedule.ErrTransitionLost) {
		// The post is live; one more attempt keeps stale-claim recovery from marking it failed.
		log.WithError(err).Warn("Failed to record the transition, retrying once")
		err = s.schedules.MarkPosted(ctx, sp.ID, token, result.ExternalID, result.URL, postedAt)
	}
	if err != nil {
		if errors.Is(err, schedule.ErrTransitionLost) {
			log.WithField("external_id", result.ExternalID).Warn("Published, but the row left pending concurrently")
			outcome = outcomeLost
		} else {
			log.WithError(err).WithField("external_id", result.ExternalID).Error("Published, but failed to record the transition")
			outcome = outcomeLost
		}
	}

	if err := s.posts.MarkPublished(ctx, p.ID, result.ExternalID, result.URL, postedAt); err != nil {
		log.WithError(err).Error("Failed to mark post as published")
	}
	if err := s.posts.CreateAnalyticsPlaceholder(ctx, post.NewAnalyticsPlaceholder(p.ID, postedAt)); err != nil {
		log.WithError(err).Error("Failed to create analytics placeholder")
	}

	if outcome == outcomePosted {
		log.WithFields(logrus.Fields{"external_id": result.ExternalID, "url": result.URL}).Info("Scheduled post published")
	}
	return outcome
}

func (s *PublishService) fail(ctx context.Context, log *logrus.Entry, token string, sp *schedule.ScheduledPost, reason string) rowOutcome {
	log = log.WithField("reason", reason)
	if err := s.schedules.MarkFailed(ctx, sp.ID, token, reason); err != nil {
		if errors.Is(err, schedule.ErrTransitionLost) {
			log.Warn("Could not fail scheduled post, it left pending concurrently")
		} else {
			log.WithError(err).Error("Failed to record scheduled post failure")
		}
		return outcomeLost
	}
	log.Warn("Scheduled post failed")

	if s.notifier != nil {
		if err := s.notifier.NotifyFailure(ctx, sp, reason); err != nil {
			log.WithError(err).Warn("Failed to send failure alert")
		}
	}
	return outcomeFailed
}
