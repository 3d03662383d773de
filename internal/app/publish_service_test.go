package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/publisher"
	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sweepNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type publishFixture struct {
	schedules *fakeScheduleRepo
	posts     *fakePostRepo
	creds     *fakeCreds
	pub       *fakePublisher
	notifier  *fakeNotifier
	svc       *PublishService
}

func newPublishFixture(cfg SweepConfig, posts ...*post.Post) *publishFixture {
	f := &publishFixture{
		schedules: newFakeScheduleRepo(),
		posts:     newFakePostRepo(posts...),
		creds:     &fakeCreds{valid: map[int64]bool{}},
		pub:       newFakePublisher(),
		notifier:  &fakeNotifier{},
	}
	f.schedules.now = func() time.Time { return sweepNow }
	f.svc = NewPublishService(f.schedules, f.posts, f.creds, f.pub, f.notifier, nil, cfg, quietLogger())
	f.svc.now = func() time.Time { return sweepNow }
	return f
}

func TestPublishService_SweepDuePublishesOldestFirst(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 2}, textPost(1, 7), textPost(2, 7), textPost(3, 7))
	f.creds.valid[7] = true
	f.schedules.put(pendingRow("c", 7, 3, sweepNow.Add(-time.Minute)))
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Hour)))
	f.schedules.put(pendingRow("b", 7, 2, sweepNow.Add(-30*time.Minute)))
	f.schedules.put(pendingRow("future", 7, 3, sweepNow.Add(time.Hour)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 2, Posted: 2}, res)

	a := f.schedules.get("a")
	assert.Equal(t, schedule.StatusPosted, a.Status)
	assert.Equal(t, "urn:li:share:1", a.ExternalID.String)
	assert.True(t, a.PostedAt.Valid)
	assert.Equal(t, schedule.StatusPosted, f.schedules.get("b").Status)
	assert.Equal(t, schedule.StatusPending, f.schedules.get("c").Status, "batch bound leaves the newest due row for the next sweep")
	assert.Equal(t, schedule.StatusPending, f.schedules.get("future").Status)

	assert.ElementsMatch(t, []int64{1, 2}, f.posts.placeholders)
	p, _ := f.posts.GetByID(context.Background(), 1)
	assert.Equal(t, post.StatusPublished, p.Status)
}

func TestPublishService_GraceWindowIncludesRowsJustAhead(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10, Grace: time.Minute}, textPost(1, 7))
	f.creds.valid[7] = true
	f.schedules.put(pendingRow("soon", 7, 1, sweepNow.Add(30*time.Second)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
}

func TestPublishService_MissingCredentialFailsRowAndContinues(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7), textPost(2, 8))
	f.creds.valid[8] = true
	f.schedules.put(pendingRow("no-cred", 7, 1, sweepNow.Add(-2*time.Minute)))
	f.schedules.put(pendingRow("ok", 8, 2, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 2, Posted: 1, Failed: 1}, res)

	failed := f.schedules.get("no-cred")
	assert.Equal(t, schedule.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorDetail.String, publisher.ErrCredentialMissing.Error())
	assert.Equal(t, 0, f.pub.callCount(1))
	assert.Contains(t, f.notifier.reasons["no-cred"], "reconnect")

	assert.Equal(t, schedule.StatusPosted, f.schedules.get("ok").Status)
}

func TestPublishService_PublishErrorIsRecordedVerbatim(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.pub.errs[1] = fmt.Errorf("%w: status 422: duplicate content", publisher.ErrRejected)
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	row := f.schedules.get("a")
	assert.Equal(t, schedule.StatusFailed, row.Status)
	assert.Equal(t, "platform rejected the post: status 422: duplicate content", row.ErrorDetail.String)
	assert.Empty(t, f.posts.placeholders)
}

func TestPublishService_TimeoutIsAFailure(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10, PublishTimeout: 20 * time.Millisecond}, textPost(1, 7))
	f.creds.valid[7] = true
	f.pub.wait = true
	f.pub.release = make(chan struct{})
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	row := f.schedules.get("a")
	assert.Equal(t, schedule.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorDetail.String, publisher.ErrPublishTimeout.Error())
}

func TestPublishService_RecordPostedRetriesOnce(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.schedules.markPostedErrs = []error{errors.New("connection reset")}
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Posted: 1}, res)

	row := f.schedules.get("a")
	assert.Equal(t, schedule.StatusPosted, row.Status)
	assert.Equal(t, "urn:li:share:1", row.ExternalID.String)
	assert.Equal(t, 1, f.pub.callCount(1))
}

func TestPublishService_RecordPostedGivesUpAfterRetry(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.schedules.markPostedErrs = []error{errors.New("connection reset"), errors.New("connection reset")}
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lost)
	assert.Equal(t, schedule.StatusPending, f.schedules.get("a").Status)
	assert.Equal(t, 1, f.pub.callCount(1))
}

func TestPublishService_AlreadyPublishedPostIsNotSentAgain(t *testing.T) {
	p := textPost(1, 7)
	p.Status = post.StatusPublished
	f := newPublishFixture(SweepConfig{BatchSize: 10}, p)
	f.creds.valid[7] = true
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	_, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusFailed, f.schedules.get("a").Status)
	assert.Equal(t, 0, f.pub.callCount(1))
}

func TestPublishService_ConcurrentSweepsPublishOnce(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []SweepResult
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.SweepDue(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	total := SweepResult{}
	for _, r := range results {
		total.Claimed += r.Claimed
		total.Posted += r.Posted
	}
	assert.Equal(t, 1, total.Claimed)
	assert.Equal(t, 1, total.Posted)
	assert.Equal(t, 1, f.pub.callCount(1))
	assert.Equal(t, schedule.StatusPosted, f.schedules.get("a").Status)
}

func TestPublishService_OverlappingSweepSkipsInFlightRow(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.pub.wait = true
	f.pub.started = make(chan struct{}, 1)
	f.pub.release = make(chan struct{})
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	done := make(chan SweepResult, 1)
	go func() {
		res, _ := f.svc.SweepDue(context.Background())
		done <- res
	}()
	<-f.pub.started

	second, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Claimed)

	close(f.pub.release)
	first := <-done
	assert.Equal(t, 1, first.Posted)
	assert.Equal(t, 1, f.pub.callCount(1))
}

func TestPublishService_CancelDuringPublishLosesTransition(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7))
	f.creds.valid[7] = true
	f.pub.wait = true
	f.pub.started = make(chan struct{}, 1)
	f.pub.release = make(chan struct{})
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	done := make(chan SweepResult, 1)
	go func() {
		res, _ := f.svc.SweepDue(context.Background())
		done <- res
	}()
	<-f.pub.started
	require.NoError(t, f.schedules.Cancel(context.Background(), 7, "a"))
	close(f.pub.release)

	res := <-done
	assert.Equal(t, SweepResult{Claimed: 1, Lost: 1}, res)
	assert.Equal(t, schedule.StatusCancelled, f.schedules.get("a").Status)
}

func TestPublishService_SweepSlotOnlyTakesAutoPostingRowsForLabel(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10}, textPost(1, 7), textPost(2, 7), textPost(3, 8))
	f.creds.valid[7] = true
	f.creds.valid[8] = true
	f.schedules.autoUsers[7] = true

	morning := pendingRow("morning", 7, 1, sweepNow.Add(-time.Minute))
	morning.OptimalSlot.String, morning.OptimalSlot.Valid = "morning", true
	evening := pendingRow("evening", 7, 2, sweepNow.Add(-time.Minute))
	evening.OptimalSlot.String, evening.OptimalSlot.Valid = "evening", true
	manual := pendingRow("manual-user", 8, 3, sweepNow.Add(-time.Minute))
	manual.OptimalSlot.String, manual.OptimalSlot.Valid = "morning", true
	f.schedules.put(morning)
	f.schedules.put(evening)
	f.schedules.put(manual)

	res, err := f.svc.SweepSlot(context.Background(), timing.SlotMorning)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Posted: 1}, res)
	assert.Equal(t, schedule.StatusPosted, f.schedules.get("morning").Status)
	assert.Equal(t, schedule.StatusPending, f.schedules.get("evening").Status)
	assert.Equal(t, schedule.StatusPending, f.schedules.get("manual-user").Status)

	_, err = f.svc.SweepSlot(context.Background(), timing.SlotLabel("brunch"))
	assert.ErrorIs(t, err, timing.ErrUnknownSlotLabel)
}

func TestPublishService_RecoverStaleClaims(t *testing.T) {
	f := newPublishFixture(SweepConfig{BatchSize: 10, ClaimTimeout: 15 * time.Minute}, textPost(1, 7))
	f.creds.valid[7] = true
	f.schedules.put(pendingRow("stuck", 7, 1, sweepNow.Add(-time.Hour)))

	// Simulate a worker that claimed the row and died.
	f.schedules.now = func() time.Time { return sweepNow.Add(-time.Hour) }
	_, err := f.schedules.ClaimDue(context.Background(), schedule.ClaimFilter{DueBy: sweepNow, Limit: 1, Token: "dead"})
	require.NoError(t, err)

	n, err := f.svc.RecoverStaleClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row := f.schedules.get("stuck")
	assert.Equal(t, schedule.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorDetail.String, "outcome unknown")
	assert.Equal(t, 0, f.pub.callCount(1))
}

func TestPublishService_ClaimErrorAbortsSweep(t *testing.T) {
	f := newPublishFixture(SweepConfig{})
	f.svc.schedules = claimFailingRepo{f.schedules}

	_, err := f.svc.SweepDue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublishService_CredentialCheckErrorFailsRow(t *testing.T) {
	f := newPublishFixture(SweepConfig{}, textPost(1, 7))
	f.creds.err = errors.New("db timeout")
	f.schedules.put(pendingRow("a", 7, 1, sweepNow.Add(-time.Minute)))

	res, err := f.svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "credential check failed: db timeout", f.schedules.get("a").ErrorDetail.String)
}

type claimFailingRepo struct {
	*fakeScheduleRepo
}

func (claimFailingRepo) ClaimDue(context.Context, schedule.ClaimFilter) ([]*schedule.ScheduledPost, error) {
	return nil, errors.New("dial tcp: connection refused")
}
