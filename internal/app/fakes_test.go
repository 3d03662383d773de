package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/publisher"
	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type claimedRow struct {
	sp        *schedule.ScheduledPost
	token     string
	claimedAt time.Time
}

// fakeScheduleRepo mimics the conditional updates of the postgres repository.
type fakeScheduleRepo struct {
	mu        sync.Mutex
	rows      map[string]*claimedRow
	autoUsers map[int64]bool
	now       func() time.Time
	createErr error
	// markPostedErrs are returned, in order, by the next MarkPosted calls.
	markPostedErrs []error
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		rows:      make(map[string]*claimedRow),
		autoUsers: make(map[int64]bool),
		now:       time.Now,
	}
}

func (r *fakeScheduleRepo) put(sp *schedule.ScheduledPost) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[sp.ID] = &claimedRow{sp: sp}
}

func (r *fakeScheduleRepo) get(id string) schedule.ScheduledPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id].sp
}

func (r *fakeScheduleRepo) Create(_ context.Context, sp *schedule.ScheduledPost) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.put(sp)
	return nil
}

func (r *fakeScheduleRepo) CreateBatch(_ context.Context, sps []*schedule.ScheduledPost) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, sp := range sps {
		r.put(sp)
	}
	return nil
}

func (r *fakeScheduleRepo) GetByID(_ context.Context, id string) (*schedule.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, schedule.ErrScheduledPostNotFound
	}
	cp := *row.sp
	return &cp, nil
}

func (r *fakeScheduleRepo) ListByUser(_ context.Context, userID int64, status schedule.Status, limit int) ([]*schedule.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*schedule.ScheduledPost
	for _, row := range r.rows {
		if row.sp.UserID == userID && (status == "" || row.sp.Status == status) {
			cp := *row.sp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeScheduleRepo) ClaimDue(_ context.Context, f schedule.ClaimFilter) ([]*schedule.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*claimedRow
	for _, row := range r.rows {
		sp := row.sp
		if sp.Status != schedule.StatusPending || row.token != "" || sp.ScheduledFor.After(f.DueBy) {
			continue
		}
		if f.SlotLabel != "" && sp.OptimalSlot.String != f.SlotLabel {
			continue
		}
		if f.AutoOnly && !r.autoUsers[sp.UserID] {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].sp.ScheduledFor.Before(due[j].sp.ScheduledFor) })
	if len(due) > f.Limit {
		due = due[:f.Limit]
	}
	out := make([]*schedule.ScheduledPost, 0, len(due))
	for _, row := range due {
		row.token = f.Token
		row.claimedAt = r.now()
		cp := *row.sp
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeScheduleRepo) transition(id, token string, apply func(sp *schedule.ScheduledPost)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.sp.Status != schedule.StatusPending || row.token != token {
		return schedule.ErrTransitionLost
	}
	apply(row.sp)
	return nil
}

func (r *fakeScheduleRepo) MarkPosted(_ context.Context, id, token, externalID, url string, postedAt time.Time) error {
	r.mu.Lock()
	if len(r.markPostedErrs) > 0 {
		err := r.markPostedErrs[0]
		r.markPostedErrs = r.markPostedErrs[1:]
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return r.transition(id, token, func(sp *schedule.ScheduledPost) {
		sp.Status = schedule.StatusPosted
		sp.ExternalID = sql.NullString{String: externalID, Valid: true}
		sp.ExternalURL = sql.NullString{String: url, Valid: true}
		sp.PostedAt = sql.NullTime{Time: postedAt, Valid: true}
	})
}

func (r *fakeScheduleRepo) MarkFailed(_ context.Context, id, token, reason string) error {
	return r.transition(id, token, func(sp *schedule.ScheduledPost) {
		sp.Status = schedule.StatusFailed
		sp.ErrorDetail = sql.NullString{String: reason, Valid: true}
	})
}

func (r *fakeScheduleRepo) FailStaleClaims(_ context.Context, claimedBefore time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.sp.Status == schedule.StatusPending && row.token != "" && row.claimedAt.Before(claimedBefore) {
			row.sp.Status = schedule.StatusFailed
			row.sp.ErrorDetail = sql.NullString{String: reason, Valid: true}
			n++
		}
	}
	return n, nil
}

func (r *fakeScheduleRepo) mutate(userID int64, id string, apply func(sp *schedule.ScheduledPost)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.sp.UserID != userID {
		return schedule.ErrScheduledPostNotFound
	}
	if row.sp.Status != schedule.StatusPending {
		return schedule.ErrNotPending
	}
	apply(row.sp)
	return nil
}

func (r *fakeScheduleRepo) Cancel(_ context.Context, userID int64, id string) error {
	return r.mutate(userID, id, func(sp *schedule.ScheduledPost) { sp.Status = schedule.StatusCancelled })
}

func (r *fakeScheduleRepo) Reschedule(_ context.Context, userID int64, id string, at time.Time) error {
	return r.mutate(userID, id, func(sp *schedule.ScheduledPost) { sp.ScheduledFor = at })
}

func (r *fakeScheduleRepo) ApplyBulk(_ context.Context, userID int64, ids []string, action schedule.BulkAction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*schedule.ScheduledPost
	for _, id := range ids {
		if row, ok := r.rows[id]; ok && row.sp.UserID == userID {
			found = append(found, row.sp)
		}
	}
	if err := schedule.CheckBulkPending(ids, found); err != nil {
		return 0, err
	}
	for _, sp := range found {
		switch action.Kind {
		case schedule.BulkCancel:
			sp.Status = schedule.StatusCancelled
		case schedule.BulkReschedule:
			sp.ScheduledFor = action.ScheduledFor
		case schedule.BulkReprioritize:
			sp.Priority = action.Priority
		}
	}
	return int64(len(found)), nil
}

type fakePostRepo struct {
	mu           sync.Mutex
	posts        map[int64]*post.Post
	observations []post.Observation
	obsErr       error
	obsCalls     int32
	placeholders []int64
	scheduled    []int64
}

func newFakePostRepo(posts ...*post.Post) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*post.Post)}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) GetByID(_ context.Context, id int64) (*post.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, post.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePostRepo) ListByIDs(_ context.Context, userID int64, ids []int64) ([]*post.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*post.Post
	for _, id := range ids {
		if p, ok := r.posts[id]; ok && p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePostRepo) MarkScheduled(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, ids...)
	for _, id := range ids {
		if p, ok := r.posts[id]; ok && p.Status == post.StatusDraft {
			p.Status = post.StatusScheduled
		}
	}
	return nil
}

func (r *fakePostRepo) MarkPublished(_ context.Context, id int64, externalID, url string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return post.ErrPostNotFound
	}
	p.Status = post.StatusPublished
	p.ExternalID = sql.NullString{String: externalID, Valid: true}
	p.ExternalURL = sql.NullString{String: url, Valid: true}
	p.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
	return nil
}

func (r *fakePostRepo) CreateAnalyticsPlaceholder(_ context.Context, a *post.Analytics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeholders = append(r.placeholders, a.PostID)
	return nil
}

func (r *fakePostRepo) ListObservations(_ context.Context, _ int64, _ time.Time, _ string) ([]post.Observation, error) {
	atomic.AddInt32(&r.obsCalls, 1)
	if r.obsErr != nil {
		return nil, r.obsErr
	}
	return r.observations, nil
}

type fakeProfileCache struct {
	mu       sync.Mutex
	entries  map[int64]*timing.CachedProfile
	getErr   error
	upserts  int
	stale    []int64
	deleted  []int64
	clockNow func() time.Time
}

func newFakeProfileCache(now func() time.Time) *fakeProfileCache {
	return &fakeProfileCache{entries: make(map[int64]*timing.CachedProfile), clockNow: now}
}

func (c *fakeProfileCache) Get(_ context.Context, userID int64) (*timing.CachedProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[userID]
	if !ok {
		return nil, timing.ErrProfileNotFound
	}
	return e, nil
}

func (c *fakeProfileCache) Upsert(_ context.Context, p *timing.TimingProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	c.entries[p.UserID] = &timing.CachedProfile{Profile: p, UpdatedAt: c.clockNow()}
	return nil
}

func (c *fakeProfileCache) Delete(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, userID)
	delete(c.entries, userID)
	return nil
}

func (c *fakeProfileCache) ListStaleUsers(_ context.Context, _ time.Time, limit int) ([]int64, error) {
	if len(c.stale) > limit {
		return c.stale[:limit], nil
	}
	return c.stale, nil
}

type fakeCreds struct {
	valid map[int64]bool
	err   error
}

func (f *fakeCreds) HasValidCredential(_ context.Context, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.valid[userID], nil
}

// fakePublisher counts calls per post and optionally blocks until released.
type fakePublisher struct {
	mu      sync.Mutex
	calls   map[int64]int
	errs    map[int64]error
	wait    bool
	started chan struct{}
	release chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{calls: make(map[int64]int), errs: make(map[int64]error)}
}

func (f *fakePublisher) Publish(ctx context.Context, _ int64, p *post.Post) (*publisher.Result, error) {
	f.mu.Lock()
	f.calls[p.ID]++
	err := f.errs[p.ID]
	f.mu.Unlock()

	if f.wait {
		if f.started != nil {
			f.started <- struct{}{}
		}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	urn := fmt.Sprintf("urn:li:share:%d", p.ID)
	return &publisher.Result{ExternalID: urn, URL: "https://www.linkedin.com/feed/update/" + urn + "/"}, nil
}

func (f *fakePublisher) callCount(postID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[postID]
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, sp *schedule.ScheduledPost, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reasons == nil {
		n.reasons = make(map[string]string)
	}
	n.reasons[sp.ID] = reason
	return nil
}

type fakeJobs struct {
	enabled map[string]bool
	ran     []string
}

func (j *fakeJobs) RunNow(_ context.Context, name string) error {
	if _, ok := j.enabled[name]; !ok {
		return errors.New("unknown job")
	}
	j.ran = append(j.ran, name)
	return nil
}

func (j *fakeJobs) StartJob(name string) error {
	if _, ok := j.enabled[name]; !ok {
		return errors.New("unknown job")
	}
	j.enabled[name] = true
	return nil
}

func (j *fakeJobs) StopJob(name string) error {
	if _, ok := j.enabled[name]; !ok {
		return errors.New("unknown job")
	}
	j.enabled[name] = false
	return nil
}

func (j *fakeJobs) Enabled(name string) bool { return j.enabled[name] }

func (j *fakeJobs) Names() []string {
	out := make([]string, 0, len(j.enabled))
	for n := range j.enabled {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func textPost(id, userID int64) *post.Post {
	return &post.Post{ID: id, UserID: userID, Content: post.TextContent{Text: "hello"}, Status: post.StatusDraft}
}

func pendingRow(id string, userID, postID int64, at time.Time) *schedule.ScheduledPost {
	return &schedule.ScheduledPost{
		ID:           id,
		UserID:       userID,
		PostID:       postID,
		ScheduledFor: at,
		Status:       schedule.StatusPending,
		Priority:     schedule.PriorityNormal,
	}
}
