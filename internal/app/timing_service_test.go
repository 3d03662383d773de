package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timingNow = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) // a Monday

type timingFixture struct {
	posts *fakePostRepo
	cache *fakeProfileCache
	svc   *TimingService
}

func newTimingFixture(t *testing.T) *timingFixture {
	t.Helper()
	region := testRegion(t)
	clock := func() time.Time { return timingNow }

	posts := newFakePostRepo()
	builder := NewProfileBuilder(posts, region, quietLogger())
	builder.now = clock
	cache := newFakeProfileCache(clock)

	svc := NewTimingService(builder, cache, timing.NewPlanner(region), 90, 7*24*time.Hour, nil, quietLogger())
	svc.now = clock
	return &timingFixture{posts: posts, cache: cache, svc: svc}
}

func TestTimingService_ProfileServesFreshCache(t *testing.T) {
	f := newTimingFixture(t)
	cached := &timing.TimingProfile{UserID: 7, Confidence: timing.ConfidenceHigh}
	f.cache.entries[7] = &timing.CachedProfile{Profile: cached, UpdatedAt: timingNow.Add(-6 * 24 * time.Hour)}

	got, err := f.svc.Profile(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Same(t, cached, got)
	assert.Equal(t, int32(0), f.posts.obsCalls)
}

func TestTimingService_ProfileRebuildsStaleCache(t *testing.T) {
	f := newTimingFixture(t)
	f.cache.entries[7] = &timing.CachedProfile{
		Profile:   &timing.TimingProfile{UserID: 7, Confidence: timing.ConfidenceHigh},
		UpdatedAt: timingNow.Add(-8 * 24 * time.Hour),
	}

	got, err := f.svc.Profile(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Equal(t, timing.ConfidenceRegional, got.Confidence)
	assert.Equal(t, 1, f.cache.upserts)
	assert.Equal(t, timingNow, f.cache.entries[7].UpdatedAt)
}

func TestTimingService_CacheReadErrorFallsBackToBuild(t *testing.T) {
	f := newTimingFixture(t)
	f.cache.getErr = errors.New("connection reset")

	got, err := f.svc.Profile(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, int32(1), f.posts.obsCalls)
}

func TestTimingService_BuildErrorIsReturned(t *testing.T) {
	f := newTimingFixture(t)
	f.posts.obsErr = errors.New("relation does not exist")

	_, err := f.svc.Profile(context.Background(), 7, false)
	require.Error(t, err)
	assert.Equal(t, 0, f.cache.upserts)
}

func TestTimingService_RefreshIgnoresFreshCache(t *testing.T) {
	f := newTimingFixture(t)
	f.cache.entries[7] = &timing.CachedProfile{
		Profile:   &timing.TimingProfile{UserID: 7, Confidence: timing.ConfidenceHigh},
		UpdatedAt: timingNow,
	}

	got, err := f.svc.Refresh(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, timing.ConfidenceRegional, got.Confidence)
}

func TestTimingService_ConcurrentCallersGetAProfile(t *testing.T) {
	f := newTimingFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.Profile(context.Background(), 7, true)
			assert.NoError(t, err)
			assert.NotNil(t, p)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, f.posts.obsCalls, int32(8))
}

func TestTimingService_CancelledCallerDoesNotAbortSharedBuild(t *testing.T) {
	f := newTimingFixture(t)
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	f.svc.builder.source = src

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.Profile(ctx, 7, true)
		errc <- err
	}()

	<-src.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool {
		_, err := f.cache.Get(context.Background(), 7)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	p, err := f.svc.Profile(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
}

func TestTimingService_RevalidateStaleIsolatesFailures(t *testing.T) {
	f := newTimingFixture(t)
	f.cache.stale = []int64{1, 2, 3}
	f.svc.builder.source = failingSource{failFor: 2}

	n, err := f.svc.RevalidateStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, f.cache.entries, int64(1))
	assert.NotContains(t, f.cache.entries, int64(2))
	assert.Contains(t, f.cache.entries, int64(3))
}

func TestTimingService_Invalidate(t *testing.T) {
	f := newTimingFixture(t)
	require.NoError(t, f.svc.Invalidate(context.Background(), 7))
	assert.Equal(t, []int64{7}, f.cache.deleted)
}

func TestTimingService_PlanIsDeterministic(t *testing.T) {
	f := newTimingFixture(t)

	first, err := f.svc.Plan(context.Background(), 7, 7, 2)
	require.NoError(t, err)
	second, err := f.svc.Plan(context.Background(), 7, 7, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.LessOrEqual(t, len(first), 14)
	for i, s := range first {
		assert.True(t, s.At.After(timingNow))
		if i > 0 {
			assert.True(t, s.At.After(first[i-1].At))
		}
	}

	_, err = f.svc.Plan(context.Background(), 7, 0, 2)
	assert.ErrorIs(t, err, timing.ErrInvalidPlanRequest)
}

type failingSource struct {
	failFor int64
}

func (s failingSource) ListObservations(_ context.Context, userID int64, _ time.Time, _ string) ([]post.Observation, error) {
	if userID == s.failFor {
		return nil, errors.New("statement timeout")
	}
	return nil, nil
}

// gatedSource blocks until released and fails if its context was cancelled meanwhile.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) ListObservations(ctx context.Context, _ int64, _ time.Time, _ string) ([]post.Observation, error) {
	close(s.started)
	<-s.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
