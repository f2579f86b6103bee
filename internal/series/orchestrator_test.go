package series

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/internal/publishing"
	"github.com/maheshrc27/seriesflow/internal/ratelimit"
	"github.com/maheshrc27/seriesflow/internal/storage"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeSeriesStore keeps one series and applies the same lease rules as the
// Postgres repository.
type fakeSeriesStore struct {
	mu        sync.Mutex
	series    *models.Series
	acquires  int
	updates   []models.SeriesUpdate
	releases  int
	updateErr error
}

func (f *fakeSeriesStore) snapshot() models.Series {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.series
}

func (f *fakeSeriesStore) GetByID(ctx context.Context, id int64) (*models.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.series == nil || f.series.ID != id {
		return nil, nil
	}
	cp := *f.series
	cp.Platforms = append(pq.StringArray(nil), f.series.Platforms...)
	return &cp, nil
}

func (f *fakeSeriesStore) AcquireLock(ctx context.Context, id int64, holder string, now, staleBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	s := f.series
	if s.IsProcessing && s.LockAge(now) < now.Sub(staleBefore) {
		return false, nil
	}
	s.IsProcessing = true
	s.LockHolder = holder
	s.LockedAt = sql.NullTime{Time: now, Valid: true}
	return true, nil
}

func (f *fakeSeriesStore) Update(ctx context.Context, id int64, holder string, u *models.SeriesUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s := f.series
	if s.LockHolder != holder {
		return fmt.Errorf("lease not held by %s", holder)
	}
	f.updates = append(f.updates, *u)
	if u.CurrentFileIndex != nil {
		s.CurrentFileIndex = *u.CurrentFileIndex
	}
	if u.CurrentPendingPostID != nil {
		s.CurrentPendingPostID = *u.CurrentPendingPostID
	}
	if u.LastProcessedAt != nil {
		s.LastProcessedAt = sql.NullTime{Time: *u.LastProcessedAt, Valid: true}
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.ReleaseLock {
		s.IsProcessing, s.LockHolder, s.LockedAt = false, "", sql.NullTime{}
	}
	return nil
}

func (f *fakeSeriesStore) ReleaseLock(ctx context.Context, id int64, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.series.LockHolder == holder {
		f.releases++
		f.series.IsProcessing, f.series.LockHolder, f.series.LockedAt = false, "", sql.NullTime{}
	}
	return nil
}

type fakeAccounts struct {
	accounts []*models.SocialAccount
}

func (f *fakeAccounts) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return f.accounts, nil
}

func connectedAccounts(platforms ...string) *fakeAccounts {
	f := &fakeAccounts{}
	for _, p := range platforms {
		f.accounts = append(f.accounts, &models.SocialAccount{UserID: 7, Platform: p, AccountStatus: models.AccountStatusConnected})
	}
	return f
}

type fakeRuns struct {
	runs []*models.SeriesRun
}

func (f *fakeRuns) Create(ctx context.Context, run *models.SeriesRun) (int64, error) {
	f.runs = append(f.runs, run)
	return int64(len(f.runs)), nil
}

type fakeFiles struct {
	files     []storage.FileMeta
	checkErr  error
	listErr   error
	downloads []string
	deleted   []string
}

func (f *fakeFiles) ListFiles(ctx context.Context, userID int64, folderID string) ([]storage.FileMeta, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]storage.FileMeta(nil), f.files...), nil
}

func (f *fakeFiles) Download(ctx context.Context, userID int64, path string) ([]byte, string, error) {
	f.downloads = append(f.downloads, path)
	return []byte("bytes of " + path), "image/jpeg", nil
}

func (f *fakeFiles) Delete(ctx context.Context, userID int64, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeFiles) CheckCredential(ctx context.Context, userID int64) error {
	return f.checkErr
}

type fakeContent struct{}

func (fakeContent) Describe(ctx context.Context, data []byte, mimeType string) string {
	return "a description"
}

func (fakeContent) Caption(ctx context.Context, description, prompt string, platforms []string) string {
	return "caption for " + description
}

type fakeTracker struct {
	statuses map[string]publishing.PostStatus
	errs     map[string]error
	deleted  []string
}

func (f *fakeTracker) GetStatus(ctx context.Context, postID string) (publishing.PostStatus, error) {
	if err := f.errs[postID]; err != nil {
		return "", err
	}
	if s, ok := f.statuses[postID]; ok {
		return s, nil
	}
	return publishing.StatusPublished, nil
}

func (f *fakeTracker) DeletePost(ctx context.Context, postID string) error {
	f.deleted = append(f.deleted, postID)
	return nil
}

type fakePublisher struct {
	name     string
	queued   bool
	err      error
	requests []publishing.Request
}

func (f *fakePublisher) Name() string { return f.name }
func (f *fakePublisher) Queued() bool { return f.queued }
func (f *fakePublisher) Publish(ctx context.Context, req publishing.Request) (*publishing.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &publishing.Result{
		Publisher: f.name,
		Platforms: req.Platforms,
		PostID:    fmt.Sprintf("%s-post-%d", f.name, len(f.requests)),
		Status:    publishing.StatusScheduled,
	}, nil
}

type fakeLimiter struct {
	denied   map[string]bool
	checked  []string
	recorded []string
}

func (f *fakeLimiter) CanPost(ctx context.Context, platform, accountID string) (ratelimit.Decision, error) {
	f.checked = append(f.checked, platform)
	if f.denied[platform] {
		return ratelimit.Decision{Allowed: false, Limit: 8, Used: 8, Message: "daily limit of 8 posts reached for " + platform}, nil
	}
	return ratelimit.Decision{Allowed: true, Limit: 8, Remaining: 8}, nil
}

func (f *fakeLimiter) Record(ctx context.Context, platform, accountID string) error {
	f.recorded = append(f.recorded, platform+"/"+accountID)
	return nil
}

type harness struct {
	store    *fakeSeriesStore
	accounts *fakeAccounts
	runs     *fakeRuns
	files    *fakeFiles
	tracker  *fakeTracker
	queue    *fakePublisher
	native   *fakePublisher
	limiter  *fakeLimiter
	orch     *Orchestrator
	clock    time.Time
}

func newSeries() *models.Series {
	return &models.Series{
		ID:               1,
		UserID:           7,
		Name:             "daily sketches",
		Platforms:        pq.StringArray{"x", "threads"},
		ProfileRef:       "brand",
		FolderID:         "folder-1",
		Prompt:           "Write a short caption",
		IntervalMinutes:  60,
		CurrentFileIndex: 1,
		Status:           models.SeriesStatusActive,
	}
}

func newHarness(t *testing.T, s *models.Series, names ...string) *harness {
	t.Helper()
	h := &harness{
		store:    &fakeSeriesStore{series: s},
		accounts: connectedAccounts("x", "threads", "instagram"),
		runs:     &fakeRuns{},
		files:    &fakeFiles{files: files(names...)},
		tracker:  &fakeTracker{statuses: map[string]publishing.PostStatus{}},
		queue:    &fakePublisher{name: "queue", queued: true},
		native:   &fakePublisher{name: "instagram"},
		limiter:  &fakeLimiter{denied: map[string]bool{}},
		clock:    testNow,
	}
	registry := publishing.NewRegistry(h.queue)
	registry.Register("instagram", h.native)

	h.orch = NewOrchestrator(h.store, h.accounts, h.runs, h.files, fakeContent{}, h.tracker, registry, h.limiter, Options{})
	h.orch.now = func() time.Time { return h.clock }
	holders := 0
	h.orch.newHolder = func() (string, error) {
		holders++
		return fmt.Sprintf("holder-%d", holders), nil
	}
	return h
}

func TestAdvance_PublishesAndMovesCursor(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg", "2.jpg", "3.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, "queue-post-1", res.PostID)
	assert.Equal(t, 2, res.FileIndex)

	s := h.store.snapshot()
	assert.Equal(t, 2, s.CurrentFileIndex)
	assert.Equal(t, "queue-post-1", s.CurrentPendingPostID)
	assert.True(t, s.LastProcessedAt.Valid)
	assert.Equal(t, testNow, s.LastProcessedAt.Time)
	assert.Equal(t, models.SeriesStatusActive, s.Status)
	assert.False(t, s.IsProcessing)

	require.Len(t, h.queue.requests, 1)
	req := h.queue.requests[0]
	assert.Equal(t, []string{"x", "threads"}, req.Platforms)
	assert.Equal(t, "caption for a description", req.Caption)
	assert.Equal(t, "1.jpg", req.FileName)
	assert.Equal(t, []string{"x/brand", "threads/brand"}, h.limiter.recorded)
	assert.Len(t, h.store.updates, 1, "progress is saved in a single update")

	require.Len(t, h.runs.runs, 1)
	assert.Equal(t, "published", h.runs.runs[0].Outcome)
}

func TestAdvance_ConsecutiveRunsAdvanceByOne(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg")

	for i := 0; i < 4; i++ {
		h.clock = h.clock.Add(time.Hour)
		res := h.orch.Advance(context.Background(), 1)
		require.True(t, res.Success, res.Message)
	}

	s := h.store.snapshot()
	assert.Equal(t, 5, s.CurrentFileIndex)
	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg"}, h.files.downloads)
}

func TestAdvance_PendingScheduledWaitsWithoutLocking(t *testing.T) {
	s := newSeries()
	s.CurrentPendingPostID = "post-0"
	h := newHarness(t, s, "1.jpg")
	h.tracker.statuses["post-0"] = publishing.StatusScheduled
	before := h.store.snapshot()

	res := h.orch.Advance(context.Background(), 1)

	assert.False(t, res.Success)
	assert.True(t, res.Waiting())
	assert.Equal(t, OutcomeWaiting, res.Outcome)
	assert.Zero(t, h.store.acquires)
	assert.Equal(t, before, h.store.snapshot())
	assert.Empty(t, h.queue.requests)
}

func TestAdvance_DeletedPendingPostUnblocksLikePublished(t *testing.T) {
	for _, status := range []publishing.PostStatus{publishing.StatusPublished, publishing.StatusDeleted, publishing.StatusFailed, "unknown"} {
		t.Run(string(status), func(t *testing.T) {
			s := newSeries()
			s.CurrentPendingPostID = "post-0"
			h := newHarness(t, s, "1.jpg", "2.jpg")
			h.tracker.statuses["post-0"] = status

			res := h.orch.Advance(context.Background(), 1)

			require.True(t, res.Success, res.Message)
			assert.Equal(t, OutcomePublished, res.Outcome)
			assert.Equal(t, "queue-post-1", h.store.snapshot().CurrentPendingPostID)
		})
	}
}

func TestAdvance_PendingStatusErrorStops(t *testing.T) {
	s := newSeries()
	s.CurrentPendingPostID = "post-0"
	h := newHarness(t, s, "1.jpg")
	h.tracker.errs = map[string]error{"post-0": publishing.ErrPublishFailed}

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, publishing.ErrPublishFailed)
	assert.Zero(t, h.store.acquires)
}

func TestAdvance_FreshLockAbortsWithoutTouchingSeries(t *testing.T) {
	s := newSeries()
	s.IsProcessing = true
	s.LockHolder = "other-run"
	s.LockedAt = sql.NullTime{Time: testNow.Add(-9 * time.Minute), Valid: true}
	s.LastProcessedAt = sql.NullTime{Time: testNow.Add(-2 * time.Hour), Valid: true}
	h := newHarness(t, s, "1.jpg")
	before := h.store.snapshot()

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeProcessing, res.Outcome)
	assert.True(t, res.Waiting())
	assert.Equal(t, before, h.store.snapshot())
	assert.Empty(t, h.store.updates)
	assert.Zero(t, h.store.releases)
	assert.Empty(t, h.queue.requests)
}

func TestAdvance_StaleLockIsTakenOver(t *testing.T) {
	s := newSeries()
	s.IsProcessing = true
	s.LockHolder = "crashed-run"
	s.LockedAt = sql.NullTime{Time: testNow.Add(-10 * time.Minute), Valid: true}
	h := newHarness(t, s, "1.jpg", "2.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success, res.Message)
	snap := h.store.snapshot()
	assert.Equal(t, 2, snap.CurrentFileIndex)
	assert.False(t, snap.IsProcessing)
}

func TestAdvance_LegacyLockFallsBackToLastProcessedAt(t *testing.T) {
	s := newSeries()
	s.IsProcessing = true
	s.LastProcessedAt = sql.NullTime{Time: testNow.Add(-3 * time.Minute), Valid: true}
	h := newHarness(t, s, "1.jpg")

	res := h.orch.Advance(context.Background(), 1)
	assert.Equal(t, OutcomeProcessing, res.Outcome)

	h.clock = testNow.Add(8 * time.Minute)
	res = h.orch.Advance(context.Background(), 1)
	assert.True(t, res.Success, res.Message)
}

func TestAdvance_GapIsHealedWithoutPublishing(t *testing.T) {
	s := newSeries()
	s.CurrentFileIndex = 3
	h := newHarness(t, s, "1.jpg", "2.jpg", "4.jpg", "5.jpg")

	res := h.orch.Advance(context.Background(), 1)

	assert.True(t, res.Success)
	assert.Equal(t, OutcomeGapHealed, res.Outcome)
	assert.Equal(t, 4, res.FileIndex)
	snap := h.store.snapshot()
	assert.Equal(t, 4, snap.CurrentFileIndex)
	assert.False(t, snap.LastProcessedAt.Valid, "gap healing is not an advance")
	assert.False(t, snap.IsProcessing)
	assert.Empty(t, h.queue.requests)
	assert.Empty(t, h.files.downloads)
	assert.Empty(t, h.limiter.recorded)
}

func TestAdvance_ExhaustedWithoutLoopCompletes(t *testing.T) {
	s := newSeries()
	s.CurrentFileIndex = 6
	h := newHarness(t, s, "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg")

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	snap := h.store.snapshot()
	assert.Equal(t, models.SeriesStatusCompleted, snap.Status)
	assert.Equal(t, 6, snap.CurrentFileIndex)
	assert.Empty(t, h.queue.requests)
}

func TestAdvance_ExhaustedWithLoopResets(t *testing.T) {
	s := newSeries()
	s.CurrentFileIndex = 6
	s.LoopEnabled = true
	h := newHarness(t, s, "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg")

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeLooped, res.Outcome)
	snap := h.store.snapshot()
	assert.Equal(t, 1, snap.CurrentFileIndex)
	assert.Equal(t, models.SeriesStatusActive, snap.Status)
	assert.Empty(t, h.queue.requests)
}

func TestAdvance_LastFileCompletesOrWraps(t *testing.T) {
	s := newSeries()
	s.CurrentFileIndex = 3
	h := newHarness(t, s, "1.jpg", "2.jpg", "3.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success)
	snap := h.store.snapshot()
	assert.Equal(t, 4, snap.CurrentFileIndex)
	assert.Equal(t, models.SeriesStatusCompleted, snap.Status)

	s = newSeries()
	s.CurrentFileIndex = 3
	s.LoopEnabled = true
	h = newHarness(t, s, "2.jpg", "3.jpg")

	res = h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success)
	snap = h.store.snapshot()
	assert.Equal(t, 2, snap.CurrentFileIndex)
	assert.Equal(t, models.SeriesStatusActive, snap.Status)
}

func TestAdvance_RateLimitedReleasesLockAndPublishesNothing(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg")
	h.limiter.denied["threads"] = true

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Contains(t, res.Message, "daily limit of 8 posts reached for threads")
	snap := h.store.snapshot()
	assert.False(t, snap.IsProcessing)
	assert.Equal(t, 1, snap.CurrentFileIndex)
	assert.False(t, snap.LastProcessedAt.Valid)
	assert.Equal(t, 1, h.store.releases)
	assert.Empty(t, h.queue.requests)
	assert.Empty(t, h.limiter.recorded)
}

func TestAdvance_DirectPlatformBypassesRateLimit(t *testing.T) {
	s := newSeries()
	s.Platforms = pq.StringArray{"instagram", "x"}
	h := newHarness(t, s, "1.jpg", "2.jpg")
	h.limiter.denied["instagram"] = true

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"x"}, h.limiter.checked)
	assert.Equal(t, []string{"x/brand"}, h.limiter.recorded)
	require.Len(t, h.queue.requests, 1)
	assert.Equal(t, []string{"x"}, h.queue.requests[0].Platforms)
	require.Len(t, h.native.requests, 1)
	assert.Equal(t, []string{"instagram"}, h.native.requests[0].Platforms)
	assert.Equal(t, "queue-post-1", h.store.snapshot().CurrentPendingPostID)
}

func TestAdvance_DirectOnlySeriesHasNoPendingPost(t *testing.T) {
	s := newSeries()
	s.Platforms = pq.StringArray{"instagram"}
	h := newHarness(t, s, "1.jpg", "2.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "instagram-post-1", res.PostID)
	assert.Empty(t, h.store.snapshot().CurrentPendingPostID)
	assert.Empty(t, h.limiter.checked)
	assert.Empty(t, h.limiter.recorded)
}

func TestAdvance_DirectFailureAfterQueuedPostStillAdvances(t *testing.T) {
	s := newSeries()
	s.Platforms = pq.StringArray{"instagram", "x"}
	h := newHarness(t, s, "1.jpg", "2.jpg")
	h.native.err = errors.New("graph api down")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, h.store.snapshot().CurrentFileIndex)
}

func TestAdvance_ExpiredCloudCredential(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg")
	h.files.checkErr = storage.ErrCredentialExpired

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeConnectivity, res.Outcome)
	assert.Contains(t, res.Message, "reconnect cloud storage")
	assert.ErrorIs(t, res.Err, storage.ErrCredentialExpired)
	snap := h.store.snapshot()
	assert.False(t, snap.IsProcessing)
	assert.Equal(t, 1, snap.CurrentFileIndex)
	assert.Empty(t, h.store.updates)
}

func TestAdvance_DisconnectedPlatformAccount(t *testing.T) {
	s := newSeries()
	s.Platforms = pq.StringArray{"x", "linkedin"}
	h := newHarness(t, s, "1.jpg")

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeConnectivity, res.Outcome)
	assert.Equal(t, "reconnect linkedin", res.Message)
	assert.False(t, h.store.snapshot().IsProcessing)
	assert.Empty(t, h.queue.requests)
}

func TestAdvance_MissingConfigurationLeavesSeriesUntouched(t *testing.T) {
	s := newSeries()
	s.Prompt = ""
	s.FolderID = ""
	h := newHarness(t, s, "1.jpg")
	before := h.store.snapshot()

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeConfig, res.Outcome)
	assert.Contains(t, res.Message, "a media folder")
	assert.Contains(t, res.Message, "a caption prompt")
	assert.Zero(t, h.store.acquires)
	assert.Equal(t, before, h.store.snapshot())
}

func TestAdvance_InactiveSeries(t *testing.T) {
	for _, status := range []models.SeriesStatus{models.SeriesStatusPaused, models.SeriesStatusCompleted} {
		s := newSeries()
		s.Status = status
		h := newHarness(t, s, "1.jpg")

		res := h.orch.Advance(context.Background(), 1)

		assert.Equal(t, OutcomeInactive, res.Outcome)
		assert.Zero(t, h.store.acquires)
	}
}

func TestAdvance_CooldownWhenConfigured(t *testing.T) {
	s := newSeries()
	s.LastProcessedAt = sql.NullTime{Time: testNow.Add(-10 * time.Minute), Valid: true}
	h := newHarness(t, s, "1.jpg", "2.jpg")

	res := h.orch.Advance(context.Background(), 1)
	require.True(t, res.Success, "no spacing is enforced by default")

	s = newSeries()
	s.LastProcessedAt = sql.NullTime{Time: testNow.Add(-10 * time.Minute), Valid: true}
	h = newHarness(t, s, "1.jpg", "2.jpg")
	h.orch.opts.MinRunInterval = 30 * time.Minute

	res = h.orch.Advance(context.Background(), 1)
	assert.Equal(t, OutcomeCooldown, res.Outcome)
	assert.Zero(t, h.store.acquires)
}

func TestAdvance_EmptyFolder(t *testing.T) {
	h := newHarness(t, newSeries(), "cover.jpg", "readme.png")

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeEmpty, res.Outcome)
	snap := h.store.snapshot()
	assert.False(t, snap.IsProcessing)
	assert.Equal(t, models.SeriesStatusActive, snap.Status)
	assert.Empty(t, h.store.updates)
}

func TestAdvance_PublishFailureReleasesLock(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg", "2.jpg")
	h.queue.err = publishing.ErrPublishFailed

	res := h.orch.Advance(context.Background(), 1)

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, publishing.ErrPublishFailed)
	snap := h.store.snapshot()
	assert.False(t, snap.IsProcessing)
	assert.Equal(t, 1, snap.CurrentFileIndex)
	assert.Empty(t, snap.CurrentPendingPostID)
	assert.Empty(t, h.limiter.recorded)
}

func TestAdvance_PersistFailureDeletesCreatedPost(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg", "2.jpg")
	h.store.updateErr = errors.New("connection reset")

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, []string{"queue-post-1"}, h.tracker.deleted)
	assert.Empty(t, h.limiter.recorded)
	assert.False(t, h.store.snapshot().IsProcessing, "best effort release after a failed save")
}

func TestAdvance_DeleteAfterPosting(t *testing.T) {
	s := newSeries()
	s.DeleteAfterPosting = true
	h := newHarness(t, s, "1.jpg", "2.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, res.Success)
	assert.Equal(t, []string{"1.jpg"}, h.files.deleted)
}

func TestAdvance_ListFailureWithExpiredCredential(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg")
	h.files.listErr = fmt.Errorf("%w: rejected after refresh", storage.ErrCredentialExpired)

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeConnectivity, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Message, "reconnect cloud storage"))
	assert.False(t, h.store.snapshot().IsProcessing)
}

func TestAdvance_UnknownSeries(t *testing.T) {
	h := newHarness(t, newSeries())

	res := h.orch.Advance(context.Background(), 99)

	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Empty(t, h.runs.runs)
}

// racingStore lets another run finish between the first read of the series
// and the lock.
type racingStore struct {
	*fakeSeriesStore
	race  func()
	raced bool
}

func (r *racingStore) AcquireLock(ctx context.Context, id int64, holder string, now, staleBefore time.Time) (bool, error) {
	if !r.raced {
		r.raced = true
		r.race()
	}
	return r.fakeSeriesStore.AcquireLock(ctx, id, holder, now, staleBefore)
}

func racingHarness(t *testing.T, names ...string) (*harness, *Result) {
	t.Helper()
	h := newHarness(t, newSeries(), names...)
	first := &Result{}
	h.orch.series = &racingStore{
		fakeSeriesStore: h.store,
		race:            func() { *first = h.orch.Advance(context.Background(), 1) },
	}
	return h, first
}

func TestAdvance_OverlappingRunWaitsForScheduledPost(t *testing.T) {
	h, first := racingHarness(t, "1.jpg", "2.jpg", "3.jpg")
	h.tracker.statuses["queue-post-1"] = publishing.StatusScheduled

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, first.Success, first.Message)
	assert.Equal(t, OutcomeWaiting, res.Outcome)
	require.Len(t, h.queue.requests, 1)
	assert.Equal(t, "1.jpg", h.queue.requests[0].FileName)
	assert.Equal(t, []string{"1.jpg"}, h.files.downloads)

	s := h.store.snapshot()
	assert.Equal(t, 2, s.CurrentFileIndex)
	assert.Equal(t, "queue-post-1", s.CurrentPendingPostID)
	assert.False(t, s.IsProcessing)
}

func TestAdvance_OverlappingRunUsesFreshCursor(t *testing.T) {
	h, first := racingHarness(t, "1.jpg", "2.jpg", "3.jpg")

	res := h.orch.Advance(context.Background(), 1)

	require.True(t, first.Success, first.Message)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"1.jpg", "2.jpg"}, h.files.downloads)
	assert.Equal(t, 3, res.FileIndex)
	assert.Equal(t, 3, h.store.snapshot().CurrentFileIndex)
}

func TestAdvance_OverlappingRunSeesPause(t *testing.T) {
	h := newHarness(t, newSeries(), "1.jpg", "2.jpg")
	h.orch.series = &racingStore{
		fakeSeriesStore: h.store,
		race: func() {
			h.store.mu.Lock()
			h.store.series.Status = models.SeriesStatusPaused
			h.store.mu.Unlock()
		},
	}

	res := h.orch.Advance(context.Background(), 1)

	assert.Equal(t, OutcomeInactive, res.Outcome)
	assert.Empty(t, h.queue.requests)
	assert.False(t, h.store.snapshot().IsProcessing)
}
