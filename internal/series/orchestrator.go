// Package series advances a series by one file per run: it checks the
// safeguards, picks the next file, captions it, publishes it and moves the cursor.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/internal/publishing"
	"github.com/maheshrc27/seriesflow/internal/ratelimit"
	"github.com/maheshrc27/seriesflow/internal/storage"
)

type SeriesStore interface {
	GetByID(ctx context.Context, id int64) (*models.Series, error)
	AcquireLock(ctx context.Context, id int64, holder string, now, staleBefore time.Time) (bool, error)
	Update(ctx context.Context, id int64, holder string, u *models.SeriesUpdate) error
	ReleaseLock(ctx context.Context, id int64, holder string) error
}

type AccountStore interface {
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
}

type RunStore interface {
	Create(ctx context.Context, run *models.SeriesRun) (int64, error)
}

// PostTracker queries and removes posts in the scheduling service.
type PostTracker interface {
	GetStatus(ctx context.Context, postID string) (publishing.PostStatus, error)
	DeletePost(ctx context.Context, postID string) error
}

type ContentGenerator interface {
	Describe(ctx context.Context, data []byte, mimeType string) string
	Caption(ctx context.Context, description, prompt string, platforms []string) string
}

type RateLimiter interface {
	CanPost(ctx context.Context, platform, accountID string) (ratelimit.Decision, error)
	Record(ctx context.Context, platform, accountID string) error
}

type Options struct {
	// LockStaleAfter is how old a lock must be before another run may take it over.
	LockStaleAfter time.Duration
	// MinRunInterval enforces spacing between successful advances. Zero disables it.
	MinRunInterval time.Duration
}

type Orchestrator struct {
	series     SeriesStore
	accounts   AccountStore
	runs       RunStore
	files      storage.Client
	content    ContentGenerator
	tracker    PostTracker
	publishers *publishing.Registry
	limiter    RateLimiter
	opts       Options
	guards     []guard
	now        func() time.Time
	newHolder  func() (string, error)
}

func NewOrchestrator(
	series SeriesStore,
	accounts AccountStore,
	runs RunStore,
	files storage.Client,
	content ContentGenerator,
	tracker PostTracker,
	publishers *publishing.Registry,
	limiter RateLimiter,
	opts Options) *Orchestrator {
	if opts.LockStaleAfter <= 0 {
		opts.LockStaleAfter = 10 * time.Minute
	}
	o := &Orchestrator{
		series:     series,
		accounts:   accounts,
		runs:       runs,
		files:      files,
		content:    content,
		tracker:    tracker,
		publishers: publishers,
		limiter:    limiter,
		opts:       opts,
		now:        time.Now,
		newHolder:  func() (string, error) { return gonanoid.New() },
	}
	o.guards = o.defaultGuards()
	return o
}

// run is the state of one advance.
type run struct {
	series *models.Series
	now    time.Time
	holder string
	locked bool
	// pendingConfirmed is set once the previous post no longer blocks.
	pendingConfirmed bool
	entries          []Entry
	entry            Entry
	data             []byte
	mimeType         string
	caption          string
	queuedPost       *publishing.Result
	published        []*publishing.Result
	// limited lists the platforms published through a queued publisher.
	limited []string
}

// Advance runs one advance of a series. It never panics and never retries;
// the outcome is reported in the Result.
func (o *Orchestrator) Advance(ctx context.Context, seriesID int64) (res Result) {
	start := o.now()
	defer func() {
		res.SeriesID = seriesID
		runsTotal.WithLabelValues(string(res.Outcome)).Inc()
		runDuration.Observe(time.Since(start).Seconds())
		o.recordRun(ctx, res)
		o.logResult(res)
	}()

	s, err := o.series.GetByID(ctx, seriesID)
	if err != nil {
		return *fail(OutcomeFailed, "failed to load series", fmt.Errorf("failed to load series %d: %w", seriesID, err))
	}
	if s == nil {
		return *fail(OutcomeNotFound, "series not found", ErrNotFound)
	}

	r := &run{series: s, now: start}
	defer o.releaseLock(ctx, r)

	for _, g := range o.guards {
		if out := g.check(ctx, r); out != nil {
			slog.Info("series guard stopped run", "series_id", s.ID, "guard", g.name, "outcome", out.Outcome)
			out.FileIndex = r.series.CurrentFileIndex
			return *out
		}
	}

	out := o.process(ctx, r)
	if out.FileIndex == 0 {
		out.FileIndex = r.series.CurrentFileIndex
	}
	return *out
}

func (o *Orchestrator) process(ctx context.Context, r *run) *Result {
	s := r.series

	files, err := o.files.ListFiles(ctx, s.UserID, s.FolderID)
	if err != nil {
		return storageFailure("failed to list series folder", err)
	}
	r.entries = Sequence(files)
	if len(r.entries) == 0 {
		return stop(OutcomeEmpty, "no media files with a numeric prefix in the series folder")
	}

	sel := Select(r.entries, s.CurrentFileIndex, s.LoopEnabled)
	switch sel.Action {
	case ActionHealGap:
		return o.healGap(ctx, r, sel.Cursor)
	case ActionLoop:
		return o.loopReset(ctx, r, sel.Cursor)
	case ActionComplete:
		return o.complete(ctx, r)
	}
	r.entry = sel.Entry

	data, mimeType, err := o.files.Download(ctx, s.UserID, r.entry.File.Path)
	if err != nil {
		return storageFailure(fmt.Sprintf("failed to download %s", r.entry.File.Name), err)
	}
	r.data, r.mimeType = data, mimeType

	description := o.content.Describe(ctx, r.data, r.mimeType)
	r.caption = o.content.Caption(ctx, description, s.Prompt, s.Platforms)

	if out := o.publish(ctx, r); out != nil {
		return out
	}
	return o.advance(ctx, r)
}

func (o *Orchestrator) publish(ctx context.Context, r *run) *Result {
	s := r.series
	var failed []string

	for _, d := range o.publishers.Plan(s.Platforms) {
		name := d.Publisher.Name()
		res, err := d.Publisher.Publish(ctx, publishing.Request{
			UserID:          s.UserID,
			Platforms:       d.Platforms,
			ProfileRef:      s.ProfileRef,
			QueueProfileRef: s.QueueProfileRef,
			Caption:         r.caption,
			FileName:        r.entry.File.Name,
			MimeType:        r.mimeType,
			Data:            r.data,
		})
		if err != nil {
			publishTotal.WithLabelValues(name, "error").Inc()
			if len(r.published) == 0 {
				return fail(OutcomeFailed, fmt.Sprintf("failed to publish %s", r.entry.File.Name), err)
			}
			// a post already exists, so the cursor has to move anyway
			slog.Error("publisher failed after another succeeded", "series_id", s.ID, "publisher", name, "error", err)
			failed = append(failed, d.Platforms...)
			continue
		}

		publishTotal.WithLabelValues(name, "ok").Inc()
		r.published = append(r.published, res)
		if d.Publisher.Queued() {
			r.limited = append(r.limited, d.Platforms...)
			if r.queuedPost == nil {
				r.queuedPost = res
			}
		}
	}

	if len(failed) > 0 {
		slog.Warn("partial publish", "series_id", s.ID, "failed_platforms", failed)
	}
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, r *run) *Result {
	s := r.series

	next, completed, err := NextCursor(r.entries, s.CurrentFileIndex, r.entry.Ordinal, s.LoopEnabled)
	if err != nil {
		slog.Error("refusing to move series cursor backwards", "series_id", s.ID, "error", err)
		o.compensate(ctx, r)
		return fail(OutcomeFatal, "cursor invariant violated, series left unchanged", err)
	}

	status := models.SeriesStatusActive
	if completed {
		status = models.SeriesStatusCompleted
	}
	pending := ""
	if r.queuedPost != nil {
		pending = r.queuedPost.PostID
	}
	now := o.now()

	err = o.series.Update(ctx, s.ID, r.holder, &models.SeriesUpdate{
		CurrentFileIndex:     &next,
		CurrentPendingPostID: &pending,
		LastProcessedAt:      &now,
		Status:               &status,
		ReleaseLock:          true,
	})
	if err != nil {
		o.compensate(ctx, r)
		return fail(OutcomeFailed, "failed to save series progress", err)
	}
	r.locked = false

	o.afterPublish(ctx, r)

	out := done(OutcomePublished, fmt.Sprintf("published %s, next file %d", r.entry.File.Name, next))
	if completed {
		out.Message = fmt.Sprintf("published %s, series completed", r.entry.File.Name)
	}
	out.PostID = pending
	if pending == "" && len(r.published) > 0 {
		out.PostID = r.published[0].PostID
	}
	out.FileIndex = next
	return out
}

// afterPublish records rate limit usage for the queued platforms and removes
// the source file when asked to. Neither affects the run's outcome.
func (o *Orchestrator) afterPublish(ctx context.Context, r *run) {
	s := r.series
	for _, platform := range r.limited {
		if err := o.limiter.Record(ctx, platform, s.ProfileRef); err != nil {
			slog.Warn("failed to record post for rate limit", "series_id", s.ID, "platform", platform, "error", err)
		}
	}

	if s.DeleteAfterPosting {
		if err := o.files.Delete(ctx, s.UserID, r.entry.File.Path); err != nil {
			slog.Warn("failed to delete posted file", "series_id", s.ID, "file", r.entry.File.Name, "error", err)
		}
	}
}

// compensate deletes the queued post when its progress cannot be saved, so the
// next run does not post the same file twice.
func (o *Orchestrator) compensate(ctx context.Context, r *run) {
	if r.queuedPost == nil {
		return
	}
	if err := o.tracker.DeletePost(context.WithoutCancel(ctx), r.queuedPost.PostID); err != nil {
		slog.Error("failed to delete orphaned post", "series_id", r.series.ID, "post_id", r.queuedPost.PostID, "error", err)
	}
}

func (o *Orchestrator) healGap(ctx context.Context, r *run, cursor int) *Result {
	if cursor < r.series.CurrentFileIndex {
		err := &CursorRegressionError{From: r.series.CurrentFileIndex, To: cursor}
		return fail(OutcomeFatal, "cursor invariant violated, series left unchanged", err)
	}
	u := &models.SeriesUpdate{CurrentFileIndex: &cursor, ReleaseLock: true}
	o.clearConfirmedPending(r, u)
	if err := o.series.Update(ctx, r.series.ID, r.holder, u); err != nil {
		return fail(OutcomeFailed, "failed to save series progress", err)
	}
	r.locked = false

	out := done(OutcomeGapHealed, fmt.Sprintf("file %d is missing, cursor moved to %d", r.series.CurrentFileIndex, cursor))
	out.FileIndex = cursor
	return out
}

func (o *Orchestrator) loopReset(ctx context.Context, r *run, cursor int) *Result {
	u := &models.SeriesUpdate{CurrentFileIndex: &cursor, ReleaseLock: true}
	o.clearConfirmedPending(r, u)
	if err := o.series.Update(ctx, r.series.ID, r.holder, u); err != nil {
		return fail(OutcomeFailed, "failed to save series progress", err)
	}
	r.locked = false

	out := done(OutcomeLooped, fmt.Sprintf("all files posted, cursor reset to %d", cursor))
	out.FileIndex = cursor
	return out
}

func (o *Orchestrator) complete(ctx context.Context, r *run) *Result {
	status := models.SeriesStatusCompleted
	u := &models.SeriesUpdate{Status: &status, ReleaseLock: true}
	o.clearConfirmedPending(r, u)
	if err := o.series.Update(ctx, r.series.ID, r.holder, u); err != nil {
		return fail(OutcomeFailed, "failed to save series progress", err)
	}
	r.locked = false
	return done(OutcomeCompleted, "all files posted, series completed")
}

func (o *Orchestrator) clearConfirmedPending(r *run, u *models.SeriesUpdate) {
	if r.pendingConfirmed {
		empty := ""
		u.CurrentPendingPostID = &empty
	}
}

// releaseLock is the single cleanup step every exit after acquiring the lock
// passes through.
func (o *Orchestrator) releaseLock(ctx context.Context, r *run) {
	if !r.locked {
		return
	}
	if err := o.series.ReleaseLock(context.WithoutCancel(ctx), r.series.ID, r.holder); err != nil {
		slog.Error("failed to release series lock", "series_id", r.series.ID, "holder", r.holder, "error", err)
		return
	}
	r.locked = false
}

func (o *Orchestrator) recordRun(ctx context.Context, res Result) {
	if o.runs == nil || res.Outcome == OutcomeNotFound {
		return
	}
	run := &models.SeriesRun{
		SeriesID:     res.SeriesID,
		Outcome:      string(res.Outcome),
		Success:      res.Success,
		Message:      res.Message,
		FileIndex:    res.FileIndex,
		PostID:       res.PostID,
		ErrorMessage: res.Error,
	}
	if _, err := o.runs.Create(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("failed to record series run", "series_id", res.SeriesID, "error", err)
	}
}

func (o *Orchestrator) logResult(res Result) {
	attrs := []any{"series_id", res.SeriesID, "outcome", res.Outcome, "message", res.Message}
	switch {
	case res.Fatal():
		slog.Error("series run aborted", append(attrs, "error", res.Err)...)
	case res.Err != nil:
		slog.Warn("series run failed", append(attrs, "error", res.Err)...)
	default:
		slog.Info("series run finished", attrs...)
	}
}

// storageFailure maps credential problems to an actionable connectivity result.
func storageFailure(message string, err error) *Result {
	if errors.Is(err, storage.ErrCredentialExpired) || errors.Is(err, storage.ErrNotConnected) {
		return fail(OutcomeConnectivity, "reconnect cloud storage: "+err.Error(), err)
	}
	return fail(OutcomeFailed, message, err)
}
