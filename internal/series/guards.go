package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/internal/storage"
)

// guard is one safeguard. check returns nil to let the run continue.
type guard struct {
	name  string
	check func(ctx context.Context, r *run) *Result
}

func (o *Orchestrator) defaultGuards() []guard {
	return []guard{
		{name: "pending", check: o.checkPending},
		{name: "active", check: o.checkActive},
		{name: "config", check: o.checkConfig},
		{name: "cooldown", check: o.checkCooldown},
		{name: "lock", check: o.acquireLock},
		{name: "ratelimit", check: o.checkRateLimit},
		{name: "connectivity", check: o.checkConnectivity},
	}
}

// checkPending holds the series while its previous post is still scheduled.
func (o *Orchestrator) checkPending(ctx context.Context, r *run) *Result {
	postID := r.series.CurrentPendingPostID
	if postID == "" {
		return nil
	}

	status, err := o.tracker.GetStatus(ctx, postID)
	if err != nil {
		return fail(OutcomeFailed, "failed to check the previous post", err)
	}
	if status.Pending() {
		return stop(OutcomeWaiting, fmt.Sprintf("previous post %s is still scheduled", postID))
	}

	slog.Info("previous post no longer pending", "series_id", r.series.ID, "post_id", postID, "status", status)
	r.pendingConfirmed = true
	return nil
}

func (o *Orchestrator) checkActive(ctx context.Context, r *run) *Result {
	if r.series.Status != models.SeriesStatusActive {
		return stop(OutcomeInactive, fmt.Sprintf("series is %s", strings.ToLower(string(r.series.Status))))
	}
	return nil
}

var validate = validator.New()

func (o *Orchestrator) checkConfig(ctx context.Context, r *run) *Result {
	err := validate.Struct(r.series)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fail(OutcomeConfig, "invalid series configuration", err)
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, configFieldName(fe.StructField()))
	}
	return fail(OutcomeConfig, "series is missing "+strings.Join(missing, ", "), err)
}

func configFieldName(field string) string {
	switch field {
	case "FolderID":
		return "a media folder"
	case "Prompt":
		return "a caption prompt"
	case "Platforms":
		return "target platforms"
	case "ProfileRef":
		return "a target profile"
	case "UserID":
		return "an owner"
	default:
		return strings.ToLower(field)
	}
}

// checkCooldown enforces MinRunInterval between successful advances. The
// pending post gate already prevents duplicates, so it is off by default.
func (o *Orchestrator) checkCooldown(ctx context.Context, r *run) *Result {
	if o.opts.MinRunInterval <= 0 || !r.series.LastProcessedAt.Valid {
		return nil
	}
	elapsed := r.now.Sub(r.series.LastProcessedAt.Time)
	if elapsed >= o.opts.MinRunInterval {
		return nil
	}
	return stop(OutcomeCooldown, fmt.Sprintf("last advance was %s ago, minimum spacing is %s",
		elapsed.Round(time.Second), o.opts.MinRunInterval))
}

// acquireLock takes the series lease before any external side effect. A lease
// older than LockStaleAfter belongs to a crashed run and is taken over.
func (o *Orchestrator) acquireLock(ctx context.Context, r *run) *Result {
	s := r.series
	holder, err := o.newHolder()
	if err != nil {
		return fail(OutcomeFailed, "failed to create lock holder id", err)
	}

	acquired, err := o.series.AcquireLock(ctx, s.ID, holder, r.now, r.now.Add(-o.opts.LockStaleAfter))
	if err != nil {
		return fail(OutcomeFailed, "failed to acquire series lock", err)
	}
	if !acquired {
		return stop(OutcomeProcessing, "series is already being processed")
	}

	if s.IsProcessing {
		slog.Warn("took over stale series lock", "series_id", s.ID, "previous_holder", s.LockHolder, "lock_age", s.LockAge(r.now))
	}
	r.holder = holder
	r.locked = true
	return o.reloadLocked(ctx, r)
}

// reloadLocked re-reads the series under the lease. Another run may have
// advanced it between the first read and the lock, so the pending and active
// checks are repeated against the fresh row.
func (o *Orchestrator) reloadLocked(ctx context.Context, r *run) *Result {
	prev := r.series
	fresh, err := o.series.GetByID(ctx, prev.ID)
	if err != nil {
		return fail(OutcomeFailed, "failed to reload series", err)
	}
	if fresh == nil {
		return fail(OutcomeNotFound, "series not found", ErrNotFound)
	}
	r.series = fresh

	if fresh.CurrentFileIndex == prev.CurrentFileIndex &&
		fresh.CurrentPendingPostID == prev.CurrentPendingPostID &&
		fresh.Status == prev.Status {
		return nil
	}

	slog.Info("series changed before the lock was taken", "series_id", fresh.ID,
		"file_index", fresh.CurrentFileIndex, "pending_post_id", fresh.CurrentPendingPostID)
	r.pendingConfirmed = false
	if out := o.checkPending(ctx, r); out != nil {
		return out
	}
	return o.checkActive(ctx, r)
}

// checkRateLimit asks the limiter about every platform that goes through the
// scheduling service. Direct publishers are not counted.
func (o *Orchestrator) checkRateLimit(ctx context.Context, r *run) *Result {
	for _, platform := range o.publishers.QueuedPlatforms(r.series.Platforms) {
		decision, err := o.limiter.CanPost(ctx, platform, r.series.ProfileRef)
		if err != nil {
			return fail(OutcomeFailed, "failed to check rate limit", err)
		}
		if !decision.Allowed {
			rateLimitDenied.WithLabelValues(platform).Inc()
			return stop(OutcomeRateLimited, decision.Message)
		}
	}
	return nil
}

func (o *Orchestrator) checkConnectivity(ctx context.Context, r *run) *Result {
	s := r.series

	if err := o.files.CheckCredential(ctx, s.UserID); err != nil {
		if errors.Is(err, storage.ErrCredentialExpired) || errors.Is(err, storage.ErrNotConnected) {
			return fail(OutcomeConnectivity, "reconnect cloud storage", err)
		}
		return fail(OutcomeFailed, "failed to check cloud storage credential", err)
	}

	accounts, err := o.accounts.ListByUserID(ctx, s.UserID)
	if err != nil {
		return fail(OutcomeFailed, "failed to load platform accounts", err)
	}
	connected := map[string]bool{}
	for _, a := range accounts {
		if a.Connected(r.now) {
			connected[strings.ToLower(a.Platform)] = true
		}
	}

	var missing []string
	for _, platform := range s.Platforms {
		if !connected[strings.ToLower(platform)] {
			missing = append(missing, strings.ToLower(platform))
		}
	}
	if len(missing) > 0 {
		return stop(OutcomeConnectivity, "reconnect "+strings.Join(missing, ", "))
	}
	return nil
}
