// Package ratelimit counts successful publishes per (platform, account) over a
// sliding 24 hour window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultDailyLimit = 8
	Window            = 24 * time.Hour
	PurgeEvery        = time.Hour
)

// Store persists one timestamp per successful publish.
type Store interface {
	Append(ctx context.Context, platform, accountID string, at time.Time) error
	// Since returns timestamps strictly after the instant, oldest first.
	Since(ctx context.Context, platform, accountID string, after time.Time) ([]time.Time, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetsAt  time.Time `json:"resets_at,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type Limiter struct {
	store  Store
	limit  int
	now    func() time.Time
	mu     sync.Mutex
	purged time.Time
}

type Option func(*Limiter)

func WithLimit(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		limit: DefaultDailyLimit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanPost reports whether one more post fits in the trailing window. The window
// frees up 24 hours after the oldest post still inside it.
func (l *Limiter) CanPost(ctx context.Context, platform, accountID string) (Decision, error) {
	now := l.now()
	l.maybePurge(ctx, now)

	platform = normalize(platform)
	stamps, err := l.store.Since(ctx, platform, accountID, now.Add(-Window))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read rate limit records: %w", err)
	}

	d := Decision{
		Used:  len(stamps),
		Limit: l.limit,
	}
	d.Remaining = l.limit - d.Used
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if len(stamps) > 0 {
		d.ResetsAt = stamps[0].Add(Window)
	}

	d.Allowed = d.Used < l.limit
	if !d.Allowed {
		d.Message = fmt.Sprintf("daily limit of %d posts reached for %s, next slot opens at %s",
			l.limit, platform, d.ResetsAt.UTC().Format(time.RFC3339))
	}
	return d, nil
}

// Record appends one post. Call it only after the publish call succeeded.
func (l *Limiter) Record(ctx context.Context, platform, accountID string) error {
	if err := l.store.Append(ctx, normalize(platform), accountID, l.now()); err != nil {
		return fmt.Errorf("failed to record post: %w", err)
	}
	return nil
}

// maybePurge drops expired records at most once per PurgeEvery. Failures are logged
// and retried on the next eligible read.
func (l *Limiter) maybePurge(ctx context.Context, now time.Time) {
	l.mu.Lock()
	if !l.purged.IsZero() && now.Sub(l.purged) < PurgeEvery {
		l.mu.Unlock()
		return
	}
	l.purged = now
	l.mu.Unlock()

	n, err := l.store.PurgeBefore(ctx, now.Add(-Window))
	if err != nil {
		slog.Warn("rate limit purge failed", "error", err)
		l.mu.Lock()
		l.purged = time.Time{}
		l.mu.Unlock()
		return
	}
	if n > 0 {
		slog.Info("purged expired rate limit records", "count", n)
	}
}

func normalize(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
