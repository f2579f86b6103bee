package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/internal/queue"
)

type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]*models.Series, error)
}

// DispatchJob queues an advance for every series that is due. Whether a queued
// advance actually posts is decided by the orchestrator's safeguards.
type DispatchJob struct {
	sr        DueLister
	client    queue.Enqueuer
	uniqueFor time.Duration
	now       func() time.Time
}

func NewDispatchJob(sr DueLister, client queue.Enqueuer, uniqueFor time.Duration) *DispatchJob {
	return &DispatchJob{
		sr:        sr,
		client:    client,
		uniqueFor: uniqueFor,
		now:       time.Now,
	}
}

func (d *DispatchJob) EnqueueDue() int {
	ctx := context.Background()

	due, err := d.sr.ListDue(ctx, d.now())
	if err != nil {
		slog.Info(err.Error())
		return 0
	}

	queued := 0
	for _, s := range due {
		ok, err := queue.EnqueueAdvance(ctx, d.client, s.ID, d.uniqueFor)
		if err != nil {
			slog.Warn("failed to queue series advance", "series_id", s.ID, "error", err)
			continue
		}
		if ok {
			queued++
		}
	}

	if len(due) > 0 {
		slog.Info("dispatched due series", "due", len(due), "queued", queued)
	}
	return queued
}
