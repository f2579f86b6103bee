package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of *asynq.Client used to schedule work.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueAdvance schedules one advance of a series. A series that already has
// an advance queued or running within the unique window is not queued again,
// and an advance is never retried: the next cycle is the retry.
func EnqueueAdvance(ctx context.Context, client Enqueuer, seriesID int64, uniqueFor time.Duration) (bool, error) {
	taskPayload, err := json.Marshal(AdvanceSeriesPayload{SeriesID: seriesID})
	if err != nil {
		return false, err
	}

	task := asynq.NewTask(TaskTypeAdvanceSeries, taskPayload)

	_, err = client.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Unique(uniqueFor),
		asynq.Timeout(uniqueFor),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		slog.Info("series advance already queued", "series_id", seriesID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("series advance queued", "series_id", seriesID)
	return true, nil
}
