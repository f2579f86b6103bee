package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

func (q *Queue) HandleAdvanceTask(ctx context.Context, task *asynq.Task) error {
	var payload AdvanceSeriesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid advance payload: %v: %w", err, asynq.SkipRetry)
	}

	res := q.orchestrator.Advance(ctx, payload.SeriesID)

	switch {
	case res.Fatal():
		return fmt.Errorf("series %d: %s: %v: %w", payload.SeriesID, res.Message, res.Err, asynq.SkipRetry)
	case res.Success, res.Waiting():
		return nil
	case res.Err != nil:
		return fmt.Errorf("series %d: %s: %w", payload.SeriesID, res.Message, res.Err)
	default:
		return fmt.Errorf("series %d: %s", payload.SeriesID, res.Message)
	}
}
