package queue

import (
	"context"

	"github.com/maheshrc27/seriesflow/internal/series"
)

// Advancer runs one advance of a series.
type Advancer interface {
	Advance(ctx context.Context, seriesID int64) series.Result
}

type Queue struct {
	orchestrator Advancer
}

func NewQueue(orchestrator Advancer) *Queue {
	return &Queue{orchestrator: orchestrator}
}

const TaskTypeAdvanceSeries = "series:advance"

type AdvanceSeriesPayload struct {
	SeriesID int64 `json:"series_id"`
}
