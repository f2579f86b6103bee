package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/seriesflow/internal/models"
	"github.com/maheshrc27/seriesflow/internal/queue"
	"github.com/maheshrc27/seriesflow/internal/series"
)

type RunLister interface {
	ListBySeriesID(ctx context.Context, seriesID int64, limit int) ([]*models.SeriesRun, error)
}

type SeriesHandler struct {
	orchestrator queue.Advancer
	runs         RunLister
	client       queue.Enqueuer
	uniqueFor    time.Duration
}

func NewSeriesHandler(orchestrator queue.Advancer, runs RunLister, client queue.Enqueuer, uniqueFor time.Duration) *SeriesHandler {
	return &SeriesHandler{
		orchestrator: orchestrator,
		runs:         runs,
		client:       client,
		uniqueFor:    uniqueFor,
	}
}

// QueueAdvance queues an advance for the series on the worker.
func (h *SeriesHandler) QueueAdvance(c *fiber.Ctx) error {
	id, ok := ParamID(c)
	if !ok {
		return badID(c)
	}

	queued, err := queue.EnqueueAdvance(c.Context(), h.client, id, h.uniqueFor)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error queueing series advance",
		})
	}

	message := "Series advance queued"
	if !queued {
		message = "Series advance already queued"
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":  queued,
		"message": message,
	})
}

// RunNow advances the series in the request and returns the run result.
func (h *SeriesHandler) RunNow(c *fiber.Ctx) error {
	id, ok := ParamID(c)
	if !ok {
		return badID(c)
	}

	res := h.orchestrator.Advance(c.UserContext(), id)
	return c.Status(statusFor(res)).JSON(res)
}

func (h *SeriesHandler) ListRuns(c *fiber.Ctx) error {
	id, ok := ParamID(c)
	if !ok {
		return badID(c)
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.runs.ListBySeriesID(c.Context(), id, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list series runs",
		})
	}
	if runs == nil {
		runs = []*models.SeriesRun{}
	}
	return c.Status(fiber.StatusOK).JSON(runs)
}

func statusFor(res series.Result) int {
	switch {
	case res.Success, res.Waiting():
		return fiber.StatusOK
	case res.Outcome == series.OutcomeNotFound:
		return fiber.StatusNotFound
	case res.Outcome == series.OutcomeConfig:
		return fiber.StatusUnprocessableEntity
	case res.Outcome == series.OutcomeConnectivity, res.Outcome == series.OutcomeEmpty:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
