package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/seriesflow/internal/ratelimit"
)

type RateLimitChecker interface {
	CanPost(ctx context.Context, platform, accountID string) (ratelimit.Decision, error)
}

type RateLimitHandler struct {
	limiter RateLimitChecker
}

func NewRateLimitHandler(limiter RateLimitChecker) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Status reports the remaining daily capacity without recording anything.
func (h *RateLimitHandler) Status(c *fiber.Ctx) error {
	platform := c.Params("platform")
	account := c.Params("account")

	decision, err := h.limiter.CanPost(c.Context(), platform, account)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to read rate limit",
		})
	}
	return c.Status(fiber.StatusOK).JSON(decision)
}
