package handlers

import (
	"bytes"
	"context"

	"github.com/gofiber/fiber/v2"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"go.uber.org/zap"
)

type PublishRunner interface {
	Run(ctx context.Context, trigger string) (*job.RunReport, error)
}

type CronHandler struct {
	runner PublishRunner
	logger *zap.Logger
}

func NewCronHandler(runner PublishRunner, logger *zap.Logger) *CronHandler {
	return &CronHandler{runner: runner, logger: logger}
}

// Register mounts the cron trigger behind auth. Other methods on the trigger
// path get 405 before auth runs.
func (h *CronHandler) Register(router fiber.Router, auth fiber.Handler) {
	router.Post("/api/cron/publish-posts", auth, h.PublishPosts)
	router.All("/api/cron/publish-posts", h.MethodNotAllowed)
	router.Get("/health", h.Health)
	router.Get("/metrics", h.Metrics)
}

func (h *CronHandler) PublishPosts(c *fiber.Ctx) error {
	report, err := h.runner.Run(c.UserContext(), "http")
	if err != nil {
		h.logger.Error("publish run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func (h *CronHandler) MethodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "Method not allowed",
	})
}

func (h *CronHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *CronHandler) Metrics(c *fiber.Ctx) error {
	var buf bytes.Buffer
	metrics.WritePrometheus(&buf)
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.Send(buf.Bytes())
}
