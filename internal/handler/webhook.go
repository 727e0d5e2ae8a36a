package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/worker"
)

// WebhookHandler receives provider callbacks. The provider retries
// undelivered callbacks aggressively, so the handler acknowledges as
// soon as the payload parses and defers all state changes to the queue.
type WebhookHandler struct {
	asynqClient *asynq.Client
	logger      zerolog.Logger
}

func NewWebhookHandler(asynqClient *asynq.Client, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		asynqClient: asynqClient,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
}

// HandleSunoCallback handles POST /webhooks/suno
func (h *WebhookHandler) HandleSunoCallback(c *fiber.Ctx) error {
	payload, err := client.ParseCallback(c.Body())
	if err != nil {
		h.logger.Warn().Err(err).Msg("unparseable callback")
		// Acknowledge anyway; a retry of a malformed body will not improve.
		return c.SendStatus(fiber.StatusOK)
	}

	task, err := worker.NewCompletionTask(payload.TaskID, payload, model.SourceCallback)
	if err != nil {
		h.logger.Error().Err(err).Str("taskId", payload.TaskID).Msg("failed to build completion task")
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	if _, err := h.asynqClient.Enqueue(task,
		asynq.Queue("completion"),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	); err != nil {
		h.logger.Error().Err(err).Str("taskId", payload.TaskID).Msg("failed to enqueue completion")
		// Non-2xx makes the provider redeliver, which is what we want here.
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	h.logger.Info().
		Str("taskId", payload.TaskID).
		Str("stage", string(payload.Stage)).
		Int("clips", len(payload.Clips)).
		Msg("callback enqueued")
	return c.SendStatus(fiber.StatusOK)
}
