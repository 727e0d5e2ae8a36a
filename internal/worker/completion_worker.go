package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/service"
	"github.com/musicverse/api/internal/store"
)

const (
	TaskTypeCompletion = "generation:completion"
	TaskTypeSweep      = "maintenance:sweep"
	TaskTypeGC         = "maintenance:gc"
)

// CompletionTaskPayload carries a normalized provider result from the
// webhook handler to the worker that applies it.
type CompletionTaskPayload struct {
	TaskID  string                   `json:"taskId"`
	Payload client.GenerationPayload `json:"payload"`
	Source  model.ChangeSource       `json:"source"`
}

// NewCompletionTask creates an asynq task for one provider result.
func NewCompletionTask(taskID string, payload *client.GenerationPayload, source model.ChangeSource) (*asynq.Task, error) {
	data, err := json.Marshal(CompletionTaskPayload{
		TaskID:  taskID,
		Payload: *payload,
		Source:  source,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion payload: %w", err)
	}
	return asynq.NewTask(TaskTypeCompletion, data), nil
}

// CompletionWorker applies provider results delivered through the queue.
type CompletionWorker struct {
	completion *service.CompletionService
	logger     zerolog.Logger
}

func NewCompletionWorker(completion *service.CompletionService, logger zerolog.Logger) *CompletionWorker {
	return &CompletionWorker{
		completion: completion,
		logger:     logger.With().Str("worker", "completion").Logger(),
	}
}

// ProcessTask handles a queued completion. An unknown task ID is retried
// by asynq: the webhook can outrun the submission transaction that
// records the provider task ID.
func (w *CompletionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p CompletionTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal completion payload: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.Debug().
		Str("taskId", p.TaskID).
		Str("stage", string(p.Payload.Stage)).
		Str("source", string(p.Source)).
		Msg("processing completion")

	if err := w.completion.HandleResultByTask(ctx, p.TaskID, &p.Payload, p.Source); err != nil {
		if isNotFound(err) {
			w.logger.Warn().Str("taskId", p.TaskID).Msg("no request for task yet, will retry")
			return err
		}
		w.logger.Error().Err(err).Str("taskId", p.TaskID).Msg("completion failed")
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
