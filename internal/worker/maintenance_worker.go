package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/service"
)

// NewSweepTask creates the periodic recovery-sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil)
}

// NewGCTask creates the periodic garbage-collection task.
func NewGCTask() *asynq.Task {
	return asynq.NewTask(TaskTypeGC, nil)
}

// MaintenanceWorker runs the scheduled sweep and GC tasks.
type MaintenanceWorker struct {
	sweep  *service.SweepService
	gc     *service.GCService
	logger zerolog.Logger
}

func NewMaintenanceWorker(sweep *service.SweepService, gc *service.GCService, logger zerolog.Logger) *MaintenanceWorker {
	return &MaintenanceWorker{
		sweep:  sweep,
		gc:     gc,
		logger: logger.With().Str("worker", "maintenance").Logger(),
	}
}

func (w *MaintenanceWorker) ProcessSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.sweep.Sweep(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
	return err
}

func (w *MaintenanceWorker) ProcessGC(ctx context.Context, _ *asynq.Task) error {
	_, err := w.gc.Collect(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("scheduled gc failed")
	}
	return err
}
