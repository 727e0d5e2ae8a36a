package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

const timedOutMessage = "Generation timed out"

// SweepService recovers requests the normal delivery paths left behind:
// completed requests whose artifact never caught up, and requests stuck
// in-flight past the staleness threshold.
type SweepService struct {
	store      store.Store
	provider   client.Provider
	completion *CompletionService
	staleAfter time.Duration
	failAfter  time.Duration
	batchLimit int
	logger     zerolog.Logger
}

func NewSweepService(st store.Store, provider client.Provider, completion *CompletionService, staleAfter, failAfter time.Duration, batchLimit int, logger zerolog.Logger) *SweepService {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if failAfter <= 0 {
		failAfter = time.Hour
	}
	if batchLimit <= 0 {
		batchLimit = 50
	}
	return &SweepService{
		store:      st,
		provider:   provider,
		completion: completion,
		staleAfter: staleAfter,
		failAfter:  failAfter,
		batchLimit: batchLimit,
		logger:     logger.With().Str("component", "sweep").Logger(),
	}
}

// Sweep runs both recovery passes and returns aggregate counts.
// A failure on one item never aborts the batch.
func (s *SweepService) Sweep(ctx context.Context) (*model.SweepReport, error) {
	report := &model.SweepReport{}
	s.recoverLagging(ctx, report)
	s.checkStale(ctx, report)

	s.logger.Info().
		Int("recovered", report.Recovered).
		Int("checked", report.Checked).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int("errors", report.Errors).
		Msg("sweep finished")
	return report, nil
}

// recoverLagging replays the cached result payload for requests that
// completed without their artifact catching up, typically after a crash
// between the version writes and the artifact update.
func (s *SweepService) recoverLagging(ctx context.Context, report *model.SweepReport) {
	requests, err := s.store.ListCompletedWithLaggingArtifact(ctx, s.batchLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list lagging requests")
		report.Errors++
		return
	}

	for _, req := range requests {
		if len(req.RawResultPayload) == 0 {
			// Nothing to replay from; the staleness pass may still poll it.
			continue
		}
		var payload client.GenerationPayload
		if err := json.Unmarshal(req.RawResultPayload, &payload); err != nil {
			s.logger.Error().Err(err).Str("requestId", req.ID).Msg("cached payload is corrupt")
			report.Errors++
			continue
		}
		if err := s.completion.HandleResult(ctx, req.ID, &payload, model.SourceRecoverySweep); err != nil {
			s.logger.Error().Err(err).Str("requestId", req.ID).Msg("recovery replay failed")
			report.Errors++
			continue
		}
		report.Recovered++
	}
}

// checkStale polls the provider for in-flight requests older than the
// staleness threshold and resolves them one way or the other.
func (s *SweepService) checkStale(ctx context.Context, report *model.SweepReport) {
	cutoff := time.Now().Add(-s.staleAfter)
	requests, err := s.store.ListStaleRequests(ctx, cutoff, s.batchLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stale requests")
		report.Errors++
		return
	}

	for _, req := range requests {
		report.Checked++
		// The hard deadline only applies to requests that never produced a
		// playable result; a streaming_ready request keeps its partial and
		// is polled until the remaining clips arrive.
		expired := req.Status != model.RequestStatusStreamingReady &&
			req.CreatedAt.Before(time.Now().Add(-s.failAfter))

		payload, err := s.provider.Poll(ctx, req.ProviderTaskID)
		if err != nil {
			s.logger.Warn().Err(err).Str("requestId", req.ID).Str("taskId", req.ProviderTaskID).Msg("poll failed")
			report.Errors++
			// The deadline holds even when the provider cannot answer.
			if expired {
				s.failTimedOut(ctx, req, report)
			}
			continue
		}

		switch payload.Stage {
		case client.StageComplete, client.StageFirst, client.StageError:
			if err := s.completion.HandleResult(ctx, req.ID, payload, model.SourcePoll); err != nil {
				s.logger.Error().Err(err).Str("requestId", req.ID).Msg("stale resolution failed")
				report.Errors++
				continue
			}
			if payload.Stage == client.StageError {
				report.Failed++
			} else {
				report.Completed++
			}
		default:
			// Provider still working. Give up only past the hard deadline.
			if expired {
				s.failTimedOut(ctx, req, report)
			}
		}
	}
}

// failTimedOut marks a request failed after the hard deadline, whether
// or not the provider ever answered a poll for it.
func (s *SweepService) failTimedOut(ctx context.Context, req *model.GenerationRequest, report *model.SweepReport) {
	failPayload := &client.GenerationPayload{
		TaskID:  req.ProviderTaskID,
		Stage:   client.StageError,
		Message: timedOutMessage,
	}
	if err := s.completion.HandleResult(ctx, req.ID, failPayload, model.SourceRecoverySweep); err != nil {
		s.logger.Error().Err(err).Str("requestId", req.ID).Msg("timeout failure write failed")
		report.Errors++
		return
	}
	report.Failed++
}
