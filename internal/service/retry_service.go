package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

// RetryService re-submits failed requests as fresh request/artifact
// pairs. The failed originals keep their terminal state untouched.
type RetryService struct {
	store      store.Store
	generation *GenerationService
	itemDelay  time.Duration
	logger     zerolog.Logger
}

func NewRetryService(st store.Store, generation *GenerationService, itemDelay time.Duration, logger zerolog.Logger) *RetryService {
	if itemDelay < 0 {
		itemDelay = 0
	}
	return &RetryService{
		store:      st,
		generation: generation,
		itemDelay:  itemDelay,
		logger:     logger.With().Str("component", "retry").Logger(),
	}
}

// Retry processes each requested ID independently and reports per-item
// outcomes. Items are spaced by the configured delay so a batch does not
// hammer the provider.
func (s *RetryService) Retry(ctx context.Context, ownerID string, req *model.RetryRequest) []model.RetryResult {
	results := make([]model.RetryResult, 0, len(req.RequestIDs))

	for i, id := range req.RequestIDs {
		if i > 0 && s.itemDelay > 0 {
			select {
			case <-time.After(s.itemDelay):
			case <-ctx.Done():
				results = append(results, model.RetryResult{OriginalRequestID: id, Error: ctx.Err().Error()})
				continue
			}
		}
		results = append(results, s.retryOne(ctx, ownerID, id, req.OverrideModel))
	}
	return results
}

func (s *RetryService) retryOne(ctx context.Context, ownerID, requestID, overrideModel string) model.RetryResult {
	result := model.RetryResult{OriginalRequestID: requestID}

	original, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		result.Error = "Request not found"
		return result
	}
	if original.OwnerID != ownerID {
		result.Error = "Request not found"
		return result
	}
	if original.Status != model.RequestStatusFailed {
		result.Error = "Only failed requests can be retried"
		return result
	}

	resp, err := s.generation.Start(ctx, ownerID, &model.GenerateStartRequest{
		Mode:         original.Mode,
		Prompt:       original.Prompt,
		Style:        original.Style,
		Title:        original.Title,
		Instrumental: original.Instrumental,
		Model:        s.pickModel(original, overrideModel),
		PersonaID:    original.PersonaID,
	})
	if err != nil {
		result.Error = submissionErrorMessage(err)
		return result
	}

	entry := &model.ChangeLogEntry{
		ID:        uuid.NewString(),
		RequestID: original.ID,
		OwnerID:   ownerID,
		Type:      model.ChangeRetryIssued,
		Source:    model.SourceRetry,
		Model:     resp.EffectiveModel,
		Detail:    "retried as " + resp.RequestID,
	}
	if err := s.store.AppendChangeLog(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("requestId", original.ID).Msg("failed to append change log")
	}

	s.logger.Info().
		Str("originalId", original.ID).
		Str("newRequestId", resp.RequestID).
		Str("model", resp.EffectiveModel).
		Msg("retry submitted")

	result.NewRequestID = resp.RequestID
	result.NewArtifactID = resp.ArtifactID
	return result
}

// pickModel chooses the model for the retry: an explicit override wins,
// then the next fallback of the model that already failed, then the
// default.
func (s *RetryService) pickModel(original *model.GenerationRequest, override string) string {
	if override != "" && model.IsValidModel(model.ResolveModel(override)) {
		return model.ResolveModel(override)
	}
	failed := original.EffectiveModel
	if failed == "" {
		failed = original.RequestedModel
	}
	if next := model.NextFallback(failed); next != "" {
		return next
	}
	return model.DefaultModel
}
