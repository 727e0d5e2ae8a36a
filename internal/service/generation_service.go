package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

// Prompt length limits per mode, matching the provider's own limits.
const (
	maxPromptSimple = 500
	maxPromptCustom = 5000
)

// ValidationError wraps an input validation failure with a user-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// GenerationService coordinates submissions: input validation, model
// resolution, request/artifact creation and the model fallback loop.
type GenerationService struct {
	store         store.Store
	provider      client.Provider
	expectedClips int
	logger        zerolog.Logger
}

func NewGenerationService(st store.Store, provider client.Provider, expectedClips int, logger zerolog.Logger) *GenerationService {
	if expectedClips <= 0 {
		expectedClips = 2
	}
	return &GenerationService{
		store:         st,
		provider:      provider,
		expectedClips: expectedClips,
		logger:        logger.With().Str("component", "generation").Logger(),
	}
}

// Start validates the request, creates the pending request/artifact pair
// and submits to the provider, walking the model fallback chain on
// retriable errors. The pair exists before the first provider call so a
// crash mid-submission leaves a recoverable record.
func (s *GenerationService) Start(ctx context.Context, ownerID string, req *model.GenerateStartRequest) (*model.GenerateStartResponse, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeSimple
	}
	resolved := model.ResolveModel(req.Model)

	genReq := &model.GenerationRequest{
		ID:                    uuid.NewString(),
		OwnerID:               ownerID,
		Mode:                  mode,
		RequestedModel:        resolved,
		Status:                model.RequestStatusPending,
		Prompt:                req.Prompt,
		Style:                 req.Style,
		Title:                 req.Title,
		Instrumental:          req.Instrumental,
		PersonaID:             req.PersonaID,
		ExpectedArtifactCount: s.expectedClips,
		CreatedAt:             time.Now(),
	}
	artifact := &model.Artifact{
		ID:        uuid.NewString(),
		RequestID: genReq.ID,
		OwnerID:   ownerID,
		Status:    model.ArtifactStatusPending,
		Title:     req.Title,
	}

	if err := s.store.CreateRequest(ctx, genReq); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := s.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}

	effectiveModel, taskID, err := s.submitWithFallback(ctx, genReq, resolved)
	if err != nil {
		msg := submissionErrorMessage(err)
		if markErr := s.store.MarkRequestFailed(ctx, genReq.ID, msg); markErr != nil {
			s.logger.Error().Err(markErr).Str("requestId", genReq.ID).Msg("failed to mark request failed")
		}
		artifact.Status = model.ArtifactStatusFailed
		artifact.ErrorMessage = msg
		if updErr := s.store.UpdateArtifact(ctx, artifact); updErr != nil {
			s.logger.Error().Err(updErr).Str("artifactId", artifact.ID).Msg("failed to mark artifact failed")
		}
		s.appendLog(ctx, genReq, model.ChangeGenerationFailed, model.SourceSubmission, "", msg)
		return nil, err
	}

	if err := s.store.SetRequestSubmitted(ctx, genReq.ID, taskID, effectiveModel); err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	artifact.Status = model.ArtifactStatusProcessing
	if err := s.store.UpdateArtifact(ctx, artifact); err != nil {
		s.logger.Error().Err(err).Str("artifactId", artifact.ID).Msg("failed to mark artifact processing")
	}
	s.appendLog(ctx, genReq, model.ChangeGenerationStarted, model.SourceSubmission, effectiveModel, "")

	s.logger.Info().
		Str("requestId", genReq.ID).
		Str("taskId", taskID).
		Str("model", effectiveModel).
		Msg("generation submitted")

	return &model.GenerateStartResponse{
		RequestID:      genReq.ID,
		ArtifactID:     artifact.ID,
		Status:         model.RequestStatusProcessing,
		EffectiveModel: effectiveModel,
		CreatedAt:      genReq.CreatedAt,
	}, nil
}

// submitWithFallback tries the resolved model, then each fallback in turn
// while the provider reports retriable errors. The chain is finite, so
// the loop terminates after at most len(chain)+1 provider calls.
func (s *GenerationService) submitWithFallback(ctx context.Context, req *model.GenerationRequest, startModel string) (string, string, error) {
	current := startModel
	var lastErr error
	for current != "" {
		taskID, err := s.provider.Submit(ctx, s.buildSubmit(req, current))
		if err == nil {
			return current, taskID, nil
		}
		lastErr = err

		pe, ok := client.AsProviderError(err)
		if !ok || !pe.Retriable() {
			return "", "", err
		}

		next := model.NextFallback(current)
		s.logger.Warn().
			Str("requestId", req.ID).
			Str("model", current).
			Str("nextModel", next).
			Int("code", pe.Code).
			Msg("submission failed, trying fallback")
		current = next
	}
	return "", "", lastErr
}

func (s *GenerationService) buildSubmit(req *model.GenerationRequest, modelName string) *client.SubmitRequest {
	return &client.SubmitRequest{
		CustomMode:   req.Mode == model.ModeCustom,
		Instrumental: req.Instrumental,
		Model:        modelName,
		Prompt:       req.Prompt,
		Style:        req.Style,
		Title:        req.Title,
		PersonaID:    req.PersonaID,
	}
}

// GetStatus returns the lifecycle state of one request, owner-scoped.
func (s *GenerationService) GetStatus(ctx context.Context, ownerID, requestID string) (*model.GenerateStatusResponse, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	artifactID := ""
	if artifact, err := s.store.GetArtifactByRequest(ctx, requestID); err == nil {
		artifactID = artifact.ID
	}

	return &model.GenerateStatusResponse{
		RequestID:             req.ID,
		ArtifactID:            artifactID,
		Status:                req.Status,
		EffectiveModel:        req.EffectiveModel,
		ExpectedArtifactCount: req.ExpectedArtifactCount,
		ReceivedArtifactCount: req.ReceivedArtifactCount,
		Error:                 req.ErrorMessage,
		CreatedAt:             req.CreatedAt,
		CompletedAt:           req.CompletedAt,
	}, nil
}

// GetResult returns the request's artifact and all its versions.
func (s *GenerationService) GetResult(ctx context.Context, ownerID, requestID string) (*model.GenerateResultResponse, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	artifact, err := s.store.GetArtifactByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersionsByArtifact(ctx, artifact.ID)
	if err != nil {
		return nil, err
	}

	resp := &model.GenerateResultResponse{Artifact: *artifact}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, *v)
	}
	return resp, nil
}

func (s *GenerationService) appendLog(ctx context.Context, req *model.GenerationRequest, t model.ChangeType, src model.ChangeSource, modelName, detail string) {
	entry := &model.ChangeLogEntry{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		OwnerID:   req.OwnerID,
		Type:      t,
		Source:    src,
		Model:     modelName,
		Detail:    detail,
	}
	if err := s.store.AppendChangeLog(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("requestId", req.ID).Msg("failed to append change log")
	}
}

func validateStart(req *model.GenerateStartRequest) error {
	if req.Prompt == "" {
		return &ValidationError{Message: "Prompt is required"}
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeSimple
	}
	switch mode {
	case model.ModeSimple:
		if len(req.Prompt) > maxPromptSimple {
			return &ValidationError{Message: fmt.Sprintf("Prompt must be at most %d characters in simple mode", maxPromptSimple)}
		}
	case model.ModeCustom:
		if req.Style == "" {
			return &ValidationError{Message: "Style is required in custom mode"}
		}
		if !req.Instrumental && len(req.Prompt) > maxPromptCustom {
			return &ValidationError{Message: fmt.Sprintf("Lyrics must be at most %d characters", maxPromptCustom)}
		}
	default:
		return &ValidationError{Message: "Invalid mode"}
	}
	return nil
}

// submissionErrorMessage maps a submission error to the message stored on
// the failed request.
func submissionErrorMessage(err error) string {
	if pe, ok := client.AsProviderError(err); ok {
		return client.UserMessage(pe.Category)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return "Generation failed. Please try again."
}
