package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

// StatusBroadcaster pushes live status updates to subscribed clients.
type StatusBroadcaster interface {
	BroadcastStatus(requestID string, status model.RequestStatus, received, expected int, errMsg string)
}

// ResultNotifier receives fire-and-forget completion notices.
type ResultNotifier interface {
	NotifyResult(ctx context.Context, req *model.GenerationRequest, outcome string)
}

// CompletionService applies a normalized provider result to a request and
// its artifact. The same entry point serves webhook delivery, polling and
// recovery, so every step must be idempotent: re-applying a payload that
// was already applied is a no-op.
type CompletionService struct {
	store       store.Store
	blobs       client.BlobStore
	broadcaster StatusBroadcaster
	notifier    ResultNotifier
	logger      zerolog.Logger
}

func NewCompletionService(st store.Store, blobs client.BlobStore, broadcaster StatusBroadcaster, notifier ResultNotifier, logger zerolog.Logger) *CompletionService {
	return &CompletionService{
		store:       st,
		blobs:       blobs,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger.With().Str("component", "completion").Logger(),
	}
}

// HandleResult applies one provider payload to the request it belongs to.
// The payload is cached on the request row first so a crash anywhere
// after that point can be recovered by re-running from the cache.
func (s *CompletionService) HandleResult(ctx context.Context, requestID string, payload *client.GenerationPayload, source model.ChangeSource) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := s.store.CacheResultPayload(ctx, req.ID, raw); err != nil {
		return fmt.Errorf("cache payload: %w", err)
	}

	switch payload.Stage {
	case client.StageError:
		return s.applyFailure(ctx, req, payload, source)
	case client.StageComplete:
		return s.applyComplete(ctx, req, payload, source)
	case client.StageFirst:
		return s.applyPartial(ctx, req, payload, source)
	case client.StageText, client.StageProcessing:
		// Nothing durable to record yet.
		return nil
	default:
		return fmt.Errorf("unknown payload stage %q", payload.Stage)
	}
}

// HandleResultByTask resolves the owning request by provider task ID.
// Used by the webhook path, which only knows the task.
func (s *CompletionService) HandleResultByTask(ctx context.Context, taskID string, payload *client.GenerationPayload, source model.ChangeSource) error {
	req, err := s.store.GetRequestByProviderTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("resolve task %s: %w", taskID, err)
	}
	return s.HandleResult(ctx, req.ID, payload, source)
}

func (s *CompletionService) applyFailure(ctx context.Context, req *model.GenerationRequest, payload *client.GenerationPayload, source model.ChangeSource) error {
	msg := payload.Message
	if msg == "" {
		msg = "Generation failed"
	}

	err := s.store.MarkRequestFailed(ctx, req.ID, msg)
	if errors.Is(err, store.ErrInvalidTransition) {
		// Completed wins: a late failure report after success is dropped.
		s.logger.Debug().Str("requestId", req.ID).Msg("failure report for terminal request ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if artifact, aerr := s.store.GetArtifactByRequest(ctx, req.ID); aerr == nil {
		artifact.Status = model.ArtifactStatusFailed
		artifact.ErrorMessage = msg
		if uerr := s.store.UpdateArtifact(ctx, artifact); uerr != nil {
			s.logger.Error().Err(uerr).Str("artifactId", artifact.ID).Msg("failed to mark artifact failed")
		}
	}

	s.finish(ctx, req, model.ChangeGenerationFailed, source, msg, model.RequestStatusFailed, req.ReceivedArtifactCount, req.ExpectedArtifactCount)
	return nil
}

// applyPartial handles a first-clip delivery: the request becomes
// streamable before the full set of clips arrives. The artifact points at
// the provider's stream URL directly; the durable copy happens at
// completion.
func (s *CompletionService) applyPartial(ctx context.Context, req *model.GenerationRequest, payload *client.GenerationPayload, source model.ChangeSource) error {
	if req.Status == model.RequestStatusFailed {
		s.logger.Debug().Str("requestId", req.ID).Msg("late partial for failed request ignored")
		return nil
	}
	if len(payload.Clips) == 0 {
		return nil
	}

	err := s.store.UpdateRequestStatus(ctx, req.ID, model.RequestStatusStreamingReady)
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("mark streaming: %w", err)
	}
	stale := errors.Is(err, store.ErrInvalidTransition)

	if err := s.store.SetReceivedCount(ctx, req.ID, len(payload.Clips)); err != nil {
		s.logger.Warn().Err(err).Str("requestId", req.ID).Msg("failed to update received count")
	}

	artifact, err := s.store.GetArtifactByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("load artifact: %w", err)
	}

	clip := payload.Clips[0]
	if _, err := s.insertVersion(ctx, artifact.ID, 0, clip, model.MediaURLs{
		AudioURL:  clip.AudioURL,
		StreamURL: clip.StreamURL,
		ImageURL:  clip.ImageURL,
	}); err != nil {
		return err
	}

	if artifact.Status == model.ArtifactStatusPending || artifact.Status == model.ArtifactStatusProcessing {
		artifact.Status = model.ArtifactStatusStreamingReady
		artifact.MediaURLs = model.MediaURLs{
			AudioURL:  clip.AudioURL,
			StreamURL: clip.StreamURL,
			ImageURL:  clip.ImageURL,
		}
		if artifact.Title == "" {
			artifact.Title = clip.Title
		}
		if err := s.store.UpdateArtifact(ctx, artifact); err != nil {
			return fmt.Errorf("update artifact: %w", err)
		}
	}

	if !stale {
		s.finish(ctx, req, model.ChangeGenerationStreaming, source, "", model.RequestStatusStreamingReady, len(payload.Clips), req.ExpectedArtifactCount)
	}
	return nil
}

func (s *CompletionService) applyComplete(ctx context.Context, req *model.GenerationRequest, payload *client.GenerationPayload, source model.ChangeSource) error {
	if req.Status == model.RequestStatusFailed {
		// A result arriving after the request already failed, typically
		// past the sweep timeout, is dropped. Flipping the artifact here
		// would leave a failed request with a completed artifact.
		s.logger.Debug().Str("requestId", req.ID).Msg("late completion for failed request ignored")
		return nil
	}

	if len(payload.Clips) == 0 {
		// A complete report with no clips is a provider bug; treat as failure.
		payload.Message = "Provider reported completion without results"
		payload.Stage = client.StageError
		return s.applyFailure(ctx, req, payload, source)
	}

	artifact, err := s.store.GetArtifactByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("load artifact: %w", err)
	}

	// Versions are written before the request flips to completed, so a
	// crash between the two leaves a recoverable gap rather than a
	// completed request with missing versions.
	var primary *model.ArtifactVersion
	for i, clip := range payload.Clips {
		urls := model.MediaURLs{
			AudioURL:  clip.AudioURL,
			StreamURL: clip.StreamURL,
			ImageURL:  clip.ImageURL,
		}
		urls.PermanentURL = s.copyBlob(ctx, artifact.ID, model.VersionLabel(i), clip)

		v, err := s.insertVersion(ctx, artifact.ID, i, clip, urls)
		if err != nil {
			return err
		}
		if i == 0 {
			primary = v
		}
	}

	if err := s.store.SetReceivedCount(ctx, req.ID, len(payload.Clips)); err != nil {
		s.logger.Warn().Err(err).Str("requestId", req.ID).Msg("failed to update received count")
	}

	markErr := s.store.MarkRequestCompleted(ctx, req.ID, len(payload.Clips))
	if markErr != nil && !errors.Is(markErr, store.ErrInvalidTransition) {
		return fmt.Errorf("mark completed: %w", markErr)
	}
	alreadyCompleted := errors.Is(markErr, store.ErrInvalidTransition)

	if artifact.Status != model.ArtifactStatusCompleted {
		artifact.Status = model.ArtifactStatusCompleted
		artifact.ErrorMessage = ""
		if primary != nil {
			artifact.PrimaryVersionID = primary.ID
			artifact.MediaURLs = primary.MediaURLs
			artifact.DurationSeconds = primary.DurationSeconds
			if artifact.Title == "" {
				artifact.Title = payload.Clips[0].Title
			}
		}
		if err := s.store.UpdateArtifact(ctx, artifact); err != nil {
			return fmt.Errorf("update artifact: %w", err)
		}
	}

	if !alreadyCompleted {
		s.finish(ctx, req, model.ChangeGenerationCompleted, source, "", model.RequestStatusCompleted, len(payload.Clips), req.ExpectedArtifactCount)
	}
	return nil
}

// insertVersion writes one version unless its label already exists, and
// returns the stored version either way.
func (s *CompletionService) insertVersion(ctx context.Context, artifactID string, clipIndex int, clip client.Clip, urls model.MediaURLs) (*model.ArtifactVersion, error) {
	label := model.VersionLabel(clipIndex)
	meta, _ := json.Marshal(clip)
	v := &model.ArtifactVersion{
		ID:               uuid.NewString(),
		ArtifactID:       artifactID,
		Label:            label,
		ClipIndex:        clipIndex,
		IsPrimary:        clipIndex == 0,
		MediaURLs:        urls,
		DurationSeconds:  int(clip.Duration),
		ProviderMetadata: meta,
	}

	inserted, err := s.store.CreateVersionIfAbsent(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("insert version %s: %w", label, err)
	}
	if inserted {
		return v, nil
	}

	// Duplicate delivery; return the version already on record, upgrading
	// its media URLs when this delivery knows more (a partial delivery
	// stores only the stream URL, the complete one has the rest).
	existing, err := s.store.ListVersionsByArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	for _, e := range existing {
		if e.Label != label {
			continue
		}
		if upgraded := mergeURLs(e.MediaURLs, urls); upgraded != e.MediaURLs {
			if err := s.store.SetVersionMediaURLs(ctx, e.ID, upgraded); err != nil {
				s.logger.Warn().Err(err).Str("versionId", e.ID).Msg("failed to upgrade version urls")
			} else {
				e.MediaURLs = upgraded
			}
		}
		return e, nil
	}
	return v, nil
}

// mergeURLs fills gaps in old with values from fresh, never overwriting
// what is already set.
func mergeURLs(old, fresh model.MediaURLs) model.MediaURLs {
	if old.AudioURL == "" {
		old.AudioURL = fresh.AudioURL
	}
	if old.StreamURL == "" {
		old.StreamURL = fresh.StreamURL
	}
	if old.ImageURL == "" {
		old.ImageURL = fresh.ImageURL
	}
	if old.PermanentURL == "" {
		old.PermanentURL = fresh.PermanentURL
	}
	return old
}

// copyBlob copies the clip's audio into durable storage and returns the
// permanent URL, or "" when the copy fails or no blob store is wired.
// Completion never fails on a copy error; the remote URL remains usable.
func (s *CompletionService) copyBlob(ctx context.Context, artifactID, label string, clip client.Clip) string {
	if s.blobs == nil || clip.AudioURL == "" {
		return ""
	}
	key := blobKey(artifactID, label)
	permanent, err := s.blobs.CopyFromURL(ctx, key, clip.AudioURL, "audio/mpeg")
	if err != nil {
		s.logger.Warn().Err(err).Str("artifactId", artifactID).Str("label", label).Msg("blob copy failed, keeping remote url")
		return ""
	}
	return permanent
}

// blobKey is the object key for a version's durable audio copy. GC uses
// the same key to delete copies when it removes an artifact.
func blobKey(artifactID, label string) string {
	return fmt.Sprintf("artifacts/%s/%s.mp3", artifactID, label)
}

// finish records the audit entry and pushes notifications. None of these
// can roll back the persistence that already happened.
func (s *CompletionService) finish(ctx context.Context, req *model.GenerationRequest, t model.ChangeType, source model.ChangeSource, detail string, status model.RequestStatus, received, expected int) {
	entry := &model.ChangeLogEntry{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		OwnerID:   req.OwnerID,
		Type:      t,
		Source:    source,
		Model:     req.EffectiveModel,
		Detail:    detail,
	}
	if err := s.store.AppendChangeLog(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("requestId", req.ID).Msg("failed to append change log")
	}

	if s.notifier != nil {
		s.notifier.NotifyResult(ctx, req, string(status))
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastStatus(req.ID, status, received, expected, detail)
	}
}
