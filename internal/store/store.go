package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/musicverse/api/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert would violate a uniqueness rule.
	ErrDuplicate = errors.New("record already exists")
	// ErrInvalidTransition is returned when a status update would move a
	// request backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence boundary for generation state. Implementations
// must enforce the forward-only status machine and the (artifact, label)
// uniqueness rule; services rely on those guarantees under concurrent
// webhook and poll delivery.
type Store interface {
	// Requests
	CreateRequest(ctx context.Context, req *model.GenerationRequest) error
	GetRequest(ctx context.Context, id string) (*model.GenerationRequest, error)
	GetRequestByProviderTask(ctx context.Context, taskID string) (*model.GenerationRequest, error)
	// SetRequestSubmitted records the provider task ID and effective model
	// after a successful submission and moves the request to processing.
	SetRequestSubmitted(ctx context.Context, id, providerTaskID, effectiveModel string) error
	// UpdateRequestStatus applies a forward-only transition. It returns
	// ErrInvalidTransition when the move is not allowed, which callers
	// treat as a benign no-op for stale deliveries.
	UpdateRequestStatus(ctx context.Context, id string, to model.RequestStatus) error
	MarkRequestFailed(ctx context.Context, id, errorMessage string) error
	MarkRequestCompleted(ctx context.Context, id string, receivedCount int) error
	// SetReceivedCount raises the received artifact count. The count never
	// decreases; lower values are ignored.
	SetReceivedCount(ctx context.Context, id string, received int) error
	CacheResultPayload(ctx context.Context, id string, payload json.RawMessage) error

	// Sweeper queries
	ListStaleRequests(ctx context.Context, olderThan time.Time, limit int) ([]*model.GenerationRequest, error)
	ListCompletedWithLaggingArtifact(ctx context.Context, limit int) ([]*model.GenerationRequest, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	GetArtifactByRequest(ctx context.Context, requestID string) (*model.Artifact, error)
	UpdateArtifact(ctx context.Context, a *model.Artifact) error

	// Versions
	// CreateVersionIfAbsent inserts a version unless one with the same
	// (artifactID, label) already exists. It reports whether the insert
	// happened; a false return with nil error means the version was
	// already present.
	CreateVersionIfAbsent(ctx context.Context, v *model.ArtifactVersion) (bool, error)
	ListVersionsByArtifact(ctx context.Context, artifactID string) ([]*model.ArtifactVersion, error)
	SetVersionMediaURLs(ctx context.Context, versionID string, urls model.MediaURLs) error

	// Change log
	AppendChangeLog(ctx context.Context, entry *model.ChangeLogEntry) error

	// Garbage collection
	PurgeFailedRequestsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
	ListOrphanArtifacts(ctx context.Context, limit int) ([]*model.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
	PurgeChangeLogBefore(ctx context.Context, cutoff time.Time) (int, error)
}
