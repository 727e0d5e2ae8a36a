package model

import (
	"encoding/json"
	"time"
)

// GenerationRequest is the internal record of one submitted provider job.
// ProviderTaskID is set at most once, when submission succeeds, and never
// changes afterwards.
type GenerationRequest struct {
	ID                    string          `json:"id"`
	OwnerID               string          `json:"ownerId"`
	ProviderTaskID        string          `json:"providerTaskId,omitempty"`
	Mode                  GenerationMode  `json:"mode"`
	RequestedModel        string          `json:"requestedModel"`
	EffectiveModel        string          `json:"effectiveModel,omitempty"`
	Status                RequestStatus   `json:"status"`
	Prompt                string          `json:"prompt"`
	Style                 string          `json:"style,omitempty"`
	Title                 string          `json:"title,omitempty"`
	Instrumental          bool            `json:"instrumental"`
	PersonaID             string          `json:"personaId,omitempty"`
	ExpectedArtifactCount int             `json:"expectedArtifactCount"`
	ReceivedArtifactCount int             `json:"receivedArtifactCount"`
	RawResultPayload      json.RawMessage `json:"rawResultPayload,omitempty"`
	ErrorMessage          string          `json:"errorMessage,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
}

// Artifact is the user-facing result entity, created alongside its
// GenerationRequest. MediaURLs denormalizes the primary version's URLs
// for fast reads.
type Artifact struct {
	ID               string         `json:"id"`
	RequestID        string         `json:"requestId"`
	OwnerID          string         `json:"ownerId"`
	Status           ArtifactStatus `json:"status"`
	PrimaryVersionID string         `json:"primaryVersionId,omitempty"`
	Title            string         `json:"title,omitempty"`
	DurationSeconds  int            `json:"durationSeconds,omitempty"`
	MediaURLs        MediaURLs      `json:"mediaUrls"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// MediaURLs carries both the provider-hosted URL and, once copied,
// the permanent object-store URL.
type MediaURLs struct {
	AudioURL     string `json:"audioUrl,omitempty"`
	StreamURL    string `json:"streamUrl,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
	PermanentURL string `json:"permanentUrl,omitempty"`
}

// Best returns the most durable audio URL available.
func (m MediaURLs) Best() string {
	if m.PermanentURL != "" {
		return m.PermanentURL
	}
	if m.AudioURL != "" {
		return m.AudioURL
	}
	return m.StreamURL
}

// ArtifactVersion is one concrete media result among the alternatives the
// provider returns for a request. (ArtifactID, Label) is unique; writers
// must check-before-insert.
type ArtifactVersion struct {
	ID               string          `json:"id"`
	ArtifactID       string          `json:"artifactId"`
	Label            string          `json:"label"`
	ClipIndex        int             `json:"clipIndex"`
	IsPrimary        bool            `json:"isPrimary"`
	MediaURLs        MediaURLs       `json:"mediaUrls"`
	DurationSeconds  int             `json:"durationSeconds,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// ChangeLogEntry is an append-only audit record of a state transition.
// Diagnostics only; never read for control flow.
type ChangeLogEntry struct {
	ID        string          `json:"id"`
	RequestID string          `json:"requestId"`
	OwnerID   string          `json:"ownerId"`
	Type      ChangeType      `json:"type"`
	Source    ChangeSource    `json:"source"`
	Model     string          `json:"model,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
