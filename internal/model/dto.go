package model

import "time"

// GenerateStartRequest is the request body for POST /api/generate.
type GenerateStartRequest struct {
	Mode         GenerationMode `json:"mode" validate:"omitempty,oneof=simple custom"`
	Prompt       string         `json:"prompt"`
	Style        string         `json:"style,omitempty"`
	Title        string         `json:"title,omitempty"`
	Instrumental bool           `json:"instrumental"`
	Model        string         `json:"model,omitempty"`
	PersonaID    string         `json:"personaId,omitempty"`
}

// GenerateStartResponse is returned once submission has resolved.
type GenerateStartResponse struct {
	RequestID      string        `json:"requestId"`
	ArtifactID     string        `json:"artifactId"`
	Status         RequestStatus `json:"status"`
	EffectiveModel string        `json:"effectiveModel,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// GenerateStatusResponse reports the lifecycle state of one request.
type GenerateStatusResponse struct {
	RequestID             string        `json:"requestId"`
	ArtifactID            string        `json:"artifactId"`
	Status                RequestStatus `json:"status"`
	EffectiveModel        string        `json:"effectiveModel,omitempty"`
	ExpectedArtifactCount int           `json:"expectedArtifactCount"`
	ReceivedArtifactCount int           `json:"receivedArtifactCount"`
	Error                 string        `json:"error,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	CompletedAt           *time.Time    `json:"completedAt,omitempty"`
}

// GenerateResultResponse returns the artifact with all its versions.
type GenerateResultResponse struct {
	Artifact Artifact          `json:"artifact"`
	Versions []ArtifactVersion `json:"versions"`
}

// RetryRequest is the request body for POST /api/generate/retry.
type RetryRequest struct {
	RequestIDs    []string `json:"requestIds" validate:"required,min=1,dive,uuid4"`
	OverrideModel string   `json:"overrideModel,omitempty"`
}

// RetryResult reports the outcome of retrying one failed request.
type RetryResult struct {
	OriginalRequestID string `json:"originalRequestId"`
	NewRequestID      string `json:"newRequestId,omitempty"`
	NewArtifactID     string `json:"newArtifactId,omitempty"`
	Error             string `json:"error,omitempty"`
}

// SweepReport aggregates the counts of one recovery sweep run.
type SweepReport struct {
	Recovered int `json:"recovered"`
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// GCReport aggregates the counts of one garbage-collection run.
type GCReport struct {
	RequestsPurged  int `json:"requestsPurged"`
	OrphansDeleted  int `json:"orphansDeleted"`
	CountersExpired int `json:"countersExpired"`
	Errors          int `json:"errors"`
}

// WebSocket messages pushed on request status transitions.
type WSMessageType string

const (
	WSMessageTypeStatus WSMessageType = "status"
	WSMessageTypeError  WSMessageType = "error"
	WSMessageTypePing   WSMessageType = "ping"
	WSMessageTypePong   WSMessageType = "pong"
)

type WSMessage struct {
	Type WSMessageType `json:"type"`
}

type WSStatusMessage struct {
	Type      WSMessageType `json:"type"`
	RequestID string        `json:"requestId"`
	Status    RequestStatus `json:"status"`
	Received  int           `json:"received"`
	Expected  int           `json:"expected"`
	Error     string        `json:"error,omitempty"`
}
