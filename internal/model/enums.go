package model

import "strconv"

// Generation modes
type GenerationMode string

const (
	ModeSimple GenerationMode = "simple"
	ModeCustom GenerationMode = "custom"
)

var ValidModes = []GenerationMode{ModeSimple, ModeCustom}

// Request status lifecycle. Transitions only move forward, except that a
// late failure may still take processing or streaming_ready to failed.
// Completed is terminal and wins every race.
type RequestStatus string

const (
	RequestStatusPending        RequestStatus = "pending"
	RequestStatusProcessing     RequestStatus = "processing"
	RequestStatusStreamingReady RequestStatus = "streaming_ready"
	RequestStatusCompleted      RequestStatus = "completed"
	RequestStatusFailed         RequestStatus = "failed"
)

var statusRank = map[RequestStatus]int{
	RequestStatusPending:        0,
	RequestStatusProcessing:     1,
	RequestStatusStreamingReady: 2,
	RequestStatusCompleted:      3,
	RequestStatusFailed:         3,
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == RequestStatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// IsTerminal reports whether a status admits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// Artifact status mirrors the request status but can lag behind it
// during crash recovery.
type ArtifactStatus string

const (
	ArtifactStatusPending        ArtifactStatus = "pending"
	ArtifactStatusProcessing     ArtifactStatus = "processing"
	ArtifactStatusStreamingReady ArtifactStatus = "streaming_ready"
	ArtifactStatusCompleted      ArtifactStatus = "completed"
	ArtifactStatusFailed         ArtifactStatus = "failed"
)

// ChangeSource identifies what triggered a state transition.
type ChangeSource string

const (
	SourceCallback      ChangeSource = "callback"
	SourcePoll          ChangeSource = "poll"
	SourceRecoverySweep ChangeSource = "recovery-sweep"
	SourceRetry         ChangeSource = "retry"
	SourceSubmission    ChangeSource = "submission"
)

// ChangeType enumerates audit log entry kinds.
type ChangeType string

const (
	ChangeGenerationStarted   ChangeType = "generation_started"
	ChangeGenerationStreaming ChangeType = "generation_streaming"
	ChangeGenerationCompleted ChangeType = "generation_completed"
	ChangeGenerationFailed    ChangeType = "generation_failed"
	ChangeVersionCreated      ChangeType = "version_created"
	ChangeRetryIssued         ChangeType = "retry_issued"
)

var versionLabels = []string{"A", "B", "C", "D", "E"}

// VersionLabel returns the label assigned to a clip by arrival order:
// A..E, then V6, V7, ...
func VersionLabel(clipIndex int) string {
	if clipIndex >= 0 && clipIndex < len(versionLabels) {
		return versionLabels[clipIndex]
	}
	return "V" + strconv.Itoa(clipIndex+1)
}
