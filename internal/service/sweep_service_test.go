package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
)

func newSweep(f *fixture, staleAfter, failAfter time.Duration) *SweepService {
	return NewSweepService(f.store, f.provider, f.completion, staleAfter, failAfter, 50, zerolog.Nop())
}

// backdate rewrites a request's creation time so the sweeper sees it as old.
func backdate(t *testing.T, f *fixture, requestID string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	req, err := f.store.GetRequest(ctx, requestID)
	if err != nil {
		t.Fatalf("request missing: %v", err)
	}
	// The memory store copies on read; re-create with the adjusted time.
	f.store.DeleteRequestForTest(requestID)
	req.CreatedAt = time.Now().Add(-age)
	if err := f.store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("re-create failed: %v", err)
	}
	if req.ProviderTaskID != "" {
		if err := f.store.SetRequestSubmitted(ctx, req.ID, req.ProviderTaskID, req.EffectiveModel); err != nil {
			t.Fatalf("re-link task failed: %v", err)
		}
	}
}

func TestSweepRecoversLaggingArtifact(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, artifactID, taskID := startOne(t, f)

	// Simulate a crash after the request completed but before the
	// artifact caught up: complete the request directly with the payload
	// cached, leaving the artifact in processing.
	payload := completePayload(taskID, 2)
	raw, _ := json.Marshal(payload)
	if err := f.store.CacheResultPayload(ctx, requestID, raw); err != nil {
		t.Fatalf("cache failed: %v", err)
	}
	if err := f.store.MarkRequestCompleted(ctx, requestID, 2); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Recovered != 1 {
		t.Errorf("expected 1 recovered, got %d", report.Recovered)
	}

	artifact, _ := f.store.GetArtifact(ctx, artifactID)
	if artifact.Status != model.ArtifactStatusCompleted {
		t.Errorf("artifact not recovered: %s", artifact.Status)
	}
	versions, _ := f.store.ListVersionsByArtifact(ctx, artifactID)
	if len(versions) != 2 {
		t.Errorf("expected 2 versions after recovery, got %d", len(versions))
	}
}

func TestSweepResolvesStaleViaPoll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, _, taskID := startOne(t, f)
	backdate(t, f, requestID, 20*time.Minute)

	f.provider.pollResults[taskID] = completePayload(taskID, 2)

	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Checked != 1 || report.Completed != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	req, _ := f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusCompleted {
		t.Errorf("expected completed, got %s", req.Status)
	}
}

func TestSweepFailsStaleViaPoll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, artifactID, taskID := startOne(t, f)
	backdate(t, f, requestID, 20*time.Minute)

	f.provider.pollResults[taskID] = &client.GenerationPayload{
		TaskID: taskID, Stage: client.StageError, Message: "generation crashed",
	}

	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected 1 failed, got %+v", report)
	}

	req, _ := f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusFailed {
		t.Errorf("expected failed, got %s", req.Status)
	}
	artifact, _ := f.store.GetArtifact(ctx, artifactID)
	if artifact.Status != model.ArtifactStatusFailed {
		t.Errorf("expected failed artifact, got %s", artifact.Status)
	}
}

// A request past the first threshold but still processing at the
// provider is left alone until the hard deadline.
func TestSweepLeavesInFlightUntilHardDeadline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, _, _ := startOne(t, f)
	backdate(t, f, requestID, 20*time.Minute)

	// Fake provider reports processing by default.
	sweep := newSweep(f, 10*time.Minute, time.Hour)
	if _, err := sweep.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	req, _ := f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusProcessing {
		t.Errorf("in-flight request was touched: %s", req.Status)
	}

	// Past the hard deadline the same request is failed.
	backdate(t, f, requestID, 2*time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected timeout failure, got %+v", report)
	}
	req, _ = f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusFailed {
		t.Errorf("expected failed, got %s", req.Status)
	}
	if req.ErrorMessage != timedOutMessage {
		t.Errorf("expected timeout message, got %q", req.ErrorMessage)
	}
}

// The hard deadline applies even when the provider never answers a
// poll, or the request would sit in processing forever.
func TestSweepTimesOutWhenPollErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, _, _ := startOne(t, f)
	backdate(t, f, requestID, 2*time.Hour)

	f.provider.pollErr = errors.New("record-info unavailable")

	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected timeout failure despite poll error, got %+v", report)
	}

	req, _ := f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusFailed {
		t.Errorf("expected failed, got %s", req.Status)
	}
	if req.ErrorMessage != timedOutMessage {
		t.Errorf("expected timeout message, got %q", req.ErrorMessage)
	}
}

// A request that already delivered a playable partial is still polled
// for its remaining clips but never hard-failed by the deadline.
func TestSweepStreamingReadySurvivesHardDeadline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	requestID, _, taskID := startOne(t, f)

	partial := &client.GenerationPayload{
		TaskID: taskID,
		Stage:  client.StageFirst,
		Clips:  []client.Clip{{ID: "c1", StreamURL: "https://cdn.example.com/s.mp3"}},
	}
	if err := f.completion.HandleResult(ctx, requestID, partial, model.SourceCallback); err != nil {
		t.Fatalf("partial delivery failed: %v", err)
	}
	backdate(t, f, requestID, 2*time.Hour)

	// Provider still working on the rest; the partial is kept.
	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Checked != 1 || report.Failed != 0 {
		t.Errorf("streaming request was failed: %+v", report)
	}
	req, _ := f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusStreamingReady {
		t.Errorf("expected streaming_ready, got %s", req.Status)
	}

	// Once the provider finishes, the poll completes it.
	f.provider.pollResults[taskID] = completePayload(taskID, 2)
	if _, err := sweep.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	req, _ = f.store.GetRequest(ctx, requestID)
	if req.Status != model.RequestStatusCompleted {
		t.Errorf("expected completed, got %s", req.Status)
	}
}

// One unresolved item must not keep the rest of the batch from being
// processed.
func TestSweepTolerant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	firstID, _, _ := startOne(t, f)
	secondID, _, secondTask := startOne(t, f)
	backdate(t, f, firstID, 20*time.Minute)
	backdate(t, f, secondID, 20*time.Minute)

	// First request's task still reports processing, second completes.
	f.provider.pollResults[secondTask] = completePayload(secondTask, 2)

	sweep := newSweep(f, 10*time.Minute, time.Hour)
	report, err := sweep.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Checked != 2 {
		t.Errorf("expected 2 checked, got %d", report.Checked)
	}
	if report.Completed != 1 {
		t.Errorf("expected 1 completed, got %+v", report)
	}

	req, _ := f.store.GetRequest(ctx, secondID)
	if req.Status != model.RequestStatusCompleted {
		t.Errorf("healthy item was not processed: %s", req.Status)
	}
}
