package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
)

func startReq() *model.GenerateStartRequest {
	return &model.GenerateStartRequest{
		Mode:   model.ModeCustom,
		Prompt: "[Verse]\nCity lights again",
		Style:  "synthwave",
		Title:  "Neon Nights",
		Model:  "V5",
	}
}

func TestStartSubmitsAndCreatesPair(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resp, err := f.generation.Start(ctx, "user-1", startReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Status != model.RequestStatusProcessing {
		t.Errorf("expected processing, got %s", resp.Status)
	}
	if resp.EffectiveModel != "V5" {
		t.Errorf("expected V5, got %s", resp.EffectiveModel)
	}

	req, err := f.store.GetRequest(ctx, resp.RequestID)
	if err != nil {
		t.Fatalf("request not stored: %v", err)
	}
	if req.ProviderTaskID == "" {
		t.Error("provider task id not recorded")
	}
	if req.ExpectedArtifactCount != 2 {
		t.Errorf("expected 2 artifacts, got %d", req.ExpectedArtifactCount)
	}

	artifact, err := f.store.GetArtifactByRequest(ctx, resp.RequestID)
	if err != nil {
		t.Fatalf("artifact not stored: %v", err)
	}
	if artifact.Status != model.ArtifactStatusProcessing {
		t.Errorf("expected processing artifact, got %s", artifact.Status)
	}
}

func TestStartFallbackChain(t *testing.T) {
	f := newFixture()
	// V5 and V4_5PLUS fail with retriable errors, V4_5 succeeds.
	f.provider.submitErrs["V5"] = retriableErr(455)
	f.provider.submitErrs["V4_5PLUS"] = retriableErr(500)

	resp, err := f.generation.Start(context.Background(), "user-1", startReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.EffectiveModel != "V4_5" {
		t.Errorf("expected fallback to V4_5, got %s", resp.EffectiveModel)
	}
	calls := f.provider.calls()
	want := []string{"V5", "V4_5PLUS", "V4_5"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d submit calls, got %d: %v", len(want), len(calls), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}
}

func TestStartFallbackExhausted(t *testing.T) {
	f := newFixture()
	f.provider.submitErrs["V5"] = retriableErr(455)
	f.provider.submitErrs["V4_5PLUS"] = retriableErr(455)
	f.provider.submitErrs["V4_5"] = retriableErr(455)

	resp, err := f.generation.Start(context.Background(), "user-1", startReq())
	if err == nil {
		t.Fatalf("expected error, got %+v", resp)
	}
	// Chain V5 -> V4_5PLUS -> V4_5 terminates: exactly three calls.
	if calls := f.provider.calls(); len(calls) != 3 {
		t.Errorf("expected 3 submit calls, got %d: %v", len(calls), calls)
	}
}

func TestStartNonRetriableStopsImmediately(t *testing.T) {
	f := newFixture()
	f.provider.submitErrs["V5"] = &client.ProviderError{
		Category: client.CategoryPolicyViolation, Code: 451, Message: "blocked",
	}

	_, err := f.generation.Start(context.Background(), "user-1", startReq())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls := f.provider.calls(); len(calls) != 1 {
		t.Errorf("expected 1 submit call, got %d", len(calls))
	}
}

func TestStartFailureMarksPairFailed(t *testing.T) {
	f := newFixture()
	f.provider.submitErrs["V5"] = &client.ProviderError{
		Category: client.CategoryValidation, Code: 400, Message: "bad prompt",
	}
	ctx := context.Background()

	_, err := f.generation.Start(ctx, "user-1", startReq())
	if err == nil {
		t.Fatal("expected error")
	}

	// The pair was created before submission and must now be failed.
	reqs := f.store.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 stored request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Status != model.RequestStatusFailed {
		t.Errorf("expected failed request, got %s", req.Status)
	}
	if req.ErrorMessage == "" {
		t.Error("expected a user-facing error message")
	}
	artifact, err := f.store.GetArtifactByRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if artifact.Status != model.ArtifactStatusFailed {
		t.Errorf("expected failed artifact, got %s", artifact.Status)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  *model.GenerateStartRequest
	}{
		{"empty prompt", &model.GenerateStartRequest{Mode: model.ModeSimple}},
		{"custom without style", &model.GenerateStartRequest{Mode: model.ModeCustom, Prompt: "x"}},
		{"simple prompt too long", &model.GenerateStartRequest{Mode: model.ModeSimple, Prompt: strings.Repeat("a", 501)}},
		{"custom lyrics too long", &model.GenerateStartRequest{Mode: model.ModeCustom, Prompt: strings.Repeat("a", 5001), Style: "pop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.generation.Start(ctx, "user-1", tt.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}

	// No provider calls should have happened.
	if calls := f.provider.calls(); len(calls) != 0 {
		t.Errorf("validation failures must not reach the provider: %v", calls)
	}
}

func TestStartInstrumentalCustomAllowsLongPrompt(t *testing.T) {
	f := newFixture()
	req := &model.GenerateStartRequest{
		Mode:         model.ModeCustom,
		Prompt:       strings.Repeat("a", 700),
		Style:        "ambient",
		Instrumental: true,
	}
	if _, err := f.generation.Start(context.Background(), "user-1", req); err != nil {
		t.Fatalf("instrumental custom prompt should skip the lyrics limit: %v", err)
	}
}

func TestGetStatusScopedToOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	resp, err := f.generation.Start(ctx, "user-1", startReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.generation.GetStatus(ctx, "user-2", resp.RequestID); err == nil {
		t.Error("other users must not see the request")
	}
	status, err := f.generation.GetStatus(ctx, "user-1", resp.RequestID)
	if err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if status.ArtifactID != resp.ArtifactID {
		t.Errorf("expected artifact %s, got %s", resp.ArtifactID, status.ArtifactID)
	}
}
