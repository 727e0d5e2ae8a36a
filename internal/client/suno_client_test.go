package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*SunoClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewSunoClient(&config.SunoConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		CallbackURL:    "https://api.example.com/webhooks/suno",
		TimeoutSeconds: 5,
	}, zerolog.Nop())
	return c, srv
}

func TestSubmitSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"msg":  "success",
			"data": map[string]string{"taskId": "task-42"},
		})
	})

	taskID, err := c.Submit(context.Background(), &SubmitRequest{
		CustomMode: true,
		Model:      "V4_5",
		Prompt:     "lyrics here",
		Style:      "synthwave",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID != "task-42" {
		t.Errorf("expected task-42, got %s", taskID)
	}
	if gotBody["callBackUrl"] != "https://api.example.com/webhooks/suno" {
		t.Errorf("callback url not defaulted: %v", gotBody["callBackUrl"])
	}
	if gotBody["customMode"] != true {
		t.Errorf("customMode not sent: %v", gotBody["customMode"])
	}
}

func TestSubmitErrorCategories(t *testing.T) {
	tests := []struct {
		code      int
		category  ErrorCategory
		retriable bool
	}{
		{400, CategoryValidation, false},
		{402, CategoryInsufficientCredits, false},
		{413, CategoryValidation, false},
		{429, CategoryRateLimited, false},
		{451, CategoryPolicyViolation, false},
		{455, CategoryBackendFailure, true},
		{500, CategoryModelError, true},
	}

	for _, tt := range tests {
		code := tt.code
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": code,
				"msg":  "provider rejected",
			})
		})

		_, err := c.Submit(context.Background(), &SubmitRequest{Model: "V5", Prompt: "x"})
		if err == nil {
			t.Fatalf("code %d: expected error", tt.code)
		}
		pe, ok := AsProviderError(err)
		if !ok {
			t.Fatalf("code %d: expected ProviderError, got %T", tt.code, err)
		}
		if pe.Category != tt.category {
			t.Errorf("code %d: expected category %s, got %s", tt.code, tt.category, pe.Category)
		}
		if pe.Retriable() != tt.retriable {
			t.Errorf("code %d: expected retriable=%v", tt.code, tt.retriable)
		}
	}
}

func TestSubmitMissingTaskID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"data": map[string]string{},
		})
	})

	_, err := c.Submit(context.Background(), &SubmitRequest{Model: "V5", Prompt: "x"})
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Category != CategoryBackendFailure {
		t.Errorf("expected backend failure, got %s", pe.Category)
	}
}

func TestPollSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate/record-info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("taskId"); got != "task-7" {
			t.Errorf("unexpected taskId %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 200,
			"data": map[string]interface{}{
				"taskId": "task-7",
				"status": "SUCCESS",
				"response": map[string]interface{}{
					"sunoData": []map[string]interface{}{
						{"id": "c1", "audio_url": "https://cdn.example.com/a.mp3", "duration": 120.0},
					},
				},
			},
		})
	})

	p, err := c.Poll(context.Background(), "task-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Stage != StageComplete {
		t.Errorf("expected complete, got %s", p.Stage)
	}
	if len(p.Clips) != 1 || p.Clips[0].AudioURL != "https://cdn.example.com/a.mp3" {
		t.Errorf("clip not normalized: %+v", p.Clips)
	}
}

func TestPollHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Poll(context.Background(), "task-7")
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Category != CategoryRateLimited {
		t.Errorf("expected rate limited, got %s", pe.Category)
	}
}
