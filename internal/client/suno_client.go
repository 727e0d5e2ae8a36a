package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/config"
)

// Provider defines the interface for the external generation API.
// Submit and Poll each perform one HTTP call; the client holds no state
// about submitted tasks.
type Provider interface {
	Submit(ctx context.Context, req *SubmitRequest) (string, error)
	Poll(ctx context.Context, taskID string) (*GenerationPayload, error)
}

// SunoClient implements Provider for the Suno generation API.
type SunoClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	callbackURL string
	logger      zerolog.Logger
}

// SubmitRequest represents the request for music generation.
type SubmitRequest struct {
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	NegativeTags string `json:"negativeTags,omitempty"`
	VocalGender  string `json:"vocalGender,omitempty"`
	PersonaID    string `json:"personaId,omitempty"`
	CallBackURL  string `json:"callBackUrl,omitempty"`
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// NewSunoClient creates a new Suno API client.
func NewSunoClient(cfg *config.SunoConfig, logger zerolog.Logger) *SunoClient {
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		logger:      logger.With().Str("component", "suno").Logger(),
	}
}

// IsConfigured returns true if the client has valid configuration.
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Submit initiates a generation task and returns the provider task ID.
// A non-success response is returned as a *ProviderError carrying the
// category the fallback logic switches on.
func (c *SunoClient) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	if req.CallBackURL == "" {
		req.CallBackURL = c.callbackURL
	}

	env, err := c.post(ctx, "/api/v1/generate", req)
	if err != nil {
		return "", err
	}

	var data struct {
		TaskID      string `json:"taskId"`
		TaskIDSnake string `json:"task_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	taskID := first(data.TaskID, data.TaskIDSnake)
	if taskID == "" {
		return "", &ProviderError{
			Category: CategoryBackendFailure,
			Code:     env.Code,
			Message:  "no taskId returned from provider",
		}
	}
	return taskID, nil
}

// Poll retrieves the current state of a generation task and normalizes it.
func (c *SunoClient) Poll(ctx context.Context, taskID string) (*GenerationPayload, error) {
	endpoint := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(taskID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return ParseRecordInfo(body)
}

func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}) (*apiEnvelope, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	respBody, status, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if status < 200 || status >= 300 || env.Code != 200 {
		code := env.Code
		if code == 0 {
			code = status
		}
		return nil, &ProviderError{
			Category: categorize(code),
			Code:     code,
			Message:  first(env.Msg, http.StatusText(status)),
		}
	}
	return &env, nil
}

func (c *SunoClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	respBody, status, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ProviderError{
			Category: categorize(status),
			Code:     status,
			Message:  http.StatusText(status),
		}
	}
	return respBody, nil
}

func (c *SunoClient) doRequest(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", req.URL.String()).Msg("provider request failed")
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("provider response")
	return respBody, resp.StatusCode, nil
}
