package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/auth"
	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/credit"
	"github.com/musicverse/api/internal/handler"
	"github.com/musicverse/api/internal/middleware"
	"github.com/musicverse/api/internal/service"
	"github.com/musicverse/api/internal/store"
)

const (
	testJWTSecret      = "test-secret-for-e2e"
	testInternalSecret = "internal-secret-for-e2e"
	testUserID         = "test-user-123"
)

// scriptedProvider stands in for the external generation API. Tests
// script per-model submit failures and per-task poll payloads.
type scriptedProvider struct {
	mu          sync.Mutex
	nextTaskID  int
	submitErrs  map[string]error
	pollResults map[string]*client.GenerationPayload
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		submitErrs:  make(map[string]error),
		pollResults: make(map[string]*client.GenerationPayload),
	}
}

func (p *scriptedProvider) Submit(_ context.Context, req *client.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.submitErrs[req.Model]; ok && err != nil {
		return "", err
	}
	p.nextTaskID++
	return fmt.Sprintf("task-%d", p.nextTaskID), nil
}

func (p *scriptedProvider) Poll(_ context.Context, taskID string) (*client.GenerationPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payload, ok := p.pollResults[taskID]; ok {
		return payload, nil
	}
	return &client.GenerationPayload{TaskID: taskID, Stage: client.StageProcessing}, nil
}

// testApp holds all components needed for testing.
type testApp struct {
	app        *fiber.App
	store      *store.MemoryStore
	provider   *scriptedProvider
	completion *service.CompletionService
}

// setupApp wires a Fiber app identical to main.go over the in-memory
// store and a scripted provider. No Redis or Postgres is needed; the
// completion path is driven directly instead of through the queue.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	st := store.NewMemoryStore()
	provider := newScriptedProvider()
	logger := zerolog.Nop()
	validate := validator.New()

	completionService := service.NewCompletionService(st, nil, nil, nil, logger)
	generationService := service.NewGenerationService(st, provider, 2, logger)
	retryService := service.NewRetryService(st, generationService, 0, logger)
	sweepService := service.NewSweepService(st, provider, completionService, 10*time.Minute, time.Hour, 50, logger)
	gcService := service.NewGCService(st, nil, nil, 7*24*time.Hour, true, true, false, logger)

	generationHandler := handler.NewGenerationHandler(generationService, retryService, credit.NewUnlimitedLedger(), 1, validate)
	maintenanceHandler := handler.NewMaintenanceHandler(sweepService, gcService)

	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil, middleware.NewMemoryCounter())

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"suno": false,
				"r2":   false,
				"auth": true,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high limits so tests never trip them.
	gen := api.Group("/generate")
	gen.Post("/", rateLimiter.GenerateLimit(10000), generationHandler.Start)
	gen.Get("/status/:requestId", generationHandler.Status)
	gen.Get("/result/:requestId", generationHandler.Result)
	gen.Post("/retry", rateLimiter.RetryLimit(10000), generationHandler.Retry)

	internal := app.Group("/internal", middleware.InternalAuthMiddleware(testInternalSecret))
	internal.Post("/sweep", maintenanceHandler.Sweep)
	internal.Post("/gc", maintenanceHandler.GC)

	return &testApp{
		app:        app,
		store:      st,
		provider:   provider,
		completion: completionService,
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: testUserID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "musicverse-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
