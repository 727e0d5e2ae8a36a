package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

// fakeProvider scripts provider behavior per model name and records
// every submit call.
type fakeProvider struct {
	mu          sync.Mutex
	submitCalls []string // model names in call order
	submitErrs  map[string]error
	nextTaskID  int
	pollResults map[string]*client.GenerationPayload
	pollErr     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		submitErrs:  make(map[string]error),
		pollResults: make(map[string]*client.GenerationPayload),
	}
}

func (f *fakeProvider) Submit(_ context.Context, req *client.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls = append(f.submitCalls, req.Model)
	if err, ok := f.submitErrs[req.Model]; ok && err != nil {
		return "", err
	}
	f.nextTaskID++
	return fmt.Sprintf("task-%d", f.nextTaskID), nil
}

func (f *fakeProvider) Poll(_ context.Context, taskID string) (*client.GenerationPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if p, ok := f.pollResults[taskID]; ok {
		return p, nil
	}
	return &client.GenerationPayload{TaskID: taskID, Stage: client.StageProcessing}, nil
}

func (f *fakeProvider) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitCalls...)
}

func retriableErr(code int) error {
	return &client.ProviderError{Category: client.CategoryBackendFailure, Code: code, Message: "backend down"}
}

// fakeBlobStore records copies and deletes and can be told to fail.
type fakeBlobStore struct {
	mu      sync.Mutex
	copies  map[string]string // key -> source url
	deletes []string
	fail    bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{copies: make(map[string]string)}
}

func (f *fakeBlobStore) CopyFromURL(_ context.Context, key, sourceURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("copy failed")
	}
	f.copies[key] = sourceURL
	return "https://r2.example.com/" + key, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.copies, key)
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeBlobStore) GetPublicURL(key string) string {
	return "https://r2.example.com/" + key
}

// recordingBroadcaster captures websocket broadcasts.
type recordingBroadcaster struct {
	mu       sync.Mutex
	statuses []model.RequestStatus
}

func (r *recordingBroadcaster) BroadcastStatus(_ string, status model.RequestStatus, _, _ int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

// fixture wires a full service stack over the in-memory store.
type fixture struct {
	store       *store.MemoryStore
	provider    *fakeProvider
	blobs       *fakeBlobStore
	broadcaster *recordingBroadcaster
	generation  *GenerationService
	completion  *CompletionService
}

func newFixture() *fixture {
	st := store.NewMemoryStore()
	provider := newFakeProvider()
	blobs := newFakeBlobStore()
	broadcaster := &recordingBroadcaster{}
	completion := NewCompletionService(st, blobs, broadcaster, nil, zerolog.Nop())
	generation := NewGenerationService(st, provider, 2, zerolog.Nop())
	return &fixture{
		store:       st,
		provider:    provider,
		blobs:       blobs,
		broadcaster: broadcaster,
		generation:  generation,
		completion:  completion,
	}
}

func completePayload(taskID string, clips int) *client.GenerationPayload {
	p := &client.GenerationPayload{TaskID: taskID, Stage: client.StageComplete}
	for i := 0; i < clips; i++ {
		p.Clips = append(p.Clips, client.Clip{
			ID:       fmt.Sprintf("%s-clip-%d", taskID, i),
			Title:    "Test Track",
			Duration: 120,
			AudioURL: fmt.Sprintf("https://cdn.example.com/%s-%d.mp3", taskID, i),
		})
	}
	return p
}
