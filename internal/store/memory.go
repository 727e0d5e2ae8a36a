package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/musicverse/api/internal/model"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and local
// development. It enforces the same transition and uniqueness rules as the
// Postgres implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*model.GenerationRequest
	byTask    map[string]string // providerTaskID -> requestID
	artifacts map[string]*model.Artifact
	byRequest map[string]string // requestID -> artifactID
	versions  map[string]*model.ArtifactVersion
	changeLog []*model.ChangeLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*model.GenerationRequest),
		byTask:    make(map[string]string),
		artifacts: make(map[string]*model.Artifact),
		byRequest: make(map[string]string),
		versions:  make(map[string]*model.ArtifactVersion),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, req *model.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return ErrDuplicate
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) GetRequestByProviderTask(_ context.Context, taskID string) (*model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.requests[id]
	return &cp, nil
}

func (s *MemoryStore) SetRequestSubmitted(_ context.Context, id, providerTaskID, effectiveModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.ProviderTaskID = providerTaskID
	req.EffectiveModel = effectiveModel
	if model.CanTransition(req.Status, model.RequestStatusProcessing) {
		req.Status = model.RequestStatusProcessing
	}
	s.byTask[providerTaskID] = id
	return nil
}

func (s *MemoryStore) UpdateRequestStatus(_ context.Context, id string, to model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !model.CanTransition(req.Status, to) {
		return ErrInvalidTransition
	}
	req.Status = to
	return nil
}

func (s *MemoryStore) MarkRequestFailed(_ context.Context, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !model.CanTransition(req.Status, model.RequestStatusFailed) {
		return ErrInvalidTransition
	}
	req.Status = model.RequestStatusFailed
	req.ErrorMessage = errorMessage
	return nil
}

func (s *MemoryStore) MarkRequestCompleted(_ context.Context, id string, receivedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !model.CanTransition(req.Status, model.RequestStatusCompleted) {
		return ErrInvalidTransition
	}
	req.Status = model.RequestStatusCompleted
	if receivedCount > req.ReceivedArtifactCount {
		req.ReceivedArtifactCount = receivedCount
	}
	now := time.Now()
	req.CompletedAt = &now
	return nil
}

func (s *MemoryStore) SetReceivedCount(_ context.Context, id string, received int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if received > req.ReceivedArtifactCount {
		req.ReceivedArtifactCount = received
	}
	return nil
}

func (s *MemoryStore) CacheResultPayload(_ context.Context, id string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.RawResultPayload = append(json.RawMessage(nil), payload...)
	return nil
}

func (s *MemoryStore) ListStaleRequests(_ context.Context, olderThan time.Time, limit int) ([]*model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GenerationRequest
	for _, req := range s.requests {
		if req.Status.IsTerminal() || req.ProviderTaskID == "" {
			continue
		}
		if req.CreatedAt.Before(olderThan) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sortRequests(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListCompletedWithLaggingArtifact(_ context.Context, limit int) ([]*model.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.GenerationRequest
	for _, req := range s.requests {
		if req.Status != model.RequestStatusCompleted {
			continue
		}
		artID, ok := s.byRequest[req.ID]
		if !ok {
			continue
		}
		art := s.artifacts[artID]
		if art.Status == model.ArtifactStatusCompleted || art.Status == model.ArtifactStatusFailed {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sortRequests(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortRequests(reqs []*model.GenerationRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

func (s *MemoryStore) CreateArtifact(_ context.Context, a *model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[a.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.artifacts[a.ID] = &cp
	if a.RequestID != "" {
		s.byRequest[a.RequestID] = a.ID
	}
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, id string) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetArtifactByRequest(_ context.Context, requestID string) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRequest[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.artifacts[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateArtifact(_ context.Context, a *model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	s.artifacts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateVersionIfAbsent(_ context.Context, v *model.ArtifactVersion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		if existing.ArtifactID == v.ArtifactID && existing.Label == v.Label {
			return false, nil
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := *v
	s.versions[v.ID] = &cp
	return true, nil
}

func (s *MemoryStore) ListVersionsByArtifact(_ context.Context, artifactID string) ([]*model.ArtifactVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ArtifactVersion
	for _, v := range s.versions {
		if v.ArtifactID == artifactID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClipIndex < out[j].ClipIndex
	})
	return out, nil
}

func (s *MemoryStore) SetVersionMediaURLs(_ context.Context, versionID string, urls model.MediaURLs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return ErrNotFound
	}
	v.MediaURLs = urls
	return nil
}

func (s *MemoryStore) AppendChangeLog(_ context.Context, entry *model.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	cp := *entry
	s.changeLog = append(s.changeLog, &cp)
	return nil
}

// DeleteRequestForTest removes a request row without touching its
// artifact. Test helper.
func (s *MemoryStore) DeleteRequestForTest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[id]; ok {
		if req.ProviderTaskID != "" {
			delete(s.byTask, req.ProviderTaskID)
		}
		delete(s.requests, id)
	}
}

// Requests returns every stored request. Test helper.
func (s *MemoryStore) Requests() []*model.GenerationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.GenerationRequest, 0, len(s.requests))
	for _, req := range s.requests {
		cp := *req
		out = append(out, &cp)
	}
	sortRequests(out)
	return out
}

// ChangeLogByRequest returns audit entries for one request. Test helper.
func (s *MemoryStore) ChangeLogByRequest(requestID string) []*model.ChangeLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ChangeLogEntry
	for _, e := range s.changeLog {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (s *MemoryStore) PurgeFailedRequestsBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, req := range s.requests {
		if limit > 0 && purged >= limit {
			break
		}
		if req.Status != model.RequestStatusFailed || !req.CreatedAt.Before(cutoff) {
			continue
		}
		if artID, ok := s.byRequest[id]; ok {
			delete(s.artifacts, artID)
			delete(s.byRequest, id)
			for vid, v := range s.versions {
				if v.ArtifactID == artID {
					delete(s.versions, vid)
				}
			}
		}
		if req.ProviderTaskID != "" {
			delete(s.byTask, req.ProviderTaskID)
		}
		delete(s.requests, id)
		purged++
	}
	return purged, nil
}

func (s *MemoryStore) ListOrphanArtifacts(_ context.Context, limit int) ([]*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Artifact
	for _, a := range s.artifacts {
		if limit > 0 && len(out) >= limit {
			break
		}
		if _, ok := s.requests[a.RequestID]; !ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteArtifact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byRequest, a.RequestID)
	for vid, v := range s.versions {
		if v.ArtifactID == id {
			delete(s.versions, vid)
		}
	}
	delete(s.artifacts, id)
	return nil
}

func (s *MemoryStore) PurgeChangeLogBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.changeLog[:0]
	purged := 0
	for _, e := range s.changeLog {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.changeLog = kept
	return purged, nil
}
