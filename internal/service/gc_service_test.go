package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

func newGC(f *fixture, purgeFailed, purgeOrphans bool) *GCService {
	return NewGCService(f.store, nil, f.blobs, 7*24*time.Hour, purgeFailed, purgeOrphans, false, zerolog.Nop())
}

func TestCollectPurgesOldFailedRequests(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	oldFailed := failOne(t, f)
	backdate(t, f, oldFailed, 8*24*time.Hour)
	oldArtifact, err := f.store.GetArtifactByRequest(ctx, oldFailed)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	recentFailed := failOne(t, f)
	liveID, _, _ := startOne(t, f)

	report, err := newGC(f, true, false).Collect(ctx)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if report.RequestsPurged != 1 {
		t.Errorf("expected 1 purged, got %d", report.RequestsPurged)
	}

	if _, err := f.store.GetRequest(ctx, oldFailed); err != store.ErrNotFound {
		t.Error("old failed request survived the purge")
	}
	if _, err := f.store.GetArtifact(ctx, oldArtifact.ID); err != store.ErrNotFound {
		t.Error("purged request's artifact survived")
	}
	if _, err := f.store.GetRequest(ctx, recentFailed); err != nil {
		t.Error("recent failed request was purged too early")
	}
	if _, err := f.store.GetRequest(ctx, liveID); err != nil {
		t.Error("live request was purged")
	}
}

func TestCollectDeletesOrphanArtifacts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, keptArtifact, _ := startOne(t, f)
	orphanedReq, orphanArtifact, _ := startOne(t, f)
	// Drop the request row, stranding its artifact.
	f.store.DeleteRequestForTest(orphanedReq)

	report, err := newGC(f, false, true).Collect(ctx)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if report.OrphansDeleted != 1 {
		t.Errorf("expected 1 orphan deleted, got %d", report.OrphansDeleted)
	}

	if _, err := f.store.GetArtifact(ctx, orphanArtifact); err != store.ErrNotFound {
		t.Error("orphan artifact survived")
	}
	if _, err := f.store.GetArtifact(ctx, keptArtifact); err != nil {
		t.Error("owned artifact was deleted")
	}
}

// Deleting an orphan also drops the durable audio copies its versions
// accumulated.
func TestCollectDeletesOrphanBlobs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	requestID, _, taskID := startOne(t, f)
	if err := f.completion.HandleResult(ctx, requestID, completePayload(taskID, 2), model.SourceCallback); err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	f.store.DeleteRequestForTest(requestID)

	report, err := newGC(f, false, true).Collect(ctx)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if report.OrphansDeleted != 1 {
		t.Errorf("expected 1 orphan deleted, got %d", report.OrphansDeleted)
	}

	f.blobs.mu.Lock()
	defer f.blobs.mu.Unlock()
	if len(f.blobs.deletes) != 2 {
		t.Errorf("expected 2 blob deletes, got %v", f.blobs.deletes)
	}
	if len(f.blobs.copies) != 0 {
		t.Errorf("copied blobs survived the orphan delete: %v", f.blobs.copies)
	}
}

func TestCollectRespectsToggles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	oldFailed := failOne(t, f)
	backdate(t, f, oldFailed, 8*24*time.Hour)
	orphanedReq, _, _ := startOne(t, f)
	f.store.DeleteRequestForTest(orphanedReq)

	report, err := newGC(f, false, false).Collect(ctx)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if report.RequestsPurged != 0 || report.OrphansDeleted != 0 {
		t.Errorf("disabled steps still ran: %+v", report)
	}
	if _, err := f.store.GetRequest(ctx, oldFailed); err != nil {
		t.Error("request purged with purge step disabled")
	}
}

func TestCollectNeverPurgesCompleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	requestID, _, taskID := startOne(t, f)
	if err := f.completion.HandleResult(ctx, requestID, completePayload(taskID, 2), model.SourceCallback); err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	backdate(t, f, requestID, 30*24*time.Hour)

	report, err := newGC(f, true, false).Collect(ctx)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if report.RequestsPurged != 0 {
		t.Errorf("completed request purged: %+v", report)
	}
	if _, err := f.store.GetRequest(ctx, requestID); err != nil {
		t.Error("completed request missing after gc")
	}
}
