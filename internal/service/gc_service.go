package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/model"
	"github.com/musicverse/api/internal/store"
)

const gcBatchLimit = 500

// GCService removes data past its useful life: failed requests older
// than the retention window, artifacts whose request is gone, and
// rate-limit counters that lost their expiry. Each step can be toggled
// off independently and a failing step never blocks the next.
type GCService struct {
	store          store.Store
	redis          *redis.Client
	blobs          client.BlobStore
	retention      time.Duration
	purgeFailed    bool
	purgeOrphans   bool
	expireCounters bool
	logger         zerolog.Logger
}

func NewGCService(st store.Store, redisClient *redis.Client, blobs client.BlobStore, retention time.Duration, purgeFailed, purgeOrphans, expireCounters bool, logger zerolog.Logger) *GCService {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &GCService{
		store:          st,
		redis:          redisClient,
		blobs:          blobs,
		retention:      retention,
		purgeFailed:    purgeFailed,
		purgeOrphans:   purgeOrphans,
		expireCounters: expireCounters,
		logger:         logger.With().Str("component", "gc").Logger(),
	}
}

// Collect runs all enabled steps and returns aggregate counts.
func (s *GCService) Collect(ctx context.Context) (*model.GCReport, error) {
	report := &model.GCReport{}
	cutoff := time.Now().Add(-s.retention)

	if s.purgeFailed {
		purged, err := s.store.PurgeFailedRequestsBefore(ctx, cutoff, gcBatchLimit)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed request purge errored")
			report.Errors++
		} else {
			report.RequestsPurged = purged
		}
		if _, err := s.store.PurgeChangeLogBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("change log purge errored")
			report.Errors++
		}
	}

	if s.purgeOrphans {
		orphans, err := s.store.ListOrphanArtifacts(ctx, gcBatchLimit)
		if err != nil {
			s.logger.Error().Err(err).Msg("orphan listing errored")
			report.Errors++
		} else {
			for _, a := range orphans {
				s.deleteBlobs(ctx, a.ID)
				if err := s.store.DeleteArtifact(ctx, a.ID); err != nil {
					s.logger.Warn().Err(err).Str("artifactId", a.ID).Msg("orphan delete failed")
					report.Errors++
					continue
				}
				report.OrphansDeleted++
			}
		}
	}

	if s.expireCounters && s.redis != nil {
		expired, err := s.expireStuckCounters(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("counter expiry errored")
			report.Errors++
		} else {
			report.CountersExpired = expired
		}
	}

	s.logger.Info().
		Int("requestsPurged", report.RequestsPurged).
		Int("orphansDeleted", report.OrphansDeleted).
		Int("countersExpired", report.CountersExpired).
		Int("errors", report.Errors).
		Msg("gc finished")
	return report, nil
}

// deleteBlobs removes the durable audio copies of an artifact's versions
// before the rows go. Best effort: a missed blob costs storage, not
// correctness.
func (s *GCService) deleteBlobs(ctx context.Context, artifactID string) {
	if s.blobs == nil {
		return
	}
	versions, err := s.store.ListVersionsByArtifact(ctx, artifactID)
	if err != nil {
		s.logger.Warn().Err(err).Str("artifactId", artifactID).Msg("version listing for blob cleanup failed")
		return
	}
	for _, v := range versions {
		if v.MediaURLs.PermanentURL == "" {
			continue
		}
		key := blobKey(artifactID, v.Label)
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("blob delete failed")
		}
	}
}

// expireStuckCounters deletes rate-limit keys that have no TTL. The
// limiter sets the expiry in a second call after INCR, so a crash
// between the two leaves the key counting forever.
func (s *GCService) expireStuckCounters(ctx context.Context) (int, error) {
	var cursor uint64
	expired := 0
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, "ratelimit:*", 100).Result()
		if err != nil {
			return expired, err
		}
		for _, key := range keys {
			ttl, err := s.redis.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			if ttl == -1 {
				if err := s.redis.Del(ctx, key).Err(); err == nil {
					expired++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return expired, nil
}
