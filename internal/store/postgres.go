package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/musicverse/api/internal/model"
)

// PostgresStore implements Store on a pgx connection pool.
//
// Status transitions are enforced in the UPDATE's WHERE clause so that
// concurrent writers race safely: the loser's guard fails and it gets
// ErrInvalidTransition instead of clobbering a terminal state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

const requestColumns = `id, owner_id, provider_task_id, mode, requested_model, effective_model,
	status, prompt, style, title, instrumental, persona_id,
	expected_artifact_count, received_artifact_count, raw_result_payload,
	error_message, created_at, completed_at`

func scanRequest(row pgx.Row) (*model.GenerationRequest, error) {
	var req model.GenerationRequest
	err := row.Scan(
		&req.ID, &req.OwnerID, &req.ProviderTaskID, &req.Mode, &req.RequestedModel,
		&req.EffectiveModel, &req.Status, &req.Prompt, &req.Style, &req.Title,
		&req.Instrumental, &req.PersonaID, &req.ExpectedArtifactCount,
		&req.ReceivedArtifactCount, &req.RawResultPayload, &req.ErrorMessage,
		&req.CreatedAt, &req.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	return &req, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.GenerationRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		req.ID, req.OwnerID, req.ProviderTaskID, req.Mode, req.RequestedModel,
		req.EffectiveModel, req.Status, req.Prompt, req.Style, req.Title,
		req.Instrumental, req.PersonaID, req.ExpectedArtifactCount,
		req.ReceivedArtifactCount, req.RawResultPayload, req.ErrorMessage,
		req.CreatedAt, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.GenerationRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM generation_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *PostgresStore) GetRequestByProviderTask(ctx context.Context, taskID string) (*model.GenerationRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM generation_requests WHERE provider_task_id = $1`, taskID)
	return scanRequest(row)
}

func (s *PostgresStore) SetRequestSubmitted(ctx context.Context, id, providerTaskID, effectiveModel string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests
		SET provider_task_id = $2,
		    effective_model = $3,
		    status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END
		WHERE id = $1`,
		id, providerTaskID, effectiveModel,
	)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// transitionGuard returns the set of statuses the given target may be
// reached from.
func transitionGuard(to model.RequestStatus) []string {
	switch to {
	case model.RequestStatusProcessing:
		return []string{"pending"}
	case model.RequestStatusStreamingReady:
		return []string{"pending", "processing"}
	case model.RequestStatusCompleted:
		return []string{"pending", "processing", "streaming_ready"}
	case model.RequestStatusFailed:
		return []string{"pending", "processing", "streaming_ready"}
	default:
		return nil
	}
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, to model.RequestStatus) error {
	guard := transitionGuard(to)
	if guard == nil {
		return ErrInvalidTransition
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests SET status = $2
		WHERE id = $1 AND status = ANY($3)`,
		id, to, guard,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) MarkRequestFailed(ctx context.Context, id, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = ANY($3)`,
		id, errorMessage, transitionGuard(model.RequestStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) MarkRequestCompleted(ctx context.Context, id string, receivedCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests
		SET status = 'completed',
		    received_artifact_count = GREATEST(received_artifact_count, $2),
		    completed_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		id, receivedCount, transitionGuard(model.RequestStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) SetReceivedCount(ctx context.Context, id string, received int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests
		SET received_artifact_count = GREATEST(received_artifact_count, $2)
		WHERE id = $1`,
		id, received,
	)
	if err != nil {
		return fmt.Errorf("set received count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CacheResultPayload(ctx context.Context, id string, payload json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_requests SET raw_result_payload = $2 WHERE id = $1`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("cache payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStaleRequests(ctx context.Context, olderThan time.Time, limit int) ([]*model.GenerationRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM generation_requests
		WHERE status IN ('pending', 'processing', 'streaming_ready')
		  AND provider_task_id <> ''
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) ListCompletedWithLaggingArtifact(ctx context.Context, limit int) ([]*model.GenerationRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualify(requestColumns, "r")+` FROM generation_requests r
		JOIN artifacts a ON a.request_id = r.id
		WHERE r.status = 'completed'
		  AND a.status NOT IN ('completed', 'failed')
		ORDER BY r.created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list lagging: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*model.GenerationRequest, error) {
	var out []*model.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

const artifactColumns = `id, request_id, owner_id, status, primary_version_id, title,
	duration_seconds, media_urls, error_message, created_at, updated_at`

func scanArtifact(row pgx.Row) (*model.Artifact, error) {
	var a model.Artifact
	var mediaJSON []byte
	err := row.Scan(
		&a.ID, &a.RequestID, &a.OwnerID, &a.Status, &a.PrimaryVersionID,
		&a.Title, &a.DurationSeconds, &mediaJSON, &a.ErrorMessage,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &a.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media urls: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	mediaJSON, err := json.Marshal(a.MediaURLs)
	if err != nil {
		return fmt.Errorf("encode media urls: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.RequestID, a.OwnerID, a.Status, a.PrimaryVersionID, a.Title,
		a.DurationSeconds, mediaJSON, a.ErrorMessage, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	return scanArtifact(row)
}

func (s *PostgresStore) GetArtifactByRequest(ctx context.Context, requestID string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE request_id = $1`, requestID)
	return scanArtifact(row)
}

func (s *PostgresStore) UpdateArtifact(ctx context.Context, a *model.Artifact) error {
	mediaJSON, err := json.Marshal(a.MediaURLs)
	if err != nil {
		return fmt.Errorf("encode media urls: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE artifacts
		SET status = $2, primary_version_id = $3, title = $4,
		    duration_seconds = $5, media_urls = $6, error_message = $7,
		    updated_at = now()
		WHERE id = $1`,
		a.ID, a.Status, a.PrimaryVersionID, a.Title, a.DurationSeconds,
		mediaJSON, a.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateVersionIfAbsent(ctx context.Context, v *model.ArtifactVersion) (bool, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	mediaJSON, err := json.Marshal(v.MediaURLs)
	if err != nil {
		return false, fmt.Errorf("encode media urls: %w", err)
	}
	// The unique index on (artifact_id, label) makes the insert safe under
	// races between webhook and poll delivery of the same clips.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO artifact_versions
			(id, artifact_id, label, clip_index, is_primary, media_urls,
			 duration_seconds, provider_metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (artifact_id, label) DO NOTHING`,
		v.ID, v.ArtifactID, v.Label, v.ClipIndex, v.IsPrimary, mediaJSON,
		v.DurationSeconds, v.ProviderMetadata, v.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert version: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListVersionsByArtifact(ctx context.Context, artifactID string) ([]*model.ArtifactVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, artifact_id, label, clip_index, is_primary, media_urls,
		       duration_seconds, provider_metadata, created_at
		FROM artifact_versions
		WHERE artifact_id = $1
		ORDER BY clip_index ASC`,
		artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*model.ArtifactVersion
	for rows.Next() {
		var v model.ArtifactVersion
		var mediaJSON []byte
		if err := rows.Scan(
			&v.ID, &v.ArtifactID, &v.Label, &v.ClipIndex, &v.IsPrimary,
			&mediaJSON, &v.DurationSeconds, &v.ProviderMetadata, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if len(mediaJSON) > 0 {
			if err := json.Unmarshal(mediaJSON, &v.MediaURLs); err != nil {
				return nil, fmt.Errorf("decode media urls: %w", err)
			}
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetVersionMediaURLs(ctx context.Context, versionID string, urls model.MediaURLs) error {
	mediaJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode media urls: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE artifact_versions SET media_urls = $2 WHERE id = $1`, versionID, mediaJSON)
	if err != nil {
		return fmt.Errorf("update version urls: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendChangeLog(ctx context.Context, entry *model.ChangeLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_log (id, request_id, owner_id, type, source, model, detail, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.RequestID, entry.OwnerID, entry.Type, entry.Source,
		entry.Model, entry.Detail, entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// PurgeFailedRequestsBefore removes expired failed requests together
// with their artifacts; versions cascade when the artifact row goes.
func (s *PostgresStore) PurgeFailedRequestsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM generation_requests
		WHERE status = 'failed' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM artifacts WHERE request_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM generation_requests WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("purge failed requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListOrphanArtifacts(ctx context.Context, limit int) ([]*model.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualify(artifactColumns, "a")+` FROM artifacts a
		LEFT JOIN generation_requests r ON r.id = a.request_id
		WHERE r.id IS NULL
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeChangeLogBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM change_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge change log: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
