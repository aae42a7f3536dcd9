package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT        NOT NULL,
	version     BIGINT      NOT NULL,
	snapshot    JSONB       NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);`

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// JobRepository stores job snapshots so the registry can be restored after a restart.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// persistedJob carries the fields entity.Job hides from its public JSON form.
type persistedJob struct {
	*entity.Job
	RemoveSource bool `json:"remove_source,omitempty"`
}

// Save upserts the snapshot. Older versions never overwrite newer ones, so
// out-of-order writes from concurrent mutations are harmless.
func (r *JobRepository) Save(ctx context.Context, job *entity.Job) error {
	snapshot, err := json.Marshal(persistedJob{Job: job, RemoveSource: job.RemoveSource})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	const q = `
INSERT INTO transcription_jobs (id, status, version, snapshot, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET status=EXCLUDED.status, version=EXCLUDED.version, snapshot=EXCLUDED.snapshot, updated_at=EXCLUDED.updated_at
WHERE transcription_jobs.version < EXCLUDED.version;
`
	_, err = r.pool.Exec(ctx, q, job.ID, string(job.Status), int64(job.Version), snapshot, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *JobRepository) LoadAll(ctx context.Context) ([]*entity.Job, error) {
	const q = `SELECT snapshot FROM transcription_jobs ORDER BY created_at;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		job, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM transcription_jobs WHERE id=$1;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job")
	}
	return nil
}

func decodeSnapshot(raw []byte) (*entity.Job, error) {
	p := persistedJob{Job: &entity.Job{}}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	p.Job.RemoveSource = p.RemoveSource
	return p.Job, nil
}
