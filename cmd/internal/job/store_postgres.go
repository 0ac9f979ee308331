package job

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model: the pgx pool belongs to the caller; Close is a no-op.
// Schema (managed outside this process):
//
//	CREATE TABLE jobs (
//	    id          BIGSERIAL PRIMARY KEY,
//	    submitter   TEXT NOT NULL,
//	    type        TEXT NOT NULL,
//	    source      TEXT NOT NULL,
//	    status      TEXT,
//	    destination TEXT,
//	    metadata    TEXT NOT NULL DEFAULT '',
//	    task_id     TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    finished_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed job store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("job: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const jobColumns = `id, submitter, type, source, status, destination, metadata, task_id, created_at, finished_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Submitter, &j.Type, &j.Source,
		&j.Status, &j.Destination, &j.Metadata, &j.TaskID,
		&j.CreatedAt, &j.FinishedAt,
	)
	return j, err
}

// Create inserts a job row and returns it with id and created_at filled in.
func (s *PostgresStore) Create(ctx context.Context, in NewJob) (Job, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (submitter, type, source, destination, metadata, task_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+jobColumns,
		in.Submitter, in.Type, in.Source, in.Destination, in.Metadata, in.TaskID,
	)
	return scanJob(row)
}

// GetByID fetches one job.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListBySubmitter returns the submitter's jobs, newest first.
func (s *PostgresStore) ListBySubmitter(ctx context.Context, submitter string, offset, limit int64) ([]Job, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE submitter = $1
		 ORDER BY id DESC
		 OFFSET $2 LIMIT $3`,
		submitter, offset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountBySubmitter returns how many jobs the submitter owns.
func (s *PostgresStore) CountBySubmitter(ctx context.Context, submitter string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE submitter = $1`, submitter,
	).Scan(&n)
	return n, err
}

// Finish records a terminal status for a job.
func (s *PostgresStore) Finish(ctx context.Context, id int64, status string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, finished_at = $3 WHERE id = $1`,
		id, status, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
