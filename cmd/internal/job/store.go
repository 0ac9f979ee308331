// Package job owns the build-job table and the redis queue the external
// synthesis workers consume.
package job

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job: not found")

// Job is one submitted build. Status and Destination stay nil until a worker
// finishes; Destination is then the object-store key of the bitstream.
type Job struct {
	ID          int64      `json:"id"`
	Submitter   string     `json:"submitter"`
	Type        string     `json:"type"`
	Source      string     `json:"source"`
	Status      *string    `json:"status"`
	Destination *string    `json:"destination"`
	Metadata    string     `json:"metadata"`
	TaskID      *string    `json:"task_id"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

// Done reports whether the job has completed with an artifact to program.
func (j *Job) Done() bool {
	return j != nil && j.Status != nil && j.Destination != nil
}

// NewJob is the creation payload; the store allocates ID and CreatedAt.
type NewJob struct {
	Submitter   string
	Type        string
	Source      string
	Destination *string
	Metadata    string
	TaskID      *string
}

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, in NewJob) (Job, error)
	GetByID(ctx context.Context, id int64) (Job, error)
	ListBySubmitter(ctx context.Context, submitter string, offset, limit int64) ([]Job, error)
	CountBySubmitter(ctx context.Context, submitter string) (int64, error)
	Finish(ctx context.Context, id int64, status string, now time.Time) error
	Close() error
}
