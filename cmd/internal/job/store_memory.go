package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the dev/test fallback when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]Job
}

// NewMemoryStore constructs an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]Job)}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Create inserts a job and allocates its id.
func (s *MemoryStore) Create(ctx context.Context, in NewJob) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	j := Job{
		ID:          s.nextID,
		Submitter:   in.Submitter,
		Type:        in.Type,
		Source:      in.Source,
		Destination: in.Destination,
		Metadata:    in.Metadata,
		TaskID:      in.TaskID,
		CreatedAt:   time.Now().UTC(),
	}
	s.jobs[j.ID] = j
	return j, nil
}

// GetByID fetches one job.
func (s *MemoryStore) GetByID(ctx context.Context, id int64) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

// ListBySubmitter returns the submitter's jobs, newest first.
func (s *MemoryStore) ListBySubmitter(ctx context.Context, submitter string, offset, limit int64) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	all := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Submitter == submitter {
			all = append(all, j)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, k int) bool { return all[i].ID > all[k].ID })

	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(all)) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < int64(len(all)) {
		all = all[:limit]
	}
	return all, nil
}

// CountBySubmitter returns how many jobs the submitter owns.
func (s *MemoryStore) CountBySubmitter(ctx context.Context, submitter string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.Submitter == submitter {
			n++
		}
	}
	return n, nil
}

// Finish records a terminal status for a job.
func (s *MemoryStore) Finish(ctx context.Context, id int64, status string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = &status
	j.FinishedAt = &now
	s.jobs[id] = j
	return nil
}
