package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	dest := "obj-key-1"
	created, err := s.Create(ctx, NewJob{
		Submitter:   "alice",
		Type:        "build",
		Source:      "entity top is ...",
		Destination: &dest,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Fatalf("id/created_at not allocated: %+v", created)
	}
	if created.Done() {
		t.Fatalf("fresh job must not be done")
	}

	if _, err := s.GetByID(ctx, created.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing job returned err=%v, want ErrNotFound", err)
	}

	if err := s.Finish(ctx, created.ID, "success", time.Now().UTC()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := s.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Done() || *got.Status != "success" {
		t.Fatalf("finished job not done: %+v", got)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		if _, err := s.Create(ctx, NewJob{Submitter: "alice", Type: "build"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := s.Create(ctx, NewJob{Submitter: "bob", Type: "build"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	jobs, err := s.ListBySubmitter(ctx, "alice", 1, 2)
	if err != nil {
		t.Fatalf("ListBySubmitter: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("listed %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID < jobs[1].ID {
		t.Fatalf("list not newest-first: %+v", jobs)
	}

	n, err := s.CountBySubmitter(ctx, "alice")
	if err != nil {
		t.Fatalf("CountBySubmitter: %v", err)
	}
	if n != 5 {
		t.Fatalf("count=%d, want 5", n)
	}
}

func TestMemoryStoreListClampsNegativeWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, NewJob{Submitter: "alice", Type: "build"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// Query parameters arrive from the HTTP layer unvalidated; a negative
	// offset must behave like zero instead of slicing out of range.
	jobs, err := s.ListBySubmitter(ctx, "alice", -1, 2)
	if err != nil {
		t.Fatalf("ListBySubmitter: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("listed %d jobs, want 2", len(jobs))
	}

	all, err := s.ListBySubmitter(ctx, "alice", -5, -1)
	if err != nil {
		t.Fatalf("ListBySubmitter: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d jobs, want all 3", len(all))
	}
}
