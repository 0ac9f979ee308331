package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task is the payload pushed onto the redis build queue for the external
// synthesis workers. Workers move a task from the waiting list to the
// working list while building (BRPOPLPUSH on their side).
type Task struct {
	ID          string `json:"id"`
	Src         string `json:"src"`
	Dst         string `json:"dst"`
	SubmittedAt int64  `json:"submitted_at"`
}

// Queue submits build tasks and repairs the working list when a worker dies
// mid-build.
type Queue struct {
	log     *slog.Logger
	rdb     *redis.Client
	waiting string
	working string
}

// NewQueue constructs a Queue over an existing redis client.
func NewQueue(log *slog.Logger, rdb *redis.Client, waiting, working string) (*Queue, error) {
	if rdb == nil {
		return nil, errors.New("job: nil redis client")
	}
	if waiting == "" || working == "" {
		return nil, errors.New("job: empty queue name")
	}
	return &Queue{log: log, rdb: rdb, waiting: waiting, working: working}, nil
}

// SubmitBuild pushes a task onto the waiting list.
func (q *Queue) SubmitBuild(ctx context.Context, t Task) error {
	if t.SubmittedAt == 0 {
		t.SubmittedAt = time.Now().Unix()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.waiting, raw).Err(); err != nil {
		return err
	}
	q.log.Info("job.task.submit", "task_id", t.ID, "queue", q.waiting)
	return nil
}

// RequeueStale moves tasks that have sat on the working list longer than
// maxAge back to the waiting list. A worker that died mid-build leaves its
// task stranded there; this is the repair path.
func (q *Queue) RequeueStale(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := q.rdb.LRange(ctx, q.working, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	requeued := 0

	for _, raw := range entries {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// Unparseable entries are removed rather than requeued forever.
			_ = q.rdb.LRem(ctx, q.working, 1, raw).Err()
			q.log.Warn("job.task.drop_malformed", "queue", q.working)
			continue
		}
		if t.SubmittedAt > cutoff {
			continue
		}

		removed, err := q.rdb.LRem(ctx, q.working, 1, raw).Result()
		if err != nil {
			return requeued, err
		}
		if removed == 0 {
			// A worker finished it between LRANGE and LREM.
			continue
		}

		t.SubmittedAt = time.Now().Unix()
		fresh, err := json.Marshal(t)
		if err != nil {
			return requeued, err
		}
		if err := q.rdb.LPush(ctx, q.waiting, fresh).Err(); err != nil {
			return requeued, err
		}
		requeued++
		q.log.Info("job.task.requeue", "task_id", t.ID)
	}

	return requeued, nil
}

// MonitorStale runs the requeue sweep on a fixed cadence until ctx is done.
func (q *Queue) MonitorStale(ctx context.Context, interval, maxAge time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.RequeueStale(ctx, maxAge); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn("job.task.requeue.fail", "err", err)
			}
		}
	}
}
