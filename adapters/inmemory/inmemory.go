package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// Queue is a thread-safe in-memory implementation of broker.Queue and
// broker.JobSource. It records pushed jobs for testing and examples.
type Queue struct {
	mu      sync.Mutex
	pending []entry
	pushed  []cbroker.Delivery
	results map[string]error
	seq     uint64
	now     func() time.Time
}

type entry struct {
	delivery cbroker.Delivery
	readyAt  time.Time
	seq      uint64
}

// Ensure Queue implements the contracts.
var (
	_ cbroker.Queue     = (*Queue)(nil)
	_ cbroker.JobSource = (*Queue)(nil)
)

// New creates a new in-memory queue.
func New() *Queue {
	return &Queue{results: make(map[string]error), now: time.Now}
}

// Push records job and makes it available to Reserve once its delay passed.
func (q *Queue) Push(ctx context.Context, job cbroker.Job, opts cbroker.QueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d := cbroker.Delivery{ID: uuid.NewString(), Job: job, Options: opts}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.pending = append(q.pending, entry{
		delivery: d,
		readyAt:  q.now().Add(time.Duration(opts.DelaySeconds) * time.Second),
		seq:      q.seq,
	})
	q.pushed = append(q.pushed, d)

	return d.ID, nil
}

// Reserve hands out the ready job with the highest priority, oldest first.
// It returns errors.ErrQueueEmpty when no job is ready.
func (q *Queue) Reserve(ctx context.Context) (cbroker.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return cbroker.Delivery{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	best := -1

	for i, e := range q.pending {
		if e.readyAt.After(now) {
			continue
		}

		if best < 0 || e.delivery.Options.Priority > q.pending[best].delivery.Options.Priority {
			best = i
		}
	}

	if best < 0 {
		return cbroker.Delivery{}, berr.ErrQueueEmpty
	}

	e := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	e.delivery.Attempt++

	return e.delivery, nil
}

// Complete records the outcome of a reserved job.
func (q *Queue) Complete(_ context.Context, id string, runErr error) error {
	q.mu.Lock()
	q.results[id] = runErr
	q.mu.Unlock()

	return nil
}

// Jobs returns every pushed delivery in push order.
func (q *Queue) Jobs() []cbroker.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]cbroker.Delivery(nil), q.pushed...)
}

// Pending returns how many jobs wait to be reserved.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Err returns the run error recorded for id, nil when it succeeded or has
// not completed.
func (q *Queue) Err(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.results[id]
}

// Completed returns the ids of completed jobs, sorted.
func (q *Queue) Completed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, len(q.results))
	for id := range q.results {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// SetClock replaces the clock used for delays.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}
