package inmemory_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-service-broker/adapters/inmemory"
	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

func job(op string) cbroker.Job {
	return cbroker.Job{Service: "Users", Operation: op, Identity: cbroker.Identity{"username": "ann"}}
}

func TestInmemory_PushAndReserve_PriorityThenFIFO(t *testing.T) {
	q := inmemory.New()

	for _, tc := range []struct {
		op   string
		prio int
	}{{"low", 1}, {"high-1", 10}, {"high-2", 10}} {
		id, err := q.Push(t.Context(), job(tc.op), cbroker.QueueOptions{Priority: tc.prio})
		if err != nil {
			t.Fatalf("push: %v", err)
		}

		if id == "" {
			t.Fatal("expected job id")
		}
	}

	var got []string

	for {
		d, err := q.Reserve(t.Context())
		if errors.Is(err, berr.ErrQueueEmpty) {
			break
		}

		if err != nil {
			t.Fatalf("reserve: %v", err)
		}

		if d.Attempt != 1 {
			t.Fatalf("attempt=%d", d.Attempt)
		}

		got = append(got, d.Job.Operation)
	}

	want := []string{"high-1", "high-2", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v", got)
		}
	}
}

func TestInmemory_DelayAndComplete(t *testing.T) {
	q := inmemory.New()
	now := time.Unix(1000, 0)
	q.SetClock(func() time.Time { return now })

	id, err := q.Push(t.Context(), job("later"), cbroker.QueueOptions{DelaySeconds: 30})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if _, err := q.Reserve(t.Context()); !errors.Is(err, berr.ErrQueueEmpty) {
		t.Fatalf("expected empty queue before delay, got %v", err)
	}

	now = now.Add(31 * time.Second)

	d, err := q.Reserve(t.Context())
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if d.ID != id {
		t.Fatalf("id=%s want %s", d.ID, id)
	}

	boom := errors.New("boom")
	if err := q.Complete(t.Context(), id, boom); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !errors.Is(q.Err(id), boom) {
		t.Fatalf("err=%v", q.Err(id))
	}

	if c := q.Completed(); len(c) != 1 || c[0] != id {
		t.Fatalf("completed=%v", c)
	}
}

func TestInmemory_ConcurrentSafety(t *testing.T) {
	q := inmemory.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = q.Push(t.Context(), job("c"), cbroker.QueueOptions{})
		}()
	}

	wg.Wait()

	if n := len(q.Jobs()); n != 50 {
		t.Fatalf("jobs=%d", n)
	}

	if q.Pending() != 50 {
		t.Fatalf("pending=%d", q.Pending())
	}
}
