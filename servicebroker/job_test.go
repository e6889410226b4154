package servicebroker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-service-broker/adapters/inmemory"
	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/events"
	"github.com/next-trace/scg-service-broker/servicebroker"
)

// directory answers User.getIdentity with a fresh identity per username.
type directory struct{}

func (directory) GetIdentity(_ context.Context, p cbroker.Params) (any, error) {
	name := p.String("username")
	return cbroker.Identity{"username": name, "roles": []any{"member"}, "resolved": true}, nil
}

type recorder struct {
	identities []cbroker.Identity
	contexts   []string
	queued     []bool
}

func (r *recorder) Handle(_ context.Context, cmd *cbroker.Command) (any, error) {
	r.identities = append(r.identities, cmd.Identity)
	r.contexts = append(r.contexts, cmd.Context)
	r.queued = append(r.queued, cmd.Queued())

	if cmd.Operation == "explode" {
		return nil, errors.New("exploded")
	}

	return "sent", nil
}

func TestQueue_RequiresIdentity(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t, servicebroker.WithQueue("default", q), servicebroker.WithDefaultQueue("default"))

	_, err := b.Queue(t.Context(), cbroker.NewCommand("Mailer", "send", nil), cbroker.QueueOptions{})
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}

	if len(q.Jobs()) != 0 {
		t.Fatalf("nothing should be pushed")
	}
}

func TestQueue_UnknownQueue(t *testing.T) {
	b := newBroker(t)

	cmd := cbroker.NewCommand("Mailer", "send", nil)
	cmd.Identity = cbroker.Identity{"username": "ann"}

	_, err := b.Queue(t.Context(), cmd, cbroker.QueueOptions{Queue: "missing"})
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

type failingQueue struct{}

func (failingQueue) Push(context.Context, cbroker.Job, cbroker.QueueOptions) (string, error) {
	return "", errors.New("broker down")
}

func TestQueue_PushFailure(t *testing.T) {
	b := newBroker(t, servicebroker.WithQueue("q", failingQueue{}))

	cmd := cbroker.NewCommand("Mailer", "send", nil)
	cmd.Identity = cbroker.Identity{"username": "ann"}

	_, err := b.Queue(t.Context(), cmd, cbroker.QueueOptions{Queue: "q"})
	if !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("want enqueue failed, got %v", err)
	}
}

func TestQueue_PayloadUsesDefaultIdentityAndContext(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t,
		servicebroker.WithQueue("mail", q),
		servicebroker.WithDefaultQueue("mail"),
		servicebroker.WithDefaultContext(cbroker.ContextCLI),
	)

	if err := b.Register("identity", servicebroker.IdentityService, cbroker.ListenerFunc(
		func(context.Context, *cbroker.Command) (any, error) {
			return map[string]any{"username": "system"}, nil
		}), 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	id, err := b.Queue(t.Context(), cbroker.NewCommand("Mailer", "send", cbroker.NewParams("to", "bob")), cbroker.QueueOptions{Priority: 5})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	jobs := q.Jobs()
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("jobs=%+v", jobs)
	}

	job := jobs[0].Job
	if job.Context != cbroker.ContextCLI || job.Service != "Mailer" || job.Operation != "send" {
		t.Fatalf("job=%+v", job)
	}

	if job.Identity.Username() != "system" || job.Params.String("to") != "bob" {
		t.Fatalf("job=%+v", job)
	}

	if jobs[0].Options.Queue != "mail" || jobs[0].Options.Priority != 5 || jobs[0].Options.Headers == nil {
		t.Fatalf("options=%+v", jobs[0].Options)
	}
}

func TestWorker_SyncAndQueued(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t, servicebroker.WithQueue("mail", q))
	rec := &recorder{}

	if err := b.Register("mailer", "Mailer", rec, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := b.Service("Mailer").
		Context(cbroker.ContextCLI).
		Identity(cbroker.Identity{"username": "ann"}).
		Args(cbroker.NewParams("to", "bob")).
		Exec(t.Context(), "send")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if res.Queued() || res.Responses.First() != "sent" {
		t.Fatalf("result=%+v", res)
	}

	if rec.contexts[0] != cbroker.ContextCLI || rec.identities[0].Username() != "ann" {
		t.Fatalf("recorded %v %v", rec.contexts, rec.identities)
	}

	res, err = b.Service("Mailer").
		Identity(cbroker.Identity{"username": "ann"}).
		Queue(3).
		On("mail").
		Delay(2 * time.Second).
		TTR(time.Minute).
		Exec(t.Context(), "send")
	if err != nil {
		t.Fatalf("exec queued: %v", err)
	}

	if !res.Queued() || res.Responses != nil {
		t.Fatalf("result=%+v", res)
	}

	opts := q.Jobs()[0].Options
	if opts.Priority != 3 || opts.DelaySeconds != 2 || opts.TTRSeconds != 60 {
		t.Fatalf("options=%+v", opts)
	}

	if len(rec.contexts) != 1 {
		t.Fatalf("queued call must not run synchronously")
	}
}

func TestWorker_SubSecondDurationsRoundUp(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t, servicebroker.WithQueue("mail", q))

	if err := b.Register("mailer", "Mailer", &recorder{}, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	cases := []struct {
		delay, ttr        time.Duration
		wantDelay, wantTTR int
	}{
		{delay: 500 * time.Millisecond, ttr: 1500 * time.Millisecond, wantDelay: 1, wantTTR: 2},
		{delay: 0, ttr: time.Nanosecond, wantDelay: 0, wantTTR: 1},
		{delay: -time.Second, ttr: 3 * time.Second, wantDelay: 0, wantTTR: 3},
	}

	for i, c := range cases {
		_, err := b.Service("Mailer").
			Identity(cbroker.Identity{"username": "ann"}).
			Queue(1).
			On("mail").
			Delay(c.delay).
			TTR(c.ttr).
			Exec(t.Context(), "send")
		if err != nil {
			t.Fatalf("case %d: exec: %v", i, err)
		}

		opts := q.Jobs()[i].Options
		if opts.DelaySeconds != c.wantDelay || opts.TTRSeconds != c.wantTTR {
			t.Fatalf("case %d: options=%+v", i, opts)
		}
	}
}

func TestJobRunner_ReResolvesIdentityAndEmitsJobEvents(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t, servicebroker.WithQueue("default", q), servicebroker.WithDefaultQueue("default"))
	rec := &recorder{}

	if err := b.Register("users", servicebroker.UserService, directory{}, 1); err != nil {
		t.Fatalf("register users: %v", err)
	}

	if err := b.Register("mailer", "Mailer", rec, 1); err != nil {
		t.Fatalf("register mailer: %v", err)
	}

	var lifecycle []string

	for _, name := range []string{events.JobStart, "init.mailer.send", "final.mailer.send", events.JobEnd} {
		b.Events().AttachFunc(name, func(_ context.Context, e *events.Event) (any, error) {
			lifecycle = append(lifecycle, e.Name)
			return nil, nil
		}, 1)
	}

	stale := cbroker.Identity{"username": "ann", "roles": []any{"admin"}}
	cmd := cbroker.NewCommand("Mailer", "send", cbroker.NewParams("to", "bob"))
	cmd.Identity = stale
	cmd.Context = cbroker.ContextHTTPPost

	if _, err := b.Queue(t.Context(), cmd, cbroker.QueueOptions{}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	runner := servicebroker.NewJobRunner(b, nil)

	n, err := runner.Consume(t.Context(), q)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if n != 1 {
		t.Fatalf("consumed=%d", n)
	}

	want, err := servicebroker.ServiceIdentityResolver{Broker: b}.ResolveIdentity(t.Context(), "ann")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got := rec.identities[0]
	if got.Username() != want.Username() || got["resolved"] != true || len(got) != len(want) {
		t.Fatalf("identity=%v want %v", got, want)
	}

	if !rec.queued[0] || rec.contexts[0] != cbroker.ContextHTTPPost {
		t.Fatalf("queued=%v contexts=%v", rec.queued, rec.contexts)
	}

	wantOrder := []string{events.JobStart, "init.mailer.send", "final.mailer.send", events.JobEnd}
	if len(lifecycle) != len(wantOrder) {
		t.Fatalf("lifecycle=%v", lifecycle)
	}

	for i := range wantOrder {
		if lifecycle[i] != wantOrder[i] {
			t.Fatalf("lifecycle=%v", lifecycle)
		}
	}
}

func TestJobRunner_JobEndSeesAndClearsError(t *testing.T) {
	q := inmemory.New()
	b := newBroker(t, servicebroker.WithQueue("default", q), servicebroker.WithDefaultQueue("default"),
		servicebroker.WithIdentityResolver(servicebroker.IdentityResolverFunc(
			func(_ context.Context, username string) (cbroker.Identity, error) {
				return cbroker.Identity{"username": username}, nil
			})))

	if err := b.Register("mailer", "Mailer", &recorder{}, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	var seen error

	b.Events().AttachFunc(events.JobEnd, func(_ context.Context, e *events.Event) (any, error) {
		seen = e.Err()
		e.SetError(nil)

		return nil, nil
	}, 1)

	cmd := cbroker.NewCommand("Mailer", "explode", nil)
	cmd.Identity = cbroker.Identity{"username": "ann"}

	id, err := b.Queue(t.Context(), cmd, cbroker.QueueOptions{TTRSeconds: 5})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	if _, err := servicebroker.NewJobRunner(b, nil).Consume(t.Context(), q); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if seen == nil || seen.Error() != "exploded" {
		t.Fatalf("job.end saw %v", seen)
	}

	if q.Err(id) != nil {
		t.Fatalf("cleared error must not fail the job: %v", q.Err(id))
	}
}

func TestJobRunner_ResolverFailure(t *testing.T) {
	b := newBroker(t)
	runner := servicebroker.NewJobRunner(b, nil)

	_, err := runner.Run(t.Context(), cbroker.Job{
		Service:   "Mailer",
		Operation: "send",
		Identity:  cbroker.Identity{"username": "ann"},
	})
	if !errors.Is(err, berr.ErrServiceNotFound) {
		t.Fatalf("want service not found from the User lookup, got %v", err)
	}
}
