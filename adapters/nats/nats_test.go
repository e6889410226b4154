package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/next-trace/scg-service-broker/adapters/nats"
	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

type fakeClient struct {
	calls []struct {
		subject string
		data    []byte
		headers map[string]string
	}
	err error
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.calls = append(f.calls, struct {
		subject string
		data    []byte
		headers map[string]string
	}{subject, data, headers})

	return f.err
}

func sampleJob() cbroker.Job {
	return cbroker.Job{
		Context:   cbroker.ContextCLI,
		Service:   "Mailer",
		Operation: "send",
		Params:    cbroker.NewParams("to", "bob"),
		Identity:  cbroker.Identity{"username": "ann"},
	}
}

func TestNATS_Push(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	qo := cbroker.QueueOptions{Queue: "mail", DelaySeconds: 3, Priority: 7, TTRSeconds: 30, Headers: map[string]string{"h1": "v1"}}

	id, err := ad.Push(t.Context(), sampleJob(), qo)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(fc.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fc.calls))
	}

	c := fc.calls[0]
	if c.subject != "jobs.mail" {
		t.Fatalf("subject mismatch: %s", c.subject)
	}

	if c.headers["h1"] != "v1" || c.headers["x-delay"] != "3" || c.headers["x-priority"] != "7" || c.headers["x-ttr"] != "30" {
		t.Fatalf("headers missing or wrong: %+v", c.headers)
	}

	if c.headers[nats.HeaderJobID] != id || id == "" {
		t.Fatalf("job id header %q, returned %q", c.headers[nats.HeaderJobID], id)
	}

	var got cbroker.Job
	if err := json.Unmarshal(c.data, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if got.Service != "Mailer" || got.Params.String("to") != "bob" || got.Identity.Username() != "ann" {
		t.Fatalf("body=%+v", got)
	}
}

func TestNATS_SubjectDefaultsToService(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	if _, err := ad.Push(t.Context(), sampleJob(), cbroker.QueueOptions{}); err != nil {
		t.Fatalf("push: %v", err)
	}

	if fc.calls[0].subject != "jobs.Mailer" {
		t.Fatalf("subject=%v", fc.calls[0].subject)
	}
}

func TestNATS_NilClientError(t *testing.T) {
	ad := nats.New(nil)

	if _, err := ad.Push(t.Context(), sampleJob(), cbroker.QueueOptions{}); !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("expected enqueue error for nil client, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	// client returns generic error -> should wrap
	fc := &fakeClient{err: errors.New("boom")}
	ad := nats.New(fc)

	_, err := ad.Push(t.Context(), sampleJob(), cbroker.QueueOptions{})
	if !errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	// client returns context.Canceled -> propagate as-is
	ad2 := nats.New(&fakeClient{err: context.Canceled})

	_, err = ad2.Push(t.Context(), sampleJob(), cbroker.QueueOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if errors.Is(err, berr.ErrEnqueueFailed) {
		t.Fatalf("cancellation must not be wrapped: %v", err)
	}
}

func TestNATS_Serialization_Error(t *testing.T) {
	ad := nats.New(&fakeClient{})

	job := sampleJob()
	job.Params = cbroker.NewParams("ch", make(chan int))

	_, err := ad.Push(t.Context(), job, cbroker.QueueOptions{})
	if !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}
