package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// Subscription is the part of *nats.Subscription a Source reads from.
type Subscription interface {
	NextMsg(timeout time.Duration) (*nats.Msg, error)
}

// Source implements broker.JobSource over a synchronous NATS subscription.
// Core NATS has no acknowledgements, so Complete only forgets the job.
type Source struct {
	sub  Subscription
	wait time.Duration
}

// Ensure Source implements the job source contract.
var _ cbroker.JobSource = (*Source)(nil)

// NewSource reads jobs from sub, waiting up to wait for each one.
func NewSource(sub Subscription, wait time.Duration) *Source {
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	return &Source{sub: sub, wait: wait}
}

// Reserve returns the next job, or errors.ErrQueueEmpty when none arrives in time.
func (s *Source) Reserve(ctx context.Context) (cbroker.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return cbroker.Delivery{}, err
	}

	msg, err := s.sub.NextMsg(s.wait)
	if errors.Is(err, nats.ErrTimeout) {
		return cbroker.Delivery{}, berr.ErrQueueEmpty
	}

	if err != nil {
		return cbroker.Delivery{}, fmt.Errorf("nats reserve: %w", err)
	}

	return decodeDelivery(msg)
}

// Complete is a no-op for core NATS.
func (s *Source) Complete(context.Context, string, error) error { return nil }

func decodeDelivery(msg *nats.Msg) (cbroker.Delivery, error) {
	var job cbroker.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return cbroker.Delivery{}, fmt.Errorf("nats reserve decode: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	d := cbroker.Delivery{
		ID:      msg.Header.Get(HeaderJobID),
		Job:     job,
		Attempt: 1,
		Options: cbroker.QueueOptions{Headers: map[string]string{}},
	}

	for k := range msg.Header {
		d.Options.Headers[k] = msg.Header.Get(k)
	}

	d.Options.DelaySeconds, _ = strconv.Atoi(msg.Header.Get(HeaderDelay))
	d.Options.Priority, _ = strconv.Atoi(msg.Header.Get(HeaderPriority))
	d.Options.TTRSeconds, _ = strconv.Atoi(msg.Header.Get(HeaderTTR))

	return d, nil
}
