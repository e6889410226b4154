package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

const jobPrefix = "jobs."

// Job headers set on every published message.
const (
	HeaderJobID    = "x-job-id"
	HeaderDelay    = "x-delay"
	HeaderPriority = "x-priority"
	HeaderTTR      = "x-ttr"
)

// Client is a minimal NATS-like publisher interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
}

// Adapter implements broker.Queue using an injected NATS-like Client.
type Adapter struct {
	Client Client
}

// Ensure Adapter implements the queue contract.
var _ cbroker.Queue = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c} }

// Push publishes job on jobs.<queue>, or jobs.<service> without a queue name.
func (a *Adapter) Push(ctx context.Context, job cbroker.Job, opts cbroker.QueueOptions) (string, error) {
	id := uuid.NewString()

	sa := &serializeArgs{
		subject: subjectForJob(job, opts),
		payload: job,
		headers: queueHeaders(id, opts),
		serr:    berr.ErrSerializationFailed,
		wrap:    berr.ErrEnqueueFailed,
		label:   "push",
	}

	if err := a.buildAndSend(ctx, sa); err != nil {
		return "", err
	}

	return id, nil
}

func (a *Adapter) buildAndSend(ctx context.Context, sa *serializeArgs) error {
	if err := a.ready(ctx, sa.wrap, sa.label); err != nil {
		return err
	}

	return a.serializeAndPublish(ctx, sa)
}

type publishArgs struct {
	subject string
	body    []byte
	headers map[string]string
	wrap    error
	label   string
}

func (a *Adapter) publish(_ context.Context, args *publishArgs) error {
	if err := a.Client.Publish(args.subject, args.body, args.headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s publish: %w", args.label, errors.Join(args.wrap, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

type serializeArgs struct {
	subject string
	payload any
	headers map[string]string
	serr    error
	wrap    error
	label   string
}

func (a *Adapter) serializeAndPublish(ctx context.Context, sa *serializeArgs) error {
	body, err := mustJSON(sa.payload)
	if err != nil {
		return fmt.Errorf("nats %s serialize: %w", sa.label, errors.Join(sa.serr, err))
	}

	args := &publishArgs{
		subject: sa.subject,
		body:    body,
		headers: sa.headers,
		wrap:    sa.wrap,
		label:   sa.label,
	}

	return a.publish(ctx, args)
}

// helpers

func subjectForJob(job cbroker.Job, o cbroker.QueueOptions) string {
	if o.Queue != "" {
		return jobPrefix + o.Queue
	}

	return jobPrefix + job.Service
}

func queueHeaders(id string, o cbroker.QueueOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+4)
	for k, v := range o.Headers {
		h[k] = v
	}

	h[HeaderJobID] = id

	if o.DelaySeconds > 0 {
		h[HeaderDelay] = strconv.Itoa(o.DelaySeconds)
	}

	if o.Priority != 0 {
		h[HeaderPriority] = strconv.Itoa(o.Priority)
	}

	if o.TTRSeconds > 0 {
		h[HeaderTTR] = strconv.Itoa(o.TTRSeconds)
	}

	return h
}

func mustJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return b, nil
}
