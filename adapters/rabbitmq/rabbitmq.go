package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

const (
	jobsExchange   = "jobs"
	jobsExchangeTy = "direct"

	maxPriority = 9
)

// PubMsg is one AMQP publish.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Priority   uint8
	Body       []byte
	Headers    map[string]string
}

// Publisher sends PubMsgs to the broker.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter implements broker.Queue on top of a Publisher.
type Adapter struct {
	Publisher  Publisher
	Propagator cbroker.HeaderPropagator // optional, for context propagation into headers
}

var _ cbroker.Queue = (*Adapter)(nil)

// New returns an Adapter publishing through p.
func New(p Publisher) *Adapter { return &Adapter{Publisher: p} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbroker.HeaderPropagator) *Adapter {
	return &Adapter{Publisher: p, Propagator: hp}
}

// Push publishes job to the jobs exchange, routed by queue name or, without
// one, by service name.
func (a *Adapter) Push(ctx context.Context, job cbroker.Job, opts cbroker.QueueOptions) (string, error) {
	if err := a.ready(ctx, berr.ErrEnqueueFailed, "push"); err != nil {
		return "", err
	}

	id := uuid.NewString()

	sa := &serializeArgs{
		routingKey: routingForJob(job, opts),
		messageID:  id,
		priority:   clampPriority(opts.Priority),
		payload:    job,
		headers:    queueHeaders(opts),
		serr:       berr.ErrSerializationFailed,
		wrap:       berr.ErrEnqueueFailed,
		label:      "push",
	}

	if err := a.serializeAndPublish(ctx, sa); err != nil {
		return "", err
	}

	return id, nil
}

func routingForJob(job cbroker.Job, o cbroker.QueueOptions) string {
	if o.Queue != "" {
		return o.Queue
	}

	return job.Service
}

func clampPriority(p int) uint8 {
	switch {
	case p < 0:
		return 0
	case p > maxPriority:
		return maxPriority
	default:
		return uint8(p)
	}
}

func queueHeaders(o cbroker.QueueOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+2)
	for k, v := range o.Headers {
		h[k] = v
	}

	if o.DelaySeconds > 0 {
		h["x-delay"] = strconv.Itoa(o.DelaySeconds * 1000)
	}

	if o.TTRSeconds > 0 {
		h["x-ttr"] = strconv.Itoa(o.TTRSeconds)
	}

	return h
}

// internal helpers (serialization + publishing)

type serializeArgs struct {
	routingKey string
	messageID  string
	priority   uint8
	payload    any
	headers    map[string]string
	serr       error
	wrap       error
	label      string
}

type publishArgs struct {
	exchange   string
	routingKey string
	messageID  string
	priority   uint8
	body       []byte
	headers    map[string]string
	wrap       error
	label      string
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, base)
	}

	return nil
}

func (a *Adapter) serializeAndPublish(ctx context.Context, sa *serializeArgs) error {
	body, err := mustJSON(sa.payload)
	if err != nil {
		return fmt.Errorf("rabbitmq %s serialize: %w", sa.label, errors.Join(sa.serr, err))
	}

	args := &publishArgs{
		exchange:   jobsExchange,
		routingKey: sa.routingKey,
		messageID:  sa.messageID,
		priority:   sa.priority,
		body:       body,
		headers:    sa.headers,
		wrap:       sa.wrap,
		label:      sa.label,
	}

	return a.publish(ctx, args)
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(args.headers)+4)
	for k, v := range args.headers {
		hdrs[k] = v
	}

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:   args.exchange,
		RoutingKey: args.routingKey,
		MessageID:  args.messageID,
		Priority:   args.priority,
		Body:       args.body,
		Headers:    hdrs,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s publish: %w", args.label, errors.Join(args.wrap, err))
	}

	return nil
}

func mustJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return b, nil
}

func publishing(m PubMsg, mode uint8) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode: mode,
		MessageId:    m.MessageID,
		Priority:     m.Priority,
		Headers:      h,
		ContentType:  "application/json",
		Body:         m.Body,
	}
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Transient))
}

// NewWithAMQPChannel publishes on an existing channel. The jobs exchange
// must already be declared.
func NewWithAMQPChannel(ch *amqp.Channel) *Adapter {
	return &Adapter{Publisher: amqpChannelPublisher{ch: ch}}
}
