package kafka

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

const jobsPrefix = "jobs."

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter implements broker.Queue using an injected Writer.
type Adapter struct {
	Writer Writer
}

var _ cbroker.Queue = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer) *Adapter { return &Adapter{Writer: w} }

// Push writes job to jobs.<queue> (or jobs.<service>), keyed by service so
// one service's jobs stay ordered within a partition.
func (a *Adapter) Push(ctx context.Context, job cbroker.Job, opts cbroker.QueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if a.Writer == nil {
		return "", fmt.Errorf("kafka push: %w", berr.ErrEnqueueFailed)
	}

	val, err := mustJSON(job)
	if err != nil {
		return "", fmt.Errorf("kafka push serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	id := uuid.NewString()
	topic := topicForJob(job, opts)
	headers := queueHeaders(id, opts)

	if err = a.Writer.Write(ctx, topic, []byte(job.Service), val, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		// separate return from preceding multi-line block (wsl)
		return "", fmt.Errorf("kafka push write: %w", errors.Join(berr.ErrEnqueueFailed, err))
	}

	return id, nil
}

// helpers

func topicForJob(job cbroker.Job, o cbroker.QueueOptions) string {
	if o.Queue != "" {
		return jobsPrefix + o.Queue
	}

	return jobsPrefix + job.Service
}

func queueHeaders(id string, o cbroker.QueueOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+4)
	for k, v := range o.Headers {
		h[k] = v
	}

	h["x-job-id"] = id

	if o.DelaySeconds > 0 {
		h["x-delay"] = strconv.Itoa(o.DelaySeconds)
	}

	if o.Priority != 0 {
		h["x-priority"] = strconv.Itoa(o.Priority)
	}

	if o.TTRSeconds > 0 {
		h["x-ttr"] = strconv.Itoa(o.TTRSeconds)
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
