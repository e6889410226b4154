// Package memory wires a broker to an in-process queue, for tests and
// single-binary deployments.
package memory

import (
	"context"

	"github.com/next-trace/scg-service-broker/adapters/inmemory"
	"github.com/next-trace/scg-service-broker/servicebroker"
)

// QueueName is the name the in-memory queue is registered under.
const QueueName = "default"

// Broker is a servicebroker.Broker whose default queue is drained in-process.
type Broker struct {
	*servicebroker.Broker

	Jobs   *inmemory.Queue
	runner *servicebroker.JobRunner
}

// New constructs a broker backed by the in-memory queue along with a cleanup
// function that closes it. opts are applied after the queue wiring.
func New(opts ...servicebroker.Option) (*Broker, func(), error) {
	q := inmemory.New()

	all := append([]servicebroker.Option{
		servicebroker.WithQueue(QueueName, q),
		servicebroker.WithDefaultQueue(QueueName),
	}, opts...)

	b, err := servicebroker.New(all...)
	if err != nil {
		return nil, nil, err
	}

	mb := &Broker{Broker: b, Jobs: q, runner: servicebroker.NewJobRunner(b, nil)}
	cleanup := func() { _ = b.Close() }

	return mb, cleanup, nil
}

// Drain runs every ready job and returns how many completed.
func (b *Broker) Drain(ctx context.Context) (int, error) {
	return b.runner.Consume(ctx, b.Jobs)
}
