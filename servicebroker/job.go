package servicebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// JobRunner executes queued jobs against a broker. Identities are resolved
// again by username rather than trusted from the payload.
type JobRunner struct {
	broker   *Broker
	resolver IdentityResolver
	logger   *slog.Logger
}

// NewJobRunner returns a runner for b. A nil resolver uses the broker's.
func NewJobRunner(b *Broker, resolver IdentityResolver) *JobRunner {
	if resolver == nil {
		resolver = b.resolver
	}

	return &JobRunner{
		broker:   b,
		resolver: resolver,
		logger:   b.logger.With(slog.String("component", "jobrunner")),
	}
}

// Run dispatches job synchronously as a queue-originated command.
func (r *JobRunner) Run(ctx context.Context, job cbroker.Job) (*cbroker.Responses, error) {
	var identity cbroker.Identity

	if username := job.Identity.Username(); username != "" {
		id, err := r.resolver.ResolveIdentity(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("run %s.%s: %w", job.Service, job.Operation, err)
		}

		identity = id
	}

	cmd := cbroker.NewCommand(job.Service, job.Operation, job.Params)
	cmd.Context = job.Context
	cmd.Identity = identity
	cmd.SetQueued(true)

	return r.broker.Dispatch(ctx, cmd, nil)
}

// Consume reserves and runs jobs from src until it is empty or ctx is done.
// It returns how many jobs were completed.
func (r *JobRunner) Consume(ctx context.Context, src cbroker.JobSource) (int, error) {
	done := 0

	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		d, err := src.Reserve(ctx)
		if errors.Is(err, berr.ErrQueueEmpty) {
			return done, nil
		}

		if err != nil {
			return done, fmt.Errorf("reserve: %w", err)
		}

		runErr := r.runDelivery(ctx, d)
		if runErr != nil {
			r.logger.WarnContext(ctx, "job failed",
				slog.String("job_id", d.ID),
				slog.String("service", d.Job.Service),
				slog.String("operation", d.Job.Operation),
				slog.Int("attempt", d.Attempt),
				slog.Any("error", runErr),
			)
		}

		if err := src.Complete(ctx, d.ID, runErr); err != nil {
			return done, fmt.Errorf("complete %s: %w", d.ID, err)
		}

		done++
	}
}

func (r *JobRunner) runDelivery(ctx context.Context, d cbroker.Delivery) error {
	if ex, ok := r.broker.propagator.(cbroker.HeaderExtractor); ok && len(d.Options.Headers) > 0 {
		ctx = ex.Extract(ctx, d.Options.Headers)
	}

	if d.Options.TTRSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.Options.TTRSeconds)*time.Second)
		defer cancel()
	}

	_, err := r.Run(ctx, d.Job)

	return err
}
