package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Config describes the AMQP connection used by NewWithAMQPConn.
type Config struct {
	URL         string
	ConnTimeout time.Duration

	// Queues are declared durable with x-max-priority and bound to the jobs
	// exchange under their own name on every connect.
	Queues []string

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger *slog.Logger
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: rabbitmq url required", berr.ErrConfiguration)
	}

	for _, q := range c.Queues {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("%w: rabbitmq queue name must not be blank", berr.ErrConfiguration)
		}
	}

	if c.MinBackoff > 0 && c.MaxBackoff > 0 && c.MinBackoff > c.MaxBackoff {
		return fmt.Errorf("%w: rabbitmq min backoff exceeds max backoff", berr.ErrConfiguration)
	}

	return nil
}

// declarer is the part of *amqp.Channel that sets up the job topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// queueArgs enables broker-side priorities up to the range clampPriority
// produces.
func queueArgs() amqp.Table {
	return amqp.Table{"x-max-priority": int32(maxPriority)}
}

// declareTopology declares the jobs exchange and, for each queue, a durable
// priority queue bound to it under the queue's name.
func declareTopology(d declarer, queues []string) error {
	if err := d.ExchangeDeclare(jobsExchange, jobsExchangeTy, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", jobsExchange, err)
	}

	for _, q := range queues {
		if _, err := d.QueueDeclare(q, true, false, false, false, queueArgs()); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}

		if err := d.QueueBind(q, q, jobsExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}

	return nil
}

// backoff returns the wait before reconnect attempt n (0-based): doubling
// from lo, capped at hi, plus up to a quarter of jitter.
func backoff(n int, lo, hi time.Duration) time.Duration {
	d := lo
	for range n {
		if d >= hi/2 {
			d = hi
			break
		}

		d *= 2
	}

	if d > hi {
		d = hi
	}

	if q := int64(d / 4); q > 0 {
		d += time.Duration(rand.Int64N(q)) //nolint:gosec // jitter only
	}

	if d > hi {
		d = hi
	}

	return d
}

// session is one live connection with a confirm-mode channel.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

// jobLink keeps a session to RabbitMQ, redialling and redeclaring the job
// topology whenever the connection drops. Publishes wait for a session and
// for the broker's confirm.
type jobLink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *session
	up      chan struct{} // closed while current is set

	done      chan struct{}
	closeOnce sync.Once
}

func newJobLink(cfg Config) *jobLink {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}

	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &jobLink{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rabbitmq")),
		up:     make(chan struct{}),
		done:   make(chan struct{}),
	}

	go l.maintain()

	return l
}

func (l *jobLink) dial() (*session, error) {
	conn, err := amqp.DialConfig(l.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-service-broker"},
		Dial:       amqp.DefaultDial(l.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &session{conn: conn, ch: ch}

	if err := declareTopology(ch, l.cfg.Queues); err != nil {
		s.close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		s.close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	return s, nil
}

func (l *jobLink) maintain() {
	for attempt := 0; ; {
		s, err := l.dial()
		if err != nil {
			wait := backoff(attempt, l.cfg.MinBackoff, l.cfg.MaxBackoff)
			attempt++

			l.logger.Warn("rabbitmq connect failed",
				slog.Any("error", err), slog.Int("attempt", attempt), slog.Duration("retry_in", wait))

			t := time.NewTimer(wait)
			select {
			case <-l.done:
				t.Stop()
				return
			case <-t.C:
			}

			continue
		}

		attempt = 0
		lost := s.conn.NotifyClose(make(chan *amqp.Error, 1))

		if !l.attach(s) {
			s.close()
			return
		}

		l.logger.Info("rabbitmq connected", slog.Int("queues", len(l.cfg.Queues)))

		select {
		case <-l.done:
			return
		case amqpErr := <-lost:
			l.detach(s)
			s.close()
			l.logger.Warn("rabbitmq connection lost", slog.Any("error", amqpErr))
		}
	}
}

// attach publishes s as the current session; false once the link is closed.
func (l *jobLink) attach(s *session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return false
	default:
	}

	l.current = s
	close(l.up)

	return true
}

func (l *jobLink) detach(s *session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == s {
		l.current = nil
		l.up = make(chan struct{})
	}
}

// session waits until a session is available, ctx ends, or the link closes.
func (l *jobLink) session(ctx context.Context) (*session, error) {
	for {
		l.mu.Lock()
		s, up := l.current, l.up
		l.mu.Unlock()

		if s != nil {
			return s, nil
		}

		select {
		case <-up:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.done:
			return nil, fmt.Errorf("%w: rabbitmq link closed", berr.ErrEnqueueFailed)
		}
	}
}

// Publish sends m persistently and waits for the broker to confirm it.
func (l *jobLink) Publish(ctx context.Context, m PubMsg) error {
	s, err := l.session(ctx)
	if err != nil {
		return err
	}

	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Persistent))
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}

	if !acked {
		return errors.New("message nacked by broker")
	}

	return nil
}

func (l *jobLink) close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		close(l.done)

		if l.current != nil {
			l.current.close()
			l.current = nil
		}
	})
}

// NewWithAMQPConn connects to RabbitMQ in the background, declaring the jobs
// exchange and cfg.Queues on every (re)connect. Pushes block until connected
// or ctx ends. The returned cleanup closes the connection.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	link := newJobLink(cfg)

	return New(link), link.close, nil
}
