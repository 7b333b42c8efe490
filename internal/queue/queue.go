// internal/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/pool"
)

// Dispatcher enqueues indexing work. Delivery is at-least-once.
type Dispatcher interface {
	DispatchFetch(ctx context.Context, job FetchJob) error
	DispatchPersist(ctx context.Context, job PersistJob) error
}

// Handler processes one message payload. A returned error is logged and the message is
// handed back to the stream for redelivery, subject to the consumer's MaxDeliver.
type Handler func(ctx context.Context, data []byte) error

// defaultAckWait is the server's ack wait when a consumer does not set one.
const defaultAckWait = 30 * time.Second

type Options struct {
	MaxDeliver int
	// AckWait is how long the server waits for an ack before redelivering. Handlers
	// extend it while they run.
	AckWait time.Duration
}

// JetStream is a Dispatcher backed by a NATS JetStream work-queue stream.
type JetStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	opts   Options
	logger *slog.Logger

	embeddedServer *server.Server
}

var _ Dispatcher = (*JetStream)(nil)

// Connect connects to an external NATS server with JetStream enabled.
func Connect(ctx context.Context, url string, opts Options, logger *slog.Logger) (*JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("github-commit-indexer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	q, err := newJetStream(ctx, nc, opts, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

// NewEmbedded starts an in-process NATS server persisting JetStream data under storeDir
// and connects to it.
func NewEmbedded(ctx context.Context, storeDir string, opts Options, logger *slog.Logger) (*JetStream, error) {
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  storeDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to start embedded nats server")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	q, err := newJetStream(ctx, nc, opts, logger)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, err
	}
	q.embeddedServer = ns
	return q, nil
}

func newJetStream(ctx context.Context, nc *nats.Conn, opts Options, logger *slog.Logger) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectFetch, SubjectPersist},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream stream: %w", err)
	}

	return &JetStream{
		conn:   nc,
		js:     js,
		stream: stream,
		opts:   opts,
		logger: logger,
	}, nil
}

func (q *JetStream) DispatchFetch(ctx context.Context, job FetchJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return q.publish(ctx, SubjectFetch, job)
}

func (q *JetStream) DispatchPersist(ctx context.Context, job PersistJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return q.publish(ctx, SubjectPersist, job)
}

func (q *JetStream) publish(ctx context.Context, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", subject, err)
	}
	_, err = q.js.Publish(ctx, subject, payload,
		jetstream.WithRetryWait(100*time.Millisecond),
		jetstream.WithRetryAttempts(10),
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to jetstream: %w", err)
	}
	return nil
}

// Consumer is a running durable consumer.
type Consumer struct {
	cc   jetstream.ConsumeContext
	pool *pool.Pool
}

// Stop stops fetching new messages and waits for in-flight handlers to return.
func (c *Consumer) Stop() {
	c.cc.Stop()
	c.pool.Wait()
}

// Consume attaches the durable consumer name to subject and runs handler for every message
// on at most concurrency goroutines.
func (q *JetStream) Consume(ctx context.Context, subject, name string, concurrency int, handler Handler) (*Consumer, error) {
	c, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subject,
		AckWait:       q.opts.AckWait,
		MaxDeliver:    q.opts.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", name, err)
	}

	if concurrency < 1 {
		concurrency = 1
	}
	p := pool.New().WithMaxGoroutines(concurrency)
	cc, err := c.Consume(func(msg jetstream.Msg) {
		p.Go(func() {
			q.handle(ctx, name, msg, handler)
		})
	}, jetstream.PullMaxMessages(concurrency))
	if err != nil {
		return nil, fmt.Errorf("failed to start msg consumer: %w", err)
	}

	return &Consumer{cc: cc, pool: p}, nil
}

func (q *JetStream) handle(ctx context.Context, name string, msg jetstream.Msg, handler Handler) {
	logger := q.logger.With("consumer", name, "subject", msg.Subject())
	if meta, err := msg.Metadata(); err == nil {
		logger = logger.With("delivery", meta.NumDelivered)
	}

	stop := q.keepAlive(msg, logger)
	err := handler(ctx, msg.Data())
	stop()

	if err != nil {
		logger.Error("Error handling message", "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			logger.Error("Failed to nak message", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		logger.Error("Failed to ack message", "error", err)
	}
}

// keepAlive tells the server msg is still being worked on every half AckWait, so a handler
// running longer than AckWait is not redelivered to another worker. The returned func
// stops the heartbeat and returns once it has.
func (q *JetStream) keepAlive(msg jetstream.Msg, logger *slog.Logger) func() {
	interval := q.opts.AckWait / 2
	if interval <= 0 {
		interval = defaultAckWait / 2
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					logger.Warn("Failed to extend ack deadline", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// Close closes the connection and stops the embedded server, if any.
func (q *JetStream) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
	if q.embeddedServer != nil {
		q.embeddedServer.Shutdown()
		q.embeddedServer.WaitForShutdown()
	}
}
