// Package transport owns the NATS connection and the JetStream work queue
// the daemon consumes events from.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/rtgb/fermentd/internal/config"
	"github.com/rtgb/fermentd/internal/event"
	"github.com/rtgb/fermentd/internal/log"
	"github.com/rtgb/fermentd/internal/tlsutil"
)

// fetchMaxWait bounds a single pull so the consume loop can observe
// context cancellation between fetches.
const fetchMaxWait = 5 * time.Second

// Connect dials the NATS server, with mutual TLS when the configuration
// carries certificate material.
func Connect(cfg config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("fermentd"),
		nats.MaxReconnects(-1),
	}
	if cfg.TLSEnabled() {
		tlsCfg, err := tlsutil.Load(cfg.TLSCAFile, cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls material: %w", err)
		}
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(cfg.NATSURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.NATSURL(), err)
	}
	return nc, nil
}

// Queue is a durable pull consumer on a work-queue stream. Stream and
// consumer are created at boot if absent, so the daemon can start against
// an empty server.
type Queue struct {
	consumer jetstream.Consumer
	log      zerolog.Logger
}

// NewQueue ensures the stream and durable consumer exist and returns a
// queue ready to pull from. MaxAckPending of one keeps processing strictly
// sequential even if multiple replicas ever share the durable.
func NewQueue(ctx context.Context, nc *nats.Conn, cfg config.Config) (*Queue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Subjects,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        cfg.DurableName,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxAckPending:  1,
		FilterSubjects: cfg.Subjects,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", cfg.DurableName, err)
	}

	q := &Queue{consumer: consumer, log: log.WithComponent("transport")}
	q.log.Info().
		Str("stream", cfg.StreamName).
		Strs("subjects", cfg.Subjects).
		Str("durable", cfg.DurableName).
		Msg("work queue ready")
	return q, nil
}

// Next pulls the next message, waiting up to fetchMaxWait. It returns nil
// with no error when the wait elapses without a message.
func (q *Queue) Next(ctx context.Context) (*event.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(fetchMaxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	for msg := range batch.Messages() {
		return &event.Delivery{Body: msg.Data(), Ack: msg.Ack}, nil
	}
	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	return nil, nil
}
