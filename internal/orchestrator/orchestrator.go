// Package orchestrator runs the event loop tying the transport to the
// scheduler and the executor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rtgb/fermentd/internal/domain"
	"github.com/rtgb/fermentd/internal/event"
	"github.com/rtgb/fermentd/internal/log"
	"github.com/rtgb/fermentd/internal/metrics"
)

// Source yields inbound deliveries. A nil delivery with a nil error means
// the poll timed out and the loop should try again.
type Source interface {
	Next(ctx context.Context) (*event.Delivery, error)
}

// Scheduler expands schedule messages into persisted command plans.
type Scheduler interface {
	Schedule(ctx context.Context, data domain.ScheduleData) (int64, error)
}

// Executor advances the command plan from tracking samples.
type Executor interface {
	Process(ctx context.Context, tracking domain.TrackingData) error
}

// Orchestrator consumes deliveries one at a time and routes them by
// message type. Every delivery is acknowledged regardless of outcome:
// schedules and samples are superseded by later traffic, so redelivering
// a failed message would only replay stale state.
type Orchestrator struct {
	source    Source
	scheduler Scheduler
	executor  Executor
	log       zerolog.Logger
}

// New wires the loop to its source and processors.
func New(source Source, scheduler Scheduler, executor Executor) *Orchestrator {
	return &Orchestrator{
		source:    source,
		scheduler: scheduler,
		executor:  executor,
		log:       log.WithComponent("orchestrator"),
	}
}

// Run processes deliveries until the context is cancelled. Processing
// errors are logged and counted, never fatal; only cancellation ends the
// loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info().Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("event loop stopped")
			return nil
		default:
		}

		delivery, err := o.source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.log.Info().Msg("event loop stopped")
				return nil
			}
			o.log.Error().Err(err).Msg("fetch delivery")
			// Avoid a hot loop while the transport is unhealthy.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		o.handle(ctx, delivery)
	}
}

func (o *Orchestrator) handle(ctx context.Context, delivery *event.Delivery) {
	msgType, err := o.process(ctx, delivery.Body)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		o.log.Error().Err(err).Str("type", msgType).Msg("process message")
	}
	metrics.MessagesProcessed.WithLabelValues(msgType, outcome).Inc()

	if err := delivery.Ack(); err != nil {
		o.log.Error().Err(err).Msg("ack delivery")
	}
}

// process decodes and routes one payload, returning the message type label
// for instrumentation.
func (o *Orchestrator) process(ctx context.Context, body []byte) (string, error) {
	msg, err := event.Decode(body)
	if err != nil {
		return "unknown", err
	}

	switch data := msg.Data.(type) {
	case domain.ScheduleData:
		count, err := o.scheduler.Schedule(ctx, data)
		if err != nil {
			return "schedule", err
		}
		metrics.CommandsScheduled.Add(float64(count))
		return "schedule", nil
	case domain.TrackingData:
		return "tracking", o.executor.Process(ctx, data)
	default:
		return "unknown", fmt.Errorf("unhandled message data %T", msg.Data)
	}
}
