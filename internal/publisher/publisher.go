// Package publisher turns hardware actions into device topic messages.
package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rtgb/fermentd/internal/domain"
	"github.com/rtgb/fermentd/internal/log"
	"github.com/rtgb/fermentd/internal/metrics"
)

// Smart plugs switch their relay on the bare payloads "on" and "off".
const (
	payloadOn  = "on"
	payloadOff = "off"
)

// Conn is the outbound side of the transport connection.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes actuation orders on per-device topics. The topic is
// rendered from a template carrying {model} and {deviceid} placeholders,
// e.g. "shellies/{model}-{deviceid}/relay/0/command".
type Publisher struct {
	conn     Conn
	template string
	model    string
	log      zerolog.Logger
}

// New creates a publisher for the given topic template and hardware model.
func New(conn Conn, template, model string) *Publisher {
	return &Publisher{
		conn:     conn,
		template: template,
		model:    model,
		log:      log.WithComponent("publisher"),
	}
}

// Publish sends the on/off order for the action's device.
func (p *Publisher) Publish(ctx context.Context, action domain.HardwareAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := payloadOff
	if action.Kind == domain.ActionStart {
		payload = payloadOn
	}

	topic := p.topic(action.DeviceID)
	if err := p.conn.Publish(topic, []byte(payload)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", payload, topic, err)
	}

	metrics.ActionsPublished.WithLabelValues(string(action.Kind)).Inc()
	p.log.Info().
		Str("topic", topic).
		Str("device_id", action.DeviceID).
		Str("payload", payload).
		Msg("hardware action published")
	return nil
}

func (p *Publisher) topic(deviceID string) string {
	return strings.NewReplacer(
		"{model}", p.model,
		"{deviceid}", deviceID,
	).Replace(p.template)
}
