// Package event decodes inbound transport payloads into domain messages.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rtgb/fermentd/internal/domain"
)

// Delivery is one raw inbound message pulled from the transport. Ack
// acknowledges it regardless of processing outcome.
type Delivery struct {
	Body []byte
	Ack  func() error
}

type envelope struct {
	ID      uuid.UUID       `json:"id"`
	SentAt  time.Time       `json:"sent_at"`
	Version uint32          `json:"version"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

type scheduleData struct {
	SessionID uuid.UUID      `json:"session_id"`
	Hardwares []hardwareData `json:"hardwares"`
	Steps     []stepData     `json:"steps"`
}

type stepData struct {
	Position          int       `json:"position"`
	TargetTemperature float64   `json:"target_temperature"`
	Duration          int       `json:"duration"`
	Rate              *rateData `json:"rate"`
}

type rateData struct {
	Value    int `json:"value"`
	Duration int `json:"duration"`
}

type hardwareData struct {
	HardwareType string `json:"hardware_type"`
	ID           string `json:"id"`
}

type trackingData struct {
	SessionID   uuid.UUID `json:"session_id"`
	Temperature float64   `json:"temperature"`
}

// Decode parses a UTF-8 JSON payload into a domain message. Durations are
// carried in whole hours on the wire.
func Decode(payload []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	msg := domain.Message{ID: env.ID, SentAt: env.SentAt, Version: env.Version}

	switch strings.ToLower(env.Type) {
	case "schedule":
		var data scheduleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return domain.Message{}, fmt.Errorf("decode schedule data: %w", err)
		}
		schedule, err := data.toDomain()
		if err != nil {
			return domain.Message{}, err
		}
		msg.Data = schedule
	case "tracking":
		var data trackingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return domain.Message{}, fmt.Errorf("decode tracking data: %w", err)
		}
		msg.Data = domain.TrackingData{SessionID: data.SessionID, Temperature: data.Temperature}
	default:
		return domain.Message{}, fmt.Errorf("unknown message type %q", env.Type)
	}

	return msg, nil
}

func (d scheduleData) toDomain() (domain.ScheduleData, error) {
	hardwares := make([]domain.Hardware, 0, len(d.Hardwares))
	for _, h := range d.Hardwares {
		hw, err := h.toDomain()
		if err != nil {
			return domain.ScheduleData{}, err
		}
		hardwares = append(hardwares, hw)
	}

	steps := make([]domain.FermentationStep, 0, len(d.Steps))
	for _, s := range d.Steps {
		step := domain.FermentationStep{
			Position:          s.Position,
			TargetTemperature: s.TargetTemperature,
			Duration:          time.Duration(s.Duration) * time.Hour,
		}
		if s.Rate != nil {
			step.Rate = &domain.Rate{
				Value:    s.Rate.Value,
				Duration: time.Duration(s.Rate.Duration) * time.Hour,
			}
		}
		steps = append(steps, step)
	}

	return domain.ScheduleData{SessionID: d.SessionID, Hardwares: hardwares, Steps: steps}, nil
}

func (h hardwareData) toDomain() (domain.Hardware, error) {
	switch strings.ToLower(h.HardwareType) {
	case "heating":
		return domain.Hardware{Type: domain.Heating, ID: h.ID}, nil
	case "cooling":
		return domain.Hardware{Type: domain.Cooling, ID: h.ID}, nil
	default:
		return domain.Hardware{}, fmt.Errorf("unknown hardware type %q", h.HardwareType)
	}
}
