package domain

import (
	"time"

	"github.com/google/uuid"
)

// HardwareType names the two actuator roles a session is bound to.
type HardwareType string

const (
	Heating HardwareType = "Heating"
	Cooling HardwareType = "Cooling"
)

// Hardware binds an actuator role to an opaque device identifier.
type Hardware struct {
	Type HardwareType
	ID   string
}

// Rate controls the incremental ramp between two steps: Value degrees per
// tick, each tick held for Duration.
type Rate struct {
	Value    int
	Duration time.Duration
}

// FermentationStep is one phase of a schedule: hold TargetTemperature for
// Duration, optionally approached incrementally via Rate.
type FermentationStep struct {
	Position          int
	TargetTemperature float64
	Duration          time.Duration
	Rate              *Rate
}

// ScheduleData is the inbound plan for one fermentation session.
type ScheduleData struct {
	SessionID uuid.UUID
	Hardwares []Hardware
	Steps     []FermentationStep
}

// HardwareOfType returns the session's device for the given role.
func (d ScheduleData) HardwareOfType(t HardwareType) (Hardware, bool) {
	for _, h := range d.Hardwares {
		if h.Type == t {
			return h, true
		}
	}
	return Hardware{}, false
}

// TrackingData is one liquid-temperature measurement for a session.
type TrackingData struct {
	SessionID   uuid.UUID
	Temperature float64
}

// MessageData is the tagged payload of an inbound message. Implemented by
// ScheduleData and TrackingData only.
type MessageData interface {
	isMessageData()
}

func (ScheduleData) isMessageData() {}
func (TrackingData) isMessageData() {}

// Message is a decoded inbound event.
type Message struct {
	ID      uuid.UUID
	SentAt  time.Time
	Version uint32
	Data    MessageData
}
