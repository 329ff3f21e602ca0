package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a set-point command. Transitions are
// monotone: Planned -> Running -> Executed, never backwards and never
// skipping Running.
type State string

const (
	StatePlanned  State = "Planned"
	StateRunning  State = "Running"
	StateExecuted State = "Executed"
)

// CommandStatus pairs a state with the timestamp it was entered at.
// Planned carries no timestamp.
type CommandStatus struct {
	State State
	Date  time.Time
}

// Planned returns the initial status of a freshly scheduled command.
func Planned() CommandStatus {
	return CommandStatus{State: StatePlanned}
}

// Running returns the status of a command whose actuation started at since.
func Running(since time.Time) CommandStatus {
	return CommandStatus{State: StateRunning, Date: since}
}

// Executed returns the status of a command whose target was reached and
// held long enough, completed at at.
func Executed(at time.Time) CommandStatus {
	return CommandStatus{State: StateExecuted, Date: at}
}

// NewCommand is one atomic set-point produced by schedule expansion,
// not yet persisted.
type NewCommand struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	StepPosition    int
	Status          CommandStatus
	Value           float64
	HoldingDuration time.Duration
}

// Command is a persisted set-point command.
type Command struct {
	UUID               uuid.UUID
	SessionID          int64
	FermentationStepID int
	Status             CommandStatus
	Value              float64
	ValueReachedAt     *time.Time
	HoldingDuration    time.Duration
}

// Sorting is the order direction for command queries.
type Sorting string

const (
	SortAsc  Sorting = "ASC"
	SortDesc Sorting = "DESC"
)

// QueryOptions narrows a command query. A zero Limit means no limit.
type QueryOptions struct {
	Limit   int
	Sorting Sorting
}

// ActionKind discriminates hardware actuation actions.
type ActionKind string

const (
	ActionStart ActionKind = "start"
	ActionStop  ActionKind = "stop"
)

// HardwareAction is an outbound actuation order for a single device.
type HardwareAction struct {
	Kind     ActionKind
	DeviceID string
}

// Start orders the device to power on.
func Start(deviceID string) HardwareAction {
	return HardwareAction{Kind: ActionStart, DeviceID: deviceID}
}

// Stop orders the device to power off.
func Stop(deviceID string) HardwareAction {
	return HardwareAction{Kind: ActionStop, DeviceID: deviceID}
}
