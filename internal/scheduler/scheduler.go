// Package scheduler expands fermentation schedules into persisted
// set-point command plans.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rtgb/fermentd/internal/domain"
	"github.com/rtgb/fermentd/internal/log"
)

var (
	// ErrNoFermentationStep is returned when a schedule carries no steps.
	ErrNoFermentationStep = errors.New("there must be at least one fermentation step")
	// ErrInvalidStepConfiguration is returned when step positions or rates
	// are misconfigured.
	ErrInvalidStepConfiguration = errors.New("invalid step configuration")
	// ErrInvalidPosition is returned when a step references a position that
	// does not exist.
	ErrInvalidPosition = errors.New("invalid step position")
	// ErrHardwareNotFound is returned when the schedule lacks a heating or
	// cooling hardware entry.
	ErrHardwareNotFound = errors.New("hardware not found")
)

// CommandStore persists a session together with its derived commands.
type CommandStore interface {
	Insert(ctx context.Context, cmds []domain.NewCommand, heating, cooling domain.Hardware) (int64, error)
}

// Service validates schedules and expands them into atomic commands.
type Service struct {
	store CommandStore
	log   zerolog.Logger
}

// New creates a scheduler backed by the given store.
func New(store CommandStore) *Service {
	return &Service{store: store, log: log.WithComponent("scheduler")}
}

// Schedule validates the schedule, expands its steps into commands and
// persists the session with them in one batch. It returns the number of
// commands created.
func (s *Service) Schedule(ctx context.Context, data domain.ScheduleData) (int64, error) {
	if err := validate(data.Steps); err != nil {
		return 0, err
	}

	heating, ok := data.HardwareOfType(domain.Heating)
	if !ok {
		return 0, fmt.Errorf("heating hardware: %w", ErrHardwareNotFound)
	}
	cooling, ok := data.HardwareOfType(domain.Cooling)
	if !ok {
		return 0, fmt.Errorf("cooling hardware: %w", ErrHardwareNotFound)
	}

	cmds, err := buildCommands(data)
	if err != nil {
		return 0, err
	}

	count, err := s.store.Insert(ctx, cmds, heating, cooling)
	if err != nil {
		return 0, fmt.Errorf("persist schedule for session %s: %w", data.SessionID, err)
	}

	s.log.Info().
		Str("session_id", data.SessionID.String()).
		Int("steps", len(data.Steps)).
		Int64("commands", count).
		Msg("schedule expanded")
	return count, nil
}

// validate checks the schedule shape. Order matters: emptiness first, then
// the rate rules, then the position bijection. Rates must be positive or
// the ramp expansion would emit no commands for the step.
func validate(steps []domain.FermentationStep) error {
	if len(steps) == 0 {
		return ErrNoFermentationStep
	}

	for _, step := range steps {
		if step.Position == 0 && step.Rate != nil {
			return fmt.Errorf("rate can't be defined for the first fermentation step: %w", ErrInvalidStepConfiguration)
		}
		if step.Rate != nil && step.Rate.Value <= 0 {
			return fmt.Errorf("rate value must be positive, got %d: %w", step.Rate.Value, ErrInvalidStepConfiguration)
		}
	}

	for idx := range steps {
		count := 0
		for _, step := range steps {
			if step.Position == idx {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("step positions do not match the number of steps: %w", ErrInvalidStepConfiguration)
		}
	}
	return nil
}

// requiredCommands is the number of atomic commands a ramp needs to move
// between the two targets at the given rate. ceil may overshoot; the last
// command is clamped in buildCommands.
func requiredCommands(previousTarget, nextTarget, rate float64) int {
	delta := math.Abs(previousTarget - nextTarget)
	return int(math.Ceil(delta / rate))
}

func buildCommands(data domain.ScheduleData) ([]domain.NewCommand, error) {
	var cmds []domain.NewCommand
	for _, step := range data.Steps {
		if step.Rate == nil {
			cmds = append(cmds, domain.NewCommand{
				ID:              uuid.New(),
				SessionID:       data.SessionID,
				StepPosition:    step.Position,
				Status:          domain.Planned(),
				Value:           step.TargetTemperature,
				HoldingDuration: step.Duration,
			})
			continue
		}

		if step.Position == 0 {
			return nil, fmt.Errorf("position 0 cannot hold a rate: %w", ErrInvalidPosition)
		}
		prev, ok := stepAt(data.Steps, step.Position-1)
		if !ok {
			return nil, fmt.Errorf("position %d doesn't exist: %w", step.Position-1, ErrInvalidPosition)
		}

		rate := float64(step.Rate.Value)
		n := requiredCommands(prev.TargetTemperature, step.TargetTemperature, rate)
		ascending := prev.TargetTemperature < step.TargetTemperature
		for k := 0; k < n; k++ {
			delta := float64(k+1) * rate
			var target float64
			if ascending {
				target = math.Min(prev.TargetTemperature+delta, step.TargetTemperature)
			} else {
				target = math.Max(prev.TargetTemperature-delta, step.TargetTemperature)
			}
			cmds = append(cmds, domain.NewCommand{
				ID:              uuid.New(),
				SessionID:       data.SessionID,
				StepPosition:    step.Position,
				Status:          domain.Planned(),
				Value:           target,
				HoldingDuration: step.Rate.Duration,
			})
		}
	}
	return cmds, nil
}

func stepAt(steps []domain.FermentationStep, position int) (domain.FermentationStep, bool) {
	for _, s := range steps {
		if s.Position == position {
			return s, true
		}
	}
	return domain.FermentationStep{}, false
}
