// Package executor advances a session's command plan from live
// temperature readings and drives the heating/cooling hardware.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rtgb/fermentd/internal/domain"
	"github.com/rtgb/fermentd/internal/log"
)

// ErrNoActiveHardware is returned when a command is running but the session
// has no recorded active hardware.
var ErrNoActiveHardware = errors.New("active hardware id not found")

// CommandStore is the persistence surface the executor needs.
type CommandStore interface {
	FetchCommands(ctx context.Context, sessionID uuid.UUID, state domain.State, opts domain.QueryOptions) ([]domain.Command, error)
	FetchHardwareID(ctx context.Context, sessionID uuid.UUID, hw domain.HardwareType) (string, error)
	FetchActiveHardwareType(ctx context.Context, sessionID uuid.UUID) (*domain.HardwareType, error)
	UpdateStatus(ctx context.Context, commandID uuid.UUID, status domain.CommandStatus) error
	UpdateValueReachedAt(ctx context.Context, commandID uuid.UUID, at time.Time) error
	UpdateActiveHardwareType(ctx context.Context, sessionID uuid.UUID, hw *domain.HardwareType) error
}

// Publisher emits actuation orders to the device transport.
type Publisher interface {
	Publish(ctx context.Context, action domain.HardwareAction) error
}

// Service is the per-tracking-event state machine. The hold-duration gate
// is evaluated lazily on each tracking sample, so nothing depends on
// in-memory deadlines and a restart loses no state.
type Service struct {
	store     CommandStore
	publisher Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// New creates an executor backed by the given store and publisher.
func New(store CommandStore, publisher Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		log:       log.WithComponent("executor"),
	}
}

// Process advances the session's plan for one tracking sample. With no
// running command it activates the oldest planned one; with a running
// command it checks whether the target is reached and, once the holding
// duration has elapsed, stops the hardware and marks the command executed.
// The next planned command is then picked up by a later tracking event.
func (s *Service) Process(ctx context.Context, tracking domain.TrackingData) error {
	running, err := s.fetchOne(ctx, tracking.SessionID, domain.StateRunning)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		return s.executeNextCommand(ctx, tracking)
	}

	cmd := running[0]
	active, err := s.store.FetchActiveHardwareType(ctx, tracking.SessionID)
	if err != nil {
		return fmt.Errorf("fetch active hardware for session %s: %w", tracking.SessionID, err)
	}
	if active == nil {
		return fmt.Errorf("session %s has a running command but no engaged actuator: %w", tracking.SessionID, ErrNoActiveHardware)
	}

	var reached bool
	switch *active {
	case domain.Cooling:
		reached = tracking.Temperature <= cmd.Value
	case domain.Heating:
		reached = tracking.Temperature >= cmd.Value
	}
	if !reached {
		s.log.Debug().
			Str("session_id", tracking.SessionID.String()).
			Str("command_id", cmd.UUID.String()).
			Float64("temperature", tracking.Temperature).
			Float64("target", cmd.Value).
			Msg("target not reached")
		return nil
	}

	reachedAt, err := s.markValueAsReached(ctx, cmd)
	if err != nil {
		return err
	}
	if !s.holdingDurationMatched(cmd.HoldingDuration, reachedAt) {
		s.log.Info().
			Str("session_id", tracking.SessionID.String()).
			Str("command_id", cmd.UUID.String()).
			Time("value_reached_at", reachedAt).
			Dur("holding_duration", cmd.HoldingDuration).
			Msg("target reached, holding duration not matched yet")
		return nil
	}

	return s.stopAll(ctx, cmd, tracking.SessionID)
}

func (s *Service) fetchOne(ctx context.Context, sessionID uuid.UUID, state domain.State) ([]domain.Command, error) {
	cmds, err := s.store.FetchCommands(ctx, sessionID, state, domain.QueryOptions{Limit: 1, Sorting: domain.SortAsc})
	if err != nil {
		return nil, fmt.Errorf("fetch %s commands for session %s: %w", state, sessionID, err)
	}
	return cmds, nil
}

// markValueAsReached records the first moment the target was observed met.
// Once set the timestamp is never reset, even if the liquid later drifts
// out of the reached band.
func (s *Service) markValueAsReached(ctx context.Context, cmd domain.Command) (time.Time, error) {
	if cmd.ValueReachedAt != nil {
		return *cmd.ValueReachedAt, nil
	}
	at := s.now()
	if err := s.store.UpdateValueReachedAt(ctx, cmd.UUID, at); err != nil {
		return time.Time{}, fmt.Errorf("mark value reached for command %s: %w", cmd.UUID, err)
	}
	return at, nil
}

func (s *Service) holdingDurationMatched(holding time.Duration, reachedAt time.Time) bool {
	return !s.now().Before(reachedAt.Add(holding))
}

// executeNextCommand activates the oldest planned command: picks the
// actuator from the current temperature, publishes Start, records the
// engaged actuator and promotes the command to Running. Status is only
// advanced after the publish and the hardware update succeed, so a failed
// activation is retried on the next tracking event.
func (s *Service) executeNextCommand(ctx context.Context, tracking domain.TrackingData) error {
	planned, err := s.fetchOne(ctx, tracking.SessionID, domain.StatePlanned)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		s.log.Info().
			Str("session_id", tracking.SessionID.String()).
			Msg("no planned command left, profile execution is over")
		return nil
	}

	cmd := planned[0]
	hw := domain.Cooling
	if cmd.Value > tracking.Temperature {
		hw = domain.Heating
	}

	deviceID, err := s.store.FetchHardwareID(ctx, tracking.SessionID, hw)
	if err != nil {
		return fmt.Errorf("fetch %s hardware for session %s: %w", hw, tracking.SessionID, err)
	}

	if err := s.publisher.Publish(ctx, domain.Start(deviceID)); err != nil {
		return fmt.Errorf("publish start for device %s: %w", deviceID, err)
	}
	if err := s.store.UpdateActiveHardwareType(ctx, tracking.SessionID, &hw); err != nil {
		return fmt.Errorf("record active hardware for session %s: %w", tracking.SessionID, err)
	}
	if err := s.store.UpdateStatus(ctx, cmd.UUID, domain.Running(s.now())); err != nil {
		return fmt.Errorf("promote command %s to Running: %w", cmd.UUID, err)
	}

	s.log.Info().
		Str("session_id", tracking.SessionID.String()).
		Str("command_id", cmd.UUID.String()).
		Str("hardware", string(hw)).
		Float64("target", cmd.Value).
		Msg("command activated")
	return nil
}

// stopAll powers off both devices, clears the engaged actuator and marks
// the command executed. Stops go to both devices so a stale actuator can
// never keep running.
func (s *Service) stopAll(ctx context.Context, cmd domain.Command, sessionID uuid.UUID) error {
	heatingID, err := s.store.FetchHardwareID(ctx, sessionID, domain.Heating)
	if err != nil {
		return fmt.Errorf("fetch heating hardware for session %s: %w", sessionID, err)
	}
	coolingID, err := s.store.FetchHardwareID(ctx, sessionID, domain.Cooling)
	if err != nil {
		return fmt.Errorf("fetch cooling hardware for session %s: %w", sessionID, err)
	}

	if err := s.publisher.Publish(ctx, domain.Stop(heatingID)); err != nil {
		return fmt.Errorf("publish stop for device %s: %w", heatingID, err)
	}
	if err := s.publisher.Publish(ctx, domain.Stop(coolingID)); err != nil {
		return fmt.Errorf("publish stop for device %s: %w", coolingID, err)
	}

	if err := s.store.UpdateActiveHardwareType(ctx, sessionID, nil); err != nil {
		return fmt.Errorf("clear active hardware for session %s: %w", sessionID, err)
	}
	if err := s.store.UpdateStatus(ctx, cmd.UUID, domain.Executed(s.now())); err != nil {
		return fmt.Errorf("promote command %s to Executed: %w", cmd.UUID, err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("command_id", cmd.UUID.String()).
		Msg("command executed, hardware stopped")
	return nil
}
