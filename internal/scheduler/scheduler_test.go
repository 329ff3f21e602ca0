package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rtgb/fermentd/internal/domain"
)

// fakeStore records inserted commands and returns a canned result.
type fakeStore struct {
	cmds    []domain.NewCommand
	heating domain.Hardware
	cooling domain.Hardware
	err     error
	calls   int
}

func (f *fakeStore) Insert(_ context.Context, cmds []domain.NewCommand, heating, cooling domain.Hardware) (int64, error) {
	f.calls++
	f.cmds = cmds
	f.heating = heating
	f.cooling = cooling
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(cmds)), nil
}

func step(position int, target float64, duration time.Duration, rate *domain.Rate) domain.FermentationStep {
	return domain.FermentationStep{
		Position:          position,
		TargetTemperature: target,
		Duration:          duration,
		Rate:              rate,
	}
}

func scheduleData(steps ...domain.FermentationStep) domain.ScheduleData {
	return domain.ScheduleData{
		SessionID: uuid.New(),
		Hardwares: []domain.Hardware{
			{Type: domain.Cooling, ID: "cool"},
			{Type: domain.Heating, ID: "heat"},
		},
		Steps: steps,
	}
}

func TestScheduleRejectsEmptySteps(t *testing.T) {
	svc := New(&fakeStore{})
	_, err := svc.Schedule(context.Background(), scheduleData())
	if !errors.Is(err, ErrNoFermentationStep) {
		t.Fatalf("expected ErrNoFermentationStep, got %v", err)
	}
}

func TestScheduleRejectsRateOnFirstStep(t *testing.T) {
	svc := New(&fakeStore{})
	data := scheduleData(step(0, 20.0, 96*time.Hour, &domain.Rate{Value: 2, Duration: time.Hour}))
	_, err := svc.Schedule(context.Background(), data)
	if !errors.Is(err, ErrInvalidStepConfiguration) {
		t.Fatalf("expected ErrInvalidStepConfiguration, got %v", err)
	}
}

func TestScheduleRejectsBrokenPositions(t *testing.T) {
	svc := New(&fakeStore{})
	data := scheduleData(
		step(0, 20.0, time.Hour, nil),
		step(3, 20.0, time.Hour, &domain.Rate{Value: 1, Duration: time.Hour}),
	)
	_, err := svc.Schedule(context.Background(), data)
	if !errors.Is(err, ErrInvalidStepConfiguration) {
		t.Fatalf("expected ErrInvalidStepConfiguration, got %v", err)
	}

	data = scheduleData(
		step(1, 20.0, time.Hour, nil),
		step(1, 21.0, time.Hour, nil),
	)
	_, err = svc.Schedule(context.Background(), data)
	if !errors.Is(err, ErrInvalidStepConfiguration) {
		t.Fatalf("expected ErrInvalidStepConfiguration for duplicate position, got %v", err)
	}
}

func TestScheduleRejectsNonPositiveRate(t *testing.T) {
	for _, value := range []int{0, -2} {
		store := &fakeStore{}
		svc := New(store)
		data := scheduleData(
			step(0, 20.0, time.Hour, nil),
			step(1, 24.0, time.Hour, &domain.Rate{Value: value, Duration: time.Hour}),
		)

		_, err := svc.Schedule(context.Background(), data)
		if !errors.Is(err, ErrInvalidStepConfiguration) {
			t.Fatalf("rate %d: expected ErrInvalidStepConfiguration, got %v", value, err)
		}
		if store.calls != 0 {
			t.Fatalf("rate %d: nothing must be persisted, got %d insert calls", value, store.calls)
		}
	}
}

func TestScheduleRejectsMissingHardware(t *testing.T) {
	svc := New(&fakeStore{})
	data := domain.ScheduleData{
		SessionID: uuid.New(),
		Hardwares: []domain.Hardware{{Type: domain.Cooling, ID: "cool"}},
		Steps:     []domain.FermentationStep{step(0, 20.0, time.Hour, nil)},
	}
	_, err := svc.Schedule(context.Background(), data)
	if !errors.Is(err, ErrHardwareNotFound) {
		t.Fatalf("expected ErrHardwareNotFound, got %v", err)
	}
}

func TestScheduleValidatesOutOfOrderSteps(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	// Input order is not position order; validation accepts the set {0,1}.
	data := scheduleData(
		step(1, 22.0, time.Hour, &domain.Rate{Value: 1, Duration: time.Hour}),
		step(0, 20.0, time.Hour, nil),
	)
	if _, err := svc.Schedule(context.Background(), data); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
}

func TestRequiredCommands(t *testing.T) {
	if n := requiredCommands(20.4, 3.2, 2.4); n != 8 {
		t.Fatalf("expected 8 commands for delta 17.2 at rate 2.4, got %d", n)
	}
	if n := requiredCommands(20.0, 24.0, 2); n != 2 {
		t.Fatalf("expected 2 commands for delta 4 at rate 2, got %d", n)
	}
}

func TestSchedulePlainSteps(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	data := scheduleData(
		step(0, 20.0, 96*time.Hour, nil),
		step(1, 24.0, 72*time.Hour, nil),
		step(2, 2.0, 48*time.Hour, nil),
	)

	count, err := svc.Schedule(context.Background(), data)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 commands, got %d", count)
	}

	wantValues := []float64{20.0, 24.0, 2.0}
	wantHolding := []time.Duration{96 * time.Hour, 72 * time.Hour, 48 * time.Hour}
	wantPositions := []int{0, 1, 2}
	for i, cmd := range store.cmds {
		if cmd.Value != wantValues[i] {
			t.Errorf("command %d: expected value %v, got %v", i, wantValues[i], cmd.Value)
		}
		if cmd.HoldingDuration != wantHolding[i] {
			t.Errorf("command %d: expected holding %v, got %v", i, wantHolding[i], cmd.HoldingDuration)
		}
		if cmd.StepPosition != wantPositions[i] {
			t.Errorf("command %d: expected position %d, got %d", i, wantPositions[i], cmd.StepPosition)
		}
		if cmd.Status.State != domain.StatePlanned {
			t.Errorf("command %d: expected Planned status, got %s", i, cmd.Status.State)
		}
		if cmd.SessionID != data.SessionID {
			t.Errorf("command %d: expected session %s, got %s", i, data.SessionID, cmd.SessionID)
		}
	}
	if store.heating.ID != "heat" || store.cooling.ID != "cool" {
		t.Errorf("expected hardware heat/cool, got %+v/%+v", store.heating, store.cooling)
	}
}

func TestScheduleMixedRates(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	data := scheduleData(
		step(0, 20.0, 96*time.Hour, nil),
		step(1, 24.0, 72*time.Hour, &domain.Rate{Value: 2, Duration: time.Hour}),
		step(2, 2.0, 48*time.Hour, &domain.Rate{Value: 4, Duration: 6 * time.Hour}),
	)

	count, err := svc.Schedule(context.Background(), data)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if count != 9 {
		t.Fatalf("expected 9 commands, got %d", count)
	}

	wantValues := []float64{20.0, 22.0, 24.0, 20.0, 16.0, 12.0, 8.0, 4.0, 2.0}
	wantHolding := []time.Duration{
		96 * time.Hour, time.Hour, time.Hour,
		6 * time.Hour, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour,
	}
	wantPositions := []int{0, 1, 1, 2, 2, 2, 2, 2, 2}
	for i, cmd := range store.cmds {
		if cmd.Value != wantValues[i] {
			t.Errorf("command %d: expected value %v, got %v", i, wantValues[i], cmd.Value)
		}
		if cmd.HoldingDuration != wantHolding[i] {
			t.Errorf("command %d: expected holding %v, got %v", i, wantHolding[i], cmd.HoldingDuration)
		}
		if cmd.StepPosition != wantPositions[i] {
			t.Errorf("command %d: expected position %d, got %d", i, wantPositions[i], cmd.StepPosition)
		}
	}
}

func TestScheduleClampsFinalRampValue(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	// Delta 5 at rate 2 needs ceil(5/2) = 3 commands; the last tick would
	// overshoot to 25 and must be clamped to the step target.
	data := scheduleData(
		step(0, 20.0, time.Hour, nil),
		step(1, 25.0, time.Hour, &domain.Rate{Value: 2, Duration: time.Hour}),
	)

	if _, err := svc.Schedule(context.Background(), data); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	wantValues := []float64{20.0, 22.0, 24.0, 25.0}
	if len(store.cmds) != len(wantValues) {
		t.Fatalf("expected %d commands, got %d", len(wantValues), len(store.cmds))
	}
	for i, cmd := range store.cmds {
		if cmd.Value != wantValues[i] {
			t.Errorf("command %d: expected value %v, got %v", i, wantValues[i], cmd.Value)
		}
	}
	last := store.cmds[len(store.cmds)-1]
	if last.Value != 25.0 {
		t.Fatalf("final ramp value must equal the step target, got %v", last.Value)
	}
}

func TestScheduleDeterministicExpansion(t *testing.T) {
	data := scheduleData(
		step(0, 20.0, 96*time.Hour, nil),
		step(1, 24.0, 72*time.Hour, &domain.Rate{Value: 2, Duration: time.Hour}),
	)

	first, err := buildCommands(data)
	if err != nil {
		t.Fatalf("buildCommands: %v", err)
	}
	second, err := buildCommands(data)
	if err != nil {
		t.Fatalf("buildCommands: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expansion count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Value != second[i].Value ||
			first[i].HoldingDuration != second[i].HoldingDuration ||
			first[i].StepPosition != second[i].StepPosition {
			t.Errorf("command %d differs between expansions: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestScheduleSurfacesStoreError(t *testing.T) {
	storeErr := errors.New("disk full")
	store := &fakeStore{err: storeErr}
	svc := New(store)
	data := scheduleData(step(0, 20.0, time.Hour, nil))

	_, err := svc.Schedule(context.Background(), data)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
