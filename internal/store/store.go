package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/rtgb/fermentd/internal/domain"
)

// timeLayout is a fixed-width RFC 3339 variant so stored timestamps sort
// lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrNotFound is returned when a session or command does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusTransition is returned when a status update does not follow
	// Planned -> Running -> Executed, or targets Planned.
	ErrStatusTransition = errors.New("invalid status transition")
	// ErrNoCommands is returned when an insert is attempted with an empty
	// command batch.
	ErrNoCommands = errors.New("no commands to insert")
)

// Store persists sessions and their set-point commands in SQLite.
type Store struct {
	conn *sql.DB
}

// Open creates a new Store and runs all pending migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for use by tests if needed.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Insert creates the session row and all its commands in one transaction
// and returns the number of command rows written. Command values are
// rounded to one fractional digit on write.
func (s *Store) Insert(ctx context.Context, cmds []domain.NewCommand, heating, cooling domain.Hardware) (int64, error) {
	if len(cmds) == 0 {
		return 0, ErrNoCommands
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO session (uuid, cooling_id, heating_id) VALUES (?, ?, ?)`,
		cmds[0].SessionID.String(), cooling.ID, heating.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session %s: %w", cmds[0].SessionID, err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session row id: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	var count int64
	for _, c := range cmds {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO command (uuid, session_id, fermentation_step_id, status, status_date, value, value_reached_at, value_holding_duration, updated_at)
			 VALUES (?, ?, ?, ?, NULL, ?, NULL, ?, ?)`,
			c.ID.String(), sessionID, c.StepPosition, string(c.Status.State),
			roundScale1(c.Value), int64(c.HoldingDuration/time.Hour), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert command %s: %w", c.ID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return count, nil
}

const commandColumns = `c.uuid, c.session_id, c.fermentation_step_id, c.status, c.status_date, c.value, c.value_reached_at, c.value_holding_duration`

// FetchCommands returns the session's commands in the given state, ordered
// by updated_at in the requested direction. Ties are broken by
// fermentation_step_id and then insertion order so the selection is total.
func (s *Store) FetchCommands(ctx context.Context, sessionID uuid.UUID, state domain.State, opts domain.QueryOptions) ([]domain.Command, error) {
	dir := "ASC"
	if opts.Sorting == domain.SortDesc {
		dir = "DESC"
	}
	query := `SELECT ` + commandColumns + `
		 FROM command c JOIN session s ON s.id = c.session_id
		 WHERE s.uuid = ? AND c.status = ?
		 ORDER BY c.updated_at ` + dir + `, c.fermentation_step_id, c.rowid`
	args := []any{sessionID.String(), string(state)}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch commands for %s: %w", sessionID, err)
	}
	defer rows.Close() //nolint:errcheck

	var cmds []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// FetchHardwareID returns the device id bound to the session for the given
// actuator role.
func (s *Store) FetchHardwareID(ctx context.Context, sessionID uuid.UUID, hw domain.HardwareType) (string, error) {
	column := "cooling_id"
	if hw == domain.Heating {
		column = "heating_id"
	}
	var id string
	err := s.conn.QueryRowContext(ctx,
		`SELECT `+column+` FROM session WHERE uuid = ?`, sessionID.String(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("fetch %s for %s: %w", column, sessionID, err)
	}
	return id, nil
}

// FetchActiveHardwareType returns the actuator currently engaged for the
// session, or nil when none is (or the session is unknown).
func (s *Store) FetchActiveHardwareType(ctx context.Context, sessionID uuid.UUID) (*domain.HardwareType, error) {
	var active sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT active_hardware_type FROM session WHERE uuid = ?`, sessionID.String(),
	).Scan(&active)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetch active hardware for %s: %w", sessionID, err)
	}
	if !active.Valid {
		return nil, nil
	}
	hw := domain.HardwareType(active.String)
	return &hw, nil
}

// UpdateStatus advances a command's status. Planned is never a valid target
// and the update only applies when the command is in the expected previous
// state, so transitions stay monotone even under redelivery.
func (s *Store) UpdateStatus(ctx context.Context, commandID uuid.UUID, status domain.CommandStatus) error {
	var prev domain.State
	switch status.State {
	case domain.StateRunning:
		prev = domain.StatePlanned
	case domain.StateExecuted:
		prev = domain.StateRunning
	default:
		return fmt.Errorf("command %s: target state %s: %w", commandID, status.State, ErrStatusTransition)
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.conn.ExecContext(ctx,
		`UPDATE command SET status = ?, status_date = ?, updated_at = ? WHERE uuid = ? AND status = ?`,
		string(status.State), status.Date.UTC().Format(timeLayout), now,
		commandID.String(), string(prev),
	)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", commandID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status of %s: %w", commandID, err)
	}
	if affected == 0 {
		return fmt.Errorf("command %s is not %s: %w", commandID, prev, ErrStatusTransition)
	}
	return nil
}

// UpdateValueReachedAt records the moment the target value was first
// observed to be met.
func (s *Store) UpdateValueReachedAt(ctx context.Context, commandID uuid.UUID, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE command SET value_reached_at = ?, updated_at = ? WHERE uuid = ?`,
		at.UTC().Format(timeLayout), time.Now().UTC().Format(timeLayout), commandID.String(),
	)
	if err != nil {
		return fmt.Errorf("update value_reached_at of %s: %w", commandID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update value_reached_at of %s: %w", commandID, err)
	}
	if affected == 0 {
		return fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	return nil
}

// UpdateActiveHardwareType records which actuator is engaged for the
// session; nil clears it.
func (s *Store) UpdateActiveHardwareType(ctx context.Context, sessionID uuid.UUID, hw *domain.HardwareType) error {
	var value any
	if hw != nil {
		value = string(*hw)
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE session SET active_hardware_type = ? WHERE uuid = ?`,
		value, sessionID.String(),
	)
	if err != nil {
		return fmt.Errorf("update active hardware of %s: %w", sessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update active hardware of %s: %w", sessionID, err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func scanCommand(scanner interface{ Scan(...any) error }) (domain.Command, error) {
	var (
		cmd          domain.Command
		rawUUID      string
		rawStatus    string
		statusDate   sql.NullString
		reachedAt    sql.NullString
		holdingHours int64
	)
	if err := scanner.Scan(&rawUUID, &cmd.SessionID, &cmd.FermentationStepID, &rawStatus, &statusDate, &cmd.Value, &reachedAt, &holdingHours); err != nil {
		return domain.Command{}, err
	}

	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return domain.Command{}, fmt.Errorf("parse command uuid %q: %w", rawUUID, err)
	}
	cmd.UUID = id
	cmd.HoldingDuration = time.Duration(holdingHours) * time.Hour

	cmd.Status = domain.CommandStatus{State: domain.State(rawStatus)}
	if statusDate.Valid {
		t, err := time.Parse(timeLayout, statusDate.String)
		if err != nil {
			return domain.Command{}, fmt.Errorf("parse status_date %q: %w", statusDate.String, err)
		}
		cmd.Status.Date = t
	}
	if reachedAt.Valid {
		t, err := time.Parse(timeLayout, reachedAt.String)
		if err != nil {
			return domain.Command{}, fmt.Errorf("parse value_reached_at %q: %w", reachedAt.String, err)
		}
		cmd.ValueReachedAt = &t
	}
	return cmd, nil
}

func roundScale1(v float64) float64 {
	return math.Round(v*10) / 10
}
