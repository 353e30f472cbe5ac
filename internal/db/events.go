package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labmgr/labmgr/internal/models"
)

// timeLayout is fixed width and always UTC, so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const eventColumns = `id, ts, kind, operation_id, agent, cloud, machine, machine_id, action, msg`

// RecordEvent appends ev to the journal. A zero Timestamp is replaced by the
// current time.
func (s *Store) RecordEvent(ctx context.Context, ev models.Event) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if ev.Kind == "" {
		return errors.New("event kind is required")
	}
	agent := strings.TrimSpace(ev.Agent)
	if agent == "" {
		return errors.New("event agent is required")
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var machineID sql.NullInt64
	if ev.MachineID > 0 {
		machineID = sql.NullInt64{Valid: true, Int64: int64(ev.MachineID)}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO lifecycle_events (ts, kind, operation_id, agent, cloud, machine, machine_id, action, msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(ts), string(ev.Kind), nullIfEmpty(ev.OperationID), agent, nullIfEmpty(ev.Cloud),
		nullIfEmpty(ev.Machine), machineID, nullIfEmpty(ev.Action), nullIfEmpty(ev.Message))
	if err != nil {
		return fmt.Errorf("insert event %q: %w", ev.Kind, err)
	}
	return nil
}

// ListEventsByAgent returns events for agent with id greater than afterID, oldest first.
func (s *Store) ListEventsByAgent(ctx context.Context, agent string, afterID int64, limit int) ([]models.Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, errors.New("agent is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM lifecycle_events WHERE agent = ? AND id > ? ORDER BY id ASC LIMIT ?`, agent, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows, "iterate events")
}

// ListEventsByAgentTail returns the newest limit events for agent, oldest first.
func (s *Store) ListEventsByAgentTail(ctx context.Context, agent string, limit int) ([]models.Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, errors.New("agent is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM lifecycle_events WHERE agent = ? ORDER BY id DESC LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("list events tail: %w", err)
	}
	defer rows.Close()
	out, err := collectEvents(rows, "iterate events tail")
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListEventsByOperation returns every event of one bring-up or teardown sequence.
func (s *Store) ListEventsByOperation(ctx context.Context, operationID string) ([]models.Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return nil, errors.New("operation id is required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM lifecycle_events WHERE operation_id = ? ORDER BY id ASC`, operationID)
	if err != nil {
		return nil, fmt.Errorf("list operation events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows, "iterate operation events")
}

// PruneEvents deletes events recorded before cutoff and returns how many were removed.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("db store is nil")
	}
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lifecycle_events WHERE ts < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}

func collectEvents(rows *sql.Rows, what string) ([]models.Event, error) {
	var out []models.Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func scanEventRow(scanner interface{ Scan(dest ...any) error }) (models.Event, error) {
	var ev models.Event
	var ts string
	var kind string
	var operationID, cloud, machine, action, msg sql.NullString
	var machineID sql.NullInt64
	if err := scanner.Scan(&ev.ID, &ts, &kind, &operationID, &ev.Agent, &cloud, &machine, &machineID, &action, &msg); err != nil {
		return models.Event{}, err
	}
	if ts != "" {
		parsed, err := parseTime(ts)
		if err != nil {
			return models.Event{}, fmt.Errorf("parse event ts: %w", err)
		}
		ev.Timestamp = parsed
	}
	ev.Kind = models.EventKind(kind)
	ev.OperationID = operationID.String
	ev.Cloud = cloud.String
	ev.Machine = machine.String
	ev.Action = action.String
	ev.Message = msg.String
	if machineID.Valid {
		ev.MachineID = int(machineID.Int64)
	}
	return ev, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
