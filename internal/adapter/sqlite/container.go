package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"recommerce"
)

var accessColumns = map[recommerce.AccessKind]string{
	recommerce.AccessHealth:      "health",
	recommerce.AccessPaused:      "paused",
	recommerce.AccessResumed:     "resumed",
	recommerce.AccessTensorBoard: "tensorboard",
	recommerce.AccessLogs:        "logs",
	recommerce.AccessData:        "data",
}

var terminalColumns = map[recommerce.TerminalField]string{
	recommerce.FieldStoppedAt:  "stopped_at",
	recommerce.FieldExitedAt:   "exited_at",
	recommerce.FieldExitStatus: "exit_status",
	recommerce.FieldForceStop:  "force_stop",
}

// InsertGroup writes one row per record in a single transaction. Every row
// gets the group size len(records), regardless of what the records carry.
func (s *Store) InsertGroup(ctx context.Context, records []recommerce.ContainerRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO container (container_id, config, started_at, started_by, group_id, group_size)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare group insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ContainerID,
			r.Config,
			formatTime(r.StartedAt),
			string(r.StartedBy),
			r.GroupID,
			len(records),
		); err != nil {
			return fmt.Errorf("insert container %s: %w", r.ContainerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group insert: %w", err)
	}
	return nil
}

// RecordAccess appends the current time to the access column for kind.
func (s *Store) RecordAccess(ctx context.Context, id string, kind recommerce.AccessKind) error {
	col, ok := accessColumns[kind]
	if !ok {
		return fmt.Errorf("unknown access kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := formatTime(s.stamp())
	query := fmt.Sprintf(
		`UPDATE container SET %[1]s = CASE WHEN %[1]s = '' THEN ? ELSE %[1]s || ';' || ? END WHERE container_id = ?`,
		col,
	)
	if _, err := s.db.ExecContext(ctx, query, ts, ts, id); err != nil {
		return fmt.Errorf("record %s access for %s: %w", col, id, err)
	}
	return nil
}

// RecordTerminal writes value into a write-once column. If the column already
// holds a value the write is dropped. The bool reports whether it landed.
func (s *Store) RecordTerminal(ctx context.Context, id string, field recommerce.TerminalField, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordTerminal(ctx, s.db, id, field, value)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) recordTerminal(ctx context.Context, db execer, id string, field recommerce.TerminalField, value string) (bool, error) {
	col, ok := terminalColumns[field]
	if !ok {
		return false, fmt.Errorf("unknown terminal field %q", field)
	}
	query := fmt.Sprintf(`UPDATE container SET %[1]s = ? WHERE container_id = ? AND %[1]s = ''`, col)
	res, err := db.ExecContext(ctx, query, value, id)
	if err != nil {
		return false, fmt.Errorf("record %s for %s: %w", col, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record %s for %s: %w", col, id, err)
	}
	return n > 0, nil
}

// RecordStop stores the outcome of an explicit stop: stopped_at, the exit
// code and whether the container was still live when the stop was issued.
func (s *Store) RecordStop(ctx context.Context, id string, exitCode int, forced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := formatTime(s.stamp())
	return s.writeTerminals(ctx, id, map[recommerce.TerminalField]string{
		recommerce.FieldStoppedAt:  now,
		recommerce.FieldExitStatus: strconv.Itoa(exitCode),
		recommerce.FieldForceStop:  strconv.FormatBool(forced),
	})
}

// RecordExit stores a natural exit observed by the reaper.
func (s *Store) RecordExit(ctx context.Context, id string, exitCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := formatTime(s.stamp())
	return s.writeTerminals(ctx, id, map[recommerce.TerminalField]string{
		recommerce.FieldExitedAt:   now,
		recommerce.FieldExitStatus: strconv.Itoa(exitCode),
		recommerce.FieldForceStop:  strconv.FormatBool(false),
	})
}

func (s *Store) writeTerminals(ctx context.Context, id string, values map[recommerce.TerminalField]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin terminal update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for field, value := range values {
		if _, err := s.recordTerminal(ctx, tx, id, field, value); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit terminal update: %w", err)
	}
	return nil
}

// Get returns the record for id. The bool is false when no row exists.
func (s *Store) Get(ctx context.Context, id string) (recommerce.ContainerRecord, bool, error) {
	var (
		r         recommerce.ContainerRecord
		startedAt string
		startedBy string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT container_id, config, started_at, started_by, group_id, group_size,
	stopped_at, force_stop, exited_at, exit_status,
	health, paused, resumed, tensorboard, logs, data
FROM container WHERE container_id = ?`, id).Scan(
		&r.ContainerID, &r.Config, &startedAt, &startedBy, &r.GroupID, &r.GroupSize,
		&r.StoppedAt, &r.ForceStop, &r.ExitedAt, &r.ExitStatus,
		&r.Health, &r.Paused, &r.Resumed, &r.TensorBoard, &r.Logs, &r.Data,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recommerce.ContainerRecord{}, false, nil
		}
		return recommerce.ContainerRecord{}, false, fmt.Errorf("query container %s: %w", id, err)
	}
	if startedAt != "" {
		t, err := time.Parse(TimeLayout, startedAt)
		if err != nil {
			return recommerce.ContainerRecord{}, false, fmt.Errorf("parse started_at of %s: %w", id, err)
		}
		r.StartedAt = t
	}
	r.StartedBy = recommerce.Role(startedBy)
	return r, true, nil
}

// ExitCode returns the recorded exit status of id, if any.
func (s *Store) ExitCode(ctx context.Context, id string) (int, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT exit_status FROM container WHERE container_id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query exit status of %s: %w", id, err)
	}
	if raw == "" {
		return 0, false, nil
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse exit status of %s: %w", id, err)
	}
	return code, true, nil
}
