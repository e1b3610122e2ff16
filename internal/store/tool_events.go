// ABOUTME: Tool event ledger for the SQLite store
// ABOUTME: Records tool start and completion spans with durations computed in SQL

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/coven-sessions/internal/classifier"
)

// RecordToolStart inserts a running event and returns its id.
func (s *SQLiteStore) RecordToolStart(ctx context.Context, sessionID, toolName string, operationType, filePath *string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_events (session_id, tool_name, status, operation_type, file_path, started_at)
		SELECT ?, ?, ?, ?, ?, `+sqlNow+`
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?)
	`, sessionID, toolName, string(ToolStatusRunning), ptrArg(operationType), ptrArg(filePath), sessionID)
	if err != nil {
		return 0, fmt.Errorf("recording tool start: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading tool event id: %w", err)
	}

	s.metrics.recordStart(ctx, toolName, operationType)
	s.logger.Debug("tool started", "session_id", sessionID, "event_id", id, "tool", toolName)
	return id, nil
}

// RecordToolComplete moves a running event to a terminal status and stores
// its duration. Completing an event that is not running fails with
// ErrToolEventNotRunning and leaves the row untouched.
func (s *SQLiteStore) RecordToolComplete(ctx context.Context, eventID int64, status ToolStatus, errorMessage *string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		durationMs    int64
		operationType sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE tool_events
		SET status = ?,
			error_message = ?,
			completed_at = `+sqlNow+`,
			duration_ms = MAX(0, CAST(ROUND((julianday('now') - julianday(started_at)) * 86400000) AS INTEGER))
		WHERE id = ? AND status = ?
		RETURNING duration_ms, operation_type
	`, string(status), ptrArg(errorMessage), eventID, string(ToolStatusRunning)).Scan(&durationMs, &operationType)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: event %d", ErrToolEventNotRunning, eventID)
	}
	if err != nil {
		return fmt.Errorf("recording tool completion: %w", err)
	}

	s.metrics.recordComplete(ctx, status, nullStringPtr(operationType), durationMs)
	s.logger.Debug("tool completed", "event_id", eventID, "status", status, "duration_ms", durationMs)
	return nil
}

// ListToolEvents returns a session's ledger in start order.
func (s *SQLiteStore) ListToolEvents(ctx context.Context, sessionID string) ([]*ToolEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, tool_name, status, error_message, operation_type, file_path,
			started_at, completed_at, duration_ms
		FROM tool_events
		WHERE session_id = ?
		ORDER BY started_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing tool events: %w", err)
	}
	defer rows.Close()

	var events []*ToolEvent
	for rows.Next() {
		var (
			ev               ToolEvent
			status           string
			errMsg, op, path sql.NullString
			startedAt        string
			completedAt      sql.NullString
			duration         sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ToolName, &status, &errMsg, &op, &path,
			&startedAt, &completedAt, &duration); err != nil {
			return nil, fmt.Errorf("scanning tool event: %w", err)
		}

		ev.Status = ToolStatus(status)
		ev.ErrorMessage = nullStringPtr(errMsg)
		ev.OperationType = nullStringPtr(op)
		ev.FilePath = nullStringPtr(path)
		if ev.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := parseTimestamp(completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at: %w", err)
			}
			ev.CompletedAt = &t
		}
		if duration.Valid {
			d := duration.Int64
			ev.DurationMs = &d
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool events: %w", err)
	}
	return events, nil
}

// RecordClassifiedStart records the start of a classified tool call, storing
// its metrics name as the operation type and any extracted file path.
func RecordClassifiedStart(ctx context.Context, st Store, sessionID string, tool classifier.ClassifiedTool) (int64, error) {
	op := tool.MetricsName()
	return st.RecordToolStart(ctx, sessionID, tool.OriginalName, &op, tool.Metadata.FilePath)
}
