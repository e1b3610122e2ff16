// ABOUTME: Tool ledger aggregation for the SQLite store
// ABOUTME: Computes per-session counts, average duration, breakdowns and the file timeline

package store

import (
	"context"
	"fmt"
)

// GetToolStats aggregates a session's tool events. Nothing is cached; every
// call reads the ledger.
func (s *SQLiteStore) GetToolStats(ctx context.Context, sessionID string) (*ToolStats, error) {
	stats := &ToolStats{
		CallsByTool:      map[string]int{},
		CallsByOperation: map[string]int{},
		FileOperations:   []FileOperation{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0.0)
		FROM tool_events
		WHERE session_id = ?
	`, sessionID).Scan(&stats.TotalCalls, &stats.SuccessfulCalls, &stats.FailedCalls,
		&stats.CancelledCalls, &stats.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("counting tool events: %w", err)
	}

	if err := s.countBy(ctx, "tool_name", sessionID, stats.CallsByTool); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "operation_type", sessionID, stats.CallsByOperation); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, operation_type, started_at
		FROM tool_events
		WHERE session_id = ? AND file_path IS NOT NULL AND operation_type IS NOT NULL
		ORDER BY started_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying file operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op        FileOperation
			startedAt string
		)
		if err := rows.Scan(&op.FilePath, &op.OperationType, &startedAt); err != nil {
			return nil, fmt.Errorf("scanning file operation: %w", err)
		}
		if op.Timestamp, err = parseTimestamp(startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		stats.FileOperations = append(stats.FileOperations, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file operations: %w", err)
	}

	return stats, nil
}

// countBy fills into with event counts grouped by column, skipping NULLs.
// column is always one of the fixed names passed by GetToolStats.
func (s *SQLiteStore) countBy(ctx context.Context, column, sessionID string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*)
		FROM tool_events
		WHERE session_id = ? AND `+column+` IS NOT NULL
		GROUP BY `+column, sessionID)
	if err != nil {
		return fmt.Errorf("grouping tool events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scanning %s count: %w", column, err)
		}
		into[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating %s counts: %w", column, err)
	}
	return nil
}
