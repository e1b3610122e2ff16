// ABOUTME: Session CRUD for the SQLite store
// ABOUTME: Day-scoped id allocation, partial updates, listing, deletion and token insights

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const sessionColumns = `s.id, s.description, s.working_dir, s.created_at, s.updated_at, s.extension_data,
	s.total_tokens, s.input_tokens, s.output_tokens,
	s.accumulated_total_tokens, s.accumulated_input_tokens, s.accumulated_output_tokens,
	s.schedule_id, s.recipe_json`

// sessionIDPrefix returns the UTC day part of session ids created now.
func (s *SQLiteStore) sessionIDPrefix() string {
	return s.now().UTC().Format("20060102")
}

// CreateSession allocates the next id for the current day and inserts the session.
// The read of the day's highest suffix and the insert share one transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, workingDir, description string) (*Session, error) {
	prefix := s.sessionIDPrefix()

	var id string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var maxSuffix sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(CAST(SUBSTR(id, 10) AS INTEGER)) FROM sessions WHERE id LIKE ? ESCAPE '\'
		`, prefix+`\_%`).Scan(&maxSuffix)
		if err != nil {
			return fmt.Errorf("reading highest session id: %w", err)
		}

		id = prefix + "_" + strconv.FormatInt(maxSuffix.Int64+1, 10)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, description, working_dir, created_at, updated_at, extension_data)
			VALUES (?, ?, ?, `+sqlNow+`, `+sqlNow+`, '{}')
		`, id, description, workingDir)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "session_id", id, "working_dir", workingDir)
	return s.GetSession(ctx, id, false)
}

// GetSession retrieves a session by id. With includeMessages the conversation
// is loaded and MessageCount is its length; otherwise only the count is read.
func (s *SQLiteStore) GetSession(ctx context.Context, id string, includeMessages bool) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = ?
	`, id)

	sess, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	if includeMessages {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		sess.Conversation = conv
		sess.MessageCount = len(conv.Messages)
		return sess, nil
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, id).Scan(&sess.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	return sess, nil
}

// UpdateSession applies the fields set in patch. An empty patch does nothing.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	if patch.Empty() {
		return nil
	}

	query, args, err := patch.updateSQL(id)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated session", "session_id", id)
	return nil
}

// ListSessions returns sessions that have at least one message, most recently
// updated first, each with its live message count.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`, COUNT(m.id) AS message_count
		FROM sessions s
		INNER JOIN messages m ON s.id = m.session_id
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var count int
		sess, err := s.scanSession(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.MessageCount = count
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session with its messages and tool events.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking session: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tool_events WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("deleting tool events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("deleted session", "session_id", id)
	return nil
}

// Insights totals sessions and tokens. Each session contributes its
// accumulated total if set, else its last total, else zero.
func (s *SQLiteStore) Insights(ctx context.Context) (*Insights, error) {
	var ins Insights
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(COALESCE(accumulated_total_tokens, total_tokens, 0)), 0)
		FROM sessions
	`).Scan(&ins.TotalSessions, &ins.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("computing insights: %w", err)
	}
	return &ins, nil
}

// FindSession resolves a listed session by id, or else by exact description.
func (s *SQLiteStore) FindSession(ctx context.Context, idOrDescription string) (*Session, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID == idOrDescription {
			return sess, nil
		}
	}
	for _, sess := range sessions {
		if sess.Description == idOrDescription {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

// LatestSession returns the most recently updated session that has messages.
func (s *SQLiteStore) LatestSession(ctx context.Context) (*Session, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return sessions[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads the sessionColumns of one row, followed by any extra destinations.
func (s *SQLiteStore) scanSession(row rowScanner, extra ...any) (*Session, error) {
	var (
		sess                 Session
		createdAt, updatedAt string
		extensionData        sql.NullString
		total, input, output sql.NullInt32
		accTotal, accInput   sql.NullInt32
		accOutput            sql.NullInt32
		scheduleID, recipe   sql.NullString
	)

	dest := []any{
		&sess.ID, &sess.Description, &sess.WorkingDir, &createdAt, &updatedAt, &extensionData,
		&total, &input, &output, &accTotal, &accInput, &accOutput,
		&scheduleID, &recipe,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	if sess.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	sess.ExtensionData = ExtensionData{}
	if extensionData.Valid && strings.TrimSpace(extensionData.String) != "" {
		var data ExtensionData
		if err := json.Unmarshal([]byte(extensionData.String), &data); err != nil {
			s.logger.Warn("ignoring malformed extension data", "session_id", sess.ID, "error", err)
		} else if data != nil {
			sess.ExtensionData = data
		}
	}

	sess.TotalTokens = nullInt32(total)
	sess.InputTokens = nullInt32(input)
	sess.OutputTokens = nullInt32(output)
	sess.AccumulatedTotalTokens = nullInt32(accTotal)
	sess.AccumulatedInputTokens = nullInt32(accInput)
	sess.AccumulatedOutputTokens = nullInt32(accOutput)
	sess.ScheduleID = nullStringPtr(scheduleID)

	if recipe.Valid && recipe.String != "" {
		if json.Valid([]byte(recipe.String)) {
			sess.Recipe = Recipe(recipe.String)
		} else {
			s.logger.Warn("ignoring malformed recipe", "session_id", sess.ID)
		}
	}

	return &sess, nil
}
