// ABOUTME: Conversation log persistence for the SQLite store
// ABOUTME: Appends, atomically replaces and reads the ordered messages of a session

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// AppendMessage adds one message to a session and refreshes its updated_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := touchSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return insertMessage(ctx, tx, sessionID, msg)
	})
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("appended message", "session_id", sessionID, "role", msg.Role)
	return nil
}

// ReplaceConversation swaps every message of a session for conv in one
// transaction. Readers see either the old set or the new one.
func (s *SQLiteStore) ReplaceConversation(ctx context.Context, sessionID string, conv *Conversation) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := touchSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return replaceMessages(ctx, tx, sessionID, conv)
	})
	if err != nil {
		return fmt.Errorf("replacing conversation: %w", err)
	}

	s.logger.Debug("replaced conversation", "session_id", sessionID, "messages", conv.Len())
	return nil
}

// GetConversation reads a session's messages in storage order.
// Messages with a role this version does not know are skipped.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content_json, created_timestamp, tokens
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	conv := &Conversation{Messages: []Message{}}
	for rows.Next() {
		var (
			role    string
			content string
			msg     Message
			tokens  sql.NullInt32
		)
		if err := rows.Scan(&role, &content, &msg.Created, &tokens); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Role = Role(role)
		if !msg.Role.Valid() {
			s.logger.Warn("skipping message with unknown role", "session_id", sessionID, "role", role)
			continue
		}
		if !json.Valid([]byte(content)) {
			return nil, &SerializationError{Field: "content_json", Err: fmt.Errorf("session %s: invalid JSON", sessionID)}
		}
		msg.Content = json.RawMessage(content)
		msg.Tokens = nullInt32(tokens)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return conv, nil
}

func validateMessage(msg Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if !json.Valid(msg.Content) {
		return &SerializationError{Field: "content_json", Err: errors.New("invalid JSON")}
	}
	return nil
}

// touchSession refreshes updated_at, failing with ErrNotFound for an unknown session.
func touchSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = `+sqlNow+` WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, msg Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content_json, created_timestamp, timestamp, tokens)
		VALUES (?, ?, ?, ?, `+sqlNow+`, ?)
	`, sessionID, string(msg.Role), string(msg.Content), msg.Created, ptrArg(msg.Tokens))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// replaceMessages deletes and reinserts inside tx. Each message is validated
// as it is written, so a bad message aborts the whole replacement.
func replaceMessages(ctx context.Context, tx *sql.Tx, sessionID string, conv *Conversation) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if conv == nil {
		return nil
	}
	for i, msg := range conv.Messages {
		if err := validateMessage(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if err := insertMessage(ctx, tx, sessionID, msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
