// ABOUTME: One-time import of flat-file sessions into a newly created database
// ABOUTME: Each session is imported in its own transaction; failures are logged and skipped

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ImportReport counts the outcome of a legacy import.
type ImportReport struct {
	Imported int
	Failed   int
}

// importLegacy loads every session the loader finds in dir. It never fails:
// problems with individual sessions only lower the imported count.
func (s *SQLiteStore) importLegacy(ctx context.Context, loader LegacyLoader, dir string) ImportReport {
	var report ImportReport

	entries, err := loader.ListSessions(dir)
	if err != nil {
		s.logger.Warn("listing legacy sessions", "dir", dir, "error", err)
		return report
	}

	for _, entry := range entries {
		sess, err := loader.LoadSession(entry.Name, entry.Path)
		if err != nil {
			s.logger.Warn("loading legacy session", "name", entry.Name, "path", entry.Path, "error", err)
			report.Failed++
			continue
		}
		if err := s.importSession(ctx, sess); err != nil {
			s.logger.Warn("importing legacy session", "name", entry.Name, "error", err)
			report.Failed++
			continue
		}
		report.Imported++
	}

	s.logger.Info("legacy import finished", "dir", dir, "imported", report.Imported, "failed", report.Failed)
	return report
}

// importSession writes the session row and its conversation atomically.
func (s *SQLiteStore) importSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("legacy session has no id")
	}

	extensionData := sess.ExtensionData
	if extensionData == nil {
		extensionData = ExtensionData{}
	}
	ext, err := json.Marshal(extensionData)
	if err != nil {
		return &SerializationError{Field: "extension_data", Err: err}
	}

	var recipe any
	if len(sess.Recipe) > 0 {
		if !json.Valid(sess.Recipe) {
			return &SerializationError{Field: "recipe_json", Err: fmt.Errorf("invalid JSON document")}
		}
		recipe = string(sess.Recipe)
	}

	created := s.timestampOrNow(sess.CreatedAt)
	updated := s.timestampOrNow(sess.UpdatedAt)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				id, description, working_dir, created_at, updated_at, extension_data,
				total_tokens, input_tokens, output_tokens,
				accumulated_total_tokens, accumulated_input_tokens, accumulated_output_tokens,
				schedule_id, recipe_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sess.ID, sess.Description, sess.WorkingDir, created, updated, string(ext),
			ptrArg(sess.TotalTokens), ptrArg(sess.InputTokens), ptrArg(sess.OutputTokens),
			ptrArg(sess.AccumulatedTotalTokens), ptrArg(sess.AccumulatedInputTokens), ptrArg(sess.AccumulatedOutputTokens),
			ptrArg(sess.ScheduleID), recipe)
		if err != nil {
			return fmt.Errorf("inserting session %s: %w", sess.ID, err)
		}
		return replaceMessages(ctx, tx, sess.ID, sess.Conversation)
	})
}

func (s *SQLiteStore) timestampOrNow(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return formatTimestamp(t)
}
