// ABOUTME: Versioned schema management for the session database
// ABOUTME: Creates fresh databases at the current version and migrates older ones step by step

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// CurrentSchemaVersion is the schema version this binary reads and writes.
const CurrentSchemaVersion = 3

// freshSchema is the complete current schema. It must stay equivalent to the
// baseline tables plus every migration below.
const freshSchema = `
	CREATE TABLE schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		working_dir TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		extension_data TEXT DEFAULT '{}',
		total_tokens INTEGER,
		input_tokens INTEGER,
		output_tokens INTEGER,
		accumulated_total_tokens INTEGER,
		accumulated_input_tokens INTEGER,
		accumulated_output_tokens INTEGER,
		schedule_id TEXT,
		recipe_json TEXT
	);

	CREATE TABLE messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content_json TEXT NOT NULL,
		created_timestamp INTEGER NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		tokens INTEGER
	);

	CREATE INDEX idx_messages_session ON messages(session_id);
	CREATE INDEX idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX idx_sessions_updated ON sessions(updated_at DESC);

	CREATE TABLE tool_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		duration_ms INTEGER, operation_type TEXT, file_path TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_tool_events_session ON tool_events(session_id);
	CREATE INDEX idx_tool_events_tool_name ON tool_events(tool_name);
	CREATE INDEX idx_tool_events_status ON tool_events(status);
	CREATE INDEX idx_tool_events_operation ON tool_events(operation_type);
	CREATE INDEX idx_tool_events_file_path ON tool_events(file_path);
`

// migrations holds the fixed structural changes for each version.
// Version 0 is a database written before version tracking existed:
// it has the sessions and messages tables only.
var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	2: {
		`CREATE TABLE tool_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			duration_ms INTEGER,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX idx_tool_events_session ON tool_events(session_id)`,
		`CREATE INDEX idx_tool_events_tool_name ON tool_events(tool_name)`,
		`CREATE INDEX idx_tool_events_status ON tool_events(status)`,
	},
	3: {
		`ALTER TABLE tool_events ADD COLUMN operation_type TEXT`,
		`ALTER TABLE tool_events ADD COLUMN file_path TEXT`,
		`CREATE INDEX idx_tool_events_operation ON tool_events(operation_type)`,
		`CREATE INDEX idx_tool_events_file_path ON tool_events(file_path)`,
	},
}

// isEmpty reports whether the database has no sessions table yet.
func (s *SQLiteStore) isEmpty(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sessions'`,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// createSchema builds the current schema and stamps it, without replaying migrations.
func (s *SQLiteStore) createSchema(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, freshSchema); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("stamping schema version: %w", err)
		}
		s.logger.Info("created schema", "version", CurrentSchemaVersion)
		return nil
	})
}

// schemaVersion returns the highest applied version, or 0 without a version table.
func (s *SQLiteStore) schemaVersion(ctx context.Context) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.schemaVersion(ctx)
}

// runMigrations brings an existing database up to CurrentSchemaVersion.
func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	return s.migrateTo(ctx, CurrentSchemaVersion)
}

// migrateTo applies migrations one version at a time, recording each
// version in the same transaction as its changes.
func (s *SQLiteStore) migrateTo(ctx context.Context, target int) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > target {
		return &SchemaError{Version: current, Reason: fmt.Sprintf("database is newer than supported version %d", target)}
	}
	if current == target {
		return nil
	}

	s.logger.Info("running database migrations", "from", current, "to", target)
	for version := current + 1; version <= target; version++ {
		stmts, ok := migrations[version]
		if !ok {
			return &SchemaError{Version: version, Reason: "unknown migration version"}
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("applying migration v%d: %w", version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
				return fmt.Errorf("recording migration v%d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

// schemaDescription renders tables, columns and indexes in a stable form
// so two databases can be compared structurally.
func (s *SQLiteStore) schemaDescription(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, name, tbl_name FROM sqlite_master
		WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return "", fmt.Errorf("listing schema objects: %w", err)
	}
	type object struct{ kind, name, table string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.kind, &o.name, &o.table); err != nil {
			rows.Close()
			return "", fmt.Errorf("scanning schema object: %w", err)
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating schema objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].kind != objects[j].kind {
			return objects[i].kind < objects[j].kind
		}
		return objects[i].name < objects[j].name
	})

	var b strings.Builder
	for _, o := range objects {
		fmt.Fprintf(&b, "%s %s on %s\n", o.kind, o.name, o.table)
		var q string
		if o.kind == "table" {
			q = `SELECT name || ' ' || type || ' notnull=' || "notnull" || ' default=' || COALESCE(dflt_value, 'NULL') || ' pk=' || pk
				FROM pragma_table_info(?) ORDER BY cid`
		} else {
			q = `SELECT COALESCE(name, '<expr>') || ' desc=' || "desc" FROM pragma_index_xinfo(?) WHERE key = 1 ORDER BY seqno`
		}
		cols, err := s.db.QueryContext(ctx, q, o.name)
		if err != nil {
			return "", fmt.Errorf("describing %s: %w", o.name, err)
		}
		for cols.Next() {
			var line string
			if err := cols.Scan(&line); err != nil {
				cols.Close()
				return "", fmt.Errorf("scanning %s: %w", o.name, err)
			}
			b.WriteString("  " + line + "\n")
		}
		cols.Close()
		if err := cols.Err(); err != nil {
			return "", fmt.Errorf("iterating %s: %w", o.name, err)
		}
	}
	return b.String(), nil
}
