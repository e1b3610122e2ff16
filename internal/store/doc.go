// Package store provides durable storage for agent sessions using SQLite.
//
// # Architecture
//
// Store is the single interface consumed by the rest of the module. It groups
// three concerns that share one database:
//
//   - Sessions: day-scoped ids (YYYYMMDD_N), partial updates, listing, insights
//   - Conversation log: ordered user/assistant messages with opaque JSON content
//   - Tool ledger: start/complete spans of tool calls and their aggregates
//
// SQLiteStore implements Store. MockStore is an in-memory implementation for
// tests of code that consumes a Store.
//
// # Data Models
//
//   - Session: working context with token counters, extension data and recipe
//   - Message: one conversation turn; Created is a caller-supplied clock
//   - ToolEvent: one tool invocation, running until completed
//   - ToolStats: per-session aggregates computed from the ledger on each call
//
// Partial updates go through SessionPatch, where every field is unset,
// set to NULL or set to a value:
//
//	err := s.UpdateSession(ctx, id, store.Patch().
//		Description("refactor parser").
//		TotalTokens(nil))
//
// # SQLite Configuration
//
// Every pooled connection is opened with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=<Options.BusyTimeout>;
//
// Write transactions begin IMMEDIATE so that concurrent session creation
// serializes on the database lock instead of failing on upgrade.
// modernc.org/sqlite is the default driver; github.com/mattn/go-sqlite3 can be
// selected with Options.Driver.
//
// # Schema Versions
//
// The schema_version table records applied versions. A new database is created
// at CurrentSchemaVersion directly. An existing one is migrated one version at
// a time, each step in its own transaction with its version row. A database
// without schema_version is treated as version 0 (sessions and messages only).
//
// # Error Handling
//
//   - ErrNotFound: session does not exist
//   - ErrInvalidRole, ErrInvalidStatus: rejected input
//   - ErrToolEventNotRunning: completion of an unknown or finished event
//   - *SchemaError: unsupported on-disk schema, Open fails
//   - *StorageUnavailableError: database could not be opened
//   - *SerializationError: malformed JSON in message content or input
//
// # Process Lifetime
//
// Handle opens the store on first use and shares it. Create one per process
// and pass it to the components that need storage.
package store
