// ABOUTME: End-to-end tests for the coven-sessions commands
// ABOUTME: Each test runs the CLI against its own temporary database

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/store"
)

type cli struct {
	t       *testing.T
	cfgPath string
	dbPath  string
}

func newCLI(t *testing.T, extraConfig string) *cli {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")
	cfgPath := filepath.Join(dir, "sessions.yaml")
	cfg := fmt.Sprintf(`
database:
  path: %q
legacy:
  import_on_create: false
logging:
  level: "error"
%s`, dbPath, extraConfig)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return &cli{t: t, cfgPath: cfgPath, dbPath: dbPath}
}

func (c *cli) run(args ...string) (string, string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), append([]string{"--config", c.cfgPath}, args...), &out, &errOut)
	return out.String(), errOut.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, err := c.run(args...)
	require.NoError(c.t, err, "stderr: %s", errOut)
	return out
}

func (c *cli) mustJSON(v any, args ...string) {
	c.t.Helper()
	out := c.mustRun(append(args, "--json")...)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func (c *cli) createSession(description string) string {
	c.t.Helper()
	var sess store.Session
	c.mustJSON(&sess, "create", "--dir", "/repo", "--description", description)
	require.NotEmpty(c.t, sess.ID)
	return sess.ID
}

func TestCLI_SessionLifecycle(t *testing.T) {
	c := newCLI(t, "")

	id := c.createSession("parser work")
	c.mustRun("append", id, "user", "fix the parser", "--created", "100")
	c.mustRun("append", id, "assistant", `[{"type":"text","text":"done"}]`, "--created", "101")

	var sessions []store.Session
	c.mustJSON(&sessions, "list")
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].MessageCount)

	table := c.mustRun("list")
	assert.Contains(t, table, "DESCRIPTION")
	assert.Contains(t, table, "parser work")

	shown := c.mustRun("show", "parser work")
	assert.Contains(t, shown, "ID:")
	assert.Contains(t, shown, id)
	assert.Contains(t, shown, "[user]\nfix the parser")
	assert.Contains(t, shown, "[assistant]\ndone")

	var full store.Session
	c.mustJSON(&full, "show", id)
	require.NotNil(t, full.Conversation)
	assert.Len(t, full.Conversation.Messages, 2)

	c.mustRun("delete", id)
	assert.Contains(t, c.mustRun("list"), "No sessions.")

	_, _, err := c.run("delete", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLI_AppendRejectsUnknownRole(t *testing.T) {
	c := newCLI(t, "")
	id := c.createSession("")

	_, _, err := c.run("append", id, "system", "hello")
	assert.ErrorIs(t, err, store.ErrInvalidRole)

	_, _, err = c.run("append", "19700101_1", "user", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLI_ToolLedger(t *testing.T) {
	c := newCLI(t, "")
	id := c.createSession("tools")
	c.mustRun("append", id, "user", "write a file")

	var started struct {
		EventID int64 `json:"event_id"`
		Tool    struct {
			MetricsName string `json:"metrics_name"`
			Metadata    struct {
				FilePath string `json:"file_path"`
			} `json:"metadata"`
		} `json:"tool"`
	}
	c.mustJSON(&started, "tool", "start", id, "text_editor", `{"command":"write","path":"/a.go"}`)
	assert.Equal(t, "file_create", started.Tool.MetricsName)
	assert.Equal(t, "/a.go", started.Tool.Metadata.FilePath)

	eventID := strconv.FormatInt(started.EventID, 10)
	c.mustRun("tool", "complete", eventID, "success")

	_, _, err := c.run("tool", "complete", eventID, "success")
	assert.ErrorIs(t, err, store.ErrToolEventNotRunning)

	failedID := strings.TrimSpace(c.mustRun("tool", "start", id, "shell", `{"command":"make"}`))
	_, _, err = c.run("tool", "complete", failedID, "running")
	assert.ErrorIs(t, err, store.ErrInvalidStatus)
	c.mustRun("tool", "complete", failedID, "error", "--error", "exit 2")

	var events []store.ToolEvent
	c.mustJSON(&events, "tool", "list", id)
	require.Len(t, events, 2)
	assert.Equal(t, store.ToolStatusSuccess, events[0].Status)
	assert.Equal(t, store.ToolStatusError, events[1].Status)
	require.NotNil(t, events[1].ErrorMessage)
	assert.Equal(t, "exit 2", *events[1].ErrorMessage)

	var report struct {
		Stats store.ToolStats `json:"stats"`
	}
	c.mustJSON(&report, "stats", id)
	assert.Equal(t, 2, report.Stats.TotalCalls)
	assert.Equal(t, 1, report.Stats.SuccessfulCalls)
	assert.Equal(t, 1, report.Stats.FailedCalls)
	assert.Equal(t, map[string]int{"file_create": 1, "command_execute": 1}, report.Stats.CallsByOperation)
	require.Len(t, report.Stats.FileOperations, 1)
	assert.Equal(t, "/a.go", report.Stats.FileOperations[0].FilePath)

	text := c.mustRun("stats")
	assert.Contains(t, text, "Tool calls:")
	assert.Contains(t, text, "50.0%")
	assert.Contains(t, text, "File operations:")
}

func TestCLI_StatsWithoutSessions(t *testing.T) {
	c := newCLI(t, "")

	_, _, err := c.run("stats")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLI_Classify(t *testing.T) {
	c := newCLI(t, "")

	var tool struct {
		OriginalName string `json:"original_name"`
		Extension    string `json:"extension"`
		MetricsName  string `json:"metrics_name"`
		DetailedName string `json:"detailed_name"`
	}
	c.mustJSON(&tool, "classify", "developer__shell", `{"command":"ls"}`)
	assert.Equal(t, "developer__shell", tool.OriginalName)
	assert.Equal(t, "developer", tool.Extension)
	assert.Equal(t, "command_execute", tool.MetricsName)
	assert.Equal(t, "developer::command_execute", tool.DetailedName)

	text := c.mustRun("classify", "mystery_tool")
	assert.Contains(t, text, "mystery_tool")

	// Classification never touches the database.
	_, err := os.Stat(c.dbPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_Migrate(t *testing.T) {
	c := newCLI(t, "")

	var report struct {
		Path          string `json:"path"`
		SchemaVersion int    `json:"schema_version"`
	}
	c.mustJSON(&report, "migrate")
	assert.Equal(t, c.dbPath, report.Path)
	assert.Equal(t, store.CurrentSchemaVersion, report.SchemaVersion)

	assert.Contains(t, c.mustRun("migrate"), "schema version 3")
}

func TestCLI_DBFlagOverridesConfig(t *testing.T) {
	c := newCLI(t, "")
	other := filepath.Join(t.TempDir(), "other.db")

	c.mustRun("--db", other, "migrate")

	_, err := os.Stat(other)
	assert.NoError(t, err)
	_, err = os.Stat(c.dbPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_Insights(t *testing.T) {
	c := newCLI(t, "")
	c.createSession("a")
	c.createSession("b")

	var ins store.Insights
	c.mustJSON(&ins, "insights")
	assert.Equal(t, 2, ins.TotalSessions)
	assert.Equal(t, int64(0), ins.TotalTokens)
}

func TestCLI_Rename(t *testing.T) {
	c := newCLI(t, `
naming:
  enabled: true
  provider: "first_message"
  threshold: 3
`)
	id := c.createSession("")
	c.mustRun("append", id, "user", "add retry logic to the uploader")

	var result map[string]int
	c.mustJSON(&result, "rename")
	assert.Equal(t, 1, result["renamed"])

	var sess store.Session
	c.mustJSON(&sess, "show", id)
	assert.Equal(t, "add retry logic to the uploader", sess.Description)

	// Same name again is not a rename.
	c.mustJSON(&result, "rename", id)
	assert.Equal(t, 0, result["renamed"])
}

func TestCLI_RenameDisabled(t *testing.T) {
	c := newCLI(t, `
naming:
  enabled: false
`)
	id := c.createSession("")
	c.mustRun("append", id, "user", "add retry logic to the uploader")

	_, _, err := c.run("rename")
	assert.ErrorIs(t, err, errNamingDisabled)
	_, _, err = c.run("rename", "--watch")
	assert.ErrorIs(t, err, errNamingDisabled)

	var sess store.Session
	c.mustJSON(&sess, "show", id)
	assert.Empty(t, sess.Description)
}

func TestCLI_MetricsReported(t *testing.T) {
	c := newCLI(t, `
metrics:
  enabled: true
`)
	// Raise the log level so the metrics summary is visible.
	cfg, err := os.ReadFile(c.cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.cfgPath, bytes.Replace(cfg, []byte(`level: "error"`), []byte("level: \"info\"\n  format: \"json\""), 1), 0644))

	id := c.createSession("")
	_, errOut, err := c.run("tool", "start", id, "shell", `{"command":"ls"}`)
	require.NoError(t, err)

	assert.Contains(t, errOut, "tool ledger metrics")
	assert.Contains(t, errOut, `"coven_sessions.tool_events.started":1`)
	assert.Contains(t, errOut, `"run_id":`)
}

func TestCLI_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: loud\n"), 0644))

	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--config", cfgPath, "list"}, &out, &errOut)
	assert.ErrorContains(t, err, "logging.level")
}
