// ABOUTME: Subcommands of coven-sessions
// ABOUTME: Session inspection and recording commands, plus classify and rename

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/classifier"
	"github.com/2389/coven-sessions/internal/naming"
	"github.com/2389/coven-sessions/internal/store"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions that have messages, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(sessions)
			}
			return writeSessionTable(a.out, sessions)
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|description>",
		Short: "Show a session and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			id, err := resolveSession(ctx, st, args[0])
			if err != nil {
				return err
			}
			sess, err := st.GetSession(ctx, id, true)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(sess)
			}
			return writeSession(a.out, sess)
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [id|description]",
		Short: "Show tool statistics for a session (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.store(ctx)
			if err != nil {
				return err
			}

			var sess *store.Session
			if len(args) == 1 {
				sess, err = st.FindSession(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					sess, err = st.GetSession(ctx, args[0], false)
				}
			} else {
				sess, err = st.LatestSession(ctx)
			}
			if err != nil {
				return fmt.Errorf("finding session: %w", err)
			}

			stats, err := st.GetToolStats(ctx, sess.ID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(struct {
					Session *store.Session   `json:"session"`
					Stats   *store.ToolStats `json:"stats"`
				}{sess, stats})
			}
			return writeStats(a.out, sess, stats)
		},
	}
}

func (a *app) insightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Show totals across all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			ins, err := st.Insights(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(ins)
			}
			fmt.Fprintf(a.out, "Sessions: %d\nTokens:   %d\n", ins.TotalSessions, ins.TotalTokens)
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session with its messages and tool events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.DeleteSession(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			if a.jsonOut {
				return a.printJSON(map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(a.out, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var workingDir, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := st.CreateSession(cmd.Context(), workingDir, description)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(sess)
			}
			fmt.Fprintln(a.out, sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workingDir, "dir", ".", "Working directory of the session")
	cmd.Flags().StringVar(&description, "description", "", "Session description")
	return cmd
}

func (a *app) appendCmd() *cobra.Command {
	var created int64
	cmd := &cobra.Command{
		Use:   "append <session-id> <user|assistant> <content>",
		Short: "Append a message; content is JSON, or plain text wrapped as a text part",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if created == 0 {
				created = time.Now().Unix()
			}
			msg := store.Message{
				Role:    store.Role(args[1]),
				Created: created,
				Content: messageContent(args[2]),
			}
			return st.AppendMessage(cmd.Context(), args[0], msg)
		},
	}
	cmd.Flags().Int64Var(&created, "created", 0, "Logical creation time (default: now, unix seconds)")
	return cmd
}

func (a *app) toolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Record and list tool events",
	}

	start := &cobra.Command{
		Use:   "start <session-id> <tool-name> [json-args]",
		Short: "Classify a tool call and record it as running; prints the event id",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			tool := classifier.Classify(args[1], optionalArg(args, 2))
			id, err := store.RecordClassifiedStart(cmd.Context(), st, args[0], tool)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(struct {
					EventID int64                     `json:"event_id"`
					Tool    classifier.ClassifiedTool `json:"tool"`
				}{id, tool})
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}

	var errorMessage string
	complete := &cobra.Command{
		Use:   "complete <event-id> <success|error|cancelled>",
		Short: "Mark a running tool event as finished",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			var msg *string
			if errorMessage != "" {
				msg = &errorMessage
			}
			return st.RecordToolComplete(cmd.Context(), id, store.ToolStatus(args[1]), msg)
		},
	}
	complete.Flags().StringVar(&errorMessage, "error", "", "Error message to record")

	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the tool events of a session in start order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			events, err := st.ListToolEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(events)
			}
			return writeToolEvents(a.out, events)
		},
	}

	cmd.AddCommand(start, complete, list)
	return cmd
}

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <tool-name> [json-args]",
		Short: "Classify a tool call without recording it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool := classifier.Classify(args[0], optionalArg(args, 1))
			if a.jsonOut {
				return a.printJSON(tool)
			}
			return writeClassified(a.out, tool)
		},
	}
}

// errNamingDisabled is returned by rename when naming.enabled is off.
var errNamingDisabled = errors.New("session naming is disabled; set naming.enabled in the config")

func (a *app) renameCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "rename [id]",
		Short: "Regenerate descriptions of sessions still in their opening turns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Naming.Enabled {
				return errNamingDisabled
			}
			ctx := cmd.Context()
			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			provider, err := naming.NewProvider(a.cfg.Naming)
			if err != nil {
				return err
			}
			m := naming.NewMaintainer(st, provider, a.cfg.Naming.Threshold, a.logger)

			if watch {
				sched, err := naming.NewScheduler(m, a.cfg.Naming.Schedule, a.logger)
				if err != nil {
					return err
				}
				return sched.Run(ctx)
			}

			if len(args) == 1 {
				renamed, err := m.MaybeUpdateDescription(ctx, args[0])
				if err != nil {
					return err
				}
				return a.reportRenamed(btoi(renamed))
			}

			renamed, err := m.Sweep(ctx)
			if reportErr := a.reportRenamed(renamed); reportErr != nil {
				return reportErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and sweep on naming.schedule")
	return cmd
}

func (a *app) reportRenamed(n int) error {
	if a.jsonOut {
		return a.printJSON(map[string]int{"renamed": n})
	}
	fmt.Fprintf(a.out, "Renamed %d session(s)\n", n)
	return nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Open the database, bring its schema up to date and report the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			version, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(struct {
					Path          string              `json:"path"`
					SchemaVersion int                 `json:"schema_version"`
					LegacyImport  *store.ImportReport `json:"legacy_import,omitempty"`
				}{a.cfg.Database.Path, version, st.LastImport})
			}
			fmt.Fprintf(a.out, "%s: schema version %d\n", a.cfg.Database.Path, version)
			if st.LastImport != nil {
				fmt.Fprintf(a.out, "Imported %d legacy session(s), %d failed\n", st.LastImport.Imported, st.LastImport.Failed)
			}
			return nil
		},
	}
}

// resolveSession accepts a listed session's id or description, or any
// existing session id.
func resolveSession(ctx context.Context, st *store.SQLiteStore, ref string) (string, error) {
	sess, err := st.FindSession(ctx, ref)
	if err == nil {
		return sess.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return ref, nil
}

// messageContent returns arg if it is a JSON document, or else wraps it as a
// single text content part.
func messageContent(arg string) json.RawMessage {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	content, _ := json.Marshal([]map[string]string{{"type": "text", "text": arg}})
	return content
}

func optionalArg(args []string, i int) json.RawMessage {
	if len(args) > i {
		return json.RawMessage(args[i])
	}
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
