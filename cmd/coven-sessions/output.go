// ABOUTME: Plain-text rendering of sessions, tool events and statistics
// ABOUTME: Tables are aligned with tabwriter; no colors so output pipes cleanly

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/2389/coven-sessions/internal/classifier"
	"github.com/2389/coven-sessions/internal/naming"
	"github.com/2389/coven-sessions/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

func writeSessionTable(w io.Writer, sessions []*store.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDESCRIPTION\tMESSAGES\tUPDATED\tDIR")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, orDash(s.Description), s.MessageCount, s.UpdatedAt.Local().Format(timeLayout), s.WorkingDir)
	}
	return tw.Flush()
}

func writeSession(w io.Writer, s *store.Session) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", s.ID)
	fmt.Fprintf(tw, "Description:\t%s\n", orDash(s.Description))
	fmt.Fprintf(tw, "Working dir:\t%s\n", s.WorkingDir)
	fmt.Fprintf(tw, "Created:\t%s\n", s.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(tw, "Updated:\t%s\n", s.UpdatedAt.Local().Format(timeLayout))
	fmt.Fprintf(tw, "Messages:\t%d\n", s.MessageCount)
	if s.TotalTokens != nil {
		fmt.Fprintf(tw, "Tokens:\t%d\n", *s.TotalTokens)
	}
	if title := s.Recipe.Title(); title != "" {
		fmt.Fprintf(tw, "Recipe:\t%s\n", title)
	}
	if s.ScheduleID != nil {
		fmt.Fprintf(tw, "Schedule:\t%s\n", *s.ScheduleID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if s.Conversation == nil {
		return nil
	}
	for _, msg := range s.Conversation.Messages {
		text := naming.MessageText(msg.Content)
		if text == "" {
			text = "(" + string(msg.Content) + ")"
		}
		if _, err := fmt.Fprintf(w, "\n[%s]\n%s\n", msg.Role, text); err != nil {
			return err
		}
	}
	return nil
}

func writeStats(w io.Writer, s *store.Session, stats *store.ToolStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s %s\n", s.ID, orDash(s.Description))
	fmt.Fprintf(tw, "Tool calls:\t%d\n", stats.TotalCalls)
	fmt.Fprintf(tw, "Succeeded:\t%d (%.1f%%)\n", stats.SuccessfulCalls, 100*stats.SuccessRate())
	fmt.Fprintf(tw, "Failed:\t%d (%.1f%%)\n", stats.FailedCalls, 100*stats.ErrorRate())
	fmt.Fprintf(tw, "Cancelled:\t%d\n", stats.CancelledCalls)
	fmt.Fprintf(tw, "Avg duration:\t%.0fms\n", stats.AvgDurationMs)
	if err := tw.Flush(); err != nil {
		return err
	}

	if err := writeCounts(w, "By tool", stats.CallsByTool); err != nil {
		return err
	}
	if err := writeCounts(w, "By operation", stats.CallsByOperation); err != nil {
		return err
	}

	if len(stats.FileOperations) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nFile operations:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, op := range stats.FileOperations {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", op.Timestamp.Local().Format(timeLayout), op.OperationType, op.FilePath)
	}
	return tw.Flush()
}

// writeCounts prints counts sorted by descending count, then name.
func writeCounts(w io.Writer, title string, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Fprintf(w, "\n%s:\n", title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%d\n", name, counts[name])
	}
	return tw.Flush()
}

func writeToolEvents(w io.Writer, events []*store.ToolEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No tool events.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOOL\tOPERATION\tSTATUS\tSTARTED\tDURATION\tFILE")
	for _, e := range events {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ToolName, derefDash(e.OperationType), e.Status,
			e.StartedAt.Local().Format(timeLayout), duration, derefDash(e.FilePath))
	}
	return tw.Flush()
}

func writeClassified(w io.Writer, tool classifier.ClassifiedTool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tool:\t%s\n", tool.OriginalName)
	fmt.Fprintf(tw, "Operation:\t%s\n", tool.Operation)
	fmt.Fprintf(tw, "Metrics name:\t%s\n", tool.MetricsName())
	fmt.Fprintf(tw, "Detailed name:\t%s\n", tool.DetailedName())
	if tool.Extension != "" {
		fmt.Fprintf(tw, "Extension:\t%s\n", tool.Extension)
	}
	var meta []string
	if tool.Metadata.FilePath != nil {
		meta = append(meta, "file_path="+*tool.Metadata.FilePath)
	}
	if tool.Metadata.Command != nil {
		meta = append(meta, "command="+*tool.Metadata.Command)
	}
	if tool.Metadata.Query != nil {
		meta = append(meta, "query="+*tool.Metadata.Query)
	}
	if len(meta) > 0 {
		fmt.Fprintf(tw, "Metadata:\t%s\n", strings.Join(meta, " "))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func derefDash(p *string) string {
	if p == nil {
		return "-"
	}
	return orDash(*p)
}
