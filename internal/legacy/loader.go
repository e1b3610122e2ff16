// ABOUTME: Reader for sessions stored as JSON Lines files before the database existed
// ABOUTME: The first line holds session metadata, each following line one message

package legacy

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2389/coven-sessions/internal/store"
)

const fileExt = ".jsonl"

// maxLineSize bounds a single JSONL line; tool output can make messages large.
const maxLineSize = 16 * 1024 * 1024

// Loader reads legacy session files. It implements store.LegacyLoader.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader that logs skipped lines to logger.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With("component", "legacy")}
}

// metadata is the first line of a session file.
type metadata struct {
	WorkingDir              string              `json:"working_dir"`
	Description             string              `json:"description"`
	ScheduleID              *string             `json:"schedule_id"`
	TotalTokens             *int32              `json:"total_tokens"`
	InputTokens             *int32              `json:"input_tokens"`
	OutputTokens            *int32              `json:"output_tokens"`
	AccumulatedTotalTokens  *int32              `json:"accumulated_total_tokens"`
	AccumulatedInputTokens  *int32              `json:"accumulated_input_tokens"`
	AccumulatedOutputTokens *int32              `json:"accumulated_output_tokens"`
	ExtensionData           store.ExtensionData `json:"extension_data"`
	Recipe                  store.Recipe        `json:"recipe"`
}

type line struct {
	Role    store.Role      `json:"role"`
	Created int64           `json:"created"`
	Content json.RawMessage `json:"content"`
	Tokens  *int32          `json:"tokens"`
}

// ListSessions returns the session files in dir, sorted by name.
// A missing directory holds no sessions.
func (l *Loader) ListSessions(dir string) ([]store.LegacyEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading legacy session dir: %w", err)
	}

	var out []store.LegacyEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		out = append(out, store.LegacyEntry{
			Name: strings.TrimSuffix(e.Name(), fileExt),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadSession parses one session file. The session id is name; creation and
// update times come from the file's modification time.
func (l *Loader) LoadSession(name, path string) (*store.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening legacy session: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat legacy session: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	sess := &store.Session{
		ID:            name,
		CreatedAt:     info.ModTime().UTC(),
		UpdatedAt:     info.ModTime().UTC(),
		ExtensionData: store.ExtensionData{},
		Conversation:  store.NewConversation(),
	}

	lineNo := 0
	sawMetadata := false
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		if !sawMetadata {
			sawMetadata = true
			var md metadata
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				return nil, fmt.Errorf("parsing metadata of %s: %w", name, err)
			}
			applyMetadata(sess, md)
			continue
		}

		var ln line
		if err := json.Unmarshal([]byte(raw), &ln); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", name, lineNo, err)
		}
		if !ln.Role.Valid() {
			l.logger.Debug("skipping message with unknown role", "session", name, "line", lineNo, "role", ln.Role)
			continue
		}
		if len(ln.Content) == 0 {
			ln.Content = json.RawMessage(`[]`)
		}
		sess.Conversation.Messages = append(sess.Conversation.Messages, store.Message{
			Role:    ln.Role,
			Created: ln.Created,
			Content: ln.Content,
			Tokens:  ln.Tokens,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if !sawMetadata {
		return nil, fmt.Errorf("legacy session %s is empty", name)
	}

	sess.MessageCount = len(sess.Conversation.Messages)
	return sess, nil
}

func applyMetadata(sess *store.Session, md metadata) {
	sess.WorkingDir = md.WorkingDir
	sess.Description = md.Description
	sess.ScheduleID = md.ScheduleID
	sess.TotalTokens = md.TotalTokens
	sess.InputTokens = md.InputTokens
	sess.OutputTokens = md.OutputTokens
	sess.AccumulatedTotalTokens = md.AccumulatedTotalTokens
	sess.AccumulatedInputTokens = md.AccumulatedInputTokens
	sess.AccumulatedOutputTokens = md.AccumulatedOutputTokens
	if md.ExtensionData != nil {
		sess.ExtensionData = md.ExtensionData
	}
	sess.Recipe = md.Recipe
}

var _ store.LegacyLoader = (*Loader)(nil)
