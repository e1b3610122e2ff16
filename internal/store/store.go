// ABOUTME: Store interface and data types for agent session persistence
// ABOUTME: Defines Session, Message, ToolEvent, ToolStats and the Store interface

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Role identifies the author of a conversation message.
// Only user and assistant messages are persisted.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role can be written to the message log.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ToolStatus is the lifecycle state of a tool event.
type ToolStatus string

const (
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusSuccess   ToolStatus = "success"
	ToolStatusError     ToolStatus = "error"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// Terminal reports whether the status ends a tool event.
func (s ToolStatus) Terminal() bool {
	switch s {
	case ToolStatusSuccess, ToolStatusError, ToolStatusCancelled:
		return true
	}
	return false
}

// ExtensionData is per-session state owned by agent extensions.
// Values are kept as raw JSON so the store never interprets them.
type ExtensionData map[string]json.RawMessage

// Recipe is the serialized recipe document a session was started from.
type Recipe json.RawMessage

// Title returns the recipe title, or "" if the document has none.
func (r Recipe) Title() string {
	return gjson.GetBytes(r, "title").String()
}

// MarshalJSON emits the recipe document verbatim.
func (r Recipe) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], data...)
	return nil
}

// Session is one continuous working context between a user and the agent.
type Session struct {
	ID            string        `json:"id"`
	Description   string        `json:"description"`
	WorkingDir    string        `json:"working_dir"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ExtensionData ExtensionData `json:"extension_data"`

	TotalTokens             *int32 `json:"total_tokens,omitempty"`
	InputTokens             *int32 `json:"input_tokens,omitempty"`
	OutputTokens            *int32 `json:"output_tokens,omitempty"`
	AccumulatedTotalTokens  *int32 `json:"accumulated_total_tokens,omitempty"`
	AccumulatedInputTokens  *int32 `json:"accumulated_input_tokens,omitempty"`
	AccumulatedOutputTokens *int32 `json:"accumulated_output_tokens,omitempty"`

	ScheduleID *string `json:"schedule_id,omitempty"`
	Recipe     Recipe  `json:"recipe,omitempty"`

	// Conversation is only populated when messages were requested.
	Conversation *Conversation `json:"conversation,omitempty"`
	MessageCount int           `json:"message_count"`
}

// Message is a single conversation turn. Content is an opaque JSON payload.
type Message struct {
	Role    Role            `json:"role"`
	Created int64           `json:"created"`
	Content json.RawMessage `json:"content"`
	Tokens  *int32          `json:"tokens,omitempty"`
}

// Conversation is the ordered message sequence of a session.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// NewConversation wraps messages in a Conversation.
func NewConversation(msgs ...Message) *Conversation {
	return &Conversation{Messages: msgs}
}

// Len returns the number of messages; a nil conversation has none.
func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Messages)
}

// UserMessageCount returns how many turns were authored by the user.
func (c *Conversation) UserMessageCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// ToolEvent is a recorded start-to-completion span of one tool invocation.
type ToolEvent struct {
	ID            int64      `json:"id"`
	SessionID     string     `json:"session_id"`
	ToolName      string     `json:"tool_name"`
	Status        ToolStatus `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	OperationType *string    `json:"operation_type,omitempty"`
	FilePath      *string    `json:"file_path,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
}

// FileOperation is one entry of the file-operation timeline.
type FileOperation struct {
	FilePath      string    `json:"file_path"`
	OperationType string    `json:"operation_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToolStats summarizes the tool ledger of a session.
type ToolStats struct {
	TotalCalls       int             `json:"total_calls"`
	SuccessfulCalls  int             `json:"successful_calls"`
	FailedCalls      int             `json:"failed_calls"`
	CancelledCalls   int             `json:"cancelled_calls"`
	AvgDurationMs    float64         `json:"avg_duration_ms"`
	CallsByTool      map[string]int  `json:"calls_by_tool"`
	CallsByOperation map[string]int  `json:"calls_by_operation"`
	FileOperations   []FileOperation `json:"file_operations"`
}

// ErrorRate is the share of calls that ended in error, 0 when there were none.
func (s *ToolStats) ErrorRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// SuccessRate is the share of calls that succeeded, 0 when there were none.
func (s *ToolStats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessfulCalls) / float64(s.TotalCalls)
}

// Insights holds totals across all sessions.
type Insights struct {
	TotalSessions int   `json:"total_sessions"`
	TotalTokens   int64 `json:"total_tokens"`
}

// Store defines session, conversation and tool ledger persistence.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, workingDir, description string) (*Session, error)
	GetSession(ctx context.Context, id string, includeMessages bool) (*Session, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) error
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
	Insights(ctx context.Context) (*Insights, error)

	// Conversation log
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	ReplaceConversation(ctx context.Context, sessionID string, conv *Conversation) error
	GetConversation(ctx context.Context, sessionID string) (*Conversation, error)

	// Tool ledger
	RecordToolStart(ctx context.Context, sessionID, toolName string, operationType, filePath *string) (int64, error)
	RecordToolComplete(ctx context.Context, eventID int64, status ToolStatus, errorMessage *string) error
	ListToolEvents(ctx context.Context, sessionID string) ([]*ToolEvent, error)
	GetToolStats(ctx context.Context, sessionID string) (*ToolStats, error)

	// Close releases any resources held by the store
	Close() error
}

// LegacyEntry names one flat-file session found by a LegacyLoader.
type LegacyEntry struct {
	Name string
	Path string
}

// LegacyLoader reads sessions written before the relational store existed.
type LegacyLoader interface {
	ListSessions(dir string) ([]LegacyEntry, error)
	LoadSession(name, path string) (*Session, error)
}
