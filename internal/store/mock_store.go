// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session  // keyed by session ID
	messages   map[string][]Message // keyed by session ID
	toolEvents map[int64]*ToolEvent // keyed by event ID
	nextEvent  int64
	daySeq     map[string]int64 // keyed by YYYYMMDD
	now        func() time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:   make(map[string]*Session),
		messages:   make(map[string][]Message),
		toolEvents: make(map[int64]*ToolEvent),
		daySeq:     make(map[string]int64),
		now:        time.Now,
	}
}

// CreateSession stores a new session with the next id for today.
func (m *MockStore) CreateSession(ctx context.Context, workingDir, description string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	day := now.Format("20060102")
	m.daySeq[day]++
	id := fmt.Sprintf("%s_%d", day, m.daySeq[day])

	m.sessions[id] = &Session{
		ID:            id,
		Description:   description,
		WorkingDir:    workingDir,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		ExtensionData: ExtensionData{},
	}
	return m.copySession(id, false), nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string, includeMessages bool) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[id]; !ok {
		return nil, ErrNotFound
	}
	return m.copySession(id, includeMessages), nil
}

// UpdateSession applies the fields set in patch.
func (m *MockStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	if patch.Empty() {
		return nil
	}
	if _, err := patch.assignments(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(s)
	s.UpdatedAt = m.now().UTC()
	return nil
}

// ListSessions returns sessions with messages, most recently updated first.
func (m *MockStore) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for id := range m.sessions {
		if len(m.messages[id]) == 0 {
			continue
		}
		result = append(result, m.copySession(id, false))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// DeleteSession removes a session, its messages and its tool events.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	for eid, ev := range m.toolEvents {
		if ev.SessionID == id {
			delete(m.toolEvents, eid)
		}
	}
	return nil
}

// Insights totals sessions and tokens.
func (m *MockStore) Insights(ctx context.Context) (*Insights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ins := &Insights{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		switch {
		case s.AccumulatedTotalTokens != nil:
			ins.TotalTokens += int64(*s.AccumulatedTotalTokens)
		case s.TotalTokens != nil:
			ins.TotalTokens += int64(*s.TotalTokens)
		}
	}
	return ins, nil
}

// AppendMessage adds a message to a session.
func (m *MockStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	m.messages[sessionID] = append(m.messages[sessionID], copyMessage(msg))
	s.UpdatedAt = m.now().UTC()
	return nil
}

// ReplaceConversation swaps a session's messages for conv.
func (m *MockStore) ReplaceConversation(ctx context.Context, sessionID string, conv *Conversation) error {
	var msgs []Message
	if conv != nil {
		for i, msg := range conv.Messages {
			if err := validateMessage(msg); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			msgs = append(msgs, copyMessage(msg))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	m.messages[sessionID] = msgs
	s.UpdatedAt = m.now().UTC()
	return nil
}

// GetConversation returns a session's messages in insertion order.
func (m *MockStore) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.copyConversation(sessionID), nil
}

// RecordToolStart records a running tool event.
func (m *MockStore) RecordToolStart(ctx context.Context, sessionID, toolName string, operationType, filePath *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, ErrNotFound
	}
	m.nextEvent++
	m.toolEvents[m.nextEvent] = &ToolEvent{
		ID:            m.nextEvent,
		SessionID:     sessionID,
		ToolName:      toolName,
		Status:        ToolStatusRunning,
		OperationType: copyString(operationType),
		FilePath:      copyString(filePath),
		StartedAt:     m.now().UTC(),
	}
	return m.nextEvent, nil
}

// RecordToolComplete moves a running event to a terminal status.
func (m *MockStore) RecordToolComplete(ctx context.Context, eventID int64, status ToolStatus, errorMessage *string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.toolEvents[eventID]
	if !ok || ev.Status != ToolStatusRunning {
		return fmt.Errorf("%w: event %d", ErrToolEventNotRunning, eventID)
	}
	now := m.now().UTC()
	d := now.Sub(ev.StartedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	ev.Status = status
	ev.ErrorMessage = copyString(errorMessage)
	ev.CompletedAt = &now
	ev.DurationMs = &d
	return nil
}

// ListToolEvents returns a session's events in start order.
func (m *MockStore) ListToolEvents(ctx context.Context, sessionID string) ([]*ToolEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessionEvents(sessionID), nil
}

// GetToolStats aggregates a session's tool events.
func (m *MockStore) GetToolStats(ctx context.Context, sessionID string) (*ToolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &ToolStats{
		CallsByTool:      map[string]int{},
		CallsByOperation: map[string]int{},
		FileOperations:   []FileOperation{},
	}
	var durationSum, durationCount int64
	for _, ev := range m.sessionEvents(sessionID) {
		stats.TotalCalls++
		switch ev.Status {
		case ToolStatusSuccess:
			stats.SuccessfulCalls++
		case ToolStatusError:
			stats.FailedCalls++
		case ToolStatusCancelled:
			stats.CancelledCalls++
		}
		if ev.DurationMs != nil {
			durationSum += *ev.DurationMs
			durationCount++
		}
		stats.CallsByTool[ev.ToolName]++
		if ev.OperationType != nil {
			stats.CallsByOperation[*ev.OperationType]++
			if ev.FilePath != nil {
				stats.FileOperations = append(stats.FileOperations, FileOperation{
					FilePath:      *ev.FilePath,
					OperationType: *ev.OperationType,
					Timestamp:     ev.StartedAt,
				})
			}
		}
	}
	if durationCount > 0 {
		stats.AvgDurationMs = float64(durationSum) / float64(durationCount)
	}
	return stats, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// SetNow replaces the mock's clock.
func (m *MockStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// sessionEvents must be called with the lock held.
func (m *MockStore) sessionEvents(sessionID string) []*ToolEvent {
	var events []*ToolEvent
	for _, ev := range m.toolEvents {
		if ev.SessionID == sessionID {
			c := *ev
			events = append(events, &c)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}

// copySession must be called with the lock held.
func (m *MockStore) copySession(id string, includeMessages bool) *Session {
	s := *m.sessions[id]
	s.ExtensionData = make(ExtensionData, len(m.sessions[id].ExtensionData))
	for k, v := range m.sessions[id].ExtensionData {
		s.ExtensionData[k] = append([]byte(nil), v...)
	}
	s.Recipe = append(Recipe(nil), s.Recipe...)
	if len(s.Recipe) == 0 {
		s.Recipe = nil
	}
	s.MessageCount = len(m.messages[id])
	s.Conversation = nil
	if includeMessages {
		s.Conversation = m.copyConversation(id)
	}
	return &s
}

func (m *MockStore) copyConversation(sessionID string) *Conversation {
	conv := &Conversation{Messages: []Message{}}
	for _, msg := range m.messages[sessionID] {
		conv.Messages = append(conv.Messages, copyMessage(msg))
	}
	return conv
}

func copyMessage(msg Message) Message {
	msg.Content = append([]byte(nil), msg.Content...)
	if msg.Tokens != nil {
		t := *msg.Tokens
		msg.Tokens = &t
	}
	return msg
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
