package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openTestStore(t, Options{})
}

// openTestStore opens a store in a temporary directory unless opts names a path.
func openTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}

	store, err := Open(context.Background(), opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 10, 30, 0, 0, time.UTC)
	}
}

func textMessage(role Role, created int64, text string) Message {
	content, _ := json.Marshal([]map[string]string{{"type": "text", "text": text}})
	return Message{Role: role, Created: created, Content: content}
}

func strPtr(s string) *string {
	return &s
}

func int32Ptr(n int32) *int32 {
	return &n
}

// setUpdatedAt pins a session's updated_at so ordering tests do not depend on timing.
func setUpdatedAt(t *testing.T, s *SQLiteStore, id string, at time.Time) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTimestamp(at), id)
	require.NoError(t, err)
}

func TestStore_CreateSession(t *testing.T) {
	store := openTestStore(t, Options{Now: fixedClock(2026, time.March, 14)})
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/home/dev/project", "first")
	require.NoError(t, err)

	assert.Equal(t, "20260314_1", sess.ID)
	assert.Equal(t, "/home/dev/project", sess.WorkingDir)
	assert.Equal(t, "first", sess.Description)
	assert.Equal(t, ExtensionData{}, sess.ExtensionData)
	assert.Nil(t, sess.TotalTokens)
	assert.Nil(t, sess.ScheduleID)
	assert.Nil(t, sess.Recipe)
	assert.Nil(t, sess.Conversation)
	assert.Equal(t, 0, sess.MessageCount)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), sess.CreatedAt, time.Minute)

	second, err := store.CreateSession(ctx, "/home/dev/project", "")
	require.NoError(t, err)
	assert.Equal(t, "20260314_2", second.ID)
}

func TestStore_CreateSession_SuffixIsNumeric(t *testing.T) {
	store := openTestStore(t, Options{Now: fixedClock(2026, time.March, 14)})
	ctx := context.Background()

	_, err := store.db.Exec(`INSERT INTO sessions (id, working_dir) VALUES ('20260314_9', '/'), ('20260314_10', '/'), ('20260313_50', '/')`)
	require.NoError(t, err)

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	assert.Equal(t, "20260314_11", sess.ID)
}

func TestStore_CreateSession_NewDayRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	day1 := openTestStore(t, Options{Path: path, Now: fixedClock(2026, time.March, 14)})
	for i := 0; i < 3; i++ {
		_, err := day1.CreateSession(ctx, "/", "")
		require.NoError(t, err)
	}
	require.NoError(t, day1.Close())

	day2 := openTestStore(t, Options{Path: path, Now: fixedClock(2026, time.March, 15)})
	sess, err := day2.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	assert.Equal(t, "20260315_1", sess.ID)
}

func TestStore_CreateSession_DayIsUTC(t *testing.T) {
	// 09:30 on 19 March in UTC+14 is still 18 March in UTC.
	zone := time.FixedZone("UTC+14", 14*60*60)
	store := openTestStore(t, Options{Now: func() time.Time {
		return time.Date(2026, time.March, 19, 9, 30, 0, 0, zone)
	}})

	sess, err := store.CreateSession(context.Background(), "/", "")
	require.NoError(t, err)
	assert.Equal(t, "20260318_1", sess.ID)
}

func TestStore_CreateSession_Concurrent(t *testing.T) {
	store := openTestStore(t, Options{Now: fixedClock(2026, time.March, 14)})
	ctx := context.Background()

	const creators = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ids  []string
		errs []error
	)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess, err := store.CreateSession(ctx, "/", fmt.Sprintf("worker %d", n))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids = append(ids, sess.ID)
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, ids, creators)

	want := make([]string, creators)
	for i := range want {
		want[i] = fmt.Sprintf("20260314_%d", i+1)
	}
	sort.Strings(want)
	sort.Strings(ids)
	assert.Equal(t, want, ids)
}

func TestStore_GetSession_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSession(context.Background(), "20260101_1", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetSession_IncludeMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage(RoleUser, 1, "hi")))
	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage(RoleAssistant, 2, "hello")))

	withoutMessages, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Nil(t, withoutMessages.Conversation)
	assert.Equal(t, 2, withoutMessages.MessageCount)

	withMessages, err := store.GetSession(ctx, sess.ID, true)
	require.NoError(t, err)
	require.NotNil(t, withMessages.Conversation)
	assert.Len(t, withMessages.Conversation.Messages, 2)
	assert.Equal(t, 2, withMessages.MessageCount)
}

func TestStore_UpdateSession_ChangesOnlyPatchedField(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/work", "before")
	require.NoError(t, err)
	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().
		TotalTokens(int32Ptr(100)).
		ScheduleID(strPtr("nightly"))))

	before, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)

	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().Description("after")))

	after, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "after", after.Description)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	after.Description = before.Description
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after)
}

func TestStore_UpdateSession_AllFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/old", "")
	require.NoError(t, err)

	recipe := Recipe(`{"title":"Fix bugs","instructions":"..."}`)
	err = store.UpdateSession(ctx, sess.ID, Patch().
		Description("desc").
		WorkingDir("/new").
		ExtensionData(ExtensionData{"todo": json.RawMessage(`{"items":["a"]}`)}).
		TotalTokens(int32Ptr(1)).
		InputTokens(int32Ptr(2)).
		OutputTokens(int32Ptr(3)).
		AccumulatedTotalTokens(int32Ptr(4)).
		AccumulatedInputTokens(int32Ptr(5)).
		AccumulatedOutputTokens(int32Ptr(6)).
		ScheduleID(strPtr("sched-1")).
		Recipe(recipe))
	require.NoError(t, err)

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "desc", got.Description)
	assert.Equal(t, "/new", got.WorkingDir)
	assert.JSONEq(t, `{"items":["a"]}`, string(got.ExtensionData["todo"]))
	assert.Equal(t, int32(1), *got.TotalTokens)
	assert.Equal(t, int32(2), *got.InputTokens)
	assert.Equal(t, int32(3), *got.OutputTokens)
	assert.Equal(t, int32(4), *got.AccumulatedTotalTokens)
	assert.Equal(t, int32(5), *got.AccumulatedInputTokens)
	assert.Equal(t, int32(6), *got.AccumulatedOutputTokens)
	assert.Equal(t, "sched-1", *got.ScheduleID)
	assert.JSONEq(t, string(recipe), string(got.Recipe))
	assert.Equal(t, "Fix bugs", got.Recipe.Title())
}

func TestStore_UpdateSession_ExplicitNull(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().
		TotalTokens(int32Ptr(10)).
		InputTokens(int32Ptr(7)).
		ScheduleID(strPtr("s")).
		Recipe(Recipe(`{"title":"r"}`))))

	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().
		TotalTokens(nil).
		ScheduleID(nil).
		Recipe(nil)))

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.TotalTokens)
	assert.Nil(t, got.ScheduleID)
	assert.Nil(t, got.Recipe)
	require.NotNil(t, got.InputTokens, "unpatched counters keep their value")
	assert.Equal(t, int32(7), *got.InputTokens)
}

func TestStore_UpdateSession_EmptyPatchIsNoop(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "same")
	require.NoError(t, err)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	setUpdatedAt(t, store, sess.ID, past)

	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch()))

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.True(t, past.Equal(got.UpdatedAt), "updated_at = %v", got.UpdatedAt)
	assert.Equal(t, "same", got.Description)

	// Empty patches never touch the database, even for unknown ids.
	assert.NoError(t, store.UpdateSession(ctx, "missing", Patch()))
}

func TestStore_UpdateSession_BumpsUpdatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	setUpdatedAt(t, store, sess.ID, past)

	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().WorkingDir("/elsewhere")))

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(past))
}

func TestStore_UpdateSession_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateSession(context.Background(), "20260101_1", Patch().Description("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateSession_InvalidRecipe(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)

	err = store.UpdateSession(ctx, sess.ID, Patch().Recipe(Recipe(`{broken`)))
	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
}

func TestStore_ListSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	empty, err := store.CreateSession(ctx, "/", "no messages")
	require.NoError(t, err)
	older, err := store.CreateSession(ctx, "/", "older")
	require.NoError(t, err)
	newer, err := store.CreateSession(ctx, "/", "newer")
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, older.ID, textMessage(RoleUser, 1, "a")))
	require.NoError(t, store.AppendMessage(ctx, older.ID, textMessage(RoleAssistant, 2, "b")))
	require.NoError(t, store.AppendMessage(ctx, newer.ID, textMessage(RoleUser, 1, "c")))

	setUpdatedAt(t, store, older.ID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	setUpdatedAt(t, store, newer.ID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].MessageCount)
	assert.Equal(t, older.ID, sessions[1].ID)
	assert.Equal(t, 2, sessions[1].MessageCount)
	for _, s := range sessions {
		assert.NotEqual(t, empty.ID, s.ID)
	}
}

func TestStore_DeleteSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	keep, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage(RoleUser, 1, "x")))
	require.NoError(t, store.AppendMessage(ctx, keep.ID, textMessage(RoleUser, 1, "y")))
	_, err = store.RecordToolStart(ctx, sess.ID, "shell", nil, nil)
	require.NoError(t, err)
	_, err = store.RecordToolStart(ctx, keep.ID, "shell", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, sess.ID))

	_, err = store.GetSession(ctx, sess.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	var messages, events int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sess.ID).Scan(&messages))
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM tool_events WHERE session_id = ?`, sess.ID).Scan(&events))
	assert.Zero(t, messages)
	assert.Zero(t, events)

	kept, err := store.GetSession(ctx, keep.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.MessageCount)
	keptEvents, err := store.ListToolEvents(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, keptEvents, 1)
}

func TestStore_DeleteSession_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.DeleteSession(context.Background(), "20260101_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Insights(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ins, err := store.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Insights{}, ins)

	accumulated, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	perTurn, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "/", "")
	require.NoError(t, err)

	require.NoError(t, store.UpdateSession(ctx, accumulated.ID, Patch().
		TotalTokens(int32Ptr(10)).
		AccumulatedTotalTokens(int32Ptr(500))))
	require.NoError(t, store.UpdateSession(ctx, perTurn.ID, Patch().TotalTokens(int32Ptr(40))))

	ins, err = store.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ins.TotalSessions)
	assert.Equal(t, int64(540), ins.TotalTokens)
}

func TestStore_ExtensionDataRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)

	key := uuid.New().String()
	data := ExtensionData{key: json.RawMessage(`{"enabled":true,"count":3}`)}
	require.NoError(t, store.UpdateSession(ctx, sess.ID, Patch().ExtensionData(data)))

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	require.Contains(t, got.ExtensionData, key)
	assert.JSONEq(t, `{"enabled":true,"count":3}`, string(got.ExtensionData[key]))
}

func TestStore_MalformedStoredFieldsFallBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	_, err = store.db.Exec(`UPDATE sessions SET extension_data = 'not json', recipe_json = '{oops' WHERE id = ?`, sess.ID)
	require.NoError(t, err)

	got, err := store.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ExtensionData{}, got.ExtensionData)
	assert.Nil(t, got.Recipe)
}

func TestStore_FindSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "/", "parser refactor")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, sess.ID, textMessage(RoleUser, 1, "go")))

	byID, err := store.FindSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byID.ID)

	byName, err := store.FindSession(ctx, "parser refactor")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byName.ID)

	_, err = store.FindSession(ctx, "nothing like it")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LatestSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.LatestSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, "/", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, first.ID, textMessage(RoleUser, 1, "a")))
	require.NoError(t, store.AppendMessage(ctx, second.ID, textMessage(RoleUser, 1, "b")))
	setUpdatedAt(t, store, second.ID, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	latest, err := store.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}
