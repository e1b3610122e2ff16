// ABOUTME: Keeps session descriptions current during the opening turns of a session
// ABOUTME: Renames a session while its user turn count is within the threshold

package naming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-sessions/internal/store"
)

// DefaultThreshold is the number of user turns after which names are frozen.
const DefaultThreshold = 3

// AutoDescriptionKey is the extension data key holding the last description
// the maintainer applied. A session whose description differs from it was
// titled by someone else and is left alone.
const AutoDescriptionKey = "coven.auto_description"

// Maintainer applies provider-generated descriptions to sessions.
type Maintainer struct {
	store     store.Store
	provider  Provider
	threshold int
	logger    *slog.Logger
}

// NewMaintainer creates a Maintainer. A threshold below 1 uses DefaultThreshold.
func NewMaintainer(st store.Store, provider Provider, threshold int, logger *slog.Logger) *Maintainer {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		store:     st,
		provider:  provider,
		threshold: threshold,
		logger:    logger.With("component", "naming"),
	}
}

// MaybeUpdateDescription regenerates the description of session id if it has
// at most threshold user messages. It reports whether the session was renamed.
// Sessions without user text, and sessions whose description was set by
// someone other than the maintainer, are left alone.
func (m *Maintainer) MaybeUpdateDescription(ctx context.Context, id string) (bool, error) {
	sess, err := m.store.GetSession(ctx, id, true)
	if err != nil {
		return false, fmt.Errorf("loading session %s: %w", id, err)
	}
	if !hasDefaultTitle(sess) {
		return false, nil
	}

	userTurns := sess.Conversation.UserMessageCount()
	if userTurns == 0 || userTurns > m.threshold {
		return false, nil
	}

	name, err := m.provider.GenerateSessionName(ctx, sess.Conversation)
	if errors.Is(err, ErrNoUserText) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("generating name for %s: %w", id, err)
	}
	if name == sess.Description {
		return false, nil
	}

	ext, err := markAutoDescription(sess.ExtensionData, name)
	if err != nil {
		return false, err
	}
	if err := m.store.UpdateSession(ctx, id, store.Patch().Description(name).ExtensionData(ext)); err != nil {
		return false, fmt.Errorf("updating description of %s: %w", id, err)
	}

	m.logger.Info("session renamed", "session_id", id, "description", name, "user_turns", userTurns)
	return true, nil
}

// Sweep runs MaybeUpdateDescription over every listed session. Failures are
// logged and joined into the returned error; the sweep continues past them.
func (m *Maintainer) Sweep(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}

	renamed := 0
	var errs []error
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := m.MaybeUpdateDescription(ctx, sess.ID)
		if err != nil {
			m.logger.Warn("rename failed", "session_id", sess.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			renamed++
		}
	}

	m.logger.Debug("naming sweep finished", "sessions", len(sessions), "renamed", renamed)
	return renamed, errors.Join(errs...)
}

// hasDefaultTitle reports whether the description is empty or the last one
// the maintainer applied.
func hasDefaultTitle(sess *store.Session) bool {
	if sess.Description == "" {
		return true
	}
	raw, ok := sess.ExtensionData[AutoDescriptionKey]
	if !ok {
		return false
	}
	var auto string
	if err := json.Unmarshal(raw, &auto); err != nil {
		return false
	}
	return auto == sess.Description
}

// markAutoDescription returns a copy of ext recording name as maintainer-applied.
func markAutoDescription(ext store.ExtensionData, name string) (store.ExtensionData, error) {
	raw, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("encoding description marker: %w", err)
	}
	out := make(store.ExtensionData, len(ext)+1)
	for k, v := range ext {
		out[k] = v
	}
	out[AutoDescriptionKey] = raw
	return out, nil
}
