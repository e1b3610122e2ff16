// ABOUTME: Session name providers and helpers for reading message text
// ABOUTME: FirstMessageProvider derives a name offline from the first user turn

package naming

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/2389/coven-sessions/internal/store"
)

// MaxNameRunes bounds generated session descriptions.
const MaxNameRunes = 60

// ErrNoUserText is returned when a conversation has nothing to name it after.
var ErrNoUserText = errors.New("conversation has no user text")

// Provider generates a short human-readable session description.
type Provider interface {
	GenerateSessionName(ctx context.Context, conv *store.Conversation) (string, error)
}

// FirstMessageProvider names a session after its first user message.
type FirstMessageProvider struct{}

func (FirstMessageProvider) GenerateSessionName(_ context.Context, conv *store.Conversation) (string, error) {
	if conv == nil {
		return "", ErrNoUserText
	}
	for _, msg := range conv.Messages {
		if msg.Role != store.RoleUser {
			continue
		}
		if name := cleanName(MessageText(msg.Content)); name != "" {
			return name, nil
		}
	}
	return "", ErrNoUserText
}

// MessageText extracts the plain text of a message payload. A bare JSON
// string is returned as is; for an array of content parts the text of every
// {"type":"text"} part is joined with newlines.
func MessageText(content json.RawMessage) string {
	v := gjson.ParseBytes(content)
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var parts []string
		v.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				if text := part.Get("text").String(); text != "" {
					parts = append(parts, text)
				}
			}
			return true
		})
		return strings.Join(parts, "\n")
	case v.IsObject() && v.Get("type").String() == "text":
		return v.Get("text").String()
	}
	return ""
}

// cleanName collapses whitespace, strips wrapping quotes and truncates to
// MaxNameRunes.
func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxNameRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxNameRunes]))
}
