// ABOUTME: Session name provider backed by an OpenAI-compatible chat completion endpoint
// ABOUTME: Sends the opening user turns and asks for a terse description

package naming

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/store"
)

// ChatClient is the subset of the OpenAI client used for naming.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const namingPrompt = `You name work sessions between a developer and a coding agent.
Reply with a description of the session in four words or fewer.

Requirements:
- Describe the task, not the people
- No punctuation at the end, no quotes
- Plain text only`

// maxPromptChars caps how much conversation text is sent for naming.
const maxPromptChars = 4000

// OpenAIProvider generates names with a chat completion model.
type OpenAIProvider struct {
	client    ChatClient
	model     string
	maxTokens int
}

// NewOpenAIProvider builds a provider from the naming config section.
func NewOpenAIProvider(cfg config.NamingConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIProviderWithClient(openai.NewClientWithConfig(clientCfg), cfg.Model)
}

// NewOpenAIProviderWithClient wraps an existing client.
func NewOpenAIProviderWithClient(client ChatClient, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{client: client, model: model, maxTokens: 20}
}

func (p *OpenAIProvider) GenerateSessionName(ctx context.Context, conv *store.Conversation) (string, error) {
	transcript := userTranscript(conv)
	if transcript == "" {
		return "", ErrNoUserText
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: namingPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("naming request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from naming model")
	}

	name := cleanName(resp.Choices[0].Message.Content)
	if name == "" {
		return "", fmt.Errorf("naming model returned an empty name")
	}
	return name, nil
}

// userTranscript joins the user turns of conv, bounded by maxPromptChars.
func userTranscript(conv *store.Conversation) string {
	if conv == nil {
		return ""
	}
	var b strings.Builder
	for _, msg := range conv.Messages {
		if msg.Role != store.RoleUser {
			continue
		}
		text := strings.TrimSpace(MessageText(msg.Content))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(text)
		if b.Len() >= maxPromptChars {
			break
		}
	}
	s := b.String()
	if len(s) > maxPromptChars {
		s = strings.ToValidUTF8(s[:maxPromptChars], "")
	}
	return s
}

// NewProvider selects a provider by the configured name.
func NewProvider(cfg config.NamingConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg), nil
	case config.ProviderFirstMessage, "":
		return FirstMessageProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown naming provider %q", cfg.Provider)
	}
}
