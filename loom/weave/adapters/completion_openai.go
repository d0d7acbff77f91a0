package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the provider answers without any choice.
var ErrEmptyCompletion = errors.New("empty chat response")

// OpenAIConfig holds the completion client configuration.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Organization string
	Timeout      time.Duration
	MaxRetries   int
	// Backoff is the wait before the first retry; it doubles on every attempt.
	Backoff time.Duration
}

// OpenAICompleter implements Completer with the OpenAI chat completions API.
type OpenAICompleter struct {
	client *openai.Client
	config OpenAIConfig
	logger zerolog.Logger
}

// NewOpenAICompleter creates a completer. Zero values fall back to one attempt
// and a 60s timeout.
func NewOpenAICompleter(cfg OpenAIConfig, logger zerolog.Logger) *OpenAICompleter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.OrgID = cfg.Organization
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger,
	}
}

// Complete sends one chat completion request and returns the first choice.
func (c *OpenAICompleter) Complete(ctx context.Context, msgs []ports.RequestMessage, maxTokens int, params ports.SamplingParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:            params.Model,
		Messages:         toOpenAIMessages(msgs),
		MaxTokens:        maxTokens,
		Temperature:      params.Temperature,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	var result string
	err := c.doWithRetry(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyCompletion
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

func (c *OpenAICompleter) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	wait := c.config.Backoff
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || errors.Is(lastErr, ErrEmptyCompletion) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == c.config.MaxRetries-1 {
			break
		}
		c.logger.Debug().Err(lastErr).Int("attempt", attempt+1).Dur("wait_time", wait).Msg("completion failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
	return lastErr
}

func toOpenAIMessages(msgs []ports.RequestMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
			Name:    sanitizeName(m.Name),
		}
	}
	return out
}

func openAIRole(r ports.Role) string {
	switch r {
	case ports.RoleUser:
		return openai.ChatMessageRoleUser
	case ports.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case ports.RoleFunction:
		return openai.ChatMessageRoleFunction
	}
	return openai.ChatMessageRoleSystem
}

// sanitizeName maps an author onto the provider's name alphabet: [a-zA-Z0-9_-]{1,64}.
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		if b.Len() == 64 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ ports.Completer = (*OpenAICompleter)(nil)
