package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// OpenAIConfig configures the SDK-backed client.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
	ReasoningEffort string
	MaxRetries      int
}

// OpenAIClient generates documents through the OpenAI chat completions API
// (or any compatible endpoint via BaseURL).
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a streaming client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(sdkCfg),
		cfg:    cfg,
	}
}

func (c *OpenAIClient) Settings() Settings {
	return Settings{
		Provider:        "openai",
		Model:           c.cfg.Model,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		ReasoningEffort: c.cfg.ReasoningEffort,
		ReasoningStream: true,
	}
}

// Generate streams one completion. Transient failures before any content
// arrives are retried with exponential backoff; once content has streamed,
// a broken stream returns what was received.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, observe StreamObserver) (*Result, error) {
	req := c.buildRequest(messages)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.generateOnce(ctx, req, observe)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("generate after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *OpenAIClient) generateOnce(ctx context.Context, req openai.ChatCompletionRequest, observe StreamObserver) (*Result, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		content   strings.Builder
		reasoning strings.Builder
		usage     *domain.Usage
	)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep a partial document rather than discarding streamed work.
			if content.Len() > 0 {
				break
			}
			return nil, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
			}
			if choice.Delta.ReasoningContent != "" {
				reasoning.WriteString(choice.Delta.ReasoningContent)
				if observe != nil {
					observe(ReasoningEvent{Kind: "reasoning", Text: choice.Delta.ReasoningContent})
				}
			}
		}

		// Usage arrives in the final chunk when stream options request it.
		if resp.Usage != nil {
			usage = &domain.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
			if details := resp.Usage.CompletionTokensDetails; details != nil {
				usage.ReasoningTokens = details.ReasoningTokens
			}
		}
	}

	html := stripFences(content.String())
	if strings.TrimSpace(html) == "" {
		return nil, errors.New("model returned an empty document")
	}

	result := &Result{HTML: html, Usage: usage}
	if reasoning.Len() > 0 {
		result.Reasoning = &domain.Reasoning{Details: []string{reasoning.String()}}
	}
	return result, nil
}

func (c *OpenAIClient) buildRequest(messages []Message) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: convertMessages(messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if c.cfg.MaxOutputTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxOutputTokens
	}
	if c.cfg.ReasoningEffort != "" {
		req.ReasoningEffort = c.cfg.ReasoningEffort
	}
	return req
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if len(m.Attachments) == 0 {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}
		parts := []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: m.Content,
		}}
		for _, att := range m.Attachments {
			if !strings.HasPrefix(att.MimeType, "image/") || att.Base64 == "" {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", att.MimeType, att.Base64),
				},
			})
		}
		msg.MultiContent = parts
		out = append(out, msg)
	}
	return out
}

// stripFences removes a markdown code fence if the model wrapped the
// document in one despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```html")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
