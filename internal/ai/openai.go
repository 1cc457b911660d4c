package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// Groq is served by it with the Groq base URL.
type OpenAIProvider struct {
	client      *openai.Client
	Model       string
	MaxTokens   int
	Temperature float32
}

func NewOpenAIProvider(baseURL, apiKey, model string, maxTokens int, temperature float32) (*OpenAIProvider, error) {
	return newOpenAICompatible(baseURL, apiKey, model, maxTokens, temperature, nil)
}

// newOpenAICompatible builds the provider; hc, when set, replaces the default
// HTTP client. Zero maxTokens or temperature leave the server defaults.
func newOpenAICompatible(baseURL, apiKey, model string, maxTokens int, temperature float32, hc *http.Client) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai: model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// StreamChat streams assistant content chunks.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       p.Model,
			Messages:    toOpenAIMessages(messages),
			Stream:      true,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
		if err != nil {
			errs <- err
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !emit(ctx, chunks, delta) {
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}
