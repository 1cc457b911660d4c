package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaProvider streams from a local Ollama daemon. Ollama answers
// /api/chat with one JSON object per line rather than SSE.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string       `json:"model"`
	Messages []ollamaTurn `json:"messages"`
	Stream   bool         `json:"stream"`
}

type ollamaLine struct {
	Message ollamaTurn `json:"message"`
	Done    bool       `json:"done"`
	Error   string     `json:"error,omitempty"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{},
	}
}

func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		if err := p.stream(ctx, messages, chunks); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (p *OllamaProvider) stream(ctx context.Context, messages []Message, chunks chan<- string) error {
	turns := make([]ollamaTurn, len(messages))
	for i, m := range messages {
		turns[i] = ollamaTurn{Role: m.Role, Content: m.Content}
	}
	body, err := json.Marshal(ollamaRequest{Model: p.Model, Messages: turns, Stream: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var line ollamaLine
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4*1024)).Decode(&line)
		if line.Error != "" {
			return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, line.Error)
		}
		return fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var line ollamaLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ollama: decode stream: %w", err)
		}
		if line.Error != "" {
			return errors.New(line.Error)
		}
		if line.Message.Content != "" && !emit(ctx, chunks, line.Message.Content) {
			return ctx.Err()
		}
		if line.Done {
			return nil
		}
	}
}
