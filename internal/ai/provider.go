package ai

import (
	"context"
	"errors"
)

// Message is one turn sent upstream. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamProvider streams assistant content chunks.
// Both returned channels are closed when streaming ends; at most one error
// is delivered. Implementations stop sending once ctx is done.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

var ErrMissingCredential = errors.New("ai: api key is required")

// emit forwards one chunk unless ctx is cancelled first.
func emit(ctx context.Context, chunks chan<- string, c string) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
