// Package llm talks to a chat-completion provider and routes each call to the
// execution profile picked by the complexity classifier.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProviderUnavailable = errors.New("completion provider unavailable")
	ErrEmptyCompletion     = errors.New("completion response has no choices")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one finished completion. Usage is nil when the provider did not report token counts.
type Response struct {
	Text  string
	Model string
	Usage *Usage
}

// Chunk is one piece of a streamed completion. The last chunk on a channel has
// Done set, or Err set when the stream broke; the channel is closed after it.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Provider is any chat-completion backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream returns once the provider accepted the request. Chunks arrive on an
	// unbuffered channel, so a slow reader slows the upstream read.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// ProviderUnavailableError is returned when both the routed profile and the
// simple-tier fallback failed. errors.Is matches ErrProviderUnavailable and
// either underlying error.
type ProviderUnavailableError struct {
	Model         string
	FallbackModel string
	Primary       error
	Fallback      error
}

func (e *ProviderUnavailableError) Error() string {
	var b strings.Builder
	b.WriteString(ErrProviderUnavailable.Error())
	fmt.Fprintf(&b, ": %s: %v", e.Model, e.Primary)
	if e.Fallback != nil {
		fmt.Fprintf(&b, "; fallback %s: %v", e.FallbackModel, e.Fallback)
	}
	return b.String()
}

func (e *ProviderUnavailableError) Unwrap() []error {
	errs := []error{ErrProviderUnavailable}
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

func messages(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}
