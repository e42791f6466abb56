package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	maxResponseSize = 10 << 20
	maxSSELineSize  = 1 << 20
)

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	// Azure switches to deployment URLs and the api-key header.
	Azure      bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIProvider speaks the OpenAI chat-completions protocol, plain or Azure-hosted.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	apiVersion string
	azure      bool
	client     *http.Client
	stream     *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	// Streams are bounded by the caller's context, not a client timeout.
	stream := *client
	stream.Timeout = 0
	unary := *client
	unary.Timeout = timeout

	return &OpenAIProvider{
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiVersion: cfg.APIVersion,
		azure:      cfg.Azure,
		client:     &unary,
		stream:     &stream,
	}
}

type chatRequest struct {
	Request
	Stream bool `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.do(ctx, p.client, chatRequest{Request: req})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	usage := out.Usage
	if usage != nil && usage.TotalTokens == 0 {
		usage = nil
	}
	return &Response{
		Text:  out.Choices[0].Message.Content,
		Model: model,
		Usage: usage,
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := p.do(ctx, p.stream, chatRequest{Request: req, Stream: true})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				send(ctx, chunks, Chunk{Done: true})
				return
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				send(ctx, chunks, Chunk{Err: fmt.Errorf("decode stream event: %w", err)})
				return
			}
			for _, choice := range ev.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(ctx, chunks, Chunk{Text: choice.Delta.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(ctx, chunks, Chunk{Err: fmt.Errorf("read stream: %w", err)})
			return
		}
		send(ctx, chunks, Chunk{Err: io.ErrUnexpectedEOF})
	}()
	return chunks, nil
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *OpenAIProvider) endpoint(model string) string {
	if p.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiVersion))
	}
	return p.baseURL + "/chat/completions"
}

func (p *OpenAIProvider) do(ctx context.Context, client *http.Client, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(body.Model), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		if p.azure {
			httpReq.Header.Set("api-key", p.apiKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, parseAPIError(resp.StatusCode, raw)
	}
	return resp, nil
}

func parseAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
	var body apiErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		if body.Error.Code != nil {
			apiErr.Code = fmt.Sprint(body.Error.Code)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
