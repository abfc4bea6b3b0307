package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clearcoreai/orchestrator/internal/corelog"
)

// MistralClient is an OpenAI-compatible chat-completions client: same
// request shape (messages/model/temperature), same bearer-token auth,
// same no-retry/fixed-timeout contract as the other provider adapters in
// this package. ClearCoreAI's orchestrator targets Mistral's
// chat-completions endpoint, which is wire-compatible.
type MistralClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     corelog.Logger
}

// NewMistralClient builds a client bound to apiKey. baseURL defaults to
// Mistral's public API when empty.
func NewMistralClient(apiKey, baseURL string, logger corelog.Logger) *MistralClient {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1"
	}
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &MistralClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat implements ChatClient. The caller's ctx already carries the
// operation-specific deadline (feasibility ~20s, planning ~30s, audit
// ~45s per spec.md §5); Chat does not add its own timeout on top, and it
// never retries on failure.
func (c *MistralClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("mistral API key not configured")
	}

	payload := chatRequest{Model: opts.Model, Temperature: opts.Temperature}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	c.logger.DebugWithContext(ctx, "llm chat completed", map[string]interface{}{"status": resp.StatusCode, "elapsed_ms": time.Since(start).Milliseconds()})

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mistral API error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	return parsed.Choices[0].Message.Content, nil
}
