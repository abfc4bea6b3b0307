package llmclient

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is a second ChatClient implementation, selectable by
// configuration alongside MistralClient: a thin translation from our
// generic Message slice to sdk.MessageNewParams and back to plain text,
// with no retries and the caller's context deadline as the only timeout.
type AnthropicClient struct {
	messages  messagesAPI
	maxTokens int64
}

// messagesAPI is the subset of *sdk.MessageService used here, so tests can
// substitute a fake.
type messagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// NewAnthropicClient builds a client from an API key. maxTokens bounds the
// completion length (Anthropic's Messages API requires an explicit cap).
func NewAnthropicClient(apiKey string, maxTokens int64) *AnthropicClient {
	client := sdk.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{messages: &client.Messages, maxTokens: maxTokens}
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	var system string
	var turns []sdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	model := opts.Model
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_5)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(sdk.TextBlock); ok {
				out += tb.Text
			}
		}
	}
	return out, nil
}
