// Package llmclient wraps an external chat-completions endpoint (spec.md
// §4.4): a thin client with no retries, a fixed per-call timeout, and a
// defensive JSON-extraction helper used by the Planner and Auditor to
// coerce LLM replies into structured data.
package llmclient

import (
	"context"
	"encoding/json"
	"strings"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// ChatOptions controls one Chat call.
type ChatOptions struct {
	Model       string
	Temperature float32
}

// ChatClient is satisfied by every provider implementation (Mistral-
// compatible chat-completions, Anthropic messages API, ...). Planner and
// Auditor depend only on this interface.
type ChatClient interface {
	// Chat sends messages and returns the assistant's raw text reply.
	// Implementations add no timeout of their own: the deadline carried
	// by ctx is the only bound. There are no retries.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// ExtractJSONObject attempts a full JSON parse of raw into v. On failure
// it extracts the substring between the first '{' and the last '}' and
// retries once (spec.md §4.4). Returns an error if both attempts fail.
func ExtractJSONObject(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return json.Unmarshal([]byte(raw), v) // surface the original parse error
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}
