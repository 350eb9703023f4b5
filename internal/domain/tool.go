package domain

import "encoding/json"

// Tool describes one invocable operation exposed by a tool provider.
// Immutable once retrieved from the provider's catalog.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	Content     string `json:"content"`
	IsError     bool   `json:"is_error"`
	IsRetryable bool   `json:"is_retryable,omitempty"`
}
