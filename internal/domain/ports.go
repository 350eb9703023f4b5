package domain

import (
	"context"
	"encoding/json"
)

// CorrelationIDHeader carries the correlation id across agent boundaries.
const CorrelationIDHeader = "X-Correlation-ID"

// PeerMessage is the payload posted to a peer's task-submission endpoint.
type PeerMessage struct {
	Skill         string          `json:"skill,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// PeerResponse is the envelope a peer returns for a submitted task.
type PeerResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id,omitempty"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolInvoker abstracts tool invocation against the provider pool.
type ToolInvoker interface {
	Invoke(ctx context.Context, provider, tool string, args map[string]any) (*ToolResult, error)
	ToolsOf(provider string) []Tool
}

// PeerCaller abstracts task submission to named peer agents.
type PeerCaller interface {
	Send(ctx context.Context, peer string, msg PeerMessage) (*PeerResponse, error)
}
