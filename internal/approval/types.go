// Package approval implements the run/resume protocol that pauses an agent
// on side-effecting tool calls until a human decides.
package approval

import (
	"github.com/MEKXH/opsdesk/internal/conversation"
)

// Status is how a run ended.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAwaitingApproval Status = "awaiting_approval"
)

// Decision is a reviewer's answer for one pending tool call. It is consumed
// once by Resume and never stored.
type Decision struct {
	ToolCallID        string         `json:"tool_call_id"`
	Approved          bool           `json:"approved"`
	OverrideArguments map[string]any `json:"override_arguments,omitempty"`
	DenialReason      string         `json:"denial_reason,omitempty"`
}

// RunRequest starts a turn. An empty ConversationID starts a new
// conversation.
type RunRequest struct {
	Prompt         string
	ConversationID string
	OwnerID        string
	Metadata       map[string]any
	RequestID      string
}

// ResumeRequest settles every pending tool call of a conversation.
type ResumeRequest struct {
	ConversationID string
	OwnerID        string
	Decisions      []Decision
	RequestID      string
}

// RunResult is the outcome of Run or Resume after persistence.
type RunResult struct {
	ConversationID string                         `json:"conversation_id"`
	AgentName      string                         `json:"agent_name"`
	Status         Status                         `json:"status"`
	Output         string                         `json:"output,omitempty"`
	Pending        []conversation.PendingApproval `json:"pending,omitempty"`
	Messages       []conversation.Message         `json:"messages,omitempty"`
	Usage          conversation.Usage             `json:"usage"`
}
