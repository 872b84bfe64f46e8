// Package agent defines the agent runtime contract used by the approval gate
// and provides the eino-backed implementation.
package agent

import (
	"context"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

// Agent runs one turn of a conversation: either to a final answer or to a
// set of tool calls deferred until a human decides.
type Agent interface {
	Name() string
	Run(ctx context.Context, in RunInput) (*Result, error)
}

// Deps carries per-run caller identity down to tools.
type Deps struct {
	OwnerID        string
	ConversationID string
	RequestID      string
}

// RunInput is one agent invocation. Exactly one of Prompt and Resume is set.
type RunInput struct {
	Prompt  string
	History []conversation.Message
	Resume  *ResumePayload
	Deps    Deps
}

// ResumePayload maps each pending tool call id to the human decision.
type ResumePayload struct {
	Decisions map[string]ToolDecision
}

// ToolDecision approves a deferred call, optionally with replacement
// arguments, or denies it with a reason the model will see.
type ToolDecision struct {
	Approved          bool
	OverrideArguments map[string]any
	DenialReason      string
}

// Output is the structured result of a run.
type Output struct {
	Text     string
	Deferred []conversation.PendingApproval
}

// IsDeferred reports whether the run paused on approvals.
func (o Output) IsDeferred() bool {
	return len(o.Deferred) > 0
}

// Result is what a run produced. Messages is the full history after the
// run, including any rewrites applied before model calls.
type Result struct {
	Output   Output
	Messages []conversation.Message
	Usage    conversation.Usage
}
