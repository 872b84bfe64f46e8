package approval

import (
	"strings"

	"github.com/MEKXH/opsdesk/internal/agent"
	"github.com/MEKXH/opsdesk/internal/conversation"
)

// ExtractPending returns the calls a fresh run deferred.
func ExtractPending(res *agent.Result) []conversation.PendingApproval {
	if res == nil || !res.Output.IsDeferred() {
		return nil
	}
	out := make([]conversation.PendingApproval, len(res.Output.Deferred))
	copy(out, res.Output.Deferred)
	return out
}

// ExtractPendingFromMessages derives the pending calls from stored history,
// for resuming a pause this process never saw.
func ExtractPendingFromMessages(msgs []conversation.Message) []conversation.PendingApproval {
	return conversation.PendingApprovals(msgs)
}

// buildResumePayload checks that decisions cover exactly the pending calls.
func buildResumePayload(conversationID string, pending []conversation.PendingApproval, decisions []Decision) (*agent.ResumePayload, error) {
	if len(pending) == 0 {
		return nil, invalid("conversation %s has no pending approvals", conversationID)
	}

	known := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		known[p.ToolCallID] = struct{}{}
	}

	payload := &agent.ResumePayload{Decisions: make(map[string]agent.ToolDecision, len(decisions))}
	for _, d := range decisions {
		id := strings.TrimSpace(d.ToolCallID)
		if id == "" {
			return nil, invalid("decision is missing tool_call_id")
		}
		if _, ok := known[id]; !ok {
			return nil, invalid("tool call %s is not pending", id)
		}
		if _, dup := payload.Decisions[id]; dup {
			return nil, invalid("duplicate decision for tool call %s", id)
		}
		payload.Decisions[id] = agent.ToolDecision{
			Approved:          d.Approved,
			OverrideArguments: d.OverrideArguments,
			DenialReason:      strings.TrimSpace(d.DenialReason),
		}
	}

	var missing []string
	for _, p := range pending {
		if _, ok := payload.Decisions[p.ToolCallID]; !ok {
			missing = append(missing, p.ToolCallID)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Message: "missing decisions for tool calls", ToolCallIDs: missing}
	}
	return payload, nil
}
