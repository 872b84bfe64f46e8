package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/policy"
	"github.com/MEKXH/opsdesk/internal/tools"
)

// NewPolicyGuard maps policy decisions onto registry guard results.
// Denials are written to the audit log.
func NewPolicyGuard(evaluator policy.Evaluator, auditWriter *audit.Writer) tools.GuardFunc {
	return func(ctx context.Context, name, argsJSON string) (tools.GuardResult, error) {
		decision := evaluator.Evaluate(policy.Input{ToolName: name})

		switch decision.Action {
		case policy.ActionAllow:
			return tools.GuardResult{Action: tools.GuardAllow}, nil
		case policy.ActionRequireApproval:
			msg := strings.TrimSpace(decision.Reason)
			if msg == "" {
				msg = fmt.Sprintf("policy mode %s requires approval", evaluator.Mode())
			}
			return tools.GuardResult{Action: tools.GuardRequireApproval, Message: msg}, nil
		case policy.ActionDeny:
			msg := strings.TrimSpace(decision.Reason)
			if msg == "" {
				msg = "blocked by policy"
			}
			appendGuardAudit(ctx, auditWriter, name, msg)
			return tools.GuardResult{Action: tools.GuardDeny, Message: msg}, nil
		default:
			msg := fmt.Sprintf("unknown policy decision: %s", decision.Action)
			appendGuardAudit(ctx, auditWriter, name, msg)
			return tools.GuardResult{Action: tools.GuardDeny, Message: msg}, nil
		}
	}
}

func appendGuardAudit(ctx context.Context, w *audit.Writer, toolName, result string) {
	if w == nil {
		return
	}
	inv := tools.InvocationFromContext(ctx)
	event := audit.Event{
		Time:           time.Now().UTC(),
		Type:           audit.TypePolicyDeny,
		RequestID:      inv.RequestID,
		ConversationID: inv.ConversationID,
		OwnerID:        inv.OwnerID,
		Tool:           strings.TrimSpace(toolName),
		ToolCallID:     inv.ToolCallID,
		Result:         result,
	}
	if err := w.Append(event); err != nil {
		slog.Warn("failed to append audit event", "type", event.Type, "tool", event.Tool, "error", err)
	}
}
