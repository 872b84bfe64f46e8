package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/google/uuid"
)

// SystemOwner owns conversations started by scheduled triggers.
const SystemOwner = "system:scheduler"

// Runner starts an agent turn; *approval.Gate satisfies it.
type Runner interface {
	Run(ctx context.Context, req approval.RunRequest) (*approval.RunResult, error)
}

// GateHandler runs each firing as a fresh conversation owned by
// SystemOwner. Paused runs wait in the approval queue like any other.
// auditWriter may be nil.
func GateHandler(r Runner, auditWriter *audit.Writer) Handler {
	return func(ctx context.Context, e Entry) error {
		requestID := uuid.NewString()
		if err := auditWriter.Append(audit.Event{
			Type:      audit.TypeScheduleFired,
			RequestID: requestID,
			OwnerID:   SystemOwner,
			Result:    e.Name,
		}); err != nil {
			slog.Warn("audit append failed", "schedule", e.Name, "error", err)
		}

		res, err := r.Run(ctx, approval.RunRequest{
			Prompt:    e.Prompt,
			OwnerID:   SystemOwner,
			RequestID: requestID,
			Metadata: map[string]any{
				"trigger":  "schedule",
				"schedule": e.Name,
			},
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", e.Name, err)
		}
		if res.Status == approval.StatusAwaitingApproval {
			slog.Info("scheduled run awaiting approval",
				"schedule", e.Name,
				"conversation_id", res.ConversationID,
				"pending", len(res.Pending),
			)
		}
		return nil
	}
}
