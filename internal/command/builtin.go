package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/version"
)

// HelpCommand implements /help.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "List chat commands" }

func (c *HelpCommand) Execute(_ context.Context, _ string, env Env) Result {
	if env.ListCommands == nil {
		return Result{Content: "No commands available."}
	}
	var sb strings.Builder
	sb.WriteString("**Commands**\n\n")
	for _, cmd := range env.ListCommands() {
		fmt.Fprintf(&sb, "- `/%s` %s\n", cmd.Name(), cmd.Description())
	}
	return Result{Content: sb.String()}
}

// NewCommand implements /new.
type NewCommand struct{}

func (c *NewCommand) Name() string        { return "new" }
func (c *NewCommand) Description() string { return "Start a new conversation" }

func (c *NewCommand) Execute(_ context.Context, _ string, _ Env) Result {
	return Result{Content: "Started a new conversation.", Switch: true}
}

// OpenCommand implements /open <id>.
type OpenCommand struct{}

func (c *OpenCommand) Name() string        { return "open" }
func (c *OpenCommand) Description() string { return "Continue a stored conversation" }

func (c *OpenCommand) Execute(ctx context.Context, args string, env Env) Result {
	id := strings.TrimSpace(args)
	if id == "" {
		return Result{Content: "Usage: /open <conversation-id>"}
	}
	if env.Store == nil {
		return Result{Content: "Conversation store unavailable."}
	}
	conv, err := env.Store.Get(ctx, id, env.OwnerID)
	if err != nil {
		return Result{Content: storeErrorText(err)}
	}
	content := fmt.Sprintf("Opened `%s` (%d messages).", conv.ID, len(conv.Messages))
	if n := len(conversation.PendingApprovals(conv.Messages)); n > 0 {
		content += fmt.Sprintf(" %d action(s) await approval; see /pending.", n)
	}
	return Result{Content: content, Switch: true, SwitchTo: conv.ID}
}

// PendingCommand implements /pending.
type PendingCommand struct{}

func (c *PendingCommand) Name() string        { return "pending" }
func (c *PendingCommand) Description() string { return "Show actions awaiting approval in this conversation" }

func (c *PendingCommand) Execute(ctx context.Context, _ string, env Env) Result {
	if env.ConversationID == "" {
		return Result{Content: "No active conversation."}
	}
	if env.Store == nil {
		return Result{Content: "Conversation store unavailable."}
	}
	conv, err := env.Store.Get(ctx, env.ConversationID, env.OwnerID)
	if err != nil {
		return Result{Content: storeErrorText(err)}
	}
	pending := conversation.PendingApprovals(conv.Messages)
	if len(pending) == 0 {
		return Result{Content: "Nothing awaits approval."}
	}
	var sb strings.Builder
	sb.WriteString("**Awaiting approval**\n\n")
	for _, p := range pending {
		args, _ := json.Marshal(p.Arguments)
		fmt.Fprintf(&sb, "- `%s` %s `%s`\n", p.ToolCallID, p.ToolName, args)
	}
	return Result{Content: sb.String()}
}

// HistoryCommand implements /history [n].
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Description() string { return "List recent conversations" }

func (c *HistoryCommand) Execute(ctx context.Context, args string, env Env) Result {
	if env.Store == nil {
		return Result{Content: "Conversation store unavailable."}
	}
	limit := 10
	if n, err := fmt.Sscanf(strings.TrimSpace(args), "%d", &limit); n != 1 || err != nil || limit <= 0 {
		limit = 10
	}
	items, err := env.Store.List(ctx, conversation.ListQuery{OwnerID: env.OwnerID, Limit: limit})
	if err != nil {
		return Result{Content: storeErrorText(err)}
	}
	if len(items) == 0 {
		return Result{Content: "No conversations yet."}
	}
	var sb strings.Builder
	sb.WriteString("**Recent conversations**\n\n")
	for _, it := range items {
		marker := ""
		if it.ID == env.ConversationID {
			marker = " (current)"
		}
		if it.Pending {
			marker += " [awaiting approval]"
		}
		fmt.Fprintf(&sb, "- `%s` %s %q%s\n", it.ID, it.UpdatedAt.Local().Format("2006-01-02 15:04"), it.Preview, marker)
	}
	return Result{Content: sb.String()}
}

// StatusCommand implements /status.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show run and tool metrics" }

func (c *StatusCommand) Execute(_ context.Context, _ string, env Env) Result {
	var sb strings.Builder
	sb.WriteString("**opsdesk status**\n\n")
	if env.Model != "" {
		fmt.Fprintf(&sb, "- **Model:** `%s`\n", env.Model)
	}
	if env.ConversationID != "" {
		fmt.Fprintf(&sb, "- **Conversation:** `%s`\n", env.ConversationID)
	}
	if env.Metrics == nil {
		sb.WriteString("- Metrics unavailable\n")
		return Result{Content: sb.String()}
	}
	snap := env.Metrics.Snapshot()
	if !snap.HasData() {
		sb.WriteString("- No runs yet\n")
		return Result{Content: sb.String()}
	}
	fmt.Fprintf(&sb, "- Updated: `%s`\n", snap.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Runs: %d (awaiting approval %d, failed %d, persist failures %d)\n",
		snap.Runs.Total, snap.Runs.AwaitingApproval, snap.Runs.Failed, snap.Runs.PersistFailures)
	fmt.Fprintf(&sb, "- Tools: %d calls, err=%.1f%%, p95=%dms\n",
		snap.Tool.Total, snap.Tool.ErrorRatio()*100, snap.Tool.P95ProxyLatencyMs)
	return Result{Content: sb.String()}
}

// VersionCommand implements /version.
type VersionCommand struct{}

func (c *VersionCommand) Name() string        { return "version" }
func (c *VersionCommand) Description() string { return "Show version information" }

func (c *VersionCommand) Execute(_ context.Context, _ string, _ Env) Result {
	return Result{Content: version.String()}
}

func storeErrorText(err error) string {
	if errors.Is(err, conversation.ErrNotFound) {
		return "Conversation not found."
	}
	return fmt.Sprintf("Store error: %v", err)
}
