package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/spf13/cobra"
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Review actions waiting for a decision",
	}

	cmd.AddCommand(
		newApprovalListCmd(),
		newApprovalShowCmd(),
		newApprovalResumeCmd(),
	)

	return cmd
}

func newApprovalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations awaiting approval",
		RunE:  runApprovalList,
	}
	cmd.Flags().Int("limit", conversation.DefaultListLimit, "Maximum conversations to list")
	return cmd
}

func newApprovalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show the pending tool calls of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalShow,
	}
}

func newApprovalResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <conversation-id>",
		Short: "Decide every pending call and let the agent continue",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalResume,
	}
	cmd.Flags().StringSlice("approve", nil, "Tool call ids to approve")
	cmd.Flags().StringSlice("deny", nil, "Tool call ids to deny")
	cmd.Flags().Bool("approve-all", false, "Approve every pending call not otherwise decided")
	cmd.Flags().Bool("deny-all", false, "Deny every pending call not otherwise decided")
	cmd.Flags().String("reason", "", "Denial reason shown to the agent")
	cmd.Flags().StringArray("override", nil, "Replacement arguments as <tool-call-id>=<json>; implies approve")
	return cmd
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
		items, err := store.List(ctx, conversation.ListQuery{
			OwnerID:     ownerID(),
			Limit:       limit,
			PendingOnly: true,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No conversations awaiting approval.")
			return nil
		}
		printConversationTable(os.Stdout, "Awaiting Approval", items)
		return nil
	})
}

func runApprovalShow(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
		conv, err := store.Get(ctx, args[0], ownerID())
		if err != nil {
			return err
		}
		printPending(os.Stdout, conv)
		return nil
	})
}

func printPending(w io.Writer, conv *conversation.Conversation) {
	pending := approval.ExtractPendingFromMessages(conv.Messages)
	if len(pending) == 0 {
		fmt.Fprintf(w, "Conversation %s has nothing awaiting approval.\n", conv.ID)
		return
	}
	fmt.Fprintf(w, "Conversation %s (%s), %d pending:\n", conv.ID, conv.AgentName, len(pending))
	for _, p := range pending {
		args, _ := json.MarshalIndent(p.Arguments, "    ", "  ")
		fmt.Fprintf(w, "  %s  %s\n    %s\n", p.ToolCallID, p.ToolName, args)
	}
}

func runApprovalResume(cmd *cobra.Command, args []string) error {
	approveIDs, _ := cmd.Flags().GetStringSlice("approve")
	denyIDs, _ := cmd.Flags().GetStringSlice("deny")
	approveAll, _ := cmd.Flags().GetBool("approve-all")
	denyAll, _ := cmd.Flags().GetBool("deny-all")
	reason, _ := cmd.Flags().GetString("reason")
	overrides, _ := cmd.Flags().GetStringArray("override")
	if approveAll && denyAll {
		return fmt.Errorf("--approve-all and --deny-all are mutually exclusive")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.store.Get(ctx, args[0], ownerID())
	if err != nil {
		return err
	}
	decisions, err := buildDecisions(approval.ExtractPendingFromMessages(conv.Messages), decisionFlags{
		approve:    approveIDs,
		deny:       denyIDs,
		approveAll: approveAll,
		denyAll:    denyAll,
		reason:     reason,
		overrides:  overrides,
	})
	if err != nil {
		return err
	}

	res, err := a.gate.Resume(ctx, approval.ResumeRequest{
		ConversationID: conv.ID,
		OwnerID:        ownerID(),
		Decisions:      decisions,
	})
	if err != nil {
		return err
	}
	printRunResult(os.Stdout, res)
	return nil
}

type decisionFlags struct {
	approve    []string
	deny       []string
	approveAll bool
	denyAll    bool
	reason     string
	overrides  []string
}

// buildDecisions turns flags into decisions. Calls no flag mentions are left
// out so the gate reports them as missing.
func buildDecisions(pending []conversation.PendingApproval, f decisionFlags) ([]approval.Decision, error) {
	byID := make(map[string]*approval.Decision, len(pending))
	order := make([]string, 0, len(pending))

	set := func(id string, d approval.Decision) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		if _, dup := byID[id]; dup {
			return fmt.Errorf("tool call %s decided more than once", id)
		}
		d.ToolCallID = id
		byID[id] = &d
		order = append(order, id)
		return nil
	}

	for _, raw := range f.overrides {
		id, body, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --override %q: expected <tool-call-id>=<json>", raw)
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(body), &args); err != nil {
			return nil, fmt.Errorf("invalid --override for %s: %w", id, err)
		}
		if err := set(id, approval.Decision{Approved: true, OverrideArguments: args}); err != nil {
			return nil, err
		}
	}
	for _, id := range f.approve {
		if err := set(id, approval.Decision{Approved: true}); err != nil {
			return nil, err
		}
	}
	for _, id := range f.deny {
		if err := set(id, approval.Decision{DenialReason: f.reason}); err != nil {
			return nil, err
		}
	}
	if f.approveAll || f.denyAll {
		for _, p := range pending {
			if _, done := byID[p.ToolCallID]; done {
				continue
			}
			d := approval.Decision{Approved: f.approveAll}
			if f.denyAll {
				d.DenialReason = f.reason
			}
			if err := set(p.ToolCallID, d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]approval.Decision, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func printRunResult(w io.Writer, res *approval.RunResult) {
	fmt.Fprintf(w, "Conversation: %s\nStatus: %s\n", res.ConversationID, res.Status)
	if res.Status == approval.StatusAwaitingApproval {
		for _, p := range res.Pending {
			args, _ := json.Marshal(p.Arguments)
			fmt.Fprintf(w, "  pending %s %s %s\n", p.ToolCallID, p.ToolName, args)
		}
		return
	}
	if strings.TrimSpace(res.Output) != "" {
		fmt.Fprintf(w, "\n%s\n", res.Output)
	}
}

// withStore opens the configured store for commands that need no model.
func withStore(ctx context.Context, fn func(context.Context, conversation.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}
