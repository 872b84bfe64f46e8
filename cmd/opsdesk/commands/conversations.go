package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and delete stored conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE:  runConversationsList,
	}
	list.Flags().String("agent", "", "Only conversations of this agent")
	list.Flags().Int("limit", conversation.DefaultListLimit, "Maximum conversations to list")
	list.Flags().Bool("pending", false, "Only conversations awaiting approval")

	del := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runConversationsDelete,
	}

	cmd.AddCommand(list, del)
	return cmd
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	agentName, _ := cmd.Flags().GetString("agent")
	limit, _ := cmd.Flags().GetInt("limit")
	pending, _ := cmd.Flags().GetBool("pending")

	return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
		items, err := store.List(ctx, conversation.ListQuery{
			OwnerID:     ownerID(),
			AgentName:   agentName,
			Limit:       limit,
			PendingOnly: pending,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		printConversationTable(os.Stdout, "Conversations", items)
		return nil
	})
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
		if err := store.Delete(ctx, args[0], ownerID()); err != nil {
			return err
		}
		fmt.Printf("Conversation %s deleted.\n", args[0])
		return nil
	})
}

const (
	wID      = 36
	wUpdated = 17
	wCount   = 6
	wStatus  = 18
	wPreview = 40
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)

	colHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true).
			MarginRight(1)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		Width(wID).
		MarginRight(1)

	cellStyle = lipgloss.NewStyle().MarginRight(1)

	pendingColor = lipgloss.Color("#D97706")
	doneColor    = lipgloss.Color("#2E8B57")
)

func printConversationTable(w io.Writer, title string, items []conversation.Summary) {
	fmt.Fprintln(w, headerStyle.Render(title))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wID).Render("ID"),
		colHeaderStyle.Width(wUpdated).Render("UPDATED"),
		colHeaderStyle.Width(wCount).Render("MSGS"),
		colHeaderStyle.Width(wStatus).Render("STATUS"),
		colHeaderStyle.Width(wPreview).Render("FIRST PROMPT"),
	)
	fmt.Fprintf(w, "  %s\n", headers)

	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	separator := lipgloss.JoinHorizontal(lipgloss.Top,
		sepStyle.Render(strings.Repeat("─", wID)),
		sepStyle.Render(strings.Repeat("─", wUpdated)),
		sepStyle.Render(strings.Repeat("─", wCount)),
		sepStyle.Render(strings.Repeat("─", wStatus)),
		sepStyle.Render(strings.Repeat("─", wPreview)),
	)
	fmt.Fprintf(w, "  %s\n", separator)

	for _, it := range items {
		status, color := "completed", doneColor
		if it.Pending {
			status, color = "awaiting_approval", pendingColor
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(truncate(it.ID, wID)),
			cellStyle.Width(wUpdated).Render(it.UpdatedAt.Local().Format("2006-01-02 15:04")),
			cellStyle.Width(wCount).Render(fmt.Sprintf("%d", it.MessageCount)),
			cellStyle.Width(wStatus).Foreground(color).Render(status),
			cellStyle.Width(wPreview).Render(truncate(it.Preview, wPreview)),
		)
		fmt.Fprintf(w, "  %s\n", row)
	}
	fmt.Fprintln(w)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
