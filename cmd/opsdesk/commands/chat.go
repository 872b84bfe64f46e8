package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/command"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/render"
	"github.com/spf13/cobra"
)

func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant, approving actions inline",
		RunE:  runChat,
	}
	cmd.Flags().String("conversation", "", "Continue an existing conversation")
	cmd.Flags().Bool("show-think", false, "Show model reasoning blocks")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := currentConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	convID, _ := cmd.Flags().GetString("conversation")
	showThink, _ := cmd.Flags().GetBool("show-think")
	md, err := render.NewMarkdown(100)
	if err != nil {
		md = nil
	}

	s := &chatSession{
		gate:      a.gate,
		owner:     ownerID(),
		convID:    strings.TrimSpace(convID),
		in:        bufio.NewScanner(os.Stdin),
		out:       os.Stdout,
		md:        md,
		showThink: showThink,
		cmds:      command.NewDefaultRegistry(),
		env: command.Env{
			Model:   cfg.Agent.Model,
			Store:   a.store,
			Metrics: a.metrics,
		},
	}

	if len(args) > 0 {
		return s.send(ctx, strings.Join(args, " "))
	}

	fmt.Printf("opsdesk ready (owner %s). Type /help for commands, 'exit' to quit.\n", s.owner)
	for {
		fmt.Print("\n> ")
		if !s.in.Scan() {
			break
		}
		input := strings.TrimSpace(s.in.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}
		if s.handleCommand(ctx, input) {
			continue
		}
		if err := s.send(ctx, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
	return nil
}

type gateRunner interface {
	Run(ctx context.Context, req approval.RunRequest) (*approval.RunResult, error)
	Resume(ctx context.Context, req approval.ResumeRequest) (*approval.RunResult, error)
}

type chatSession struct {
	gate      gateRunner
	owner     string
	convID    string
	in        *bufio.Scanner
	out       io.Writer
	md        render.Renderer
	showThink bool
	cmds      *command.Registry
	env       command.Env
}

// handleCommand runs a slash command and reports whether input was one.
func (s *chatSession) handleCommand(ctx context.Context, input string) bool {
	if s.cmds == nil {
		return false
	}
	cmd, args, ok := s.cmds.Lookup(input)
	if !ok {
		return false
	}
	env := s.env
	env.OwnerID = s.owner
	env.ConversationID = s.convID
	env.ListCommands = s.cmds.List

	res := cmd.Execute(ctx, args, env)
	if res.Switch {
		s.convID = res.SwitchTo
	}
	if res.Content != "" {
		fmt.Fprintln(s.out, render.Reply(s.md, res.Content, false))
	}
	return true
}

// send runs one prompt and keeps asking for decisions until the turn
// completes.
func (s *chatSession) send(ctx context.Context, prompt string) error {
	res, err := s.gate.Run(ctx, approval.RunRequest{
		Prompt:         prompt,
		ConversationID: s.convID,
		OwnerID:        s.owner,
		Metadata:       map[string]any{"channel": "cli"},
	})
	if err != nil {
		return err
	}
	s.convID = res.ConversationID

	for res.Status == approval.StatusAwaitingApproval {
		decisions, err := promptDecisions(s.in, s.out, res.Pending)
		if err != nil {
			return err
		}
		res, err = s.gate.Resume(ctx, approval.ResumeRequest{
			ConversationID: s.convID,
			OwnerID:        s.owner,
			Decisions:      decisions,
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(s.out, render.Reply(s.md, res.Output, s.showThink))
	return nil
}

// promptDecisions asks about each pending call in order. Answers are
// a(pprove), d(eny) or e(dit); edit reads replacement arguments as JSON.
func promptDecisions(in *bufio.Scanner, out io.Writer, pending []conversation.PendingApproval) ([]approval.Decision, error) {
	decisions := make([]approval.Decision, 0, len(pending))
	for _, p := range pending {
		args, _ := json.Marshal(p.Arguments)
		fmt.Fprintf(out, "\nApproval needed: %s %s\n", p.ToolName, args)

		d, err := askDecision(in, out, p)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func askDecision(in *bufio.Scanner, out io.Writer, p conversation.PendingApproval) (approval.Decision, error) {
	d := approval.Decision{ToolCallID: p.ToolCallID}
	for {
		fmt.Fprint(out, "[a]pprove / [d]eny / [e]dit? ")
		if !in.Scan() {
			return d, fmt.Errorf("input closed with %s undecided", p.ToolCallID)
		}
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "a", "approve", "y", "yes":
			d.Approved = true
			return d, nil
		case "d", "deny", "n", "no":
			fmt.Fprint(out, "Reason (optional): ")
			if in.Scan() {
				d.DenialReason = strings.TrimSpace(in.Text())
			}
			return d, nil
		case "e", "edit":
			fmt.Fprint(out, "New arguments (JSON): ")
			if !in.Scan() {
				return d, fmt.Errorf("input closed with %s undecided", p.ToolCallID)
			}
			var override map[string]any
			if err := json.Unmarshal([]byte(in.Text()), &override); err != nil {
				fmt.Fprintf(out, "Invalid JSON: %v\n", err)
				continue
			}
			d.Approved = true
			d.OverrideArguments = override
			return d, nil
		}
	}
}
