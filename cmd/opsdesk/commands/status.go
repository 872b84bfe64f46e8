package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/MEKXH/opsdesk/internal/metrics"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, run metrics and recent audit events",
		RunE:  runStatus,
	}
	cmd.Flags().Int("events", 5, "Number of recent audit events to show")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}
	events, _ := cmd.Flags().GetInt("events")
	return writeStatus(os.Stdout, cfg, workspacePath, events)
}

func writeStatus(w io.Writer, cfg *config.Config, workspacePath string, eventLimit int) error {
	fmt.Fprintln(w, "=== opsdesk Status ===")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Fprintln(w, "  Status: OK")
	} else {
		fmt.Fprintln(w, "  Status: Not found (run 'opsdesk init')")
	}
	fmt.Fprintf(w, "\nWorkspace: %s\n", workspacePath)

	fmt.Fprintf(w, "\nAgent: %s\n", cfg.Agent.Name)
	fmt.Fprintf(w, "  Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(w, "  Max tool iterations: %d\n", cfg.Agent.MaxToolIterations)

	fmt.Fprintln(w, "\nProviders:")
	providers := []struct{ name, key string }{
		{"OpenRouter", cfg.Providers.OpenRouter.APIKey},
		{"Claude", cfg.Providers.Claude.APIKey},
		{"OpenAI", cfg.Providers.OpenAI.APIKey},
		{"DeepSeek", cfg.Providers.DeepSeek.APIKey},
		{"Ollama", cfg.Providers.Ollama.BaseURL},
	}
	for _, p := range providers {
		status := "Not configured"
		if p.key != "" {
			status = "Configured"
		}
		fmt.Fprintf(w, "  %s: %s\n", p.name, status)
	}

	fmt.Fprintln(w, "\nStore:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Store.Driver)
	switch cfg.Store.Driver {
	case "redis":
		fmt.Fprintf(w, "  Prefix: %s\n", cfg.Store.Redis.KeyPrefix)
	case "file":
		fmt.Fprintf(w, "  Dir: %s\n", cfg.FileStoreDir())
	default:
		fmt.Fprintf(w, "  Path: %s\n", cfg.SQLitePath())
	}

	fmt.Fprintln(w, "\nApproval policy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Policy.Mode)
	fmt.Fprintf(w, "  Require approval: %s\n", joinOrDash(cfg.Policy.RequireApproval))
	fmt.Fprintf(w, "  Deny: %s\n", joinOrDash(cfg.Policy.Deny))

	fmt.Fprintln(w, "\nCompaction:")
	if cfg.Compaction.Enabled {
		fmt.Fprintf(w, "  Tool results over %d chars, history over %d input tokens\n",
			cfg.Compaction.ToolResultCharThreshold, cfg.Compaction.TokenThreshold)
	} else {
		fmt.Fprintln(w, "  disabled")
	}

	fmt.Fprintln(w, "\nGateway:")
	fmt.Fprintf(w, "  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Fprintln(w, "  Auth:    token configured")
	} else {
		fmt.Fprintln(w, "  Auth:    no token (open)")
	}

	fmt.Fprintln(w, "\nSchedules:")
	enabled := 0
	for _, s := range cfg.Schedules {
		if s.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(w, "  %d total, %d enabled\n", len(cfg.Schedules), enabled)

	fmt.Fprintln(w, "\nRuns:")
	snap, err := metrics.ReadRuntimeSnapshot(workspacePath)
	switch {
	case err != nil:
		fmt.Fprintf(w, "  unavailable: %v\n", err)
	case !snap.HasData():
		fmt.Fprintln(w, "  no runs recorded yet")
	default:
		r := snap.Runs
		fmt.Fprintf(w, "  Total: %d (resumes %d)\n", r.Total, r.Resumes)
		fmt.Fprintf(w, "  Completed: %d  Awaiting approval: %d  Failed: %d  Persist failures: %d\n",
			r.Completed, r.AwaitingApproval, r.Failed, r.PersistFailures)
		fmt.Fprintf(w, "  Tool calls: %d (errors %.1f%%, p95 ~%dms)\n",
			snap.Tool.Total, snap.Tool.ErrorRatio()*100, snap.Tool.P95ProxyLatencyMs)
	}

	if eventLimit > 0 {
		fmt.Fprintln(w, "\nRecent audit events:")
		recent, err := audit.NewWriter(workspacePath).Recent(eventLimit)
		if err != nil {
			fmt.Fprintf(w, "  unavailable: %v\n", err)
		} else if len(recent) == 0 {
			fmt.Fprintln(w, "  none")
		}
		for _, e := range recent {
			line := fmt.Sprintf("  %s %s", e.Time.Local().Format("2006-01-02 15:04:05"), e.Type)
			if e.ConversationID != "" {
				line += " conversation=" + e.ConversationID
			}
			if e.Tool != "" {
				line += " tool=" + e.Tool
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
