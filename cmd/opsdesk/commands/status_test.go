package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/MEKXH/opsdesk/internal/metrics"
)

func TestWriteStatus_Empty(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cfg := config.DefaultConfig()
	var out bytes.Buffer
	if err := writeStatus(&out, cfg, t.TempDir(), 5); err != nil {
		t.Fatalf("writeStatus error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Not found (run 'opsdesk init')", "Driver: sqlite", "Mode: strict", "send_sms", "no runs recorded yet", "none"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected status to contain %q:\n%s", want, text)
		}
	}
}

func TestWriteStatus_WithRunsAndAudit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	workspace := t.TempDir()

	m := metrics.NewRuntimeMetrics(workspace)
	if _, err := m.RecordRun(metrics.OutcomeAwaitingApproval, false); err != nil {
		t.Fatalf("RecordRun error: %v", err)
	}
	if _, err := m.RecordRun(metrics.OutcomeCompleted, true); err != nil {
		t.Fatalf("RecordRun error: %v", err)
	}
	if _, err := m.RecordToolExecution("send_sms", 20*time.Millisecond, "sent", nil); err != nil {
		t.Fatalf("RecordToolExecution error: %v", err)
	}
	w := audit.NewWriter(workspace)
	if err := w.Append(audit.Event{Type: audit.TypeApprovalGranted, ConversationID: "c1", Tool: "send_sms"}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	var out bytes.Buffer
	if err := writeStatus(&out, config.DefaultConfig(), workspace, 5); err != nil {
		t.Fatalf("writeStatus error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Total: 2 (resumes 1)", "Awaiting approval: 1", "Tool calls: 1", "approval_granted conversation=c1 tool=send_sms"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected status to contain %q:\n%s", want, text)
		}
	}
}
