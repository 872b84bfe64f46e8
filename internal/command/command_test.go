package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/metrics"
)

func TestRegistryLookup(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		input    string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/new", "new", "", true},
		{"/OPEN  abc-123 ", "open", "abc-123", true},
		{"/history 5", "history", "5", true},
		{"hello /new", "", "", false},
		{"/", "", "", false},
		{"/unknown", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := r.Lookup(tt.input)
		if ok != tt.wantOK {
			t.Fatalf("Lookup(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if cmd.Name() != tt.wantName || args != tt.wantArgs {
			t.Fatalf("Lookup(%q) = (%s, %q), want (%s, %q)", tt.input, cmd.Name(), args, tt.wantName, tt.wantArgs)
		}
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&NewCommand{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate register")
		}
	}()
	r.Register(&NewCommand{})
}

func TestHelpListsCommands(t *testing.T) {
	r := NewDefaultRegistry()
	res := (&HelpCommand{}).Execute(context.Background(), "", Env{ListCommands: r.List})
	for _, name := range []string{"/help", "/new", "/open", "/pending", "/history", "/status", "/version"} {
		if !strings.Contains(res.Content, name) {
			t.Fatalf("help output missing %s: %s", name, res.Content)
		}
	}
}

func TestNewSwitchesToEmptyConversation(t *testing.T) {
	res := (&NewCommand{}).Execute(context.Background(), "", Env{ConversationID: "c1"})
	if !res.Switch || res.SwitchTo != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func seedStore(t *testing.T) conversation.Store {
	t.Helper()
	store := conversation.NewFileStore(t.TempDir())
	ctx := context.Background()
	_, err := store.Save(ctx, conversation.SaveInput{
		ID:        "done",
		AgentName: "ops",
		OwnerID:   "alice",
		Messages: []conversation.Message{
			conversation.UserPrompt("how are sales"),
			conversation.AssistantText("fine"),
		},
	})
	if err != nil {
		t.Fatalf("save done: %v", err)
	}
	_, err = store.Save(ctx, conversation.SaveInput{
		ID:        "paused",
		AgentName: "ops",
		OwnerID:   "alice",
		Messages: []conversation.Message{
			conversation.UserPrompt("text the supplier"),
			conversation.ToolCall("call_1", "send_sms", map[string]any{"to": "+15550100", "body": "hi"}),
		},
	})
	if err != nil {
		t.Fatalf("save paused: %v", err)
	}
	return store
}

func TestOpenCommand(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	res := (&OpenCommand{}).Execute(ctx, "paused", Env{OwnerID: "alice", Store: store})
	if !res.Switch || res.SwitchTo != "paused" {
		t.Fatalf("expected switch to paused, got %+v", res)
	}
	if !strings.Contains(res.Content, "await approval") {
		t.Fatalf("expected pending hint, got %q", res.Content)
	}

	res = (&OpenCommand{}).Execute(ctx, "paused", Env{OwnerID: "bob", Store: store})
	if res.Switch || !strings.Contains(res.Content, "not found") {
		t.Fatalf("other owner should not open conversation: %+v", res)
	}

	res = (&OpenCommand{}).Execute(ctx, "", Env{OwnerID: "alice", Store: store})
	if res.Switch || !strings.Contains(res.Content, "Usage") {
		t.Fatalf("expected usage, got %+v", res)
	}
}

func TestPendingCommand(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	res := (&PendingCommand{}).Execute(ctx, "", Env{OwnerID: "alice", ConversationID: "paused", Store: store})
	if !strings.Contains(res.Content, "call_1") || !strings.Contains(res.Content, "send_sms") {
		t.Fatalf("expected pending call listed, got %q", res.Content)
	}

	res = (&PendingCommand{}).Execute(ctx, "", Env{OwnerID: "alice", ConversationID: "done", Store: store})
	if !strings.Contains(res.Content, "Nothing awaits approval") {
		t.Fatalf("unexpected output: %q", res.Content)
	}

	res = (&PendingCommand{}).Execute(ctx, "", Env{OwnerID: "alice", Store: store})
	if !strings.Contains(res.Content, "No active conversation") {
		t.Fatalf("unexpected output: %q", res.Content)
	}
}

func TestHistoryCommand(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	res := (&HistoryCommand{}).Execute(ctx, "", Env{OwnerID: "alice", ConversationID: "done", Store: store})
	if !strings.Contains(res.Content, "`done`") || !strings.Contains(res.Content, "`paused`") {
		t.Fatalf("expected both conversations, got %q", res.Content)
	}
	if !strings.Contains(res.Content, "(current)") || !strings.Contains(res.Content, "[awaiting approval]") {
		t.Fatalf("expected markers, got %q", res.Content)
	}

	res = (&HistoryCommand{}).Execute(ctx, "", Env{OwnerID: "bob", Store: store})
	if !strings.Contains(res.Content, "No conversations yet") {
		t.Fatalf("unexpected output for other owner: %q", res.Content)
	}
}

func TestStatusCommand(t *testing.T) {
	m := metrics.NewRuntimeMetrics(t.TempDir())
	res := (&StatusCommand{}).Execute(context.Background(), "", Env{Model: "anthropic/claude-sonnet-4-5", Metrics: m})
	if !strings.Contains(res.Content, "No runs yet") {
		t.Fatalf("expected empty metrics, got %q", res.Content)
	}

	if _, err := m.RecordRun(metrics.OutcomeAwaitingApproval, false); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if _, err := m.RecordToolExecution("send_sms", 20*time.Millisecond, "sent", nil); err != nil {
		t.Fatalf("record tool: %v", err)
	}
	res = (&StatusCommand{}).Execute(context.Background(), "", Env{Metrics: m})
	if !strings.Contains(res.Content, "Runs: 1 (awaiting approval 1") {
		t.Fatalf("unexpected run line: %q", res.Content)
	}
	if !strings.Contains(res.Content, "Tools: 1 calls") {
		t.Fatalf("unexpected tool line: %q", res.Content)
	}
}

func TestVersionCommand(t *testing.T) {
	res := (&VersionCommand{}).Execute(context.Background(), "", Env{})
	if !strings.HasPrefix(res.Content, "opsdesk ") {
		t.Fatalf("unexpected version output: %q", res.Content)
	}
}
