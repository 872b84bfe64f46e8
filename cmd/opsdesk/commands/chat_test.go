package commands

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MEKXH/opsdesk/internal/command"
	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// smsModel asks to text Ana until it sees a tool result, then confirms.
type smsModel struct {
	mu    sync.Mutex
	calls int
}

func (m *smsModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	last := input[len(input)-1]
	if last.Role == schema.Tool {
		return schema.AssistantMessage("**Sent** to Ana.", nil), nil
	}
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-sms",
		Type:     "function",
		Function: schema.FunctionCall{Name: "send_sms", Arguments: `{"to":"+15550100","body":"hello"}`},
	}}), nil
}

func (m *smsModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *smsModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	orig := newModelFunc
	newModelFunc = func(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, model.ToolCallingChatModel, error) {
		return &smsModel{}, nil, nil
	}
	t.Cleanup(func() { newModelFunc = orig })

	cfg := config.DefaultConfig()
	cfg.Store.Driver = "file"
	cfg.Compaction.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildApp error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestChatSession_ApprovesInline(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	s := &chatSession{
		gate:  a.gate,
		owner: "alice",
		in:    bufio.NewScanner(strings.NewReader("e\n{\"to\":\"+15550100\",\"body\":\"Hello from the shop\"}\n")),
		out:   &out,
	}

	if err := s.send(context.Background(), "text Ana hello"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if s.convID == "" {
		t.Fatal("expected conversation id to be kept")
	}
	if !strings.Contains(out.String(), "Approval needed: send_sms") || !strings.Contains(out.String(), "**Sent** to Ana.") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	sent := a.outbox.SentSMS()
	if len(sent) != 1 || sent[0].Body != "Hello from the shop" {
		t.Fatalf("expected overridden SMS to be sent, got %+v", sent)
	}

	a.gate.Wait()
	conv, err := a.store.Get(context.Background(), s.convID, "alice")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 stored messages, got %d", len(conv.Messages))
	}
}

func TestChatSession_DenyStillCompletes(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	s := &chatSession{
		gate:  a.gate,
		owner: "alice",
		in:    bufio.NewScanner(strings.NewReader("d\nnot now\n")),
		out:   &out,
	}
	if err := s.send(context.Background(), "text Ana hello"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if len(a.outbox.SentSMS()) != 0 {
		t.Fatal("denied SMS must not be sent")
	}
}

func TestChatSession_SlashCommands(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	s := &chatSession{
		gate:  a.gate,
		owner: "alice",
		in:    bufio.NewScanner(strings.NewReader("a\n")),
		out:   &out,
		cmds:  command.NewDefaultRegistry(),
		env:   command.Env{Store: a.store, Metrics: a.metrics},
	}
	ctx := context.Background()

	if s.handleCommand(ctx, "text Ana hello") {
		t.Fatal("plain prompt must not be treated as a command")
	}
	if err := s.send(ctx, "text Ana hello"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	a.gate.Wait()
	first := s.convID

	if !s.handleCommand(ctx, "/new") || s.convID != "" {
		t.Fatalf("/new should clear the conversation, got %q", s.convID)
	}
	if !s.handleCommand(ctx, "/open "+first) || s.convID != first {
		t.Fatalf("/open should switch back to %s, got %q", first, s.convID)
	}

	out.Reset()
	if !s.handleCommand(ctx, "/history") {
		t.Fatal("expected /history to be handled")
	}
	if !strings.Contains(out.String(), first) {
		t.Fatalf("history should list %s: %s", first, out.String())
	}
}
