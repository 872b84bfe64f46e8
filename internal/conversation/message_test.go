package conversation

import (
	"testing"
	"time"
)

func TestPendingApprovals_TrailingCallWithoutReturn(t *testing.T) {
	msgs := []Message{
		UserPrompt("text Bob hello"),
		ToolCall("c1", "send_sms", map[string]any{"to": "+15550100", "body": "hello"}),
	}

	pending := PendingApprovals(msgs)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].ToolCallID != "c1" || pending[0].ToolName != "send_sms" {
		t.Fatalf("unexpected pending approval: %+v", pending[0])
	}
	if pending[0].Arguments["to"] != "+15550100" {
		t.Fatalf("expected arguments to be carried, got %+v", pending[0].Arguments)
	}
}

func TestPendingApprovals_AnsweredCallsAreNotPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		UserPrompt("do two things"),
		ToolCall("c1", "send_sms", nil),
		ToolCall("c2", "send_email", nil),
		ToolReturn("c1", "send_sms", "sent", now),
	}

	pending := PendingApprovals(msgs)
	if len(pending) != 1 || pending[0].ToolCallID != "c2" {
		t.Fatalf("expected only c2 pending, got %+v", pending)
	}
}

func TestPendingApprovals_EmptyWhenHistoryEndsWithText(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		UserPrompt("hi"),
		ToolCall("c1", "send_sms", nil),
		ToolReturn("c1", "send_sms", "sent", now),
		AssistantText("done"),
	}

	if pending := PendingApprovals(msgs); len(pending) != 0 {
		t.Fatalf("expected no pending approvals, got %+v", pending)
	}
	if pending := PendingApprovals(nil); len(pending) != 0 {
		t.Fatalf("expected no pending approvals for empty history, got %+v", pending)
	}
}

func TestPendingApprovals_OnlyTrailingBlockCounts(t *testing.T) {
	msgs := []Message{
		UserPrompt("first"),
		ToolCall("old", "send_sms", nil),
		AssistantText("interrupted"),
		UserPrompt("second"),
		ToolCall("new", "create_task", nil),
	}

	pending := PendingApprovals(msgs)
	if len(pending) != 1 || pending[0].ToolCallID != "new" {
		t.Fatalf("expected only the trailing call pending, got %+v", pending)
	}
}

func TestMessageValidate_RejectsUnknownKind(t *testing.T) {
	if err := (Message{Kind: "system"}).Validate(); err == nil {
		t.Fatal("expected unknown kind to fail validation")
	}
	if err := (Message{Kind: KindToolCall, ToolName: "send_sms"}).Validate(); err == nil {
		t.Fatal("expected tool call without id to fail validation")
	}
}

func TestCloneMessages_ArgumentsAreIndependent(t *testing.T) {
	orig := []Message{ToolCall("c1", "send_sms", map[string]any{"to": "a"})}
	cloned := CloneMessages(orig)
	cloned[0].Arguments["to"] = "b"

	if orig[0].Arguments["to"] != "a" {
		t.Fatalf("expected original arguments untouched, got %v", orig[0].Arguments["to"])
	}
}

func TestEstimateTokens_PrefersReportedUsage(t *testing.T) {
	msgs := []Message{UserPrompt("hello"), {Kind: KindAssistantText, Text: "hi", Usage: &Usage{InputTokens: 1234}}}
	if got := EstimateTokens(msgs); got != 1234 {
		t.Fatalf("expected reported usage 1234, got %d", got)
	}

	plain := []Message{UserPrompt("12345678")}
	if got := EstimateTokens(plain); got != 2 {
		t.Fatalf("expected 2 estimated tokens, got %d", got)
	}
}
