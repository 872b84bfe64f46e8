package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

func TestPrintConversationTable(t *testing.T) {
	var out bytes.Buffer
	printConversationTable(&out, "Conversations", []conversation.Summary{
		{ID: "c-pending", Preview: "text Ana about the invoice", Pending: true, MessageCount: 2, UpdatedAt: time.Now()},
		{ID: "c-done", Preview: "what's on Friday?", MessageCount: 4, UpdatedAt: time.Now()},
	})

	text := out.String()
	for _, want := range []string{"Conversations", "c-pending", "awaiting_approval", "c-done", "completed", "FIRST PROMPT"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected table to contain %q:\n%s", want, text)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := truncate("a very long preview line", 10); got != "a very ..." {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "hé..." {
		t.Fatalf("unexpected rune truncate: %q", got)
	}
}
