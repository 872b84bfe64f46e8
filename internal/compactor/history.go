package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

// SummaryMarker opens the synthetic message that replaces compacted history.
const SummaryMarker = "[Conversation summary]"

const historyInstructions = `You compact the earlier part of a conversation between a user and a business operations assistant.
Write a summary the assistant can rely on instead of the transcript. Preserve every decision, fact, number, name, date,
outcome, open question and stated preference. Note which actions were taken, approved or denied and what they returned.
Reply with the summary only.`

// CompactHistory replaces the older half of a long history with a summary
// once the last response reports TokenThreshold input tokens or more. Any
// failure returns msgs unchanged.
func (p *Pipeline) CompactHistory(ctx context.Context, msgs []conversation.Message) []conversation.Message {
	if p.history == nil || len(msgs) < p.cfg.MinMessages {
		return msgs
	}
	tokens, ok := lastInputTokens(msgs)
	if !ok || tokens < p.cfg.TokenThreshold {
		return msgs
	}
	split, ok := SplitIndex(msgs, p.cfg.MinKeepMessages)
	if !ok {
		slog.Debug("history compaction skipped, no user prompt to split at", "messages", len(msgs))
		return msgs
	}

	transcript := RenderTranscript(msgs[:split], p.cfg.TranscriptToolResultChars)
	summary, err := p.history.Summarize(ctx, historyInstructions, transcript)
	if err != nil {
		slog.Warn("history compaction failed", "messages", len(msgs), "input_tokens", tokens, "error", err)
		return msgs
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		slog.Warn("history compaction returned nothing", "messages", len(msgs))
		return msgs
	}

	out := make([]conversation.Message, 0, 1+len(msgs)-split)
	out = append(out, conversation.UserPrompt(SummaryMarker+"\n"+summary))
	out = append(out, conversation.CloneMessages(msgs[split:])...)
	slog.Info("history compacted", "input_tokens", tokens, "compacted", split, "kept", len(msgs)-split)
	return out
}

// lastInputTokens reports the input tokens of the most recent response.
func lastInputTokens(msgs []conversation.Message) (int, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if u := msgs[i].Usage; u != nil {
			return u.InputTokens, true
		}
	}
	return 0, false
}

// SplitIndex picks where to cut msgs: the first user prompt at or after
// the midpoint, otherwise the last one before it, such that at least
// minKeep messages follow and at least one precedes. minKeep below 1 is
// treated as 1.
func SplitIndex(msgs []conversation.Message, minKeep int) (int, bool) {
	minKeep = max(minKeep, 1)
	n := len(msgs)
	maxSplit := n - minKeep
	if maxSplit < 1 {
		return 0, false
	}
	mid := n / 2
	if mid < 1 {
		mid = 1
	}
	for i := mid; i <= maxSplit; i++ {
		if msgs[i].Kind == conversation.KindUserPrompt {
			return i, true
		}
	}
	for i := min(mid-1, maxSplit); i >= 1; i-- {
		if msgs[i].Kind == conversation.KindUserPrompt {
			return i, true
		}
	}
	return 0, false
}

// RenderTranscript formats msgs as role-labeled lines. Tool results longer
// than toolResultChars are cut.
func RenderTranscript(msgs []conversation.Message, toolResultChars int) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Kind {
		case conversation.KindUserPrompt:
			fmt.Fprintf(&sb, "User: %s\n", m.Text)
		case conversation.KindAssistantText:
			fmt.Fprintf(&sb, "Assistant: %s\n", m.Text)
		case conversation.KindToolCall:
			fmt.Fprintf(&sb, "Assistant called %s(%s)\n", m.ToolName, m.ArgumentsJSON())
		case conversation.KindToolReturn:
			fmt.Fprintf(&sb, "Tool %s returned: %s\n", m.ToolName, capText(m.ResultText(), toolResultChars))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
