package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

const toolResultInstructions = `You condense the output of the %q tool for a business operations assistant.
Keep every identifier, name, number, date, amount, status and error message that could matter later.
Drop formatting, repetition and boilerplate. Reply with the condensed content only, in at most %d characters.`

// CurrentTurnStart returns the index where the in-progress exchange
// begins. Walking back from the end, each model response whose only
// follow-up is its matching tool returns belongs to the current turn; the
// walk stops at a user prompt (which is included) or at anything else.
func CurrentTurnStart(msgs []conversation.Message) int {
	i := len(msgs)
	for i > 0 {
		switch msgs[i-1].Kind {
		case conversation.KindUserPrompt:
			return i - 1
		case conversation.KindToolReturn:
			start, ok := responseWithReturns(msgs, i)
			if !ok {
				return i
			}
			i = start
		case conversation.KindToolCall:
			// Calls still waiting for returns only happen at the tail.
			if i != len(msgs) {
				return i
			}
			i = responseStart(msgs, callBlockStart(msgs, i))
		default:
			return i
		}
	}
	return 0
}

// responseWithReturns checks that msgs[:end] ends with a block of tool
// returns answering the tool calls right before it, and returns where that
// model response starts.
func responseWithReturns(msgs []conversation.Message, end int) (int, bool) {
	returnsStart := end
	for returnsStart > 0 && msgs[returnsStart-1].Kind == conversation.KindToolReturn {
		returnsStart--
	}
	callsStart := callBlockStart(msgs, returnsStart)
	if callsStart == returnsStart {
		return 0, false
	}

	calls := make(map[string]struct{}, returnsStart-callsStart)
	for _, m := range msgs[callsStart:returnsStart] {
		calls[m.ToolCallID] = struct{}{}
	}
	for _, m := range msgs[returnsStart:end] {
		if _, ok := calls[m.ToolCallID]; !ok {
			return 0, false
		}
	}
	return responseStart(msgs, callsStart), true
}

func callBlockStart(msgs []conversation.Message, end int) int {
	start := end
	for start > 0 && msgs[start-1].Kind == conversation.KindToolCall {
		start--
	}
	return start
}

// responseStart includes text the model emitted alongside its tool calls.
// Usage marks the last message of a response, so text carrying usage ends
// an earlier response.
func responseStart(msgs []conversation.Message, callsStart int) int {
	if callsStart > 0 {
		prev := msgs[callsStart-1]
		if prev.Kind == conversation.KindAssistantText && prev.Usage == nil {
			return callsStart - 1
		}
	}
	return callsStart
}

// SummarizeToolResults replaces oversized tool results that precede the
// current turn with short summaries. A failed summary leaves that result
// as it was.
func (p *Pipeline) SummarizeToolResults(ctx context.Context, msgs []conversation.Message) []conversation.Message {
	if p.toolResult == nil || len(msgs) == 0 {
		return msgs
	}
	threshold := p.cfg.ToolResultCharThreshold
	boundary := CurrentTurnStart(msgs)

	var out []conversation.Message
	for i := 0; i < boundary; i++ {
		m := msgs[i]
		if m.Kind != conversation.KindToolReturn {
			continue
		}
		text := m.ResultText()
		if utf8.RuneCountInString(text) <= threshold {
			continue
		}

		prefix := fmt.Sprintf("[Summarized %s result]: ", m.ToolName)
		budget := threshold - 1 - utf8.RuneCountInString(prefix)
		if budget <= 0 {
			continue
		}
		instructions := fmt.Sprintf(toolResultInstructions, m.ToolName, budget)
		summary, err := p.toolResult.Summarize(ctx, instructions, capText(text, p.cfg.SummarizerInputCharLimit))
		if err != nil {
			slog.Warn("tool result summarization failed", "tool", m.ToolName, "tool_call_id", m.ToolCallID, "error", err)
			continue
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			slog.Warn("tool result summarization returned nothing", "tool", m.ToolName, "tool_call_id", m.ToolCallID)
			continue
		}

		if out == nil {
			out = conversation.CloneMessages(msgs)
		}
		out[i].Result = prefix + truncateRunes(summary, budget)
		slog.Debug("tool result summarized", "tool", m.ToolName, "from_chars", utf8.RuneCountInString(text), "to_chars", utf8.RuneCountInString(out[i].ResultText()))
	}
	if out == nil {
		return msgs
	}
	return out
}

// capText truncates s to limit runes and says how much was dropped.
func capText(s string, limit int) string {
	n := utf8.RuneCountInString(s)
	if limit <= 0 || n <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + fmt.Sprintf("\n... [truncated %d chars]", n-limit)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
