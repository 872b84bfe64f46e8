package agent

import (
	"encoding/json"
	"strings"

	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// toSchemaMessages converts history into model input. Consecutive tool
// calls become one assistant message, and text emitted by the same response
// is carried as its content.
func toSchemaMessages(msgs []conversation.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Kind {
		case conversation.KindUserPrompt:
			out = append(out, schema.UserMessage(m.Text))
		case conversation.KindAssistantText:
			if m.Usage == nil && i+1 < len(msgs) && msgs[i+1].Kind == conversation.KindToolCall {
				calls, next := collectToolCalls(msgs, i+1)
				out = append(out, schema.AssistantMessage(m.Text, calls))
				i = next - 1
				continue
			}
			out = append(out, schema.AssistantMessage(m.Text, nil))
		case conversation.KindToolCall:
			calls, next := collectToolCalls(msgs, i)
			out = append(out, schema.AssistantMessage("", calls))
			i = next - 1
		case conversation.KindToolReturn:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    m.ResultText(),
				ToolCallID: m.ToolCallID,
				ToolName:   m.ToolName,
			})
		}
	}
	return out
}

func collectToolCalls(msgs []conversation.Message, start int) ([]schema.ToolCall, int) {
	var calls []schema.ToolCall
	i := start
	for ; i < len(msgs) && msgs[i].Kind == conversation.KindToolCall; i++ {
		calls = append(calls, schema.ToolCall{
			ID:   msgs[i].ToolCallID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      msgs[i].ToolName,
				Arguments: argumentsJSON(msgs[i].Arguments),
			},
		})
		// Usage closes a response.
		if msgs[i].Usage != nil {
			i++
			break
		}
	}
	return calls, i
}

// fromResponse converts one model response into history messages. Usage is
// attached to the last message of the response.
func fromResponse(resp *schema.Message) []conversation.Message {
	var out []conversation.Message
	if text := strings.TrimSpace(resp.Content); text != "" {
		out = append(out, conversation.AssistantText(resp.Content))
	}
	for _, tc := range resp.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, conversation.ToolCall(id, tc.Function.Name, parseArguments(tc.Function.Arguments)))
	}
	if len(out) == 0 {
		out = append(out, conversation.AssistantText(""))
	}
	if usage := responseUsage(resp); usage != nil {
		out[len(out)-1].Usage = usage
	}
	return out
}

// uniqueCallIDs gives a fresh id to every call in produced whose id is
// already used in history or earlier in produced. Some OpenAI-compatible
// servers number calls per response, so "call_0" repeats across turns and
// would pair a new call with an old return.
func uniqueCallIDs(history, produced []conversation.Message) {
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ToolCallID != "" {
			seen[m.ToolCallID] = struct{}{}
		}
	}
	for i := range produced {
		if produced[i].Kind != conversation.KindToolCall {
			continue
		}
		if _, dup := seen[produced[i].ToolCallID]; dup {
			produced[i].ToolCallID = "call_" + uuid.NewString()
		}
		seen[produced[i].ToolCallID] = struct{}{}
	}
}

func responseUsage(resp *schema.Message) *conversation.Usage {
	if resp.ResponseMeta == nil || resp.ResponseMeta.Usage == nil {
		return nil
	}
	u := resp.ResponseMeta.Usage
	return &conversation.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

// parseArguments decodes tool call arguments. Malformed JSON is kept under
// "_raw" so the call still round-trips.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func argumentsJSON(args map[string]any) string {
	if raw, ok := args["_raw"].(string); ok && len(args) == 1 {
		return raw
	}
	return conversation.Message{Arguments: args}.ArgumentsJSON()
}

func copyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
