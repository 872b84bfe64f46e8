package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the variants of Message.
type Kind string

const (
	KindUserPrompt    Kind = "user_prompt"
	KindAssistantText Kind = "assistant_text"
	KindToolCall      Kind = "tool_call"
	KindToolReturn    Kind = "tool_return"
)

// Valid reports whether k is one of the known message kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUserPrompt, KindAssistantText, KindToolCall, KindToolReturn:
		return true
	default:
		return false
	}
}

// Usage is the token accounting reported by the model for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one entry of a conversation history.
//
// Which fields are meaningful depends on Kind:
//
//	user_prompt     Text
//	assistant_text  Text, Usage
//	tool_call       ToolName, ToolCallID, Arguments, Usage
//	tool_return     ToolName, ToolCallID, Result, Timestamp
//
// Usage is set on the last message produced by a model response.
type Message struct {
	Kind       Kind           `json:"kind"`
	Text       string         `json:"text,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// UserPrompt builds a user prompt message.
func UserPrompt(text string) Message {
	return Message{Kind: KindUserPrompt, Text: text}
}

// AssistantText builds a plain assistant reply.
func AssistantText(text string) Message {
	return Message{Kind: KindAssistantText, Text: text}
}

// ToolCall builds a tool invocation requested by the model.
func ToolCall(id, toolName string, args map[string]any) Message {
	return Message{Kind: KindToolCall, ToolCallID: id, ToolName: toolName, Arguments: args}
}

// ToolReturn builds the result of a tool invocation.
func ToolReturn(id, toolName string, result any, at time.Time) Message {
	return Message{Kind: KindToolReturn, ToolCallID: id, ToolName: toolName, Result: result, Timestamp: at}
}

// Validate checks the fields required by the message kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindUserPrompt, KindAssistantText:
		return nil
	case KindToolCall, KindToolReturn:
		if strings.TrimSpace(m.ToolCallID) == "" {
			return fmt.Errorf("%s message missing tool_call_id", m.Kind)
		}
		if strings.TrimSpace(m.ToolName) == "" {
			return fmt.Errorf("%s message missing tool_name", m.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

// ResultText renders a tool_return result as text. Strings are returned
// as-is, everything else as sanitized JSON.
func (m Message) ResultText() string {
	switch v := m.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	encoded, err := json.Marshal(Sanitize(m.Result))
	if err != nil {
		return fmt.Sprint(m.Result)
	}
	return string(encoded)
}

// ArgumentsJSON renders tool_call arguments as compact JSON.
func (m Message) ArgumentsJSON() string {
	if len(m.Arguments) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(Sanitize(m.Arguments))
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// PendingApproval is a tool call awaiting a human decision. It is derived
// from history and never stored.
type PendingApproval struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// PendingApprovals returns the tool calls of the trailing tool-call block
// that have no matching tool return. The result is in call order.
func PendingApprovals(msgs []Message) []PendingApproval {
	start := len(msgs)
	for start > 0 {
		k := msgs[start-1].Kind
		if k != KindToolCall && k != KindToolReturn {
			break
		}
		start--
	}
	block := msgs[start:]
	if len(block) == 0 {
		return nil
	}

	returned := make(map[string]struct{}, len(block))
	for _, m := range block {
		if m.Kind == KindToolReturn {
			returned[m.ToolCallID] = struct{}{}
		}
	}

	var pending []PendingApproval
	for _, m := range block {
		if m.Kind != KindToolCall {
			continue
		}
		if _, ok := returned[m.ToolCallID]; ok {
			continue
		}
		pending = append(pending, PendingApproval{
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
			Arguments:  cloneArgs(m.Arguments),
		})
	}
	return pending
}

// CloneMessages returns a copy of msgs whose argument maps can be modified
// without touching the originals.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Arguments = cloneArgs(m.Arguments)
		if m.Usage != nil {
			u := *m.Usage
			m.Usage = &u
		}
		out[i] = m
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// charsPerToken approximates tokenization for budget estimates.
const charsPerToken = 4

// EstimateTokens approximates the token count of msgs. The last reported
// input token count wins when one is present.
func EstimateTokens(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if u := msgs[i].Usage; u != nil && u.InputTokens > 0 {
			return u.InputTokens
		}
	}
	chars := 0
	for _, m := range msgs {
		switch m.Kind {
		case KindUserPrompt, KindAssistantText:
			chars += len(m.Text)
		case KindToolCall:
			chars += len(m.ToolName) + len(m.ArgumentsJSON())
		case KindToolReturn:
			chars += len(m.ResultText())
		}
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
