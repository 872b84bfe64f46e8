// Package compactor keeps the history sent to the model within budget.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Summarizer condenses content following instructions. Implementations are
// the small sub-agents used by both passes.
type Summarizer interface {
	Summarize(ctx context.Context, instructions, content string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, instructions, content string) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, instructions, content string) (string, error) {
	return f(ctx, instructions, content)
}

// ChatModel is the subset of an eino chat model the summarizer needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ModelSummarizer runs a chat model as a summarization sub-agent.
type ModelSummarizer struct {
	model   ChatModel
	timeout time.Duration
}

// NewModelSummarizer wraps m. Each call is bounded by timeout when positive.
func NewModelSummarizer(m ChatModel, timeout time.Duration) *ModelSummarizer {
	return &ModelSummarizer{model: m, timeout: timeout}
}

func (s *ModelSummarizer) Summarize(ctx context.Context, instructions, content string) (string, error) {
	if s.model == nil {
		return "", errors.New("summarizer model is not configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage(content),
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("summarizer returned empty text")
	}
	return strings.TrimSpace(resp.Content), nil
}
