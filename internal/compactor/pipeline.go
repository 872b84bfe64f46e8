package compactor

import (
	"context"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

// Config holds the compaction thresholds.
type Config struct {
	// ToolResultCharThreshold is the size above which an older tool result
	// gets summarized. Summaries are always shorter than it.
	ToolResultCharThreshold int
	// SummarizerInputCharLimit caps what is sent to the tool-result summarizer.
	SummarizerInputCharLimit int
	// TokenThreshold triggers whole-history compaction once the last
	// response reports at least this many input tokens.
	TokenThreshold int
	// MinMessages is the history length below which compaction never runs.
	MinMessages int
	// MinKeepMessages is how many trailing messages always stay verbatim.
	MinKeepMessages int
	// TranscriptToolResultChars truncates tool results in the transcript.
	TranscriptToolResultChars int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ToolResultCharThreshold:   2000,
		SummarizerInputCharLimit:  20000,
		TokenThreshold:            100000,
		MinMessages:               8,
		MinKeepMessages:           4,
		TranscriptToolResultChars: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ToolResultCharThreshold <= 0 {
		c.ToolResultCharThreshold = d.ToolResultCharThreshold
	}
	if c.SummarizerInputCharLimit <= 0 {
		c.SummarizerInputCharLimit = d.SummarizerInputCharLimit
	}
	if c.TokenThreshold <= 0 {
		c.TokenThreshold = d.TokenThreshold
	}
	if c.MinMessages <= 0 {
		c.MinMessages = d.MinMessages
	}
	if c.MinKeepMessages <= 0 {
		c.MinKeepMessages = d.MinKeepMessages
	}
	if c.TranscriptToolResultChars <= 0 {
		c.TranscriptToolResultChars = d.TranscriptToolResultChars
	}
	return c
}

// Pipeline runs tool-result summarization followed by history compaction.
// It never modifies the slice it is given.
type Pipeline struct {
	cfg        Config
	toolResult Summarizer
	history    Summarizer
}

// New builds a pipeline. A nil summarizer disables its pass.
func New(cfg Config, toolResult, history Summarizer) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), toolResult: toolResult, history: history}
}

// Config returns the effective thresholds.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Process returns the history to send to the model. Tool results are
// summarized first so compaction sees the condensed form.
func (p *Pipeline) Process(ctx context.Context, msgs []conversation.Message) []conversation.Message {
	return p.CompactHistory(ctx, p.SummarizeToolResults(ctx, msgs))
}
