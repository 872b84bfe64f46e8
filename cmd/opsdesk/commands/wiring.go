package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MEKXH/opsdesk/internal/agent"
	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/compactor"
	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/metrics"
	"github.com/MEKXH/opsdesk/internal/policy"
	"github.com/MEKXH/opsdesk/internal/provider"
	"github.com/MEKXH/opsdesk/internal/tools"
	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/model"
)

// app holds the services one command invocation needs.
type app struct {
	cfg       *config.Config
	workspace string
	store     conversation.Store
	audit     *audit.Writer
	metrics   *metrics.RuntimeMetrics
	outbox    *vendor.Outbox
	runtime   *agent.Runtime
	gate      *approval.Gate
}

// newModelFunc is swapped in tests.
var newModelFunc = func(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, model.ToolCallingChatModel, error) {
	chat, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Compaction.Enabled {
		return chat, nil, nil
	}
	summary, err := provider.NewSummaryModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return chat, summary, nil
}

// openStore opens the configured conversation backend.
func openStore(ctx context.Context, cfg *config.Config) (conversation.Store, error) {
	return conversation.Open(ctx, storeOptions(cfg))
}

func storeOptions(cfg *config.Config) conversation.Options {
	s := cfg.Store
	return conversation.Options{
		Driver:     s.Driver,
		SQLitePath: cfg.SQLitePath(),
		FileDir:    cfg.FileStoreDir(),
		Redis: conversation.RedisOptions{
			URL:       s.Redis.URL,
			KeyPrefix: s.Redis.KeyPrefix,
			TTL:       time.Duration(s.Redis.TTLHours) * time.Hour,
		},
		GetAttempts:   s.GetAttempts,
		GetRetryDelay: time.Duration(s.GetRetryDelayMs) * time.Millisecond,
	}
}

// buildApp wires the store, tools, agent runtime and approval gate.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	workspace, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}

	chatModel, summaryModel, err := newModelFunc(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		workspace: workspace,
		store:     store,
		audit:     audit.NewWriter(workspace),
		metrics:   metrics.NewRuntimeMetrics(workspace),
		outbox:    vendor.NewOutbox(contacts(cfg)),
	}

	registry := tools.NewRegistry()
	registry.SetTimeout(time.Duration(cfg.Tools.TimeoutSeconds) * time.Second)
	registry.SetGuard(agent.NewPolicyGuard(policyEvaluator(cfg), a.audit))
	if err := tools.RegisterBusinessTools(registry, a.outbox.Suite()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	var history agent.HistoryProcessor
	if cfg.Compaction.Enabled && summaryModel != nil {
		timeout := time.Duration(cfg.Compaction.TimeoutSeconds) * time.Second
		summarizer := compactor.NewModelSummarizer(summaryModel, timeout)
		history = compactor.New(compactorConfig(cfg.Compaction), summarizer, summarizer)
	}

	a.runtime = agent.NewRuntime(chatModel, registry, agent.Options{
		Name:          cfg.Agent.Name,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
		History:       history,
		Metrics:       a.metrics,
		Audit:         a.audit,
	})
	a.gate = approval.NewGate(store, a.runtime,
		approval.WithPersistTimeout(time.Duration(cfg.Approval.PersistTimeoutSeconds)*time.Second),
		approval.WithAudit(a.audit),
		approval.WithMetrics(a.metrics),
	)

	slog.Debug("opsdesk wired",
		"agent", a.runtime.Name(),
		"store", cfg.Store.Driver,
		"policy", cfg.Policy.Mode,
		"compaction", history != nil,
		"tools", len(registry.Names()),
	)
	return a, nil
}

// Close waits for detached saves before closing the store.
func (a *app) Close() error {
	if a.gate != nil {
		a.gate.Wait()
	}
	return a.store.Close()
}

func policyEvaluator(cfg *config.Config) policy.Evaluator {
	return policy.NewEvaluator(policy.Config{
		Mode:            policy.Mode(cfg.Policy.Mode),
		RequireApproval: cfg.Policy.RequireApproval,
		Deny:            cfg.Policy.Deny,
	})
}

func compactorConfig(c config.CompactionConfig) compactor.Config {
	return compactor.Config{
		ToolResultCharThreshold:   c.ToolResultCharThreshold,
		SummarizerInputCharLimit:  c.SummarizerInputCharLimit,
		TokenThreshold:            c.TokenThreshold,
		MinMessages:               c.MinMessages,
		MinKeepMessages:           c.MinKeepMessages,
		TranscriptToolResultChars: c.TranscriptToolResultChars,
	}
}

func contacts(cfg *config.Config) []vendor.Contact {
	out := make([]vendor.Contact, 0, len(cfg.Tools.Contacts))
	for _, c := range cfg.Tools.Contacts {
		out = append(out, vendor.Contact{Name: c.Name, Phone: c.Phone, Email: c.Email, Company: c.Company})
	}
	return out
}
