package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/opsdesk/internal/agent"
	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/metrics"
	"github.com/google/uuid"
)

const DefaultPersistTimeout = 30 * time.Second

// Gate runs an agent to completion or to a pause, and resumes paused
// conversations from their stored history. It holds no state between calls
// apart from in-flight saves.
type Gate struct {
	store          conversation.Store
	agent          agent.Agent
	persistTimeout time.Duration
	auditWriter    *audit.Writer
	runtimeMetric  *metrics.RuntimeMetrics
	now            func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	saving map[string]chan struct{} // conversation id -> in-flight save
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithPersistTimeout bounds each detached save.
func WithPersistTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.persistTimeout = d
		}
	}
}

// WithAudit records every transition in the audit log.
func WithAudit(w *audit.Writer) GateOption {
	return func(g *Gate) { g.auditWriter = w }
}

// WithMetrics counts run outcomes.
func WithMetrics(m *metrics.RuntimeMetrics) GateOption {
	return func(g *Gate) { g.runtimeMetric = m }
}

// NewGate creates a gate over store and ag.
func NewGate(store conversation.Store, ag agent.Agent, opts ...GateOption) *Gate {
	g := &Gate{
		store:          store,
		agent:          ag,
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
		saving:         make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AgentName reports the agent conversations are stored under.
func (g *Gate) AgentName() string {
	return g.agent.Name()
}

// Wait blocks until detached saves have finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Run starts a turn with a prompt. The full resulting history is saved
// whether the agent finished or paused on approvals.
func (g *Gate) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, invalid("owner id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, invalid("prompt is required")
	}

	id := strings.TrimSpace(req.ConversationID)
	var history []conversation.Message
	if id == "" {
		id = uuid.NewString()
	} else {
		var err error
		history, err = g.loadForRun(ctx, id, owner)
		if err != nil {
			return nil, err
		}
	}

	if pending := ExtractPendingFromMessages(history); len(pending) > 0 {
		return nil, &ValidationError{
			Message:     fmt.Sprintf("conversation %s is awaiting approval; resume it first", id),
			ToolCallIDs: pendingIDs(pending),
		}
	}

	deps := agent.Deps{OwnerID: owner, ConversationID: id, RequestID: req.RequestID}
	res, err := g.agent.Run(ctx, agent.RunInput{Prompt: req.Prompt, History: history, Deps: deps})
	if err != nil {
		g.recordFailure(deps, false, err)
		return nil, fmt.Errorf("run agent: %w", err)
	}
	return g.finish(ctx, deps, req.Metadata, res, false)
}

// Resume settles every pending tool call of a stored conversation and lets
// the agent continue. Decisions must cover exactly the pending calls.
func (g *Gate) Resume(ctx context.Context, req ResumeRequest) (*RunResult, error) {
	owner := strings.TrimSpace(req.OwnerID)
	id := strings.TrimSpace(req.ConversationID)
	if owner == "" {
		return nil, invalid("owner id is required")
	}
	if id == "" {
		return nil, invalid("conversation id is required")
	}

	if err := g.awaitSave(ctx, id); err != nil {
		return nil, err
	}
	conv, err := g.store.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	pending := ExtractPendingFromMessages(conv.Messages)
	payload, err := buildResumePayload(id, pending, req.Decisions)
	if err != nil {
		return nil, err
	}

	deps := agent.Deps{OwnerID: owner, ConversationID: id, RequestID: req.RequestID}
	for _, p := range pending {
		d := payload.Decisions[p.ToolCallID]
		eventType, result := audit.TypeApprovalGranted, "approved"
		if d.OverrideArguments != nil {
			result = "approved with modified arguments"
		}
		if !d.Approved {
			eventType, result = audit.TypeApprovalDenied, d.DenialReason
		}
		g.appendAudit(deps, eventType, p.ToolName, p.ToolCallID, result)
	}

	res, err := g.agent.Run(ctx, agent.RunInput{History: conv.Messages, Resume: payload, Deps: deps})
	if err != nil {
		g.recordFailure(deps, true, err)
		return nil, fmt.Errorf("resume agent: %w", err)
	}
	return g.finish(ctx, deps, nil, res, true)
}

func (g *Gate) finish(ctx context.Context, deps agent.Deps, metadata map[string]any, res *agent.Result, resumed bool) (*RunResult, error) {
	result := &RunResult{
		ConversationID: deps.ConversationID,
		AgentName:      g.agent.Name(),
		Status:         StatusCompleted,
		Output:         res.Output.Text,
		Messages:       res.Messages,
		Usage:          res.Usage,
	}
	if pending := ExtractPending(res); len(pending) > 0 {
		result.Status = StatusAwaitingApproval
		result.Pending = pending
	}

	err := g.persist(ctx, conversation.SaveInput{
		ID:              deps.ConversationID,
		AgentName:       result.AgentName,
		OwnerID:         deps.OwnerID,
		Messages:        res.Messages,
		Metadata:        metadata,
		EstimatedTokens: conversation.EstimateTokens(res.Messages),
	}, deps)
	if err != nil {
		return nil, err
	}

	outcome := metrics.OutcomeCompleted
	if result.Status == StatusAwaitingApproval {
		outcome = metrics.OutcomeAwaitingApproval
		for _, p := range result.Pending {
			g.appendAudit(deps, audit.TypeAwaitingApproval, p.ToolName, p.ToolCallID, "")
		}
	} else {
		g.appendAudit(deps, audit.TypeRunCompleted, "", "", "")
	}
	g.recordRun(outcome, resumed)

	slog.Info("conversation turn finished",
		"request_id", deps.RequestID,
		"conversation_id", deps.ConversationID,
		"owner_id", deps.OwnerID,
		"status", result.Status,
		"pending", len(result.Pending),
		"messages", len(res.Messages),
		"resumed", resumed,
	)
	return result, nil
}

// loadForRun returns the history for a caller-supplied id. An unknown id
// starts a new conversation; an id held by another owner is reported as not
// found before the agent or any tool runs.
func (g *Gate) loadForRun(ctx context.Context, id, owner string) ([]conversation.Message, error) {
	if err := g.awaitSave(ctx, id); err != nil {
		return nil, err
	}
	holder, err := g.store.Owner(ctx, id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case holder != owner:
		return nil, ErrConversationNotFound
	}
	conv, err := g.store.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// awaitSave blocks while a save of id started by this gate is in flight, so
// the next turn reads what the previous one wrote.
func (g *Gate) awaitSave(ctx context.Context, id string) error {
	g.mu.Lock()
	ch := g.saving[id]
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist saves in a goroutine detached from the caller's cancellation. If
// the caller goes away first it gets ctx.Err() while the save carries on;
// a failure then is only logged and audited.
func (g *Gate) persist(ctx context.Context, in conversation.SaveInput, deps agent.Deps) error {
	done := make(chan error, 1)
	saved := make(chan struct{})
	g.mu.Lock()
	g.saving[in.ID] = saved
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			g.mu.Lock()
			if g.saving[in.ID] == saved {
				delete(g.saving, in.ID)
			}
			g.mu.Unlock()
			close(saved)
		}()
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.persistTimeout)
		defer cancel()

		_, err := g.store.Save(saveCtx, in)
		if err != nil {
			slog.Error("persist conversation failed",
				"request_id", deps.RequestID,
				"conversation_id", in.ID,
				"owner_id", in.OwnerID,
				"error", err,
			)
			g.appendAudit(deps, audit.TypePersistFailed, "", "", err.Error())
			g.recordRun(metrics.OutcomePersistFailed, false)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("persist conversation: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Warn("caller left before conversation was saved; save continues",
			"request_id", deps.RequestID,
			"conversation_id", in.ID,
		)
		return ctx.Err()
	}
}

func (g *Gate) recordFailure(deps agent.Deps, resumed bool, err error) {
	slog.Error("agent run failed",
		"request_id", deps.RequestID,
		"conversation_id", deps.ConversationID,
		"owner_id", deps.OwnerID,
		"resumed", resumed,
		"error", err,
	)
	g.appendAudit(deps, audit.TypeRunFailed, "", "", err.Error())
	g.recordRun(metrics.OutcomeFailed, resumed)
}

func (g *Gate) recordRun(outcome metrics.RunOutcome, resumed bool) {
	if g.runtimeMetric == nil {
		return
	}
	if _, err := g.runtimeMetric.RecordRun(outcome, resumed); err != nil {
		slog.Warn("record runtime metrics failed", "scope", "run", "error", err)
	}
}

func (g *Gate) appendAudit(deps agent.Deps, eventType, toolName, toolCallID, result string) {
	if g.auditWriter == nil {
		return
	}
	event := audit.Event{
		Time:           g.now().UTC(),
		Type:           eventType,
		RequestID:      deps.RequestID,
		ConversationID: deps.ConversationID,
		OwnerID:        deps.OwnerID,
		Tool:           toolName,
		ToolCallID:     toolCallID,
		Result:         result,
	}
	if err := g.auditWriter.Append(event); err != nil {
		slog.Warn("failed to append audit event", "type", event.Type, "error", err)
	}
}

func pendingIDs(pending []conversation.PendingApproval) []string {
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ToolCallID
	}
	return ids
}
