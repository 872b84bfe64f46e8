package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/metrics"
	"github.com/MEKXH/opsdesk/internal/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultName          = "ops"
	DefaultMaxIterations = 20

	iterationLimitText = "I stopped because this request needed more tool steps than allowed. Ask me to continue if you want me to keep going."
	emptyReplyText     = "Processing complete."
)

// ErrPendingApprovals is returned when a prompt is sent to a conversation
// whose last tool calls still wait for a decision.
var ErrPendingApprovals = errors.New("conversation has pending approvals")

// HistoryProcessor rewrites history before each model call. The compactor
// pipeline satisfies it.
type HistoryProcessor interface {
	Process(ctx context.Context, msgs []conversation.Message) []conversation.Message
}

// Options configures a Runtime.
type Options struct {
	Name          string
	SystemPrompt  string
	MaxIterations int
	History       HistoryProcessor
	Metrics       *metrics.RuntimeMetrics
	Audit         *audit.Writer
}

// Runtime is the eino-backed Agent. It is safe for concurrent runs.
type Runtime struct {
	name          string
	model         model.BaseChatModel
	tools         *tools.Registry
	history       HistoryProcessor
	systemPrompt  string
	maxIterations int
	now           func() time.Time
	runtimeMetric *metrics.RuntimeMetrics
	auditWriter   *audit.Writer

	bindOnce  sync.Once
	bound     model.BaseChatModel
	bindError error

	OnToolStart  func(name, args string)
	OnToolFinish func(name, result string, err error)
}

// NewRuntime creates a runtime over chatModel and the tools in registry.
func NewRuntime(chatModel model.BaseChatModel, registry *tools.Registry, opts Options) *Runtime {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = DefaultName
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	prompt := strings.TrimSpace(opts.SystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &Runtime{
		name:          name,
		model:         chatModel,
		tools:         registry,
		history:       opts.History,
		systemPrompt:  prompt,
		maxIterations: maxIter,
		now:           time.Now,
		runtimeMetric: opts.Metrics,
		auditWriter:   opts.Audit,
	}
}

// Name returns the agent name stored with conversations.
func (r *Runtime) Name() string {
	return r.name
}

// Tools returns the tool registry.
func (r *Runtime) Tools() *tools.Registry {
	return r.tools
}

// bindTools attaches the registry's tool schemas to the model once.
func (r *Runtime) bindTools(ctx context.Context) (model.BaseChatModel, error) {
	r.bindOnce.Do(func() {
		r.bound = r.model
		if r.model == nil {
			return
		}
		infos, err := r.tools.GetToolInfos(ctx)
		if err != nil {
			r.bindError = err
			return
		}
		if len(infos) == 0 {
			return
		}
		if tc, ok := r.model.(model.ToolCallingChatModel); ok {
			bound, err := tc.WithTools(infos)
			if err != nil {
				r.bindError = fmt.Errorf("bind tools: %w", err)
				return
			}
			r.bound = bound
			return
		}
		if binder, ok := r.model.(interface {
			BindTools([]*schema.ToolInfo) error
		}); ok {
			if err := binder.BindTools(infos); err != nil {
				r.bindError = fmt.Errorf("bind tools: %w", err)
			}
		}
	})
	return r.bound, r.bindError
}

// Run executes one turn. With a resume payload, the pending calls are
// settled first and the model continues from there.
func (r *Runtime) Run(ctx context.Context, in RunInput) (*Result, error) {
	chatModel, err := r.bindTools(ctx)
	if err != nil {
		return nil, err
	}
	if chatModel == nil {
		return nil, errors.New("no model configured")
	}

	history := conversation.CloneMessages(in.History)
	switch {
	case in.Resume != nil:
		history, err = r.applyDecisions(ctx, history, in.Resume, in.Deps)
		if err != nil {
			return nil, err
		}
	case strings.TrimSpace(in.Prompt) == "":
		return nil, errors.New("prompt is required")
	default:
		if len(conversation.PendingApprovals(history)) > 0 {
			return nil, ErrPendingApprovals
		}
		history = append(history, conversation.UserPrompt(in.Prompt))
	}

	slog.Info("agent run started",
		"request_id", in.Deps.RequestID,
		"conversation_id", in.Deps.ConversationID,
		"owner_id", in.Deps.OwnerID,
		"history", len(history),
		"resume", in.Resume != nil,
	)

	var usage conversation.Usage
	for i := 0; i < r.maxIterations; i++ {
		if r.history != nil {
			history = r.history.Process(ctx, history)
		}

		input := make([]*schema.Message, 0, len(history)+1)
		input = append(input, schema.SystemMessage(r.systemPrompt))
		input = append(input, toSchemaMessages(history)...)

		resp, err := chatModel.Generate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if resp == nil {
			return nil, errors.New("generate: empty response")
		}

		produced := fromResponse(resp)
		uniqueCallIDs(history, produced)
		if u := produced[len(produced)-1].Usage; u != nil {
			usage.InputTokens = u.InputTokens
			usage.OutputTokens += u.OutputTokens
		}

		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(produced[0].Text) == "" {
				produced[0].Text = emptyReplyText
			}
			history = append(history, produced...)
			return &Result{
				Output:   Output{Text: produced[0].Text},
				Messages: history,
				Usage:    usage,
			}, nil
		}

		history = append(history, produced...)
		calls := trailingCalls(produced)
		returns, deferred := r.executeCalls(ctx, calls, in.Deps)
		history = append(history, returns...)

		if len(deferred) > 0 {
			slog.Info("agent run deferred",
				"request_id", in.Deps.RequestID,
				"conversation_id", in.Deps.ConversationID,
				"pending", len(deferred),
			)
			return &Result{
				Output:   Output{Deferred: deferred},
				Messages: history,
				Usage:    usage,
			}, nil
		}
	}

	slog.Warn("agent run hit iteration limit",
		"request_id", in.Deps.RequestID,
		"conversation_id", in.Deps.ConversationID,
		"max_iterations", r.maxIterations,
	)
	history = append(history, conversation.AssistantText(iterationLimitText))
	return &Result{
		Output:   Output{Text: iterationLimitText},
		Messages: history,
		Usage:    usage,
	}, nil
}

func trailingCalls(msgs []conversation.Message) []conversation.Message {
	var calls []conversation.Message
	for _, m := range msgs {
		if m.Kind == conversation.KindToolCall {
			calls = append(calls, m)
		}
	}
	return calls
}

// applyDecisions settles the pending calls at the tail of history. Approved
// calls run with their final arguments, which replace the stored ones.
func (r *Runtime) applyDecisions(ctx context.Context, history []conversation.Message, payload *ResumePayload, deps Deps) ([]conversation.Message, error) {
	pending := conversation.PendingApprovals(history)
	if len(pending) == 0 {
		return nil, errors.New("nothing to resume: no pending approvals")
	}

	index := make(map[string]int, len(pending))
	for i := len(history) - 1; i >= 0 && len(index) < len(pending); i-- {
		if history[i].Kind == conversation.KindToolCall {
			if _, seen := index[history[i].ToolCallID]; !seen {
				index[history[i].ToolCallID] = i
			}
		}
	}

	returns := make([]conversation.Message, len(pending))
	var approvedPos []int
	var approved []conversation.Message
	for n, p := range pending {
		decision, ok := payload.Decisions[p.ToolCallID]
		if !ok {
			return nil, fmt.Errorf("no decision for tool call %s", p.ToolCallID)
		}
		if !decision.Approved {
			reason := strings.TrimSpace(decision.DenialReason)
			if reason == "" {
				reason = "the reviewer did not approve this action"
			}
			returns[n] = conversation.ToolReturn(p.ToolCallID, p.ToolName, "Denied: "+reason, r.nowUTC())
			continue
		}
		i := index[p.ToolCallID]
		if decision.OverrideArguments != nil {
			history[i].Arguments = copyArgs(decision.OverrideArguments)
		}
		approvedPos = append(approvedPos, n)
		approved = append(approved, history[i])
	}

	for k, ret := range r.runApproved(ctx, approved, deps) {
		returns[approvedPos[k]] = ret
	}
	return append(history, returns...), nil
}

// runApproved executes calls a human approved, in parallel. Results keep
// the order of calls.
func (r *Runtime) runApproved(ctx context.Context, calls []conversation.Message, deps Deps) []conversation.Message {
	out := make([]conversation.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call conversation.Message) {
			defer wg.Done()
			result, _ := r.invoke(ctx, call, deps, true)
			out[i] = conversation.ToolReturn(call.ToolCallID, call.ToolName, result, r.nowUTC())
		}(i, call)
	}
	wg.Wait()
	return out
}

// executeCalls runs the model's tool calls in parallel. Calls the guard
// defers produce no return and are reported as pending instead.
func (r *Runtime) executeCalls(ctx context.Context, calls []conversation.Message, deps Deps) ([]conversation.Message, []conversation.PendingApproval) {
	type toolResult struct {
		index    int
		msg      conversation.Message
		deferred bool
	}

	resultChan := make(chan toolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call conversation.Message) {
			defer wg.Done()
			result, deferred := r.invoke(ctx, call, deps, false)
			resultChan <- toolResult{
				index:    i,
				msg:      conversation.ToolReturn(call.ToolCallID, call.ToolName, result, r.nowUTC()),
				deferred: deferred,
			}
		}(i, call)
	}

	wg.Wait()
	close(resultChan)

	results := make([]toolResult, len(calls))
	for res := range resultChan {
		results[res.index] = res
	}

	var returns []conversation.Message
	var pending []conversation.PendingApproval
	for i, res := range results {
		if res.deferred {
			pending = append(pending, conversation.PendingApproval{
				ToolCallID: calls[i].ToolCallID,
				ToolName:   calls[i].ToolName,
				Arguments:  copyArgs(calls[i].Arguments),
			})
			continue
		}
		returns = append(returns, res.msg)
	}
	return returns, pending
}

// invoke runs one call and renders the outcome as tool result text. It
// reports true when the call must wait for approval.
func (r *Runtime) invoke(ctx context.Context, call conversation.Message, deps Deps, approved bool) (string, bool) {
	toolStart := time.Now()
	args := argumentsJSON(call.Arguments)
	if r.OnToolStart != nil {
		r.OnToolStart(call.ToolName, args)
	}

	toolCtx := tools.WithInvocationContext(ctx, tools.InvocationContext{
		OwnerID:        deps.OwnerID,
		ConversationID: deps.ConversationID,
		RequestID:      deps.RequestID,
		ToolCallID:     call.ToolCallID,
	})

	var result string
	var err error
	if approved {
		result, err = r.tools.ExecuteApproved(toolCtx, call.ToolName, args)
	} else {
		result, err = r.tools.Execute(toolCtx, call.ToolName, args)
	}

	var approvalErr *tools.ApprovalRequiredError
	if errors.As(err, &approvalErr) {
		slog.Info("tool call deferred for approval",
			"request_id", deps.RequestID,
			"conversation_id", deps.ConversationID,
			"tool", call.ToolName,
			"tool_call_id", call.ToolCallID,
		)
		return "", true
	}
	if err != nil {
		result = "Error: " + err.Error()
	}

	toolDuration := time.Since(toolStart)
	r.auditToolExecution(deps, call, err)
	logAttrs := []any{
		"request_id", deps.RequestID,
		"conversation_id", deps.ConversationID,
		"tool", call.ToolName,
		"tool_call_id", call.ToolCallID,
		"duration_ms", toolDuration.Milliseconds(),
		"success", err == nil,
	}
	if r.runtimeMetric != nil {
		snapshot, metricErr := r.runtimeMetric.RecordToolExecution(call.ToolName, toolDuration, result, err)
		if metricErr != nil {
			slog.Warn("record runtime metrics failed", "scope", "tool", "error", metricErr)
		}
		logAttrs = append(logAttrs,
			"tool_total", snapshot.Tool.Total,
			"tool_error_ratio", snapshot.Tool.ErrorRatio(),
			"tool_latency_p95_proxy_ms", snapshot.Tool.P95ProxyLatencyMs,
		)
	}
	slog.Info("tool execution finished", logAttrs...)

	if r.OnToolFinish != nil {
		r.OnToolFinish(call.ToolName, result, err)
	}
	return result, false
}

func (r *Runtime) auditToolExecution(deps Deps, call conversation.Message, err error) {
	if r.auditWriter == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error: " + err.Error()
	}
	event := audit.Event{
		Time:           r.nowUTC(),
		Type:           audit.TypeToolExecution,
		RequestID:      deps.RequestID,
		ConversationID: deps.ConversationID,
		OwnerID:        deps.OwnerID,
		Tool:           call.ToolName,
		ToolCallID:     call.ToolCallID,
		Result:         status,
	}
	if err := r.auditWriter.Append(event); err != nil {
		slog.Warn("failed to append audit event", "type", event.Type, "tool", event.Tool, "error", err)
	}
}

func (r *Runtime) nowUTC() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}
