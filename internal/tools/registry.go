package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// GuardAction is the outcome of the pre-execution guard.
type GuardAction string

const (
	GuardAllow           GuardAction = "allow"
	GuardDeny            GuardAction = "deny"
	GuardRequireApproval GuardAction = "require_approval"
)

// GuardResult is returned by a GuardFunc.
type GuardResult struct {
	Action  GuardAction
	Message string
}

// GuardFunc decides whether a tool call may run.
type GuardFunc func(ctx context.Context, name, argsJSON string) (GuardResult, error)

// Registry manages tools by name
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]tool.InvokableTool
	guard   GuardFunc
	timeout time.Duration
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// SetGuard installs the guard consulted by Execute.
func (r *Registry) SetGuard(guard GuardFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = guard
}

// SetTimeout bounds every tool invocation. Zero disables the bound.
func (r *Registry) SetTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = timeout
}

// Register adds a tool to registry
func (r *Registry) Register(t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolInfos returns tool schemas for model binding, sorted by name.
func (r *Registry) GetToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	names := r.Names()
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Check consults the guard without running the tool.
func (r *Registry) Check(ctx context.Context, name, argsJSON string) (GuardResult, error) {
	if _, ok := r.Get(name); !ok {
		return GuardResult{}, fmt.Errorf("tool not found: %s", name)
	}
	r.mu.RLock()
	guard := r.guard
	r.mu.RUnlock()

	if guard == nil {
		return GuardResult{Action: GuardAllow}, nil
	}
	return guard(ctx, name, argsJSON)
}

// Execute runs a tool after the guard allows it. A call that needs a human
// decision returns *ApprovalRequiredError and does not run.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	res, err := r.Check(ctx, name, argsJSON)
	if err != nil {
		return "", err
	}
	switch res.Action {
	case GuardAllow:
		return r.ExecuteApproved(ctx, name, argsJSON)
	case GuardRequireApproval:
		return "", &ApprovalRequiredError{Tool: name, Message: res.Message}
	case GuardDeny:
		msg := res.Message
		if msg == "" {
			msg = "blocked by policy"
		}
		return "", fmt.Errorf("tool %s denied: %s", name, msg)
	default:
		return "", fmt.Errorf("tool %s: unknown guard action %q", name, res.Action)
	}
}

// ExecuteApproved runs a tool without consulting the guard. It is used for
// calls a human already approved.
func (r *Registry) ExecuteApproved(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := t.InvokableRun(ctx, argsJSON)
	if err != nil {
		return "", &ExecutionError{Tool: name, Err: err}
	}
	return out, nil
}
