package tools

import "fmt"

// ApprovalRequiredError reports a call deferred until a human decides.
type ApprovalRequiredError struct {
	Tool    string
	Message string
}

func (e *ApprovalRequiredError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s requires approval", e.Tool)
	}
	return fmt.Sprintf("tool %s requires approval: %s", e.Tool, e.Message)
}

// ExecutionError wraps a failure raised by a tool or the vendor behind it.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
