package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755
)

// Event types written by the runtime.
const (
	TypeRunCompleted     = "run_completed"
	TypeAwaitingApproval = "awaiting_approval"
	TypeApprovalGranted  = "approval_granted"
	TypeApprovalDenied   = "approval_denied"
	TypeRunFailed        = "run_failed"
	TypePersistFailed    = "persist_failed"
	TypePolicyDeny       = "policy_deny"
	TypeToolExecution    = "tool_execution"
	TypeScheduleFired    = "schedule_fired"
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time           time.Time `json:"time"`
	Type           string    `json:"type"`
	RequestID      string    `json:"request_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	Result         string    `json:"result,omitempty"`
}

// Writer appends audit events to <workspace>/state/audit.jsonl.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer rooted at workspace state.
func NewWriter(workspace string) *Writer {
	return &Writer{
		path: filepath.Join(workspace, "state", "audit.jsonl"),
	}
}

// Path returns the audit log location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one event as one JSONL line. A nil writer discards events.
func (w *Writer) Append(event Event) error {
	if w == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest events, oldest first. Lines that
// fail to decode are skipped.
func (w *Writer) Recent(limit int) ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return events, nil
}
