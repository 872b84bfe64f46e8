package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWriter_AppendEvent(t *testing.T) {
	workspace := t.TempDir()
	writer := NewWriter(workspace)

	firstTime := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	secondTime := firstTime.Add(5 * time.Second)

	if err := writer.Append(Event{
		Time:           firstTime,
		Type:           TypeAwaitingApproval,
		RequestID:      "req-1",
		ConversationID: "conv-1",
		OwnerID:        "alice",
		Tool:           "send_sms",
		ToolCallID:     "call-1",
	}); err != nil {
		t.Fatalf("Append first event error: %v", err)
	}
	if err := writer.Append(Event{
		Time:           secondTime,
		Type:           TypeApprovalGranted,
		ConversationID: "conv-1",
		Tool:           "send_sms",
		ToolCallID:     "call-1",
	}); err != nil {
		t.Fatalf("Append second event error: %v", err)
	}

	file, err := os.Open(filepath.Join(workspace, "state", "audit.jsonl"))
	if err != nil {
		t.Fatalf("Open audit file error: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan audit file error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line error: %v", err)
	}
	if !first.Time.Equal(firstTime) || first.Type != TypeAwaitingApproval {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.ConversationID != "conv-1" || first.OwnerID != "alice" || first.ToolCallID != "call-1" {
		t.Fatalf("unexpected first event ids: %+v", first)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line error: %v", err)
	}
	if !second.Time.Equal(secondTime) || second.Type != TypeApprovalGranted {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	workspace := t.TempDir()
	statePath := filepath.Join(workspace, "state")
	if err := os.WriteFile(statePath, []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	writer := NewWriter(workspace)
	if err := writer.Append(Event{Type: TypeRunFailed}); err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	workspace := t.TempDir()
	writer := NewWriter(workspace)

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Time:           time.Date(2026, 2, 15, 9, 0, i, 0, time.UTC),
				Type:           TypeToolExecution,
				ConversationID: fmt.Sprintf("conv-%d", i),
				Tool:           "list_tasks",
				Result:         "success",
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	events, err := writer.Recent(0)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != total {
		t.Fatalf("expected %d events, got %d", total, len(events))
	}
}

func TestWriter_RecentKeepsNewest(t *testing.T) {
	writer := NewWriter(t.TempDir())
	for i := 0; i < 5; i++ {
		if err := writer.Append(Event{Type: TypeRunCompleted, ConversationID: fmt.Sprintf("conv-%d", i)}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	events, err := writer.Recent(2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 2 || events[0].ConversationID != "conv-3" || events[1].ConversationID != "conv-4" {
		t.Fatalf("unexpected recent events: %+v", events)
	}
}

func TestWriter_RecentMissingFile(t *testing.T) {
	events, err := NewWriter(t.TempDir()).Recent(10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %v, %v", events, err)
	}
}

func TestWriter_NilDiscards(t *testing.T) {
	var w *Writer
	if err := w.Append(Event{Type: TypeRunCompleted}); err != nil {
		t.Fatalf("nil writer Append error: %v", err)
	}
}
